package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/eitanko/Suggesty-backend/models"
)

// CreateAccount inserts an account. The API key must be unique.
func (s *PostgresStore) CreateAccount(ctx context.Context, name, apiKey string) (*models.Account, error) {
	account := &models.Account{Name: name, APIKey: apiKey}
	query := `
		INSERT INTO accounts (name, api_key)
		VALUES ($1, $2)
		RETURNING id, created_at;
	`
	err := s.q.QueryRowContext(ctx, query, name, apiKey).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", mapErr(err))
	}
	s.log.Info("account created", "account_id", account.ID)
	return account, nil
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, api_key, created_at FROM accounts ORDER BY id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.APIKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	a := &models.Account{}
	query := `
		SELECT id, name, api_key, created_at
		FROM accounts
		WHERE api_key = $1;
	`
	err := s.q.QueryRowContext(ctx, query, apiKey).Scan(&a.ID, &a.Name, &a.APIKey, &a.CreatedAt)
	if err != nil {
		if errors.Is(mapErr(err), ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by api key: %w", err)
	}
	return a, nil
}

// CreateUser inserts a new admin user for accountID.
func (s *PostgresStore) CreateUser(ctx context.Context, accountID int64, email string, hashedPassword []byte) (*models.User, error) {
	user := &models.User{AccountID: accountID, Email: email}
	query := `
		INSERT INTO users (account_id, email, hashed_password)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at;
	`
	err := s.q.QueryRowContext(ctx, query, accountID, email, hashedPassword).Scan(
		&user.ID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		mapped := mapErr(err)
		if errors.Is(mapped, ErrDuplicate) {
			return nil, fmt.Errorf("user with email '%s': %w", email, ErrDuplicate)
		}
		if errors.Is(mapped, ErrNotFound) {
			return nil, fmt.Errorf("account %d: %w", accountID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("user created", "user_id", user.ID, "account_id", accountID)
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, account_id, email, hashed_password, created_at, updated_at
		FROM users
		WHERE email = $1;
	`
	err := s.q.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.AccountID,
		&user.Email,
		&user.HashedPassword,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(mapErr(err), ErrNotFound) {
			return nil, fmt.Errorf("user with email '%s': %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}
