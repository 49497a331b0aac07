package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store on the schema in database/schema.sql.
type PostgresStore struct {
	db  *sql.DB
	q   dbtx
	tx  bool
	log *logger.Logger
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB, log *logger.Logger) *PostgresStore {
	if log == nil {
		log = logger.Nop()
	}
	return &PostgresStore{db: db, q: db, log: log.With("component", "store")}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx {
		return fn(s)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &PostgresStore{db: s.db, q: sqlTx, tx: true, log: s.log}
	if err := fn(txStore); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mapErr translates driver errors into the package sentinels.
func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

const rawEventColumns = `id, account_id, distinct_id, session_id, event, event_type, pathname,
	current_url, elements_chain, selector, timestamp, processed_ideal_path, processed_friction,
	processed_page_usage, processed_event_usage, processed_form_usage`

func (s *PostgresStore) InsertRawEvent(ctx context.Context, ev *models.RawEvent) error {
	query := `
		INSERT INTO raw_events (account_id, distinct_id, session_id, event, event_type, pathname,
			current_url, elements_chain, selector, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id;
	`
	err := s.q.QueryRowContext(ctx, query,
		ev.AccountID, ev.DistinctID, ev.SessionID, ev.Event, ev.EventType, ev.Pathname,
		ev.CurrentURL, ev.ElementsChain, ev.Selector, ev.Timestamp,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("failed to insert raw event: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStore) DistinctUsers(ctx context.Context, accountID int64) (int, error) {
	query := `
		SELECT COUNT(DISTINCT distinct_id)
		FROM raw_events
		WHERE account_id = $1 AND distinct_id <> '';
	`
	var n int
	if err := s.q.QueryRowContext(ctx, query, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count distinct users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UnprocessedEvents(ctx context.Context, accountID int64, pass models.Pass) ([]models.RawEvent, error) {
	if !pass.Valid() {
		return nil, fmt.Errorf("unknown pass %q", pass)
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM raw_events
		WHERE account_id = $1 AND NOT %s
		ORDER BY timestamp ASC, id ASC;
	`, rawEventColumns, pass.Column())

	rows, err := s.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed %s events: %w", pass, err)
	}
	defer rows.Close()

	var out []models.RawEvent
	for rows.Next() {
		var ev models.RawEvent
		if err := rows.Scan(
			&ev.ID, &ev.AccountID, &ev.DistinctID, &ev.SessionID, &ev.Event, &ev.EventType, &ev.Pathname,
			&ev.CurrentURL, &ev.ElementsChain, &ev.Selector, &ev.Timestamp, &ev.ProcessedIdealPath,
			&ev.ProcessedFriction, &ev.ProcessedPageUsage, &ev.ProcessedEventUsage, &ev.ProcessedFormUsage,
		); err != nil {
			return nil, fmt.Errorf("scan raw event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, pass models.Pass, ids []int64) error {
	if !pass.Valid() {
		return fmt.Errorf("unknown pass %q", pass)
	}
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE raw_events SET %s = TRUE WHERE id = ANY($1);`, pass.Column())
	if _, err := s.q.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", pass, err)
	}
	return nil
}

func (s *PostgresStore) SaveJourney(ctx context.Context, j *models.Journey) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	steps, err := json.Marshal(j.Steps)
	if err != nil {
		return fmt.Errorf("encode ideal path: %w", err)
	}
	query := `
		INSERT INTO journeys (id, account_id, name, status, ideal_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, status = EXCLUDED.status, ideal_path = EXCLUDED.ideal_path;
	`
	if _, err := s.q.ExecContext(ctx, query, j.ID, j.AccountID, j.Name, string(j.Status), steps, j.CreatedAt); err != nil {
		return fmt.Errorf("failed to save journey %s: %w", j.ID, mapErr(err))
	}
	return nil
}

func (s *PostgresStore) ActiveJourneys(ctx context.Context, accountID int64) ([]models.Journey, error) {
	query := `
		SELECT id, account_id, name, status, ideal_path, created_at
		FROM journeys
		WHERE account_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at ASC;
	`
	rows, err := s.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active journeys: %w", err)
	}
	defer rows.Close()

	var out []models.Journey
	for rows.Next() {
		var (
			j      models.Journey
			status string
			raw    []byte
		)
		if err := rows.Scan(&j.ID, &j.AccountID, &j.Name, &status, &raw, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journey: %w", err)
		}
		if err := json.Unmarshal(raw, &j.Steps); err != nil {
			s.log.Warn("skipping journey with unreadable ideal path", "journey_id", j.ID, "error", err)
			continue
		}
		j.Status = models.JourneyStatus(status)
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journeys: %w", err)
	}
	return out, nil
}

const instanceColumns = `id, account_id, journey_id, person_id, session_id, status, completion_type,
	current_step, total_steps, extraneous, failure_reason, start_time, end_time`

func (s *PostgresStore) CreateInstance(ctx context.Context, inst *models.JourneyInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	query := `
		INSERT INTO journey_instances (` + instanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
	`
	_, err := s.q.ExecContext(ctx, query,
		inst.ID, inst.AccountID, inst.JourneyID, inst.PersonID, inst.SessionID, string(inst.Status),
		string(inst.CompletionType), inst.CurrentStep, inst.TotalSteps, inst.Extraneous,
		inst.FailureReason, inst.StartTime, inst.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to create instance %s: %w", inst.ID, mapErr(err))
	}
	return nil
}

func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *models.JourneyInstance) error {
	query := `
		UPDATE journey_instances
		SET status = $2, completion_type = $3, current_step = $4, extraneous = $5,
			failure_reason = $6, session_id = $7, end_time = $8
		WHERE id = $1;
	`
	res, err := s.q.ExecContext(ctx, query,
		inst.ID, string(inst.Status), string(inst.CompletionType), inst.CurrentStep,
		inst.Extraneous, inst.FailureReason, inst.SessionID, inst.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", inst.ID, mapErr(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("instance %s: %w", inst.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) queryInstances(ctx context.Context, where string, args ...any) ([]models.JourneyInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM journey_instances WHERE ` + where + ` ORDER BY start_time ASC, id ASC;`
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var out []models.JourneyInstance
	for rows.Next() {
		var (
			inst             models.JourneyInstance
			status, complete string
		)
		if err := rows.Scan(
			&inst.ID, &inst.AccountID, &inst.JourneyID, &inst.PersonID, &inst.SessionID, &status,
			&complete, &inst.CurrentStep, &inst.TotalSteps, &inst.Extraneous, &inst.FailureReason,
			&inst.StartTime, &inst.EndTime,
		); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		inst.Status = models.InstanceStatus(status)
		inst.CompletionType = models.CompletionType(complete)
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) OpenInstances(ctx context.Context, accountID int64) ([]models.JourneyInstance, error) {
	return s.queryInstances(ctx, `account_id = $1 AND status = 'IN_PROGRESS'`, accountID)
}

func (s *PostgresStore) InstancesByJourney(ctx context.Context, accountID int64, journeyID string) ([]models.JourneyInstance, error) {
	return s.queryInstances(ctx, `account_id = $1 AND journey_id = $2`, accountID, journeyID)
}

func (s *PostgresStore) FailStaleInstances(ctx context.Context, accountID int64, cutoff time.Time, reason string) (int64, error) {
	query := `
		UPDATE journey_instances
		SET status = 'FAILED', failure_reason = $1
		WHERE status = 'IN_PROGRESS' AND end_time < $2 AND ($3::bigint = 0 OR account_id = $3::bigint);
	`
	res, err := s.q.ExecContext(ctx, query, reason, cutoff, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale instances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) AppendInteractions(ctx context.Context, events []models.InteractionEvent) error {
	query := `
		INSERT INTO interaction_events (id, instance_id, account_id, raw_event_id, session_id, event_type,
			url, elements_chain, selector, is_match, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		_, err := s.q.ExecContext(ctx, query,
			ev.ID, ev.InstanceID, ev.AccountID, ev.RawEventID, ev.SessionID, ev.EventType,
			ev.URL, ev.ElementsChain, ev.Selector, ev.IsMatch, ev.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("interaction for instance %s: %w", ev.InstanceID, mapErr(err))
		}
	}
	return nil
}

func (s *PostgresStore) InteractionsByJourney(ctx context.Context, accountID int64, journeyID string) (map[string][]models.InteractionEvent, error) {
	query := `
		SELECT e.id, e.instance_id, e.account_id, e.raw_event_id, e.session_id, e.event_type,
			e.url, e.elements_chain, e.selector, e.is_match, e.timestamp
		FROM interaction_events e
		JOIN journey_instances i ON i.id = e.instance_id
		WHERE i.account_id = $1 AND i.journey_id = $2
		ORDER BY e.instance_id, e.timestamp ASC;
	`
	rows, err := s.q.QueryContext(ctx, query, accountID, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	out := map[string][]models.InteractionEvent{}
	for rows.Next() {
		var ev models.InteractionEvent
		if err := rows.Scan(
			&ev.ID, &ev.InstanceID, &ev.AccountID, &ev.RawEventID, &ev.SessionID, &ev.EventType,
			&ev.URL, &ev.ElementsChain, &ev.Selector, &ev.IsMatch, &ev.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out[ev.InstanceID] = append(out[ev.InstanceID], ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interactions: %w", err)
	}
	return out, nil
}
