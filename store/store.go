// Package store persists raw events, journeys and everything derived from
// them. PostgresStore is the production implementation; MemoryStore backs
// tests and local runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/eitanko/Suggesty-backend/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Store is the persistence boundary of the batch passes and the API.
type Store interface {
	// InTx runs fn against a transactional view of the store. Writes made
	// through tx are committed when fn returns nil and discarded otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error

	CreateAccount(ctx context.Context, name, apiKey string) (*models.Account, error)
	Accounts(ctx context.Context) ([]models.Account, error)
	AccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error)

	CreateUser(ctx context.Context, accountID int64, email string, hashedPassword []byte) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	InsertRawEvent(ctx context.Context, ev *models.RawEvent) error
	// UnprocessedEvents returns the account's events whose flag for pass is
	// unset, oldest first.
	UnprocessedEvents(ctx context.Context, accountID int64, pass models.Pass) ([]models.RawEvent, error)
	MarkProcessed(ctx context.Context, pass models.Pass, ids []int64) error
	// DistinctUsers counts the account's distinct non-empty person ids over
	// every raw event, processed or not.
	DistinctUsers(ctx context.Context, accountID int64) (int, error)

	SaveJourney(ctx context.Context, j *models.Journey) error
	// ActiveJourneys returns ACTIVE journeys, oldest first. Rows whose
	// steps cannot be decoded are logged and left out.
	ActiveJourneys(ctx context.Context, accountID int64) ([]models.Journey, error)

	CreateInstance(ctx context.Context, inst *models.JourneyInstance) error
	UpdateInstance(ctx context.Context, inst *models.JourneyInstance) error
	OpenInstances(ctx context.Context, accountID int64) ([]models.JourneyInstance, error)
	InstancesByJourney(ctx context.Context, accountID int64, journeyID string) ([]models.JourneyInstance, error)
	// FailStaleInstances moves IN_PROGRESS instances whose last activity is
	// before cutoff to FAILED. accountID 0 means every account.
	FailStaleInstances(ctx context.Context, accountID int64, cutoff time.Time, reason string) (int64, error)

	AppendInteractions(ctx context.Context, events []models.InteractionEvent) error
	// InteractionsByJourney groups a journey's interactions by instance,
	// each group ordered by timestamp.
	InteractionsByJourney(ctx context.Context, accountID int64, journeyID string) (map[string][]models.InteractionEvent, error)

	// UpsertFriction overwrites volume, users and rate on key collision.
	UpsertFriction(ctx context.Context, records []models.FrictionRecord) error
	// AccumulateFriction adds volume on key collision, keeps the larger
	// user count and recomputes the rate. Callers pass account-wide user
	// counts so a person seen in several batches is counted once.
	AccumulateFriction(ctx context.Context, records []models.FrictionRecord) error
	Friction(ctx context.Context, accountID int64) ([]models.FrictionRecord, error)

	UpsertAnalytics(ctx context.Context, a *models.JourneyAnalytics) error
	Analytics(ctx context.Context, accountID int64) ([]models.JourneyAnalytics, error)

	PageUsage(ctx context.Context, accountID int64) ([]models.PageUsage, error)
	UpsertPageUsage(ctx context.Context, rows []models.PageUsage) error
	IncrementEventUsage(ctx context.Context, rows []models.EventUsage) error
	TopEventUsage(ctx context.Context, accountID int64, eventType string, limit int) ([]models.EventUsage, error)
	FindFormUsage(ctx context.Context, accountID int64, sessionID, pathname, formHash string) (*models.FormUsage, error)
	SaveFormUsage(ctx context.Context, f *models.FormUsage) error

	CreateInsight(ctx context.Context, in *models.Insight) error
	UpdateInsightHTML(ctx context.Context, id, html string) error
	LatestInsight(ctx context.Context, accountID int64) (*models.Insight, error)

	// Reset clears the account's flags for passes and deletes the rows
	// those passes derived, so the next run starts from scratch.
	Reset(ctx context.Context, accountID int64, passes []models.Pass) error
}
