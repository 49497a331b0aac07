// Package narration condenses an account's analytics into a summary and
// asks a language model to turn it into a readable HTML report.
package narration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/store"
)

// ErrUnavailable is returned when the narrator cannot produce a report.
// The summary row is kept and analytics are unaffected.
var ErrUnavailable = errors.New("narration unavailable")

// Narrator turns a JSON summary into HTML.
type Narrator interface {
	Narrate(ctx context.Context, summaryJSON string) (string, error)
}

// Reporter persists summaries and their narrated HTML.
type Reporter struct {
	store    store.Store
	narrator Narrator
	now      func() time.Time
	log      *logger.Logger
}

func NewReporter(s store.Store, n Narrator, now func() time.Time, log *logger.Logger) *Reporter {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Reporter{store: s, narrator: n, now: now, log: log.With("component", "narration")}
}

// Generate builds and stores the account's summary, then narrates it. On a
// narrator failure the stored insight is returned together with an error
// wrapping ErrUnavailable.
func (r *Reporter) Generate(ctx context.Context, accountID int64) (*models.Insight, error) {
	sum, err := BuildSummary(ctx, r.store, accountID, r.now())
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}

	now := r.now().UTC()
	in := &models.Insight{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Summary:   string(raw),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateInsight(ctx, in); err != nil {
		return nil, fmt.Errorf("create insight: %w", err)
	}

	if r.narrator == nil {
		return in, fmt.Errorf("no narrator configured: %w", ErrUnavailable)
	}
	html, err := r.narrator.Narrate(ctx, in.Summary)
	if err != nil {
		r.log.Warn("narration failed", "account_id", accountID, "error", err)
		if errors.Is(err, ErrUnavailable) {
			return in, err
		}
		return in, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.store.UpdateInsightHTML(ctx, in.ID, html); err != nil {
		return in, fmt.Errorf("store narrated insight: %w", err)
	}
	in.HTML = html
	return in, nil
}
