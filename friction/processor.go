package friction

import (
	"context"
	"fmt"
	"time"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/store"
)

// NavigationProcessor runs navigation friction detection over the events
// the friction pass has not seen yet. Rows are account wide and accumulate
// across runs; the rate denominator is every person the account has seen.
type NavigationProcessor struct {
	store  store.Store
	bounce time.Duration
	stall  time.Duration
	log    *logger.Logger
}

func NewNavigationProcessor(s store.Store, bounce, stall time.Duration, log *logger.Logger) *NavigationProcessor {
	if log == nil {
		log = logger.Nop()
	}
	return &NavigationProcessor{store: s, bounce: bounce, stall: stall, log: log.With("component", "friction.navigation")}
}

// Process returns the number of friction rows written.
func (p *NavigationProcessor) Process(ctx context.Context, accountID int64) (int, error) {
	var written int
	err := p.store.InTx(ctx, func(tx store.Store) error {
		events, err := tx.UnprocessedEvents(ctx, accountID, models.PassFriction)
		if err != nil {
			return fmt.Errorf("load unprocessed events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		users, err := tx.DistinctUsers(ctx, accountID)
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}

		navs := DetectNavigation(events, p.bounce, p.stall)
		c := NewCollector(accountID, "", users)
		c.AddNavigation(navs)
		records := c.Records()

		if len(records) > 0 {
			if err := tx.AccumulateFriction(ctx, records); err != nil {
				return fmt.Errorf("accumulate navigation friction: %w", err)
			}
		}
		if err := tx.MarkProcessed(ctx, models.PassFriction, ids); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		written = len(records)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if written > 0 {
		p.log.Info("navigation friction recorded", "account_id", accountID, "rows", written)
	}
	return written, nil
}
