package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/store"
)

// Processor runs the matching engine over an account's unprocessed events
// and persists the outcome in one transaction.
type Processor struct {
	store  store.Store
	engine *Engine
	log    *logger.Logger
}

func NewProcessor(s store.Store, engine *Engine, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{store: s, engine: engine, log: log.With("component", "journey.processor")}
}

// Process matches every event of the account not yet seen by the ideal
// path pass. Any write failure rolls back the whole batch, leaving the
// events unprocessed.
func (p *Processor) Process(ctx context.Context, accountID int64) (Stats, error) {
	var stats Stats
	err := p.store.InTx(ctx, func(tx store.Store) error {
		events, err := tx.UnprocessedEvents(ctx, accountID, models.PassIdealPath)
		if err != nil {
			return fmt.Errorf("load unprocessed events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		journeys, err := tx.ActiveJourneys(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load active journeys: %w", err)
		}
		open, err := tx.OpenInstances(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load open instances: %w", err)
		}

		batch := p.engine.Run(accountID, journeys, open, events)

		for _, inst := range batch.Created {
			if err := tx.CreateInstance(ctx, inst); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return fmt.Errorf("concurrent instance for person and journey %s: %w", inst.JourneyID, err)
				}
				return fmt.Errorf("create instance: %w", err)
			}
		}
		for _, inst := range batch.Updated {
			if err := tx.UpdateInstance(ctx, inst); err != nil {
				return fmt.Errorf("update instance %s: %w", inst.ID, err)
			}
		}
		if err := tx.AppendInteractions(ctx, batch.Interactions); err != nil {
			return fmt.Errorf("append interactions: %w", err)
		}
		if err := tx.MarkProcessed(ctx, models.PassIdealPath, batch.Processed); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		stats = batch.Stats
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	p.log.Info("ideal path pass finished",
		"account_id", accountID,
		"events", stats.Events,
		"started", stats.Started,
		"advanced", stats.Advanced,
		"completed", stats.Completed,
	)
	return stats, nil
}

// FailureEvaluator is the only writer of the FAILED status.
type FailureEvaluator struct {
	store   store.Store
	timeout time.Duration
	now     Clock
	log     *logger.Logger
}

func NewFailureEvaluator(s store.Store, timeout time.Duration, now Clock, log *logger.Logger) *FailureEvaluator {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FailureEvaluator{store: s, timeout: timeout, now: now, log: log.With("component", "journey.failures")}
}

// Sweep fails IN_PROGRESS instances idle for longer than the timeout.
// accountID 0 sweeps every account. Already failed instances are never
// touched again, so repeated sweeps are no-ops.
func (f *FailureEvaluator) Sweep(ctx context.Context, accountID int64) (int64, error) {
	cutoff := f.now().Add(-f.timeout)
	n, err := f.store.FailStaleInstances(ctx, accountID, cutoff, models.FailureTimeout)
	if err != nil {
		return 0, fmt.Errorf("fail stale instances: %w", err)
	}
	if n > 0 {
		f.log.Info("marked stale journeys failed", "account_id", accountID, "count", n, "cutoff", cutoff)
	}
	return n, nil
}
