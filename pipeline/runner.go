// Package pipeline runs every batch pass for a set of accounts: journey
// matching, failure sweeps, friction, usage, analytics and narration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eitanko/Suggesty-backend/config"
	"github.com/eitanko/Suggesty-backend/friction"
	"github.com/eitanko/Suggesty-backend/insights"
	"github.com/eitanko/Suggesty-backend/journey"
	"github.com/eitanko/Suggesty-backend/lock"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/narration"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/usage"
)

// AccountReport is the outcome of one account's run.
type AccountReport struct {
	AccountID      int64            `json:"accountId"`
	Journeys       journey.Stats    `json:"journeys"`
	Failed         int64            `json:"failedInstances"`
	NavigationRows int              `json:"navigationRows"`
	PageEvents     int              `json:"pageEvents"`
	UsageEvents    int              `json:"usageEvents"`
	FormEvents     int              `json:"formEvents"`
	Analytics      insights.Summary `json:"analytics"`
	InsightID      string           `json:"insightId,omitempty"`
	NarrationError string           `json:"narrationError,omitempty"`
	Error          string           `json:"error,omitempty"`
}

type Report struct {
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Accounts []AccountReport `json:"accounts"`
}

// FailedAccounts lists accounts whose run stopped on an error.
func (r *Report) FailedAccounts() []int64 {
	var out []int64
	for _, a := range r.Accounts {
		if a.Error != "" {
			out = append(out, a.AccountID)
		}
	}
	return out
}

type Options struct {
	Locker   lock.Locker
	Reporter *narration.Reporter
	Now      func() time.Time
	Log      *logger.Logger
}

type Runner struct {
	store    store.Store
	tuning   config.Tuning
	locker   lock.Locker
	reporter *narration.Reporter
	now      func() time.Time
	log      *logger.Logger

	journeys   *journey.Processor
	failures   *journey.FailureEvaluator
	navigation *friction.NavigationProcessor
	usage      *usage.Processor
	aggregator *insights.Aggregator
}

func NewRunner(s store.Store, tuning config.Tuning, opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	log := opts.Log
	return &Runner{
		store:      s,
		tuning:     tuning,
		locker:     opts.Locker,
		reporter:   opts.Reporter,
		now:        opts.Now,
		log:        log.With("component", "pipeline"),
		journeys:   journey.NewProcessor(s, journey.NewEngine(tuning.UnmatchedPolicy, log), log),
		failures:   journey.NewFailureEvaluator(s, tuning.FailureTimeout, opts.Now, log),
		navigation: friction.NewNavigationProcessor(s, tuning.BounceThreshold, tuning.StallThreshold, log),
		usage:      usage.NewProcessor(s, tuning.PageDwellCap, log),
		aggregator: insights.NewAggregator(s, tuning, opts.Now, log),
	}
}

// Run processes the given accounts, or every account when ids is empty,
// with at most Tuning.Concurrency accounts in flight. A failing account
// is recorded in the report and does not stop the others.
func (r *Runner) Run(ctx context.Context, ids []int64) (*Report, error) {
	rep := &Report{Started: r.now().UTC()}
	if len(ids) == 0 {
		accounts, err := r.store.Accounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		for _, a := range accounts {
			ids = append(ids, a.ID)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	limit := r.tuning.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ar, err := r.RunAccount(gctx, id)
			if err != nil {
				ar.Error = err.Error()
				r.log.Error("account run failed", "account_id", id, "error", err)
			}
			mu.Lock()
			rep.Accounts = append(rep.Accounts, ar)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(rep.Accounts, func(a, b int) bool { return rep.Accounts[a].AccountID < rep.Accounts[b].AccountID })
	rep.Finished = r.now().UTC()
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	return rep, nil
}

// RunAccount runs every pass for one account under its lock.
func (r *Runner) RunAccount(ctx context.Context, accountID int64) (AccountReport, error) {
	ar := AccountReport{AccountID: accountID}
	release, err := r.locker.Acquire(ctx, accountID, r.tuning.LockTTL)
	if err != nil {
		return ar, err
	}
	defer release()

	if ar.Journeys, err = r.journeys.Process(ctx, accountID); err != nil {
		return ar, fmt.Errorf("ideal path: %w", err)
	}
	if ar.Failed, err = r.failures.Sweep(ctx, accountID); err != nil {
		return ar, fmt.Errorf("failure sweep: %w", err)
	}
	if ar.NavigationRows, err = r.navigation.Process(ctx, accountID); err != nil {
		return ar, fmt.Errorf("navigation friction: %w", err)
	}
	if ar.PageEvents, err = r.usage.Pages(ctx, accountID); err != nil {
		return ar, err
	}
	if ar.UsageEvents, err = r.usage.Events(ctx, accountID); err != nil {
		return ar, err
	}
	if ar.FormEvents, err = r.usage.Forms(ctx, accountID); err != nil {
		return ar, err
	}
	if ar.Analytics, err = r.aggregator.Run(ctx, accountID); err != nil {
		return ar, fmt.Errorf("analytics: %w", err)
	}

	if r.tuning.Narrate && r.reporter != nil {
		in, err := r.reporter.Generate(ctx, accountID)
		if in != nil {
			ar.InsightID = in.ID
		}
		switch {
		case errors.Is(err, narration.ErrUnavailable):
			ar.NarrationError = err.Error()
		case err != nil:
			return ar, fmt.Errorf("narration: %w", err)
		}
	}
	return ar, nil
}

// FailStale sweeps stale instances outside a full run. accountID 0 sweeps
// every account.
func (r *Runner) FailStale(ctx context.Context, accountID int64) (int64, error) {
	return r.failures.Sweep(ctx, accountID)
}

// Reset clears the account's derived rows for passes under the account
// lock, so a concurrent run cannot interleave with the deletes.
func (r *Runner) Reset(ctx context.Context, accountID int64, passes []models.Pass) error {
	if len(passes) == 0 {
		passes = models.AllPasses
	}
	release, err := r.locker.Acquire(ctx, accountID, r.tuning.LockTTL)
	if err != nil {
		return err
	}
	defer release()
	if err := r.store.Reset(ctx, accountID, passes); err != nil {
		return fmt.Errorf("reset account %d: %w", accountID, err)
	}
	r.log.Info("account reset", "account_id", accountID, "passes", passes)
	return nil
}
