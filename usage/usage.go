// Package usage runs the page, event and form usage passes. Each pass owns
// one processed flag on raw events and can run independently of the
// others.
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/selector"
	"github.com/eitanko/Suggesty-backend/store"
)

type Processor struct {
	store    store.Store
	dwellCap time.Duration
	log      *logger.Logger
}

func NewProcessor(s store.Store, dwellCap time.Duration, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{store: s, dwellCap: dwellCap, log: log.With("component", "usage")}
}

// pass loads the account's unprocessed events for p, hands them to fn and
// flags them, all in one transaction.
func (p *Processor) pass(ctx context.Context, accountID int64, pass models.Pass, fn func(tx store.Store, events []models.RawEvent) error) (int, error) {
	var n int
	err := p.store.InTx(ctx, func(tx store.Store) error {
		events, err := tx.UnprocessedEvents(ctx, accountID, pass)
		if err != nil {
			return fmt.Errorf("load unprocessed events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		if err := fn(tx, events); err != nil {
			return err
		}
		ids := make([]int64, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if err := tx.MarkProcessed(ctx, pass, ids); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		n = len(events)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s pass: %w", pass, err)
	}
	if n > 0 {
		p.log.Debug("usage pass finished", "pass", string(pass), "account_id", accountID, "events", n)
	}
	return n, nil
}

// Pages folds dwell times into the account's running page averages.
func (p *Processor) Pages(ctx context.Context, accountID int64) (int, error) {
	return p.pass(ctx, accountID, models.PassPageUsage, func(tx store.Store, events []models.RawEvent) error {
		fresh := PageDwell(accountID, events, p.dwellCap)
		if len(fresh) == 0 {
			return nil
		}
		existing, err := tx.PageUsage(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load page usage: %w", err)
		}
		if err := tx.UpsertPageUsage(ctx, MergePageUsage(existing, fresh)); err != nil {
			return fmt.Errorf("upsert page usage: %w", err)
		}
		return nil
	})
}

// Events counts interactions per page, event type and element.
func (p *Processor) Events(ctx context.Context, accountID int64) (int, error) {
	return p.pass(ctx, accountID, models.PassEventUsage, func(tx store.Store, events []models.RawEvent) error {
		rows := CountEvents(accountID, events)
		if len(rows) == 0 {
			return nil
		}
		if err := tx.IncrementEventUsage(ctx, rows); err != nil {
			return fmt.Errorf("increment event usage: %w", err)
		}
		return nil
	})
}

// PageDwell measures time spent per pathname. Within a user's session each
// event lasts until the next one, capped; the session's last event counts
// zero. The result averages per-user totals and counts users as visits.
func PageDwell(accountID int64, events []models.RawEvent, capAt time.Duration) []models.PageUsage {
	type visitKey struct{ person, session string }
	type userPath struct{ person, path string }

	sessions := map[visitKey][]models.RawEvent{}
	for _, e := range events {
		if e.Pathname == "" {
			continue
		}
		k := visitKey{e.DistinctID, e.SessionID}
		sessions[k] = append(sessions[k], e)
	}

	spent := map[userPath]float64{}
	for _, evts := range sessions {
		sort.SliceStable(evts, func(a, b int) bool { return evts[a].Timestamp.Before(evts[b].Timestamp) })
		for i, e := range evts {
			var d time.Duration
			if i+1 < len(evts) {
				d = evts[i+1].Timestamp.Sub(e.Timestamp)
				if d > capAt {
					d = capAt
				}
				if d < 0 {
					d = 0
				}
			}
			spent[userPath{e.DistinctID, e.Pathname}] += d.Seconds()
		}
	}

	type agg struct {
		sum   float64
		users int
	}
	byPath := map[string]*agg{}
	for k, secs := range spent {
		a, ok := byPath[k.path]
		if !ok {
			a = &agg{}
			byPath[k.path] = a
		}
		a.sum += secs
		a.users++
	}

	out := make([]models.PageUsage, 0, len(byPath))
	for path, a := range byPath {
		out = append(out, models.PageUsage{
			AccountID:      accountID,
			Pathname:       path,
			AvgTimeSeconds: a.sum / float64(a.users),
			TotalVisits:    a.users,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Pathname < out[b].Pathname })
	return out
}

// MergePageUsage combines stored rows with a batch's rows as a visit
// weighted average.
func MergePageUsage(existing, fresh []models.PageUsage) []models.PageUsage {
	old := make(map[string]models.PageUsage, len(existing))
	for _, r := range existing {
		old[r.Pathname] = r
	}
	out := make([]models.PageUsage, 0, len(fresh))
	for _, r := range fresh {
		if prev, ok := old[r.Pathname]; ok && prev.TotalVisits > 0 {
			total := prev.TotalVisits + r.TotalVisits
			r.AvgTimeSeconds = (prev.AvgTimeSeconds*float64(prev.TotalVisits) + r.AvgTimeSeconds*float64(r.TotalVisits)) / float64(total)
			r.TotalVisits = total
		}
		out = append(out, r)
	}
	return out
}

// CountEvents groups a batch by page, event type and derived selector.
// Events missing any of those are skipped.
func CountEvents(accountID int64, events []models.RawEvent) []models.EventUsage {
	counts := map[models.EventUsageKey]*models.EventUsage{}
	var order []models.EventUsageKey
	for _, e := range events {
		if e.Pathname == "" || e.EventType == "" || e.ElementsChain == "" {
			continue
		}
		sel := e.Selector
		if sel == "" {
			sel = selector.XPath(e.ElementsChain)
		}
		k := models.EventUsageKey{AccountID: accountID, Pathname: e.Pathname, EventType: e.EventType, Selector: sel}
		row, ok := counts[k]
		if !ok {
			row = &models.EventUsage{EventUsageKey: k, ElementsChain: e.ElementsChain}
			counts[k] = row
			order = append(order, k)
		}
		row.Count++
	}
	out := make([]models.EventUsage, 0, len(order))
	for _, k := range order {
		out = append(out, *counts[k])
	}
	return out
}
