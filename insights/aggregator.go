package insights

import (
	"context"
	"fmt"
	"time"

	"github.com/eitanko/Suggesty-backend/config"
	"github.com/eitanko/Suggesty-backend/friction"
	"github.com/eitanko/Suggesty-backend/journey"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/store"
)

// Summary reports what one aggregation run wrote.
type Summary struct {
	Journeys     int `json:"journeys"`
	FrictionRows int `json:"frictionRows"`
}

// Aggregator recomputes analytics and journey friction for every active
// journey of an account. Rows are overwritten on their natural key, so
// repeated runs over the same instances converge.
type Aggregator struct {
	store  store.Store
	tuning config.Tuning
	now    func() time.Time
	log    *logger.Logger
}

func NewAggregator(s store.Store, tuning config.Tuning, now func() time.Time, log *logger.Logger) *Aggregator {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Aggregator{store: s, tuning: tuning, now: now, log: log.With("component", "insights.aggregator")}
}

func (a *Aggregator) Run(ctx context.Context, accountID int64) (Summary, error) {
	var sum Summary
	err := a.store.InTx(ctx, func(tx store.Store) error {
		sum = Summary{}
		journeys, err := tx.ActiveJourneys(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load active journeys: %w", err)
		}
		for _, j := range journeys {
			steps, err := journey.IdealPath(j)
			if err != nil {
				a.log.Warn("skipping journey", "journey_id", j.ID, "error", err)
				continue
			}
			instances, err := tx.InstancesByJourney(ctx, accountID, j.ID)
			if err != nil {
				return fmt.Errorf("load instances of %s: %w", j.ID, err)
			}
			if len(instances) == 0 {
				continue
			}
			interactions, err := tx.InteractionsByJourney(ctx, accountID, j.ID)
			if err != nil {
				return fmt.Errorf("load interactions of %s: %w", j.ID, err)
			}

			analytics, records := a.Analyze(accountID, j.ID, steps, instances, interactions)
			if len(records) > 0 {
				if err := tx.UpsertFriction(ctx, records); err != nil {
					return fmt.Errorf("upsert friction of %s: %w", j.ID, err)
				}
			}
			if err := tx.UpsertAnalytics(ctx, analytics); err != nil {
				return fmt.Errorf("upsert analytics of %s: %w", j.ID, err)
			}
			sum.Journeys++
			sum.FrictionRows += len(records)
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	a.log.Info("journey analytics updated", "account_id", accountID, "journeys", sum.Journeys, "friction_rows", sum.FrictionRows)
	return sum, nil
}

// Analyze computes one journey's analytics row and friction records.
// steps must come from journey.IdealPath.
func (a *Aggregator) Analyze(accountID int64, journeyID string, steps []models.Step, instances []models.JourneyInstance, interactions map[string][]models.InteractionEvent) (*models.JourneyAnalytics, []models.FrictionRecord) {
	completion := CompletionOf(instances)
	c := friction.NewCollector(accountID, journeyID, len(instances))
	affected := map[string]bool{}

	for _, inst := range instances {
		repeats := friction.DetectRepeated(interactions[inst.ID], 0, a.tuning.RepeatThreshold)
		c.AddRepeats(repeats)
		if len(repeats) > 0 {
			affected[inst.ID] = true
		}
	}

	dist, drops := friction.DropOffs(instances, steps, interactions, a.tuning.RepeatThreshold, a.tuning.RepeatWindowBefore)
	c.AddDropOffs(drops)
	for _, d := range drops {
		affected[d.InstanceID] = true
	}

	var direct [][]models.InteractionEvent
	for _, inst := range instances {
		if inst.Status == models.StatusCompleted && inst.CompletionType == models.CompletionDirect {
			direct = append(direct, interactions[inst.ID])
		}
	}
	funnel, delayed := Steps(steps, direct, a.tuning.DelayMultiplier, RateTables{
		Repeated: c.Rates(models.FrictionRepeated),
		DropOff:  c.Rates(models.FrictionDropOff),
	})
	for _, d := range delayed {
		c.Add(models.FrictionEventDelay, d.URL, d.Element, models.FrictionDelay)
		affected[d.InstanceID] = true
	}

	analytics := &models.JourneyAnalytics{
		AccountID:           accountID,
		JourneyID:           journeyID,
		TotalUsers:          completion.Total,
		TotalCompleted:      completion.Completed,
		TotalFailed:         completion.Failed,
		TotalInProgress:     completion.InProgress,
		CompletionRate:      completion.Rate,
		IndirectRate:        completion.IndirectRate,
		MedianCompletionMs:  completion.MedianMs,
		DropOffDistribution: dist,
		FrictionScore:       models.Rate(len(affected), completion.Total),
		FrequentAltPaths:    FrequentAltPaths(instances, steps, interactions),
		StepInsights:        funnel,
		UpdatedAt:           a.now().UTC(),
	}
	return analytics, c.Records()
}
