// Package journey matches raw interaction events against ideal paths and
// drives journey instances through IN_PROGRESS, COMPLETED and FAILED.
package journey

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/eitanko/Suggesty-backend/config"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/selector"
	"github.com/eitanko/Suggesty-backend/urlpattern"
)

// Stats summarises one matching pass.
type Stats struct {
	Events    int `json:"events"`
	Skipped   int `json:"skipped"`
	Started   int `json:"started"`
	Advanced  int `json:"advanced"`
	SkipAhead int `json:"skipAhead"`
	Unmatched int `json:"unmatched"`
	Completed int `json:"completed"`
}

// Batch is everything a matching pass wants persisted. Instances in
// Created are new; Updated holds existing instances that changed.
type Batch struct {
	Created      []*models.JourneyInstance
	Updated      []*models.JourneyInstance
	Interactions []models.InteractionEvent
	Processed    []int64
	Stats        Stats
}

// Engine is the pure matching state machine. It holds no state between
// runs; everything it decides comes from the instances handed to Run.
type Engine struct {
	policy config.UnmatchedPolicy
	log    *logger.Logger
	newID  func() string
}

func NewEngine(policy config.UnmatchedPolicy, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	if policy == "" {
		policy = config.UnmatchedAttribute
	}
	return &Engine{
		policy: policy,
		log:    log.With("component", "journey.engine"),
		newID:  func() string { return uuid.NewString() },
	}
}

// template is a journey whose steps passed validation, in ordinal order.
type template struct {
	journey models.Journey
	steps   []models.Step
}

// run carries the mutable state of a single Run call.
type run struct {
	e         *Engine
	accountID int64
	templates []template
	byID      map[string]*template
	open      map[string][]*models.JourneyInstance
	created   map[string]bool
	touched   []*models.JourneyInstance
	seen      map[string]bool
	batch     Batch
}

// Run applies events, which must be sorted by timestamp, to the open
// instances of one account and returns the resulting mutations.
func (e *Engine) Run(accountID int64, journeys []models.Journey, open []models.JourneyInstance, events []models.RawEvent) *Batch {
	r := &run{
		e:         e,
		accountID: accountID,
		byID:      map[string]*template{},
		open:      map[string][]*models.JourneyInstance{},
		created:   map[string]bool{},
		seen:      map[string]bool{},
	}
	r.templates = e.prepare(journeys)
	for i := range r.templates {
		r.byID[r.templates[i].journey.ID] = &r.templates[i]
	}
	for i := range open {
		inst := open[i]
		if inst.Status != models.StatusInProgress {
			continue
		}
		r.open[inst.PersonID] = append(r.open[inst.PersonID], &inst)
	}
	for person := range r.open {
		sortInstances(r.open[person])
	}

	for i := range events {
		r.apply(&events[i])
		r.batch.Processed = append(r.batch.Processed, events[i].ID)
	}

	for _, inst := range r.touched {
		if r.created[inst.ID] {
			r.batch.Created = append(r.batch.Created, inst)
		} else {
			r.batch.Updated = append(r.batch.Updated, inst)
		}
	}
	return &r.batch
}

// ErrMalformedPath marks a journey whose ideal path cannot be matched.
var ErrMalformedPath = errors.New("malformed ideal path")

// IdealPath returns the journey's steps in ordinal order with normalised
// URLs and derived selectors filled in.
func IdealPath(j models.Journey) ([]models.Step, error) {
	steps := j.OrderedSteps()
	if len(steps) == 0 {
		return nil, fmt.Errorf("journey %s has no steps: %w", j.ID, ErrMalformedPath)
	}
	for i := range steps {
		s := &steps[i]
		if s.Selector == "" {
			s.Selector = selector.XPath(s.ElementsChain)
		}
		if s.URL == "" || s.Selector == "" {
			return nil, fmt.Errorf("journey %s step %d missing url or selector: %w", j.ID, s.Index, ErrMalformedPath)
		}
		s.URL = urlpattern.Normalize(s.URL)
	}
	return steps, nil
}

// prepare drops journeys whose ideal path cannot be matched.
func (e *Engine) prepare(journeys []models.Journey) []template {
	out := make([]template, 0, len(journeys))
	for _, j := range journeys {
		steps, err := IdealPath(j)
		if err != nil {
			e.log.Warn("skipping journey", "journey_id", j.ID, "error", err)
			continue
		}
		out = append(out, template{journey: j, steps: steps})
	}
	return out
}

func (r *run) apply(ev *models.RawEvent) {
	r.batch.Stats.Events++
	if !ev.Interactive() {
		r.batch.Stats.Skipped++
		return
	}
	if ev.Selector == "" {
		ev.Selector = selector.XPath(ev.ElementsChain)
	}
	if r.start(ev) {
		return
	}
	if r.advance(ev) {
		return
	}
	r.unmatched(ev)
}

// start opens an instance for the first template whose first step the
// event satisfies, unless the person already has one open for it.
func (r *run) start(ev *models.RawEvent) bool {
	for i := range r.templates {
		t := &r.templates[i]
		if r.hasOpen(ev.DistinctID, t.journey.ID) {
			continue
		}
		first := t.steps[0]
		if !startMatches(ev, first) {
			continue
		}

		inst := &models.JourneyInstance{
			ID:          r.e.newID(),
			AccountID:   r.accountID,
			JourneyID:   t.journey.ID,
			PersonID:    ev.DistinctID,
			SessionID:   ev.SessionID,
			Status:      models.StatusInProgress,
			CurrentStep: 0,
			TotalSteps:  len(t.steps),
			StartTime:   ev.Timestamp,
			EndTime:     ev.Timestamp,
		}
		r.created[inst.ID] = true
		r.touch(inst)
		r.open[ev.DistinctID] = append(r.open[ev.DistinctID], inst)
		r.batch.Stats.Started++

		inst.CurrentStep = 1
		r.record(inst, ev, true)
		r.maybeComplete(inst)
		return true
	}
	return false
}

// advance applies the event to the first open instance of the person whose
// next step, or any later step, it matches.
func (r *run) advance(ev *models.RawEvent) bool {
	for _, inst := range r.open[ev.DistinctID] {
		t, ok := r.byID[inst.JourneyID]
		if !ok {
			continue
		}
		cur := inst.CurrentStep
		if cur < 0 || cur >= len(t.steps) {
			r.e.log.Warn("instance step index out of range",
				"instance_id", inst.ID, "current_step", cur, "total_steps", len(t.steps))
			continue
		}

		if stepMatches(ev, t.steps[cur]) {
			inst.CurrentStep = cur + 1
			r.record(inst, ev, true)
			r.batch.Stats.Advanced++
			r.maybeComplete(inst)
			return true
		}
		for k := cur + 1; k < len(t.steps); k++ {
			if !stepMatches(ev, t.steps[k]) {
				continue
			}
			inst.CurrentStep = k + 1
			inst.Extraneous = true
			r.record(inst, ev, false)
			r.batch.Stats.Advanced++
			r.batch.Stats.SkipAhead++
			r.maybeComplete(inst)
			return true
		}
	}
	return false
}

// unmatched handles an interactive event no open instance could use.
func (r *run) unmatched(ev *models.RawEvent) {
	if r.e.policy != config.UnmatchedAttribute {
		return
	}
	for _, inst := range r.open[ev.DistinctID] {
		if _, ok := r.byID[inst.JourneyID]; !ok {
			continue
		}
		inst.Extraneous = true
		r.record(inst, ev, false)
		r.batch.Stats.Unmatched++
		return
	}
}

func (r *run) record(inst *models.JourneyInstance, ev *models.RawEvent, isMatch bool) {
	if ev.Timestamp.After(inst.EndTime) {
		inst.EndTime = ev.Timestamp
	}
	r.touch(inst)
	r.batch.Interactions = append(r.batch.Interactions, models.InteractionEvent{
		ID:            r.e.newID(),
		InstanceID:    inst.ID,
		AccountID:     r.accountID,
		RawEventID:    ev.ID,
		SessionID:     ev.SessionID,
		EventType:     ev.EventType,
		URL:           ev.CurrentURL,
		ElementsChain: ev.ElementsChain,
		Selector:      ev.Selector,
		IsMatch:       isMatch,
		Timestamp:     ev.Timestamp,
	})
}

func (r *run) maybeComplete(inst *models.JourneyInstance) {
	if inst.CurrentStep < inst.TotalSteps {
		return
	}
	inst.Status = models.StatusCompleted
	inst.CompletionType = models.CompletionDirect
	if inst.Extraneous {
		inst.CompletionType = models.CompletionIndirect
	}
	r.batch.Stats.Completed++

	list := r.open[inst.PersonID]
	for i, o := range list {
		if o == inst {
			r.open[inst.PersonID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

func (r *run) hasOpen(person, journeyID string) bool {
	for _, inst := range r.open[person] {
		if inst.JourneyID == journeyID {
			return true
		}
	}
	return false
}

func (r *run) touch(inst *models.JourneyInstance) {
	if r.seen[inst.ID] {
		return
	}
	r.seen[inst.ID] = true
	r.touched = append(r.touched, inst)
}

// startMatches is the lenient new-journey check: leaf containment against
// the step's chain, or derived selector equality when the step was saved
// with a selector only.
func startMatches(ev *models.RawEvent, first models.Step) bool {
	if !urlpattern.Matches(ev.CurrentURL, first.URL) {
		return false
	}
	if first.ElementsChain == "" {
		return ev.Selector == first.Selector
	}
	return selector.Compare(ev.ElementsChain, first.ElementsChain)
}

// stepMatches is the strict advance check: normalised URL equality and
// equal derived selectors.
func stepMatches(ev *models.RawEvent, step models.Step) bool {
	return urlpattern.Matches(ev.CurrentURL, step.URL) && ev.Selector == step.Selector
}

func sortInstances(list []*models.JourneyInstance) {
	sort.SliceStable(list, func(a, b int) bool {
		if !list[a].StartTime.Equal(list[b].StartTime) {
			return list[a].StartTime.Before(list[b].StartTime)
		}
		return list[a].ID < list[b].ID
	})
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time
