package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eitanko/Suggesty-backend/models"
)

// MemoryStore keeps everything in process. Transactions work on a copy of
// the state that replaces the original only when the callback succeeds.
type MemoryStore struct {
	mu     sync.Mutex
	st     *memState
	tx     bool
	faults map[string]error
}

type pageKey struct {
	accountID int64
	pathname  string
}

type analyticsKey struct {
	accountID int64
	journeyID string
}

type memState struct {
	nextAccountID int64
	nextUserID    int
	nextEventID   int64

	accounts     []models.Account
	users        []models.User
	events       []models.RawEvent
	journeys     []models.Journey
	instances    map[string]models.JourneyInstance
	interactions []models.InteractionEvent
	friction     map[models.FrictionKey]models.FrictionRecord
	analytics    map[analyticsKey]models.JourneyAnalytics
	pages        map[pageKey]models.PageUsage
	eventUsage   map[models.EventUsageKey]models.EventUsage
	forms        map[string]models.FormUsage
	insights     []models.Insight
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		st: &memState{
			instances:  map[string]models.JourneyInstance{},
			friction:   map[models.FrictionKey]models.FrictionRecord{},
			analytics:  map[analyticsKey]models.JourneyAnalytics{},
			pages:      map[pageKey]models.PageUsage{},
			eventUsage: map[models.EventUsageKey]models.EventUsage{},
			forms:      map[string]models.FormUsage{},
		},
		faults: map[string]error{},
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *MemoryStore) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

func (s *MemoryStore) fault(method string) error {
	if err, ok := s.faults[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (s *MemoryStore) clone() *memState {
	c := *s.st
	c.accounts = append([]models.Account(nil), s.st.accounts...)
	c.users = append([]models.User(nil), s.st.users...)
	c.events = append([]models.RawEvent(nil), s.st.events...)
	c.journeys = append([]models.Journey(nil), s.st.journeys...)
	c.interactions = append([]models.InteractionEvent(nil), s.st.interactions...)
	c.insights = append([]models.Insight(nil), s.st.insights...)
	c.instances = make(map[string]models.JourneyInstance, len(s.st.instances))
	for k, v := range s.st.instances {
		c.instances[k] = v
	}
	c.friction = make(map[models.FrictionKey]models.FrictionRecord, len(s.st.friction))
	for k, v := range s.st.friction {
		c.friction[k] = v
	}
	c.analytics = make(map[analyticsKey]models.JourneyAnalytics, len(s.st.analytics))
	for k, v := range s.st.analytics {
		c.analytics[k] = v
	}
	c.pages = make(map[pageKey]models.PageUsage, len(s.st.pages))
	for k, v := range s.st.pages {
		c.pages[k] = v
	}
	c.eventUsage = make(map[models.EventUsageKey]models.EventUsage, len(s.st.eventUsage))
	for k, v := range s.st.eventUsage {
		c.eventUsage[k] = v
	}
	c.forms = make(map[string]models.FormUsage, len(s.st.forms))
	for k, v := range s.st.forms {
		c.forms[k] = v
	}
	return &c
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{st: s.clone(), tx: true, faults: s.faults}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *MemoryStore) lock() func() {
	if s.tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) CreateAccount(ctx context.Context, name, apiKey string) (*models.Account, error) {
	defer s.lock()()
	for _, a := range s.st.accounts {
		if a.APIKey == apiKey {
			return nil, fmt.Errorf("account api key: %w", ErrDuplicate)
		}
	}
	s.st.nextAccountID++
	a := models.Account{ID: s.st.nextAccountID, Name: name, APIKey: apiKey, CreatedAt: time.Now().UTC()}
	s.st.accounts = append(s.st.accounts, a)
	return &a, nil
}

func (s *MemoryStore) Accounts(ctx context.Context) ([]models.Account, error) {
	defer s.lock()()
	return append([]models.Account(nil), s.st.accounts...), nil
}

func (s *MemoryStore) AccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	defer s.lock()()
	for _, a := range s.st.accounts {
		if a.APIKey == apiKey {
			a := a
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateUser(ctx context.Context, accountID int64, email string, hashedPassword []byte) (*models.User, error) {
	defer s.lock()()
	for _, u := range s.st.users {
		if u.Email == email {
			return nil, fmt.Errorf("user with email '%s': %w", email, ErrDuplicate)
		}
	}
	s.st.nextUserID++
	now := time.Now().UTC()
	u := models.User{ID: s.st.nextUserID, AccountID: accountID, Email: email, HashedPassword: hashedPassword, CreatedAt: now, UpdatedAt: now}
	s.st.users = append(s.st.users, u)
	return &u, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.lock()()
	for _, u := range s.st.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user with email '%s': %w", email, ErrNotFound)
}

func (s *MemoryStore) InsertRawEvent(ctx context.Context, ev *models.RawEvent) error {
	defer s.lock()()
	if err := s.fault("InsertRawEvent"); err != nil {
		return err
	}
	s.st.nextEventID++
	ev.ID = s.st.nextEventID
	s.st.events = append(s.st.events, *ev)
	return nil
}

func (s *MemoryStore) DistinctUsers(ctx context.Context, accountID int64) (int, error) {
	defer s.lock()()
	seen := map[string]bool{}
	for _, ev := range s.st.events {
		if ev.AccountID == accountID && ev.DistinctID != "" {
			seen[ev.DistinctID] = true
		}
	}
	return len(seen), nil
}

func (s *MemoryStore) UnprocessedEvents(ctx context.Context, accountID int64, pass models.Pass) ([]models.RawEvent, error) {
	defer s.lock()()
	if !pass.Valid() {
		return nil, fmt.Errorf("unknown pass %q", pass)
	}
	var out []models.RawEvent
	for _, ev := range s.st.events {
		if ev.AccountID == accountID && !ev.Processed(pass) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].Timestamp.Equal(out[b].Timestamp) {
			return out[a].Timestamp.Before(out[b].Timestamp)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, pass models.Pass, ids []int64) error {
	defer s.lock()()
	if err := s.fault("MarkProcessed"); err != nil {
		return err
	}
	if !pass.Valid() {
		return fmt.Errorf("unknown pass %q", pass)
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range s.st.events {
		if want[s.st.events[i].ID] {
			s.st.events[i].SetProcessed(pass, true)
		}
	}
	return nil
}

func (s *MemoryStore) SaveJourney(ctx context.Context, j *models.Journey) error {
	defer s.lock()()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	cp := *j
	cp.Steps = append([]models.Step(nil), j.Steps...)
	for i, existing := range s.st.journeys {
		if existing.ID == j.ID {
			s.st.journeys[i] = cp
			return nil
		}
	}
	s.st.journeys = append(s.st.journeys, cp)
	return nil
}

func (s *MemoryStore) ActiveJourneys(ctx context.Context, accountID int64) ([]models.Journey, error) {
	defer s.lock()()
	var out []models.Journey
	for _, j := range s.st.journeys {
		if j.AccountID == accountID && j.Status == models.JourneyActive {
			j.Steps = append([]models.Step(nil), j.Steps...)
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateInstance(ctx context.Context, inst *models.JourneyInstance) error {
	defer s.lock()()
	if err := s.fault("CreateInstance"); err != nil {
		return err
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if _, ok := s.st.instances[inst.ID]; ok {
		return fmt.Errorf("instance %s: %w", inst.ID, ErrDuplicate)
	}
	if inst.Status == models.StatusInProgress {
		for _, other := range s.st.instances {
			if other.Status == models.StatusInProgress && other.PersonID == inst.PersonID && other.JourneyID == inst.JourneyID {
				return fmt.Errorf("open instance for person: %w", ErrDuplicate)
			}
		}
	}
	s.st.instances[inst.ID] = *inst
	return nil
}

func (s *MemoryStore) UpdateInstance(ctx context.Context, inst *models.JourneyInstance) error {
	defer s.lock()()
	if err := s.fault("UpdateInstance"); err != nil {
		return err
	}
	if _, ok := s.st.instances[inst.ID]; !ok {
		return fmt.Errorf("instance %s: %w", inst.ID, ErrNotFound)
	}
	s.st.instances[inst.ID] = *inst
	return nil
}

func (s *MemoryStore) OpenInstances(ctx context.Context, accountID int64) ([]models.JourneyInstance, error) {
	defer s.lock()()
	var out []models.JourneyInstance
	for _, inst := range s.st.instances {
		if inst.AccountID == accountID && inst.Status == models.StatusInProgress {
			out = append(out, inst)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) InstancesByJourney(ctx context.Context, accountID int64, journeyID string) ([]models.JourneyInstance, error) {
	defer s.lock()()
	var out []models.JourneyInstance
	for _, inst := range s.st.instances {
		if inst.AccountID == accountID && inst.JourneyID == journeyID {
			out = append(out, inst)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) FailStaleInstances(ctx context.Context, accountID int64, cutoff time.Time, reason string) (int64, error) {
	defer s.lock()()
	var n int64
	for id, inst := range s.st.instances {
		if inst.Status != models.StatusInProgress || !inst.EndTime.Before(cutoff) {
			continue
		}
		if accountID != 0 && inst.AccountID != accountID {
			continue
		}
		inst.Status = models.StatusFailed
		inst.FailureReason = reason
		s.st.instances[id] = inst
		n++
	}
	return n, nil
}

func (s *MemoryStore) AppendInteractions(ctx context.Context, events []models.InteractionEvent) error {
	defer s.lock()()
	if err := s.fault("AppendInteractions"); err != nil {
		return err
	}
	for _, ev := range events {
		if _, ok := s.st.instances[ev.InstanceID]; !ok {
			return fmt.Errorf("interaction for instance %s: %w", ev.InstanceID, ErrNotFound)
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		s.st.interactions = append(s.st.interactions, ev)
	}
	return nil
}

func (s *MemoryStore) InteractionsByJourney(ctx context.Context, accountID int64, journeyID string) (map[string][]models.InteractionEvent, error) {
	defer s.lock()()
	out := map[string][]models.InteractionEvent{}
	for _, ev := range s.st.interactions {
		inst, ok := s.st.instances[ev.InstanceID]
		if !ok || inst.AccountID != accountID || inst.JourneyID != journeyID {
			continue
		}
		out[ev.InstanceID] = append(out[ev.InstanceID], ev)
	}
	for id := range out {
		list := out[id]
		sort.SliceStable(list, func(a, b int) bool { return list[a].Timestamp.Before(list[b].Timestamp) })
	}
	return out, nil
}

func (s *MemoryStore) UpsertFriction(ctx context.Context, records []models.FrictionRecord) error {
	defer s.lock()()
	if err := s.fault("UpsertFriction"); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range records {
		r.Rate = models.Rate(r.Volume, r.TotalUsers)
		r.UpdatedAt = now
		s.st.friction[r.FrictionKey] = r
	}
	return nil
}

func (s *MemoryStore) AccumulateFriction(ctx context.Context, records []models.FrictionRecord) error {
	defer s.lock()()
	if err := s.fault("AccumulateFriction"); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range records {
		if existing, ok := s.st.friction[r.FrictionKey]; ok {
			r.Volume += existing.Volume
			if existing.TotalUsers > r.TotalUsers {
				r.TotalUsers = existing.TotalUsers
			}
		}
		r.Rate = models.Rate(r.Volume, r.TotalUsers)
		r.UpdatedAt = now
		s.st.friction[r.FrictionKey] = r
	}
	return nil
}

func (s *MemoryStore) Friction(ctx context.Context, accountID int64) ([]models.FrictionRecord, error) {
	defer s.lock()()
	var out []models.FrictionRecord
	for _, r := range s.st.friction {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool { return frictionLess(out[a].FrictionKey, out[b].FrictionKey) })
	return out, nil
}

func frictionLess(a, b models.FrictionKey) bool {
	switch {
	case a.JourneyID != b.JourneyID:
		return a.JourneyID < b.JourneyID
	case a.Kind != b.Kind:
		return a.Kind < b.Kind
	case a.EventName != b.EventName:
		return a.EventName < b.EventName
	case a.URL != b.URL:
		return a.URL < b.URL
	}
	return a.Element < b.Element
}

func (s *MemoryStore) UpsertAnalytics(ctx context.Context, a *models.JourneyAnalytics) error {
	defer s.lock()()
	if err := s.fault("UpsertAnalytics"); err != nil {
		return err
	}
	cp := *a
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.st.analytics[analyticsKey{a.AccountID, a.JourneyID}] = cp
	return nil
}

func (s *MemoryStore) Analytics(ctx context.Context, accountID int64) ([]models.JourneyAnalytics, error) {
	defer s.lock()()
	var out []models.JourneyAnalytics
	for k, a := range s.st.analytics {
		if k.accountID == accountID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].JourneyID < out[b].JourneyID })
	return out, nil
}

func (s *MemoryStore) PageUsage(ctx context.Context, accountID int64) ([]models.PageUsage, error) {
	defer s.lock()()
	var out []models.PageUsage
	for k, p := range s.st.pages {
		if k.accountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Pathname < out[b].Pathname })
	return out, nil
}

func (s *MemoryStore) UpsertPageUsage(ctx context.Context, rows []models.PageUsage) error {
	defer s.lock()()
	now := time.Now().UTC()
	for _, r := range rows {
		r.UpdatedAt = now
		s.st.pages[pageKey{r.AccountID, r.Pathname}] = r
	}
	return nil
}

func (s *MemoryStore) IncrementEventUsage(ctx context.Context, rows []models.EventUsage) error {
	defer s.lock()()
	now := time.Now().UTC()
	for _, r := range rows {
		if existing, ok := s.st.eventUsage[r.EventUsageKey]; ok {
			r.Count += existing.Count
		}
		r.UpdatedAt = now
		s.st.eventUsage[r.EventUsageKey] = r
	}
	return nil
}

func (s *MemoryStore) TopEventUsage(ctx context.Context, accountID int64, eventType string, limit int) ([]models.EventUsage, error) {
	defer s.lock()()
	var out []models.EventUsage
	for k, r := range s.st.eventUsage {
		if k.AccountID == accountID && (eventType == "" || k.EventType == eventType) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Count != out[b].Count {
			return out[a].Count > out[b].Count
		}
		if out[a].Pathname != out[b].Pathname {
			return out[a].Pathname < out[b].Pathname
		}
		return out[a].Selector < out[b].Selector
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindFormUsage(ctx context.Context, accountID int64, sessionID, pathname, formHash string) (*models.FormUsage, error) {
	defer s.lock()()
	for _, f := range s.st.forms {
		if f.AccountID == accountID && f.SessionID == sessionID && f.Pathname == pathname && f.FormHash == formHash {
			f := f
			return &f, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SaveFormUsage(ctx context.Context, f *models.FormUsage) error {
	defer s.lock()()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	s.st.forms[f.ID] = *f
	return nil
}

// FormUsages lists an account's form rows ordered by start time.
func (s *MemoryStore) FormUsages(accountID int64) []models.FormUsage {
	defer s.lock()()
	var out []models.FormUsage
	for _, f := range s.st.forms {
		if f.AccountID == accountID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out
}

// Interactions returns every stored interaction in insertion order.
func (s *MemoryStore) Interactions() []models.InteractionEvent {
	defer s.lock()()
	return append([]models.InteractionEvent(nil), s.st.interactions...)
}

// Events returns every stored raw event in insertion order.
func (s *MemoryStore) Events() []models.RawEvent {
	defer s.lock()()
	return append([]models.RawEvent(nil), s.st.events...)
}

func (s *MemoryStore) CreateInsight(ctx context.Context, in *models.Insight) error {
	defer s.lock()()
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	s.st.insights = append(s.st.insights, *in)
	return nil
}

func (s *MemoryStore) UpdateInsightHTML(ctx context.Context, id, html string) error {
	defer s.lock()()
	for i := range s.st.insights {
		if s.st.insights[i].ID == id {
			s.st.insights[i].HTML = html
			s.st.insights[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("insight %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) LatestInsight(ctx context.Context, accountID int64) (*models.Insight, error) {
	defer s.lock()()
	for i := len(s.st.insights) - 1; i >= 0; i-- {
		if s.st.insights[i].AccountID == accountID {
			in := s.st.insights[i]
			return &in, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Reset(ctx context.Context, accountID int64, passes []models.Pass) error {
	defer s.lock()()
	for _, p := range passes {
		if !p.Valid() {
			return fmt.Errorf("unknown pass %q", p)
		}
		for i := range s.st.events {
			if s.st.events[i].AccountID == accountID {
				s.st.events[i].SetProcessed(p, false)
			}
		}
		switch p {
		case models.PassIdealPath:
			s.resetJourneys(accountID)
		case models.PassFriction:
			for k := range s.st.friction {
				if k.AccountID == accountID && k.JourneyID == "" {
					delete(s.st.friction, k)
				}
			}
		case models.PassPageUsage:
			for k := range s.st.pages {
				if k.accountID == accountID {
					delete(s.st.pages, k)
				}
			}
		case models.PassEventUsage:
			for k := range s.st.eventUsage {
				if k.AccountID == accountID {
					delete(s.st.eventUsage, k)
				}
			}
		case models.PassFormUsage:
			for k, f := range s.st.forms {
				if f.AccountID == accountID {
					delete(s.st.forms, k)
				}
			}
		}
	}
	return nil
}

func (s *MemoryStore) resetJourneys(accountID int64) {
	kept := s.st.interactions[:0:0]
	for _, ev := range s.st.interactions {
		if ev.AccountID != accountID {
			kept = append(kept, ev)
		}
	}
	s.st.interactions = kept
	for id, inst := range s.st.instances {
		if inst.AccountID == accountID {
			delete(s.st.instances, id)
		}
	}
	for k := range s.st.friction {
		if k.AccountID == accountID && k.JourneyID != "" {
			delete(s.st.friction, k)
		}
	}
	for k := range s.st.analytics {
		if k.accountID == accountID {
			delete(s.st.analytics, k)
		}
	}
	insights := s.st.insights[:0:0]
	for _, in := range s.st.insights {
		if in.AccountID != accountID {
			insights = append(insights, in)
		}
	}
	s.st.insights = insights
}

func sortByStart(list []models.JourneyInstance) {
	sort.Slice(list, func(a, b int) bool {
		if !list[a].StartTime.Equal(list[b].StartTime) {
			return list[a].StartTime.Before(list[b].StartTime)
		}
		return list[a].ID < list[b].ID
	})
}
