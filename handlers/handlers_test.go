package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eitanko/Suggesty-backend/config"
	"github.com/eitanko/Suggesty-backend/lock"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/pipeline"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeArchive struct {
	mu       sync.Mutex
	events   []models.ArchivedEvent
	err      error
	interval string
}

func (f *fakeArchive) InsertArchivedEvents(_ context.Context, events []models.ArchivedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeArchive) GetEventCountsOverTime(_ context.Context, _ int64, interval string, _, _ time.Time, _ string) ([]store.EventTypeCountByTime, error) {
	f.interval = interval
	return []store.EventTypeCountByTime{{Time: t0, Count: 3}}, nil
}

func (f *fakeArchive) GetUniqueUsersOverTime(context.Context, int64, string, time.Time, time.Time) ([]store.EventTypeCountByTime, error) {
	return []store.EventTypeCountByTime{{Time: t0, Count: 2}}, nil
}

func (f *fakeArchive) GetTopNPagePaths(context.Context, int64, time.Time, time.Time, uint64) ([]models.TopPathResult, error) {
	return []models.TopPathResult{{PagePath: "/checkout", Count: 5}}, nil
}

type lockedRunner struct{}

func (lockedRunner) RunAccount(_ context.Context, id int64) (pipeline.AccountReport, error) {
	return pipeline.AccountReport{AccountID: id}, lock.ErrLocked
}

func (lockedRunner) FailStale(context.Context, int64) (int64, error) { return 0, nil }

type testAPI struct {
	router  *gin.Engine
	store   *store.MemoryStore
	archive *fakeArchive
	account *models.Account
	token   string
}

func newTestAPI(t *testing.T, runner BatchRunner) *testAPI {
	t.Helper()
	s := store.NewMemoryStore()
	acc, err := s.CreateAccount(context.Background(), "shop", "key-shop")
	require.NoError(t, err)

	tokens, err := utils.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	token, err := tokens.GenerateJWT(&models.User{ID: 1, AccountID: acc.ID, Email: "admin@shop.io"})
	require.NoError(t, err)

	if runner == nil {
		runner = pipeline.NewRunner(s, config.DefaultTuning(), pipeline.Options{
			Now: func() time.Time { return t0.Add(time.Hour) },
			Log: logger.Nop(),
		})
	}
	archive := &fakeArchive{}
	router := NewRouter(RouterDeps{Store: s, Archive: archive, Runner: runner, Tokens: tokens, Log: logger.Nop()})
	return &testAPI{router: router, store: s, archive: archive, account: acc, token: token}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) authed() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.token}
}

func (a *testAPI) apiKey() map[string]string {
	return map[string]string{"X-API-KEY": "key-shop"}
}

func payload(person, url, path, chain string, at time.Duration) models.TrackPayload {
	return models.TrackPayload{
		Event:         "$autocapture",
		EventType:     "click",
		DistinctID:    person,
		SessionID:     "s-" + person,
		Pathname:      path,
		CurrentURL:    url,
		ElementsChain: chain,
		Timestamp:     t0.Add(at),
	}
}

func TestTrackEventNormalizesAndArchives(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodPost, "/api/events",
		payload("p1", "http://localhost:5556/products/123/?ref=ad", "/products/123", `button:attr__id="add"text="Add"`, 0),
		api.apiKey())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	events := api.store.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, api.account.ID, ev.AccountID)
	assert.Equal(t, "http://localhost:*/products/*/?ref=ad", ev.CurrentURL)
	assert.Equal(t, "//button[@id='add']", ev.Selector)

	require.Len(t, api.archive.events, 1)
	assert.Equal(t, "1", api.archive.events[0].EventID)
	assert.Equal(t, "p1", api.archive.events[0].UserID)
}

func TestTrackEventDropsAdminEvents(t *testing.T) {
	api := newTestAPI(t, nil)
	chain := `button:text="Edit";div:attr__data-is-admin="true"`

	w := api.do(t, http.MethodPost, "/api/events", payload("admin", "https://shop.io/", "/", chain, 0), api.apiKey())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored","saved":0}`, w.Body.String())
	assert.Empty(t, api.store.Events())
	assert.Empty(t, api.archive.events)

	assert.False(t, IsAdminEvent(`div:attr__data-is-admin="false"`))
}

func TestTrackEventRequiresKnownAPIKey(t *testing.T) {
	api := newTestAPI(t, nil)
	body := payload("p1", "https://shop.io/", "/", "", 0)

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, "/api/events", body, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, "/api/events", body, map[string]string{"X-API-KEY": "nope"}).Code)
	assert.Empty(t, api.store.Events())
}

func TestTrackEventSurvivesArchiveFailure(t *testing.T) {
	api := newTestAPI(t, nil)
	api.archive.err = errors.New("clickhouse down")

	w := api.do(t, http.MethodPost, "/api/events", payload("p1", "https://shop.io/", "/", "", 0), api.apiKey())
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, api.store.Events(), 1)
}

func TestTrackEventRejectsBadBody(t *testing.T) {
	api := newTestAPI(t, nil)
	w := api.do(t, http.MethodPost, "/api/events", map[string]string{"event": "$pageview"}, api.apiKey())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBuildRawEventDefaultsTimestamp(t *testing.T) {
	ev := BuildRawEvent(3, models.TrackPayload{Event: "$pageview", DistinctID: "p"}, t0)
	assert.Equal(t, t0, ev.Timestamp)
	assert.Equal(t, int64(3), ev.AccountID)
	assert.Empty(t, ev.Selector)
}

func TestSignupAndLogin(t *testing.T) {
	api := newTestAPI(t, nil)
	creds := map[string]any{"email": "new@shop.io", "password": "longenough", "account_id": api.account.ID}

	w := api.do(t, http.MethodPost, "/api/signup", creds, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, http.StatusConflict, api.do(t, http.MethodPost, "/api/signup", creds, nil).Code)

	w = api.do(t, http.MethodPost, "/api/login", map[string]string{"email": "new@shop.io", "password": "wrong-one"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodPost, "/api/login", map[string]string{"email": "new@shop.io", "password": "longenough"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	w = api.do(t, http.MethodGet, "/api/usage/pages", nil, map[string]string{"Authorization": "Bearer " + resp.Token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	api := newTestAPI(t, nil)
	for _, path := range []string{"/api/journeys/analytics", "/api/journeys/friction", "/api/usage/pages", "/api/stats/top-paths"} {
		assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, path, nil, nil).Code, path)
	}
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, "/api/process", nil, nil).Code)
}

func TestSaveJourneyValidatesIdealPath(t *testing.T) {
	api := newTestAPI(t, nil)

	bad := JourneyRequest{Name: "broken", Status: models.JourneyActive, Steps: []models.Step{{Index: 0, URL: "https://shop.io/"}}}
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/api/journeys", bad, api.authed()).Code)

	unknown := JourneyRequest{Name: "x", Status: "LIVE", Steps: []models.Step{{Index: 0, URL: "https://shop.io/", ElementsChain: `a:attr__id="x"`}}}
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/api/journeys", unknown, api.authed()).Code)
}

func TestIngestProcessAndRead(t *testing.T) {
	api := newTestAPI(t, nil)
	add := `button:attr__id="add"text="Add"`
	pay := `button:attr__id="pay"text="Pay"`

	j := JourneyRequest{
		ID:     "buy",
		Name:   "Buy",
		Status: models.JourneyActive,
		Steps: []models.Step{
			{Index: 0, URL: "https://shop.io/products/*", ElementsChain: add, CreatedAt: t0},
			{Index: 1, URL: "https://shop.io/checkout", ElementsChain: pay, CreatedAt: t0.Add(10 * time.Second)},
		},
	}
	w := api.do(t, http.MethodPost, "/api/journeys", j, api.authed())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	for _, p := range []models.TrackPayload{
		payload("p1", "https://shop.io/products/7", "/products/7", add, 0),
		payload("p1", "https://shop.io/checkout", "/checkout", pay, 8*time.Second),
		payload("p2", "https://shop.io/products/9", "/products/9", add, time.Minute),
		payload("p2", "https://shop.io/help", "/help", `a:attr__id="help"`, 2*time.Minute),
	} {
		require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/events", p, api.apiKey()).Code)
	}

	w = api.do(t, http.MethodPost, "/api/process", nil, api.authed())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rep pipeline.AccountReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Journeys.Completed)
	assert.Equal(t, int64(1), rep.Failed)

	w = api.do(t, http.MethodGet, "/api/journeys/analytics?journeyId=buy", nil, api.authed())
	require.Equal(t, http.StatusOK, w.Code)
	var analytics []models.JourneyAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &analytics))
	require.Len(t, analytics, 1)
	assert.Equal(t, 1, analytics[0].TotalCompleted)
	assert.Equal(t, 1, analytics[0].TotalFailed)
	assert.Len(t, analytics[0].StepInsights, 2)

	w = api.do(t, http.MethodGet, "/api/journeys/analytics?journeyId=other", nil, api.authed())
	assert.JSONEq(t, `[]`, w.Body.String())

	w = api.do(t, http.MethodGet, "/api/journeys/friction?journeyId=buy&kind=drop_off", nil, api.authed())
	require.Equal(t, http.StatusOK, w.Code)
	var rows []models.FrictionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, models.FrictionDropOff, rows[0].Kind)

	w = api.do(t, http.MethodPost, "/api/process/fail-stale", nil, api.authed())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"failed":0}`, w.Body.String())
}

func TestProcessConflictWhenLocked(t *testing.T) {
	api := newTestAPI(t, lockedRunner{})
	w := api.do(t, http.MethodPost, "/api/process", nil, api.authed())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLatestInsightNotFound(t *testing.T) {
	api := newTestAPI(t, nil)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/insights/latest", nil, api.authed()).Code)
}

func TestStatsEndpoints(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(t, http.MethodGet, "/api/stats/event-counts?interval=Day", nil, api.authed())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Day", api.archive.interval)

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/stats/event-counts?interval=day", nil, api.authed()).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/stats/unique-users?interval=Day&start=yesterday", nil, api.authed()).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/stats/top-paths?limit=0", nil, api.authed()).Code)

	w = api.do(t, http.MethodGet, "/api/stats/top-paths?limit=3", nil, api.authed())
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"pagePath":"/checkout","count":5}]`, w.Body.String())
}
