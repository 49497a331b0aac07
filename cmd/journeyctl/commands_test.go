package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eitanko/Suggesty-backend/config"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/pipeline"
	"github.com/eitanko/Suggesty-backend/store"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store  *store.MemoryStore
	tuning config.Tuning
}

func (h *harness) open(_ context.Context, cfg *config.Config, log *logger.Logger) (*pipeline.Services, error) {
	h.tuning = cfg.Tuning
	return &pipeline.Services{
		Store: h.store,
		Runner: pipeline.NewRunner(h.store, cfg.Tuning, pipeline.Options{
			Now: func() time.Time { return t0.Add(time.Hour) },
			Log: log,
		}),
	}, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	acc, err := s.CreateAccount(ctx, "shop", "key")
	require.NoError(t, err)
	j := models.Journey{
		ID: "signup", AccountID: acc.ID, Status: models.JourneyActive,
		Steps: []models.Step{
			{Index: 0, URL: "https://shop.io/signup", ElementsChain: `button:attr__id="start"`, CreatedAt: t0},
			{Index: 1, URL: "https://shop.io/signup", ElementsChain: `button:attr__id="done"`, CreatedAt: t0.Add(5 * time.Second)},
		},
	}
	require.NoError(t, s.SaveJourney(ctx, &j))
	for i, chain := range []string{`button:attr__id="start"`, `button:attr__id="done"`} {
		ev := models.RawEvent{
			AccountID: acc.ID, DistinctID: "p1", SessionID: "s1", Event: "$autocapture", EventType: "click",
			Pathname: "/signup", CurrentURL: "https://shop.io/signup", ElementsChain: chain,
			Timestamp: t0.Add(time.Duration(i) * 4 * time.Second),
		}
		require.NoError(t, s.InsertRawEvent(ctx, &ev))
	}
	return &harness{store: s}
}

func run(t *testing.T, h *harness, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GIN_MODE", "debug")
	t.Setenv("TUNING_FILE", "")
	cmd := newRootCmd(h.open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProcessCommand(t *testing.T) {
	h := newHarness(t)
	out, err := run(t, h, "process", "--accounts", "1")
	require.NoError(t, err, out)

	var rep pipeline.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Accounts, 1)
	assert.Equal(t, 1, rep.Accounts[0].Journeys.Completed)

	list, err := h.store.Analytics(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 1.0, list[0].CompletionRate, 1e-9)
}

func TestProcessRejectsBadAccounts(t *testing.T) {
	_, err := run(t, newHarness(t), "process", "--accounts", "1,x")
	assert.ErrorContains(t, err, "invalid account id")
}

func TestFailStaleCommandOverridesTimeout(t *testing.T) {
	h := newHarness(t)
	out, err := run(t, h, "fail-stale", "--account", "1", "--timeout", "1m")
	require.NoError(t, err, out)
	assert.Equal(t, time.Minute, h.tuning.FailureTimeout)
	assert.JSONEq(t, `{"account":1,"failed":0}`, out)
}

func TestResetCommand(t *testing.T) {
	h := newHarness(t)
	_, err := run(t, h, "process")
	require.NoError(t, err)

	_, err = run(t, h, "reset", "--account", "1")
	assert.ErrorContains(t, err, "--yes")
	_, err = run(t, h, "reset", "--passes", "friction", "--yes")
	assert.ErrorContains(t, err, "--account")

	out, err := run(t, h, "reset", "--account", "1", "--passes", "friction,page_usage", "--yes")
	require.NoError(t, err, out)

	for _, ev := range h.store.Events() {
		assert.False(t, ev.ProcessedFriction)
		assert.False(t, ev.ProcessedPageUsage)
		assert.True(t, ev.ProcessedIdealPath)
	}
}

func TestParsePasses(t *testing.T) {
	all, err := parsePasses("")
	require.NoError(t, err)
	assert.Equal(t, models.AllPasses, all)

	some, err := parsePasses(" friction , form_usage ")
	require.NoError(t, err)
	assert.Equal(t, []models.Pass{models.PassFriction, models.PassFormUsage}, some)

	_, err = parsePasses("friction,nope")
	assert.Error(t, err)
}
