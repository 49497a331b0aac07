package narration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/store"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeNarrator struct {
	html string
	err  error
	got  string
}

func (f *fakeNarrator) Narrate(_ context.Context, summary string) (string, error) {
	f.got = summary
	return f.html, f.err
}

func seeded(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.UpsertPageUsage(ctx, []models.PageUsage{
		{AccountID: 1, Pathname: "/settings/", AvgTimeSeconds: 12.4, TotalVisits: 3},
		{AccountID: 1, Pathname: "/", AvgTimeSeconds: 0, TotalVisits: 9},
	}))
	require.NoError(t, s.AccumulateFriction(ctx, []models.FrictionRecord{
		{FrictionKey: models.FrictionKey{AccountID: 1, EventName: models.FrictionEventBounce, URL: "/login", Element: "/login", Kind: models.FrictionBacktracking}, Volume: 4, TotalUsers: 8},
		{FrictionKey: models.FrictionKey{AccountID: 1, JourneyID: "checkout", EventName: models.FrictionEventRepeated, URL: "/cart", Element: "//a", Kind: models.FrictionRepeated}, Volume: 2, TotalUsers: 8},
	}))
	require.NoError(t, s.UpsertAnalytics(ctx, &models.JourneyAnalytics{AccountID: 1, JourneyID: "checkout", TotalUsers: 8, CompletionRate: 0.5}))
	return s
}

func TestBuildSummary(t *testing.T) {
	sum, err := BuildSummary(context.Background(), seeded(t), 1, t0)
	require.NoError(t, err)

	require.Len(t, sum.Pages, 2)
	assert.Equal(t, 9, sum.Pages[0].Visits, "busiest page first")
	assert.Empty(t, sum.Pages[0].AvgTime)
	assert.Equal(t, "12s", sum.Pages[1].AvgTime)

	require.Len(t, sum.NavigationIssues, 1, "journey friction is not a navigation issue")
	assert.Equal(t, models.FrictionEventBounce, sum.NavigationIssues[0].EventName)

	require.Len(t, sum.Journeys, 1)
	assert.InDelta(t, 0.5, sum.Journeys[0].CompletionRate, 1e-9)
}

func TestGenerateStoresNarration(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	n := &fakeNarrator{html: "<h2>Report</h2>"}

	in, err := NewReporter(s, n, func() time.Time { return t0 }, logger.Nop()).Generate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "<h2>Report</h2>", in.HTML)

	var sum Summary
	require.NoError(t, json.Unmarshal([]byte(n.got), &sum))
	assert.Equal(t, int64(1), sum.AccountID)

	latest, err := s.LatestInsight(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "<h2>Report</h2>", latest.HTML)
	assert.Equal(t, in.Summary, latest.Summary)
}

func TestGenerateKeepsSummaryWhenNarratorFails(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	n := &fakeNarrator{err: errors.New("quota exceeded")}

	in, err := NewReporter(s, n, nil, nil).Generate(ctx, 1)
	require.ErrorIs(t, err, ErrUnavailable)
	require.NotNil(t, in)

	latest, lerr := s.LatestInsight(ctx, 1)
	require.NoError(t, lerr)
	assert.Equal(t, in.ID, latest.ID)
	assert.Empty(t, latest.HTML)

	analytics, aerr := s.Analytics(ctx, 1)
	require.NoError(t, aerr)
	assert.Len(t, analytics, 1)
}

func TestGenerateWithoutNarrator(t *testing.T) {
	_, err := NewReporter(seeded(t), nil, nil, nil).Generate(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewGenAINarratorNeedsKey(t *testing.T) {
	_, err := NewGenAINarrator(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrUnavailable)
}
