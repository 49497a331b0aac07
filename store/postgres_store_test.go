package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, logger.Nop()), mock
}

var rawEventCols = []string{
	"id", "account_id", "distinct_id", "session_id", "event", "event_type", "pathname",
	"current_url", "elements_chain", "selector", "timestamp", "processed_ideal_path",
	"processed_friction", "processed_page_usage", "processed_event_usage", "processed_form_usage",
}

func TestPostgresStore_InsertRawEvent(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO raw_events")).
		WithArgs(int64(1), "p1", "s1", "$autocapture", "click", "/cart", "https://shop.test/cart", "button:text=\"Pay\"", "//button[text()='Pay']", ts).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	ev := &models.RawEvent{
		AccountID: 1, DistinctID: "p1", SessionID: "s1", Event: "$autocapture", EventType: "click",
		Pathname: "/cart", CurrentURL: "https://shop.test/cart", ElementsChain: "button:text=\"Pay\"",
		Selector: "//button[text()='Pay']", Timestamp: ts,
	}
	require.NoError(t, s.InsertRawEvent(context.Background(), ev))
	assert.Equal(t, int64(7), ev.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnprocessedEvents(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(rawEventCols).
		AddRow(int64(3), int64(1), "p1", "s1", "$pageview", "pageview", "/", "https://shop.test/", "", "", ts, true, false, false, false, false)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE account_id = $1 AND NOT processed_friction")).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	events, err := s.UnprocessedEvents(context.Background(), 1, models.PassFriction)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].ID)
	assert.True(t, events[0].ProcessedIdealPath)
	assert.False(t, events[0].Processed(models.PassFriction))
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = s.UnprocessedEvents(context.Background(), 1, models.Pass("bogus"))
	assert.Error(t, err)
}

func TestPostgresStore_MarkProcessed(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE raw_events SET processed_page_usage = TRUE WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.MarkProcessed(context.Background(), models.PassPageUsage, []int64{1, 2}))
	// No ids means no statement.
	require.NoError(t, s.MarkProcessed(context.Background(), models.PassPageUsage, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE raw_events SET processed_ideal_path = TRUE")).
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.InTx(context.Background(), func(tx Store) error {
			// Nested calls reuse the open transaction.
			return tx.InTx(context.Background(), func(inner Store) error {
				return inner.MarkProcessed(context.Background(), models.PassIdealPath, []int64{9})
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s, mock := newMockStore(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE raw_events")).
			WithArgs(sqlmock.AnyArg()).
			WillReturnError(boom)
		mock.ExpectRollback()

		err := s.InTx(context.Background(), func(tx Store) error {
			return tx.MarkProcessed(context.Background(), models.PassIdealPath, []int64{9})
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_CreateUser(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users (account_id, email, hashed_password)")).
		WithArgs(int64(1), "admin@shop.test", []byte("hash")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(5, now, now))

	u, err := s.CreateUser(context.Background(), 1, "admin@shop.test", []byte("hash"))
	require.NoError(t, err)
	assert.Equal(t, 5, u.ID)
	assert.Equal(t, int64(1), u.AccountID)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(int64(1), "admin@shop.test", []byte("hash")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_users_email"})

	_, err = s.CreateUser(context.Background(), 1, "admin@shop.test", []byte("hash"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUserByEmail_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("nobody@shop.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "email", "hashed_password", "created_at", "updated_at"}))

	_, err := s.GetUserByEmail(context.Background(), "nobody@shop.test")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_AccountByAPIKey(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "api_key", "created_at"}).AddRow(int64(4), "shop", "key-1", time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "api_key", "created_at"}))

	a, err := s.AccountByAPIKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), a.ID)

	_, err = s.AccountByAPIKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ActiveJourneysSkipsUnreadablePaths(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "account_id", "name", "status", "ideal_path", "created_at"}).
		AddRow("j1", int64(1), "checkout", "ACTIVE", []byte(`[{"index":0,"url":"/cart","selector":"//button"}]`), now).
		AddRow("j2", int64(1), "broken", "ACTIVE", []byte(`{not json`), now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM journeys")).WithArgs(int64(1)).WillReturnRows(rows)

	journeys, err := s.ActiveJourneys(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, journeys, 1)
	assert.Equal(t, "j1", journeys[0].ID)
	assert.Equal(t, models.JourneyActive, journeys[0].Status)
	require.Len(t, journeys[0].Steps, 1)
	assert.Equal(t, "/cart", journeys[0].Steps[0].URL)
}

func TestPostgresStore_CreateInstanceDuplicateOpen(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO journey_instances")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "idx_journey_instances_one_open"})

	err := s.CreateInstance(context.Background(), &models.JourneyInstance{
		AccountID: 1, JourneyID: "j1", PersonID: "p1", Status: models.StatusInProgress,
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPostgresStore_UpdateInstanceMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE journey_instances")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateInstance(context.Background(), &models.JourneyInstance{ID: "gone"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_FailStaleInstances(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'FAILED', failure_reason = $1")).
		WithArgs(models.FailureTimeout, cutoff, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.FailStaleInstances(context.Background(), 0, cutoff, models.FailureTimeout)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPostgresStore_AccumulateFriction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("volume = journey_friction.volume + EXCLUDED.volume")).
		WithArgs(int64(1), "", models.FrictionEventBounce, "/pricing", "/pricing", "BACKTRACKING", 2, 4, 0.5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AccumulateFriction(context.Background(), []models.FrictionRecord{{
		FrictionKey: models.FrictionKey{
			AccountID: 1, EventName: models.FrictionEventBounce, URL: "/pricing",
			Element: "/pricing", Kind: models.FrictionBacktracking,
		},
		Volume: 2, TotalUsers: 4,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AccumulateFrictionKeepsLargerUserCount(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("total_users = GREATEST(journey_friction.total_users, EXCLUDED.total_users)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AccumulateFriction(context.Background(), []models.FrictionRecord{{
		FrictionKey: models.FrictionKey{AccountID: 1, EventName: models.FrictionEventBounce, URL: "/a", Element: "/a", Kind: models.FrictionBacktracking},
		Volume:      1, TotalUsers: 3,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DistinctUsers(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT distinct_id)")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	n, err := s.DistinctUsers(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Analytics(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"account_id", "journey_id", "total_users", "total_completed", "total_failed", "total_in_progress",
		"completion_rate", "indirect_rate", "median_completion_ms", "drop_off_distribution", "friction_score",
		"frequent_alt_paths", "step_insights", "updated_at",
	}).AddRow(int64(1), "j1", 4, 2, 1, 1, 0.5, 0.5, int64(30000),
		[]byte(`{"1":1}`), 0.25,
		[]byte(`{"/reviews":[{"selector":"//a","frequency":1}]}`),
		[]byte(`[{"key":"step_1","index":0,"url":"/cart","selector":"//button","anomalies":[],"nextStep":null}]`),
		now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM journey_analytics")).WithArgs(int64(1)).WillReturnRows(rows)

	list, err := s.Analytics(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	a := list[0]
	assert.Equal(t, map[int]int{1: 1}, a.DropOffDistribution)
	assert.Equal(t, []models.AltPath{{Selector: "//a", Frequency: 1}}, a.FrequentAltPaths["/reviews"])
	require.Len(t, a.StepInsights, 1)
	assert.Equal(t, "step_1", a.StepInsights[0].Key)
	assert.Nil(t, a.StepInsights[0].NextStep)
}

func TestPostgresStore_FindFormUsage(t *testing.T) {
	s, mock := newMockStore(t)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "account_id", "session_id", "pathname", "form_hash", "form_class", "form_index", "started_at",
		"submitted_at", "duration_sec", "status", "input_count", "last_field", "submit_text", "elements_chain",
		"fields_engaged",
	}).AddRow("f1", int64(1), "s1", "/signup", "abc", "signup", 0, started, nil, nil, "abandoned", 1, "email", "", "",
		[]byte(`{"fields":["email"],"sequence":[],"unique":1}`))
	mock.ExpectQuery(regexp.QuoteMeta("FROM form_usage")).
		WithArgs(int64(1), "s1", "/signup", "abc").
		WillReturnRows(rows)

	f, err := s.FindFormUsage(context.Background(), 1, "s1", "/signup", "abc")
	require.NoError(t, err)
	assert.Nil(t, f.SubmittedAt)
	assert.Nil(t, f.DurationSec)
	assert.Equal(t, models.FormAbandoned, f.Status)
	assert.Equal(t, []string{"email"}, f.FieldsEngaged.Fields)
}

func TestPostgresStore_UpdateInsightHTMLMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE insights SET html = $2")).
		WithArgs("nope", "<p>hi</p>").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateInsightHTML(context.Background(), "nope", "<p>hi</p>")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Reset(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE raw_events SET processed_friction = FALSE")).
		WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM journey_friction WHERE account_id = $1 AND journey_id = ''")).
		WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE raw_events SET processed_page_usage = FALSE")).
		WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM page_usage")).
		WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	err := s.Reset(context.Background(), 2, []models.Pass{models.PassFriction, models.PassPageUsage})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, s.Reset(context.Background(), 2, []models.Pass{"bogus"}))
}

func TestMapErr(t *testing.T) {
	assert.ErrorIs(t, mapErr(&pq.Error{Code: "23505"}), ErrDuplicate)
	assert.ErrorIs(t, mapErr(&pq.Error{Code: "23503"}), ErrNotFound)
	other := &pq.Error{Code: "42P01"}
	assert.Equal(t, error(other), mapErr(other))
}
