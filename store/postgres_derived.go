package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eitanko/Suggesty-backend/models"
)

const frictionUpsert = `
	INSERT INTO journey_friction (account_id, journey_id, event_name, url, element, kind,
		volume, total_users, rate, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	ON CONFLICT (account_id, journey_id, event_name, url, element, kind) DO UPDATE
`

func (s *PostgresStore) UpsertFriction(ctx context.Context, records []models.FrictionRecord) error {
	query := frictionUpsert + `
	SET volume = EXCLUDED.volume, total_users = EXCLUDED.total_users,
		rate = EXCLUDED.rate, updated_at = EXCLUDED.updated_at;`
	return s.writeFriction(ctx, query, records)
}

func (s *PostgresStore) AccumulateFriction(ctx context.Context, records []models.FrictionRecord) error {
	query := frictionUpsert + `
	SET volume = journey_friction.volume + EXCLUDED.volume,
		total_users = GREATEST(journey_friction.total_users, EXCLUDED.total_users),
		rate = CASE WHEN GREATEST(journey_friction.total_users, EXCLUDED.total_users) > 0
			THEN (journey_friction.volume + EXCLUDED.volume)::double precision
				/ GREATEST(journey_friction.total_users, EXCLUDED.total_users)
			ELSE 0 END,
		updated_at = EXCLUDED.updated_at;`
	return s.writeFriction(ctx, query, records)
}

func (s *PostgresStore) writeFriction(ctx context.Context, query string, records []models.FrictionRecord) error {
	for _, r := range records {
		_, err := s.q.ExecContext(ctx, query,
			r.AccountID, r.JourneyID, r.EventName, r.URL, r.Element, string(r.Kind),
			r.Volume, r.TotalUsers, models.Rate(r.Volume, r.TotalUsers),
		)
		if err != nil {
			return fmt.Errorf("failed to write friction %s/%s: %w", r.Kind, r.EventName, mapErr(err))
		}
	}
	return nil
}

func (s *PostgresStore) Friction(ctx context.Context, accountID int64) ([]models.FrictionRecord, error) {
	query := `
		SELECT account_id, journey_id, event_name, url, element, kind, volume, total_users, rate, updated_at
		FROM journey_friction
		WHERE account_id = $1
		ORDER BY journey_id, kind, event_name, url, element;
	`
	rows, err := s.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query friction: %w", err)
	}
	defer rows.Close()

	var out []models.FrictionRecord
	for rows.Next() {
		var (
			r    models.FrictionRecord
			kind string
		)
		if err := rows.Scan(&r.AccountID, &r.JourneyID, &r.EventName, &r.URL, &r.Element, &kind,
			&r.Volume, &r.TotalUsers, &r.Rate, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan friction: %w", err)
		}
		r.Kind = models.FrictionKind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating friction: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertAnalytics(ctx context.Context, a *models.JourneyAnalytics) error {
	dist, err := json.Marshal(a.DropOffDistribution)
	if err != nil {
		return fmt.Errorf("encode drop-off distribution: %w", err)
	}
	alt, err := json.Marshal(a.FrequentAltPaths)
	if err != nil {
		return fmt.Errorf("encode alternative paths: %w", err)
	}
	steps, err := json.Marshal(a.StepInsights)
	if err != nil {
		return fmt.Errorf("encode step insights: %w", err)
	}
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	query := `
		INSERT INTO journey_analytics (account_id, journey_id, total_users, total_completed, total_failed,
			total_in_progress, completion_rate, indirect_rate, median_completion_ms, drop_off_distribution,
			friction_score, frequent_alt_paths, step_insights, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (account_id, journey_id) DO UPDATE
		SET total_users = EXCLUDED.total_users, total_completed = EXCLUDED.total_completed,
			total_failed = EXCLUDED.total_failed, total_in_progress = EXCLUDED.total_in_progress,
			completion_rate = EXCLUDED.completion_rate, indirect_rate = EXCLUDED.indirect_rate,
			median_completion_ms = EXCLUDED.median_completion_ms,
			drop_off_distribution = EXCLUDED.drop_off_distribution,
			friction_score = EXCLUDED.friction_score, frequent_alt_paths = EXCLUDED.frequent_alt_paths,
			step_insights = EXCLUDED.step_insights, updated_at = EXCLUDED.updated_at;
	`
	_, err = s.q.ExecContext(ctx, query,
		a.AccountID, a.JourneyID, a.TotalUsers, a.TotalCompleted, a.TotalFailed, a.TotalInProgress,
		a.CompletionRate, a.IndirectRate, a.MedianCompletionMs, dist, a.FrictionScore, alt, steps, updated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert analytics for journey %s: %w", a.JourneyID, mapErr(err))
	}
	return nil
}

func (s *PostgresStore) Analytics(ctx context.Context, accountID int64) ([]models.JourneyAnalytics, error) {
	query := `
		SELECT account_id, journey_id, total_users, total_completed, total_failed, total_in_progress,
			completion_rate, indirect_rate, median_completion_ms, drop_off_distribution, friction_score,
			frequent_alt_paths, step_insights, updated_at
		FROM journey_analytics
		WHERE account_id = $1
		ORDER BY journey_id;
	`
	rows, err := s.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer rows.Close()

	var out []models.JourneyAnalytics
	for rows.Next() {
		var (
			a                 models.JourneyAnalytics
			dist, alt, steps []byte
		)
		if err := rows.Scan(&a.AccountID, &a.JourneyID, &a.TotalUsers, &a.TotalCompleted, &a.TotalFailed,
			&a.TotalInProgress, &a.CompletionRate, &a.IndirectRate, &a.MedianCompletionMs, &dist,
			&a.FrictionScore, &alt, &steps, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan analytics: %w", err)
		}
		if err := json.Unmarshal(dist, &a.DropOffDistribution); err != nil {
			return nil, fmt.Errorf("decode drop-off distribution of %s: %w", a.JourneyID, err)
		}
		if err := json.Unmarshal(alt, &a.FrequentAltPaths); err != nil {
			return nil, fmt.Errorf("decode alternative paths of %s: %w", a.JourneyID, err)
		}
		if err := json.Unmarshal(steps, &a.StepInsights); err != nil {
			return nil, fmt.Errorf("decode step insights of %s: %w", a.JourneyID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analytics: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PageUsage(ctx context.Context, accountID int64) ([]models.PageUsage, error) {
	query := `
		SELECT account_id, pathname, avg_time_seconds, total_visits, updated_at
		FROM page_usage
		WHERE account_id = $1
		ORDER BY pathname;
	`
	rows, err := s.q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query page usage: %w", err)
	}
	defer rows.Close()

	var out []models.PageUsage
	for rows.Next() {
		var p models.PageUsage
		if err := rows.Scan(&p.AccountID, &p.Pathname, &p.AvgTimeSeconds, &p.TotalVisits, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan page usage: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating page usage: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertPageUsage(ctx context.Context, rows []models.PageUsage) error {
	query := `
		INSERT INTO page_usage (account_id, pathname, avg_time_seconds, total_visits, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (account_id, pathname) DO UPDATE
		SET avg_time_seconds = EXCLUDED.avg_time_seconds, total_visits = EXCLUDED.total_visits,
			updated_at = EXCLUDED.updated_at;
	`
	for _, r := range rows {
		if _, err := s.q.ExecContext(ctx, query, r.AccountID, r.Pathname, r.AvgTimeSeconds, r.TotalVisits); err != nil {
			return fmt.Errorf("failed to upsert page usage %s: %w", r.Pathname, err)
		}
	}
	return nil
}

func (s *PostgresStore) IncrementEventUsage(ctx context.Context, rows []models.EventUsage) error {
	query := `
		INSERT INTO event_usage (account_id, pathname, event_type, selector, elements_chain, total_events, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (account_id, pathname, event_type, selector) DO UPDATE
		SET total_events = event_usage.total_events + EXCLUDED.total_events,
			elements_chain = EXCLUDED.elements_chain, updated_at = EXCLUDED.updated_at;
	`
	for _, r := range rows {
		if _, err := s.q.ExecContext(ctx, query, r.AccountID, r.Pathname, r.EventType, r.Selector, r.ElementsChain, r.Count); err != nil {
			return fmt.Errorf("failed to increment event usage %s: %w", r.Selector, err)
		}
	}
	return nil
}

func (s *PostgresStore) TopEventUsage(ctx context.Context, accountID int64, eventType string, limit int) ([]models.EventUsage, error) {
	query := `
		SELECT account_id, pathname, event_type, selector, elements_chain, total_events, updated_at
		FROM event_usage
		WHERE account_id = $1 AND ($2::text = '' OR event_type = $2::text)
		ORDER BY total_events DESC, pathname, selector
		LIMIT NULLIF($3::int, 0);
	`
	rows, err := s.q.QueryContext(ctx, query, accountID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query event usage: %w", err)
	}
	defer rows.Close()

	var out []models.EventUsage
	for rows.Next() {
		var r models.EventUsage
		if err := rows.Scan(&r.AccountID, &r.Pathname, &r.EventType, &r.Selector, &r.ElementsChain, &r.Count, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan event usage: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event usage: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindFormUsage(ctx context.Context, accountID int64, sessionID, pathname, formHash string) (*models.FormUsage, error) {
	query := `
		SELECT id, account_id, session_id, pathname, form_hash, form_class, form_index, started_at,
			submitted_at, duration_sec, status, input_count, last_field, submit_text, elements_chain,
			fields_engaged
		FROM form_usage
		WHERE account_id = $1 AND session_id = $2 AND pathname = $3 AND form_hash = $4;
	`
	var (
		f         models.FormUsage
		submitted sql.NullTime
		duration  sql.NullInt64
		status    string
		fields    []byte
	)
	err := s.q.QueryRowContext(ctx, query, accountID, sessionID, pathname, formHash).Scan(
		&f.ID, &f.AccountID, &f.SessionID, &f.Pathname, &f.FormHash, &f.FormClass, &f.FormIndex,
		&f.StartedAt, &submitted, &duration, &status, &f.InputCount, &f.LastField, &f.SubmitText,
		&f.ElementsChain, &fields,
	)
	if err != nil {
		if mapErr(err) == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find form usage: %w", err)
	}
	if submitted.Valid {
		t := submitted.Time
		f.SubmittedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		f.DurationSec = &d
	}
	f.Status = models.FormStatus(status)
	if err := json.Unmarshal(fields, &f.FieldsEngaged); err != nil {
		return nil, fmt.Errorf("decode fields engaged of form %s: %w", f.ID, err)
	}
	return &f, nil
}

func (s *PostgresStore) SaveFormUsage(ctx context.Context, f *models.FormUsage) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	fields, err := json.Marshal(f.FieldsEngaged)
	if err != nil {
		return fmt.Errorf("encode fields engaged: %w", err)
	}
	query := `
		INSERT INTO form_usage (id, account_id, session_id, pathname, form_hash, form_class, form_index,
			started_at, submitted_at, duration_sec, status, input_count, last_field, submit_text,
			elements_chain, fields_engaged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE
		SET submitted_at = EXCLUDED.submitted_at, duration_sec = EXCLUDED.duration_sec,
			status = EXCLUDED.status, input_count = EXCLUDED.input_count,
			last_field = EXCLUDED.last_field, submit_text = EXCLUDED.submit_text,
			elements_chain = EXCLUDED.elements_chain, fields_engaged = EXCLUDED.fields_engaged;
	`
	_, err = s.q.ExecContext(ctx, query,
		f.ID, f.AccountID, f.SessionID, f.Pathname, f.FormHash, f.FormClass, f.FormIndex,
		f.StartedAt, f.SubmittedAt, f.DurationSec, string(f.Status), f.InputCount, f.LastField,
		f.SubmitText, f.ElementsChain, fields,
	)
	if err != nil {
		return fmt.Errorf("failed to save form usage %s: %w", f.ID, mapErr(err))
	}
	return nil
}

func (s *PostgresStore) CreateInsight(ctx context.Context, in *models.Insight) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	in.CreatedAt, in.UpdatedAt = now, now
	query := `
		INSERT INTO insights (id, account_id, summary, html, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	if _, err := s.q.ExecContext(ctx, query, in.ID, in.AccountID, in.Summary, in.HTML, in.CreatedAt, in.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create insight: %w", mapErr(err))
	}
	return nil
}

func (s *PostgresStore) UpdateInsightHTML(ctx context.Context, id, html string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE insights SET html = $2, updated_at = now() WHERE id = $1;`, id, html)
	if err != nil {
		return fmt.Errorf("failed to update insight %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) LatestInsight(ctx context.Context, accountID int64) (*models.Insight, error) {
	query := `
		SELECT id, account_id, summary, html, created_at, updated_at
		FROM insights
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT 1;
	`
	in := &models.Insight{}
	err := s.q.QueryRowContext(ctx, query, accountID).Scan(&in.ID, &in.AccountID, &in.Summary, &in.HTML, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		if mapErr(err) == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest insight: %w", err)
	}
	return in, nil
}

// resetStatements lists the rows each pass derives.
var resetStatements = map[models.Pass][]string{
	models.PassIdealPath: {
		`DELETE FROM interaction_events WHERE account_id = $1;`,
		`DELETE FROM journey_instances WHERE account_id = $1;`,
		`DELETE FROM journey_friction WHERE account_id = $1 AND journey_id <> '';`,
		`DELETE FROM journey_analytics WHERE account_id = $1;`,
		`DELETE FROM insights WHERE account_id = $1;`,
	},
	models.PassFriction:   {`DELETE FROM journey_friction WHERE account_id = $1 AND journey_id = '';`},
	models.PassPageUsage:  {`DELETE FROM page_usage WHERE account_id = $1;`},
	models.PassEventUsage: {`DELETE FROM event_usage WHERE account_id = $1;`},
	models.PassFormUsage:  {`DELETE FROM form_usage WHERE account_id = $1;`},
}

func (s *PostgresStore) Reset(ctx context.Context, accountID int64, passes []models.Pass) error {
	for _, p := range passes {
		if !p.Valid() {
			return fmt.Errorf("unknown pass %q", p)
		}
	}
	return s.InTx(ctx, func(tx Store) error {
		pg := tx.(*PostgresStore)
		for _, p := range passes {
			flag := fmt.Sprintf(`UPDATE raw_events SET %s = FALSE WHERE account_id = $1;`, p.Column())
			for _, stmt := range append([]string{flag}, resetStatements[p]...) {
				if _, err := pg.q.ExecContext(ctx, stmt, accountID); err != nil {
					return fmt.Errorf("reset %s: %w", p, err)
				}
			}
		}
		pg.log.Info("account reset", "account_id", accountID, "passes", passes)
		return nil
	})
}
