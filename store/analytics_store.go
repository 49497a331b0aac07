package store

import (
	"context"
	"fmt"
	"time"

	"github.com/eitanko/Suggesty-backend/database"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/utils"
)

// Archive mirrors raw events into a column store for time-series stats.
type Archive interface {
	InsertArchivedEvents(ctx context.Context, events []models.ArchivedEvent) error
	GetEventCountsOverTime(ctx context.Context, accountID int64, interval string, start, end time.Time, eventTypeFilter string) ([]EventTypeCountByTime, error)
	GetUniqueUsersOverTime(ctx context.Context, accountID int64, interval string, start, end time.Time) ([]EventTypeCountByTime, error)
	GetTopNPagePaths(ctx context.Context, accountID int64, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
}

// AnalyticsStore is the ClickHouse Archive.
type AnalyticsStore struct {
	DB  *database.ClickHouseClient
	log *logger.Logger
}

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

var _ Archive = (*AnalyticsStore)(nil)

func NewAnalyticsStore(chClient *database.ClickHouseClient, log *logger.Logger) *AnalyticsStore {
	if log == nil {
		log = logger.Nop()
	}
	return &AnalyticsStore{DB: chClient, log: log.With("component", "archive")}
}

func (s *AnalyticsStore) InsertArchivedEvents(ctx context.Context, events []models.ArchivedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO raw_event_archive (
			event_id, account_id, event_type, user_id, session_id, timestamp, page_path, selector,
			referrer, user_agent, ip_address
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.EventID,
			event.AccountID,
			event.EventType,
			event.UserID,
			event.SessionID,
			event.Timestamp,
			event.PagePath,
			event.Selector,
			event.Referrer,
			event.UserAgent,
			event.IPAddress,
		)
		if err != nil {
			s.log.Warn("error appending event to batch", "event_id", event.EventID, "error", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.log.Debug("archived events", "count", len(events))
	return nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, accountID int64, interval string, start, end time.Time, eventTypeFilter string) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}
	args := []interface{}{accountID, start, end}

	selectCols := fmt.Sprintf("toStartOf%s(timestamp) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE account_id = ? AND timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM raw_event_archive
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var (
			timeBucket  time.Time
			count       uint64
			eventTypeDB string
			current     EventTypeCountByTime
		)
		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				s.log.Warn("error scanning event count row", "error", err)
				continue
			}
			current.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				s.log.Warn("error scanning event count row", "error", err)
				continue
			}
		}
		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetUniqueUsersOverTime(ctx context.Context, accountID int64, interval string, start, end time.Time) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(user_id) AS unique_users
		FROM raw_event_archive
		WHERE account_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, accountID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique users over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var uniqueUsers uint64
		if err := rows.Scan(&timeBucket, &uniqueUsers); err != nil {
			s.log.Warn("error scanning unique users row", "error", err)
			continue
		}
		results = append(results, EventTypeCountByTime{Time: timeBucket, Count: uniqueUsers})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique users: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetTopNPagePaths(ctx context.Context, accountID int64, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT page_path, count() as view_count
		FROM raw_event_archive
		WHERE account_id = ? AND event_type IN ('pageview', '$pageview') AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_path
		ORDER BY view_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, accountID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var pagePath string
		var count uint64
		if err := rows.Scan(&pagePath, &count); err != nil {
			s.log.Warn("error scanning top page path row", "error", err)
			continue
		}
		results = append(results, models.TopPathResult{PagePath: pagePath, Count: count})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}
	return results, nil
}
