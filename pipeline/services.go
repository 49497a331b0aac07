package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eitanko/Suggesty-backend/config"
	"github.com/eitanko/Suggesty-backend/database"
	"github.com/eitanko/Suggesty-backend/lock"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/narration"
	"github.com/eitanko/Suggesty-backend/store"
)

// Services holds the connections a process opens from its Config. Archive
// is nil when ClickHouse is not configured; Redis is nil when locks are
// process local.
type Services struct {
	DB         *database.DBClient
	ClickHouse *database.ClickHouseClient
	Redis      *redis.Client
	Store      store.Store
	Archive    store.Archive
	Runner     *Runner
}

// Open connects to Postgres (applying the schema), and to ClickHouse and
// Redis when they are configured, then builds the Runner.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Services, error) {
	svc := &Services{}
	var err error

	if svc.DB, err = database.NewPostgresDB(ctx, cfg.DatabaseURL, log); err != nil {
		return nil, err
	}
	if err = database.Migrate(ctx, svc.DB.DB); err != nil {
		svc.Close()
		return nil, err
	}
	svc.Store = store.NewPostgresStore(svc.DB.DB, log)

	if cfg.ClickHouseHost != "" {
		svc.ClickHouse, err = database.NewClickHouseDB(ctx, database.ClickHouseConfig{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		}, log)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Archive = store.NewAnalyticsStore(svc.ClickHouse, log)
	} else {
		log.Warn("CLICKHOUSE_HOST not set, raw event archive disabled")
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		if svc.Redis, err = database.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log); err != nil {
			svc.Close()
			return nil, err
		}
		locker = lock.NewRedisLocker(svc.Redis)
	}

	var narrator narration.Narrator
	if cfg.GenAIAPIKey != "" {
		n, err := narration.NewGenAINarrator(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("narrator: %w", err)
		}
		narrator = n
	}

	svc.Runner = NewRunner(svc.Store, cfg.Tuning, Options{
		Locker:   locker,
		Reporter: narration.NewReporter(svc.Store, narrator, time.Now, log),
		Log:      log,
	})
	return svc, nil
}

func (s *Services) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.ClickHouse != nil {
		s.ClickHouse.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
