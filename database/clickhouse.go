package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/eitanko/Suggesty-backend/logger"
)

type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

type ClickHouseClient struct {
	Conn clickhouse.Conn
	log  *logger.Logger
}

const archiveTable = `
CREATE TABLE IF NOT EXISTS raw_event_archive (
    event_id    String,
    account_id  Int64,
    event_type  LowCardinality(String),
    user_id     String,
    session_id  String,
    timestamp   DateTime64(3, 'UTC'),
    page_path   String,
    selector    String,
    referrer    String,
    user_agent  String,
    ip_address  String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (account_id, timestamp, event_id)`

func NewClickHouseDB(ctx context.Context, cfg ClickHouseConfig, log *logger.Logger) (*ClickHouseClient, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Host == "" || cfg.Port == 0 || cfg.Database == "" {
		return nil, fmt.Errorf("clickhouse host, native port and database must be set")
	}

	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "suggesty-backend", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: time.Second * 5,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse via Native TCP: %w", err)
	}
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(pingCtx, archiveTable); err != nil {
		return nil, fmt.Errorf("create raw event archive: %w", err)
	}

	log.Info("connected to clickhouse", "host", cfg.Host, "database", cfg.Database)
	return &ClickHouseClient{Conn: conn, log: log}, nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn != nil {
		c.Conn.Close()
		c.log.Info("clickhouse connection closed")
	}
}
