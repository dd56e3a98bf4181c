package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketHub/internal/domain/models"
	"MarketHub/pkg/logger"
)

type sqlDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
}

// ClickHouseArchive implements Storage for ClickHouse.
type ClickHouseArchive struct {
	db     sqlDB
	table  string
	logger *logger.Logger
}

// NewClickHouseArchive creates ClickHouse storage writing to table.
func NewClickHouseArchive(db sqlDB, table string, l *logger.Logger) *ClickHouseArchive {
	if l == nil {
		l = logger.Nop()
	}
	return &ClickHouseArchive{db: db, table: table, logger: l}
}

func (s *ClickHouseArchive) Name() string { return "clickhouse" }

// Schema returns the idempotent DDL for the archive table.
func (s *ClickHouseArchive) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts          DateTime64(3, 'UTC'),
    received_at DateTime64(3, 'UTC'),
    feed        LowCardinality(String),
    channel     LowCardinality(String),
    kind        LowCardinality(String),
    data        String
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY (feed, channel, ts)
TTL toDateTime(ts) + INTERVAL 30 DAY`, s.table)}
}

func (s *ClickHouseArchive) Init(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

const insertChunk = 2000

func (s *ClickHouseArchive) StoreBatch(ctx context.Context, msgs []models.Message) error {
	for start := 0; start < len(msgs); start += insertChunk {
		end := min(start+insertChunk, len(msgs))
		q, args, err := s.insert(msgs[start:end])
		if err != nil {
			return err
		}
		if q == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.logger.Error("clickhouse insert error",
				logger.String("table", s.table),
				logger.Int("rows", len(args)/6),
				logger.Error(err),
			)
			return fmt.Errorf("insert %d rows: %w", len(args)/6, err)
		}
	}
	return nil
}

// insert builds one multi-row INSERT. Messages without a channel are skipped.
func (s *ClickHouseArchive) insert(msgs []models.Message) (string, []any, error) {
	values := make([]string, 0, len(msgs))
	args := make([]any, 0, len(msgs)*6)
	for _, m := range msgs {
		if m.Channel == "" {
			continue
		}
		r, err := toRecord(m)
		if err != nil {
			return "", nil, err
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args,
			time.UnixMilli(r.TS).UTC(),
			time.UnixMilli(r.ReceivedAt).UTC(),
			r.Feed,
			r.Channel,
			r.Kind,
			string(r.Data),
		)
	}
	if len(values) == 0 {
		return "", nil, nil
	}
	q := fmt.Sprintf("INSERT INTO %s (ts, received_at, feed, channel, kind, data) VALUES %s", s.table, strings.Join(values, ","))
	return q, args, nil
}

// Write implements the sink interface used by the pipeline.
func (s *ClickHouseArchive) Write(ctx context.Context, batch []models.Message) error {
	return s.StoreBatch(ctx, batch)
}

// Query returns archived messages for one feed channel, newest first.
func (s *ClickHouseArchive) Query(ctx context.Context, feed, channel string, from, to time.Time, limit int) ([]models.Message, error) {
	q := fmt.Sprintf("SELECT feed, channel, kind, ts, received_at, data FROM %s WHERE feed = ? AND channel = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, feed, channel, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			r        record
			ts, recv time.Time
			data     string
		)
		if err := rows.Scan(&r.Feed, &r.Channel, &r.Kind, &ts, &recv, &data); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.TS, r.ReceivedAt, r.Data = ts.UnixMilli(), recv.UnixMilli(), []byte(data)
		m, err := r.message()
		if err != nil {
			s.logger.Warn("skipping undecodable archived row", logger.String("channel", r.Channel), logger.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ClickHouseArchive) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseArchive) Close() error {
	return nil // pool owned by pkg/clickhouse
}
