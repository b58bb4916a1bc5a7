package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/pkg/model"
)

const lastRunKeyPrefix = "mbb:report:last_run:"

// Schema creates the usage snapshot table. One row per connection and billing cycle;
// a later run for the same cycle overwrites the earlier figures.
const Schema = `
	CREATE SCHEMA IF NOT EXISTS mbb;
	CREATE TABLE IF NOT EXISTS mbb.usage_snapshot (
		billing_cycle   TEXT        NOT NULL,
		connection_uuid TEXT        NOT NULL,
		run_id          UUID        NOT NULL,
		debtor_code     TEXT        NOT NULL DEFAULT '',
		nid             TEXT        NOT NULL DEFAULT '',
		imsi            TEXT        NOT NULL DEFAULT '',
		iccid           TEXT        NOT NULL DEFAULT '',
		tags            TEXT[],
		usage_in_bytes  NUMERIC,
		i18n_usage      NUMERIC,
		sms_usage       NUMERIC,
		recorded_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (billing_cycle, connection_uuid)
	);
`

const upsertSnapshot = `
	INSERT INTO mbb.usage_snapshot (
		billing_cycle, connection_uuid, run_id, debtor_code,
		nid, imsi, iccid, tags,
		usage_in_bytes, i18n_usage, sms_usage, recorded_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (billing_cycle, connection_uuid)
	DO UPDATE SET
		run_id = EXCLUDED.run_id,
		debtor_code = EXCLUDED.debtor_code,
		nid = EXCLUDED.nid,
		imsi = EXCLUDED.imsi,
		iccid = EXCLUDED.iccid,
		tags = EXCLUDED.tags,
		usage_in_bytes = EXCLUDED.usage_in_bytes,
		i18n_usage = EXCLUDED.i18n_usage,
		sms_usage = EXCLUDED.sms_usage,
		recorded_at = EXCLUDED.recorded_at;
`

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// HybridStore keeps usage snapshots in Postgres and the last run summary in Redis.
// Either side may be absent; its writes are then skipped.
type HybridStore struct {
	redis  *redis.Client
	PG     DB
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewHybrid connects to whichever of Redis and Postgres is configured.
func NewHybrid(ctx context.Context, redisAddr string, redisDB int, redisPass, pgURL string, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s := &HybridStore{logger: logger}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			DB:       redisDB,
			Password: redisPass,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		s.redis = rdb
	}

	if pgURL != "" {
		pool, err := pgxpool.New(ctx, pgURL)
		if err != nil {
			s.closeRedis()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if _, err := pool.Exec(ctx, Schema); err != nil {
			pool.Close()
			s.closeRedis()
			return nil, fmt.Errorf("ensure snapshot schema: %w", err)
		}
		s.pool = pool
		s.PG = pool
	}

	return s, nil
}

// Name identifies the store as a report sink.
func (s *HybridStore) Name() string { return "store" }

// Deliver saves the snapshot rows and the run summary, logging how the run compares
// with the previous one for the same debtor filter.
func (s *HybridStore) Deliver(ctx context.Context, summary *model.RunSummary, rows []model.UsageRow) error {
	s.logPrevious(ctx, summary)
	return errors.Join(
		s.SaveSnapshot(ctx, summary, rows),
		s.SaveLastRun(ctx, summary),
	)
}

// SaveSnapshot upserts one row per connection into mbb.usage_snapshot in a single batch.
func (s *HybridStore) SaveSnapshot(ctx context.Context, summary *model.RunSummary, rows []model.UsageRow) error {
	if s.PG == nil || len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(upsertSnapshot,
			summary.BillingCycle,
			r.UUID,
			summary.RunID,
			summary.DebtorCode,
			r.NID,
			r.IMSI,
			r.ICCID,
			r.Tags,
			r.UsageInBytes.Decimal(),
			r.I18nUsage.Decimal(),
			r.SMSUsage.Decimal(),
			summary.FinishedAt,
		)
	}

	results := s.PG.SendBatch(ctx, batch)
	for i := range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			s.logger.Error("store.pg.snapshot_failed",
				zap.String("connection", rows[i].UUID),
				zap.Error(err))
			return fmt.Errorf("upsert snapshot for %s: %w", rows[i].UUID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close snapshot batch: %w", err)
	}

	s.logger.Info("store.pg.snapshot_saved",
		zap.String("billing_cycle", summary.BillingCycle),
		zap.Int("rows", len(rows)))
	return nil
}

// SaveLastRun stores the summary under the debtor filter it was produced for.
func (s *HybridStore) SaveLastRun(ctx context.Context, summary *model.RunSummary) error {
	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if err := s.redis.Set(ctx, lastRunKey(summary.DebtorCode), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set last run: %w", err)
	}
	return nil
}

func (s *HybridStore) logPrevious(ctx context.Context, summary *model.RunSummary) {
	if s.redis == nil {
		return
	}
	prev, err := s.LastRun(ctx, summary.DebtorCode)
	if err != nil {
		s.logger.Warn("store.redis.last_run_failed", zap.Error(err))
		return
	}
	if prev == nil {
		return
	}
	s.logger.Info("store.previous_run",
		zap.String("previous_run_id", prev.RunID.String()),
		zap.Time("previous_finished_at", prev.FinishedAt),
		zap.Int("rows_delta", summary.Rows-prev.Rows),
		zap.String("usage_bytes_delta", summary.TotalBytes.Sub(prev.TotalBytes).String()))
}

// LastRun returns the most recent summary for a debtor filter, or nil if there is none.
func (s *HybridStore) LastRun(ctx context.Context, debtorCode string) (*model.RunSummary, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("redis not initialized")
	}
	data, err := s.redis.Get(ctx, lastRunKey(debtorCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get last run: %w", err)
	}

	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decode last run: %w", err)
	}
	return &summary, nil
}

// Close releases both connections.
func (s *HybridStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return s.closeRedis()
}

func (s *HybridStore) closeRedis() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

func lastRunKey(debtorCode string) string {
	if debtorCode == "" {
		return lastRunKeyPrefix + "all"
	}
	return lastRunKeyPrefix + strings.ToLower(debtorCode)
}
