package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisKeyPrefix prefixes every key the Redis sink writes.
const DefaultRedisKeyPrefix = "institutionalized:audit:"

// RedisSinkConfig configures a RedisSink.
type RedisSinkConfig struct {
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	// MaxRuns trims the run list to its newest entries. 0 keeps everything.
	MaxRuns int64 `yaml:"max_runs" json:"max_runs"`
}

// RedisSink pushes each document onto a list and stores it under a per-run
// key for lookup.
type RedisSink struct {
	client redis.UniversalClient
	cfg    RedisSinkConfig
	logger *zap.Logger
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client redis.UniversalClient, cfg RedisSinkConfig, logger *zap.Logger) *RedisSink {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{client: client, cfg: cfg, logger: logger.With(zap.String("component", "audit_redis_sink"))}
}

// ListKey is the list every document is pushed onto.
func (s *RedisSink) ListKey() string { return s.cfg.KeyPrefix + "runs" }

func (s *RedisSink) runKey(runID string) string { return s.cfg.KeyPrefix + "run:" + runID }

// Write implements Sink.
func (s *RedisSink) Write(ctx context.Context, log *Log) error {
	data, err := json.Marshal(log.Document())
	if err != nil {
		return fmt.Errorf("encode audit log: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.ListKey(), data)
	if s.cfg.MaxRuns > 0 {
		pipe.LTrim(ctx, s.ListKey(), -s.cfg.MaxRuns, -1)
	}
	pipe.Set(ctx, s.runKey(log.RunID), data, s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push audit log to redis: %w", err)
	}

	s.logger.Debug("audit log pushed", zap.String("run_id", log.RunID), zap.Int("bytes", len(data)))
	return nil
}

// Load fetches a document by run id.
func (s *RedisSink) Load(ctx context.Context, runID string) (*Document, error) {
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit log: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode audit log: %w", err)
	}
	return &doc, nil
}

// Recent returns up to n of the newest documents, newest last.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Document, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := s.client.LRange(ctx, s.ListKey(), -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	docs := make([]Document, 0, len(items))
	for _, item := range items {
		var doc Document
		if err := json.Unmarshal([]byte(item), &doc); err != nil {
			return nil, fmt.Errorf("decode audit log: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
