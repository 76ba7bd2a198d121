package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis"

	"github.com/teslashibe/go-rehearse/pkg/session"
)

// RedisConfig addresses the Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps each user's history in a Redis list.
type RedisStore struct {
	rc     *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis store: addr is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rc.Ping().Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", cfg.Addr, err)
	}

	logger.Info("redis store connected", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisStore{rc: rc, logger: logger}, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, userID string, r session.Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	if err := s.rc.WithContext(ctx).RPush(Key(userID), data).Err(); err != nil {
		return fmt.Errorf("redis store: append: %w", err)
	}
	return nil
}

// ListAll implements Store.
func (s *RedisStore) ListAll(ctx context.Context, userID string) ([]session.Record, error) {
	raw, err := s.rc.WithContext(ctx).LRange(Key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: list: %w", err)
	}

	blobs := make([][]byte, len(raw))
	for i, v := range raw {
		blobs[i] = []byte(v)
	}
	return decodeAll(blobs, s.logger), nil
}

// BaselineAverage implements Store.
func (s *RedisStore) BaselineAverage(ctx context.Context, userID, category string) (float64, bool, error) {
	records, err := s.ListAll(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	avg, ok := session.BaselineAverage(records, category)
	return avg, ok, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rc.Close()
}
