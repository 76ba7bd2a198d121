// Package store persists finished session records per user.
//
// Records are kept as opaque JSON blobs and coerced through
// session.SanitizeRaw on read, so history written by older clients with
// missing or string-typed fields still loads.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-rehearse/internal/config"
	"github.com/teslashibe/go-rehearse/pkg/session"
)

// GuestUser owns records saved without an authenticated user.
const GuestUser = "guest"

const keyPrefix = "confidence_sessions_"

// Store is a per-user append-only record log.
type Store interface {
	// Save appends r to the user's history.
	Save(ctx context.Context, userID string, r session.Record) error

	// ListAll returns the user's sanitized records in insertion order.
	ListAll(ctx context.Context, userID string) ([]session.Record, error)

	// BaselineAverage returns the mean AvgConfidence of the user's
	// records in category, and false when there are none.
	BaselineAverage(ctx context.Context, userID, category string) (float64, bool, error)

	Close() error
}

// Key returns the storage key of a user's history.
func Key(userID string) string {
	return keyPrefix + normalizeUser(userID)
}

func normalizeUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return GuestUser
	}
	return userID
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "backend", cfg.Backend)

	switch cfg.Backend {
	case "", config.StoreJSON:
		if cfg.Path == "" {
			return NewDefaultJSONStore()
		}
		return NewJSONStore(cfg.Path)
	case config.StoreRedis:
		return NewRedisStore(RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
	case config.StoreSQL:
		return NewSQLStore(SQLConfig{
			DSN:      cfg.DSN,
			PoolSize: cfg.PoolSize,
		}, logger)
	case config.StoreSheets:
		return NewSheetsStore(ctx, SheetsConfig{
			SpreadsheetID:   cfg.SheetID,
			CredentialsFile: cfg.SheetCredentials,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func encode(r session.Record) ([]byte, error) {
	data, err := json.Marshal(session.Sanitize(r))
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// decode coerces one stored blob. Blobs that are not JSON objects are
// reported as errors so callers can skip them.
func decode(data []byte) (session.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return session.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if raw == nil {
		return session.Record{}, fmt.Errorf("decode record: null")
	}
	return session.SanitizeRaw(raw), nil
}

// decodeAll decodes blobs, skipping corrupt entries.
func decodeAll(blobs [][]byte, logger *slog.Logger) []session.Record {
	records := make([]session.Record, 0, len(blobs))
	for i, b := range blobs {
		r, err := decode(b)
		if err != nil {
			logger.Warn("skipping corrupt record", "index", i, "error", err)
			continue
		}
		records = append(records, r)
	}
	return records
}
