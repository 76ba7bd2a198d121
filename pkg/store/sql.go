package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/teslashibe/go-rehearse/pkg/session"
)

// SQLConfig addresses the MySQL database.
type SQLConfig struct {
	DSN      string
	PoolSize int
}

// recordEntity is one saved record. Payload holds the full JSON blob so
// rows decode through the same sanitizer as the other backends; the
// category and score columns serve the baseline query.
type recordEntity struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	UserID        string    `gorm:"column:user_id;type:varchar(191);not null;index:idx_user_category"`
	Category      string    `gorm:"column:category;type:varchar(64);index:idx_user_category"`
	RecordID      string    `gorm:"column:record_id;type:char(36)"`
	AvgConfidence float64   `gorm:"column:avg_confidence"`
	Payload       []byte    `gorm:"column:payload;type:json;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime(3)"`
}

func (recordEntity) TableName() string {
	return "confidence_sessions"
}

// SQLStore keeps records in a MySQL table, one row per session.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSQLStore opens the database and migrates the records table.
func NewSQLStore(cfg SQLConfig, logger *slog.Logger) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sql store: dsn is required")
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("sql store: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql store: %w", err)
	}
	if cfg.PoolSize > 0 {
		sqlDB.SetMaxOpenConns(cfg.PoolSize)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s, err := OpenSQLStore(db, logger)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLStore wraps an open connection, creating the table if needed.
func OpenSQLStore(db *gorm.DB, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&recordEntity{}); err != nil {
		return nil, fmt.Errorf("sql store: migrate: %w", err)
	}
	logger.Info("sql store ready", "table", recordEntity{}.TableName())
	return &SQLStore{db: db, logger: logger}, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, userID string, r session.Record) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	row := recordEntity{
		UserID:        normalizeUser(userID),
		Category:      r.Category,
		RecordID:      r.ID,
		AvgConfidence: session.Sanitize(r).AvgConfidence,
		Payload:       data,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sql store: insert: %w", err)
	}
	return nil
}

// ListAll implements Store.
func (s *SQLStore) ListAll(ctx context.Context, userID string) ([]session.Record, error) {
	var rows []recordEntity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", normalizeUser(userID)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sql store: list: %w", err)
	}

	blobs := make([][]byte, len(rows))
	for i, row := range rows {
		blobs[i] = row.Payload
	}
	return decodeAll(blobs, s.logger), nil
}

// BaselineAverage implements Store. The mean is computed by the database.
func (s *SQLStore) BaselineAverage(ctx context.Context, userID, category string) (float64, bool, error) {
	var out struct {
		N   int64
		Avg float64
	}
	err := s.db.WithContext(ctx).
		Model(&recordEntity{}).
		Select("COUNT(*) AS n, COALESCE(AVG(avg_confidence), 0) AS avg").
		Where("user_id = ? AND category = ?", normalizeUser(userID), category).
		Scan(&out).Error
	if err != nil {
		return 0, false, fmt.Errorf("sql store: baseline: %w", err)
	}
	if out.N == 0 {
		return 0, false, nil
	}
	return out.Avg, true, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
