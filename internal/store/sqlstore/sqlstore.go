// Package sqlstore is the single-file SQLite backend for the progress store
// and the audit trail.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stepbystep_bot/internal/domain"
)

// Store implements the progress store, the audit trail and connectivity
// checks on one SQLite database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ domain.ProgressStore = (*Store)(nil)
	_ domain.LogWriter     = (*Store)(nil)
	_ domain.LogReader     = (*Store)(nil)
	_ domain.Pinger        = (*Store)(nil)
)

// Open creates the database file if needed and migrates the schema.
func Open(ctx context.Context, path string, logger *logrus.Entry) (*Store, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	cfg := &gorm.Config{}
	if logger != nil {
		cfg.Logger = gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	} else {
		cfg.Logger = gormlogger.Discard
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	database, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("open sql db: %w", err)
	}
	// SQLite allows one writer; a single connection keeps updates serialized.
	sqlDB.SetMaxOpenConns(1)

	if err := database.WithContext(ctx).AutoMigrate(&userRow{}, &logRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &Store{
		db: database,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Millisecond)
		},
	}, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}

	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
