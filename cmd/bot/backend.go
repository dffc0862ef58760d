package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stepbystep_bot/internal/config"
	"stepbystep_bot/internal/domain"
	"stepbystep_bot/internal/logging"
	"stepbystep_bot/internal/store"
	"stepbystep_bot/internal/store/sqlstore"
)

const (
	storeConnectTimeout  = 10 * time.Second
	storeShutdownTimeout = 5 * time.Second
)

type logStore interface {
	domain.LogWriter
	domain.LogReader
}

// backend groups the stores served by one storage driver.
type backend struct {
	progress domain.ProgressStore
	logs     logStore
	pinger   domain.Pinger
	close    func(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg config.Config, logger *logrus.Entry) (*backend, error) {
	connectCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	switch cfg.StoreDriver {
	case config.DriverMongo:
		manager, err := store.NewManager(connectCtx, cfg)
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := manager.EnsureBaseIndexes(connectCtx); err != nil {
			_ = manager.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}

		logger.WithFields(logging.Fields{
			"event":    "store_ready",
			"driver":   cfg.StoreDriver,
			"database": cfg.MongoDB,
		}).Info("store connected")

		return &backend{
			progress: manager.UserStore(),
			logs:     manager.LogStore(),
			pinger:   manager,
			close:    manager.Close,
		}, nil
	case config.DriverSQLite:
		db, err := sqlstore.Open(connectCtx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}

		logger.WithFields(logging.Fields{
			"event":  "store_ready",
			"driver": cfg.StoreDriver,
			"path":   cfg.SQLitePath,
		}).Info("store opened")

		return &backend{
			progress: db,
			logs:     db,
			pinger:   db,
			close:    func(context.Context) error { return db.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func closeBackend(b *backend, logger *logrus.Entry) {
	if b == nil || b.close == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeShutdownTimeout)
	defer cancel()

	if err := b.close(ctx); err != nil {
		logger.WithError(err).Warn("store close failed")
	}
}
