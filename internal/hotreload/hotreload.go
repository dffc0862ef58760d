// Package hotreload refreshes the catalog and policy snapshots from their
// authoritative documents.
package hotreload

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"stepbystep_bot/internal/logging"
)

// Source is a snapshot holder that can reload itself. Reload reports whether
// a new snapshot was published.
type Source interface {
	Name() string
	Reload(ctx context.Context) (bool, error)
}

// Reloader reloads each source independently; one failing document does not
// block the others.
type Reloader struct {
	sources []Source
	logger  *logrus.Entry
}

// New builds a Reloader.
func New(logger *logrus.Entry, sources ...Source) *Reloader {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Reloader{sources: sources, logger: logger}
}

// Reload refreshes every source and returns the joined errors.
func (r *Reloader) Reload(ctx context.Context) error {
	if r == nil {
		return errors.New("reloader is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	var errs []error
	for _, source := range r.sources {
		changed, err := source.Reload(ctx)
		if err != nil {
			r.logger.WithFields(logging.Fields{
				"event":  "config_reload_failed",
				"source": source.Name(),
				"error":  err,
			}).Warn("reload failed, keeping previous snapshot")
			errs = append(errs, fmt.Errorf("reload %s: %w", source.Name(), err))
			continue
		}

		entry := r.logger.WithFields(logging.Fields{
			"source":  source.Name(),
			"changed": changed,
		})
		if changed {
			entry.WithField("event", "config_reloaded").Info("published new snapshot")
		} else {
			entry.Debug("snapshot unchanged")
		}
	}

	return errors.Join(errs...)
}
