package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"stepbystep_bot/internal/domain"
)

type logRow struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64     `gorm:"column:user_id;not null;default:0;index:idx_logs_user_created,priority:1"`
	Level     string    `gorm:"column:level;not null"`
	Message   string    `gorm:"column:message;not null"`
	Event     string    `gorm:"column:event;not null;default:''"`
	CreatedAt time.Time `gorm:"column:created_at;index;index:idx_logs_user_created,priority:2"`
}

func (logRow) TableName() string {
	return "logs"
}

// AppendLog inserts one audit entry.
func (s *Store) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	row := logRow{
		UserID:    entry.UserID,
		Level:     entry.Level,
		Message:   entry.Message,
		Event:     entry.Event,
		CreatedAt: createdAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append log: %w", err)
	}

	return nil
}

// ListLogs returns audit entries newest first.
func (s *Store) ListLogs(ctx context.Context, query domain.LogQuery) ([]domain.LogEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	query = query.Normalized()
	tx := s.db.WithContext(ctx).Model(&logRow{})
	if query.UserID != 0 {
		tx = tx.Where("user_id = ?", query.UserID)
	}

	rows := make([]logRow, 0)
	if err := tx.Order("created_at DESC, id DESC").Offset(query.Offset).Limit(query.Limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}

	entries := make([]domain.LogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, domain.LogEntry{
			ID:        strconv.FormatUint(uint64(row.ID), 10),
			UserID:    row.UserID,
			Level:     row.Level,
			Message:   row.Message,
			Event:     row.Event,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}

	return entries, nil
}
