package logging

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"stepbystep_bot/internal/domain"
)

const (
	// DefaultSinkCapacity bounds the number of queued audit entries.
	DefaultSinkCapacity = 1024

	sinkFlushTimeout = 5 * time.Second
)

// SinkHook mirrors event-tagged log entries into the audit trail. Entries are
// queued on a bounded buffer and written by Run; when the buffer is full the
// entry is dropped and counted.
type SinkHook struct {
	writer  domain.LogWriter
	entries chan domain.LogEntry
	dropped atomic.Int64
}

// NewSinkHook builds a hook writing through writer.
func NewSinkHook(writer domain.LogWriter, capacity int) *SinkHook {
	if capacity <= 0 {
		capacity = DefaultSinkCapacity
	}

	return &SinkHook{
		writer:  writer,
		entries: make(chan domain.LogEntry, capacity),
	}
}

// Levels limits the audit trail to info and above.
func (h *SinkHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

// Fire queues the entry when it carries an event field. It never blocks.
func (h *SinkHook) Fire(entry *logrus.Entry) error {
	if h == nil || entry == nil {
		return nil
	}

	event, _ := entry.Data["event"].(string)
	if strings.TrimSpace(event) == "" {
		return nil
	}

	record := domain.LogEntry{
		UserID:    userIDField(entry.Data["user_id"]),
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Event:     event,
		CreatedAt: entry.Time.UTC(),
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	select {
	case h.entries <- record:
	default:
		h.dropped.Add(1)
	}

	return nil
}

// Dropped returns the number of entries discarded because the buffer was full.
func (h *SinkHook) Dropped() int64 {
	return h.dropped.Load()
}

// Run drains queued entries until ctx is cancelled, then flushes what is left.
func (h *SinkHook) Run(ctx context.Context) error {
	if h == nil || h.writer == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			h.flush(context.WithoutCancel(ctx))
			return nil
		case record := <-h.entries:
			h.write(ctx, record)
		}
	}
}

func (h *SinkHook) flush(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(ctx, sinkFlushTimeout)
	defer cancel()

	for {
		select {
		case record := <-h.entries:
			h.write(flushCtx, record)
		default:
			return
		}
	}
}

func (h *SinkHook) write(ctx context.Context, record domain.LogEntry) {
	if err := h.writer.AppendLog(ctx, record); err != nil {
		// No event field here, so this entry is not fed back into the sink.
		Warn("failed to append audit log", Fields{
			"error":       err,
			"audit_event": record.Event,
		})
	}
}

func userIDField(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
