package domain

import "time"

// Button is an inline keyboard button. Exactly one of URL or Data is set.
type Button struct {
	Text string
	URL  string
	Data string
}

// Message is an outbound chat message with an optional inline keyboard.
type Message struct {
	UserID   int64
	Text     string
	Keyboard [][]Button
}

// LogEntry is one row of the append-only audit trail.
type LogEntry struct {
	ID        string
	UserID    int64 // 0 when the entry is not tied to a user
	Level     string
	Message   string
	Event     string
	CreatedAt time.Time
}

// LogQuery filters audit trail reads. Entries are returned newest first.
type LogQuery struct {
	UserID int64
	Limit  int
	Offset int
}

const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// Normalized clamps the pagination fields into their allowed ranges.
func (q LogQuery) Normalized() LogQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	if q.Limit > MaxLogLimit {
		q.Limit = MaxLogLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Stats summarizes the user base for operators.
type Stats struct {
	Users           int64
	Paid            int64
	PendingPayments int64
	Completed       int64
	Admins          int64
}
