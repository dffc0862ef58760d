// Package logging configures the process logger and the audit sink that
// mirrors event-tagged entries into the store.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stepbystep_bot/internal/config"
)

const serviceName = "step-bot"

var (
	mu   sync.RWMutex
	root *logrus.Entry
)

// Fields is a shorthand alias for structured log fields.
type Fields = logrus.Fields

// Scope is the set of correlation fields shared by every entry about one
// user interaction. Zero values are omitted.
type Scope struct {
	UserID  int64
	ChatID  int64
	Event   string
	Trigger string
}

// On derives an entry from base carrying the scope's fields. A nil base falls
// back to the process logger.
func (s Scope) On(base *logrus.Entry) *logrus.Entry {
	if base == nil {
		base = Logger()
	}

	fields := Fields{}
	if s.UserID != 0 {
		fields["user_id"] = s.UserID
	}
	if s.ChatID != 0 {
		fields["chat_id"] = s.ChatID
	}
	if event := strings.TrimSpace(s.Event); event != "" {
		fields["event"] = event
	}
	if trigger := strings.TrimSpace(s.Trigger); trigger != "" {
		fields["trigger"] = trigger
	}
	if len(fields) == 0 {
		return base
	}
	return base.WithFields(fields)
}

// Setup builds the process logger from cfg and installs it as the fallback
// used by the package helpers. Production writes JSON, development writes
// text.
func Setup(cfg config.Config) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	entry := newEntry(cfg.AppEnv, level)

	mu.Lock()
	root = entry
	mu.Unlock()

	return entry, nil
}

// Logger returns the process logger. Before Setup it returns a production
// logger at info level so early boot errors are still structured.
func Logger() *logrus.Entry {
	mu.RLock()
	entry := root
	mu.RUnlock()
	if entry != nil {
		return entry
	}

	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = newEntry(config.DefaultAppEnv, logrus.InfoLevel)
	}
	return root
}

// Info logs through the process logger.
func Info(msg string, fields Fields) {
	Logger().WithFields(fields).Info(msg)
}

// Warn logs through the process logger.
func Warn(msg string, fields Fields) {
	Logger().WithFields(fields).Warn(msg)
}

// Error logs through the process logger.
func Error(msg string, fields Fields) {
	Logger().WithFields(fields).Error(msg)
}

func newEntry(appEnv string, level logrus.Level) *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatterForEnv(appEnv))

	return logger.WithFields(Fields{
		"service": serviceName,
		"env":     appEnv,
	})
}

func formatterForEnv(appEnv string) logrus.Formatter {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyTime:  "ts",
		logrus.FieldKeyMsg:   "msg",
		logrus.FieldKeyLevel: "level",
	}

	if appEnv == config.EnvDevelopment {
		return &logrus.TextFormatter{
			FullTimestamp:          true,
			TimestampFormat:        time.RFC3339Nano,
			FieldMap:               fieldMap,
			DisableLevelTruncation: true,
		}
	}

	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap:        fieldMap,
	}
}

// install replaces the process logger; tests use it to capture output.
func install(entry *logrus.Entry) {
	mu.Lock()
	root = entry
	mu.Unlock()
}
