// Package notify delivers user-visible notifications about session outcomes:
// started, saved, deleted, failed. Every failed operation of a session
// manager emits exactly one notification.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single user-visible message.
type Notification struct {
	Level   Level     `json:"level"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// New builds a notification stamped with the current time.
func New(level Level, code, message string) Notification {
	return Notification{Level: level, Code: code, Message: message, Time: time.Now()}
}

// Notifier receives notifications. Implementations must not block the caller
// for longer than it takes to hand the notification off.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Compile-time checks.
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Memory)(nil)
	_ Notifier = Multi(nil)
	_ Notifier = (*Hub)(nil)
)

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs through logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n at the slog level matching its severity.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, n.Message,
		slog.String("code", n.Code),
		slog.String("level", string(n.Level)),
	)
}

// Memory collects notifications in memory. Used in tests.
type Memory struct {
	mu    sync.Mutex
	items []Notification
}

// NewMemory creates an empty collector.
func NewMemory() *Memory {
	return &Memory{}
}

// Notify records n.
func (m *Memory) Notify(_ context.Context, n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
}

// All returns a copy of every recorded notification in arrival order.
func (m *Memory) All() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items)
}

// Codes returns the codes of every recorded notification in arrival order.
func (m *Memory) Codes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, len(m.items))
	for i, n := range m.items {
		codes[i] = n.Code
	}
	return codes
}

// Reset drops every recorded notification.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
}

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

// Notify forwards n to every non-nil notifier.
func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(ctx, n)
		}
	}
}
