package mutation

import (
	"ledger-sync/pkg/logging"

	"go.uber.org/zap"
)

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a user-facing outcome message.
type Notification struct {
	Level   Level
	Kind    Kind
	LoanID  string
	Message string
	// Fields holds per-field validation messages, when the service sent any
	Fields map[string]string
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *logging.Logger
}

// Notify logs n at info or warn level.
func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger.Or()
	fields := []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.String("loan_id", n.LoanID),
	}
	if n.Level == LevelError {
		logger.Warn(n.Message, fields...)
		return
	}
	logger.Info(n.Message, fields...)
}
