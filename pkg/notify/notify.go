// Package notify defines the toast surface the engine uses to report
// user-visible, non-fatal conditions. The UI layer supplies a real
// implementation; LogNotifier is the headless fallback.
package notify

import "chatflow/pkg/logger"

// Level classifies a toast.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier receives user-visible notifications. Implementations must be
// safe for concurrent use; the engine may call Toast from the drain loop
// and from the approval deadline watcher.
type Notifier interface {
	Toast(level Level, message string)
}

// LogNotifier routes toasts to the global logger.
type LogNotifier struct{}

func (LogNotifier) Toast(level Level, message string) {
	switch level {
	case LevelError:
		logger.Error("toast", "message", message)
	case LevelWarning:
		logger.Warn("toast", "message", message)
	default:
		logger.Info("toast", "message", message)
	}
}

// Func adapts a function to the Notifier interface.
type Func func(level Level, message string)

func (f Func) Toast(level Level, message string) { f(level, message) }
