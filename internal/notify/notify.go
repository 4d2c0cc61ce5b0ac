// Package notify delivers user-visible transient notifications. Every failed
// mutation surfaces one; only operations explicitly marked fire-and-forget
// may log without a UI signal.
package notify

import (
	"log/slog"
	"sync"
)

// Notifier receives user-visible notifications. The UI layer supplies an
// implementation that renders toasts; the default logs.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier writes notifications to the structured log. Used when the host
// application has not wired a UI notifier yet.
type LogNotifier struct {
	Logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger discards.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogNotifier{Logger: logger}
}

// Success logs a success notification.
func (n *LogNotifier) Success(msg string) {
	n.Logger.Info("notification", "kind", "success", "message", msg)
}

// Error logs an error notification.
func (n *LogNotifier) Error(msg string) {
	n.Logger.Warn("notification", "kind", "error", "message", msg)
}

// Recorder captures notifications for tests.
type Recorder struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

// Success records a success notification.
func (r *Recorder) Success(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, msg)
}

// Error records an error notification.
func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

// Successes returns a copy of recorded success messages.
func (r *Recorder) Successes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.successes...)
}

// Errors returns a copy of recorded error messages.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
