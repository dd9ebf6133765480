// Package notify carries user-facing session notices out of the automation engine.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Severity tags a notice
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Notice is one outbound notification. Important notices belong on the persistent panel;
// the rest are diagnostic only.
type Notice struct {
	Severity     Severity      `json:"severity"`
	Important    bool          `json:"important"`
	Message      string        `json:"message"`
	DismissAfter time.Duration `json:"dismissAfter,omitempty"`
	SessionID    string        `json:"sessionId,omitempty"`
	Time         time.Time     `json:"time"`
}

// Notifier receives notices. Implementations must not block the caller for long.
type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to Notifier
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Multi fans a notice out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// Discard drops every notice
var Discard Notifier = Func(func(Notice) {})

// Logger writes notices to a zap logger: important ones at info (error severity at error),
// diagnostic ones at debug.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a Logger notifier
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("notice")}
}

func (l *Logger) Notify(n Notice) {
	fields := []zap.Field{zap.String("severity", string(n.Severity))}
	if n.SessionID != "" {
		fields = append(fields, zap.String("session", n.SessionID))
	}
	switch {
	case !n.Important:
		l.logger.Debug(n.Message, fields...)
	case n.Severity == SeverityError:
		l.logger.Error(n.Message, fields...)
	default:
		l.logger.Info(n.Message, fields...)
	}
}

// Recorder keeps every notice in memory. Tests use it to assert on what was reported.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Important returns only the important notices
func (r *Recorder) Important() []Notice {
	var out []Notice
	for _, n := range r.Notices() {
		if n.Important {
			out = append(out, n)
		}
	}
	return out
}
