package bus

import "log/slog"

// Logger defines the interface the broker uses for its advisory debug
// output and for warnings raised when a handler or unsubscribe operation
// fails. The broker never depends on the content of these messages: test
// suites must not assert against log text, only against the observable
// state of the broker.
//
// The variadic key-value signature mirrors the shape used by slog,
// logrus, and zap, so any of those can be adapted to this interface with
// a thin wrapper.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// slogLogger adapts a *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l as a bus.Logger. A nil l falls back to
// slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l}
}

func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }

// noopLogger discards everything. Used only as a last-resort default so
// the broker never needs a nil check on its logger field.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}
