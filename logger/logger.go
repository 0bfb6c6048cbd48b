// Package logger is the keyvals logging contract the policy engine and the
// workflow service emit through. The default backend is phuslu-style
// structured logging; embedders already running slog can adapt theirs, and
// tests install the no-op implementation.
package logger

// Logger takes a message plus alternating key/value pairs. A trailing key
// with no value is dropped.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
