package logger

// Logger is the structured logging surface used by the engine and stores.
// Implementations accept alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// IDFunc generates a correlation ID for audit records. It must be safe for
// concurrent calls.
type IDFunc func() string
