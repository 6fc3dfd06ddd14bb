// Package logging defines a minimal structured-logging interface and
// three adapters onto it, one per logging library the dependency pool
// carries, mirroring the teacher's event/adapter/* pattern of
// pluggable backends behind one shape.
package logging

import "os"

// Logger is the shape every adapter satisfies. kv is a flat
// alternating key/value list, the convention all three backing
// libraries share in one form or another.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// New selects an adapter by name: "zerolog" (default), "zap", or
// "logrus".
func New(backend string) Logger {
	switch backend {
	case "zap":
		return NewZap()
	case "logrus":
		return NewLogrus()
	default:
		return NewZerolog()
	}
}

// FromEnv selects an adapter using GESSO_LOG_BACKEND, defaulting to
// zerolog when unset.
func FromEnv() Logger {
	return New(os.Getenv("GESSO_LOG_BACKEND"))
}
