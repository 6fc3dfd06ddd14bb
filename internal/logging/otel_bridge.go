package logging

import (
	"github.com/go-logr/logr"

	"go.opentelemetry.io/otel"
)

// logrSink adapts a Logger to logr.LogSink so otel's own internal
// diagnostic logging (dropped spans, exporter errors) flows through
// whichever backend the daemon chose, instead of otel's default
// stderr writer.
type logrSink struct {
	log Logger
}

func (s *logrSink) Init(logr.RuntimeInfo) {}

func (s *logrSink) Enabled(int) bool { return true }

func (s *logrSink) Info(_ int, msg string, kv ...any) {
	s.log.Info(msg, kv...)
}

func (s *logrSink) Error(err error, msg string, kv ...any) {
	s.log.Error(msg, append(kv, "err", err)...)
}

func (s *logrSink) WithValues(kv ...any) logr.LogSink {
	return &logrSink{log: s.log.With(kv...)}
}

func (s *logrSink) WithName(name string) logr.LogSink {
	return &logrSink{log: s.log.With("logger", name)}
}

// InstallOTelLogger bridges log into otel's global internal logger, so
// a daemon started with GESSO_LOG_BACKEND=zap (for example) sees otel's
// own diagnostics in the same structured stream as everything else.
func InstallOTelLogger(log Logger) {
	otel.SetLogger(logr.New(&logrSink{log: log}))
}
