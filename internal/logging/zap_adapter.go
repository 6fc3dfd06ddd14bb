package logging

import "go.uber.org/zap"

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZap builds the session watcher's adapter: zap's sugared logger,
// favored here because the watcher logs on a fixed interval
// indefinitely and zap's low per-call allocation matters more for a
// background goroutine than for a one-shot CLI command.
func NewZap() Logger {
	base, err := zap.NewProduction()
	if err != nil {
		base = zap.NewNop()
	}
	return &zapLogger{sugar: base.Sugar()}
}

func (z *zapLogger) Debug(msg string, kv ...any) { z.sugar.Debugw(msg, kv...) }
func (z *zapLogger) Info(msg string, kv ...any)  { z.sugar.Infow(msg, kv...) }
func (z *zapLogger) Warn(msg string, kv ...any)  { z.sugar.Warnw(msg, kv...) }
func (z *zapLogger) Error(msg string, kv ...any) { z.sugar.Errorw(msg, kv...) }

func (z *zapLogger) With(kv ...any) Logger {
	return &zapLogger{sugar: z.sugar.With(kv...)}
}
