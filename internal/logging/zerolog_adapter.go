package logging

import (
	"os"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	ctx zerolog.Context
}

// NewZerolog builds the daemon's default adapter: zerolog writing
// structured JSON to stderr.
func NewZerolog() Logger {
	l := zerolog.New(os.Stderr).With().Timestamp()
	return &zerologLogger{ctx: l}
}

func (z *zerologLogger) log(level zerolog.Level, msg string, kv []any) {
	ev := z.ctx.Logger().WithLevel(level)
	ev = applyFields(ev, kv)
	ev.Msg(msg)
}

func applyFields(ev *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}

func (z *zerologLogger) Debug(msg string, kv ...any) { z.log(zerolog.DebugLevel, msg, kv) }
func (z *zerologLogger) Info(msg string, kv ...any)  { z.log(zerolog.InfoLevel, msg, kv) }
func (z *zerologLogger) Warn(msg string, kv ...any)  { z.log(zerolog.WarnLevel, msg, kv) }
func (z *zerologLogger) Error(msg string, kv ...any) { z.log(zerolog.ErrorLevel, msg, kv) }

func (z *zerologLogger) With(kv ...any) Logger {
	ctx := z.ctx
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zerologLogger{ctx: ctx}
}
