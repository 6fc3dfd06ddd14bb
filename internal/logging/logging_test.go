package logging

import "testing"

func TestNewSelectsBackendWithoutPanic(t *testing.T) {
	for _, backend := range []string{"zerolog", "zap", "logrus", "", "unknown"} {
		l := New(backend)
		if l == nil {
			t.Fatalf("New(%q) returned nil", backend)
		}
		l.Info("smoke test", "backend", backend)
		if w := l.With("request_id", 1); w == nil {
			t.Fatalf("New(%q).With(...) returned nil", backend)
		}
	}
}

func TestLogrusFieldsOddKVIgnoresTrailingKey(t *testing.T) {
	l := &logrusLogger{}
	fields := l.fields([]any{"a", 1, "b"})
	if len(fields) != 1 || fields["a"] != 1 {
		t.Fatalf("fields = %+v, want only {a:1}", fields)
	}
}
