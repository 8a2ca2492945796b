package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/cqcache"
)

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	base := stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))

	l := Logger{L: base}.With(cqcache.Fields{"service": "svc"})
	l.Debug("evicted", cqcache.Fields{"reason": "corrupt"})

	out := buf.String()
	for _, want := range []string{`"service":"svc"`, `"reason":"corrupt"`, `"level":"DEBUG"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}
