package logrus

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/cqcache"
)

func TestLogrusAdapter(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.DebugLevel)

	l := New(base).With(cqcache.Fields{"service": "svc"})
	l.Info("invalidated", cqcache.Fields{"key": "svc:v1:a"})

	out := buf.String()
	for _, want := range []string{`"component":"cqcache"`, `"service":"svc"`, `"key":"svc:v1:a"`, `"msg":"invalidated"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}
