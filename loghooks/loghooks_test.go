package loghooks

import (
	"errors"
	"strings"
	"testing"

	"github.com/unkn0wn-root/cqcache"
)

type entry struct {
	level, msg string
	f          cqcache.Fields
}

type memLogger struct{ entries *[]entry }

func newMemLogger() memLogger { return memLogger{entries: &[]entry{}} }

func (m memLogger) add(level, msg string, f cqcache.Fields) {
	*m.entries = append(*m.entries, entry{level, msg, f})
}
func (m memLogger) Debug(msg string, f cqcache.Fields) { m.add("debug", msg, f) }
func (m memLogger) Info(msg string, f cqcache.Fields)  { m.add("info", msg, f) }
func (m memLogger) Warn(msg string, f cqcache.Fields)  { m.add("warn", msg, f) }
func (m memLogger) Error(msg string, f cqcache.Fields) { m.add("error", msg, f) }
func (m memLogger) With(cqcache.Fields) cqcache.Logger { return m }

func TestRedactsKeysByDefault(t *testing.T) {
	l := newMemLogger()
	h := New(l, Options{})
	h.InvalidationFailed("svc:v1:User:alice@example.com", false, errors.New("x"))

	e := (*l.entries)[0]
	if e.level != "error" || e.msg != "cqcache.invalidation_failed" {
		t.Fatalf("entry=%+v", e)
	}
	k := e.f["key"].(string)
	if strings.Contains(k, "alice") || len(k) != 16 {
		t.Fatalf("key not redacted: %q", k)
	}
}

func TestCustomRedact(t *testing.T) {
	l := newMemLogger()
	h := New(l, Options{Redact: func(k string) string { return k }})
	h.Evicted("svc:v1:A:1", "corrupt")
	if got := (*l.entries)[0].f["key"]; got != "svc:v1:A:1" {
		t.Fatalf("key=%v", got)
	}
}

func TestSamplesStoreErrors(t *testing.T) {
	l := newMemLogger()
	h := New(l, Options{StoreErrorEvery: 10})
	for i := 0; i < 100; i++ {
		h.StoreError("get", "k", errors.New("down"))
	}
	if n := len(*l.entries); n != 10 {
		t.Fatalf("logged %d, want 10", n)
	}
}

func TestHitsAndMissesAreNotLogged(t *testing.T) {
	l := newMemLogger()
	h := New(l, Options{})
	h.Hit("k", 0, 1)
	h.Miss("k", 0)
	if n := len(*l.entries); n != 0 {
		t.Fatalf("logged %d entries", n)
	}
}
