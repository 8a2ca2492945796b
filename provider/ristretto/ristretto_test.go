package ristretto

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{NumCounters: 1e4, MaxCost: 1 << 20, BufferItems: 64})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestNewRejectsZeroConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	ok, err := p.Set(ctx, "svc:v1:a", []byte("v"), 1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("set ok=%v err=%v", ok, err)
	}
	p.Wait()

	b, ok, err := p.Get(ctx, "svc:v1:a")
	if err != nil || !ok || string(b) != "v" {
		t.Fatalf("get=%q ok=%v err=%v", b, ok, err)
	}

	if err := p.Del(ctx, "svc:v1:a"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := p.Get(ctx, "svc:v1:a"); ok {
		t.Fatal("entry survived Del")
	}
}

func TestDelPrefixUsesKeyIndex(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	for _, k := range []string{"svc:v1:List:1", "svc:v1:List:2", "svc:v1:Item:1"} {
		if _, err := p.Set(ctx, k, []byte(k), 1, time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	p.Wait()

	n, err := p.DelPrefix(ctx, "svc:v1:List:")
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if _, ok, _ := p.Get(ctx, "svc:v1:List:1"); ok {
		t.Fatal("List:1 survived")
	}
	if _, ok, _ := p.Get(ctx, "svc:v1:Item:1"); !ok {
		t.Fatal("Item:1 removed")
	}
	if n, _ := p.DelPrefix(ctx, "svc:v1:List:"); n != 0 {
		t.Fatalf("second DelPrefix removed %d", n)
	}
}

func TestManyAndRefresh(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	if err := p.SetMany(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, time.Minute); err != nil {
		t.Fatal(err)
	}
	p.Wait()

	got, err := p.GetMany(ctx, []string{"a", "b", "c"})
	if err != nil || len(got) != 2 || string(got["a"]) != "1" {
		t.Fatalf("got=%v err=%v", got, err)
	}

	if err := p.Refresh(ctx, "a", time.Hour); err != nil {
		t.Fatal(err)
	}
	p.Wait()
	if _, ok, _ := p.Get(ctx, "a"); !ok {
		t.Fatal("refresh dropped the entry")
	}
	if err := p.Refresh(ctx, "missing", time.Hour); err != nil {
		t.Fatal(err)
	}
}

func TestTTLExpires(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	if _, err := p.Set(ctx, "k", []byte("v"), 1, 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	p.Wait()
	time.Sleep(100 * time.Millisecond)
	if _, ok, _ := p.Get(ctx, "k"); ok {
		t.Fatal("entry outlived its ttl")
	}
}

func indexed(p *Provider) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func TestKeyIndexStaysBoundedUnderPressure(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{NumCounters: 1e4, MaxCost: 10, BufferItems: 64})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	for i := 0; i < 5000; i++ {
		_, _ = p.Set(ctx, fmt.Sprintf("svc:v1:k:%d", i), []byte("v"), 1, time.Minute)
	}
	p.Wait()

	if n := indexed(p); n > 10 {
		t.Fatalf("key index holds %d entries for a cache of cost 10", n)
	}
}

func TestOverwriteKeepsKeyIndexed(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	_, _ = p.Set(ctx, "svc:v1:a", []byte("1"), 1, time.Minute)
	p.Wait()
	_, _ = p.Set(ctx, "svc:v1:a", []byte("2"), 1, time.Minute)
	p.Wait()

	b, ok, _ := p.Get(ctx, "svc:v1:a")
	if !ok || string(b) != "2" {
		t.Fatalf("get=%q ok=%v", b, ok)
	}
	if n, _ := p.DelPrefix(ctx, "svc:v1:"); n != 1 {
		t.Fatalf("DelPrefix removed %d, want 1", n)
	}
	if n := indexed(p); n != 0 {
		t.Fatalf("index holds %d after DelPrefix", n)
	}
}

func TestDelPrunesKeyIndex(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	_, _ = p.Set(ctx, "svc:v1:a", []byte("1"), 1, time.Minute)
	p.Wait()
	_ = p.Del(ctx, "svc:v1:a")
	p.Wait()
	if n := indexed(p); n != 0 {
		t.Fatalf("index holds %d after Del", n)
	}
}
