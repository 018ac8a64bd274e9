package fileproxy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkweaver/internal/fingerprint"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestSplitLines_KeepsTerminators(t *testing.T) {
	cases := map[string][]string{
		"":               nil,
		"a":              {"a"},
		"a\n":            {"a\n"},
		"a\nb":           {"a\n", "b"},
		"a\r\nb\r\n":     {"a\r\n", "b\r\n"},
		"a\rb\n\n":       {"a\r", "b\n", "\n"},
		"\n\n":           {"\n", "\n"},
		"x\ny\nz\nfinal": {"x\n", "y\n", "z\n", "final"},
	}
	for in, want := range cases {
		got := SplitLines(in)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("SplitLines(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewProxy_DecodeErrorSetsFlag(t *testing.T) {
	p, err := NewProxy("/x", []byte{0xff, 0xfe, 'a', '\n'}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.DecodeError() {
		t.Fatalf("expected decode error for invalid utf-8")
	}
	if p.Text() != "" || p.LineCount() != 0 {
		t.Fatalf("text and lines must be empty on decode failure")
	}
	if p.Size() != 4 {
		t.Fatalf("raw bytes must be kept, got %d", p.Size())
	}
}

func TestNewProxy_ConfigurableEncoding(t *testing.T) {
	// 0xe9 is "é" in latin-1 but invalid as utf-8.
	raw := []byte("caf\xe9\n")
	p, err := NewProxy("/x", raw, "latin1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DecodeError() {
		t.Fatalf("unexpected decode error: %v", p.DecodeErr())
	}
	if p.Text() != "café\n" {
		t.Fatalf("text mismatch: %q", p.Text())
	}
	if _, err := NewProxy("/x", raw, "no-such-encoding"); !errors.Is(err, ErrUnknownEncoding) {
		t.Fatalf("expected ErrUnknownEncoding, got %v", err)
	}
}

func TestProxy_LinesRestartable(t *testing.T) {
	p, err := NewProxy("/x", []byte("a\nb\n"), "utf-8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := p.Lines()
	first[0] = "mutated"
	second := p.Lines()
	if second[0] != "a\n" {
		t.Fatalf("lines must not be affected by caller mutation: %q", second[0])
	}
	if l, ok := p.Line(2); !ok || l != "b" {
		t.Fatalf("Line(2) = %q, %v", l, ok)
	}
}

func TestCache_SingleDecodePerPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("hello\n"))

	c, err := NewCache(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var reads atomic.Int32
	c.readFile = func(p string) ([]byte, error) {
		reads.Add(1)
		time.Sleep(5 * time.Millisecond)
		return os.ReadFile(p)
	}

	var wg sync.WaitGroup
	proxies := make([]*Proxy, 16)
	for i := range proxies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Get(context.Background(), path)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			proxies[i] = p
		}(i)
	}
	wg.Wait()

	if got := reads.Load(); got != 1 {
		t.Fatalf("expected exactly one read, got %d", got)
	}
	for i := 1; i < len(proxies); i++ {
		if proxies[i] != proxies[0] {
			t.Fatalf("all callers must share the same proxy")
		}
	}
}

func TestCache_CanonicalizesPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("x"))

	c, _ := NewCache(Options{})
	p1, err := c.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := c.Get(context.Background(), filepath.Join(dir, ".", "sub", "..", "a.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p1 != p2 || c.Len() != 1 {
		t.Fatalf("equivalent paths must share one entry")
	}
	if !filepath.IsAbs(p1.Filename()) {
		t.Fatalf("filename must be absolute: %q", p1.Filename())
	}
}

func TestCache_InvalidateRereads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("v1\n"))

	c, _ := NewCache(Options{})
	p1, _ := c.Get(context.Background(), path)
	writeFile(t, dir, "a.txt", []byte("v2\n"))

	p2, _ := c.Get(context.Background(), path)
	if p2.Text() != "v1\n" {
		t.Fatalf("cached proxy must not observe disk change before invalidate")
	}

	c.Invalidate(path)
	p3, err := c.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p3.Text() != "v2\n" {
		t.Fatalf("expected re-read after invalidate, got %q", p3.Text())
	}
	if !p1.Equal(p3) {
		t.Fatalf("proxies for the same file must be equal")
	}
}

func TestCache_FileUnavailable(t *testing.T) {
	c, _ := NewCache(Options{})
	_, err := c.Get(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, ErrFileUnavailable) {
		t.Fatalf("expected ErrFileUnavailable, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected underlying not-exist cause, got %v", err)
	}

	_, err = c.Get(context.Background(), t.TempDir())
	if !errors.Is(err, ErrFileUnavailable) {
		t.Fatalf("directories must be unavailable, got %v", err)
	}
}

func TestCache_CancelledContextObservedBeforeRead(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("x"))

	c, _ := NewCache(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCache_Close(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("x"))
	c, _ := NewCache(Options{})
	if _, err := c.Get(context.Background(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Close()
	if c.Len() != 0 {
		t.Fatalf("close must dispose entries")
	}
	if _, err := c.Get(context.Background(), path); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestProxy_NilProxyFingerprintsAsNull(t *testing.T) {
	got, err := fingerprint.Of(map[string]any{"file": (*Proxy)(nil)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := fingerprint.MustOf(map[string]any{"file": nil}); got != want {
		t.Fatalf("nil proxy: got %s want %s", got, want)
	}
}
