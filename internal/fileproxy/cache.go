package fileproxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Options configures a Cache.
type Options struct {
	// Encoding is the text encoding label; empty selects DefaultEncoding.
	Encoding string
	Logger   *slog.Logger
}

// Cache memoizes proxies by canonical path.
//
// Concurrency: Get is safe for parallel callers and decodes each path at most
// once at a time. Entries live until Invalidate or Close.
type Cache struct {
	encoding string
	logger   *slog.Logger
	readFile func(string) ([]byte, error)

	mu      sync.RWMutex
	entries map[string]*Proxy
	gen     map[string]uint64
	closed  bool

	group singleflight.Group
}

// NewCache validates the encoding and returns an empty cache.
func NewCache(opts Options) (*Cache, error) {
	_, name, err := ResolveEncoding(opts.Encoding)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		encoding: name,
		logger:   logger,
		readFile: os.ReadFile,
		entries:  make(map[string]*Proxy),
		gen:      make(map[string]uint64),
	}, nil
}

// Encoding returns the canonical encoding name used for every proxy.
func (c *Cache) Encoding() string { return c.encoding }

// Canonicalize returns the absolute, cleaned, symlink-resolved form of path.
// Paths that do not exist are returned absolute and cleaned.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

// Get returns the proxy for path, reading and decoding it on first use.
//
// I/O failures return *FileUnavailableError. A cancelled ctx is observed before
// any read is started.
func (c *Cache) Get(ctx context.Context, path string) (*Proxy, error) {
	key, err := Canonicalize(path)
	if err != nil {
		return nil, &FileUnavailableError{Path: path, Cause: err}
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("file proxy cache is closed")
	}
	if p, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	gen := c.gen[key]
	c.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.load(key, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Proxy), nil
}

func (c *Cache) load(key string, gen uint64) (*Proxy, error) {
	c.mu.RLock()
	if p, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	info, err := os.Stat(key)
	if err != nil {
		return nil, &FileUnavailableError{Path: key, Cause: err}
	}
	if info.IsDir() {
		return nil, &FileUnavailableError{Path: key, Cause: fmt.Errorf("is a directory")}
	}
	raw, err := c.readFile(key)
	if err != nil {
		return nil, &FileUnavailableError{Path: key, Cause: err}
	}
	p, err := NewProxy(key, raw, c.encoding)
	if err != nil {
		return nil, err
	}
	if p.DecodeError() {
		c.logger.Info("file could not be decoded", "file", key, "encoding", c.encoding, "error", p.decodeErr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed && c.gen[key] == gen {
		c.entries[key] = p
	}
	return p, nil
}

// Invalidate drops the entry for path; the next Get re-reads from disk.
func (c *Cache) Invalidate(path string) {
	key, err := Canonicalize(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.gen[key]++
	c.mu.Unlock()
	c.group.Forget(key)
}

// Len returns the number of cached proxies.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close disposes every entry. Subsequent Get calls fail.
func (c *Cache) Close() {
	c.mu.Lock()
	c.entries = make(map[string]*Proxy)
	c.closed = true
	c.mu.Unlock()
}
