// Package resultcache maps task fingerprints to the findings they produced.
//
// Entries live in a byte-budgeted in-memory LRU and, when a path is
// configured, in an append-only record log that survives restarts. The cache
// also provides the single-flight primitive the executor uses so that at most
// one task computes a given fingerprint at a time.
package resultcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"checkweaver/internal/finding"
	"checkweaver/internal/fingerprint"
)

const (
	// SchemaVersion tags every header and payload. Bump it whenever the
	// payload layout or the meaning of a fingerprint changes.
	SchemaVersion uint32 = 2

	DefaultByteBudget int64 = 64 << 20
)

// ErrPersistFailed reports that an entry could not be written to the log.
// The in-memory entry is still installed.
var ErrPersistFailed = errors.New("cache persist failed")

// Options configures a Cache.
type Options struct {
	// ByteBudget bounds the decoded findings held in memory. Zero selects
	// DefaultByteBudget.
	ByteBudget int64
	Logger     *slog.Logger

	// Schema overrides SchemaVersion. Only tests set it.
	Schema uint32
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries     int
	HotEntries  int
	HotBytes    int64
	FileBytes   int64
	LiveBytes   int64
	DeadBytes   int64
	Hits        int64
	Misses      int64
	Compactions int64
}

type hotEntry struct {
	findings []finding.Finding
	size     int64
}

// Cache is safe for concurrent use. One mutex guards the index, the LRU, the
// log and the reservation table.
type Cache struct {
	logger *slog.Logger
	schema uint32
	budget int64

	mu        sync.Mutex
	log       *logFile
	index     map[fingerprint.Digest]recordLoc
	liveBytes int64
	hot       *simplelru.LRU[fingerprint.Digest, hotEntry]
	hotBytes  int64
	pending   map[fingerprint.Digest]*Reservation
	closed    bool

	hits, misses, compactions int64
}

// Open returns a cache backed by the log at path. An empty path yields a
// memory-only cache.
func Open(path string, opts Options) (*Cache, error) {
	c := &Cache{
		logger:  opts.Logger,
		schema:  opts.Schema,
		budget:  opts.ByteBudget,
		index:   make(map[fingerprint.Digest]recordLoc),
		pending: make(map[fingerprint.Digest]*Reservation),
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.schema == 0 {
		c.schema = SchemaVersion
	}
	if c.budget <= 0 {
		c.budget = DefaultByteBudget
	}

	hot, err := simplelru.NewLRU[fingerprint.Digest, hotEntry](math.MaxInt32, func(_ fingerprint.Digest, e hotEntry) {
		c.hotBytes -= e.size
	})
	if err != nil {
		return nil, err
	}
	c.hot = hot

	if path == "" {
		return c, nil
	}

	l, res, err := openLog(path, c.schema, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", path, err)
	}
	c.log = l
	c.index = res.index
	c.liveBytes = res.liveBytes

	c.mu.Lock()
	c.maybeCompactLocked()
	c.mu.Unlock()
	return c, nil
}

// Persistent reports whether the cache is backed by a file.
func (c *Cache) Persistent() bool { return c.log != nil }

// Lookup returns the findings stored for fp. It never fails: I/O and decode
// errors are logged and reported as a miss.
func (c *Cache) Lookup(fp fingerprint.Digest) ([]finding.Finding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fs, ok := c.lookupLocked(fp)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return fs, ok
}

func (c *Cache) lookupLocked(fp fingerprint.Digest) ([]finding.Finding, bool) {
	if c.closed {
		return nil, false
	}
	if e, ok := c.hot.Get(fp); ok {
		return finding.Clone(e.findings), true
	}
	if c.log == nil {
		return nil, false
	}
	loc, ok := c.index[fp]
	if !ok {
		return nil, false
	}

	payload, err := c.log.read(fp, loc)
	if err == nil {
		var fs []finding.Finding
		fs, err = decodePayload(c.schema, payload)
		if err == nil {
			c.installHotLocked(fp, fs)
			return finding.Clone(fs), true
		}
	}
	c.logger.Info("discarding unreadable cache entry", "fingerprint", fp.String(), "error", err)
	delete(c.index, fp)
	c.liveBytes -= loc.size
	return nil, false
}

func (c *Cache) installHotLocked(fp fingerprint.Digest, fs []finding.Finding) {
	if c.hot.Contains(fp) {
		c.hot.Remove(fp)
	}
	e := hotEntry{findings: fs, size: sizeOf(fs)}
	c.hot.Add(fp, e)
	c.hotBytes += e.size
	for c.hotBytes > c.budget && c.hot.Len() > 0 {
		c.hot.RemoveOldest()
	}
}

// Reservation is the single-flight handle for one fingerprint.
type Reservation struct {
	fp       fingerprint.Digest
	done     chan struct{}
	findings []finding.Finding
	ok       bool
}

// Fingerprint returns the reserved key.
func (r *Reservation) Fingerprint() fingerprint.Digest { return r.fp }

// Wait blocks until the winner commits or aborts. ok is false after an abort.
// A cancelled ctx returns its error.
func (r *Reservation) Wait(ctx context.Context) (findings []finding.Finding, ok bool, err error) {
	select {
	case <-r.done:
		return finding.Clone(r.findings), r.ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (r *Reservation) resolve(fs []finding.Finding, ok bool) {
	r.findings = fs
	r.ok = ok
	close(r.done)
}

// Reserve claims the right to compute fp. Exactly one caller per fingerprint
// gets won=true and must later call Commit or Abort. Other callers get the
// winner's reservation to Wait on. If an entry was committed since the
// caller's last Lookup, the returned reservation is already resolved.
func (c *Cache) Reserve(fp fingerprint.Digest) (r *Reservation, won bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pending[fp]; ok {
		return existing, false
	}
	if fs, ok := c.lookupLocked(fp); ok {
		r := &Reservation{fp: fp, done: make(chan struct{})}
		r.resolve(fs, true)
		return r, false
	}
	r = &Reservation{fp: fp, done: make(chan struct{})}
	c.pending[fp] = r
	return r, true
}

// Commit installs fs for fp and wakes every waiter. The returned error wraps
// ErrPersistFailed when the log write failed; waiters still receive fs.
func (c *Cache) Commit(fp fingerprint.Digest, fs []finding.Finding) error {
	stored := finding.Clone(fs)
	if stored == nil {
		stored = []finding.Finding{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.resolvePendingLocked(fp, stored, true)
		return fmt.Errorf("%w: cache is closed", ErrPersistFailed)
	}

	c.installHotLocked(fp, stored)
	c.resolvePendingLocked(fp, stored, true)

	if c.log == nil {
		return nil
	}
	payload, err := encodePayload(c.schema, stored)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	loc, err := c.log.append(fp, 0, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	if old, ok := c.index[fp]; ok {
		c.liveBytes -= old.size
	}
	c.index[fp] = loc
	c.liveBytes += loc.size
	c.maybeCompactLocked()
	return nil
}

// Abort releases a reservation; waiters observe a miss.
func (c *Cache) Abort(fp fingerprint.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolvePendingLocked(fp, nil, false)
}

func (c *Cache) resolvePendingLocked(fp fingerprint.Digest, fs []finding.Finding, ok bool) {
	r, exists := c.pending[fp]
	if !exists {
		return
	}
	delete(c.pending, fp)
	r.resolve(fs, ok)
}

// Invalidate removes fp, appending a tombstone record so the removal survives
// a restart.
func (c *Cache) Invalidate(fp fingerprint.Digest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hot.Remove(fp)
	if c.log == nil || c.closed {
		return nil
	}
	old, ok := c.index[fp]
	if !ok {
		return nil
	}
	if _, err := c.log.append(fp, flagDeleted, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	delete(c.index, fp)
	c.liveBytes -= old.size
	c.maybeCompactLocked()
	return nil
}

func (c *Cache) deadBytesLocked() int64 {
	if c.log == nil {
		return 0
	}
	return c.log.size - headerSize - c.liveBytes
}

// maybeCompactLocked compacts when dead bytes exceed half of the file.
func (c *Cache) maybeCompactLocked() {
	if c.log == nil {
		return
	}
	if dead := c.deadBytesLocked(); dead*2 <= c.log.size {
		return
	}
	if err := c.compactLocked(); err != nil {
		c.logger.Warn("cache compaction failed", "path", c.log.path, "error", err)
	}
}

// Compact forces a compaction pass regardless of the dead-byte ratio.
func (c *Cache) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.log == nil || c.closed {
		return nil
	}
	return c.compactLocked()
}

func (c *Cache) compactLocked() error {
	before := c.log.size
	next, err := c.log.compact(c.index)
	if err != nil {
		return err
	}
	c.index = next
	c.compactions++
	c.logger.Debug("cache compacted", "path", c.log.path, "before", before, "after", c.log.size)
	return nil
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Entries:     len(c.index),
		HotEntries:  c.hot.Len(),
		HotBytes:    c.hotBytes,
		LiveBytes:   c.liveBytes,
		DeadBytes:   c.deadBytesLocked(),
		Hits:        c.hits,
		Misses:      c.misses,
		Compactions: c.compactions,
	}
	if c.log != nil {
		s.FileBytes = c.log.size
	} else {
		s.Entries = c.hot.Len()
	}
	return s
}

// Close flushes the log and wakes outstanding waiters with a miss.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for fp := range c.pending {
		c.resolvePendingLocked(fp, nil, false)
	}
	c.hot.Purge()
	if c.log == nil {
		return nil
	}
	return c.log.close()
}
