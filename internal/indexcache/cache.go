package indexcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
	"ragchat/internal/signature"
)

// Builder turns a corpus directory into a queryable index plus the
// root-relative paths of the files that contributed to it. Builds are
// expensive; the cache exists so that they happen only when needed.
type Builder interface {
	Build(ctx context.Context, dir string) (domain.Index, []string, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context, dir string) (domain.Index, []string, error)

func (f BuilderFunc) Build(ctx context.Context, dir string) (domain.Index, []string, error) {
	return f(ctx, dir)
}

// Entry is one built index and the manifest that produced it. Entries are
// immutable once stored; callers must not modify Files.
//
// An entry returned by GetOrBuild is borrowed: call Release when done with
// it. The index is closed only after the cache has dropped the entry and
// every borrower has released it.
type Entry struct {
	Dir       string
	Signature signature.Signature
	Index     domain.Index
	Files     []string
	BuiltAt   time.Time

	seq uint64

	refMu   sync.Mutex
	refs    int
	retired bool
	closed  bool
}

// Sources returns a copy of the contributing file list.
func (e *Entry) Sources() []string {
	out := make([]string, len(e.Files))
	copy(out, e.Files)
	return out
}

// Release returns a borrowed entry. Extra calls are ignored.
func (e *Entry) Release() {
	e.refMu.Lock()
	if e.refs > 0 {
		e.refs--
	}
	closeNow := e.retired && e.refs == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	e.refMu.Unlock()
	if closeNow {
		e.closeIndex()
	}
}

// borrow takes a reference unless the index has already been closed.
func (e *Entry) borrow() bool {
	e.refMu.Lock()
	defer e.refMu.Unlock()
	if e.closed {
		return false
	}
	e.refs++
	return true
}

// retire marks the entry as no longer held by the cache.
func (e *Entry) retire() {
	if e == nil {
		return
	}
	e.refMu.Lock()
	e.retired = true
	closeNow := e.refs == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	e.refMu.Unlock()
	if closeNow {
		e.closeIndex()
	}
}

func (e *Entry) closeIndex() {
	closer, ok := e.Index.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warnf("closing retired index for %s: %v", e.Dir, err)
	}
}

// Options configures a Cache.
type Options struct {
	// BuildTimeout bounds a single build. Zero means no limit.
	BuildTimeout time.Duration
}

// Stats tracks cache activity.
type Stats struct {
	Hits     int64
	Misses   int64
	Builds   int64
	Failures int64
}

// Cache memoizes built indexes per directory, keyed by the directory's
// current signature. At most one build per (directory, signature) runs at a
// time; concurrent callers share its result.
type Cache struct {
	builder Builder
	opts    Options
	group   singleflight.Group
	seq     atomic.Uint64

	mu          sync.RWMutex
	entries     map[string]*Entry
	generations map[string]uint64
	// aliases maps a requested absolute path to the canonical directory it
	// resolved to, so Invalidate still finds the entry when the path no
	// longer resolves.
	aliases map[string]string

	hits, misses, builds, failures atomic.Int64
}

// New creates an empty cache around builder.
func New(builder Builder, opts Options) *Cache {
	return &Cache{
		builder:     builder,
		opts:        opts,
		entries:     make(map[string]*Entry),
		generations: make(map[string]uint64),
		aliases:     make(map[string]string),
	}
}

// GetOrBuild returns the index for dir, building it when no entry exists or
// the directory's signature changed since the stored build. The entry is
// borrowed until Release. A caller whose ctx ends stops waiting; the shared
// build itself keeps running for others.
func (c *Cache) GetOrBuild(ctx context.Context, dir string) (*Entry, error) {
	abs, root, err := canonicalDir(dir)
	if err != nil {
		return nil, err
	}
	for {
		entry, err := c.getOrBuild(ctx, abs, root)
		if err != nil || entry != nil {
			return entry, err
		}
		// The build finished but was dropped and closed before this caller
		// could borrow it; look again.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (c *Cache) getOrBuild(ctx context.Context, abs, root string) (*Entry, error) {
	sig, err := signature.Compute(root)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry := c.entries[root]
	gen := c.generations[root]
	hit := entry != nil && entry.Signature.Equal(sig) && entry.borrow()
	c.mu.RUnlock()

	if hit {
		c.hits.Add(1)
		logger.Logger.Debug().Str("dir", root).Str("signature", sig.Digest()).Msg("index cache hit")
		return entry, nil
	}
	c.misses.Add(1)
	if abs != root {
		c.mu.Lock()
		c.aliases[abs] = root
		c.mu.Unlock()
	}

	key := fmt.Sprintf("%s\x00%d\x00%s", root, gen, sig.Digest())
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.build(root, sig, gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		built := res.Val.(*Entry)
		if !built.borrow() {
			return nil, nil
		}
		return built, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) build(root string, sig signature.Signature, gen uint64) (*Entry, error) {
	// A flight for the same key may have stored its result just before this
	// one started.
	c.mu.RLock()
	if e := c.entries[root]; e != nil && c.generations[root] == gen && e.Signature.Equal(sig) {
		c.mu.RUnlock()
		return e, nil
	}
	c.mu.RUnlock()

	seq := c.seq.Add(1)
	ctx := context.Background()
	if c.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.BuildTimeout)
		defer cancel()
	}

	log := logger.Logger.With().Str("dir", root).Str("signature", sig.Digest()).Int("files", sig.Len()).Logger()
	log.Info().Msg("building index")
	started := time.Now()
	c.builds.Add(1)

	index, files, err := c.builder.Build(ctx, root)
	if err != nil {
		c.failures.Add(1)
		log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("index build failed")
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w: building %s: %w", domain.ErrIndexBuild, domain.ErrTimeout, root, err)
		}
		return nil, fmt.Errorf("%w: building %s: %w", domain.ErrIndexBuild, root, err)
	}

	entry := &Entry{
		Dir:       root,
		Signature: sig,
		Index:     index,
		Files:     append([]string(nil), files...),
		BuiltAt:   time.Now(),
		seq:       seq,
	}

	// Store only if no invalidation happened since the flight began and no
	// build that started later has already been stored.
	var dropped *Entry
	c.mu.Lock()
	current := c.entries[root]
	if c.generations[root] == gen && (current == nil || current.seq < seq) {
		c.entries[root] = entry
		dropped = current
	} else {
		dropped = entry
	}
	c.mu.Unlock()
	dropped.retire()

	if dropped == entry {
		log.Info().Dur("elapsed", time.Since(started)).Msg("index build discarded")
	} else {
		log.Info().Dur("elapsed", time.Since(started)).Int("sources", len(files)).Msg("index built")
	}
	return entry, nil
}

// Invalidate drops any entry for dir regardless of signature. The next
// GetOrBuild misses, and builds already in flight will not be stored.
func (c *Cache) Invalidate(dir string) {
	abs, root, err := canonicalDir(dir)
	c.mu.Lock()
	if err != nil {
		root = abs
		if alias, ok := c.aliases[abs]; ok {
			root = alias
		}
	}
	entry := c.entries[root]
	delete(c.entries, root)
	c.generations[root]++
	c.mu.Unlock()
	entry.retire()
	logger.Logger.Info().Str("dir", root).Msg("index cache invalidated")
}

// Peek returns the stored entry for dir without checking freshness. The
// entry is not borrowed.
func (c *Cache) Peek(dir string) (*Entry, bool) {
	_, root, err := canonicalDir(dir)
	if err != nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[root]
	return e, ok
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Builds:   c.builds.Load(),
		Failures: c.failures.Load(),
	}
}

// canonicalDir returns dir made absolute and, separately, with symlinks
// resolved. abs is set even when resolving fails.
func canonicalDir(dir string) (abs, resolved string, err error) {
	abs, err = filepath.Abs(dir)
	if err != nil {
		return filepath.Clean(dir), "", fmt.Errorf("%w: resolving %s: %w", domain.ErrFilesystem, dir, err)
	}
	resolved, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, "", fmt.Errorf("%w: %w", domain.ErrFilesystem, err)
	}
	return abs, resolved, nil
}
