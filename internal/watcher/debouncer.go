package watcher

import (
	"sort"
	"sync"
	"time"
)

// Op is the kind of change seen on a path.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "created"
	case OpWrite:
		return "modified"
	case OpRemove:
		return "removed"
	case OpRename:
		return "renamed"
	default:
		return "changed"
	}
}

// Change is one path's latest operation within a quiet window.
type Change struct {
	Path string
	Op   Op
}

// Debouncer collapses bursts of changes into one batch emitted after the
// directory has been quiet for the interval. Repeated changes to a path keep
// only the latest operation.
type Debouncer struct {
	interval time.Duration
	out      chan []Change

	mu      sync.Mutex
	pending map[string]Change
	timer   *time.Timer
	stopped bool
}

func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{
		interval: interval,
		out:      make(chan []Change, 16),
		pending:  make(map[string]Change),
	}
}

// Batches delivers collapsed changes sorted by path.
func (d *Debouncer) Batches() <-chan []Change { return d.out }

func (d *Debouncer) Add(path string, op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending[path] = Change{Path: path, Op: op}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
}

// Stop drops pending changes. No batch is sent after Stop returns.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = make(map[string]Change)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	batch := make([]Change, 0, len(d.pending))
	for _, c := range d.pending {
		batch = append(batch, c)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	d.pending = make(map[string]Change)
	select {
	case d.out <- batch:
	default:
		// reader is behind; a later batch will report the directory again
	}
}
