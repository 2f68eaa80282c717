// Package dedupe coalesces pending rescore requests by profile key.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50_000

// Deduper tracks keys whose work is already pending.
type Deduper interface {
	// SeenAndRecord atomically checks if key is pending and marks it if not.
	// Returns true if key was already pending, false if it was newly marked.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord clears the mark once the work for key has run or was dropped.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// inMemoryDeduper keeps marks in a map plus an insertion-ordered list.
// When bounded and full, the oldest mark is evicted; the cost of an
// eviction is at most one redundant rescore.
type inMemoryDeduper struct {
	mu      sync.Mutex
	marks   map[string]*list.Element
	order   *list.List // front = oldest
	maxSize int        // <= 0 means unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		marks:   make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.marks[key]; exists {
		return true
	}
	if d.maxSize > 0 && len(d.marks) >= d.maxSize {
		d.evictOldest()
	}
	d.marks[key] = d.order.PushBack(key)
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, exists := d.marks[key]; exists {
		d.order.Remove(el)
		delete(d.marks, key)
		d.size.Add(-1)
	}
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.marks, front.Value.(string))
	d.size.Add(-1)
}

// Size returns the current number of marked keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
