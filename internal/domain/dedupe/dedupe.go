// Package dedupe tracks submission idempotency keys.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultMaxSize = 50000

// Deduper records idempotency keys so a replayed submission is detected
// before any write happens.
type Deduper interface {
	// SeenAndRecord atomically checks key and records it if absent.
	// It returns true when key was already recorded and still live.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord releases key so a failed submission can be retried with it.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key      string
	recorded time.Time
}

// inMemoryDeduper keeps keys in insertion order. When full, the oldest key
// is evicted. Keys older than ttl are treated as absent.
type inMemoryDeduper struct {
	mu      sync.Mutex
	keys    map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryDeduper creates an in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		keys:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: defaultMaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	if _, ok := d.keys[key]; ok {
		return true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		d.remove(d.order.Front())
	}
	d.keys[key] = d.order.PushBack(&entry{key: key, recorded: now})
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.keys[key]; ok {
		d.remove(el)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.order.Len())
}

// expire drops keys recorded before now-ttl. Must hold d.mu.
func (d *inMemoryDeduper) expire(now time.Time) {
	if d.ttl <= 0 {
		return
	}
	cutoff := now.Add(-d.ttl)
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if !el.Value.(*entry).recorded.Before(cutoff) {
			return
		}
		d.remove(el)
	}
}

// remove must hold d.mu.
func (d *inMemoryDeduper) remove(el *list.Element) {
	if el == nil {
		return
	}
	delete(d.keys, el.Value.(*entry).key)
	d.order.Remove(el)
}
