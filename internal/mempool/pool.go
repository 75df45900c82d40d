// Package mempool implements fixed-size, preallocated object pools keyed
// by (pool type, sub id). Unlike a sync.Pool, a mempool.Pool never
// allocates on Get and never shrinks under GC pressure: it hands out null
// when exhausted and expects the caller to back off, matching the
// mempool contract of a bounded hot path with no allocator calls.
package mempool

import "sync"

// Pool is a fixed-capacity LIFO free list of *T, preallocated at
// construction time.
type Pool[T any] struct {
	mu    sync.Mutex
	free  []*T
	slots []T
}

// NewPool preallocates n slots of T and returns a pool whose entries are
// all immediately available.
func NewPool[T any](n int) *Pool[T] {
	p := &Pool[T]{
		slots: make([]T, n),
		free:  make([]*T, 0, n),
	}
	for i := range p.slots {
		p.free = append(p.free, &p.slots[i])
	}
	return p
}

// Get returns an entry or nil if the pool is exhausted. Never blocks.
func (p *Pool[T]) Get() *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	e := p.free[n-1]
	p.free = p.free[:n-1]
	return e
}

// Put returns an entry to the free list.
func (p *Pool[T]) Put(e *T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, e)
}

// Available reports how many entries are currently free.
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Capacity returns the total number of preallocated slots.
func (p *Pool[T]) Capacity() int {
	return len(p.slots)
}

// Keyed is a family of Pool[T], one per (poolType, subID) pair, mirroring
// the mempool contract's "(pool_type, sub_id)"-keyed families used for
// mcmds (keyed by write/read class) and provisioning contexts (keyed by
// provisioning type).
type Keyed[T any] struct {
	mu      sync.Mutex
	byKey   map[key]*Pool[T]
	slotsPer int
}

type key struct {
	poolType int
	subID    int
}

// NewKeyed creates a family of pools; each distinct (poolType, subID) seen
// by Get lazily gets its own Pool[T] with slotsPer preallocated entries.
func NewKeyed[T any](slotsPer int) *Keyed[T] {
	return &Keyed[T]{
		byKey:    make(map[key]*Pool[T]),
		slotsPer: slotsPer,
	}
}

func (k *Keyed[T]) poolFor(poolType, subID int) *Pool[T] {
	kk := key{poolType, subID}
	k.mu.Lock()
	p, ok := k.byKey[kk]
	if !ok {
		p = NewPool[T](k.slotsPer)
		k.byKey[kk] = p
	}
	k.mu.Unlock()
	return p
}

// Get returns an entry from the (poolType, subID) pool, or nil if
// exhausted.
func (k *Keyed[T]) Get(poolType, subID int) *T {
	return k.poolFor(poolType, subID).Get()
}

// Put returns an entry to the (poolType, subID) pool.
func (k *Keyed[T]) Put(poolType, subID int, e *T) {
	k.poolFor(poolType, subID).Put(e)
}
