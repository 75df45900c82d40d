// Package index provides minimal in-memory implementations of the core's
// external collaborator interfaces: the id -> media-address mapping, its
// flusher, per-zone piece-count bookkeeping, and the group list. A real
// deployment backs these with a database or a dedicated metadata
// service; these stand-ins exist so the core is runnable and testable
// without one.
package index

import (
	"fmt"
	"sync"

	"github.com/behrlich/zns-ztl/internal/interfaces"
)

// mapping is one id's recorded placement.
type mapping struct {
	offset uint64
	nsec   uint32
	multi  bool
}

// Memory is an in-memory IndexStore + MetadataFlusher.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]mapping
	flushes int
}

// New creates an empty in-memory index.
func New() *Memory {
	return &Memory{entries: make(map[string]mapping)}
}

// Upsert records or replaces id's placement.
func (m *Memory) Upsert(id string, offset uint64, nsec uint32, multi bool) error {
	if id == "" {
		return fmt.Errorf("index: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = mapping{offset: offset, nsec: nsec, multi: multi}
	return nil
}

// Lookup returns id's recorded offset and sector count, if any.
func (m *Memory) Lookup(id string) (offset uint64, nsec uint32, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e.offset, e.nsec, ok
}

// Flush is a no-op for the in-memory store; it exists to satisfy
// MetadataFlusher and to count flush calls for tests.
func (m *Memory) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

// Flushes reports how many times Flush has been called.
func (m *Memory) Flushes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flushes
}

var (
	_ interfaces.IndexStore      = (*Memory)(nil)
	_ interfaces.MetadataFlusher = (*Memory)(nil)
)

// ZoneMetadata is an in-memory ZoneMetadataStore keyed by (group, zone).
type ZoneMetadata struct {
	mu    sync.Mutex
	zones map[[2]uint32]*interfaces.ZoneMeta
}

// NewZoneMetadata creates an empty zone metadata store.
func NewZoneMetadata() *ZoneMetadata {
	return &ZoneMetadata{zones: make(map[[2]uint32]*interfaces.ZoneMeta)}
}

func (z *ZoneMetadata) key(group, zone uint32) [2]uint32 { return [2]uint32{group, zone} }

// Get returns the zone's bookkeeping record, creating a zero-value one on
// first access.
func (z *ZoneMetadata) Get(group, zone uint32) (*interfaces.ZoneMeta, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	k := z.key(group, zone)
	meta, ok := z.zones[k]
	if !ok {
		meta = &interfaces.ZoneMeta{Group: group, Zone: zone}
		z.zones[k] = meta
	}
	return meta, nil
}

// IncPieces increments the zone's recorded piece count by n.
func (z *ZoneMetadata) IncPieces(group, zone uint32, n int) {
	z.mu.Lock()
	defer z.mu.Unlock()
	k := z.key(group, zone)
	meta, ok := z.zones[k]
	if !ok {
		meta = &interfaces.ZoneMeta{Group: group, Zone: zone}
		z.zones[k] = meta
	}
	meta.NPieces += uint64(n)
}

// Disable marks a zone disabled, matching the zmd disabled-flag field the
// source carries for its (stubbed) GC path.
func (z *ZoneMetadata) Disable(group, zone uint32) {
	z.mu.Lock()
	defer z.mu.Unlock()
	k := z.key(group, zone)
	if meta, ok := z.zones[k]; ok {
		meta.Disabled = true
	}
}

var _ interfaces.ZoneMetadataStore = (*ZoneMetadata)(nil)

// Groups is a static in-memory GroupLister.
type Groups struct {
	byType map[int][]uint32
}

// NewGroups creates a GroupLister returning the same fixed group id list
// for every provisioning type.
func NewGroups(ids []uint32) *Groups {
	g := &Groups{byType: make(map[int][]uint32)}
	g.byType[-1] = ids // sentinel: "all types" fallback
	return g
}

// List returns the group ids configured for provType, falling back to the
// full set if no per-type override was configured.
func (g *Groups) List(provType int) ([]uint32, error) {
	if ids, ok := g.byType[provType]; ok {
		return ids, nil
	}
	if ids, ok := g.byType[-1]; ok {
		return ids, nil
	}
	return nil, fmt.Errorf("index: no groups configured for provisioning type %d", provType)
}

var _ interfaces.GroupLister = (*Groups)(nil)
