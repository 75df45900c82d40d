// Package memdev provides an in-memory simulator of a ZNS device,
// implementing interfaces.MediaDevice. It is the test/bench backend for
// the core: sharded per-zone locking for parallel I/O, plus the ZNS zone
// state machine and sequential-write-only enforcement a flat RAM disk
// doesn't need.
package memdev

import (
	"context"
	"fmt"
	"sync"

	"github.com/behrlich/zns-ztl/internal/interfaces"
)

// zoneShard holds one zone's simulated state: its backing bytes, its
// current write pointer, and its lifecycle state. Each zone gets its own
// mutex: the natural shard boundary is the zone itself, since ZNS
// forbids concurrent writers to the same zone's write pointer anyway.
type zoneShard struct {
	mu    sync.Mutex
	data  []byte
	wp    uint64 // write pointer, in sectors from zone start
	state interfaces.ZoneState
}

// Memory is an in-memory ZNS device: Groups * ZonesPerGroup zones of
// SectorsPerZone * SectorSize bytes each.
type Memory struct {
	groups         uint32
	zonesPerGroup  uint32
	sectorsPerZone uint64
	sectorSize     uint32

	zones []zoneShard // flat index: group*zonesPerGroup + zone
}

// New creates an in-memory ZNS device with the given geometry. All zones
// start EMPTY.
func New(groups, zonesPerGroup uint32, sectorsPerZone uint64, sectorSize uint32) *Memory {
	n := int(groups) * int(zonesPerGroup)
	m := &Memory{
		groups:         groups,
		zonesPerGroup:  zonesPerGroup,
		sectorsPerZone: sectorsPerZone,
		sectorSize:     sectorSize,
		zones:          make([]zoneShard, n),
	}
	zoneBytes := int(sectorsPerZone) * int(sectorSize)
	for i := range m.zones {
		m.zones[i].data = make([]byte, zoneBytes)
		m.zones[i].state = interfaces.ZoneEmpty
	}
	return m
}

func (m *Memory) idx(group, zone uint32) (int, error) {
	if group >= m.groups || zone >= m.zonesPerGroup {
		return 0, fmt.Errorf("memdev: zone (%d,%d) out of range", group, zone)
	}
	return int(group)*int(m.zonesPerGroup) + int(zone), nil
}

func (m *Memory) zoneForLBA(lba uint64) (int, uint64, error) {
	zoneIdx := lba / m.sectorsPerZone
	sector := lba % m.sectorsPerZone
	if zoneIdx >= uint64(len(m.zones)) {
		return 0, 0, fmt.Errorf("memdev: lba %d out of range", lba)
	}
	return int(zoneIdx), sector, nil
}

// Open "binds" the device (a no-op for the in-memory simulator beyond
// returning geometry).
func (m *Memory) Open(ctx context.Context, name string) (interfaces.Geometry, error) {
	return interfaces.Geometry{
		Groups:         m.groups,
		ZonesPerGroup:  m.zonesPerGroup,
		SectorsPerZone: m.sectorsPerZone,
		SectorSize:     m.sectorSize,
	}, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ReadSectors(ctx context.Context, lba uint64, nsec uint32, buf []byte) error {
	zi, sector, err := m.zoneForLBA(lba)
	if err != nil {
		return err
	}
	z := &m.zones[zi]
	z.mu.Lock()
	defer z.mu.Unlock()
	off := sector * uint64(m.sectorSize)
	n := uint64(nsec) * uint64(m.sectorSize)
	if off+n > uint64(len(z.data)) {
		return fmt.Errorf("memdev: read past end of zone")
	}
	copy(buf, z.data[off:off+n])
	return nil
}

// WriteSectors enforces append-only, strictly-sequential writes at the
// zone's current write pointer — a WRITE at any sector other than the
// current wp is rejected.
func (m *Memory) WriteSectors(ctx context.Context, lba uint64, nsec uint32, buf []byte) error {
	zi, sector, err := m.zoneForLBA(lba)
	if err != nil {
		return err
	}
	z := &m.zones[zi]
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.state == interfaces.ZoneFull {
		return fmt.Errorf("memdev: zone full")
	}
	if sector != z.wp {
		return fmt.Errorf("memdev: non-sequential write: sector %d != write pointer %d", sector, z.wp)
	}
	off := sector * uint64(m.sectorSize)
	n := uint64(nsec) * uint64(m.sectorSize)
	if off+n > uint64(len(z.data)) {
		return fmt.Errorf("memdev: write past end of zone")
	}
	copy(z.data[off:off+n], buf)
	z.wp += uint64(nsec)
	if z.state == interfaces.ZoneEmpty {
		z.state = interfaces.ZoneOpen
	}
	if z.wp >= m.sectorsPerZone {
		z.state = interfaces.ZoneFull
	}
	return nil
}

// AppendSectors writes at the zone's current write pointer regardless of
// the caller-supplied address and returns the assigned starting sector.
func (m *Memory) AppendSectors(ctx context.Context, group, zone uint32, nsec uint32, buf []byte) (uint64, error) {
	zi, err := m.idx(group, zone)
	if err != nil {
		return 0, err
	}
	z := &m.zones[zi]
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.state == interfaces.ZoneFull {
		return 0, fmt.Errorf("memdev: zone full")
	}
	assigned := z.wp
	off := assigned * uint64(m.sectorSize)
	n := uint64(nsec) * uint64(m.sectorSize)
	if off+n > uint64(len(z.data)) {
		return 0, fmt.Errorf("memdev: append past end of zone")
	}
	copy(z.data[off:off+n], buf)
	z.wp += uint64(nsec)
	if z.state == interfaces.ZoneEmpty {
		z.state = interfaces.ZoneOpen
	}
	if z.wp >= m.sectorsPerZone {
		z.state = interfaces.ZoneFull
	}
	return assigned, nil
}

// ManageZone drives the zone state machine: EMPTY -[OPEN]-> EOPEN
// -[CLOSE]-> CLOSED -[FINISH]-> FULL -[RESET]-> EMPTY.
func (m *Memory) ManageZone(ctx context.Context, group, zone uint32, op interfaces.ZoneOp) error {
	zi, err := m.idx(group, zone)
	if err != nil {
		return err
	}
	z := &m.zones[zi]
	z.mu.Lock()
	defer z.mu.Unlock()
	switch op {
	case interfaces.OpZoneOpen:
		z.state = interfaces.ZoneOpen
	case interfaces.OpZoneClose:
		z.state = interfaces.ZoneClosed
	case interfaces.OpZoneFinish:
		z.state = interfaces.ZoneFull
		z.wp = m.sectorsPerZone
	case interfaces.OpZoneReset:
		z.state = interfaces.ZoneEmpty
		z.wp = 0
		for i := range z.data {
			z.data[i] = 0
		}
	default:
		return fmt.Errorf("memdev: unsupported zone op %v", op)
	}
	return nil
}

func (m *Memory) ReportZone(ctx context.Context, group, zone uint32) (interfaces.ZoneInfo, error) {
	zi, err := m.idx(group, zone)
	if err != nil {
		return interfaces.ZoneInfo{}, err
	}
	z := &m.zones[zi]
	z.mu.Lock()
	defer z.mu.Unlock()
	return interfaces.ZoneInfo{
		Group:    group,
		Zone:     zone,
		State:    z.state,
		WP:       z.wp,
		Capacity: m.sectorsPerZone,
	}, nil
}

// AsyncOutstanding is always 0: the simulator has no async submission
// queue of its own, since internal/media drives asynchrony at the Go
// goroutine level above this device.
func (m *Memory) AsyncOutstanding() int { return 0 }

var _ interfaces.MediaDevice = (*Memory)(nil)
