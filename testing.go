package ztl

import (
	"context"
	"fmt"
	"sync"

	"github.com/behrlich/zns-ztl/internal/interfaces"
)

// MockDevice is a mock implementation of interfaces.MediaDevice for unit
// testing callers of Core without pulling in a real or simulated backend.
// Unlike internal/media/memdev.Memory (a behaviorally faithful simulator),
// MockDevice's zones are permissive by default, and read, write, append,
// zone-manage and report calls are counted for assertions in tests.
type MockDevice struct {
	mu sync.Mutex

	geo        interfaces.Geometry
	zoneState  map[[2]uint32]interfaces.ZoneState
	zoneWP     map[[2]uint32]uint64
	closed     bool
	failOpen   error
	failNextOp error

	readCalls, writeCalls, appendCalls, manageCalls, reportCalls int
}

// NewMockDevice creates a mock device with the given geometry. All zones
// report ZoneEmpty with WP 0 until mutated via ManageZone (state and WP)
// or AppendSectors (WP only); WriteSectors changes neither.
func NewMockDevice(geo interfaces.Geometry) *MockDevice {
	return &MockDevice{
		geo:       geo,
		zoneState: make(map[[2]uint32]interfaces.ZoneState),
		zoneWP:    make(map[[2]uint32]uint64),
	}
}

// FailOpen makes the next Open call return err.
func (m *MockDevice) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOpen = err
}

// FailNextOp makes the next ReadSectors/WriteSectors/AppendSectors call
// return err, then clears the fault.
func (m *MockDevice) FailNextOp(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextOp = err
}

func (m *MockDevice) takeFault() error {
	err := m.failNextOp
	m.failNextOp = nil
	return err
}

func (m *MockDevice) Open(ctx context.Context, name string) (interfaces.Geometry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOpen != nil {
		return interfaces.Geometry{}, m.failOpen
	}
	return m.geo, nil
}

func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockDevice) ReadSectors(ctx context.Context, lba uint64, nsec uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	return m.takeFault()
}

func (m *MockDevice) WriteSectors(ctx context.Context, lba uint64, nsec uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	return m.takeFault()
}

func (m *MockDevice) AppendSectors(ctx context.Context, group, zone uint32, nsec uint32, buf []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if err := m.takeFault(); err != nil {
		return 0, err
	}
	k := [2]uint32{group, zone}
	assigned := m.zoneWP[k]
	m.zoneWP[k] = assigned + uint64(nsec)
	return assigned, nil
}

func (m *MockDevice) ManageZone(ctx context.Context, group, zone uint32, op interfaces.ZoneOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manageCalls++
	k := [2]uint32{group, zone}
	switch op {
	case interfaces.OpZoneOpen:
		m.zoneState[k] = interfaces.ZoneOpen
	case interfaces.OpZoneClose:
		m.zoneState[k] = interfaces.ZoneClosed
	case interfaces.OpZoneFinish:
		m.zoneState[k] = interfaces.ZoneFull
	case interfaces.OpZoneReset:
		m.zoneState[k] = interfaces.ZoneEmpty
		m.zoneWP[k] = 0
	default:
		return fmt.Errorf("mockdevice: unsupported zone op %v", op)
	}
	return nil
}

func (m *MockDevice) ReportZone(ctx context.Context, group, zone uint32) (interfaces.ZoneInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reportCalls++
	k := [2]uint32{group, zone}
	return interfaces.ZoneInfo{
		Group:    group,
		Zone:     zone,
		State:    m.zoneState[k],
		WP:       m.zoneWP[k],
		Capacity: m.geo.SectorsPerZone,
	}, nil
}

func (m *MockDevice) AsyncOutstanding() int { return 0 }

// IsClosed reports whether Close has been called.
func (m *MockDevice) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CallCounts returns how many times each operation has been invoked.
func (m *MockDevice) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"read":   m.readCalls,
		"write":  m.writeCalls,
		"append": m.appendCalls,
		"manage": m.manageCalls,
		"report": m.reportCalls,
	}
}

var _ interfaces.MediaDevice = (*MockDevice)(nil)
