// Package media implements the async command submission/completion
// pipeline: register a device, submit read/write/append/zone-management
// commands, and dispatch completions through a dedicated completion
// goroutine.
//
// One goroutine drains a completion channel and invokes a per-command
// callback, rather than having each submitter block on its own result.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/behrlich/zns-ztl/internal/constants"
	"github.com/behrlich/zns-ztl/internal/geo"
	"github.com/behrlich/zns-ztl/internal/interfaces"
	"github.com/behrlich/zns-ztl/internal/mempool"
)

// Opcode enumerates the media command kinds.
type Opcode int

const (
	OpRead Opcode = iota
	OpWrite
	OpAppend
	OpZoneManage
)

// Cmd is one device-level operation (an "mcmd"). It is
// acquired from a Pool[Cmd], filled in by the caller (typically
// internal/wca), submitted via Media.SubmitIO/SubmitZN, and released back
// to the pool from the completion callback.
type Cmd struct {
	Opcode Opcode
	Group  uint32
	Zone   uint32
	Sector uint64 // starting sector for non-append ops
	NSec   uint32
	Buf    []byte // prp: source (write/append) or destination (read) buffer
	Sync   bool
	ZoneOp interfaces.ZoneOp // valid when Opcode == OpZoneManage

	// Filled by the completion path.
	PAddr  uint64 // device-assigned sector for APPEND; submitted sector for WRITE
	Status error

	// Ordering fields, opaque to media, set by the caller (WCA) and
	// preserved across the completion roundtrip so the callback can route
	// the result back to the right user command without media needing to
	// know about ucmds. Opaque is a non-owning back-reference (the WCA
	// stores its *UserCmd there) and Sequence indexes into that ucmd's
	// per-child arrays.
	Sequence   int
	SequenceZn uint32
	Opaque     any

	Callback func(*Cmd)
}

// Media is the core's binding to one zoned device.
type Media struct {
	dev interfaces.MediaDevice
	geo geo.Geometry
	obs interfaces.Observer
	log interfaces.Logger

	// submitMu serializes non-append WRITE submission, matching the
	// requirement that the device cannot multi-issue sequential writes
	// to the same write pointer.
	submitMu sync.Mutex

	compCh     chan *Cmd
	compActive atomic.Bool
	compReady  chan struct{}
	compDone   chan struct{}
	outstanding atomic.Int64
	completed  atomic.Int64
}

// New builds a Media bound to dev, with geometry filled in by Register.
func New(dev interfaces.MediaDevice, obs interfaces.Observer, log interfaces.Logger) *Media {
	return &Media{dev: dev, obs: obs, log: log}
}

// ErrNoGeometry is wrapped into Register's return value when the device
// opened successfully but reported a zero-valued geometry field. Callers
// (core.Open) use errors.Is against this to distinguish a NO_GEOMETRY
// condition from a NO_DEVICE one, since both arrive as a plain error from
// the MediaDevice interface.
var ErrNoGeometry = errors.New("media: no geometry")

// Register opens the device and fills in geometry. Returns distinct
// NO_DEVICE vs NO_GEOMETRY style errors so callers can tell the two apart.
func (m *Media) Register(ctx context.Context, name string) error {
	g, err := m.dev.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("media: no device %q: %w", name, err)
	}
	if g.Groups == 0 || g.ZonesPerGroup == 0 || g.SectorsPerZone == 0 {
		return fmt.Errorf("%w: device %q", ErrNoGeometry, name)
	}
	m.geo = geo.Geometry{
		Groups:         g.Groups,
		ZonesPerGroup:  g.ZonesPerGroup,
		SectorsPerZone: g.SectorsPerZone,
		SectorSize:     g.SectorSize,
	}
	return nil
}

// Geometry returns the registered device geometry.
func (m *Media) Geometry() geo.Geometry { return m.geo }

// InitAsync creates the completion channel and spawns the completion
// goroutine, blocking (bounded by constants.AsyncInitSpinTimeout) until it
// signals it is running.
func (m *Media) InitAsync(depth int) error {
	m.compCh = make(chan *Cmd, depth)
	m.compDone = make(chan struct{})
	m.compReady = make(chan struct{})
	m.compActive.Store(true)

	go m.completionLoop()

	select {
	case <-m.compReady:
		return nil
	case <-time.After(constants.AsyncInitSpinTimeout):
		m.compActive.Store(false)
		return fmt.Errorf("media: asynch_th: completion goroutine did not start")
	}
}

// TermAsync clears the active flag and waits for the completion goroutine
// to drain and exit.
func (m *Media) TermAsync() error {
	m.compActive.Store(false)
	close(m.compCh)
	select {
	case <-m.compDone:
		return nil
	case <-time.After(constants.ShutdownJoinTimeout):
		return fmt.Errorf("media: asynch_th: completion goroutine did not stop in time")
	}
}

func (m *Media) completionLoop() {
	close(m.compReady)
	defer close(m.compDone)
	for cmd := range m.compCh {
		m.dispatchCompletion(cmd)
	}
}

func (m *Media) dispatchCompletion(cmd *Cmd) {
	m.outstanding.Add(-1)
	m.completed.Add(1)
	if cmd.Callback != nil {
		cmd.Callback(cmd)
	}
}

// Outstanding returns the number of in-flight submissions (OUTS).
func (m *Media) Outstanding() int64 { return m.outstanding.Load() }

// Poke returns the number of completions processed since the core last
// asked, draining nothing itself — the completion goroutine already
// drives completions concurrently. It exists to satisfy callers (the
// WCA drain loop, the test-only direct-poke path) that want a liveness
// signal without blocking. limit == 0 means "report everything reaped so
// far".
func (m *Media) Poke(limit int) int64 {
	n := m.completed.Swap(0)
	if limit > 0 && n > int64(limit) {
		// Re-queue the remainder as already-reaped; the contract only
		// promises a count, not which completions it corresponds to.
		m.completed.Add(n - int64(limit))
		return int64(limit)
	}
	return n
}

// Wait blocks until outstanding submissions reach zero or timeout
// elapses, returning an error on timeout (WAIT_ERR).
func (m *Media) Wait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for m.Outstanding() > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("media: wait_err: outstanding submissions did not drain")
		}
		time.Sleep(constants.PollBackoff)
	}
	return nil
}

// SubmitIO submits a READ, WRITE, or APPEND command. Async submissions
// return immediately and complete via the command's Callback, invoked
// from the completion goroutine; synchronous submissions block and
// invoke the callback (if any) before returning.
func (m *Media) SubmitIO(ctx context.Context, cmd *Cmd) error {
	switch cmd.Opcode {
	case OpRead:
		return m.submitRead(ctx, cmd)
	case OpWrite:
		return m.submitWrite(ctx, cmd)
	case OpAppend:
		if cmd.Sync {
			return fmt.Errorf("media: invalid_opcode: synchronous append is not supported")
		}
		return m.submitAppend(ctx, cmd)
	default:
		return fmt.Errorf("media: invalid_opcode: %v", cmd.Opcode)
	}
}

func (m *Media) submitRead(ctx context.Context, cmd *Cmd) error {
	lba := m.geo.Pack(geo.Addr{Group: cmd.Group, Zone: cmd.Zone, Sector: cmd.Sector})
	run := func() {
		start := time.Now()
		err := m.dev.ReadSectors(ctx, lba, cmd.NSec, cmd.Buf)
		cmd.Status = err
		cmd.PAddr = cmd.Sector
		if m.obs != nil {
			m.obs.RecordRead(cmd.NSec, uint64(time.Since(start)), err == nil)
		}
	}
	return m.dispatch(cmd, run)
}

func (m *Media) submitWrite(ctx context.Context, cmd *Cmd) error {
	lba := m.geo.Pack(geo.Addr{Group: cmd.Group, Zone: cmd.Zone, Sector: cmd.Sector})
	run := func() {
		m.submitMu.Lock()
		start := time.Now()
		err := m.dev.WriteSectors(ctx, lba, cmd.NSec, cmd.Buf)
		m.submitMu.Unlock()
		cmd.Status = err
		cmd.PAddr = cmd.Sector
		if m.obs != nil {
			m.obs.RecordWrite(cmd.Group, cmd.Zone, cmd.NSec, uint64(time.Since(start)), err == nil)
		}
	}
	return m.dispatch(cmd, run)
}

func (m *Media) submitAppend(ctx context.Context, cmd *Cmd) error {
	run := func() {
		start := time.Now()
		assigned, err := m.dev.AppendSectors(ctx, cmd.Group, cmd.Zone, cmd.NSec, cmd.Buf)
		cmd.Status = err
		cmd.PAddr = assigned
		if m.obs != nil {
			m.obs.RecordAppend(cmd.Group, cmd.Zone, cmd.NSec, uint64(time.Since(start)), err == nil)
		}
	}
	return m.dispatch(cmd, run)
}

// dispatch runs fn either inline (Sync) or on a goroutine that enqueues
// the command on the completion channel once fn returns (async).
func (m *Media) dispatch(cmd *Cmd, fn func()) error {
	m.outstanding.Add(1)
	if cmd.Sync {
		fn()
		m.outstanding.Add(-1)
		m.completed.Add(1)
		if cmd.Callback != nil {
			cmd.Callback(cmd)
		}
		return cmd.Status
	}
	go func() {
		fn()
		if !m.compActive.Load() {
			return
		}
		m.compCh <- cmd
	}()
	return nil
}

// SubmitZN dispatches a zone-management command (OPEN/CLOSE/FINISH/RESET)
// or a REPORT against (group, zone).
func (m *Media) SubmitZN(ctx context.Context, cmd *Cmd) (interfaces.ZoneInfo, error) {
	if cmd.ZoneOp == interfaces.OpZoneReport {
		return m.dev.ReportZone(ctx, cmd.Group, cmd.Zone)
	}
	if err := m.dev.ManageZone(ctx, cmd.Group, cmd.Zone, cmd.ZoneOp); err != nil {
		return interfaces.ZoneInfo{}, err
	}
	if cmd.ZoneOp == interfaces.OpZoneReset && m.obs != nil {
		m.obs.RecordZoneReset(cmd.Group, cmd.Zone)
	}
	return m.dev.ReportZone(ctx, cmd.Group, cmd.Zone)
}

// DMAAlloc/DMAFree delegate buffer allocation to a DMAPool, keeping
// buffer allocation a separate concern from the mcmd mempool.
func DMAAlloc(pool *mempool.DMAPool) []byte { return pool.Alloc() }
func DMAFree(pool *mempool.DMAPool, buf []byte) { pool.Free(buf) }
