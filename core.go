// Package ztl is the public API for the zone translation layer core: open
// a zoned device, submit user writes through the write-caching aggregator,
// and query/manage zone lifecycle state.
package ztl

import (
	"context"
	"errors"
	"fmt"

	"github.com/behrlich/zns-ztl/internal/index"
	"github.com/behrlich/zns-ztl/internal/interfaces"
	"github.com/behrlich/zns-ztl/internal/media"
	"github.com/behrlich/zns-ztl/internal/mempool"
	"github.com/behrlich/zns-ztl/internal/provisioner"
	"github.com/behrlich/zns-ztl/internal/wca"
)

// Core binds together the media layer, the provisioner, and the writer
// into one zoned-device session.
type Core struct {
	media   *media.Media
	prov    *provisioner.Provisioner
	writer  *wca.Writer
	index   interfaces.IndexStore
	metrics *Metrics
	cfg     Config
	bufPool *mempool.DMAPool

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Options carries collaborators Open does not construct a default for.
type Options struct {
	// Context for cancellation; if nil, context.Background() is used.
	Context context.Context

	// Logger receives structured log events; if nil, nothing is logged.
	Logger interfaces.Logger

	// Observer receives metrics events; if nil, a MetricsObserver backed
	// by a fresh Metrics is used.
	Observer interfaces.Observer

	// Index, Flusher, ZMD let a caller plug in real backing stores; if
	// nil, in-memory stand-ins from internal/index are used. A nil Flusher
	// defaults to the in-memory index only when Index is nil too; with a
	// caller-supplied Index and a nil Flusher, nothing is flushed.
	Index   interfaces.IndexStore
	Flusher interfaces.MetadataFlusher
	ZMD     interfaces.ZoneMetadataStore

	// BufPool sources the raw I/O buffers AllocBuf/FreeBuf hand out. If
	// nil, AllocBuf falls back to a plain make([]byte, n) and FreeBuf is a
	// no-op — use a DMAPool when submitting against a real device that
	// benefits from pre-pinned, reused buffers instead of fresh garbage
	// per write.
	BufPool *mempool.DMAPool

	// Groups supplies the provisioner's group id list. If nil, Open
	// builds a default GroupLister (index.NewGroups) naming groups 0..n-1
	// in order, where n is cfg.Groups (or the registered device's group
	// count when cfg.Groups is zero).
	Groups interfaces.GroupLister
}

// Open registers dev, builds the provisioner over its geometry, and starts
// the writer goroutine. The returned Core is ready to accept Submit calls.
func Open(cfg Config, dev interfaces.MediaDevice, opts *Options) (*Core, error) {
	if opts == nil {
		opts = &Options{}
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	metrics := NewMetrics()
	var observer interfaces.Observer = NewMetricsObserver(metrics)
	if opts.Observer != nil {
		observer = opts.Observer
	}

	m := media.New(dev, observer, opts.Logger)
	if err := m.Register(ctx, cfg.DeviceName); err != nil {
		code := ErrCodeNoDevice
		if errors.Is(err, media.ErrNoGeometry) {
			code = ErrCodeNoGeometry
		}
		return nil, WrapError("Open", code, err)
	}
	if err := m.InitAsync(cfg.QueueDepth); err != nil {
		return nil, WrapError("Open", ErrCodeAsyncInit, err)
	}

	g := m.Geometry()
	groupCount := cfg.Groups
	if groupCount <= 0 {
		groupCount = int(g.Groups)
	}
	capacityPerZone := cfg.CapacityPerZone
	if capacityPerZone == 0 {
		capacityPerZone = g.SectorsPerZone
	}

	lister := opts.Groups
	if lister == nil {
		ids := make([]uint32, groupCount)
		for i := range ids {
			ids[i] = uint32(i)
		}
		lister = index.NewGroups(ids)
	}
	groupIDs, err := lister.List(-1)
	if err != nil {
		return nil, WrapError("Open", ErrCodeGroup, err)
	}
	groups := make([]*provisioner.Group, len(groupIDs))
	for i, id := range groupIDs {
		groups[i] = provisioner.NewGroup(id, int(g.ZonesPerGroup))
	}
	prov := provisioner.New(groups, capacityPerZone, opts.Logger)

	var defaultStore *index.Memory
	idx := opts.Index
	if idx == nil {
		defaultStore = index.New()
		idx = defaultStore
	}
	flusher := opts.Flusher
	if flusher == nil && defaultStore != nil {
		flusher = defaultStore
	}
	zmd := opts.ZMD
	if zmd == nil {
		zmd = index.NewZoneMetadata()
	}

	w := wca.New(wca.Config{
		Media:         m,
		Prov:          prov,
		Geo:           g,
		Index:         idx,
		Flusher:       flusher,
		ZMD:           zmd,
		Observer:      observer,
		Logger:        opts.Logger,
		AppendEnabled: cfg.AppendEnabled,
		QueueDepth:    cfg.QueueDepth,
	})

	coreCtx, cancel := context.WithCancel(ctx)
	go w.Run(coreCtx)

	return &Core{
		media:   m,
		prov:    prov,
		writer:  w,
		index:   idx,
		metrics: metrics,
		cfg:     cfg,
		bufPool: opts.BufPool,
		ctx:     coreCtx,
		cancel:  cancel,
	}, nil
}

// Close stops the writer goroutine and drains and stops the completion
// goroutine. It does not close the MediaDevice passed to Open.
func (c *Core) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.writer.Stop()
	c.cancel()
	return c.media.TermAsync()
}

// Submit enqueues u on the writer and returns immediately; u.Callback
// fires on completion.
func (c *Core) Submit(u *wca.UserCmd) error {
	if c.closed {
		return NewError("Submit", ErrCodeNoDevice, "core is closed")
	}
	return c.writer.Submit(u)
}

// ReadZone reads nsec sectors starting at (group, zone, sector) into buf,
// a synchronous raw read bypassing the write-caching aggregator — useful
// for verifying data placed by a prior Submit once its Pieces are known.
func (c *Core) ReadZone(group, zone uint32, sector uint64, nsec uint32, buf []byte) error {
	cmd := &media.Cmd{Opcode: media.OpRead, Group: group, Zone: zone, Sector: sector, NSec: nsec, Buf: buf, Sync: true}
	if err := c.media.SubmitIO(c.ctx, cmd); err != nil {
		return WrapError("ReadZone", ErrCodeReport, err)
	}
	return nil
}

// Report returns the current state and write pointer of (group, zone).
func (c *Core) Report(group, zone uint32) (interfaces.ZoneInfo, error) {
	cmd := &media.Cmd{Opcode: media.OpZoneManage, Group: group, Zone: zone, ZoneOp: interfaces.OpZoneReport, Sync: true}
	info, err := c.media.SubmitZN(c.ctx, cmd)
	if err != nil {
		return interfaces.ZoneInfo{}, WrapError("Report", ErrCodeReport, err)
	}
	return info, nil
}

// ManageZone drives the zone state machine for (group, zone): OPEN,
// CLOSE, FINISH, or RESET.
func (c *Core) ManageZone(group, zone uint32, op interfaces.ZoneOp) error {
	if op == interfaces.OpZoneReport {
		return fmt.Errorf("ztl: use Report for OpZoneReport")
	}
	cmd := &media.Cmd{Opcode: media.OpZoneManage, Group: group, Zone: zone, ZoneOp: op, Sync: true}
	if _, err := c.media.SubmitZN(c.ctx, cmd); err != nil {
		return WrapError("ManageZone", ErrCodeGroup, err)
	}
	return nil
}

// Metrics returns the Core's built-in metrics. They are populated only
// when no custom Observer was supplied at Open time; a custom Observer
// (e.g. PrometheusObserver) replaces them, and these counters stay zero.
func (c *Core) Metrics() *Metrics { return c.metrics }

// AllocBuf returns an n-byte raw I/O buffer, sourced from the Options.BufPool
// configured at Open time if any, otherwise a plain make([]byte, n). Pair
// with FreeBuf once the buffer's Submit has completed.
func (c *Core) AllocBuf(n int) []byte {
	if c.bufPool != nil {
		if buf := c.bufPool.Alloc(); buf != nil {
			if len(buf) >= n {
				return buf[:n]
			}
			c.bufPool.Free(buf)
		}
	}
	return make([]byte, n)
}

// FreeBuf returns buf to the configured BufPool. A no-op when no BufPool
// was configured, since those buffers are ordinary garbage-collected
// slices.
func (c *Core) FreeBuf(buf []byte) {
	if c.bufPool != nil {
		c.bufPool.Free(buf)
	}
}

// Geometry returns the registered device geometry.
func (c *Core) Geometry() interfaces.Geometry {
	g := c.media.Geometry()
	return interfaces.Geometry{
		Groups:         g.Groups,
		ZonesPerGroup:  g.ZonesPerGroup,
		SectorsPerZone: g.SectorsPerZone,
		SectorSize:     g.SectorSize,
	}
}
