// Package wca implements the write-caching aggregator: the user-facing
// write path. A single writer goroutine drains a submit queue, fragments
// each user write into zone-striped media commands, submits them, and a
// per-child completion callback aggregates results into a multi-piece
// offset list that is upserted into the read-mapping index.
//
// One goroutine draining a channel-backed FIFO, with a per-item
// completion path mutating shared per-item state under a lock, keeps the
// aggregation logic single-threaded without blocking submitters.
package wca

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/behrlich/zns-ztl/internal/constants"
	"github.com/behrlich/zns-ztl/internal/geo"
	"github.com/behrlich/zns-ztl/internal/interfaces"
	"github.com/behrlich/zns-ztl/internal/media"
	"github.com/behrlich/zns-ztl/internal/mempool"
	"github.com/behrlich/zns-ztl/internal/provisioner"
)

// UserCmd is one application-level write (a "ucmd").
type UserCmd struct {
	ID         string
	Buf        []byte
	Size       uint64
	ProvType   int
	AppManaged bool
	Multi      bool

	Callback func(*UserCmd)

	prov *provisioner.ProAddr

	mu       sync.Mutex
	cmds     []*media.Cmd
	zones    []uint32 // zones[i] == cmds[i].Zone, indexed by Sequence
	msec     []uint64
	moffset  []uint64
	inflight map[uint32]bool

	ncb       atomic.Int32
	nmcmd     int
	Status    error
	completed atomic.Bool

	Pieces []Piece
	NOffs  int
}

// Writer drains the submit queue and processes one UserCmd at a time
// end-to-end on a single goroutine, so aggregation state never needs its
// own lock against concurrent writers.
type Writer struct {
	media *media.Media
	prov  *provisioner.Provisioner
	geo   geo.Geometry

	index   interfaces.IndexStore
	flusher interfaces.MetadataFlusher
	zmd     interfaces.ZoneMetadataStore
	obs     interfaces.Observer
	log     interfaces.Logger

	cmdPool *mempool.Keyed[media.Cmd]

	appendEnabled bool

	inCh   chan *UserCmd
	stopCh chan struct{}
	doneCh chan struct{}
}

// Config bundles a Writer's collaborators.
type Config struct {
	Media         *media.Media
	Prov          *provisioner.Provisioner
	Geo           geo.Geometry
	Index         interfaces.IndexStore
	Flusher       interfaces.MetadataFlusher
	ZMD           interfaces.ZoneMetadataStore
	Observer      interfaces.Observer
	Logger        interfaces.Logger
	AppendEnabled bool
	QueueDepth    int
}

// New creates a Writer. Call Run in its own goroutine to start draining.
func New(cfg Config) *Writer {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	return &Writer{
		media:         cfg.Media,
		prov:          cfg.Prov,
		geo:           cfg.Geo,
		index:         cfg.Index,
		flusher:       cfg.Flusher,
		zmd:           cfg.ZMD,
		obs:           cfg.Observer,
		log:           cfg.Logger,
		cmdPool:       mempool.NewKeyed[media.Cmd](constants.DefaultMempoolSlots),
		appendEnabled: cfg.AppendEnabled,
		inCh:          make(chan *UserCmd, depth),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Submit enqueues a user write and returns immediately.
func (w *Writer) Submit(u *UserCmd) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	select {
	case w.inCh <- u:
		return nil
	case <-w.stopCh:
		return fmt.Errorf("wca: writer is stopped")
	}
}

// Run drains the submit queue until Stop is called. Intended to be run on
// its own goroutine.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case u := <-w.inCh:
			w.processUserCmd(ctx, u)
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (w *Writer) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Writer) poolTypeFor(u *UserCmd) int { return u.ProvType }

func (w *Writer) opcodeFor() media.Opcode {
	if w.appendEnabled {
		return media.OpAppend
	}
	return media.OpWrite
}

// processUserCmd is the writer-goroutine body for one ucmd.
func (w *Writer) processUserCmd(ctx context.Context, u *UserCmd) {
	nbytes := uint64(w.geo.SectorSize)

	// Reject sizes that aren't a whole multiple of the minimum mcmd
	// granularity before reserving any zone space (see DESIGN.md for why
	// this is stated as an explicit size%alignment check rather than a
	// boolean-collapsed one).
	if u.Size == 0 || u.Size%(nbytes*uint64(constants.SecMCMDMin)) != 0 {
		w.preFail(u, fmt.Errorf("wca: wca_s_err: size %d is not a multiple of %d", u.Size, nbytes*uint64(constants.SecMCMDMin)))
		return
	}
	nsec := u.Size / nbytes
	if (nsec+constants.SecMCMD-1)/constants.SecMCMD > constants.IOMaxMCMD {
		w.preFail(u, fmt.Errorf("wca: wca_s_err: implied command count exceeds IO_MAX_MCMD"))
		return
	}

	prov, err := w.prov.New(nsec, u.ProvType, u.Multi || w.appendEnabled)
	if err != nil {
		w.preFail(u, fmt.Errorf("wca: wca_s_err: %w", err))
		return
	}
	u.prov = prov

	ncmd := 0
	for _, pc := range prov.Pieces {
		ncmd += int((pc.NSec + constants.SecMCMD - 1) / constants.SecMCMD)
	}
	if ncmd > constants.IOMaxMCMD {
		w.prov.Free(prov)
		w.preFail(u, fmt.Errorf("wca: wca_s_err: recomputed command count exceeds IO_MAX_MCMD"))
		return
	}

	cmds := make([]*media.Cmd, 0, ncmd)
	zones := make([]uint32, 0, ncmd)
	poolType := w.poolTypeFor(u)
	var boff uint64
	seq := 0
	for _, pc := range prov.Pieces {
		remaining := pc.NSec
		var sectorCursor uint64
		for remaining > 0 {
			cmd := w.cmdPool.Get(poolType, u.ProvType)
			if cmd == nil {
				w.releaseAcquired(cmds, poolType, u.ProvType)
				w.prov.Free(prov)
				if w.obs != nil {
					w.obs.RecordMempoolExhausted(poolType)
				}
				w.preFail(u, fmt.Errorf("wca: wca_s_err: mempool_exhausted"))
				return
			}
			n := remaining
			if n > constants.SecMCMD {
				n = constants.SecMCMD
			}
			*cmd = media.Cmd{
				Opcode:     w.opcodeFor(),
				Group:      pc.Group,
				Zone:       pc.Zone,
				Sector:     sectorCursor,
				NSec:       uint32(n),
				Buf:        u.Buf[boff : boff+n*nbytes],
				Sequence:   seq,
				SequenceZn: pc.Zone,
				Opaque:     u,
				Callback:   w.onMcmdComplete,
			}
			cmds = append(cmds, cmd)
			zones = append(zones, pc.Zone)
			boff += n * nbytes
			sectorCursor += n
			remaining -= n
			seq++
		}
	}

	u.cmds = cmds
	u.zones = zones
	u.nmcmd = len(cmds)
	u.msec = make([]uint64, len(cmds))
	u.moffset = make([]uint64, len(cmds))
	u.inflight = make(map[uint32]bool)

	w.submitAndDrain(ctx, u)
}

// submitAndDrain implements the striped submission loop and the
// progress-heuristic drain for one ucmd's child mcmds.
func (w *Writer) submitAndDrain(ctx context.Context, u *UserCmd) {
	submitted := 0
	total := len(u.cmds)
	cursor := make(map[uint32]int) // zone -> next index within that zone's run
	// group commands by zone, preserving submission order within a zone
	byZone := make(map[uint32][]*media.Cmd)
	for _, c := range u.cmds {
		byZone[c.Zone] = append(byZone[c.Zone], c)
	}

	failed := false
	for submitted < total && !failed {
		progressedThisPass := false
		for zone, list := range byZone {
			idx := cursor[zone]
			if idx >= len(list) {
				continue
			}
			if !w.appendEnabled {
				u.mu.Lock()
				busy := u.inflight[zone]
				u.mu.Unlock()
				if busy {
					w.media.Poke(0)
					continue
				}
				u.mu.Lock()
				u.inflight[zone] = true
				u.mu.Unlock()
			}
			cmd := list[idx]
			if err := w.media.SubmitIO(ctx, cmd); err != nil {
				w.failMidSubmit(u, cmd, submitted, err)
				failed = true
				break
			}
			cursor[zone] = idx + 1
			submitted++
			progressedThisPass = true
			if submitted%constants.ProStripe == 0 {
				w.media.Poke(0)
			}
		}
		if !progressedThisPass && !failed {
			w.media.Poke(0)
		}
	}

	if failed {
		return
	}

	// Drain: poke until this ucmd finalizes or another ucmd has queued.
	// The completion goroutine (not this loop) drives the remaining
	// completions forward regardless of which branch exits this loop —
	// see DESIGN.md's Open Question decision #2.
	for {
		if u.completed.Load() {
			return
		}
		if int(u.ncb.Load()) == u.nmcmd {
			return
		}
		if len(w.inCh) > 0 {
			return
		}
		w.media.Poke(0)
	}
}

func (w *Writer) releaseAcquired(cmds []*media.Cmd, poolType, sub int) {
	for _, c := range cmds {
		w.cmdPool.Put(poolType, sub, c)
	}
}

// preFail implements the pre-submit failure policy: WCA_S_ERR, release
// whatever was acquired, deliver completion via the user callback
// directly without going through the drain path.
func (w *Writer) preFail(u *UserCmd, err error) {
	u.Status = err
	u.completed.Store(true)
	if w.log != nil {
		w.log.Error("wca: pre-submit failure", "ucmd", u.ID, "error", err)
	}
	if u.Callback != nil {
		u.Callback(u)
	}
}

// failMidSubmit implements WCA_S2_ERR: artificially bump ncb for every
// not-yet-submitted child so the count reaches nmcmd, then let whatever
// was already submitted drive completions normally. submitted is the
// number of children that actually reached media.SubmitIO successfully
// before this one failed — ncb only counts children whose completion
// callback has already fired, which undercounts in-flight submitted
// children and would finalize the ucmd before their real completions
// land.
func (w *Writer) failMidSubmit(u *UserCmd, failedAt *media.Cmd, submitted int, err error) {
	u.mu.Lock()
	if u.Status == nil {
		u.Status = fmt.Errorf("wca: wca_s2_err: %w", err)
	}
	u.mu.Unlock()

	_ = failedAt // identifies where submission stopped; already-submitted children still complete normally

	remaining := u.nmcmd - submitted
	if remaining > 0 {
		if u.ncb.Add(int32(remaining)) == int32(u.nmcmd) {
			w.finalize(u)
		}
	}
}

// onMcmdComplete is the completion callback wired into every submitted
// child mcmd.
func (w *Writer) onMcmdComplete(cmd *media.Cmd) {
	u, ok := cmd.Opaque.(*UserCmd)
	if !ok || u == nil {
		return
	}

	u.mu.Lock()
	delete(u.inflight, cmd.SequenceZn)
	if cmd.Status != nil {
		if u.Status == nil {
			u.Status = cmd.Status
		}
	} else {
		u.moffset[cmd.Sequence] = cmd.PAddr
		u.msec[cmd.Sequence] = uint64(cmd.NSec)
	}
	u.mu.Unlock()

	w.cmdPool.Put(w.poolTypeFor(u), u.ProvType, cmd)

	if int(u.ncb.Add(1)) == u.nmcmd {
		w.finalize(u)
	}
}

// finalize runs exactly once per ucmd, when ncb reaches nmcmd.
func (w *Writer) finalize(u *UserCmd) {
	if !u.AppManaged && u.Status == nil {
		if checkOffsetSeq(u.zones, u.msec, u.moffset) {
			if w.index != nil {
				if err := w.index.Upsert(u.ID, u.moffset[0], uint32(u.msec[0]), false); err != nil {
					u.Status = fmt.Errorf("wca: map_err: %w", err)
				} else if w.flusher != nil {
					if err := w.flusher.Flush(); err != nil {
						u.Status = fmt.Errorf("wca: map_err: %w", err)
					}
				}
			}
		} else {
			u.Status = fmt.Errorf("wca: append_err: multi-piece mapping is unsupported for a ZTL-managed index")
		}
	}

	success := u.Status == nil
	if success {
		u.Pieces = reorgOffsets(u.zones, u.msec, u.moffset)
		u.NOffs = len(u.Pieces)
		if w.zmd != nil {
			for _, p := range u.Pieces {
				w.zmd.IncPieces(groupOfZone(u, p.Zone), p.Zone, 1)
			}
		}
	}

	if w.obs != nil {
		w.obs.RecordFinalize(u.NOffs, success)
	}

	if u.prov != nil {
		w.prov.Free(u.prov)
	}

	u.completed.Store(true)
	if u.Callback != nil {
		u.Callback(u)
	}
}

// groupOfZone recovers the group that owns a zone from the ucmd's
// original provisioning reservation (cmds carry Zone but not Group
// redundantly per-sequence beyond what's in prov.Pieces).
func groupOfZone(u *UserCmd, zone uint32) uint32 {
	if u.prov == nil {
		return 0
	}
	for _, pc := range u.prov.Pieces {
		if pc.Zone == zone {
			return pc.Group
		}
	}
	return 0
}
