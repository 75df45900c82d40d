package wca

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/behrlich/zns-ztl/internal/geo"
	"github.com/behrlich/zns-ztl/internal/interfaces"
	"github.com/behrlich/zns-ztl/internal/media"
	"github.com/behrlich/zns-ztl/internal/media/memdev"
	"github.com/behrlich/zns-ztl/internal/provisioner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	mu      sync.Mutex
	upserts map[string][2]uint64 // id -> (offset, nsec)
}

func newFakeIndex() *fakeIndex { return &fakeIndex{upserts: make(map[string][2]uint64)} }

func (f *fakeIndex) Upsert(id string, offset uint64, nsec uint32, multi bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts[id] = [2]uint64{offset, uint64(nsec)}
	return nil
}

type fakeFlusher struct{ calls int }

func (f *fakeFlusher) Flush() error { f.calls++; return nil }

type fakeZMD struct {
	mu     sync.Mutex
	pieces map[[2]uint32]uint64
}

func newFakeZMD() *fakeZMD { return &fakeZMD{pieces: make(map[[2]uint32]uint64)} }

func (f *fakeZMD) Get(group, zone uint32) (*interfaces.ZoneMeta, error) { return nil, nil }

func (f *fakeZMD) IncPieces(group, zone uint32, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pieces[[2]uint32{group, zone}] += uint64(n)
}

type testHarness struct {
	writer *Writer
	media  *media.Media
	index  *fakeIndex
	geo    geo.Geometry
	cancel func()
}

func newHarness(t *testing.T, appendEnabled bool) *testHarness {
	t.Helper()
	dev := memdev.New(1, 4, 4096, 512)
	m := media.New(dev, nil, nil)
	require.NoError(t, m.Register(context.Background(), "mem0"))
	require.NoError(t, m.InitAsync(256))

	groups := []*provisioner.Group{provisioner.NewGroup(0, 4)}
	prov := provisioner.New(groups, 4096, nil)

	idx := newFakeIndex()
	w := New(Config{
		Media:         m,
		Prov:          prov,
		Geo:           m.Geometry(),
		Index:         idx,
		Flusher:       &fakeFlusher{},
		ZMD:           newFakeZMD(),
		AppendEnabled: appendEnabled,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	t.Cleanup(func() {
		w.Stop()
		m.TermAsync()
		cancel()
	})

	return &testHarness{writer: w, media: m, index: idx, geo: m.Geometry(), cancel: cancel}
}

func waitForUCmd(t *testing.T, u *UserCmd, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !u.completed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for ucmd to complete")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestZoneAppendRoundTrip(t *testing.T) {
	// Invariant 1: writing B into a freshly reset zone and reading back
	// the returned piece list reconstructs B byte-for-byte. Append
	// disabled so provisioning stays single-zone (multi only follows
	// u.Multi or append mode).
	h := newHarness(t, false)

	nbytes := uint64(h.geo.SectorSize)
	size := 8 * nbytes * 4 // k=8, SEC_MCMD_MIN=4
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 256)
	}

	var done sync.WaitGroup
	done.Add(1)
	u := &UserCmd{Buf: buf, Size: size, Callback: func(u *UserCmd) { done.Done() }}
	require.NoError(t, h.writer.Submit(u))
	waitForUCmd(t, u, 5*time.Second)
	done.Wait()

	require.NoError(t, u.Status)
	require.Len(t, u.Pieces, 1, "a single contiguous zone write should produce one piece")

	got := make([]byte, size)
	readCmd := &media.Cmd{Opcode: media.OpRead, Group: 0, Zone: u.Pieces[0].Zone, Sector: u.Pieces[0].Offset, NSec: uint32(u.Pieces[0].NSec), Buf: got, Sync: true}
	require.NoError(t, h.media.SubmitIO(context.Background(), readCmd))
	assert.Equal(t, buf, got)
}

func TestOffsetContiguityInvariant(t *testing.T) {
	h := newHarness(t, false)
	nbytes := uint64(h.geo.SectorSize)
	size := 3 * 64 * nbytes // three SEC_MCMD-sized children on one zone
	buf := make([]byte, size)

	var wg sync.WaitGroup
	wg.Add(1)
	u := &UserCmd{Buf: buf, Size: size, Callback: func(*UserCmd) { wg.Done() }}
	require.NoError(t, h.writer.Submit(u))
	waitForUCmd(t, u, 5*time.Second)
	wg.Wait()

	require.NoError(t, u.Status)
	for i := 1; i < len(u.moffset); i++ {
		assert.Equal(t, u.moffset[i-1]+u.msec[i-1], u.moffset[i])
	}
}

func TestCompletionCountInvariant(t *testing.T) {
	// Invariant 4: at finalization ncb == nmcmd.
	h := newHarness(t, false)
	nbytes := uint64(h.geo.SectorSize)
	size := 6 * nbytes * 4

	var wg sync.WaitGroup
	wg.Add(1)
	u := &UserCmd{Buf: make([]byte, size), Size: size, Callback: func(*UserCmd) { wg.Done() }}
	require.NoError(t, h.writer.Submit(u))
	waitForUCmd(t, u, 5*time.Second)
	wg.Wait()

	require.NoError(t, u.Status)
	assert.Equal(t, u.nmcmd, int(u.ncb.Load()))
}

func TestSingleZoneSingleLargeWriteProducesOnePiece(t *testing.T) {
	// Scenario (f): n * SEC_MCMD * nbytes on a single zone -> nmcmd == n,
	// noffs == 1, msec[0] == n * SEC_MCMD.
	h := newHarness(t, false)
	nbytes := uint64(h.geo.SectorSize)
	n := uint64(3)
	size := n * 64 * nbytes // SEC_MCMD == 64

	var wg sync.WaitGroup
	wg.Add(1)
	u := &UserCmd{Buf: make([]byte, size), Size: size, Callback: func(*UserCmd) { wg.Done() }}
	require.NoError(t, h.writer.Submit(u))
	waitForUCmd(t, u, 5*time.Second)
	wg.Wait()

	require.NoError(t, u.Status)
	assert.Equal(t, int(n), u.nmcmd)
	assert.Equal(t, 1, u.NOffs)
	assert.Equal(t, n*64, u.Pieces[0].NSec)
}

func TestAppendModeStripesAcrossZones(t *testing.T) {
	// Append mode always requests a multi-zone reservation; with four
	// equally-sized zones and an evenly divisible request the
	// provisioner stripes one piece per zone. The write is app-managed:
	// a ZTL-managed index rejects a placement spanning several zones.
	h := newHarness(t, true)
	nbytes := uint64(h.geo.SectorSize)
	size := 32 * nbytes

	var wg sync.WaitGroup
	wg.Add(1)
	u := &UserCmd{Buf: make([]byte, size), Size: size, Multi: true, AppManaged: true, Callback: func(*UserCmd) { wg.Done() }}
	require.NoError(t, h.writer.Submit(u))
	waitForUCmd(t, u, 5*time.Second)
	wg.Wait()

	require.NoError(t, u.Status)
	assert.Greater(t, len(u.Pieces), 1, "an evenly-striped append write should span more than one zone")
}

func TestAtMostOneInFlightPerZoneWhenAppendDisabled(t *testing.T) {
	// Invariant 5: with append disabled, submitAndDrain never has two
	// outstanding children on the same zone at once. We can't observe
	// the gating directly, but a successful completion with sequential
	// per-zone offsets is only possible if the gate held (memdev
	// rejects any non-sequential write).
	h := newHarness(t, false)
	nbytes := uint64(h.geo.SectorSize)
	size := 4 * 64 * nbytes

	var wg sync.WaitGroup
	wg.Add(1)
	u := &UserCmd{Buf: make([]byte, size), Size: size, Callback: func(*UserCmd) { wg.Done() }}
	require.NoError(t, h.writer.Submit(u))
	waitForUCmd(t, u, 5*time.Second)
	wg.Wait()

	require.NoError(t, u.Status)
	assert.Equal(t, 1, u.NOffs)
}

func TestFailMidSubmitWaitsForInFlightCompletions(t *testing.T) {
	// WCA_S2_ERR: when SubmitIO fails partway through the stripe loop,
	// children dispatched before the failure are still in flight (async,
	// not yet completed) and must be allowed to complete normally.
	// failMidSubmit must pad ncb by nmcmd-submitted (the count that never
	// reached SubmitIO), not nmcmd-ncb.Load() (completed so far) — the
	// latter double-counts already-submitted, not-yet-completed children
	// and finalizes before their real completions land.
	h := newHarness(t, false)

	var callbackCount int
	u := &UserCmd{
		ID:         "u1",
		AppManaged: true, // skip index upsert; not exercised by this test
		zones:      []uint32{0, 0, 0, 0},
		msec:       make([]uint64, 4),
		moffset:    make([]uint64, 4),
		inflight:   make(map[uint32]bool),
		nmcmd:      4,
		Callback:   func(*UserCmd) { callbackCount++ },
	}

	// Child 0 already completed for real before the failure.
	h.writer.onMcmdComplete(&media.Cmd{Opaque: u, Sequence: 0, SequenceZn: 0, PAddr: 0, NSec: 1})
	require.Equal(t, int32(1), u.ncb.Load())

	// Submission of child 3 fails; children 1 and 2 were already
	// dispatched (submitted=3) but have not completed yet.
	failing := &media.Cmd{Opaque: u, Sequence: 3, SequenceZn: 0}
	h.writer.failMidSubmit(u, failing, 3, assert.AnError)

	assert.Equal(t, int32(2), u.ncb.Load(), "only the one not-yet-submitted child should be padded in")
	assert.Equal(t, 0, callbackCount, "must not finalize before children 1 and 2 report their real completions")
	assert.False(t, u.completed.Load())

	// Children 1 and 2's real completions arrive afterward.
	h.writer.onMcmdComplete(&media.Cmd{Opaque: u, Sequence: 1, SequenceZn: 0, PAddr: 1, NSec: 1})
	assert.Equal(t, 0, callbackCount, "still waiting on child 2")

	h.writer.onMcmdComplete(&media.Cmd{Opaque: u, Sequence: 2, SequenceZn: 0, PAddr: 2, NSec: 1})
	assert.Equal(t, 1, callbackCount, "finalize must run exactly once, after the last real completion")
	assert.True(t, u.completed.Load())
	assert.Error(t, u.Status)
}

func TestBadAlignmentPreFails(t *testing.T) {
	h := newHarness(t, false)
	nbytes := uint64(h.geo.SectorSize)

	var wg sync.WaitGroup
	wg.Add(1)
	u := &UserCmd{Buf: make([]byte, nbytes), Size: nbytes + 1, Callback: func(*UserCmd) { wg.Done() }}
	require.NoError(t, h.writer.Submit(u))
	wg.Wait()

	assert.Error(t, u.Status)
	assert.True(t, u.completed.Load())
}
