package wca

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOffsetSeqContiguous(t *testing.T) {
	zones := []uint32{0, 0, 0}
	msec := []uint64{64, 64, 64}
	moffset := []uint64{0, 64, 128}
	assert.True(t, checkOffsetSeq(zones, msec, moffset))
}

func TestCheckOffsetSeqGap(t *testing.T) {
	zones := []uint32{0, 0}
	msec := []uint64{64, 64}
	moffset := []uint64{0, 200}
	assert.False(t, checkOffsetSeq(zones, msec, moffset))
}

func TestCheckOffsetSeqZoneChange(t *testing.T) {
	zones := []uint32{0, 1}
	msec := []uint64{64, 64}
	moffset := []uint64{0, 64}
	assert.False(t, checkOffsetSeq(zones, msec, moffset), "a zone change is never sequential even if offsets look contiguous")
}

func TestReorgSinglePiece(t *testing.T) {
	// Scenario (f): n children on one zone, all contiguous -> noffs == 1.
	zones := []uint32{0, 0, 0}
	msec := []uint64{64, 64, 64}
	moffset := []uint64{0, 64, 128}
	pieces := reorgOffsets(zones, msec, moffset)
	assert.Len(t, pieces, 1)
	assert.Equal(t, uint64(192), pieces[0].NSec)
	assert.Equal(t, uint64(0), pieces[0].Offset)
}

func TestReorgMultiplePiecesOnGap(t *testing.T) {
	zones := []uint32{0, 0, 0}
	msec := []uint64{64, 64, 64}
	moffset := []uint64{0, 64, 500} // gap before the last child
	pieces := reorgOffsets(zones, msec, moffset)
	assert.Len(t, pieces, 2)
	assert.Equal(t, uint64(128), pieces[0].NSec)
	assert.Equal(t, uint64(64), pieces[1].NSec)
	assert.Equal(t, uint64(500), pieces[1].Offset)
}

func TestReorgMergeIdentityInvariant(t *testing.T) {
	// Invariant 3: sum of piece sizes equals total, pieces ordered and
	// non-overlapping.
	zones := []uint32{0, 1, 1, 0}
	msec := []uint64{10, 20, 20, 5}
	moffset := []uint64{0, 0, 20, 900}
	pieces := reorgOffsets(zones, msec, moffset)

	var total uint64
	for _, p := range pieces {
		total += p.NSec
	}
	var wantTotal uint64
	for _, s := range msec {
		wantTotal += s
	}
	assert.Equal(t, wantTotal, total)

	for i := 1; i < len(pieces); i++ {
		assert.Greater(t, pieces[i].Offset, pieces[i-1].Offset, "pieces must be ordered by media offset")
	}
}

func TestReorgSingleChild(t *testing.T) {
	pieces := reorgOffsets([]uint32{0}, []uint64{64}, []uint64{0})
	assert.Len(t, pieces, 1)
}
