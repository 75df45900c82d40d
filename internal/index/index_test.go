package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndLookup(t *testing.T) {
	m := New()
	require.NoError(t, m.Upsert("a", 100, 64, false))

	offset, nsec, ok := m.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, uint64(100), offset)
	assert.Equal(t, uint32(64), nsec)

	_, _, ok = m.Lookup("missing")
	assert.False(t, ok)
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	m := New()
	assert.Error(t, m.Upsert("", 0, 0, false))
}

func TestFlushCountsCalls(t *testing.T) {
	m := New()
	require.NoError(t, m.Flush())
	require.NoError(t, m.Flush())
	assert.Equal(t, 2, m.Flushes())
}

func TestZoneMetadataIncPieces(t *testing.T) {
	z := NewZoneMetadata()
	z.IncPieces(0, 3, 2)
	z.IncPieces(0, 3, 1)

	meta, err := z.Get(0, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), meta.NPieces)
}

func TestZoneMetadataDisable(t *testing.T) {
	z := NewZoneMetadata()
	z.IncPieces(1, 0, 0) // materialize the record
	z.Disable(1, 0)

	meta, err := z.Get(1, 0)
	require.NoError(t, err)
	assert.True(t, meta.Disabled)
}

func TestGroupsListFallback(t *testing.T) {
	g := NewGroups([]uint32{0, 1, 2})
	ids, err := g.List(0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, ids)
}
