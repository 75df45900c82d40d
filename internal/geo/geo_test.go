package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeo() Geometry {
	return Geometry{Groups: 2, ZonesPerGroup: 8, SectorsPerZone: 1024, SectorSize: 4096}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	g := testGeo()
	cases := []Addr{
		{Group: 0, Zone: 0, Sector: 0},
		{Group: 0, Zone: 3, Sector: 17},
		{Group: 1, Zone: 7, Sector: 1023},
	}
	for _, a := range cases {
		lba := g.Pack(a)
		got := g.Unpack(lba)
		assert.Equal(t, a, got)
	}
}

func TestZoneBaseMatchesPackAtSectorZero(t *testing.T) {
	g := testGeo()
	for group := uint32(0); group < g.Groups; group++ {
		for zone := uint32(0); zone < g.ZonesPerGroup; zone++ {
			require.Equal(t, g.ZoneBase(group, zone), g.Pack(Addr{Group: group, Zone: zone}))
		}
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	g := testGeo()
	assert.NoError(t, g.Validate(1, 7))
	assert.Error(t, g.Validate(2, 0))
	assert.Error(t, g.Validate(0, 8))
}

func TestZonesTotal(t *testing.T) {
	g := testGeo()
	assert.Equal(t, uint64(16), g.ZonesTotal())
}
