// Package geo packs and unpacks zone addresses against a device's
// geometry. A zone address is the tuple (group, zone, sector); the flat
// device LBA is (zonesPerGroup*group + zone) * sectorsPerZone + sector,
// the exact arithmetic used by the original zone-append submission path
// this core is modeled on.
package geo

import "fmt"

// Geometry is the fixed shape of a registered device.
type Geometry struct {
	Groups         uint32
	ZonesPerGroup  uint32
	SectorsPerZone uint64
	SectorSize     uint32
}

// Addr is a packed zone address: which zone, and the sector offset within
// it.
type Addr struct {
	Group  uint32
	Zone   uint32
	Sector uint64
}

// ZonesTotal returns the total number of zones across all groups.
func (g Geometry) ZonesTotal() uint64 {
	return uint64(g.Groups) * uint64(g.ZonesPerGroup)
}

// ZoneBase returns the flat LBA of sector 0 of (group, zone).
func (g Geometry) ZoneBase(group, zone uint32) uint64 {
	return (uint64(g.ZonesPerGroup)*uint64(group) + uint64(zone)) * g.SectorsPerZone
}

// Pack converts a zone address into a flat device LBA.
func (g Geometry) Pack(a Addr) uint64 {
	return g.ZoneBase(a.Group, a.Zone) + a.Sector
}

// Unpack converts a flat device LBA back into a zone address.
func (g Geometry) Unpack(lba uint64) Addr {
	zoneIdx := lba / g.SectorsPerZone
	sector := lba % g.SectorsPerZone
	return Addr{
		Group:  uint32(zoneIdx / uint64(g.ZonesPerGroup)),
		Zone:   uint32(zoneIdx % uint64(g.ZonesPerGroup)),
		Sector: sector,
	}
}

// Validate checks that (group, zone) is within geometry bounds.
func (g Geometry) Validate(group, zone uint32) error {
	if group >= g.Groups {
		return fmt.Errorf("geo: group %d out of range [0,%d)", group, g.Groups)
	}
	if zone >= g.ZonesPerGroup {
		return fmt.Errorf("geo: zone %d out of range [0,%d)", zone, g.ZonesPerGroup)
	}
	return nil
}
