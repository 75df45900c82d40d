// Package provisioner selects target zones across device groups and
// reserves sector runs for incoming writes: round-robin group selection
// per provisioning type, per-zone active-use bookkeeping, and an
// explicit non-goal of garbage collection (disabled groups are not
// skipped during rotation — see DESIGN.md Open Question decisions).
package provisioner

import (
	"fmt"
	"sync"

	"github.com/behrlich/zns-ztl/internal/constants"
	"github.com/behrlich/zns-ztl/internal/interfaces"
)

// Zone is one group's per-zone bookkeeping record.
type Zone struct {
	ID       uint32
	Reserved uint64 // sectors currently reserved against this zone
	Full     bool
}

// Group owns a set of zones and a per-type open-zone cursor.
type Group struct {
	mu       sync.Mutex
	ID       uint32
	zones    []Zone
	nextZone map[int]int // provType -> index into zones, round-robin within group
	activeCtx int
	disabled bool // tracked but never consulted during rotation (see DESIGN.md)
}

// NewGroup creates a group owning nZones zones.
func NewGroup(id uint32, nZones int) *Group {
	g := &Group{ID: id, zones: make([]Zone, nZones), nextZone: make(map[int]int)}
	for i := range g.zones {
		g.zones[i].ID = uint32(i)
	}
	return g
}

// reserve finds the group's next open zone for provType with at least 1
// free sector, reserves up to `want` sectors on it, and returns the zone
// id and sectors actually reserved.
func (g *Group) reserve(provType int, want uint64, capacityPerZone uint64) (zoneID uint32, got uint64, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := g.nextZone[provType]
	for i := 0; i < len(g.zones); i++ {
		idx := (start + i) % len(g.zones)
		z := &g.zones[idx]
		if z.Full {
			continue
		}
		free := capacityPerZone - z.Reserved
		if free == 0 {
			continue
		}
		take := want
		if take > free {
			take = free
		}
		z.Reserved += take
		if z.Reserved >= capacityPerZone {
			z.Full = true
		}
		g.nextZone[provType] = (idx + 1) % len(g.zones)
		g.activeCtx++
		return z.ID, take, true
	}
	return 0, 0, false
}

func (g *Group) release(zoneID uint32, nsec uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if int(zoneID) < len(g.zones) {
		z := &g.zones[zoneID]
		if z.Reserved >= nsec {
			z.Reserved -= nsec
		} else {
			z.Reserved = 0
		}
	}
	g.activeCtx--
}

// Piece is one (zone, sector count) reservation within a pro_addr.
type Piece struct {
	Group uint32
	Zone  uint32
	NSec  uint64
}

// ProAddr is the set of zones and per-zone sector counts reserved for one
// user command.
type ProAddr struct {
	Pieces   []Piece
	ProvType int
}

// NSecTotal sums reserved sectors across all pieces.
func (p *ProAddr) NSecTotal() uint64 {
	var total uint64
	for _, pc := range p.Pieces {
		total += pc.NSec
	}
	return total
}

// Provisioner rotates cur_grp[type] round-robin across groups and
// delegates reservation to the selected group.
type Provisioner struct {
	mu              sync.Mutex
	groups          []*Group
	curGrp          []int // indexed by provType
	capacityPerZone uint64
	stripe          int
	log             interfaces.Logger
}

// New creates a Provisioner over the given groups.
func New(groups []*Group, capacityPerZone uint64, log interfaces.Logger) *Provisioner {
	return &Provisioner{
		groups:          groups,
		curGrp:          make([]int, constants.ProTypes),
		capacityPerZone: capacityPerZone,
		stripe:          constants.ProStripe,
		log:             log,
	}
}

// New reserves nsec sectors for provType, optionally striping across up
// to ProStripe zones when multi is set or append is in use. Sum of
// reserved sectors equals nsec on success.
func (p *Provisioner) New(nsec uint64, provType int, multi bool) (*ProAddr, error) {
	if provType < 0 || provType >= len(p.curGrp) {
		return nil, fmt.Errorf("provisioner: invalid provisioning type %d", provType)
	}
	if len(p.groups) == 0 {
		return nil, fmt.Errorf("provisioner: group_err: no groups configured")
	}

	maxPieces := 1
	if multi {
		maxPieces = p.stripe
	}

	addr := &ProAddr{ProvType: provType}
	remaining := nsec
	groupIdx := p.rotate(provType)

	for pieces := 0; remaining > 0 && pieces < maxPieces; pieces++ {
		g := p.groups[groupIdx]
		want := remaining
		if maxPieces > 1 {
			// split remaining evenly across the zones left to try
			left := uint64(maxPieces - pieces)
			want = (remaining + left - 1) / left
		}
		zoneID, got, ok := g.reserve(provType, want, p.capacityPerZone)
		if !ok {
			p.free(addr) // release whatever was reserved so far
			return nil, fmt.Errorf("provisioner: provision_fail: group %d exhausted", g.ID)
		}
		addr.Pieces = append(addr.Pieces, Piece{Group: g.ID, Zone: zoneID, NSec: got})
		remaining -= got
	}

	if remaining > 0 {
		p.free(addr)
		return nil, fmt.Errorf("provisioner: provision_fail: could not reserve %d sectors within %d zones", nsec, maxPieces)
	}
	return addr, nil
}

// rotate advances the per-provType group cursor round-robin across all
// configured groups; disabled groups are not skipped.
func (p *Provisioner) rotate(provType int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.curGrp[provType] % len(p.groups)
	p.curGrp[provType] = (idx + 1) % len(p.groups)
	return idx
}

// Free releases every reservation in addr. Any zone that filled during
// the life of the reservation has already transitioned to Full inside
// Group.reserve; release only adjusts the reservation counter.
func (p *Provisioner) Free(addr *ProAddr) {
	p.free(addr)
}

func (p *Provisioner) free(addr *ProAddr) {
	for _, pc := range addr.Pieces {
		for _, g := range p.groups {
			if g.ID == pc.Group {
				g.release(pc.Zone, pc.NSec)
				break
			}
		}
	}
}

// PutZone, FinishZone, and CheckGC are zone lifecycle hooks. CheckGC is
// intentionally a no-op: garbage collection is outside the core's scope.
func (p *Provisioner) PutZone(groupID, zoneID uint32) {}
func (p *Provisioner) FinishZone(groupID, zoneID uint32, provType int) {}
func (p *Provisioner) CheckGC(groupID uint32) {}
