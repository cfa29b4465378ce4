// Package bond implements the symmetric bond map of spec §4.3: each bond
// site on each unit is bonded to at most one other bond site, and the
// relation is always stored in both directions so either endpoint can be
// walked to the other in O(1).
package bond

import (
	"fmt"
	"sort"
)

// Site identifies one bond site: the SiteIndex'th entry of the unit type's
// BondSites list, on the unit at UnitIndex.
type Site struct {
	UnitIndex int
	SiteIndex int
}

// Map is the symmetric bond relation. The zero value is an empty map ready
// to use.
type Map struct {
	links map[Site]Site
}

// NewMap returns an empty bond map.
func NewMap() *Map {
	return &Map{links: make(map[Site]Site)}
}

// IsBonded reports whether s currently has a bond.
func (m *Map) IsBonded(s Site) bool {
	_, ok := m.links[s]
	return ok
}

// Other returns the site bonded to s, if any.
func (m *Map) Other(s Site) (Site, bool) {
	other, ok := m.links[s]
	return other, ok
}

// Bond creates a bond between a and b. It errors if either site already has
// a bond (invariant I2: at most one bond per site) or a == b.
func (m *Map) Bond(a, b Site) error {
	if a == b {
		return fmt.Errorf("bond: cannot bond site %v to itself", a)
	}
	if _, ok := m.links[a]; ok {
		return fmt.Errorf("bond: site %v already bonded", a)
	}
	if _, ok := m.links[b]; ok {
		return fmt.Errorf("bond: site %v already bonded", b)
	}
	m.links[a] = b
	m.links[b] = a
	return nil
}

// Unbond removes the bond at s, if present, along with its reverse link.
// It is not an error to unbond an already-unbonded site.
func (m *Map) Unbond(s Site) {
	other, ok := m.links[s]
	if !ok {
		return
	}
	delete(m.links, s)
	delete(m.links, other)
}

// UnbondUnit removes every bond touching unitIndex, e.g. before destroying
// a unit (spec §4.6).
func (m *Map) UnbondUnit(unitIndex int, numSites int) {
	for siteIdx := 0; siteIdx < numSites; siteIdx++ {
		m.Unbond(Site{UnitIndex: unitIndex, SiteIndex: siteIdx})
	}
}

// ReindexUnit rewrites every link touching oldUnitIndex to refer to
// newUnitIndex instead, preserving site indices. Used by destroy-compaction
// when a unit is moved to fill a hole (spec §4.6).
func (m *Map) ReindexUnit(oldUnitIndex, newUnitIndex int, numSites int) {
	for siteIdx := 0; siteIdx < numSites; siteIdx++ {
		oldSite := Site{UnitIndex: oldUnitIndex, SiteIndex: siteIdx}
		other, ok := m.links[oldSite]
		if !ok {
			continue
		}
		newSite := Site{UnitIndex: newUnitIndex, SiteIndex: siteIdx}
		delete(m.links, oldSite)
		m.links[newSite] = other
		m.links[other] = newSite
	}
}

// Canonical is one bond expressed unit-order-independently: UnitA < UnitB,
// or UnitA == UnitB and SiteA < SiteB (a unit could in principle bond two
// of its own sites together, though the force model treats that as
// degenerate).
type Canonical struct {
	UnitA, SiteA int
	UnitB, SiteB int
}

// Canonicalize orders a and b into a Canonical bond, used so serialisation
// and iteration never emit both directions of the same bond (spec §6, the
// persisted-state "canonical bonds" record).
func Canonicalize(a, b Site) Canonical {
	if a.UnitIndex > b.UnitIndex || (a.UnitIndex == b.UnitIndex && a.SiteIndex > b.SiteIndex) {
		a, b = b, a
	}
	return Canonical{UnitA: a.UnitIndex, SiteA: a.SiteIndex, UnitB: b.UnitIndex, SiteB: b.SiteIndex}
}

// All returns every bond in the map exactly once, in canonical form, sorted
// by (UnitA, SiteA, UnitB, SiteB) ascending for deterministic save-file
// output (spec §6).
func (m *Map) All() []Canonical {
	seen := make(map[Site]bool, len(m.links))
	out := make([]Canonical, 0, len(m.links)/2)
	for a, b := range m.links {
		if seen[a] || seen[b] {
			continue
		}
		seen[a] = true
		seen[b] = true
		out = append(out, Canonicalize(a, b))
	}
	sortCanonical(out)
	return out
}

// Len returns the number of distinct bonds (not bonded sites) in the map.
func (m *Map) Len() int {
	return len(m.links) / 2
}

func sortCanonical(c []Canonical) {
	sort.Slice(c, func(i, j int) bool { return less(c[i], c[j]) })
}

func less(a, b Canonical) bool {
	if a.UnitA != b.UnitA {
		return a.UnitA < b.UnitA
	}
	if a.SiteA != b.SiteA {
		return a.SiteA < b.SiteA
	}
	if a.UnitB != b.UnitB {
		return a.UnitB < b.UnitB
	}
	return a.SiteB < b.SiteB
}
