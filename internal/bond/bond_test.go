package bond

import "testing"

func TestBondUnbondSymmetric(t *testing.T) {
	m := NewMap()
	a := Site{UnitIndex: 0, SiteIndex: 0}
	b := Site{UnitIndex: 1, SiteIndex: 2}

	if err := m.Bond(a, b); err != nil {
		t.Fatalf("Bond: %v", err)
	}
	other, ok := m.Other(a)
	if !ok || other != b {
		t.Fatalf("expected a bonded to b, got %v %v", other, ok)
	}
	other, ok = m.Other(b)
	if !ok || other != a {
		t.Fatalf("expected b bonded to a, got %v %v", other, ok)
	}

	m.Unbond(a)
	if m.IsBonded(a) || m.IsBonded(b) {
		t.Fatal("expected both sites unbonded after Unbond(a)")
	}
}

func TestBondRejectsDoubleBond(t *testing.T) {
	m := NewMap()
	a := Site{UnitIndex: 0, SiteIndex: 0}
	b := Site{UnitIndex: 1, SiteIndex: 0}
	c := Site{UnitIndex: 2, SiteIndex: 0}

	if err := m.Bond(a, b); err != nil {
		t.Fatalf("Bond: %v", err)
	}
	if err := m.Bond(a, c); err == nil {
		t.Fatal("expected error bonding an already-bonded site")
	}
}

func TestCanonicalizeOrdersConsistently(t *testing.T) {
	a := Site{UnitIndex: 5, SiteIndex: 1}
	b := Site{UnitIndex: 2, SiteIndex: 3}

	c1 := Canonicalize(a, b)
	c2 := Canonicalize(b, a)
	if c1 != c2 {
		t.Fatalf("expected canonical form independent of argument order, got %v vs %v", c1, c2)
	}
	if c1.UnitA != 2 {
		t.Fatalf("expected lower unit index first, got %v", c1)
	}
}

func TestAllReturnsEachBondOnce(t *testing.T) {
	m := NewMap()
	must(t, m.Bond(Site{0, 0}, Site{1, 0}))
	must(t, m.Bond(Site{1, 1}, Site{2, 0}))

	all := m.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 canonical bonds, got %d", len(all))
	}
	if m.Len() != 2 {
		t.Fatalf("expected Len()==2, got %d", m.Len())
	}
}

func TestReindexUnitPreservesBonds(t *testing.T) {
	m := NewMap()
	must(t, m.Bond(Site{0, 0}, Site{1, 0}))

	m.ReindexUnit(1, 5, 2)
	if m.IsBonded(Site{1, 0}) {
		t.Fatal("expected old unit index no longer bonded")
	}
	other, ok := m.Other(Site{0, 0})
	if !ok || other != (Site{5, 0}) {
		t.Fatalf("expected site 0's partner reindexed to unit 5, got %v", other)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
