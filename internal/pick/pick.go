// Package pick implements the pick ledger of spec §4.4: server-assigned
// pick IDs that let a client hold one or more units under manipulation
// (posed kinematically, singly or rigidly as a connected complex) across many
// simulation steps, and detect stale references once a pick has been
// released or its units destroyed.
package pick

import "fmt"

// ID is a pick identifier, 16-bit per spec §3/§9 ("Pick id"). Zero is
// reserved for "no pick" so clients can use it as a sentinel (invariant
// I3).
type ID uint16

// Record is one (unit, offset) entry of a pick's record list (spec §3/
// §4.4): the unit's position and orientation are reconstructed each step
// from the pick's own pose plus this fixed offset pair.
type Record struct {
	UnitIndex     int
	PosOffset     [3]float32
	RotOffset     [4]float32 // quaternion, identity {0,0,0,1} for a whole-unit pick
}

// Ledger tracks the mapping from live pick IDs to their record lists, plus
// the reverse unit->pick index a unit's PickID field must agree with
// (invariant I3, property P5).
type Ledger struct {
	records map[ID][]Record
	unitID  map[int]ID
	next    ID
}

// NewLedger returns an empty pick ledger.
func NewLedger() *Ledger {
	return &Ledger{
		records: make(map[ID][]Record),
		unitID:  make(map[int]ID),
		next:    1,
	}
}

// allocateID returns the next unused, nonzero pick id (spec §4.4's
// allocate_pick_id: monotonically increasing, skips zero, retries on
// collision after 16-bit wraparound).
func (l *Ledger) allocateID() ID {
	for {
		id := l.next
		l.next++
		if id == 0 {
			continue
		}
		if _, exists := l.records[id]; exists {
			continue
		}
		return id
	}
}

// CreateGroup allocates a fresh pick id holding the given records (one
// per unit in the group; a single-unit pick passes a one-element slice).
func (l *Ledger) CreateGroup(recs []Record) ID {
	id := l.allocateID()
	l.CreateGroupWithID(id, recs)
	return id
}

// AllocateID reserves a fresh, currently-unused pick id without binding
// any records to it yet. Exposed for callers that must hand the id to a
// peer before the pick's record list is known — e.g. the server
// translating a client's pick request into a server-side id (spec §4.9).
func (l *Ledger) AllocateID() ID {
	return l.allocateID()
}

// CreateGroupWithID binds recs to a caller-chosen id, overwriting any
// existing group under that id. Used when the id was already reserved via
// AllocateID (or forwarded by a peer) before the record list was known.
func (l *Ledger) CreateGroupWithID(id ID, recs []Record) {
	l.records[id] = append([]Record(nil), recs...)
	for _, r := range recs {
		l.unitID[r.UnitIndex] = id
	}
}

// AddRecord appends rec to id's record list, creating id if it does not
// yet exist.
func (l *Ledger) AddRecord(id ID, rec Record) {
	l.records[id] = append(l.records[id], rec)
	l.unitID[rec.UnitIndex] = id
}

// Records returns id's record list and whether id is currently live.
func (l *Ledger) Records(id ID) ([]Record, bool) {
	r, ok := l.records[id]
	return r, ok
}

// PickOf returns the pick id currently holding unitIndex, if any.
func (l *Ledger) PickOf(unitIndex int) (ID, bool) {
	id, ok := l.unitID[unitIndex]
	return id, ok
}

// Release invalidates id and every unit reference it held. A no-op for an
// unknown or already-released id.
func (l *Ledger) Release(id ID) {
	recs, ok := l.records[id]
	if !ok {
		return
	}
	for _, r := range recs {
		delete(l.unitID, r.UnitIndex)
	}
	delete(l.records, id)
}

// ReindexUnit rewrites the record referring to oldUnitIndex (if any) to
// refer to newUnitIndex instead, preserving its pick id. Used by
// destroy-compaction when a unit is moved to fill a hole (spec §4.6): the
// picking client's id and offset stay valid across the move.
func (l *Ledger) ReindexUnit(oldUnitIndex, newUnitIndex int) {
	id, ok := l.unitID[oldUnitIndex]
	if !ok {
		return
	}
	delete(l.unitID, oldUnitIndex)
	l.unitID[newUnitIndex] = id
	recs := l.records[id]
	for i := range recs {
		if recs[i].UnitIndex == oldUnitIndex {
			recs[i].UnitIndex = newUnitIndex
		}
	}
}

// Len returns the number of currently live pick ids.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Check verifies the unitID reverse index agrees with records, for tests
// and debug builds (mirrors the grid's own Check, spec §7 error kind 5).
func (l *Ledger) Check() error {
	count := 0
	for id, recs := range l.records {
		for _, r := range recs {
			owner, ok := l.unitID[r.UnitIndex]
			if !ok || owner != id {
				return fmt.Errorf("pick: unit %d record under id %d has no matching reverse entry", r.UnitIndex, id)
			}
			count++
		}
	}
	if count != len(l.unitID) {
		return fmt.Errorf("pick: unitID has %d entries, records list %d", len(l.unitID), count)
	}
	return nil
}
