package assign

import (
	"maps"
	"slices"

	"github.com/joeblew999/plat-lots/internal/lot"
)

// Snapshot is a copy of the bindings taken around a mutation, used to roll the
// mutation back. Lot pointers are shared; lots themselves are never mutated.
type Snapshot struct {
	shapeToLot  map[string]*lot.Lot
	lotToShapes map[string][]string
}

// Snapshot copies the current bindings.
func (s *State) Snapshot() Snapshot {
	return Snapshot{shapeToLot: s.shapeToLot, lotToShapes: s.lotToShapes}.clone()
}

// SnapshotOf copies the bindings of ids only. Shapes never observed are left
// out.
func (s *State) SnapshotOf(ids []string) Snapshot {
	snap := Snapshot{shapeToLot: make(map[string]*lot.Lot, len(ids))}
	for _, id := range ids {
		if l, ok := s.shapeToLot[id]; ok {
			snap.shapeToLot[id] = l
		}
	}
	return snap
}

// Revert undoes one mutation for the shapes in ids. before holds the bindings
// prior to the mutation and after the bindings it wrote. A shape is reverted
// only while it still carries the lot recorded in after, so later edits and
// reconciliations keep their result; every other shape is left untouched.
// Restored lots are swapped for the current record of the same lot when one
// exists. Revert returns the ids it reverted.
func (s *State) Revert(before, after Snapshot, ids []string) []string {
	var reverted []string
	for _, id := range ids {
		wrote, ok := after.shapeToLot[id]
		if !ok {
			continue
		}
		if cur, seen := s.shapeToLot[id]; !seen || cur != wrote {
			continue
		}
		s.unbind(id, &reverted)
		if prev := before.shapeToLot[id]; prev != nil {
			s.bind(id, s.resolve(prev))
		}
	}
	return reverted
}

// resolve returns the record of the same lot as l, or l itself.
func (s *State) resolve(l *lot.Lot) *lot.Lot {
	for _, r := range s.records {
		if lot.SameIdentity(r.Lot, l) {
			return r.Lot
		}
	}
	return l
}

// Bindings returns shape id → lot identity for every observed shape. Nil lots
// map to the zero identity.
func (snap Snapshot) Bindings() map[string]lot.Identity {
	out := make(map[string]lot.Identity, len(snap.shapeToLot))
	for id, l := range snap.shapeToLot {
		out[id] = l.Identity()
	}
	return out
}

// Buckets returns a copy of the reverse index.
func (snap Snapshot) Buckets() map[string][]string {
	return snap.clone().lotToShapes
}

func (snap Snapshot) clone() Snapshot {
	buckets := make(map[string][]string, len(snap.lotToShapes))
	for k, ids := range snap.lotToShapes {
		buckets[k] = slices.Clone(ids)
	}
	out := maps.Clone(snap.shapeToLot)
	if out == nil {
		out = map[string]*lot.Lot{}
	}
	return Snapshot{shapeToLot: out, lotToShapes: buckets}
}
