// Package assign holds the shape-to-lot assignment table the map tool edits:
// the bidirectional index, duplicate detection, optimistic holds and
// reconciliation against freshly fetched lot data.
//
// The two indexes are kept mutually consistent after every mutation:
//
//	shapeToLot[s] = L with slug(L) != ""  ⇔  s ∈ lotToShapes[slug(L)]
//
// State is not safe for concurrent use; the editor serialises access.
package assign

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/joeblew999/plat-lots/internal/lot"
)

var (
	// ErrEmptyShapeID is returned when a mutation names no shape.
	ErrEmptyShapeID = errors.New("shape id is required")
	// ErrInconsistent reports a broken index invariant. It indicates a bug.
	ErrInconsistent = errors.New("assignment index inconsistent")
)

// State is the editor's belief about which lot each shape shows.
type State struct {
	// shapeToLot maps every observed shape id to its lot; nil means
	// explicitly unassigned.
	shapeToLot map[string]*lot.Lot
	// lotToShapes maps a normalised slug to the ordered shape ids bound to it.
	lotToShapes map[string][]string
	records     []Record
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		shapeToLot:  map[string]*lot.Lot{},
		lotToShapes: map[string][]string{},
	}
}

// Build creates a state from a lot list. Every lot carrying a shape id is
// bound to it; when two lots claim the same shape the later one wins. A lot
// may come out bound to several shapes; that is the duplicate case the editor
// warns about.
func Build(lots []lot.Lot) *State {
	s := NewState()
	s.records = buildRecords(lots)
	for i := range s.records {
		l := s.records[i].Lot
		if l.ShapeID == "" {
			continue
		}
		s.unbind(l.ShapeID, nil)
		s.bind(l.ShapeID, l)
	}
	return s
}

// Observe records a shape as seen. Unknown shapes become explicitly
// unassigned; known shapes are left alone.
func (s *State) Observe(shapeID string) {
	if shapeID == "" {
		return
	}
	if _, ok := s.shapeToLot[shapeID]; !ok {
		s.shapeToLot[shapeID] = nil
	}
}

// Lot returns the lot bound to shapeID and whether the shape has been
// observed at all.
func (s *State) Lot(shapeID string) (*lot.Lot, bool) {
	l, ok := s.shapeToLot[shapeID]
	return l, ok
}

// ShapesFor returns a copy of the shape ids bound to the lot's slug.
func (s *State) ShapesFor(l *lot.Lot) []string {
	return slices.Clone(s.lotToShapes[l.Key()])
}

// ShapeIDs returns every observed shape id, sorted.
func (s *State) ShapeIDs() []string {
	ids := make([]string, 0, len(s.shapeToLot))
	for id := range s.shapeToLot {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns the search-indexed lot list.
func (s *State) Records() []Record {
	return s.records
}

// Apply rebinds shapeID to next (nil unassigns it) and returns every shape id
// whose binding changed.
//
// The shape is first unbound from its current lot. If next has a slug, any
// other shape already bound to that slug loses it, so after a save a lot is
// bound to at most one shape. Applying the same change twice leaves the same
// state.
func (s *State) Apply(shapeID string, next *lot.Lot) ([]string, error) {
	if shapeID == "" {
		return nil, ErrEmptyShapeID
	}

	var changed []string
	s.unbind(shapeID, &changed)

	if next == nil {
		return changed, nil
	}

	if key := next.Key(); key != "" {
		for _, other := range slices.Clone(s.lotToShapes[key]) {
			if other != shapeID {
				s.unbind(other, &changed)
			}
		}
	}

	s.bind(shapeID, next)
	return changed, nil
}

// Duplicates lists the shapes other than excluding that are bound to l's
// slug. It does not modify the state.
func (s *State) Duplicates(l *lot.Lot, excluding string) []string {
	key := l.Key()
	if key == "" {
		return nil
	}
	var dups []string
	for _, id := range s.lotToShapes[key] {
		if id != excluding {
			dups = append(dups, id)
		}
	}
	return dups
}

// unbind sets shapeID to unassigned and drops it from its old slug bucket.
func (s *State) unbind(shapeID string, changed *[]string) {
	if old := s.shapeToLot[shapeID]; old != nil {
		s.removeFromBucket(old.Key(), shapeID)
	}
	s.shapeToLot[shapeID] = nil
	if changed != nil && !slices.Contains(*changed, shapeID) {
		*changed = append(*changed, shapeID)
	}
}

func (s *State) bind(shapeID string, l *lot.Lot) {
	s.shapeToLot[shapeID] = l
	key := l.Key()
	if key == "" {
		return
	}
	if !slices.Contains(s.lotToShapes[key], shapeID) {
		s.lotToShapes[key] = append(s.lotToShapes[key], shapeID)
	}
}

func (s *State) removeFromBucket(key, shapeID string) {
	if key == "" {
		return
	}
	bucket := slices.DeleteFunc(s.lotToShapes[key], func(id string) bool { return id == shapeID })
	if len(bucket) == 0 {
		delete(s.lotToShapes, key)
		return
	}
	s.lotToShapes[key] = bucket
}

// removeFromAllBuckets drops shapeID from every slug bucket.
func (s *State) removeFromAllBuckets(shapeID string) {
	for key := range s.lotToShapes {
		s.removeFromBucket(key, shapeID)
	}
}

// Check verifies that the two indexes agree.
func (s *State) Check() error {
	for key, ids := range s.lotToShapes {
		if len(ids) == 0 {
			return fmt.Errorf("%w: empty bucket %q", ErrInconsistent, key)
		}
		seen := map[string]struct{}{}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: shape %q listed twice under %q", ErrInconsistent, id, key)
			}
			seen[id] = struct{}{}
			l, ok := s.shapeToLot[id]
			if !ok || l == nil || l.Key() != key {
				return fmt.Errorf("%w: bucket %q lists shape %q which is bound elsewhere", ErrInconsistent, key, id)
			}
		}
	}
	for id, l := range s.shapeToLot {
		if l == nil || l.Key() == "" {
			continue
		}
		if !slices.Contains(s.lotToShapes[l.Key()], id) {
			return fmt.Errorf("%w: shape %q bound to %q but missing from its bucket", ErrInconsistent, id, l.Key())
		}
	}
	return nil
}

// replace swaps in the contents of other, keeping s's identity so callers
// holding the pointer see the new data.
func (s *State) replace(other *State) {
	s.shapeToLot = other.shapeToLot
	s.lotToShapes = other.lotToShapes
	s.records = other.records
}
