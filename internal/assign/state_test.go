package assign

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-lots/internal/lot"
)

func lots() []lot.Lot {
	return []lot.Lot{
		{Slug: "acre-1", PID: "P1", Name: "Lot 1", ShapeID: "L-12"},
		{Slug: "acre-2", PID: "P2", Name: "Lot 2", ShapeID: "L-7"},
		{Slug: "acre-3", PID: "P3", Name: "Lot 3"},
		{PID: "P4", Name: "Corner lot", ShapeID: "L-4"},
		{Name: "Unnamed parcel"},
	}
}

func lotBySlug(t *testing.T, s *State, slug string) *lot.Lot {
	t.Helper()
	r, ok := s.Record(slug)
	require.True(t, ok, "no record %q", slug)
	return r.Lot
}

func TestBuild(t *testing.T) {
	s := Build(lots())
	require.NoError(t, s.Check())

	l, ok := s.Lot("L-12")
	require.True(t, ok)
	assert.Equal(t, "acre-1", l.Slug)

	l, ok = s.Lot("L-4")
	require.True(t, ok)
	assert.Equal(t, "P4", l.PID)
	assert.Empty(t, s.ShapesFor(l), "lots without a slug stay out of the reverse index")

	_, ok = s.Lot("L-99")
	assert.False(t, ok)

	assert.Equal(t, []string{"L-12", "L-4", "L-7"}, s.ShapeIDs())
}

func TestBuildLastLotWinsShape(t *testing.T) {
	s := Build([]lot.Lot{
		{Slug: "acre-1", ShapeID: "L-1"},
		{Slug: "acre-2", ShapeID: "L-1"},
	})
	require.NoError(t, s.Check())

	l, _ := s.Lot("L-1")
	assert.Equal(t, "acre-2", l.Slug)
	assert.Empty(t, s.ShapesFor(&lot.Lot{Slug: "acre-1"}))
}

func TestBuildKeepsExistingDuplicates(t *testing.T) {
	s := Build([]lot.Lot{
		{Slug: "acre-1", ShapeID: "L-1"},
		{Slug: "ACRE-1 ", ShapeID: "L-2"},
	})
	require.NoError(t, s.Check())
	assert.Equal(t, []string{"L-1", "L-2"}, s.ShapesFor(&lot.Lot{Slug: "acre-1"}))
}

func TestObserve(t *testing.T) {
	s := Build(lots())
	s.Observe("L-99")
	s.Observe("L-12")
	s.Observe("")

	l, ok := s.Lot("L-99")
	assert.True(t, ok)
	assert.Nil(t, l)

	l, _ = s.Lot("L-12")
	assert.Equal(t, "acre-1", l.Slug, "observing a bound shape keeps its lot")
}

func TestApplyReassignsAwayFromPreviousShape(t *testing.T) {
	s := Build(lots())
	acre2 := lotBySlug(t, s, "acre-2")

	changed, err := s.Apply("L-12", acre2)
	require.NoError(t, err)
	require.NoError(t, s.Check())

	assert.ElementsMatch(t, []string{"L-12", "L-7"}, changed)

	l, _ := s.Lot("L-12")
	assert.Same(t, acre2, l)
	l, ok := s.Lot("L-7")
	assert.True(t, ok)
	assert.Nil(t, l)

	assert.Equal(t, []string{"L-12"}, s.ShapesFor(acre2))
	assert.NotContains(t, s.Snapshot().Buckets(), "acre-1")
}

func TestApplyUnassign(t *testing.T) {
	s := Build(lots())

	changed, err := s.Apply("L-12", nil)
	require.NoError(t, err)
	require.NoError(t, s.Check())
	assert.Equal(t, []string{"L-12"}, changed)

	l, ok := s.Lot("L-12")
	assert.True(t, ok)
	assert.Nil(t, l)
}

func TestApplyTransfersFromAllDuplicates(t *testing.T) {
	s := Build([]lot.Lot{
		{Slug: "acre-1", ShapeID: "L-1"},
		{Slug: "acre-1", ShapeID: "L-2"},
		{Slug: "acre-1", ShapeID: "L-3"},
	})
	target := s.Records()[0].Lot

	changed, err := s.Apply("L-2", target)
	require.NoError(t, err)
	require.NoError(t, s.Check())

	assert.Equal(t, []string{"L-2", "L-1", "L-3"}, changed)
	assert.Equal(t, []string{"L-2"}, s.ShapesFor(target))
}

func TestApplyIdempotent(t *testing.T) {
	s := Build(lots())
	acre3 := lotBySlug(t, s, "acre-3")

	_, err := s.Apply("L-7", acre3)
	require.NoError(t, err)
	first := s.Snapshot()

	changed, err := s.Apply("L-7", acre3)
	require.NoError(t, err)
	assert.Equal(t, []string{"L-7"}, changed)

	second := s.Snapshot()
	assert.Empty(t, cmp.Diff(first.Bindings(), second.Bindings()))
	assert.Empty(t, cmp.Diff(first.Buckets(), second.Buckets()))
}

func TestApplyEmptyShapeID(t *testing.T) {
	s := Build(lots())
	before := s.Snapshot()

	_, err := s.Apply("", lotBySlug(t, s, "acre-1"))
	require.ErrorIs(t, err, ErrEmptyShapeID)
	assert.Empty(t, cmp.Diff(before.Bindings(), s.Snapshot().Bindings()))
}

func TestApplySluglessLot(t *testing.T) {
	s := Build(lots())
	corner := s.Records()[3].Lot

	_, err := s.Apply("L-12", corner)
	require.NoError(t, err)
	require.NoError(t, s.Check())

	l, _ := s.Lot("L-12")
	assert.Same(t, corner, l)
	// Lots without a slug cannot be detected as duplicates, so L-4 keeps it.
	l, _ = s.Lot("L-4")
	assert.Same(t, corner, l)
}

func TestApplyRandomSequencesStayConsistent(t *testing.T) {
	fixtures := lots()
	shapes := []string{"L-1", "L-4", "L-7", "L-12", "L-20"}
	rng := rand.New(rand.NewPCG(1, 2))

	for run := 0; run < 50; run++ {
		s := Build(fixtures)
		for step := 0; step < 40; step++ {
			shapeID := shapes[rng.IntN(len(shapes))]
			var next *lot.Lot
			if i := rng.IntN(len(fixtures) + 1); i < len(fixtures) {
				next = s.Records()[i].Lot
			}
			_, err := s.Apply(shapeID, next)
			require.NoError(t, err)
			require.NoError(t, s.Check(), "run %d step %d", run, step)

			if next != nil && next.Key() != "" {
				assert.Equal(t, []string{shapeID}, s.ShapesFor(next))
			}
		}
	}
}

func TestDuplicates(t *testing.T) {
	s := Build([]lot.Lot{
		{Slug: "acre-1", ShapeID: "L-1"},
		{Slug: "acre-1", ShapeID: "L-2"},
		{Slug: "acre-2", ShapeID: "L-3"},
		{PID: "P9", ShapeID: "L-9"},
	})
	before := s.Snapshot()
	acre1 := s.Records()[0].Lot

	assert.Equal(t, []string{"L-2"}, s.Duplicates(acre1, "L-1"))
	assert.Equal(t, []string{"L-1", "L-2"}, s.Duplicates(acre1, "L-3"))
	assert.Nil(t, s.Duplicates(s.Records()[3].Lot, ""))
	assert.Nil(t, s.Duplicates(nil, "L-1"))

	assert.Empty(t, cmp.Diff(before.Bindings(), s.Snapshot().Bindings()))
	assert.Empty(t, cmp.Diff(before.Buckets(), s.Snapshot().Buckets()))
}

func slugAt(s *State, shapeID string) string {
	l, _ := s.Lot(shapeID)
	if l == nil {
		return ""
	}
	return l.Slug
}

func TestRevertLeavesLaterEditsAlone(t *testing.T) {
	s := Build(lots())
	before := s.Snapshot()

	changed, err := s.Apply("L-12", lotBySlug(t, s, "acre-2"))
	require.NoError(t, err)
	after := s.SnapshotOf(changed)

	// A second edit lands while the first is still unconfirmed.
	_, err = s.Apply("L-99", lotBySlug(t, s, "acre-3"))
	require.NoError(t, err)

	reverted := s.Revert(before, after, changed)
	require.NoError(t, s.Check())
	assert.ElementsMatch(t, []string{"L-12", "L-7"}, reverted)
	assert.Equal(t, "acre-1", slugAt(s, "L-12"))
	assert.Equal(t, "acre-2", slugAt(s, "L-7"))
	assert.Equal(t, "acre-3", slugAt(s, "L-99"))

	// Mutating after a revert must not leak into the snapshots.
	_, err = s.Apply("L-7", nil)
	require.NoError(t, err)
	assert.Equal(t, "acre-2", before.Bindings()["L-7"].Slug)
}

func TestRevertSkipsReboundShapes(t *testing.T) {
	s := Build(lots())
	before := s.Snapshot()

	changed, err := s.Apply("L-12", lotBySlug(t, s, "acre-2"))
	require.NoError(t, err)
	after := s.SnapshotOf(changed)

	_, err = s.Apply("L-7", lotBySlug(t, s, "acre-3"))
	require.NoError(t, err)

	assert.Equal(t, []string{"L-12"}, s.Revert(before, after, changed))
	require.NoError(t, s.Check())
	assert.Equal(t, "acre-1", slugAt(s, "L-12"))
	assert.Equal(t, "acre-3", slugAt(s, "L-7"))
}

func TestRevertUsesCurrentRecords(t *testing.T) {
	s := Build(lots())
	before := s.Snapshot()

	changed, err := s.Apply("L-12", nil)
	require.NoError(t, err)
	after := s.SnapshotOf(changed)

	// Reconciliation swaps in fresh records; the held shape keeps its binding.
	holds := NewHolds(time.Minute)
	holds.Mark(changed, t0)
	Reconcile(s, holds, lots(), t0)

	s.Revert(before, after, changed)
	require.NoError(t, s.Check())
	l, _ := s.Lot("L-12")
	assert.Same(t, lotBySlug(t, s, "acre-1"), l)
}

func TestCheckDetectsCorruption(t *testing.T) {
	s := Build(lots())
	s.lotToShapes["acre-1"] = append(s.lotToShapes["acre-1"], "L-7")
	require.ErrorIs(t, s.Check(), ErrInconsistent)

	s = Build(lots())
	delete(s.lotToShapes, "acre-2")
	require.ErrorIs(t, s.Check(), ErrInconsistent)
}

func TestSearch(t *testing.T) {
	s := Build([]lot.Lot{
		{Slug: "acre-10", Name: "Lot 10", StatusName: "Sold"},
		{Slug: "acre-1", Name: "Lot 1", StatusName: "Available"},
		{PID: "P-77", Name: "Hilltop", TypeName: "Estate"},
		{Name: "Hilltop"},
		{},
	})

	keys := func(rs []Record) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.OptionKey)
		}
		return out
	}

	assert.Equal(t, []string{"acre-1", "acre-10"}, keys(s.Search("acre-1", 0)))
	assert.Equal(t, []string{"acre-1"}, keys(s.Search("lot available", 0)))
	assert.Equal(t, []string{"pid:P-77", "name:Hilltop"}, keys(s.Search("HILLTOP", 0)))
	assert.Equal(t, []string{"pid:P-77"}, keys(s.Search("estate", 0)))
	assert.Len(t, s.Search("", 2), 2)
	assert.Len(t, s.Search("", 0), 5)
	assert.Empty(t, s.Search("nothing", 0))

	r, ok := s.Record("idx:4")
	require.True(t, ok)
	assert.True(t, r.Lot.Identity().IsZero())
}
