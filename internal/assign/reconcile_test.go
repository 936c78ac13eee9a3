package assign

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-lots/internal/lot"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHolds(t *testing.T) {
	h := NewHolds(0)
	assert.Equal(t, DefaultHoldWindow, h.Window())

	h.Mark([]string{"L-1", "L-2", ""}, t0)
	assert.True(t, h.Held("L-1", t0.Add(14*time.Second)))
	assert.False(t, h.Held("L-1", t0.Add(15*time.Second)))
	assert.False(t, h.Held("", t0))

	// Marking again extends the hold.
	h.Mark([]string{"L-1"}, t0.Add(10*time.Second))
	until, ok := h.Until("L-1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(25*time.Second), until)

	assert.Equal(t, []string{"L-1", "L-2"}, h.Active(t0.Add(time.Second)))
	assert.Equal(t, []string{"L-1"}, h.Active(t0.Add(20*time.Second)))

	h.Expire(t0.Add(20 * time.Second))
	_, ok = h.Until("L-2")
	assert.False(t, ok)

	h.Expire(t0.Add(25 * time.Second))
	assert.Empty(t, h.Active(t0))
}

func TestUnmarkRestoresEarlierHolds(t *testing.T) {
	h := NewHolds(15 * time.Second)
	h.Mark([]string{"L-7"}, t0)

	failed := h.Mark([]string{"L-12", "L-7"}, t0.Add(5*time.Second))
	later := h.Mark([]string{"L-3"}, t0.Add(6*time.Second))
	h.Mark([]string{"L-3"}, t0.Add(6*time.Second))

	h.Unmark(failed, []string{"L-12", "L-7"})
	_, ok := h.Until("L-12")
	assert.False(t, ok, "hold set by the undone mark is dropped")
	until, ok := h.Until("L-7")
	require.True(t, ok)
	assert.Equal(t, t0.Add(15*time.Second), until, "the earlier save keeps its own window")

	// A mark superseded by a newer one at the same instant is left alone.
	h.Unmark(later, []string{"L-3"})
	assert.True(t, h.Held("L-3", t0.Add(20*time.Second)))
}

func TestReconcileWithoutHoldsReplacesState(t *testing.T) {
	live := Build(lots())
	_, err := live.Apply("L-12", lotBySlug(t, live, "acre-3"))
	require.NoError(t, err)

	fresh := []lot.Lot{
		{Slug: "acre-1", ShapeID: "L-7"},
		{Slug: "acre-5", ShapeID: "L-12"},
	}
	held := Reconcile(live, NewHolds(0), fresh, t0)
	assert.Empty(t, held)
	require.NoError(t, live.Check())

	want := Build(fresh).Snapshot()
	got := live.Snapshot()
	assert.Empty(t, cmp.Diff(want.Bindings(), got.Bindings()))
	assert.Empty(t, cmp.Diff(want.Buckets(), got.Buckets()))
	assert.Len(t, live.Records(), 2)
}

func TestReconcileKeepsPointerIdentity(t *testing.T) {
	live := Build(lots())
	ref := live
	Reconcile(live, NewHolds(0), []lot.Lot{{Slug: "acre-9", ShapeID: "L-1"}}, t0)

	l, ok := ref.Lot("L-1")
	require.True(t, ok)
	assert.Equal(t, "acre-9", l.Slug)
}

func TestReconcilePreservesHeldShapeUntilExpiry(t *testing.T) {
	live := Build([]lot.Lot{
		{Slug: "acre-1"},
		{Slug: "acre-2", ShapeID: "L-3"},
	})
	holds := NewHolds(15 * time.Second)

	// Save acre-1 onto L-9 locally.
	changed, err := live.Apply("L-9", lotBySlug(t, live, "acre-1"))
	require.NoError(t, err)
	holds.Mark(changed, t0)

	// The system of record has not caught up yet: L-9 is unassigned.
	fresh := []lot.Lot{
		{Slug: "acre-1"},
		{Slug: "acre-2", ShapeID: "L-3"},
	}

	held := Reconcile(live, holds, fresh, t0.Add(5*time.Second))
	assert.Equal(t, []string{"L-9"}, held)
	require.NoError(t, live.Check())

	l, ok := live.Lot("L-9")
	require.True(t, ok)
	require.NotNil(t, l)
	assert.Equal(t, "acre-1", l.Slug)
	l, _ = live.Lot("L-3")
	assert.Equal(t, "acre-2", l.Slug)

	// After the hold lapses the fresh data wins.
	held = Reconcile(live, holds, fresh, t0.Add(16*time.Second))
	assert.Empty(t, held)
	require.NoError(t, live.Check())

	l, _ = live.Lot("L-9")
	assert.Nil(t, l)
	assert.Empty(t, holds.Active(t0.Add(16*time.Second)))
}

func TestReconcileHeldShapeOverridesFreshBinding(t *testing.T) {
	live := Build([]lot.Lot{
		{Slug: "acre-1", ShapeID: "L-12"},
		{Slug: "acre-2", ShapeID: "L-7"},
	})
	holds := NewHolds(0)

	changed, err := live.Apply("L-12", lotBySlug(t, live, "acre-2"))
	require.NoError(t, err)
	holds.Mark(changed, t0)

	// Fresh data still has the old bindings.
	fresh := []lot.Lot{
		{Slug: "acre-1", ShapeID: "L-12"},
		{Slug: "acre-2", ShapeID: "L-7"},
	}
	Reconcile(live, holds, fresh, t0.Add(time.Second))
	require.NoError(t, live.Check())

	l, _ := live.Lot("L-12")
	assert.Equal(t, "acre-2", l.Slug)
	l, ok := live.Lot("L-7")
	assert.True(t, ok)
	assert.Nil(t, l)

	assert.Equal(t, []string{"L-12"}, live.ShapesFor(l2("acre-2")))
	assert.Empty(t, live.ShapesFor(l2("acre-1")))
}

func TestReconcileHeldShapeMayCoexistWithFreshDuplicate(t *testing.T) {
	live := Build([]lot.Lot{{Slug: "acre-1"}})
	holds := NewHolds(0)

	changed, err := live.Apply("L-1", lotBySlug(t, live, "acre-1"))
	require.NoError(t, err)
	holds.Mark(changed, t0)

	// Someone else bound acre-1 to L-2 in the meantime.
	Reconcile(live, holds, []lot.Lot{{Slug: "acre-1", ShapeID: "L-2"}}, t0.Add(time.Second))
	require.NoError(t, live.Check())

	assert.Equal(t, []string{"L-2", "L-1"}, live.ShapesFor(l2("acre-1")))
	assert.Equal(t, []string{"L-2"}, live.Duplicates(l2("acre-1"), "L-1"))
}

func l2(slug string) *lot.Lot {
	return &lot.Lot{Slug: slug}
}
