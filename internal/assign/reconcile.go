package assign

import (
	"time"

	"github.com/joeblew999/plat-lots/internal/lot"
)

// Reconcile replaces live with a state built from fresh lot data, except for
// shapes under an optimistic hold, which keep their current binding. Expired
// holds are dropped first, so once a hold lapses the fresh data wins even if
// it contradicts the local edit.
//
// live is updated in place. Shapes that were only observed are forgotten;
// callers re-observe their shape layer afterwards. Reconcile returns the held
// ids whose binding was preserved.
func Reconcile(live *State, holds *Holds, fresh []lot.Lot, now time.Time) []string {
	candidate := Build(fresh)

	holds.Expire(now)
	held := holds.Active(now)
	for _, id := range held {
		candidate.removeFromAllBuckets(id)
		candidate.shapeToLot[id] = nil
		if current := live.shapeToLot[id]; current != nil {
			candidate.bind(id, current)
		}
	}

	live.replace(candidate)
	return held
}
