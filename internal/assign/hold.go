package assign

import (
	"sort"
	"time"
)

// DefaultHoldWindow is how long a saved assignment survives background
// refreshes that disagree with it.
const DefaultHoldWindow = 15 * time.Second

// Holds tracks optimistic holds: shape ids whose local binding must survive
// reconciliation until their expiry passes. Like State it is not safe for
// concurrent use.
type Holds struct {
	window time.Duration
	expiry map[string]hold
	gen    uint64
}

type hold struct {
	until time.Time
	// gen identifies the Mark that set the hold.
	gen uint64
}

// Mark identifies one call to Holds.Mark so it can be undone.
type Mark struct {
	gen  uint64
	prev map[string]hold
}

// NewHolds returns an empty hold table. A non-positive window selects
// DefaultHoldWindow.
func NewHolds(window time.Duration) *Holds {
	if window <= 0 {
		window = DefaultHoldWindow
	}
	return &Holds{window: window, expiry: map[string]hold{}}
}

// Window returns the hold duration.
func (h *Holds) Window() time.Duration {
	return h.window
}

// Mark holds every id until now+window, extending existing holds.
func (h *Holds) Mark(ids []string, now time.Time) Mark {
	h.gen++
	m := Mark{gen: h.gen, prev: map[string]hold{}}
	until := now.Add(h.window)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if old, ok := h.expiry[id]; ok {
			m.prev[id] = old
		}
		h.expiry[id] = hold{until: until, gen: h.gen}
	}
	return m
}

// Unmark undoes m. Ids marked again since keep their newer hold; the others
// go back to the hold they had before m, or lose it.
func (h *Holds) Unmark(m Mark, ids []string) {
	for _, id := range ids {
		if cur, ok := h.expiry[id]; !ok || cur.gen != m.gen {
			continue
		}
		if old, ok := m.prev[id]; ok {
			h.expiry[id] = old
		} else {
			delete(h.expiry, id)
		}
	}
}

// Held reports whether id is held at now.
func (h *Holds) Held(id string, now time.Time) bool {
	cur, ok := h.expiry[id]
	return ok && now.Before(cur.until)
}

// Until returns the expiry of id's hold, if any.
func (h *Holds) Until(id string) (time.Time, bool) {
	cur, ok := h.expiry[id]
	return cur.until, ok
}

// Expire drops every hold whose expiry is at or before now.
func (h *Holds) Expire(now time.Time) {
	for id, cur := range h.expiry {
		if !now.Before(cur.until) {
			delete(h.expiry, id)
		}
	}
}

// Active returns the ids held at now, sorted.
func (h *Holds) Active(now time.Time) []string {
	var ids []string
	for id, cur := range h.expiry {
		if now.Before(cur.until) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
