package assign

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/joeblew999/plat-lots/internal/lot"
)

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 25

// Record is one lot in the search index.
type Record struct {
	// OptionKey identifies the record in the editor's option list. It is the
	// normalised slug, else "pid:<pid>", else "name:<name>", else "idx:<n>".
	OptionKey string
	Lot       *lot.Lot
	// haystack is the lowercased text searched by Search.
	haystack string
}

func buildRecords(src []lot.Lot) []Record {
	lots := slices.Clone(src)
	records := make([]Record, 0, len(lots))
	seen := make(map[string]struct{}, len(lots))
	for i := range lots {
		l := &lots[i]
		key := optionKey(l, i)
		if _, dup := seen[key]; dup {
			key = "idx:" + strconv.Itoa(i)
		}
		seen[key] = struct{}{}
		records = append(records, Record{
			OptionKey: key,
			Lot:       l,
			haystack: strings.ToLower(strings.Join([]string{
				l.Name, l.PID, l.Slug, l.StatusName, l.TypeName, l.ShapeID,
			}, " ")),
		})
	}
	return records
}

func optionKey(l *lot.Lot, i int) string {
	switch {
	case l.Key() != "":
		return l.Key()
	case strings.TrimSpace(l.PID) != "":
		return "pid:" + strings.TrimSpace(l.PID)
	case strings.TrimSpace(l.Name) != "":
		return "name:" + strings.TrimSpace(l.Name)
	default:
		return "idx:" + strconv.Itoa(i)
	}
}

// Record looks a record up by option key.
func (s *State) Record(optionKey string) (Record, bool) {
	for _, r := range s.records {
		if r.OptionKey == optionKey {
			return r, true
		}
	}
	return Record{}, false
}

// Search returns the records matching every whitespace-separated term of
// query, case-insensitively. Records whose name, pid or slug equals the query
// come first, then prefix matches, then the rest in source order. An empty
// query lists records in source order.
func (s *State) Search(query string, limit int) []Record {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := strings.ToLower(strings.TrimSpace(query))
	terms := strings.Fields(q)

	type hit struct {
		rank, idx int
	}
	var hits []hit
	for i, r := range s.records {
		if !matchesAll(r.haystack, terms) {
			continue
		}
		hits = append(hits, hit{rank: rank(r.Lot, q), idx: i})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = s.records[h.idx]
	}
	return out
}

func matchesAll(haystack string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(haystack, t) {
			return false
		}
	}
	return true
}

func rank(l *lot.Lot, q string) int {
	if q == "" {
		return 0
	}
	fields := []string{strings.ToLower(l.Name), strings.ToLower(l.PID), l.Key()}
	for _, f := range fields {
		if f == q {
			return 0
		}
	}
	for _, f := range fields {
		if f != "" && strings.HasPrefix(f, q) {
			return 1
		}
	}
	return 2
}
