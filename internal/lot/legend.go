package lot

import (
	"sort"
	"strings"
)

// StatusEntry is one status swatch in the map legend.
type StatusEntry struct {
	Label string   `json:"label" doc:"Status label" example:"Available"`
	Color string   `json:"color" doc:"Status colour (CSS)" example:"#2e7d32"`
	Sort  *float64 `json:"sort,omitempty" doc:"Sort order"`
}

// TypeEntry is one lot-type swatch in the map legend.
type TypeEntry struct {
	Name    string   `json:"name" doc:"Type label" example:"Estate"`
	Slug    string   `json:"slug,omitempty" doc:"Type slug" example:"estate"`
	Color   string   `json:"color,omitempty" doc:"Swatch colour"`
	Outline bool     `json:"outline,omitempty" doc:"Outline-only swatch"`
	Sort    *float64 `json:"sort,omitempty" doc:"Sort order"`
}

// Legend groups the status and type entries derived from a lot set.
type Legend struct {
	Statuses []StatusEntry `json:"statuses" doc:"Status entries"`
	Types    []TypeEntry   `json:"types" doc:"Lot type entries"`
}

// Empty reports whether the legend has nothing to show.
func (l Legend) Empty() bool {
	return len(l.Statuses) == 0 && len(l.Types) == 0
}

// BuildLegend derives the legend from lots. Explicit types, when given, take
// precedence over the type info carried by the lots themselves.
//
// Statuses need both a label and a colour and are unique by lowercase label.
// Both lists sort by their sort order first, entries without one last, then by
// name.
func BuildLegend(lots []Lot, types []TypeEntry) Legend {
	legend := Legend{Statuses: []StatusEntry{}, Types: []TypeEntry{}}

	seenStatus := map[string]struct{}{}
	for _, l := range lots {
		if l.StatusName == "" || l.StatusColor == "" {
			continue
		}
		key := strings.ToLower(l.StatusName)
		if _, ok := seenStatus[key]; ok {
			continue
		}
		seenStatus[key] = struct{}{}
		legend.Statuses = append(legend.Statuses, StatusEntry{
			Label: l.StatusName, Color: l.StatusColor, Sort: l.StatusSort,
		})
	}

	candidates := types
	if len(candidates) == 0 {
		for _, l := range lots {
			if l.TypeSlug == "" && l.TypeName == "" {
				continue
			}
			candidates = append(candidates, TypeEntry{
				Name: l.TypeName, Slug: l.TypeSlug, Color: l.TypeColor,
				Outline: l.TypeOutline, Sort: l.TypeSort,
			})
		}
	}

	seenType := map[string]struct{}{}
	for _, t := range candidates {
		key := strings.ToLower(t.Slug)
		if key == "" {
			key = strings.ToLower(t.Name)
		}
		if key == "" {
			continue
		}
		if _, ok := seenType[key]; ok {
			continue
		}
		seenType[key] = struct{}{}
		if t.Name == "" {
			t.Name = t.Slug
		}
		legend.Types = append(legend.Types, t)
	}

	sort.SliceStable(legend.Statuses, func(i, j int) bool {
		a, b := legend.Statuses[i], legend.Statuses[j]
		return sortedBefore(a.Sort, b.Sort, a.Label, b.Label)
	})
	sort.SliceStable(legend.Types, func(i, j int) bool {
		a, b := legend.Types[i], legend.Types[j]
		return sortedBefore(a.Sort, b.Sort, a.Name, b.Name)
	})

	return legend
}

func sortedBefore(a, b *float64, aName, bName string) bool {
	switch {
	case a != nil && b != nil:
		if *a != *b {
			return *a < *b
		}
		return aName < bName
	case a != nil:
		return true
	case b != nil:
		return false
	default:
		return aName < bName
	}
}
