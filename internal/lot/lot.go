// Package lot holds the CMS lot record, its normalisation from loosely keyed
// JSON, and the repository that loads lots from embedded JSON or paginated
// HTML pages.
package lot

import (
	"strings"

	"github.com/paulmach/orb"
)

// Lot is a normalised CMS lot record.
//
// Identity is (Slug, PID, Name). Everything else is display data used by the
// popup and the legend.
type Lot struct {
	Slug          string      `json:"slug,omitempty" doc:"CMS slug" example:"acre-1"`
	PID           string      `json:"pid,omitempty" doc:"Parcel id" example:"L-12"`
	Name          string      `json:"name,omitempty" doc:"Display name" example:"Lot 12"`
	ShapeID       string      `json:"shapeId,omitempty" doc:"SVG element id the CMS has this lot bound to" example:"L-12"`
	Price         string      `json:"price,omitempty" doc:"Raw price value" example:"125000"`
	StatusName    string      `json:"statusName,omitempty" doc:"Status label" example:"Available"`
	StatusColor   string      `json:"statusColor,omitempty" doc:"Status colour (CSS)" example:"#2e7d32"`
	StatusSort    *float64    `json:"statusSort,omitempty" doc:"Legend sort order for the status"`
	LogoURL       string      `json:"logoUrl,omitempty" doc:"Builder logo URL"`
	Details       string      `json:"details,omitempty" doc:"Plain-text lot description"`
	TypeSlug      string      `json:"typeSlug,omitempty" doc:"Lot type slug" example:"estate"`
	TypeName      string      `json:"typeName,omitempty" doc:"Lot type label" example:"Estate"`
	TypeColor     string      `json:"typeColor,omitempty" doc:"Lot type swatch colour"`
	TypeOutline   bool        `json:"typeOutline,omitempty" doc:"Render the type swatch as an outline"`
	TypeSort      *float64    `json:"typeSort,omitempty" doc:"Legend sort order for the type"`
	MarkerOffsetX float64     `json:"markerOffsetX,omitempty" doc:"Status dot x offset"`
	MarkerOffsetY float64     `json:"markerOffsetY,omitempty" doc:"Status dot y offset"`
	Boundary      orb.Polygon `json:"boundary,omitempty" doc:"Lot boundary as [lng,lat] rings"`
}

// Identity is the part of a lot that decides whether two records are the same.
type Identity struct {
	Slug string `json:"slug" doc:"CMS slug"`
	Name string `json:"name" doc:"Display name"`
	PID  string `json:"pid" doc:"Parcel id"`
}

// Identity returns the identity triple of l. A nil lot has the zero identity.
func (l *Lot) Identity() Identity {
	if l == nil {
		return Identity{}
	}
	return Identity{Slug: l.Slug, Name: l.Name, PID: l.PID}
}

// IsZero reports whether the identity carries no fields at all.
func (id Identity) IsZero() bool {
	return id.Slug == "" && id.Name == "" && id.PID == ""
}

// Key returns the normalised slug used by the reverse assignment index.
func (l *Lot) Key() string {
	if l == nil {
		return ""
	}
	return NormalizeSlug(l.Slug)
}

// Title is the popup heading: name, then pid, then "Lot".
func (l *Lot) Title() string {
	switch {
	case l == nil:
		return ""
	case l.Name != "":
		return l.Name
	case l.PID != "":
		return l.PID
	default:
		return "Lot"
	}
}

// NormalizeSlug lowercases and trims a slug.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// SameIdentity reports whether a and b denote the same lot. Two nil lots are
// the same ("unassigned" equals "unassigned").
func SameIdentity(a, b *Lot) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return NormalizeSlug(a.Slug) == NormalizeSlug(b.Slug) &&
		strings.TrimSpace(a.PID) == strings.TrimSpace(b.PID) &&
		strings.TrimSpace(a.Name) == strings.TrimSpace(b.Name)
}

// dedupeKey is "slug::pid", or "" when the lot has neither.
func dedupeKey(l Lot) string {
	slug := NormalizeSlug(l.Slug)
	pid := strings.TrimSpace(l.PID)
	if slug == "" && pid == "" {
		return ""
	}
	return slug + "::" + pid
}

// Dedupe drops later records whose (slug, pid) repeats an earlier one.
// Records carrying neither are always kept.
func Dedupe(lots []Lot) []Lot {
	seen := make(map[string]struct{}, len(lots))
	unique := make([]Lot, 0, len(lots))
	for _, l := range lots {
		key := dedupeKey(l)
		if key == "" {
			unique = append(unique, l)
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, l)
	}
	return unique
}
