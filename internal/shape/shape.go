// Package shape loads the site-plan shape layer (an SVG plan or GeoJSON
// boundaries) and answers geometry questions about individual shapes.
package shape

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Kind is the coordinate space of a layer.
type Kind string

const (
	// KindSVG layers use SVG user units with y growing downwards. They are shown
	// in Leaflet's CRS.Simple, where lat = y and lng = x.
	KindSVG Kind = "svg"
	// KindGeo layers use WGS84 lng/lat.
	KindGeo Kind = "geo"
)

// LatLng is a Leaflet coordinate.
type LatLng struct {
	Lat float64 `json:"lat" doc:"Latitude (SVG y in CRS.Simple)"`
	Lng float64 `json:"lng" doc:"Longitude (SVG x in CRS.Simple)"`
}

// Shape is one lot footprint on the plan.
type Shape struct {
	ID    string
	Kind  Kind
	Bound orb.Bound
	// Geometry is set for GeoJSON shapes only.
	Geometry orb.Geometry
}

// Center is the middle of the shape's bounding box.
func (s Shape) Center() LatLng {
	c := s.Bound.Center()
	return LatLng{Lat: c.Y(), Lng: c.X()}
}

// Anchor is where a popup points at the shape: horizontally centred, just
// above the top edge.
func (s Shape) Anchor() LatLng {
	c := s.Bound.Center()
	h := s.Bound.Max.Y() - s.Bound.Min.Y()
	if s.Kind == KindGeo {
		return LatLng{Lat: s.Bound.Max.Y(), Lng: c.X()}
	}
	lift := math.Max(12, h*0.15)
	return LatLng{Lat: s.Bound.Min.Y() - lift, Lng: c.X()}
}

// ViewBox is an SVG viewBox.
type ViewBox struct {
	MinX   float64 `json:"minX"`
	MinY   float64 `json:"minY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bounds returns the Leaflet overlay bounds [[minY, minX], [minY+h, minX+w]].
func (v ViewBox) Bounds() [2]LatLng {
	return [2]LatLng{
		{Lat: v.MinY, Lng: v.MinX},
		{Lat: v.MinY + v.Height, Lng: v.MinX + v.Width},
	}
}

// Layer is an indexed set of shapes.
type Layer struct {
	Kind    Kind
	ViewBox ViewBox
	shapes  map[string]Shape
}

// NewLayer creates a layer from shapes. Later shapes replace earlier ones with
// the same id.
func NewLayer(kind Kind, vb ViewBox, shapes []Shape) *Layer {
	l := &Layer{Kind: kind, ViewBox: vb, shapes: make(map[string]Shape, len(shapes))}
	for _, s := range shapes {
		s.Kind = kind
		l.shapes[s.ID] = s
	}
	return l
}

// Shape looks a shape up by id.
func (l *Layer) Shape(id string) (Shape, bool) {
	if l == nil {
		return Shape{}, false
	}
	s, ok := l.shapes[id]
	return s, ok
}

// IDs returns all shape ids, sorted.
func (l *Layer) IDs() []string {
	if l == nil {
		return nil
	}
	ids := make([]string, 0, len(l.shapes))
	for id := range l.shapes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of shapes.
func (l *Layer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.shapes)
}

// Bounds returns the overlay bounds of the layer.
func (l *Layer) Bounds() [2]LatLng {
	if l.Kind == KindSVG {
		return l.ViewBox.Bounds()
	}
	var b orb.Bound
	first := true
	for _, s := range l.shapes {
		if first {
			b, first = s.Bound, false
			continue
		}
		b = b.Union(s.Bound)
	}
	return [2]LatLng{
		{Lat: b.Min.Y(), Lng: b.Min.X()},
		{Lat: b.Max.Y(), Lng: b.Max.X()},
	}
}
