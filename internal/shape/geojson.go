package shape

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-lots/internal/lot"
)

// idProps are the feature properties that may carry the shape id when the
// feature itself has none.
var idProps = []string{"id", "svgElementId", "elementSvgId", "pid", "slug"}

// ParseGeoJSON indexes the features of a FeatureCollection by id.
func ParseGeoJSON(data []byte) (*Layer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}

	shapes := make([]Shape, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		id := featureID(f)
		if id == "" {
			continue
		}
		shapes = append(shapes, Shape{ID: id, Bound: f.Geometry.Bound(), Geometry: f.Geometry})
	}
	return NewLayer(KindGeo, ViewBox{}, shapes), nil
}

// FromLots builds a geo layer out of the boundaries carried by lot records,
// keyed by each lot's shape id.
func FromLots(lots []lot.Lot) *Layer {
	var shapes []Shape
	for _, l := range lots {
		if l.ShapeID == "" || len(l.Boundary) == 0 {
			continue
		}
		shapes = append(shapes, Shape{ID: l.ShapeID, Bound: l.Boundary.Bound(), Geometry: l.Boundary})
	}
	return NewLayer(KindGeo, ViewBox{}, shapes)
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	for _, key := range idProps {
		if s := f.Properties.MustString(key, ""); s != "" {
			return s
		}
	}
	return ""
}

// Feature returns the GeoJSON feature for a geo shape, or nil for SVG shapes.
func (s Shape) Feature() *geojson.Feature {
	if s.Geometry == nil {
		return nil
	}
	f := geojson.NewFeature(s.Geometry)
	f.ID = s.ID
	return f
}

// Polygon returns the bounding box of the shape as a polygon, in the layer's
// coordinate space.
func (s Shape) Polygon() orb.Polygon {
	return s.Bound.ToPolygon()
}
