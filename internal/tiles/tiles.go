// Package tiles renders Mapbox vector tiles of a geo lot layer on demand.
//
// Lot boundaries are small (tens of metres), so every feature is carried from
// zoom 0 and only simplified at low zooms.
package tiles

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// MaxZoom is the deepest zoom served.
const MaxZoom = 22

// ContentType is the media type of an encoded tile.
const ContentType = "application/vnd.mapbox-vector-tile"

// ErrOutOfRange is returned for tile coordinates outside the zoom's grid.
var ErrOutOfRange = errors.New("tile out of range")

// Tiler cuts tiles out of one feature collection.
type Tiler struct {
	layer    string
	features []*geojson.Feature
}

// New creates a tiler over fc. Features without geometry are ignored.
func New(layerName string, fc *geojson.FeatureCollection) *Tiler {
	t := &Tiler{layer: layerName}
	for _, f := range fc.Features {
		if f.Geometry != nil {
			t.features = append(t.features, f)
		}
	}
	return t
}

// Tile returns the gzipped MVT for z/x/y, or nil when no feature touches it.
func (t *Tiler) Tile(z, x, y uint32) ([]byte, error) {
	if z > MaxZoom || x >= 1<<z || y >= 1<<z {
		return nil, fmt.Errorf("%w: %d/%d/%d", ErrOutOfRange, z, x, y)
	}
	tile := maptile.New(x, y, maptile.Zoom(z))
	bound := tile.Bound()

	fc := geojson.NewFeatureCollection()
	for _, f := range t.features {
		if !intersects(f.Geometry, bound) {
			continue
		}
		// Clip and ProjectToTile mutate geometry in place.
		clone := geojson.NewFeature(orb.Clone(f.Geometry))
		clone.ID = f.ID
		for k, v := range f.Properties {
			clone.Properties[k] = v
		}
		fc.Append(clone)
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(t.layer, fc)
	if eps := simplifyEpsilon(tile.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(bound)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}

	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil, fmt.Errorf("encoding tile %d/%d/%d: %w", z, x, y, err)
	}
	return data, nil
}

// intersects is a bound check refined for polygons, which are what lot
// layers hold.
func intersects(geom orb.Geometry, tile orb.Bound) bool {
	if !geom.Bound().Intersects(tile) {
		return false
	}
	switch g := geom.(type) {
	case orb.Polygon:
		for _, ring := range g {
			for _, p := range ring {
				if tile.Contains(p) {
					return true
				}
			}
		}
		corners := []orb.Point{
			tile.Min,
			{tile.Max[0], tile.Min[1]},
			tile.Max,
			{tile.Min[0], tile.Max[1]},
			tile.Center(),
		}
		for _, p := range corners {
			if planar.PolygonContains(g, p) {
				return true
			}
		}
		return false
	case orb.MultiPolygon:
		for _, poly := range g {
			if intersects(poly, tile) {
				return true
			}
		}
		return false
	}
	return true
}

// simplifyEpsilon is the Douglas-Peucker tolerance in degrees. A lot is
// roughly 0.0003° across, so simplification stops well before street zooms.
func simplifyEpsilon(zoom maptile.Zoom) float64 {
	switch {
	case zoom >= 15:
		return 0
	case zoom >= 12:
		return 0.000005
	default:
		return 0.00005
	}
}
