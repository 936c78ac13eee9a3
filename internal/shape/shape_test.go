package shape

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-lots/internal/lot"
)

const plan = `<?xml version="1.0"?>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 800 600">
  <rect id="L-1" class="lot" x="10" y="100" width="40" height="20"/>
  <g transform="translate(100,50)">
    <polygon id="L-2" class="lot available" points="0,0 100,0 100,200 0,200"/>
  </g>
  <path id="L-3" class="lot" d="M 300 300 l 50 0 v 40 h -50 z"/>
  <circle id="tree" cx="5" cy="5" r="2"/>
  <g id="L-4" class="lot"><rect x="500" y="500" width="10" height="10"/><circle cx="530" cy="505" r="5"/></g>
</svg>`

func TestParseSVG(t *testing.T) {
	layer, err := ParseSVG(strings.NewReader(plan), SVGOptions{})
	require.NoError(t, err)

	assert.Equal(t, KindSVG, layer.Kind)
	assert.Equal(t, ViewBox{Width: 800, Height: 600}, layer.ViewBox)
	assert.Equal(t, []string{"L-1", "L-2", "L-3", "L-4"}, layer.IDs())

	s, ok := layer.Shape("L-1")
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{10, 100}, Max: orb.Point{50, 120}}, s.Bound)
	assert.Equal(t, LatLng{Lat: 110, Lng: 30}, s.Center())
	// Short shapes lift the anchor by at least 12 units.
	assert.Equal(t, LatLng{Lat: 88, Lng: 30}, s.Anchor())

	s, _ = layer.Shape("L-2")
	assert.Equal(t, orb.Bound{Min: orb.Point{100, 50}, Max: orb.Point{200, 250}}, s.Bound)
	assert.Equal(t, LatLng{Lat: 20, Lng: 150}, s.Anchor())

	s, _ = layer.Shape("L-3")
	assert.Equal(t, orb.Bound{Min: orb.Point{300, 300}, Max: orb.Point{350, 340}}, s.Bound)

	s, _ = layer.Shape("L-4")
	assert.Equal(t, orb.Bound{Min: orb.Point{500, 500}, Max: orb.Point{535, 510}}, s.Bound)

	_, ok = layer.Shape("tree")
	assert.False(t, ok)

	bounds := layer.Bounds()
	assert.Equal(t, LatLng{Lat: 0, Lng: 0}, bounds[0])
	assert.Equal(t, LatLng{Lat: 600, Lng: 800}, bounds[1])
}

func TestParseSVGViewBoxFallbacks(t *testing.T) {
	layer, err := ParseSVG(strings.NewReader(`<svg width="1200px" height="900"></svg>`), SVGOptions{})
	require.NoError(t, err)
	assert.Equal(t, ViewBox{Width: 1200, Height: 900}, layer.ViewBox)

	layer, err = ParseSVG(strings.NewReader(`<svg></svg>`), SVGOptions{})
	require.NoError(t, err)
	assert.Equal(t, ViewBox{Width: 1000, Height: 1000}, layer.ViewBox)

	layer, err = ParseSVG(strings.NewReader(`<svg viewBox="0 0 10 10"></svg>`), SVGOptions{ViewBox: "5 5 20 30"})
	require.NoError(t, err)
	assert.Equal(t, ViewBox{MinX: 5, MinY: 5, Width: 20, Height: 30}, layer.ViewBox)
}

func TestParseSVGWithoutSVG(t *testing.T) {
	_, err := ParseSVG(strings.NewReader(`<html><body>nothing</body></html>`), SVGOptions{})
	require.ErrorIs(t, err, ErrNoSVG)
}

func TestParseGeoJSON(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"L-9","geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,1],[0,1],[0,0]]]},"properties":{}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[5,5]},"properties":{"pid":"L-10"}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[5,5]},"properties":{}}
	]}`)
	layer, err := ParseGeoJSON(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"L-10", "L-9"}, layer.IDs())

	s, ok := layer.Shape("L-9")
	require.True(t, ok)
	assert.Equal(t, LatLng{Lat: 1, Lng: 1}, s.Anchor())
	require.NotNil(t, s.Feature())
	assert.Equal(t, "L-9", s.Feature().ID)
}

func TestFromLots(t *testing.T) {
	l := lot.Normalize(map[string]any{
		"slug": "acre-1", "svgElementId": "L-1",
		"googleCoordinatesJson": []any{
			map[string]any{"lat": 10.0, "lng": 20.0},
			map[string]any{"lat": 10.0, "lng": 21.0},
			map[string]any{"lat": 11.0, "lng": 21.0},
		},
	})
	layer := FromLots([]lot.Lot{l, {ShapeID: "no-boundary"}})
	assert.Equal(t, 1, layer.Len())
	s, ok := layer.Shape("L-1")
	require.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{20, 10}, Max: orb.Point{21, 11}}, s.Bound)
}
