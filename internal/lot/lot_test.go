package lot

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAliases(t *testing.T) {
	l := Normalize(map[string]any{
		"lot-slug":       "Acre-1",
		"pid":            "P-1",
		"name":           "Lot 1",
		"svg_element_id": "L-12",
		"lot_price":      125000.0,
		"status-name":    "Available",
		"statusColor":    "#00ff00",
		"status_sort":    "2",
		"logo":           []any{map[string]any{"url": "https://cdn.example.com/logo.png"}},
		"lot-details":    "Corner lot",
		"lotType":        map[string]any{"slug": "estate", "name": "Estate", "swatchColor": map[string]any{"hex": "#123456"}, "sortOrder": 3.0, "swatchOutline": "true"},
		"marker_offset_x": "4",
	})

	assert.Equal(t, "Acre-1", l.Slug)
	assert.Equal(t, "acre-1", l.Key())
	assert.Equal(t, "P-1", l.PID)
	assert.Equal(t, "L-12", l.ShapeID)
	assert.Equal(t, "125000", l.Price)
	assert.Equal(t, "Available", l.StatusName)
	require.NotNil(t, l.StatusSort)
	assert.Equal(t, 2.0, *l.StatusSort)
	assert.Equal(t, "https://cdn.example.com/logo.png", l.LogoURL)
	assert.Equal(t, "Corner lot", l.Details)
	assert.Equal(t, "estate", l.TypeSlug)
	assert.Equal(t, "Estate", l.TypeName)
	assert.Equal(t, "#123456", l.TypeColor)
	assert.True(t, l.TypeOutline)
	require.NotNil(t, l.TypeSort)
	assert.Equal(t, 3.0, *l.TypeSort)
	assert.Equal(t, 4.0, l.MarkerOffsetX)
}

func TestNormalizeShapeFallsBackToPID(t *testing.T) {
	l := Normalize(map[string]any{"slug": "a", "pid": "L-7"})
	assert.Equal(t, "L-7", l.ShapeID)
}

func TestNormalizeRejectsRelativeLogo(t *testing.T) {
	l := Normalize(map[string]any{"logoUrl": "images/logo.png"})
	assert.Empty(t, l.LogoURL)

	l = Normalize(map[string]any{"logoUrl": "/images/logo.png"})
	assert.Equal(t, "/images/logo.png", l.LogoURL)
}

func TestNormalizeBoundaryFromString(t *testing.T) {
	l := Normalize(map[string]any{
		"googleCoordinatesJson": `[{&quot;lat&quot;:1,&quot;lng&quot;:2},{"lat":1,"lng":3},{"lat":2,"lng":3}]`,
	})
	require.Len(t, l.Boundary, 1)
	ring := l.Boundary[0]
	assert.True(t, ring.Closed())
	assert.Equal(t, orb.Point{2, 1}, ring[0])
	assert.Len(t, ring, 4)
}

func TestNormalizeJSONDecodesEntities(t *testing.T) {
	l, err := NormalizeJSON(`{&quot;slug&quot;:&quot;acre-2&quot;,&quot;name&quot;:&quot;Acre &amp; Two&quot;}`)
	require.NoError(t, err)
	assert.Equal(t, "acre-2", l.Slug)
	assert.Equal(t, "Acre & Two", l.Name)
}

func TestDedupe(t *testing.T) {
	lots := []Lot{
		{Slug: "Acre-1", PID: "1", Name: "first"},
		{Slug: "acre-1 ", PID: "1", Name: "second"},
		{Slug: "acre-1", PID: "2"},
		{Name: "anonymous"},
		{Name: "anonymous"},
	}
	got := Dedupe(lots)
	require.Len(t, got, 4)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "2", got[1].PID)
	assert.Equal(t, "anonymous", got[2].Name)
	assert.Equal(t, "anonymous", got[3].Name)
}

func TestSameIdentity(t *testing.T) {
	a := &Lot{Slug: "Acre-1", PID: "1", Name: "Lot"}
	b := &Lot{Slug: "acre-1", PID: "1", Name: "Lot", Price: "different"}
	assert.True(t, SameIdentity(a, b))
	assert.True(t, SameIdentity(nil, nil))
	assert.False(t, SameIdentity(a, nil))
	assert.False(t, SameIdentity(a, &Lot{Slug: "acre-2", PID: "1", Name: "Lot"}))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Lot 1", (&Lot{Name: "Lot 1", PID: "P"}).Title())
	assert.Equal(t, "P", (&Lot{PID: "P"}).Title())
	assert.Equal(t, "Lot", (&Lot{}).Title())
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"125000", "$125,000"},
		{"1234.5", "$1,234.5"},
		{"999", "$999"},
		{"$99,000", "$99,000"},
		{"Call for pricing", "Call for pricing"},
		{"1,500,000", "$1,500,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPrice(tt.in), "FormatPrice(%q)", tt.in)
	}
}

func TestDetailsHTML(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt;<br>c", DetailsHTML(" a <b>\r\nc "))
	assert.Empty(t, DetailsHTML("   "))
}

func TestBuildLegend(t *testing.T) {
	one, two := 1.0, 2.0
	lots := []Lot{
		{StatusName: "Sold", StatusColor: "#f00", StatusSort: &two, TypeSlug: "villa", TypeName: "Villa"},
		{StatusName: "Available", StatusColor: "#0f0", StatusSort: &one, TypeSlug: "estate", TypeName: "Estate", TypeSort: &one},
		{StatusName: "available", StatusColor: "#00f"},
		{StatusName: "Hold"},
		{StatusName: "Reserved", StatusColor: "#ff0", TypeSlug: "estate"},
	}

	legend := BuildLegend(lots, nil)
	require.Len(t, legend.Statuses, 3)
	assert.Equal(t, "Available", legend.Statuses[0].Label)
	assert.Equal(t, "#0f0", legend.Statuses[0].Color)
	assert.Equal(t, "Sold", legend.Statuses[1].Label)
	assert.Equal(t, "Reserved", legend.Statuses[2].Label)

	require.Len(t, legend.Types, 2)
	assert.Equal(t, "Estate", legend.Types[0].Name)
	assert.Equal(t, "Villa", legend.Types[1].Name)
	assert.False(t, legend.Empty())
}

func TestBuildLegendExplicitTypesWin(t *testing.T) {
	legend := BuildLegend([]Lot{{TypeSlug: "villa"}}, []TypeEntry{{Slug: "townhome"}})
	require.Len(t, legend.Types, 1)
	assert.Equal(t, "townhome", legend.Types[0].Name)
	assert.Empty(t, legend.Statuses)
}
