package lot

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// CMS exports spell the same field several ways. Each list is tried in order.
var (
	slugKeys        = []string{"slug", "lotSlug", "lot_slug", "lot-slug"}
	pidKeys         = []string{"pid"}
	nameKeys        = []string{"name"}
	shapeKeys       = []string{"elementSvgId", "element_svg_id", "element-svg-id", "svgElementId", "svg_element_id", "svg-element-id"}
	priceKeys       = []string{"price", "lotPrice", "lot_price", "lot-price", "priceLabel", "price_label", "price-label", "priceFormatted", "price_formatted"}
	statusKeys      = []string{"statusName", "status_name", "status-name", "status", "customStatus", "custom_status", "custom-status"}
	statusColorKeys = []string{"statusColor", "status_color", "status-color"}
	statusSortKeys  = []string{"statusSort", "status_sort", "status-sort"}
	logoKeys        = []string{"logoImage", "logo_image", "logo", "logoUrl", "logo_url", "logo-url", "logo-image"}
	detailKeys      = []string{"details", "detail", "lotDetails", "lot_details", "lot-details", "description", "lotDescription", "lot_description", "lot-description", "summary", "lotSummary", "lot_summary", "lot-summary"}
	typeKeys        = []string{"lotType", "lot_type", "lot-type", "type", "lotTypeSlug", "lot_type_slug", "lot-type-slug"}
	typeNameKeys    = []string{"lotTypeName", "lot_type_name", "lot-type-name"}
	typeColorKeys   = []string{"lotTypeColor", "lot_type_color", "lot-type-color"}
	coordKeys       = []string{"googleCoordinatesJson", "google_coordinates_json", "google-coordinates-json", "googleCoordinates", "google_coordinates"}
	offsetXKeys     = []string{"markerOffsetX", "marker_offset_x", "marker-offset-x"}
	offsetYKeys     = []string{"markerOffsetY", "marker_offset_y", "marker-offset-y"}
)

var (
	nonNumeric = regexp.MustCompile(`[^0-9.+-]`)
	logoURL    = regexp.MustCompile(`(?i)^(https?://|//[^/]|data:image/|blob:|/)`)
)

// Normalize resolves the alias keys of a raw CMS object into a typed Lot.
func Normalize(raw map[string]any) Lot {
	l := Lot{
		Slug:        firstString(raw, slugKeys),
		PID:         firstString(raw, pidKeys),
		Name:        firstString(raw, nameKeys),
		Price:       firstString(raw, priceKeys),
		StatusName:  firstString(raw, statusKeys),
		StatusColor: firstString(raw, statusColorKeys),
		StatusSort:  firstNumber(raw, statusSortKeys),
		LogoURL:     normalizeLogo(first(raw, logoKeys)),
		Details:     firstString(raw, detailKeys),
		TypeName:    firstString(raw, typeNameKeys),
		TypeColor:   firstString(raw, typeColorKeys),
		Boundary:    normalizeBoundary(first(raw, coordKeys)),
	}

	l.ShapeID = firstString(raw, shapeKeys)
	if l.ShapeID == "" {
		l.ShapeID = l.PID
	}

	if x := firstNumber(raw, offsetXKeys); x != nil {
		l.MarkerOffsetX = *x
	}
	if y := firstNumber(raw, offsetYKeys); y != nil {
		l.MarkerOffsetY = *y
	}

	switch t := first(raw, typeKeys).(type) {
	case map[string]any:
		l.TypeSlug = firstString(t, []string{"slug", "value", "name", "title"})
		if l.TypeName == "" {
			l.TypeName = firstString(t, []string{"name", "title"})
		}
		if l.TypeColor == "" {
			l.TypeColor = swatchColor(t["swatchColor"])
		}
		l.TypeSort = firstNumber(t, []string{"sortOrder"})
		l.TypeOutline = truthy(t["swatchOutline"])
	case nil:
	default:
		l.TypeSlug = toString(t)
	}
	if l.TypeName == "" {
		l.TypeName = l.TypeSlug
	}

	return l
}

// NormalizeJSON decodes one raw lot object, tolerating HTML entities left by
// CMS embeds.
func NormalizeJSON(data string) (Lot, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(html.UnescapeString(data)), &raw); err != nil {
		return Lot{}, err
	}
	return Normalize(raw), nil
}

func first(raw map[string]any, keys []string) any {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

func firstString(raw map[string]any, keys []string) string {
	return toString(first(raw, keys))
}

func firstNumber(raw map[string]any, keys []string) *float64 {
	v := first(raw, keys)
	if v == nil {
		return nil
	}
	n, ok := toNumber(v)
	if !ok {
		return nil
	}
	return &n
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	}
	return false
}

func swatchColor(v any) string {
	if m, ok := v.(map[string]any); ok {
		return firstString(m, []string{"value", "hex"})
	}
	return toString(v)
}

// normalizeLogo accepts strings, arrays of strings and {url|src|file} objects,
// and keeps only absolute, protocol-relative, data:, blob: or rooted URLs.
func normalizeLogo(v any) string {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return ""
		}
		v = arr[0]
	}
	if m, ok := v.(map[string]any); ok {
		v = first(m, []string{"url", "src", "file"})
	}
	text := toString(v)
	if text == "" || !logoURL.MatchString(text) {
		return ""
	}
	return text
}

// normalizeBoundary turns a list of {lat,lng} points (or its JSON string
// encoding) into a closed polygon in [lng,lat] order.
func normalizeBoundary(v any) orb.Polygon {
	if s, ok := v.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(html.UnescapeString(s)), &decoded); err != nil {
			return nil
		}
		v = decoded
	}
	points, ok := v.([]any)
	if !ok {
		return nil
	}

	var ring orb.Ring
	for _, p := range points {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		lat := firstNumber(m, []string{"lat", "latitude"})
		lng := firstNumber(m, []string{"lng", "lon", "longitude"})
		if lat == nil || lng == nil {
			continue
		}
		ring = append(ring, orb.Point{*lng, *lat})
	}
	if len(ring) < 3 {
		return nil
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}

// FormatPrice renders a raw price for display. Numbers become "$1,234.5";
// text already carrying letters or a currency sign is returned as is.
func FormatPrice(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	if strings.ContainsAny(text, "$€£¥") || strings.IndexFunc(text, isLetter) >= 0 {
		return text
	}
	n, err := strconv.ParseFloat(nonNumeric.ReplaceAllString(text, ""), 64)
	if err != nil {
		return text
	}
	return "$" + groupThousands(n)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func groupThousands(n float64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatFloat(n, 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	frac = strings.TrimRight(frac, "0")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// DetailsHTML escapes plain-text details and turns newlines into <br>.
func DetailsHTML(details string) string {
	text := strings.TrimSpace(details)
	if text == "" {
		return ""
	}
	text = html.EscapeString(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\n", "<br>")
}
