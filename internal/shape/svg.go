package shape

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/net/html"
)

// LotClass marks the SVG elements that are lot shapes.
const LotClass = "lot"

// ErrNoSVG is returned when a document has no <svg> element.
var ErrNoSVG = errors.New("no <svg> element found")

var (
	numberRe    = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)
	transformRe = regexp.MustCompile(`(matrix|translate|scale)\s*\(([^)]*)\)`)
	pathTokenRe = regexp.MustCompile(`[MmLlHhVvCcSsQqTtAaZz]|[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)
)

// SVGOptions overrides what the SVG document declares about its size.
type SVGOptions struct {
	ViewBox string
	Width   float64
	Height  float64
}

// ParseSVG reads an SVG site plan and indexes every element with class "lot"
// and an id.
//
// The viewBox comes from opts, then the document, then its width/height, and
// finally falls back to 1000×1000.
func ParseSVG(r io.Reader, opts SVGOptions) (*Layer, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing svg: %w", err)
	}

	root := findElement(doc, "svg")
	if root == nil {
		return nil, ErrNoSVG
	}

	vb, ok := ParseViewBox(opts.ViewBox)
	if !ok {
		vb, ok = ParseViewBox(attrFold(root, "viewBox"))
	}
	if !ok {
		w := firstPositive(ParseLength(attrFold(root, "width")), opts.Width)
		h := firstPositive(ParseLength(attrFold(root, "height")), opts.Height)
		if w > 0 && h > 0 {
			vb, ok = ViewBox{Width: w, Height: h}, true
		}
	}
	if !ok {
		vb = ViewBox{Width: 1000, Height: 1000}
	}

	var shapes []Shape
	var visit func(n *html.Node, m affine)
	visit = func(n *html.Node, m affine) {
		if n.Type != html.ElementNode {
			return
		}
		m = m.mul(parseTransform(attrFold(n, "transform")))
		if id := attrFold(n, "id"); id != "" && hasClassFold(n, LotClass) {
			if b, ok := elementBound(n, m); ok {
				shapes = append(shapes, Shape{ID: id, Bound: b})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c, m)
		}
	}
	visit(root, identity)

	return NewLayer(KindSVG, vb, shapes), nil
}

// ParseViewBox parses "minX minY width height".
func ParseViewBox(s string) (ViewBox, bool) {
	parts := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(parts) != 4 {
		return ViewBox{}, false
	}
	var n [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return ViewBox{}, false
		}
		n[i] = f
	}
	return ViewBox{MinX: n[0], MinY: n[1], Width: n[2], Height: n[3]}, true
}

// ParseLength reads the number out of a length such as "1200px". It returns
// 0 when there is none.
func ParseLength(s string) float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(m, 64)
	return f
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// elementBound is the bounding box of n (and its children, for groups) after
// applying m.
func elementBound(n *html.Node, m affine) (orb.Bound, bool) {
	var pts []orb.Point
	num := func(key string) float64 { return ParseLength(attrFold(n, key)) }

	switch strings.ToLower(n.Data) {
	case "rect", "image", "use":
		x, y, w, h := num("x"), num("y"), num("width"), num("height")
		pts = []orb.Point{{x, y}, {x + w, y}, {x, y + h}, {x + w, y + h}}
	case "circle":
		cx, cy, r := num("cx"), num("cy"), num("r")
		pts = []orb.Point{{cx - r, cy - r}, {cx + r, cy + r}, {cx - r, cy + r}, {cx + r, cy - r}}
	case "ellipse":
		cx, cy, rx, ry := num("cx"), num("cy"), num("rx"), num("ry")
		pts = []orb.Point{{cx - rx, cy - ry}, {cx + rx, cy + ry}, {cx - rx, cy + ry}, {cx + rx, cy - ry}}
	case "line":
		pts = []orb.Point{{num("x1"), num("y1")}, {num("x2"), num("y2")}}
	case "polygon", "polyline":
		pts = pointPairs(attrFold(n, "points"))
	case "path":
		pts = pathPoints(attrFold(n, "d"))
	default:
		var b orb.Bound
		found := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			cb, ok := elementBound(c, m.mul(parseTransform(attrFold(c, "transform"))))
			if !ok {
				continue
			}
			if !found {
				b, found = cb, true
			} else {
				b = b.Union(cb)
			}
		}
		return b, found
	}

	if len(pts) == 0 {
		return orb.Bound{}, false
	}
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = m.apply(p)
	}
	return mp.Bound(), true
}

func pointPairs(s string) []orb.Point {
	nums := numberRe.FindAllString(s, -1)
	pts := make([]orb.Point, 0, len(nums)/2)
	for i := 0; i+1 < len(nums); i += 2 {
		x, _ := strconv.ParseFloat(nums[i], 64)
		y, _ := strconv.ParseFloat(nums[i+1], 64)
		pts = append(pts, orb.Point{x, y})
	}
	return pts
}

// pathPoints walks path data and returns every end and control point in
// absolute coordinates. Control points over-approximate curves, which is fine
// for anchoring a popup.
func pathPoints(d string) []orb.Point {
	tokens := pathTokenRe.FindAllString(d, -1)
	var (
		pts        []orb.Point
		cur, start orb.Point
		cmd        byte
	)

	arity := map[byte]int{'M': 2, 'L': 2, 'T': 2, 'H': 1, 'V': 1, 'C': 6, 'S': 4, 'Q': 4, 'A': 7, 'Z': 0}

	for i := 0; i < len(tokens); {
		tok := tokens[i]
		if c := tok[0]; len(tok) == 1 && strings.ContainsRune("MmLlHhVvCcSsQqTtAaZz", rune(c)) {
			cmd = c
			i++
			if cmd == 'Z' || cmd == 'z' {
				cur = start
			}
			continue
		}
		if cmd == 0 {
			return pts
		}

		upper := cmd &^ 0x20
		rel := cmd != upper
		n := arity[upper]
		if n == 0 || i+n > len(tokens) {
			break
		}
		args := make([]float64, n)
		for j := range args {
			args[j], _ = strconv.ParseFloat(tokens[i+j], 64)
		}
		i += n

		origin := orb.Point{0, 0}
		if rel {
			origin = cur
		}
		at := func(x, y float64) orb.Point { return orb.Point{origin[0] + x, origin[1] + y} }

		switch upper {
		case 'M':
			cur = at(args[0], args[1])
			start = cur
			pts = append(pts, cur)
			// Implicit lineto for further pairs.
			if rel {
				cmd = 'l'
			} else {
				cmd = 'L'
			}
		case 'L', 'T':
			cur = at(args[0], args[1])
			pts = append(pts, cur)
		case 'H':
			if rel {
				cur = orb.Point{cur[0] + args[0], cur[1]}
			} else {
				cur = orb.Point{args[0], cur[1]}
			}
			pts = append(pts, cur)
		case 'V':
			if rel {
				cur = orb.Point{cur[0], cur[1] + args[0]}
			} else {
				cur = orb.Point{cur[0], args[0]}
			}
			pts = append(pts, cur)
		case 'C':
			pts = append(pts, at(args[0], args[1]), at(args[2], args[3]))
			cur = at(args[4], args[5])
			pts = append(pts, cur)
		case 'S', 'Q':
			pts = append(pts, at(args[0], args[1]))
			cur = at(args[2], args[3])
			pts = append(pts, cur)
		case 'A':
			cur = at(args[5], args[6])
			pts = append(pts, cur)
		}
	}
	return pts
}

// affine is the SVG matrix(a b c d e f).
type affine [6]float64

var identity = affine{1, 0, 0, 1, 0, 0}

func (m affine) mul(o affine) affine {
	return affine{
		m[0]*o[0] + m[2]*o[1],
		m[1]*o[0] + m[3]*o[1],
		m[0]*o[2] + m[2]*o[3],
		m[1]*o[2] + m[3]*o[3],
		m[0]*o[4] + m[2]*o[5] + m[4],
		m[1]*o[4] + m[3]*o[5] + m[5],
	}
}

func (m affine) apply(p orb.Point) orb.Point {
	return orb.Point{m[0]*p[0] + m[2]*p[1] + m[4], m[1]*p[0] + m[3]*p[1] + m[5]}
}

// parseTransform understands matrix, translate and scale. Rotations are
// ignored.
func parseTransform(s string) affine {
	m := identity
	for _, match := range transformRe.FindAllStringSubmatch(s, -1) {
		var args []float64
		for _, n := range numberRe.FindAllString(match[2], -1) {
			f, _ := strconv.ParseFloat(n, 64)
			args = append(args, f)
		}
		var t affine
		switch match[1] {
		case "matrix":
			if len(args) != 6 {
				continue
			}
			copy(t[:], args)
		case "translate":
			if len(args) == 0 {
				continue
			}
			t = affine{1, 0, 0, 1, args[0], 0}
			if len(args) > 1 {
				t[5] = args[1]
			}
		case "scale":
			if len(args) == 0 {
				continue
			}
			t = affine{args[0], 0, 0, args[0], 0, 0}
			if len(args) > 1 {
				t[3] = args[1]
			}
		}
		m = m.mul(t)
	}
	return m
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attrFold(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasClassFold(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrFold(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
