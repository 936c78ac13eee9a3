package service

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/shape"
)

// MapData is the per-map page configuration: where the site plan lives, its
// size, and the per-page webhook override.
type MapData struct {
	SVGURL     string          `json:"svgUrl,omitempty" doc:"Site plan SVG URL" example:"https://cdn.example.com/plan.svg"`
	ViewBox    string          `json:"viewBox,omitempty" doc:"viewBox override" example:"0 0 1200 900"`
	Width      float64         `json:"width,omitempty" doc:"Plan width used when the SVG declares no viewBox"`
	Height     float64         `json:"height,omitempty" doc:"Plan height used when the SVG declares no viewBox"`
	WebhookURL string          `json:"webhookUrl,omitempty" doc:"Per-map webhook endpoint override"`
	PageURL    string          `json:"pageUrl,omitempty" doc:"Public URL of the map tool page, sent with every webhook"`
	LotTypes   []lot.TypeEntry `json:"lotTypes,omitempty" doc:"Explicit legend lot types"`
}

// SVGOptions returns the size overrides for shape.ParseSVG.
func (m MapData) SVGOptions() shape.SVGOptions {
	return shape.SVGOptions{ViewBox: m.ViewBox, Width: m.Width, Height: m.Height}
}

// LoadMapData reads a map data file. Comments and trailing commas are
// allowed. A missing path yields empty map data.
func LoadMapData(path string) (MapData, error) {
	if path == "" {
		return MapData{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return MapData{}, fmt.Errorf("reading map data: %w", err)
	}
	return ParseMapData(data)
}

// ParseMapData decodes map data. The svg_image/svgImage aliases and string
// lengths such as "1200px" are accepted.
func ParseMapData(data []byte) (MapData, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return MapData{}, fmt.Errorf("parsing map data: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(std, &raw); err != nil {
		return MapData{}, fmt.Errorf("decoding map data: %w", err)
	}

	var m MapData
	m.SVGURL = rawString(raw, "svgUrl", "svg_image", "svgImage")
	m.ViewBox = rawString(raw, "viewBox")
	m.Width = shape.ParseLength(rawString(raw, "width"))
	m.Height = shape.ParseLength(rawString(raw, "height"))
	m.WebhookURL = rawString(raw, "webhookUrl", "webhook_url")
	m.PageURL = rawString(raw, "pageUrl", "page_url")
	if types, ok := raw["lotTypes"]; ok {
		if err := json.Unmarshal(types, &m.LotTypes); err != nil {
			return MapData{}, fmt.Errorf("decoding lotTypes: %w", err)
		}
	}
	return m, nil
}

// rawString returns the first key holding a string or number.
func rawString(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var f float64
		if json.Unmarshal(v, &f) == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return ""
}
