package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-lots/internal/service"
	"github.com/joeblew999/plat-lots/internal/shape"
)

// maxPlanBytes bounds a downloaded site plan.
const maxPlanBytes = 32 << 20

// loadLayer reads the plan from path, else downloads md.SVGURL. It returns a
// nil layer when neither is configured.
func loadLayer(ctx context.Context, path string, md service.MapData, log *zap.Logger) (*shape.Layer, error) {
	var (
		data []byte
		name string
		err  error
	)
	switch {
	case path != "":
		name = path
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading plan: %w", err)
		}
	case md.SVGURL != "":
		name = md.SVGURL
		data, err = download(ctx, md.SVGURL)
		if err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	layer, err := parseLayer(name, data, md.SVGOptions())
	if err != nil {
		return nil, err
	}
	log.Debug("parsed plan", zap.String("source", name), zap.Int("shapes", layer.Len()))
	return layer, nil
}

// parseLayer picks GeoJSON or SVG by extension, then by content.
func parseLayer(name string, data []byte, opts shape.SVGOptions) (*shape.Layer, error) {
	ext := strings.ToLower(filepath.Ext(strings.SplitN(name, "?", 2)[0]))
	trimmed := bytes.TrimSpace(data)
	if ext == ".geojson" || ext == ".json" || bytes.HasPrefix(trimmed, []byte("{")) {
		return shape.ParseGeoJSON(data)
	}
	return shape.ParseSVG(bytes.NewReader(data), opts)
}

func download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building plan request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching plan: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching plan: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPlanBytes))
}
