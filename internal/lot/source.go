package lot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Source is implemented by each place lot records can come from.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Lot, error)
}

// FileSource reads a JSON array of lot objects from disk. Comments and
// trailing commas are accepted.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string { return "file:" + s.Path }

func (s *FileSource) Fetch(ctx context.Context) ([]Lot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading lots file: %w", err)
	}
	return DecodeArray(data)
}

// DecodeArray parses a JSON (or JWCC) array of raw lot objects.
func DecodeArray(data []byte) ([]Lot, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parsing lots json: %w", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(std, &raw); err != nil {
		return nil, fmt.Errorf("parsing lots json: %w", err)
	}
	lots := make([]Lot, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		lots = append(lots, Normalize(r))
	}
	return lots, nil
}

// PageSource scrapes lots from a CMS collection page.
//
// A "lots-data" JSON script short-circuits everything. Otherwise every
// ".lot-json" node is read and the pagination "next" link is followed until it
// disappears, repeats a page, or MaxPages is reached. A failed page after the
// first keeps what was already collected.
type PageSource struct {
	URL      string
	Client   *http.Client
	MaxPages int
	Logger   *zap.Logger
}

// NewPageSource creates a page source with the defaults used by the server.
func NewPageSource(pageURL string, logger *zap.Logger) *PageSource {
	return &PageSource{
		URL:      pageURL,
		Client:   &http.Client{Timeout: 15 * time.Second},
		MaxPages: 200,
		Logger:   logger,
	}
}

func (s *PageSource) Name() string { return "page:" + s.URL }

func (s *PageSource) Fetch(ctx context.Context) ([]Lot, error) {
	log := s.logger()
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 200
	}

	doc, base, err := s.fetchPage(ctx, s.URL)
	if err != nil {
		return nil, err
	}

	if script := findByID(doc, "lots-data"); script != nil {
		lots, err := DecodeArray([]byte(textContent(script)))
		if err == nil {
			return lots, nil
		}
		log.Warn("ignoring malformed lots-data script", zap.Error(err))
	}

	lots := s.lotsFromDoc(doc)
	seen := map[string]struct{}{pageKey(base.String()): {}}
	next := nextPageURL(doc, base)

	for pages := 1; next != "" && pages < maxPages; pages++ {
		key := pageKey(next)
		if _, ok := seen[key]; ok {
			break
		}
		seen[key] = struct{}{}

		doc, base, err = s.fetchPage(ctx, next)
		if err != nil {
			log.Warn("pagination fetch failed, keeping partial lots",
				zap.String("url", next), zap.Int("lots", len(lots)), zap.Error(err))
			break
		}
		lots = append(lots, s.lotsFromDoc(doc)...)
		next = nextPageURL(doc, base)
	}

	return lots, nil
}

func (s *PageSource) lotsFromDoc(doc *html.Node) []Lot {
	var lots []Lot
	for _, n := range findAllByClass(doc, "lot-json") {
		raw := strings.TrimSpace(embeddedJSON(n))
		if raw == "" {
			continue
		}
		l, err := NormalizeJSON(raw)
		if err != nil {
			s.logger().Warn("invalid lot json", zap.String("raw", raw), zap.Error(err))
			continue
		}
		lots = append(lots, l)
	}
	return lots
}

func (s *PageSource) fetchPage(ctx context.Context, pageURL string) (*html.Node, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid page url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, pageURL)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}
	return doc, base, nil
}

func (s *PageSource) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
