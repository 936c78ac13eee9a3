// Package server wires the lot map service: lot repository, shape layer,
// assignment editor, change store and the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-lots/internal/api"
	"github.com/joeblew999/plat-lots/internal/api/editor"
	"github.com/joeblew999/plat-lots/internal/humastar"
	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/service"
	"github.com/joeblew999/plat-lots/internal/shape"
	"github.com/joeblew999/plat-lots/internal/store"
	"github.com/joeblew999/plat-lots/internal/webhook"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string

	// LotsFile and LotsURL are the lot sources; both may be set.
	LotsFile string
	LotsURL  string
	// MapFile is a local SVG or GeoJSON plan. Without it the plan is fetched
	// from the map data's svgUrl, or built from lot boundaries.
	MapFile string
	MapData string

	WebhookURL    string
	WebhookOpaque bool
	PageURL       string

	HoldWindow      time.Duration
	RefreshDelay    time.Duration
	RefreshInterval time.Duration
	PopupIdle       time.Duration

	// Offline skips the DuckDB store.
	Offline bool
	Logger  *zap.Logger
}

// BaseURL is the address the server advertises for itself.
func (c Config) BaseURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%s", host, c.Port)
}

// Server is the lots HTTP server.
type Server struct {
	config  Config
	log     *zap.Logger
	mux     *http.ServeMux
	humaAPI huma.API
	links   *humastar.Links
	store   *store.Store
	editor  *service.Editor
}

// New loads the lots and the shape layer concurrently, opens the store and
// registers every route.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	log := cfg.Logger

	repo := newRepository(cfg, log)

	var (
		lots  []lot.Lot
		md    service.MapData
		layer *shape.Layer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lots, err = repo.Lots(gctx)
		if errors.Is(err, lot.ErrNoLots) {
			log.Warn("starting without lots", zap.Error(err))
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		if md, err = service.LoadMapData(cfg.MapData); err != nil {
			return err
		}
		layer, err = loadLayer(gctx, cfg.MapFile, md, log)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if layer == nil {
		layer = shape.FromLots(lots)
	}
	log.Info("loaded site plan",
		zap.Int("lots", len(lots)),
		zap.Int("shapes", layer.Len()),
		zap.String("kind", string(layer.Kind)))

	s := &Server{
		config: cfg,
		log:    log,
		mux:    http.NewServeMux(),
	}

	if !cfg.Offline {
		st, err := store.Open(ctx, store.Config{DataDir: cfg.DataDir, DBName: "lots"})
		if err != nil {
			log.Warn("change store unavailable", zap.Error(err))
		} else {
			s.store = st
		}
	}

	pageURL := firstNonEmpty(cfg.PageURL, md.PageURL, cfg.LotsURL)
	edCfg := service.EditorConfig{
		Fetcher:         repo,
		Submitter:       webhook.NewSubmitter(cfg.WebhookOpaque, log),
		Layer:           layer,
		LotTypes:        md.LotTypes,
		WebhookURL:      webhook.ResolveURL(md.WebhookURL, cfg.WebhookURL, cfg.BaseURL()),
		PageURL:         pageURL,
		HoldWindow:      cfg.HoldWindow,
		RefreshDelay:    cfg.RefreshDelay,
		RefreshInterval: cfg.RefreshInterval,
		PopupIdle:       cfg.PopupIdle,
		Logger:          log,
	}
	if s.store != nil {
		edCfg.Changes = s.store
	}
	s.editor = service.NewEditor(edCfg, lots)
	log.Info("webhook target", zap.String("url", s.editor.WebhookURL()))

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-lots API", "1.0.0")
	humaConfig.Info.Description = "Site plan lots: shape assignments, legend, and the assignment editor."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL(), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers,
		func(ctx huma.Context, status string, v any) (any, error) {
			return s.links.Transformer()(ctx, status, v)
		})
	s.humaAPI = humago.New(s.mux, humaConfig)

	if err := s.routes(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Editor returns the assignment editor.
func (s *Server) Editor() *service.Editor {
	return s.editor
}

// Close stops the reconciler and closes the store.
func (s *Server) Close() error {
	s.editor.Close()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Server) routes() error {
	svc := &api.Services{Editor: s.editor, Store: s.store}

	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(svc))
	api.NewInfoHandler(s.config.DataDir, s.editor, s.store != nil).RegisterRoutes(s.humaAPI)
	api.NewHistoryHandler(svc, s.log).RegisterRoutes(s.humaAPI)

	// Register Editor SSE routes using Huma + Datastar SDK
	renderer, err := editor.NewRenderer()
	if err != nil {
		return fmt.Errorf("parsing editor templates: %w", err)
	}
	editor.NewPopupHandler(s.editor, renderer, s.log).RegisterRoutes(s.humaAPI)
	editor.NewEventHandler(s.editor, renderer, s.log).RegisterRoutes(s.humaAPI)

	s.links = humastar.AutoLinks(s.humaAPI)

	s.mux.HandleFunc("/", s.handleRoot)
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.Root() {
		w.Header().Add("Link", link)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-lots",
		"status":  "running",
	})
}

func newRepository(cfg Config, log *zap.Logger) *lot.Repository {
	var sources []lot.Source
	if cfg.LotsFile != "" {
		sources = append(sources, &lot.FileSource{Path: cfg.LotsFile})
	}
	if cfg.LotsURL != "" {
		sources = append(sources, lot.NewPageSource(cfg.LotsURL, log))
	}
	var cache string
	if cfg.DataDir != "" {
		cache = filepath.Join(cfg.DataDir, "cache", "lots.json")
	}
	return lot.NewRepository(cache, log, sources...)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
