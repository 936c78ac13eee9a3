package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/server"
)

// Options defines all CLI flags and env vars for the lots server.
// Flags: --host, --port, --data-dir, --lots-file, --lots-url, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_LOTS_FILE, ...
type Options struct {
	Host            string        `doc:"Host to bind to" default:"0.0.0.0"`
	Port            int           `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir         string        `doc:"Directory for the change store and lots cache" default:".data"`
	LotsFile        string        `doc:"JSON (or JWCC) file with the lot records"`
	LotsURL         string        `doc:"CMS collection page to scrape lots from (follows pagination)"`
	MapFile         string        `doc:"Site plan SVG or GeoJSON file"`
	MapData         string        `doc:"Map data JSON (svgUrl, viewBox, webhookUrl, lotTypes)"`
	WebhookURL      string        `doc:"Assignment webhook endpoint (default: the built-in sink)"`
	WebhookOpaque   bool          `doc:"Count only transport errors as webhook failures"`
	PageURL         string        `doc:"Map tool page URL sent with every webhook"`
	HoldWindow      time.Duration `doc:"How long a saved assignment survives stale refreshes" default:"15s"`
	RefreshDelay    time.Duration `doc:"Debounce before re-fetching lots after a save" default:"3s"`
	RefreshInterval time.Duration `doc:"Periodic lot re-fetch interval (0 disables)" default:"0s"`
	LogLevel        string        `doc:"Log level (debug, info, warn, error)" default:"info"`
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func serverConfig(opts *Options, logger *zap.Logger) server.Config {
	return server.Config{
		Host:            opts.Host,
		Port:            fmt.Sprintf("%d", opts.Port),
		DataDir:         opts.DataDir,
		LotsFile:        opts.LotsFile,
		LotsURL:         opts.LotsURL,
		MapFile:         opts.MapFile,
		MapData:         opts.MapData,
		WebhookURL:      opts.WebhookURL,
		WebhookOpaque:   opts.WebhookOpaque,
		PageURL:         opts.PageURL,
		HoldWindow:      opts.HoldWindow,
		RefreshDelay:    opts.RefreshDelay,
		RefreshInterval: opts.RefreshInterval,
		PopupIdle:       30 * time.Minute,
		Logger:          logger,
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			srv     *server.Server
			httpSrv *http.Server
			logger  *zap.Logger
		)

		hooks.OnStart(func() {
			var err error
			if logger, err = newLogger(opts.LogLevel); err != nil {
				fatal("Invalid log level: %v", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := serverConfig(opts, logger)
			if srv, err = server.New(ctx, cfg); err != nil {
				logger.Fatal("startup failed", zap.Error(err))
			}
			defer srv.Close()

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			baseURL := cfg.BaseURL()

			fmt.Println()
			fmt.Printf("plat-lots API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Editor:  %s/api/v1/editor/events\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutdownCtx)
			}()

			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server error", zap.Error(err))
			}
			logger.Info("server stopped")
		})

		hooks.OnStop(func() {
			if httpSrv != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				httpSrv.Shutdown(ctx)
			}
		})
	})

	cli.Root().Use = "lots"
	cli.Root().Short = "Site plan lot map and assignment editor"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := serverConfig(opts, zap.NewNop())
			cfg.Offline = true
			srv, err := server.New(cmd.Context(), cfg)
			if err != nil {
				fatal("Error building server: %v", err)
			}
			defer srv.Close()

			useYAML, _ := cmd.Flags().GetBool("yaml")
			output, err := marshal(srv.OpenAPI(), useYAML)
			if err != nil {
				fatal("Error marshaling spec: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// lots subcommand: fetch and print the normalised lot records
	lotsCmd := &cobra.Command{
		Use:   "lots",
		Short: "Fetch the lot records and print them normalised",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger, err := newLogger(opts.LogLevel)
			if err != nil {
				fatal("Invalid log level: %v", err)
			}
			defer logger.Sync()

			var sources []lot.Source
			if opts.LotsFile != "" {
				sources = append(sources, &lot.FileSource{Path: opts.LotsFile})
			}
			if opts.LotsURL != "" {
				sources = append(sources, lot.NewPageSource(opts.LotsURL, logger))
			}
			lots, err := lot.NewRepository("", logger, sources...).Lots(cmd.Context())
			if err != nil {
				fatal("Error fetching lots: %v", err)
			}

			useYAML, _ := cmd.Flags().GetBool("yaml")
			output, err := marshal(lots, useYAML)
			if err != nil {
				fatal("Error marshaling lots: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	lotsCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(lotsCmd)

	cli.Run()
}

func marshal(v any, useYAML bool) ([]byte, error) {
	if useYAML {
		return yaml.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
