// Package bootstrap wires all dependencies and starts the application:
// configuration, logging, the workspace store, the build orchestrator and
// the HTTP server carrying the host channel.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/previewkit/kiln/adapters/clock"
	"github.com/previewkit/kiln/adapters/esbuild"
	"github.com/previewkit/kiln/adapters/idgen"
	"github.com/previewkit/kiln/adapters/memory"
	"github.com/previewkit/kiln/adapters/metrics"
	"github.com/previewkit/kiln/adapters/sqlite"
	"github.com/previewkit/kiln/app"
	"github.com/previewkit/kiln/config"
	"github.com/previewkit/kiln/ports"
	"github.com/previewkit/kiln/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Holder     *config.Holder // nil when configuration came from the environment
	DB         *sqlite.DB     // nil with the memory driver
	Store      ports.WorkspaceStore
	Builds     *app.BuildService
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	hotReload    bool
	stopObserver func()
}

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath names the YAML configuration file. When empty or absent,
	// configuration comes entirely from KILN_* environment variables and
	// hot reload is unavailable.
	ConfigPath string

	// HotReload watches the config file and SIGHUP for live reloads while
	// the application runs.
	HotReload bool

	// Version is reported by /version and the version command.
	Version string
}

// New creates and initializes the application from the environment.
func New() (*App, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates and initializes the application.
func NewWithOptions(opts Options) (*App, error) {
	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing kiln")

	a := &App{
		Logger:    logger,
		Config:    cfg,
		hotReload: opts.HotReload,
	}

	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			holder, err := config.NewHolder(opts.ConfigPath, logger)
			if err != nil {
				return nil, fmt.Errorf("config holder: %w", err)
			}
			a.Holder = holder
		}
	}

	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("init workspace store: %w", err)
	}

	engine := esbuild.New(logger)
	a.Builds = app.NewBuildService(a.Store, engine, clock.Real{}, idgen.UUID{}, logger, buildConfig(cfg))

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		a.stopObserver = metrics.Observe(a.Builds, a.Metrics)
		logger.Info().Str("path", cfg.Metrics.Path).Msg("prometheus metrics enabled")
	}

	if a.Holder != nil {
		a.Holder.OnChange(a.applyConfig)
		if a.Metrics != nil {
			a.Holder.OnChange(func(*config.Config) {
				a.Metrics.ConfigReloads.Inc()
				a.Metrics.ConfigLastReload.SetToCurrentTime()
			})
			a.Holder.OnReloadError(func(error) {
				a.Metrics.ConfigReloadErrors.Inc()
			})
		}
	}

	if err := a.initHTTPServer(opts.Version); err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return a, nil
}

func (a *App) initStore() error {
	switch a.Config.Storage.Driver {
	case "memory":
		a.Store = memory.NewFileStore()
		a.Logger.Info().Msg("ephemeral in-memory workspace")
	default:
		db, err := sqlite.Open(a.Config.Storage.DSN)
		if err != nil {
			return err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.DB = db
		a.Store = sqlite.NewFileStore(db)
		a.Logger.Info().Str("dsn", a.Config.Storage.DSN).Msg("workspace database initialized")
	}
	return nil
}

func (a *App) initHTTPServer(version string) error {
	handler, err := web.NewHandler(web.Deps{
		Builds:      a.Builds,
		Store:       a.Store,
		Metrics:     a.Metrics,
		MetricsPath: a.Config.Metrics.Path,
		Version:     version,
		Logger:      a.Logger,
	})
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
	return nil
}

// applyConfig applies the reloadable subset of a changed configuration.
// Server address, storage driver and metrics wiring require a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.Builds.UpdateConfig(buildConfig(cfg))
	a.Logger.Info().Msg("configuration applied")
}

// buildConfig maps the build section onto the orchestrator's configuration.
func buildConfig(cfg *config.Config) app.BuildConfig {
	return app.BuildConfig{
		VirtualRoot:   cfg.Build.VirtualPackageRoot,
		LibraryRoot:   cfg.Build.LibraryRoot,
		ExternalURLs:  cfg.Build.Externals,
		PreserveHosts: cfg.Build.PreserveHosts,
		DefaultTarget: cfg.Build.Target,
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	if a.Holder != nil && a.hotReload {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.Holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.Holder != nil {
		a.Holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Builds != nil {
		a.Builds.Stop()
	}
	if a.stopObserver != nil {
		a.stopObserver()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
