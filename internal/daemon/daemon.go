package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/focusquest/focusquest/internal/api"
	"github.com/focusquest/focusquest/internal/app/engagement"
	"github.com/focusquest/focusquest/internal/app/notify"
	"github.com/focusquest/focusquest/internal/app/reward"
	"github.com/focusquest/focusquest/internal/domain"
	"github.com/focusquest/focusquest/internal/health"
	"github.com/focusquest/focusquest/internal/infra/sqlite"
)

// Daemon is the FocusQuest runtime. It wires together all services.
type Daemon struct {
	Config     Config
	DB         *sqlite.DB
	Catalog    *engagement.Catalog
	Dispatcher *notify.Dispatcher
	Inbox      *notify.Inbox
	Feed       *api.FeedHub // nil when the feed is disabled
	Engine     *reward.Engine
	Health     *health.Checker
	Server     *api.Server

	ticks   chan domain.Tick
	logFile io.Closer
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	// Logging first: services capture the default logger on construction.
	logFile, err := setupLogging(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		closeQuietly(logFile)
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	dataDir := cfg.Storage.Dir
	if dataDir == "" {
		dataDir = focusQuestHome()
	}
	db, err := sqlite.Open(dataDir)
	if err != nil {
		closeQuietly(logFile)
		return nil, fmt.Errorf("open database: %w", err)
	}

	opts := cfg.EngineOptions()

	// Notifications: one dispatcher fans out to the inbox and the live feed
	dispatcher := notify.NewDispatcher(0)
	inbox := notify.NewInbox(db, cfg.Notifications, opts.StoreTimeout)
	dispatcher.Subscribe(inbox)

	var feed *api.FeedHub
	if cfg.API.Feed {
		feed = api.NewFeedHub()
		dispatcher.Subscribe(feed)
	}

	engine, err := reward.New(db, catalog, dispatcher, opts)
	if err != nil {
		db.Close()
		closeQuietly(logFile)
		return nil, fmt.Errorf("reward engine: %w", err)
	}

	checker := health.NewChecker(health.Deps{
		Store:   db,
		Pending: engine.Pending,
		Flush: func(ctx context.Context) int {
			return engine.Flush(ctx).Pending
		},
		Backlog:    dispatcher.Backlog,
		DataDir:    dataDir,
		MaxPending: cfg.Health.MaxPendingWrites,
	}, parseDuration(cfg.Health.Interval, time.Minute))

	srv := api.NewServer(engine, inbox)
	srv.SetHealth(checker)
	if feed != nil {
		srv.SetFeed(feed)
	}

	// Enable Prometheus /metrics if configured
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	slog.Info("daemon initialized",
		"data_dir", dataDir,
		"missions", len(catalog.Missions),
		"achievements", len(catalog.Achievements),
		"offers", len(catalog.Offers))

	return &Daemon{
		Config:     cfg,
		DB:         db,
		Catalog:    catalog,
		Dispatcher: dispatcher,
		Inbox:      inbox,
		Feed:       feed,
		Engine:     engine,
		Health:     checker,
		Server:     srv,
		ticks:      make(chan domain.Tick, 256),
		logFile:    logFile,
	}, nil
}

// Ticks returns the in-process tick intake consumed by Serve and Run.
func (d *Daemon) Ticks() chan<- domain.Tick { return d.ticks }

// Serve starts the HTTP server and background services, and blocks until
// ctx is cancelled or a component fails.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	d.startBackground(g, gctx)

	g.Go(func() error {
		slog.Info("serving", "addr", "http://"+addr, "metrics", d.Config.Telemetry.Prometheus, "feed", d.Feed != nil)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if d.Feed != nil {
			d.Feed.Close()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	d.Engine.Shutdown()
	slog.Info("daemon stopped", "pending_writes", d.Engine.Pending())
	return err
}

// Run processes ticks without the HTTP server until ticks is closed or ctx
// is cancelled. It is the headless mode used by simulations.
func (d *Daemon) Run(ctx context.Context, ticks <-chan domain.Tick) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Dispatcher.Run(gctx)
	})
	g.Go(func() error {
		defer cancel() // stops the dispatcher once the ticks are consumed
		return d.Engine.Run(gctx, ticks)
	})

	err := g.Wait()
	d.Engine.Shutdown()
	return err
}

// startBackground launches the dispatcher, the tick consumer, and the
// health checker on g.
func (d *Daemon) startBackground(g *errgroup.Group, ctx context.Context) {
	g.Go(func() error {
		return d.Dispatcher.Run(ctx)
	})
	g.Go(func() error {
		return d.Engine.Run(ctx, d.ticks)
	})
	g.Go(func() error {
		d.Health.Run(ctx)
		return nil
	})
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Engine != nil {
		d.Engine.Shutdown()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	closeQuietly(d.logFile)
}

func loadCatalog(cfg CatalogConfig) (*engagement.Catalog, error) {
	if cfg.Path == "" {
		return engagement.DefaultCatalog()
	}
	return engagement.LoadCatalog(cfg.Path)
}

// setupLogging installs the default slog logger. Returns the log file to
// close, if any.
func setupLogging(cfg LoggingConfig) (io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
	return closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
