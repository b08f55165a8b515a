// Command fieldtrail runs the research-trail capture service: it attaches to
// the researcher's browser, records the navigation trail of the current
// session, queues captured snippets and video frames, and files ended
// sessions into the remote research database.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fieldtrail/audit"
	"github.com/hazyhaar/fieldtrail/auth"
	"github.com/hazyhaar/fieldtrail/browser"
	"github.com/hazyhaar/fieldtrail/command"
	"github.com/hazyhaar/fieldtrail/config"
	"github.com/hazyhaar/fieldtrail/dbopen"
	"github.com/hazyhaar/fieldtrail/pagetext"
	"github.com/hazyhaar/fieldtrail/remote"
	"github.com/hazyhaar/fieldtrail/server"
	"github.com/hazyhaar/fieldtrail/store"
	"github.com/hazyhaar/fieldtrail/trail"
)

func main() {
	cfgPath := flag.String("config", env("FIELDTRAIL_CONFIG", ""), "path to YAML config")
	mcpStdio := flag.Bool("mcp", false, "also serve MCP tools on stdio")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		var err error
		cfg, err = config.LoadConfig(*cfgPath)
		if err != nil {
			slog.Error("config", "error", err)
			os.Exit(1)
		}
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Local database: machine state, pending uploads, users, audit log.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	stateStore := store.NewStateStore(db)
	if err := stateStore.Init(); err != nil {
		slog.Error("state store init", "error", err)
		os.Exit(1)
	}

	pending := store.NewPendingQueue(db, store.PendingOptions{
		Visibility:   cfg.RetryVisibility(),
		PollInterval: cfg.RetryPoll(),
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Logger:       logger,
	})
	if err := pending.EnsureTable(ctx); err != nil {
		slog.Error("pending queue init", "error", err)
		os.Exit(1)
	}

	users := auth.NewStore(db, logger)
	if err := users.Init(); err != nil {
		slog.Error("auth init", "error", err)
		os.Exit(1)
	}
	if cfg.Seed.Username != "" {
		if err := users.SeedDefault(ctx, cfg.Seed.Username, cfg.Seed.Password); err != nil {
			slog.Error("seed user", "error", err)
			os.Exit(1)
		}
	}

	auditLogger := audit.NewSQLiteLogger(db)
	if err := auditLogger.Init(); err != nil {
		slog.Error("audit init", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()

	// Remote research database.
	remoteClient := remote.NewClient(cfg.Remote.BaseURL, &http.Client{Timeout: cfg.RemoteTimeout()})

	// Session state machine.
	machine := trail.NewMachine(trail.Options{
		Store:  stateStore,
		Remote: remoteClient,
		Retry:  pending,
		Logger: logger,
	})
	if err := machine.Hydrate(ctx); err != nil {
		slog.Warn("hydrate state", "error", err)
	}

	// Background retry of session records that failed to upload.
	go pending.Run(ctx, remoteClient)

	// Browser attachment is best effort: without it the service still accepts
	// commands, it just has no live viewports or video.
	var (
		video   command.VideoProvider
		content command.PageContentProvider
	)
	mgr := browser.NewManager(browser.Config{
		RemoteURL: cfg.Browser.RemoteURL,
		Headless:  cfg.Browser.Headless,
		Logger:    logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		slog.Warn("browser unavailable", "error", err)
	} else {
		defer mgr.Close()
		video = mgr
		content = browser.NewPageReader(mgr, pagetext.New(logger), logger)
		watcher := browser.NewWatcher(mgr, machine, logger)
		go watcher.Run(ctx)
	}

	dispatcher := command.NewDispatcher(command.Options{
		Machine: machine,
		Auth:    users,
		Remote:  remoteClient,
		Video:   video,
		Content: content,
		Audit:   auditLogger,
		Logger:  logger,
	})

	if *mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "fieldtrail", Version: "1.0.0"}, nil)
		dispatcher.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio", "error", err)
			}
		}()
	}

	r := server.NewRouter(server.Options{
		Dispatcher: dispatcher,
		Machine:    machine,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
