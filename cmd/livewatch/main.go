package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tansel/livewatch/client"
	"github.com/tansel/livewatch/config"
	"github.com/tansel/livewatch/mcp"
	"github.com/tansel/livewatch/store"
	"github.com/tansel/livewatch/web"
)

func main() {
	configPath := pflag.StringP("config", "c", "livewatch.toml", "path to the TOML config file")
	address := pflag.StringP("address", "a", "", "device endpoint: host:port, a ws:// URL, or empty to discover via mDNS")
	webListen := pflag.String("web", "", "HTTP listen address for the JSON API and event stream")
	historyDB := pflag.String("history-db", "", "SQLite file for persistent field history")
	runMCP := pflag.Bool("mcp", false, "serve MCP tools over stdio")
	strict := pflag.Bool("strict", true, "reject updates for paths that are neither subscribed nor recently requested")
	logLevel := pflag.String("log-level", "", "log level: debug, info, warn, error")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}

	// flags override file settings
	if *address != "" {
		cfg.Address = *address
	}
	if *webListen != "" {
		cfg.WebListen = *webListen
	}
	if *historyDB != "" {
		cfg.HistoryDB = *historyDB
	}
	if pflag.CommandLine.Changed("strict") {
		cfg.Strict = *strict
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	setupLogging(cfg.LogLevel)

	link, err := dial(cfg.Address)
	if err != nil {
		slog.Error("Failed to reach device", "err", err)
		os.Exit(1)
	}

	engine := client.New(link, client.Options{})
	engine.SetStrict(cfg.Strict)

	var history *store.Store
	if cfg.HistoryDB != "" {
		history, err = store.Open(cfg.HistoryDB)
		if err != nil {
			slog.Error("Failed to open history store", "path", cfg.HistoryDB, "err", err)
			os.Exit(1)
		}
		defer history.Close()
	}

	webServer := web.NewServer(engine)
	engine.OnEvent(func(ev client.Event) {
		webServer.Broadcast(ev)
		if history != nil {
			recordHistory(engine, history, ev)
		}
	})

	engine.Start()
	engine.RestoreSubscriptions(cfg.Subscriptions)

	var httpServer *http.Server
	if cfg.WebListen != "" {
		httpServer = &http.Server{Addr: cfg.WebListen, Handler: webServer.Routes()}
		go func() {
			slog.Info("Web collaborator listening", "addr", cfg.WebListen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Web server failed", "err", err)
			}
		}()
	}

	if *runMCP {
		mcpServer := mcp.NewMCPServer()
		mcp.NewTools(engine, mcpServer).Register()
		go func() {
			if err := mcpServer.Run(); err != nil {
				slog.Error("MCP server failed", "err", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	slog.Info("Shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	engine.Stop()

	// persist the current subscription list for the next run
	cfg.Subscriptions = engine.Subscriptions()
	if err := config.Save(*configPath, cfg); err != nil {
		slog.Warn("Failed to persist config", "path", *configPath, "err", err)
	}
}

// dial resolves the configured address into an opened link: ws:// and wss://
// go over WebSocket, an empty address triggers mDNS discovery, anything else
// is dialed as TCP.
func dial(address string) (client.Link, error) {
	switch {
	case address == "":
		slog.Info("No address configured, discovering via mDNS")
		endpoint, err := client.DiscoverEndpoint(5 * time.Second)
		if err != nil {
			return nil, err
		}
		slog.Info("Discovered device endpoint", "service", endpoint.ServiceName, "addr", endpoint.Addr())
		return client.DialTCP(endpoint.Addr(), 5*time.Second)
	case strings.HasPrefix(address, "ws://"), strings.HasPrefix(address, "wss://"):
		return client.DialWebSocket(address)
	default:
		return client.DialTCP(address, 5*time.Second)
	}
}

// recordHistory mirrors merged and replaced state into the durable store.
// It runs on the event callback, so failures are logged and swallowed.
func recordHistory(engine *client.Engine, history *store.Store, ev client.Event) {
	if ev.Kind != client.EventStateReplaced && ev.Kind != client.EventStateMerged {
		return
	}
	obj, ok := engine.Object(ev.Path)
	if !ok {
		return
	}
	fields, _ := obj.(map[string]any)
	now := time.Now()
	for _, field := range ev.ChangedFields {
		if err := history.Record(ev.Path, field, fields[field], now); err != nil {
			slog.Warn("Failed to record history", "path", ev.Path, "field", field, "err", err)
		}
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
