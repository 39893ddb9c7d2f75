// Porter is an asynchronous messaging agent for commercial real estate
// conversations.
//
// It receives messages from a channel provider webhook, routes each one
// to a specialist reasoning profile, runs a bounded tool-calling loop
// against property, rental, and business data providers, and replies in
// ordered chunks. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	porter serve             Start the webhook server
//	porter version           Print version and build information
//	porter -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/porterlabs/porter-agent/internal/agent"
	"github.com/porterlabs/porter-agent/internal/archive"
	"github.com/porterlabs/porter-agent/internal/buildinfo"
	"github.com/porterlabs/porter-agent/internal/config"
	"github.com/porterlabs/porter-agent/internal/contacts"
	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/events"
	"github.com/porterlabs/porter-agent/internal/llm"
	"github.com/porterlabs/porter-agent/internal/mqtt"
	"github.com/porterlabs/porter-agent/internal/outbound"
	"github.com/porterlabs/porter-agent/internal/processor"
	"github.com/porterlabs/porter-agent/internal/router"
	"github.com/porterlabs/porter-agent/internal/search"
	"github.com/porterlabs/porter-agent/internal/tasks"
	"github.com/porterlabs/porter-agent/internal/tools"
	"github.com/porterlabs/porter-agent/internal/web"
)

// main constructs the OS-level environment and delegates to [run], so
// the full lifecycle can be driven from tests without touching
// os.Exit or os.Args.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Manual flag parsing keeps package-level flag state out of tests.
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, `Usage:
  porter serve             Start the webhook server
  porter version           Print version and build information

Flags:
  -config <path>           Config file path (default: search standard locations)
  -o text|json             Output format for version`)
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	if outputFmt == "json" {
		return json.NewEncoder(w).Encode(buildinfo.Info())
	}
	fmt.Fprintln(w, buildinfo.String())
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("porter starting",
		"version", buildinfo.Version,
		"config", cfgPath,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.New()

	// Conversation state and webhook dedup.
	store := convo.NewStore(cfg.Conversation.MaxTurns, cfg.Conversation.ConversationTTL())
	done := make(chan struct{})
	defer close(done)
	store.StartJanitor(5*time.Minute, done)
	guard := convo.NewGuard(10 * time.Minute)

	// Reasoning client, shared by the router and the agent loop.
	reasoning := llm.NewOpenAIClient(
		cfg.Reasoning.BaseURL, cfg.Reasoning.APIKey, cfg.Reasoning.Model, logger)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := reasoning.Ping(pingCtx); err != nil {
		logger.Warn("reasoning endpoint not answering yet", "error", err)
	}
	cancel()

	// Search provider chain.
	var broad, rentals, webSearch search.Provider
	if cfg.Search.PropertyURL != "" {
		broad = search.NewPropertyAPI(cfg.Search.PropertyURL, cfg.Search.PropertyAPIKey)
	}
	if cfg.Search.RentalsURL != "" {
		rentals = search.NewRentalsAPI(cfg.Search.RentalsURL, cfg.Search.RentalsAPIKey)
	}
	if cfg.Search.WebSearchURL != "" {
		webSearch = search.NewWebSearch(cfg.Search.WebSearchURL)
	}
	chain := search.NewChain(broad, rentals, webSearch, cfg.Search.SearchTimeout(), logger, bus)

	// Tool registry.
	taskStore := tasks.NewStore(7 * 24 * time.Hour)
	registry := tools.NewRegistry()
	registry.Register(tools.NewPropertySearchTool(chain))
	registry.Register(tools.NewMarketSearchTool(chain))
	registry.Register(tools.NewRecordMissingInfoTool(taskStore))
	if cfg.Business.BaseURL != "" {
		registry.Register(tools.NewBusinessLookupTool(
			tools.NewBusinessClient(cfg.Business.BaseURL, cfg.Business.APIKey)))
	}
	if err := registry.Verify(); err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}
	logger.Info("tools registered", "tools", registry.Names())

	// Identity directory.
	resolver, err := newResolver(cfg.Directory, logger)
	if err != nil {
		return err
	}

	// Optional transcript archive.
	var arch *archive.Store
	if cfg.Archive.Enabled {
		path := cfg.Archive.Path
		if path == "" {
			path = "porter-archive.db"
		}
		arch, err = archive.Open(path)
		if err != nil {
			return err
		}
		defer arch.Close()
		logger.Info("archive enabled", "path", path)
	}

	// Pipeline.
	rtr := router.New(reasoning, logger, bus)
	loop := agent.NewLoop(logger, reasoning, registry, bus)
	sender := outbound.NewHTTPSender(
		cfg.Messaging.BaseURL, cfg.Messaging.APIKey, cfg.Messaging.From, logger, bus)
	proc := processor.New(logger, guard, resolver, store, rtr, loop, sender, taskStore, arch, bus,
		processor.Options{
			ChunkLimit: cfg.Messaging.ChunkLimit,
			ChunkDelay: cfg.Messaging.ChunkDelay(),
			RateLimit:  cfg.Messaging.RateLimit,
			AckEnabled: true,
		})

	// Optional MQTT status publisher.
	if cfg.MQTT.Enabled {
		pub := mqtt.New(cfg.MQTT, &statsAdapter{store: store, tasks: taskStore}, logger)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Warn("mqtt publisher stopped", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = pub.Stop(stopCtx)
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := web.NewServer(logger, proc, store, taskStore, bus, addr)
	err = server.Serve(ctx)
	logger.Info("porter stopped")
	return err
}

// newResolver builds the configured identity directory. Both sources
// empty means every sender is anonymous, which is a valid deployment.
func newResolver(cfg config.DirectoryConfig, logger *slog.Logger) (contacts.Resolver, error) {
	switch {
	case cfg.VCardFile != "":
		dir, err := contacts.NewVCardFile(cfg.VCardFile)
		if err != nil {
			return nil, err
		}
		logger.Info("contact directory loaded", "source", "vcard", "path", cfg.VCardFile)
		return dir, nil
	case cfg.CardDAV.URL != "":
		dir, err := contacts.NewCardDAV(
			cfg.CardDAV.URL, cfg.CardDAV.Username, cfg.CardDAV.Password, cfg.CardDAV.AddressBook)
		if err != nil {
			return nil, err
		}
		logger.Info("contact directory configured", "source", "carddav", "url", cfg.CardDAV.URL)
		return dir, nil
	default:
		logger.Info("no contact directory configured, all senders anonymous")
		return nil, nil
	}
}

// statsAdapter feeds runtime numbers to the MQTT publisher.
type statsAdapter struct {
	store *convo.Store
	tasks *tasks.Store
}

func (s *statsAdapter) Uptime() time.Duration    { return buildinfo.Uptime() }
func (s *statsAdapter) Version() string          { return buildinfo.Version }
func (s *statsAdapter) ActiveConversations() int { return s.store.ActiveConversations() }
func (s *statsAdapter) OpenTasks() int           { return s.tasks.Len() }

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
