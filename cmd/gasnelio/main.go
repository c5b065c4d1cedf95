// Package main is the Gasnelio CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/gasnelio/internal/cli"
	"github.com/hyperjump/gasnelio/internal/config"
	"github.com/hyperjump/gasnelio/internal/models"
	"github.com/hyperjump/gasnelio/internal/routing"
	"github.com/hyperjump/gasnelio/internal/server"
	"github.com/hyperjump/gasnelio/internal/suggest"
	"github.com/hyperjump/gasnelio/internal/watcher"
	"github.com/hyperjump/gasnelio/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/gasnelio/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present. A missing default file is not an
// error: built-in defaults and the environment are used instead.
// Returns the config and the path that was actually loaded ("" for none).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyEnv(cfg)
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "suggest":
		runSuggest()
	case "route":
		runRoute()
	case "expand":
		runExpand()
	case "history":
		runHistory()
	case "version", "--version", "-v":
		fmt.Printf("gasnelio version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLoggerWithFile(debugMode, utils.LogFile{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("sender", cfg.Sender.Kind),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(
		components.Engine,
		components.Index,
		components.Classifier,
		components.Chat,
		components.Catalog,
		&cfg.Server,
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	if files := watchedFiles(cfg); len(files) > 0 {
		watchSvc := watcher.NewWatcher(files,
			reloadHandler(cfg, components, logger),
			watcher.WithLogger(logger),
		)
		if err := watchSvc.Start(gctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}
}

// watchedFiles lists the on-disk files whose edits should be picked up live.
func watchedFiles(cfg *config.Config) []string {
	if !cfg.Taxonomy.WatchOrDefault() {
		return nil
	}
	var files []string
	if cfg.Taxonomy.Path != "" {
		files = append(files, cfg.Taxonomy.Path)
	}
	if cfg.Routing.RulesPath != "" {
		files = append(files, cfg.Routing.RulesPath)
	}
	return files
}

// reloadHandler reloads the taxonomy when it changes. Routing rules are
// compiled into the classifier at startup, so a rules edit only logs.
func reloadHandler(cfg *config.Config, c *Components, logger *zap.Logger) func(path string) {
	reloadTaxonomy := watcher.ReloadOnChange(c.Index, logger, c.Engine)
	taxonomy, rules := absPath(cfg.Taxonomy.Path), absPath(cfg.Routing.RulesPath)
	return func(path string) {
		switch absPath(path) {
		case "":
		case taxonomy:
			reloadTaxonomy(path)
		case rules:
			r, err := routing.LoadRules(path)
			if err == nil {
				_, err = routing.NewClassifier(c.Catalog, routing.WithRules(r))
			}
			if err != nil {
				logger.Warn("routing rules invalid", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Info("routing rules changed; restart to apply", zap.String("path", path))
		}
	}
}

// absPath makes watcher events comparable with configured paths.
func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(p)
}

// argsReorder moves any flags (and their values) that appear after the
// positional text to the front so that flag.Parse sees them. Go's flag package
// stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildText joins all positional args with spaces so multi-word input works
// the same with or without shell quoting.
func buildText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// splitList parses a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// lookupSetup parses the common flags of the offline commands and builds the
// taxonomy and routing components.
func lookupSetup(name, usage string, extra func(fs *flag.FlagSet)) (*Components, *config.Config, *flag.FlagSet, cli.OutputFormat) {
	args := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	if extra != nil {
		extra(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: gasnelio %s [flags] %s\n\n", name, usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)
	if usage != "" && fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	// Keep CLI output clean unless debugging.
	if !cfg.Debug {
		logger = zap.NewNop()
	}
	c, err := initializeLookup(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return c, cfg, fs, cli.ParseFormat(*output)
}

func runSuggest() {
	var (
		maxResults  *int
		categories  *string
		medications *string
	)
	c, _, fs, format := lookupSetup("suggest", "<query>", func(fs *flag.FlagSet) {
		maxResults = fs.Int("max", 0, "maximum suggestions (0 = configured default)")
		categories = fs.String("category", "", "comma-separated category filter (dose,effect,...)")
		medications = fs.String("medication", "", "comma-separated medication filter")
	})
	defer c.Close()

	opts := suggest.Options{MaxResults: *maxResults, Medications: splitList(*medications)}
	for _, cat := range splitList(*categories) {
		opts.Categories = append(opts.Categories, models.Category(cat))
	}
	res := c.Engine.Search(buildText(fs.Args()), opts)
	if err := cli.WriteSuggestions(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if res.Err != nil {
		os.Exit(1)
	}
}

func runRoute() {
	var pinned *bool
	c, _, fs, format := lookupSetup("route", "<message>", func(fs *flag.FlagSet) {
		pinned = fs.Bool("pinned", false, "treat the conversation as having a user-chosen persona")
	})
	defer c.Close()

	d := c.Classifier.Analyze(buildText(fs.Args()), nil)
	out := cli.Decision{
		RoutingDecision: d,
		ShouldPresent:   c.Classifier.ShouldPresent(d, *pinned),
		Sentiment:       c.Classifier.Sentiment(d),
	}
	if err := cli.WriteDecision(os.Stdout, out, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runExpand() {
	c, _, fs, format := lookupSetup("expand", "<text>", nil)
	defer c.Close()

	text := buildText(fs.Args())
	if err := cli.WriteTerms(os.Stdout, text, c.Index.ExpandWithSynonyms(text), format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// runHistory reads a conversation straight from the configured store.
func runHistory() {
	args := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	output := fs.String("output", "text", "output format: text or json")
	limit := fs.Int("limit", 0, "maximum messages (0 = all)")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Println("Usage: gasnelio history [flags] <conversation-id>")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	msgs, err := store.ListMessages(ctx, fs.Arg(0), 0, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read history: %v\n", err)
		os.Exit(1)
	}
	out := make([]models.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	if err := cli.WriteHistory(os.Stdout, out, cli.ParseFormat(*output)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`gasnelio - Persona routing and resilient chat delivery

Usage:
  gasnelio server [flags]                 Start the HTTP server
  gasnelio suggest [flags] <query>        Suggest taxonomy terms for a partial query
  gasnelio route [flags] <message>        Show which persona a message would be routed to
  gasnelio expand [flags] <text>          List taxonomy terms and synonyms found in text
  gasnelio history [flags] <conversation> Print a stored conversation
  gasnelio version                        Show version
  gasnelio help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/gasnelio/config.yaml)
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Suggest Flags:
  --max int             Maximum suggestions (default from config)
  --category string     Comma-separated categories (e.g. dose,effect)
  --medication string   Comma-separated medication names

Route Flags:
  --pinned           The user already picked a persona

History Flags:
  --limit int        Maximum messages (default: all)

Environment:
  GASNELIO_SENDER_KIND, GASNELIO_SENDER_ENDPOINT, GASNELIO_SENDER_API_KEY (or GEMINI_API_KEY),
  GASNELIO_STORAGE_DRIVER, GASNELIO_REDIS_URL, GASNELIO_NATS_URL, GASNELIO_TAXONOMY_PATH.
  A .env file in the working directory is read first.

Examples:
  gasnelio server
  gasnelio suggest rifamp
  gasnelio suggest --category dose rifamp
  gasnelio route "Qual a dose de rifampicina para adulto?"
  gasnelio expand "efeitos adversos da clofazimina"
  gasnelio history --output json 3f1c...`)
}
