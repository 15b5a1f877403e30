// botsweep scans web analytics sessions and classifies bot traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"botsweep/internal/config"
	"botsweep/internal/crawler"
	"botsweep/internal/engine"
	"botsweep/internal/logging"
	"botsweep/internal/ranges"
	"botsweep/internal/store"
	"botsweep/internal/versions"
)

var (
	configPath = flag.String("config", "", "path to config file")
	dbPath     = flag.String("db", "", "path to analytics database (overrides config)")
	logLevel   = flag.String("log-level", "", "minimum log level: debug, info, warn, error")
	logFormat  = flag.String("log-format", "", "log output format: text or json")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "run":
		cmdRun(args)
	case "review":
		cmdReview(args)
	case "promote":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: botsweep promote <session-id-prefix>")
			os.Exit(1)
		}
		cmdPromote(args[0])
	case "demote":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: botsweep demote <session-id-prefix>")
			os.Exit(1)
		}
		cmdDemote(args[0])
	case "stats":
		cmdStats()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `botsweep - bot traffic classification for web analytics

Usage: botsweep [options] <command> [args]

Commands:
  run               Sweep sessions, score them, and prune confirmed bots
  review            List medium-confidence sessions awaiting an operator call
  promote <prefix>  Force a session to high confidence (marks it as a bot)
  demote <prefix>   Clear a session's score and bot flag
  stats             Print per-tier counts and the signal-tag breakdown
  help              Show this help message

Options:
  -config <path>      Path to config file (TOML, JSON, or YAML)
  -db <path>          Analytics database path (overrides config)
  -log-level <level>  Minimum log level: debug, info, warn, error
  -log-format <fmt>   Log output format: text or json

Run options:
  -batch-size <n>     Sessions per scan batch
  -dry-run            Report what would change without writing
  -watch <interval>   Keep sweeping on an interval (e.g. 15m); reloads
                      config on change`)
}

// loadConfig resolves the effective configuration. A broken config file is
// reported but never fatal; the built-in defaults keep the tool usable.
func loadConfig() *config.Config {
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}
	applyFlagOverrides(cfg)
	return cfg
}

func applyFlagOverrides(cfg *config.Config) {
	if *dbPath != "" {
		cfg.Storage.DatabasePath = *dbPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
}

func newLogger(cfg *config.Config) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = format
	if cfg.Logging.Output != "" {
		logCfg.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}

	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logger setup failed: %v\n", err)
		return logging.Default()
	}
	logging.SetDefault(logger)
	return logger
}

// buildEngine wires the store, signal feeds, and detectors from config.
// The caller owns the returned store and range cache.
func buildEngine(cfg *config.Config, logger *logging.Logger) (*engine.Engine, *store.Store, *ranges.Cache, error) {
	s, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database %s: %w", cfg.Storage.DatabasePath, err)
	}

	matcher := crawler.Default(logger.Logger)

	var provider versions.Provider
	if cfg.Versions.FeedURL != "" {
		provider = versions.NewFeedProvider(versions.FeedConfig{
			URL:       cfg.Versions.FeedURL,
			CachePath: cfg.Versions.CachePath,
			CacheTTL:  time.Duration(cfg.Versions.CacheTTLHours) * time.Hour,
		}, logger.Logger)
	} else {
		provider = versions.Static{}
	}

	var rangeCache *ranges.Cache
	if cfg.Datacenter.Enabled {
		rangeCache = ranges.New(ranges.Config{
			RangesFile:  cfg.Datacenter.RangesFile,
			ASNDatabase: cfg.Datacenter.ASNDatabase,
		}, logger.Logger)
	}

	eng := engine.New(s, cfg.Thresholds(), matcher, provider, rangeCache, logger.Logger)
	return eng, s, rangeCache, nil
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	batchSize := fs.Int("batch-size", 0, "sessions per scan batch")
	dryRun := fs.Bool("dry-run", false, "report without writing")
	watch := fs.Duration("watch", 0, "sweep repeatedly on this interval")
	fs.Parse(args)

	cfg := loadConfig()
	logger := newLogger(cfg)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := engine.RunOptions{BatchSize: *batchSize, DryRun: *dryRun}

	if *watch <= 0 {
		if err := sweepOnce(ctx, cfg, logger, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	watchLoop(ctx, cfg, logger, opts, *watch)
}

// sweepOnce builds an engine from cfg, runs one sweep, and tears down.
func sweepOnce(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts engine.RunOptions) error {
	eng, s, rangeCache, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	if rangeCache != nil {
		defer rangeCache.Close()
	}

	stats, err := eng.Run(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Println(stats.String())
	return nil
}

// watchLoop sweeps on an interval until the context is cancelled. Config
// changes picked up by the watcher apply to the next sweep.
func watchLoop(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts engine.RunOptions, interval time.Duration) {
	current := cfg

	var loader *config.Loader
	if *configPath != "" {
		loader = config.NewLoader(*configPath)
		if _, err := loader.Load(); err != nil {
			logger.Warn("config watch disabled", "error", err)
			loader = nil
		} else if err := loader.Watch(); err != nil {
			logger.Warn("config watch disabled", "error", err)
			loader.Close()
			loader = nil
		} else {
			defer loader.Close()
			loader.OnChange(func(c *config.Config) {
				logger.Info("configuration reloaded")
			})
			go func() {
				for err := range loader.Errors() {
					logger.Warn("config reload failed", "error", err)
				}
			}()
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if loader != nil {
			if c := loader.Config(); c != nil {
				applyFlagOverrides(c)
				current = c
			}
		}

		if err := sweepOnce(ctx, current, logger, opts); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// openEngine is the shared setup path for the operator commands.
func openEngine() (*engine.Engine, func()) {
	cfg := loadConfig()
	logger := newLogger(cfg)

	eng, s, rangeCache, err := buildEngine(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cleanup := func() {
		s.Close()
		if rangeCache != nil {
			rangeCache.Close()
		}
		logger.Close()
	}
	return eng, cleanup
}

func cmdReview(args []string) {
	fs := flag.NewFlagSet("review", flag.ExitOnError)
	limit := fs.Int("limit", 50, "maximum sessions to list")
	fs.Parse(args)

	eng, cleanup := openEngine()
	defer cleanup()

	sessions, err := eng.Review(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions in the medium-confidence band.")
		return
	}

	fmt.Printf("%-36s  %-15s  %5s  %s\n", "SESSION", "IP", "SCORE", "SIGNALS")
	for _, sess := range sessions {
		score := int64(0)
		if sess.BotScore.Valid {
			score = sess.BotScore.Int64
		}
		reason := ""
		if sess.BotReason.Valid {
			reason = sess.BotReason.String
		}
		fmt.Printf("%-36s  %-15s  %5d  %s\n", sess.SessionID, sess.IPAddress, score, reason)
	}
	fmt.Printf("\n%d session(s). Use 'botsweep promote <prefix>' or 'botsweep demote <prefix>'.\n", len(sessions))
}

func cmdPromote(prefix string) {
	eng, cleanup := openEngine()
	defer cleanup()

	sess, err := eng.Promote(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Promoted %s: score %d, marked as bot\n", sess.SessionID, sess.BotScore.Int64)
}

func cmdDemote(prefix string) {
	eng, cleanup := openEngine()
	defer cleanup()

	sess, err := eng.Demote(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Demoted %s: score cleared\n", sess.SessionID)
}

func cmdStats() {
	eng, cleanup := openEngine()
	defer cleanup()

	stats, err := eng.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Session population ===")
	fmt.Printf("  Total:     %d\n", stats.Tiers.Total)
	fmt.Printf("  High:      %d\n", stats.Tiers.High)
	fmt.Printf("  Medium:    %d\n", stats.Tiers.Medium)
	fmt.Printf("  Low:       %d\n", stats.Tiers.Low)
	fmt.Printf("  Unscored:  %d\n", stats.Tiers.Unscored)

	if len(stats.Reasons) == 0 {
		return
	}

	fmt.Println()
	fmt.Println("=== Signal breakdown ===")
	// Stable order for operator eyes and for scripts that diff the output.
	tags := make([]string, 0, len(stats.Reasons))
	for tag := range stats.Reasons {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Printf("  %-32s %d\n", tag, stats.Reasons[tag])
	}
}
