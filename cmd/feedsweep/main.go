package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feedsweep/internal/app"
	"github.com/TobiSchelling/feedsweep/internal/cache"
	"github.com/TobiSchelling/feedsweep/internal/config"
	"github.com/TobiSchelling/feedsweep/internal/extension"
	"github.com/TobiSchelling/feedsweep/internal/fetch"
	"github.com/TobiSchelling/feedsweep/internal/metrics"
	"github.com/TobiSchelling/feedsweep/internal/output"
	"github.com/TobiSchelling/feedsweep/internal/periodic"
	"github.com/TobiSchelling/feedsweep/internal/run"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	logFormat  string
	env        *app.Env
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "feedsweep",
	Short:   "Feed aggregator",
	Long:    "feedsweep fetches syndication feeds, drops items it has already reported and writes the rest to the configured outputs.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		env = app.New(app.NewLogger(os.Stderr, verbose, logFormat), version)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(watchCmd)
}

// setup reads the config file and builds the extension pipeline that
// takes part in resolving it.
func setup(env *app.Env) (*config.Config, *extension.Pipeline, error) {
	path, err := config.ResolveConfigPath(configPath)
	if err != nil {
		return nil, nil, err
	}
	doc, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	pipe, err := extension.NewRegistry().Build(env, doc.Extensions)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Resolve(doc, pipe)
	if err != nil {
		return nil, nil, err
	}
	cfg.Path = path
	for _, ferr := range cfg.FeedErrors {
		env.Log.WithError(ferr).Warn("feed dropped")
	}
	for _, w := range cfg.Warnings {
		env.Log.Warn(w)
	}
	return cfg, pipe, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("feedsweep", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/feedsweep/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to add your feeds and outputs.")
		return nil
	},
}

// --- run command ---

var (
	noCacheUpdate bool
	threads       int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch all enabled feeds once and write new items to the outputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		s, err := runOnce(ctx, env)
		if s != nil {
			printSummary(cmd, s)
		}
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&noCacheUpdate, "no-cache-update", false, "Do not save the item cache after the run")
	runCmd.Flags().IntVar(&threads, "threads", 0, "Override max_threads")
}

func runOnce(ctx context.Context, env *app.Env) (*run.Summary, error) {
	cfg, pipe, err := setup(env)
	if err != nil {
		return nil, err
	}
	if noCacheUpdate {
		cfg.Settings.NoCacheUpdate = true
	}
	if threads > 0 {
		cfg.Settings.MaxThreads = threads
	}

	rec := metrics.New()
	coord := output.NewCoordinator(env, rec)
	if err := output.NewRegistry().Build(env, cfg.Outputs, coord); err != nil {
		return nil, err
	}
	fetcher := fetch.New(env, fetch.Options{
		Timeout:   cfg.Settings.Timeout,
		Retries:   cfg.Settings.Retries,
		UserAgent: cfg.Settings.UserAgent,
		Gzip:      cfg.Settings.GetGzippedFeeds,
	}, nil)

	return run.New(env, cfg, pipe, fetcher, coord, rec).Run(ctx)
}

func printSummary(cmd *cobra.Command, s *run.Summary) {
	w := cmd.ErrOrStderr()
	fmt.Fprintln(w, "\nRun summary:")
	fmt.Fprintf(w, "  Feeds attempted: %d\n", s.FeedsAttempted)
	fmt.Fprintf(w, "  Feeds failed: %d\n", len(s.Failures))
	for _, f := range s.Failures {
		fmt.Fprintf(w, "    %s: %s\n", f.URL, f.Reason)
	}
	fmt.Fprintf(w, "  New items: %d\n", s.NewItems)
	for name, n := range s.ItemsPerDestination {
		fmt.Fprintf(w, "  Output %s: %d items\n", name, n)
	}
	for _, err := range s.OutputErrors {
		fmt.Fprintf(w, "  Output error: %v\n", err)
	}
	if s.Aborted {
		fmt.Fprintln(w, "  Run was aborted before all feeds were fetched.")
	}
}

// --- check command ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration without fetching anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, pipe, err := setup(env)
		if err != nil {
			return err
		}
		if err := pipe.RunPostConfig(cfg.Feeds); err != nil {
			return err
		}
		coord := output.NewCoordinator(env, nil)
		if err := output.NewRegistry().Build(env, cfg.Outputs, coord); err != nil {
			return err
		}

		fmt.Printf("Config: %s\n\n", cfg.Path)
		fmt.Printf("Feeds: %d enabled, %d configured\n", len(cfg.EnabledFeeds()), len(cfg.Feeds))
		for _, d := range cfg.Feeds {
			state := " "
			if d.Enabled {
				state = "*"
			}
			fmt.Printf("  %s %s\n", state, d.Label())
		}
		if len(cfg.Skipped) > 0 {
			fmt.Printf("Skipped by extensions: %d\n", len(cfg.Skipped))
			for _, d := range cfg.Skipped {
				fmt.Printf("    %s\n", d.Label())
			}
		}
		fmt.Printf("Outputs: %s\n", strings.Join(coord.Names(), ", "))
		fmt.Printf("Post-fetch extensions: %s\n", strings.Join(pipe.Chain(extension.PostFetch), ", "))
		fmt.Printf("Cache: %s\n", cfg.Settings.CacheFile)
		if len(cfg.FeedErrors) > 0 {
			return fmt.Errorf("%d feed(s) have configuration errors", len(cfg.FeedErrors))
		}
		return nil
	},
}

// --- cache command ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the item cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached entries per feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(env)
		if err != nil {
			return err
		}
		c, err := cache.Load(cfg.Settings.CacheFile)
		if err != nil {
			return err
		}

		stats := c.Stats()
		fmt.Printf("Cache: %s\n", cfg.Settings.CacheFile)
		fmt.Printf("  Total entries: %d\n", c.Len())
		if len(stats) == 0 {
			return nil
		}
		fmt.Println("\nEntries by feed:")
		for _, s := range stats {
			fmt.Printf("  %s: %d (seen %s .. %s)\n", s.FeedURL, s.Entries,
				s.Oldest.Local().Format(time.DateOnly), s.Newest.Local().Format(time.DateOnly))
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
}

// --- watch command ---

var (
	schedule string
	timezone string
	runNow   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run repeatedly on a cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := periodic.Validate(schedule); err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		w, err := periodic.New(env, timezone)
		if err != nil {
			return err
		}

		job := func(ctx context.Context) {
			runEnv := env.Fork()
			s, err := runOnce(ctx, runEnv)
			if err != nil {
				runEnv.Log.WithError(err).Error("run failed")
				return
			}
			if len(s.Failures) > 0 {
				runEnv.Log.WithField("failed", len(s.Failures)).Warn("some feeds failed")
			}
		}
		if runNow {
			job(ctx)
		}
		return w.Watch(ctx, schedule, job)
	},
}

func init() {
	watchCmd.Flags().StringVar(&schedule, "schedule", "@hourly", "Cron schedule, e.g. \"*/30 * * * *\" or \"@every 2h\"")
	watchCmd.Flags().StringVar(&timezone, "timezone", "", "Timezone for the schedule (default local)")
	watchCmd.Flags().BoolVar(&runNow, "now", false, "Run once immediately before waiting for the schedule")
}
