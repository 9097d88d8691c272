// Package main implements the loyall CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codealisha99/loyalL/internal/bot"
	"github.com/codealisha99/loyalL/internal/browser"
	"github.com/codealisha99/loyalL/internal/config"
	"github.com/codealisha99/loyalL/internal/dedupe"
	"github.com/codealisha99/loyalL/internal/watch"
)

var (
	// Global flags
	cfgPath  string
	verbose  bool
	headless bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "loyall",
	Short: "loyalL - chat auto-responder driven through a real browser",
	Long: `loyalL drives a Chrome session against a web chat client, polls the
chat list for unread conversations, matches message previews against a
trigger table and injects a canned reply.

All interaction happens through the rendered DOM of the third-party
web client; there is no API. A persistent profile directory keeps the
login session (QR scan) across runs.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd runs the bot until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the auto-responder until interrupted",
	Long: `Launches the browser bound to the persistent profile, waits for the
chat list to load and then polls for unread conversations on a fixed
interval. SIGINT/SIGTERM flushes the dedupe store and shuts the
browser down.`,
	RunE: runBot,
}

// statusCmd prints the effective configuration and store state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show effective configuration, last session and dedupe store state",
	RunE:  showStatus,
}

func main() {
	// Environment overrides may live in a .env file, original setup.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "loyall.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	runCmd.Flags().BoolVar(&headless, "headless", false, "run Chrome headless (overrides config)")

	rootCmd.AddCommand(runCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	b, err := bot.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("loyalL starting",
		zap.String("version", cfg.Version),
		zap.String("target", cfg.Browser.TargetURL),
		zap.String("profile", cfg.Browser.ProfileDir),
		zap.Duration("interval", cfg.GetPollInterval()))

	return b.Run(ctx)
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	table, err := watch.LoadTriggers(cfg.Triggers.Path)
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}

	store := dedupe.New(cfg.Dedupe.Path, cfg.Dedupe.MaxEntries, cfg.Dedupe.FlushEvery, logger)
	if err := store.Load(); err != nil {
		logger.Warn("dedupe store unreadable", zap.Error(err))
	}

	fmt.Printf("loyalL %s\n\n", cfg.Version)
	fmt.Printf("Target URL:      %s\n", cfg.Browser.TargetURL)
	fmt.Printf("Profile dir:     %s\n", cfg.Browser.ProfileDir)
	fmt.Printf("Headless:        %v\n", cfg.Browser.Headless)
	fmt.Printf("Poll interval:   %s\n", cfg.GetPollInterval())
	fmt.Printf("Watchdog:        %s\n", cfg.GetWatchdogThreshold())
	fmt.Printf("Triggers:        %d entries", table.Len())
	if cfg.Triggers.Path != "" {
		fmt.Printf(" (%s, live reload)", cfg.Triggers.Path)
	}
	fmt.Println()
	fmt.Printf("Dedupe store:    %d/%d entries at %s\n", store.Len(), cfg.Dedupe.MaxEntries, store.Path())

	if sess, err := browser.LoadSession(cfg.Browser.SessionStore); err == nil && sess.ID != "" {
		fmt.Printf("Last session:    %s [%s] started %s\n",
			sess.ID, sess.Status, sess.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
