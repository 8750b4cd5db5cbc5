// Package cmd provides the CLI commands for canids using Cobra.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/canids/internal/app"
	"github.com/Zerofisher/canids/internal/config"
	"github.com/Zerofisher/canids/internal/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "canids",
	Short: "CAN bus intrusion detection: feature extraction and cascade evaluation",
	Long: `canids turns labeled CAN frame logs into per-frame feature tables and
evaluates a two-stage intrusion detector on them:

  - Interval, frequency, window-statistic and entropy features per frame
  - Per-interface extraction with a persistent feature cache
  - Asymmetric train/test filtering of the diagnostic ID range
  - Binary (Normal/Attack) then subclass classification via a model backend
  - Precision/recall/F1 reports, overall and per interface

Examples:
  canids extract -t data/train -T data/test -o out/             # Write feature tables
  canids run -t data/train -T data/test --reports out/          # Train and evaluate
  canids run -t train -T test --variant observation3 --per-interface
  canids stats summary data/train                               # Dataset profile
  canids cache list                                             # Cached feature sets`,
	Version:      Version,
	SilenceUsage: true,
}

// Persistent flags
var (
	cfgFile      string
	logLevel     string
	logFormat    string
	variantName  string
	variantsFile string
	noCache      bool
	cachePath    string
	metricsFile  string
)

// Execute runs the root command. An interrupt cancels the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	// Define command groups for organized help output
	rootCmd.AddGroup(
		&cobra.Group{ID: "features", Title: "Feature Commands:"},
		&cobra.Group{ID: "detection", Title: "Detection Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./canids.yaml or ~/.config/canids/canids.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: console or json")
	pf.StringVar(&variantName, "variant", "", "Observation variant preset (default: observation1)")
	pf.StringVar(&variantsFile, "variants-file", "", "TOML file with additional variant presets")
	pf.BoolVar(&noCache, "no-cache", false, "Disable the feature cache")
	pf.StringVar(&cachePath, "cache-path", "", "Feature cache database")
	pf.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")

	// Add subcommands
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(variantsCmd)
}

// loadConfig reads the configuration and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("variant") {
		cfg.Variant = variantName
	}
	if flags.Changed("variants-file") {
		cfg.VariantsFile = variantsFile
	}
	if flags.Changed("no-cache") {
		cfg.Cache.Enabled = !noCache
	}
	if flags.Changed("cache-path") {
		cfg.Cache.Path = cachePath
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = metricsFile
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// setupEnv loads the configuration, applies the extraction flags and
// resolves the run environment.
func setupEnv(cmd *cobra.Command, ff *featureFlags) (*app.Env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	ff.apply(cmd, cfg)
	return app.Setup(cfg, ff.set, logging.Component(cmd.Name()))
}
