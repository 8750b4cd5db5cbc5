package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/canids/export"
	"github.com/Zerofisher/canids/internal/config"
	"github.com/Zerofisher/canids/pkg/model"
	"github.com/Zerofisher/canids/pkg/store"
)

// featureFlags are the extraction settings shared by extract and run.
type featureFlags struct {
	train         []string
	test          []string
	set           string
	windowSize    int
	timeSize      float64
	rollingWindow float64
	workers       int
	combined      bool
	labelColumn   string
	onMalformed   string
	defaultLabel  string
}

func (ff *featureFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVarP(&ff.train, "train", "t", nil, "Training sources: CSV files, pcap/pcapng captures or directories of *labels.csv")
	f.StringSliceVarP(&ff.test, "test", "T", nil, "Test sources")
	f.StringVar(&ff.set, "feature-set", "", "Feature set: compact, standard, extended (default: variant preset or config)")
	f.IntVar(&ff.windowSize, "window-size", 0, "Count window for statistical features")
	f.Float64Var(&ff.timeSize, "time-size", 0, "Fill value for first-occurrence intervals, in seconds")
	f.Float64Var(&ff.rollingWindow, "rolling-window", 0, "Trailing frequency window, in seconds")
	f.IntVarP(&ff.workers, "workers", "j", 0, "Parallel interface extractions (default: GOMAXPROCS)")
	f.BoolVar(&ff.combined, "combined", false, "Treat all interfaces as one stream ordered by timestamp")
	f.StringVar(&ff.labelColumn, "label-column", "", "CSV label column")
	f.StringVar(&ff.onMalformed, "on-malformed", "", "Malformed field policy: default, drop, fail")
	f.StringVar(&ff.defaultLabel, "default-label", "", "Label for frames without one, e.g. Normal for unlabeled captures")
	cmd.MarkFlagRequired("train")
}

// apply overlays the flags the user set on cfg.
func (ff *featureFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("window-size") {
		cfg.Features.WindowSize = ff.windowSize
	}
	if f.Changed("time-size") {
		cfg.Features.TimeSize = ff.timeSize
	}
	if f.Changed("rolling-window") {
		cfg.Features.RollingWindow = ff.rollingWindow
	}
	if f.Changed("workers") {
		cfg.Features.Workers = ff.workers
	}
	if f.Changed("combined") {
		cfg.Features.PartitionByInterface = !ff.combined
	}
	if f.Changed("label-column") {
		cfg.Decode.LabelColumn = ff.labelColumn
	}
	if f.Changed("on-malformed") {
		cfg.Decode.OnMalformed = ff.onMalformed
	}
	if f.Changed("default-label") {
		cfg.Decode.DefaultLabel = ff.defaultLabel
	}
}

func (ff *featureFlags) sources() store.Sources {
	return store.Sources{Train: ff.train, Test: ff.test}
}

// extract command flags
var (
	extractFlags  featureFlags
	extractOut    string
	extractFormat string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract feature tables",
	Long: `Read the training and test sources, compute per-frame features and write
train_proc and test_proc tables. Tables are unfiltered; results are cached by
source paths and settings.`,
	Example: `  canids extract -t data/train -T data/test -o out/
  canids extract -t train.csv -T test.csv --feature-set compact
  canids extract -t capture.pcapng --default-label Normal --format json`,
	GroupID: "features",
	Args:    cobra.NoArgs,
	RunE:    runExtract,
}

func init() {
	extractFlags.bind(extractCmd)
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", ".", "Output directory")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "csv", "Output format: csv or json")
}

func runExtract(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(extractFormat)
	if err != nil {
		return err
	}
	env, err := setupEnv(cmd, &extractFlags)
	if err != nil {
		return err
	}

	cache, err := env.OpenCache()
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}
	p, err := env.Pipeline(extractFlags.sources(), cache)
	if err != nil {
		return err
	}
	result, err := p.Run(cmd.Context())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(extractOut, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, split := range []struct {
		name  string
		table *model.Table
	}{{"train_proc", result.Train}, {"test_proc", result.Test}} {
		if split.name == "test_proc" && len(extractFlags.test) == 0 {
			continue
		}
		path := filepath.Join(extractOut, split.name+"."+string(format))
		if err := writeTableFile(path, split.table, format); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d rows to %s\n", split.table.Len(), path)
	}

	if result.CacheHit {
		fmt.Fprintf(os.Stderr, "Features loaded from cache (%s) in %v\n", shortSig(result.Signature), result.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(os.Stderr, "Extracted %d frames (%d dropped, %d zero-filled) in %v\n",
			result.Stats.Frames, result.Stats.Dropped, result.Stats.Defaulted, result.Duration.Round(time.Millisecond))
	}
	return env.Finish()
}

func writeTableFile(path string, t *model.Table, format export.OutputFormat) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	err = export.WriteTable(f, t, format)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
