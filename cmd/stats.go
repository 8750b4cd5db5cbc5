package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/canids/capture"
	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/filter"
	"github.com/Zerofisher/canids/internal/app"
	"github.com/Zerofisher/canids/internal/logging"
	"github.com/Zerofisher/canids/pkg/ingest"
	"github.com/Zerofisher/canids/pkg/model"
	"github.com/Zerofisher/canids/stats"
)

// stats command flags
var (
	statsFilter       string
	statsPolicy       string
	statsLabelColumn  string
	statsDefaultLabel string
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Dataset statistics",
	Long:    `Profile raw frame sources: traffic per interface, label and arbitration ID, and frame rates over time.`,
	GroupID: "info",
}

var statsSummaryCmd = &cobra.Command{
	Use:   "summary <source>...",
	Short: "Show interface and label statistics",
	Example: `  canids stats summary data/train
  canids stats summary capture.pcapng --default-label Normal`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatsSummary,
}

// ids subcommand flags
var statsIDsLimit int

var statsIDsCmd = &cobra.Command{
	Use:   "ids <source>...",
	Short: "Show per arbitration ID statistics",
	Example: `  canids stats ids data/train
  canids stats ids data/train --limit 0 -Y 'label == "Fuzzing"'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatsIDs,
}

// io subcommand flags
var statsIOInterval float64

var statsIOCmd = &cobra.Command{
	Use:   "io <source>...",
	Short: "Show frame rates over time",
	Example: `  canids stats io data/train
  canids stats io data/train --interval 0.5 -Y 'iface == "P-CAN"'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatsIO,
}

func init() {
	// Persistent flags for stats command (inherited by all subcommands)
	pf := statsCmd.PersistentFlags()
	pf.StringVarP(&statsFilter, "filter", "Y", "", "Frame filter expression")
	pf.StringVar(&statsPolicy, "policy", "", "Only count frames a retention policy keeps: train or test")
	pf.StringVar(&statsLabelColumn, "label-column", "", "CSV label column")
	pf.StringVar(&statsDefaultLabel, "default-label", "", "Label for frames without one")

	statsIDsCmd.Flags().IntVar(&statsIDsLimit, "limit", 20, "Number of IDs to show (0 = all)")
	statsIOCmd.Flags().Float64Var(&statsIOInterval, "interval", 1.0, "Statistics interval in seconds")

	statsCmd.AddCommand(statsSummaryCmd)
	statsCmd.AddCommand(statsIDsCmd)
	statsCmd.AddCommand(statsIOCmd)
}

// collectStats reads every source into a new stats manager.
func collectStats(cmd *cobra.Command, paths []string, configure func(*stats.Manager)) (*stats.Manager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("label-column") {
		cfg.Decode.LabelColumn = statsLabelColumn
	}
	if cmd.Flags().Changed("default-label") {
		cfg.Decode.DefaultLabel = statsDefaultLabel
	}
	env, err := app.Setup(cfg, "", logging.Component("stats"))
	if err != nil {
		return nil, err
	}
	variant := env.Variant()

	var policy filter.Policy
	if statsPolicy != "" {
		if policy, err = filter.ParsePolicy(statsPolicy); err != nil {
			return nil, err
		}
	}
	retention := filter.New(variant)

	where, err := app.CompileWhere(statsFilter, variant.Labels)
	if err != nil {
		return nil, fmt.Errorf("error compiling filter: %w", err)
	}
	files, err := ingest.ExpandSources(paths)
	if err != nil {
		return nil, err
	}
	n := decode.NewNormalizer(variant, env.Decode, env.Logger)
	frames, err := ingest.LoadFrames(cmd.Context(), files, capture.Options{LabelColumn: cfg.Decode.LabelColumn}, n)
	if err != nil {
		return nil, err
	}

	m := stats.NewManager()
	m.SetThreshold(variant.Threshold)
	if configure != nil {
		configure(m)
	}
	for i := range frames {
		f := &frames[i]
		if policy != "" && !retention.Keep(policy, f.LabelCode, f.ArbitrationID) {
			continue
		}
		if where != nil && !where.Match(frameRow(f)) {
			continue
		}
		m.ProcessFrame(f)
	}
	if s := n.Stats(); s.Dropped > 0 || s.Defaulted > 0 {
		fmt.Fprintf(os.Stderr, "%d malformed frames dropped, %d payloads zero-filled\n", s.Dropped, s.Defaulted)
	}
	return m, nil
}

// frameRow exposes a frame's carried columns to row filters.
func frameRow(f *model.Frame) *model.Row {
	return &model.Row{
		Seq:           f.Seq,
		Interface:     f.Interface,
		Timestamp:     f.Timestamp,
		ArbitrationID: f.ArbitrationID,
		DLC:           f.DLC,
		Data:          f.Data,
		Label:         f.LabelCode,
		Class:         f.Class,
	}
}

// runStatsSummary shows interface and label statistics
func runStatsSummary(cmd *cobra.Command, args []string) error {
	m, err := collectStats(cmd, args, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Analyzed %d frames\n\n", m.TotalFrames())
	m.PrintInterfaces(os.Stdout)
	fmt.Println()
	m.PrintLabels(os.Stdout)
	return nil
}

// runStatsIDs shows arbitration ID statistics
func runStatsIDs(cmd *cobra.Command, args []string) error {
	m, err := collectStats(cmd, args, nil)
	if err != nil {
		return err
	}
	m.PrintIDs(os.Stdout, statsIDsLimit)
	return nil
}

// runStatsIO shows I/O statistics
func runStatsIO(cmd *cobra.Command, args []string) error {
	if statsIOInterval <= 0 {
		return fmt.Errorf("interval must be positive, got %g", statsIOInterval)
	}
	m, err := collectStats(cmd, args, func(m *stats.Manager) {
		m.SetBucketSize(statsIOInterval)
	})
	if err != nil {
		return err
	}
	m.PrintIOStats(os.Stdout)
	return nil
}
