package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/canids/export"
	"github.com/Zerofisher/canids/internal/app"
	"github.com/Zerofisher/canids/internal/report"
)

// run command flags
var (
	runFlags        featureFlags
	runName         string
	runModelDir     string
	runPerInterface bool
	runSegment      bool
	runWhere        string
	runSaveLabels   string
	runLabelsFormat string
	runReportDir    string
	runReportFormat string
	runBackend      string
	runShortCircuit bool
	runScale        bool
	runQuiet        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Train and evaluate the two-stage detector",
	Long: `Extract features, apply the train and test retention policies, train the
binary (Normal/Attack) and subclass models through the model backend, route the
test rows through both stages and report per-class scores.

The model backend is an external command configured as model.command; see the
classifier package for its fit/predict protocol.`,
	Example: `  canids run -t data/train -T data/test --reports out/
  canids run -t train -T test --variant observation3 --per-interface --segment
  canids run -t train -T test --model-dir models/ --backend rf --scale
  canids run -t train -T test --where 'iface == "C-CAN"' --save-labels labeled.csv`,
	GroupID: "detection",
	Args:    cobra.NoArgs,
	RunE:    runRun,
}

func init() {
	runFlags.bind(runCmd)
	runCmd.MarkFlagRequired("test")

	f := runCmd.Flags()
	f.StringVarP(&runName, "name", "n", "", "Report name (default: the variant name)")
	f.StringVar(&runModelDir, "model-dir", "", "Reuse models saved here and save newly trained ones")
	f.BoolVar(&runPerInterface, "per-interface", false, "Train one cascade per interface")
	f.BoolVar(&runSegment, "segment", false, "Add a per-interface breakdown to the reports")
	f.StringVarP(&runWhere, "where", "w", "", "Row filter expression applied after the retention policies")
	f.StringVar(&runSaveLabels, "save-labels", "", "Write the test table with predictions to this file")
	f.StringVar(&runLabelsFormat, "labels-format", "csv", "Labeled output format: csv or json")
	f.StringVar(&runReportDir, "reports", "", "Write one report file per stage to this directory")
	f.StringVar(&runReportFormat, "report-format", "text", "Report format: text or markdown")
	f.StringVarP(&runBackend, "backend", "b", "", "Model backend: rf, xgboost, lstm")
	f.BoolVar(&runShortCircuit, "short-circuit", false, "Only ask the subclass model about rows the binary model flags")
	f.BoolVar(&runScale, "scale", false, "Standardise features, fitted on the training rows")
	f.BoolVarP(&runQuiet, "quiet", "q", false, "Do not print the reports")
}

func runRun(cmd *cobra.Command, args []string) error {
	labelsFormat, err := export.ParseFormat(runLabelsFormat)
	if err != nil {
		return err
	}
	switch runReportFormat {
	case "text", "markdown", "md":
	default:
		return fmt.Errorf("unknown report format: %s (use: text, markdown)", runReportFormat)
	}

	env, err := setupEnv(cmd, &runFlags)
	if err != nil {
		return err
	}
	mc := &env.Config.Model
	flags := cmd.Flags()
	if flags.Changed("backend") {
		mc.Backend = runBackend
	}
	if flags.Changed("short-circuit") {
		mc.ShortCircuit = runShortCircuit
	}
	if flags.Changed("scale") {
		mc.Scale = runScale
	}

	name := runName
	if name == "" {
		name = env.Variant().Name
	}

	out, err := app.Run(cmd.Context(), env, app.RunConfig{
		Name:         name,
		Sources:      runFlags.sources(),
		ModelDir:     runModelDir,
		PerInterface: runPerInterface,
		Segment:      runSegment,
		Where:        runWhere,
		SaveLabels:   runSaveLabels,
		LabelsFormat: labelsFormat,
		ReportDir:    runReportDir,
		ReportFormat: runReportFormat,
	})
	if err != nil {
		return err
	}

	if !runQuiet {
		for _, d := range out.Reports() {
			if err := writeReport(d); err != nil {
				return err
			}
		}
	}
	if runReportDir != "" {
		fmt.Fprintf(os.Stderr, "Reports written to %s\n", filepath.Clean(runReportDir))
	}
	if runSaveLabels != "" {
		fmt.Fprintf(os.Stderr, "Wrote %d labeled rows to %s\n", out.Test.Len(), runSaveLabels)
	}
	fmt.Fprintf(os.Stderr, "Done in %v\n", out.Duration.Round(time.Millisecond))
	return env.Finish()
}

func writeReport(d *report.Data) error {
	if runReportFormat == "text" {
		return report.WriteText(os.Stdout, d)
	}
	if err := report.WriteMarkdown(os.Stdout, d); err != nil {
		return err
	}
	_, err := fmt.Fprintln(os.Stdout, strings.Repeat("-", 40))
	return err
}
