package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/canids/capture"
	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/internal/app"
	"github.com/Zerofisher/canids/internal/logging"
	"github.com/Zerofisher/canids/pkg/ingest"
	"github.com/Zerofisher/canids/pkg/model"
)

// convert command flags
var (
	convertFilter       string
	convertLabelColumn  string
	convertDefaultLabel string
	convertCount        int
)

var convertCmd = &cobra.Command{
	Use:   "convert <source>... <output>",
	Short: "Convert between CSV logs and SocketCAN captures",
	Long: `Read CSV logs or pcap/pcapng captures and write them as one CSV log (.csv)
or one SocketCAN pcapng capture (.pcapng). Frames are validated and labels
canonicalised on the way through. Capture files carry no labels, so frames
read from them take --default-label.`,
	Example: `  canids convert data/train/*labels.csv train.pcapng
  canids convert drive.pcapng drive.csv --default-label Normal
  canids convert data/test test_pcan.csv -Y 'iface == "P-CAN"'`,
	GroupID: "info",
	Args:    cobra.MinimumNArgs(2),
	RunE:    runConvert,
}

func init() {
	f := convertCmd.Flags()
	f.StringVarP(&convertFilter, "filter", "Y", "", "Frame filter expression")
	f.StringVar(&convertLabelColumn, "label-column", "", "CSV label column, for input and output")
	f.StringVar(&convertDefaultLabel, "default-label", "Normal", "Label for frames without one")
	f.IntVar(&convertCount, "count", 0, "Stop after n frames (0 = unlimited)")
}

// runConvert writes all input frames to a single output file
func runConvert(cmd *cobra.Command, args []string) error {
	inputs, output := args[:len(args)-1], args[len(args)-1]
	ext := strings.ToLower(filepath.Ext(output))
	if ext != ".csv" && ext != ".pcapng" {
		return fmt.Errorf("unsupported output format %q (use: .csv, .pcapng)", ext)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("label-column") {
		cfg.Decode.LabelColumn = convertLabelColumn
	}
	cfg.Decode.DefaultLabel = convertDefaultLabel
	env, err := app.Setup(cfg, "", logging.Component("convert"))
	if err != nil {
		return err
	}
	variant := env.Variant()

	where, err := app.CompileWhere(convertFilter, variant.Labels)
	if err != nil {
		return fmt.Errorf("error compiling filter: %w", err)
	}
	files, err := ingest.ExpandSources(inputs)
	if err != nil {
		return err
	}
	n := decode.NewNormalizer(variant, env.Decode, env.Logger)
	frames, err := ingest.LoadFrames(cmd.Context(), files, capture.Options{LabelColumn: cfg.Decode.LabelColumn}, n)
	if err != nil {
		return err
	}

	selected := frames[:0]
	for i := range frames {
		if where != nil && !where.Match(frameRow(&frames[i])) {
			continue
		}
		selected = append(selected, frames[i])
		if convertCount > 0 && len(selected) >= convertCount {
			break
		}
	}

	fmt.Fprintf(os.Stderr, "Writing frames to %s...\n", output)
	if ext == ".pcapng" {
		err = writePcapng(output, selected)
	} else {
		err = writeCSV(output, cfg.Decode.LabelColumn, selected)
	}
	if err != nil {
		return err
	}

	s := n.Stats()
	fmt.Fprintf(os.Stderr, "Written %d frames to %s (%d dropped, %d zero-filled)\n",
		len(selected), output, s.Dropped, s.Defaulted)
	return nil
}

func writePcapng(path string, frames []model.Frame) error {
	first := ""
	if len(frames) > 0 {
		first = frames[0].Interface
	}
	w, err := capture.NewPcapWriter(path, first)
	if err != nil {
		return err
	}
	if _, err := w.WriteFrames(frames); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Close()
}

func writeCSV(path, labelColumn string, frames []model.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w, err := capture.NewCSVWriter(f, labelColumn)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for i := range frames {
		if err := w.WriteFrame(&frames[i]); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
