package classifier

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BackendConfig configures an external model command.
//
// The command is invoked as
//
//	<Command> <Args...> fit --kind K --params JSON --x X.csv --y Y.csv --model PATH [--val-x V.csv --val-y W.csv]
//	<Command> <Args...> predict --kind K --model PATH --x X.csv --out P.csv
//
// Matrices are header-less CSV. Predictions hold one class index per line,
// or one row of class probabilities per line for the lstm kind.
type BackendConfig struct {
	Command string
	Args    []string
	// WorkDir holds scratch files and default model paths. Defaults to the
	// system temp directory.
	WorkDir string
	// ModelPath is where Fit stores the trained model.
	ModelPath string
	Params    Params
	// NumClasses fixes the one-hot width for lstm; 0 uses max(y)+1.
	NumClasses int
	// Validation is the stratified fraction of the training set handed to
	// the backend as a validation set. 0 disables it.
	Validation float64
	Seed       int64
	Logger     zerolog.Logger
}

func (c BackendConfig) workDir() string {
	if c.WorkDir == "" {
		return os.TempDir()
	}
	return c.WorkDir
}

// CommandLearner trains models by running an external command.
type CommandLearner struct {
	kind Kind
	cfg  BackendConfig
}

// Kind returns the backend kind.
func (l *CommandLearner) Kind() Kind { return l.kind }

// Fit writes X and y to scratch files and runs the fit sub-command.
func (l *CommandLearner) Fit(ctx context.Context, X [][]float64, y []int) (Model, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("fit: %d rows but %d labels", len(X), len(y))
	}
	if len(X) == 0 {
		return nil, fmt.Errorf("fit: empty training set")
	}

	dir, err := os.MkdirTemp(l.cfg.workDir(), "canids-fit-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	modelPath := l.cfg.ModelPath
	if modelPath == "" {
		modelPath = filepath.Join(l.cfg.workDir(), fmt.Sprintf("canids-%s-%s.model", l.kind, uuid.NewString()))
	}

	classes := l.cfg.NumClasses
	if classes == 0 {
		for _, v := range y {
			classes = max(classes, v+1)
		}
	}
	params := l.cfg.Params.Merge(nil)
	if l.kind == KindLSTM {
		// Rows are fed as sequences of length one.
		params["input_shape"] = []int{1, len(X[0])}
		params["num_classes"] = classes
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	trainX, trainY := X, y
	var valX [][]float64
	var valY []int
	if l.cfg.Validation > 0 {
		tr, va := StratifiedSplit(y, l.cfg.Validation, l.cfg.Seed)
		trainX, trainY = Rows(X, tr), Labels(y, tr)
		valX, valY = Rows(X, va), Labels(y, va)
	}

	xPath, yPath := filepath.Join(dir, "x.csv"), filepath.Join(dir, "y.csv")
	if err := l.writeSet(xPath, yPath, trainX, trainY, classes); err != nil {
		return nil, err
	}
	args := []string{"fit", "--kind", string(l.kind), "--params", string(paramsJSON),
		"--x", xPath, "--y", yPath, "--model", modelPath}
	if len(valX) > 0 {
		vxPath, vyPath := filepath.Join(dir, "val_x.csv"), filepath.Join(dir, "val_y.csv")
		if err := l.writeSet(vxPath, vyPath, valX, valY, classes); err != nil {
			return nil, err
		}
		args = append(args, "--val-x", vxPath, "--val-y", vyPath)
	}

	l.cfg.Logger.Info().Str("kind", string(l.kind)).Int("rows", len(trainX)).Int("features", len(X[0])).
		Msg("Fitting model")
	if err := run(ctx, l.cfg, args); err != nil {
		return nil, err
	}
	return &CommandModel{kind: l.kind, cfg: l.cfg, path: modelPath}, nil
}

func (l *CommandLearner) writeSet(xPath, yPath string, X [][]float64, y []int, classes int) error {
	if err := writeMatrix(xPath, X); err != nil {
		return err
	}
	if l.kind == KindLSTM {
		return writeMatrix(yPath, OneHot(y, classes))
	}
	return writeLabels(yPath, y)
}

// CommandModel is a trained model stored at a path and served by the
// predict sub-command.
type CommandModel struct {
	kind Kind
	cfg  BackendConfig
	path string
}

// Load returns a model previously written by Fit.
func Load(kind Kind, cfg BackendConfig, path string) (*CommandModel, error) {
	if _, err := New(kind, cfg); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("load %s model: %w", kind, err)
	}
	return &CommandModel{kind: kind, cfg: cfg, path: path}, nil
}

// Path returns the model file.
func (m *CommandModel) Path() string { return m.path }

// Predict runs the predict sub-command.
func (m *CommandModel) Predict(ctx context.Context, X [][]float64) ([]int, error) {
	if len(X) == 0 {
		return []int{}, nil
	}
	dir, err := os.MkdirTemp(m.cfg.workDir(), "canids-predict-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	xPath, outPath := filepath.Join(dir, "x.csv"), filepath.Join(dir, "pred.csv")
	if err := writeMatrix(xPath, X); err != nil {
		return nil, err
	}
	args := []string{"predict", "--kind", string(m.kind), "--model", m.path, "--x", xPath, "--out", outPath}
	if err := run(ctx, m.cfg, args); err != nil {
		return nil, err
	}

	pred, err := readPredictions(outPath, m.kind == KindLSTM)
	if err != nil {
		return nil, err
	}
	if len(pred) != len(X) {
		return nil, fmt.Errorf("predict: backend returned %d predictions for %d rows", len(pred), len(X))
	}
	return pred, nil
}

func run(ctx context.Context, cfg BackendConfig, args []string) error {
	full := append(append([]string(nil), cfg.Args...), args...)
	cmd := exec.CommandContext(ctx, cfg.Command, full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", cfg.Command, args[0], err, strings.TrimSpace(string(out)))
	}
	if len(out) > 0 {
		cfg.Logger.Debug().Str("command", args[0]).Msg(strings.TrimSpace(string(out)))
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Label encoding
// ────────────────────────────────────────────────────────────────────────────────

// OneHot encodes labels as indicator rows of width classes.
func OneHot(y []int, classes int) [][]float64 {
	out := make([][]float64, len(y))
	for i, v := range y {
		row := make([]float64, classes)
		if v >= 0 && v < classes {
			row[v] = 1
		}
		out[i] = row
	}
	return out
}

// Argmax decodes probability rows into class indices. Ties resolve to the
// lowest index.
func Argmax(p [][]float64) []int {
	out := make([]int, len(p))
	for i, row := range p {
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// ────────────────────────────────────────────────────────────────────────────────
// Scratch files
// ────────────────────────────────────────────────────────────────────────────────

func writeMatrix(path string, X [][]float64) error {
	return writeCSV(path, len(X), func(i int) []string {
		rec := make([]string, len(X[i]))
		for j, v := range X[i] {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		return rec
	})
}

func writeLabels(path string, y []int) error {
	return writeCSV(path, len(y), func(i int) []string {
		return []string{strconv.Itoa(y[i])}
	})
}

func writeCSV(path string, n int, row func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func readPredictions(path string, probabilities bool) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read predictions: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var labels []int
	var probs [][]float64
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read predictions: %w", err)
		}
		row := make([]float64, len(rec))
		for j, s := range rec {
			if row[j], err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
				return nil, fmt.Errorf("predictions line %d: %w", line, err)
			}
		}
		if probabilities {
			probs = append(probs, row)
			continue
		}
		if len(row) != 1 {
			return nil, fmt.Errorf("predictions line %d: want one value, got %d", line, len(row))
		}
		labels = append(labels, int(row[0]))
	}
	if probabilities {
		return Argmax(probs), nil
	}
	return labels, nil
}
