package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Zerofisher/canids/cascade"
	"github.com/Zerofisher/canids/classifier"
	"github.com/Zerofisher/canids/internal/config"
	"github.com/Zerofisher/canids/internal/telemetry"
	"github.com/Zerofisher/canids/pkg/model"
)

// ModelStore creates the stage learners of a run and, when Dir is set, keeps
// trained models there so a later run can reuse them.
//
// Layout inside Dir, with an "<interface>-" prefix for per-interface models:
//
//	binary.model, binary.scaler.json, multi.model, multi.scaler.json
type ModelStore struct {
	Dir     string
	Kind    classifier.Kind
	Backend classifier.BackendConfig
	Scale   bool
	// Overrides are merged over the kind's default parameters.
	Overrides map[classifier.Stage]classifier.Params
	// Classes fixes the output width of each stage.
	Classes map[classifier.Stage]int
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger
}

// NewModelStore builds a model store from the model settings.
func NewModelStore(mc config.ModelConfig, dir string, labels model.LabelMap, metrics *telemetry.Metrics, logger zerolog.Logger) (*ModelStore, error) {
	kind, err := classifier.ParseKind(mc.Backend)
	if err != nil {
		return nil, err
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create model directory: %w", err)
		}
	}
	return &ModelStore{
		Dir:  dir,
		Kind: kind,
		Backend: classifier.BackendConfig{
			Command:    mc.Command,
			Args:       mc.Args,
			WorkDir:    mc.WorkDir,
			Validation: mc.Validation,
			Seed:       mc.Seed,
			Logger:     logger.With().Str("component", "model").Logger(),
		},
		Scale: mc.Scale,
		Overrides: map[classifier.Stage]classifier.Params{
			classifier.StageBinary: mc.Binary,
			classifier.StageMulti:  mc.Multi,
		},
		Classes: map[classifier.Stage]int{
			classifier.StageBinary: len(model.ClassNames),
			classifier.StageMulti:  labels.Len(),
		},
		Metrics: metrics,
		Logger:  logger,
	}, nil
}

// Paths returns the model and scaler files of a stage. Both are empty when
// the store has no directory.
func (s *ModelStore) Paths(stage classifier.Stage, iface string) (modelPath, scalerPath string) {
	if s.Dir == "" {
		return "", ""
	}
	base := filepath.Join(s.Dir, fileStem(iface)+string(stage))
	return base + ".model", base + ".scaler.json"
}

func fileStem(iface string) string {
	if iface == "" {
		return ""
	}
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")
	return r.Replace(iface) + "-"
}

func (s *ModelStore) backend(stage classifier.Stage, iface string) classifier.BackendConfig {
	cfg := s.Backend
	cfg.ModelPath, _ = s.Paths(stage, iface)
	cfg.Params = classifier.DefaultParams(s.Kind, stage).Merge(s.Overrides[stage])
	cfg.NumClasses = s.Classes[stage]
	return cfg
}

// Learner returns a fresh learner for a stage. It satisfies
// cascade.LearnerFactory.
func (s *ModelStore) Learner(stage classifier.Stage, iface string) (classifier.Learner, error) {
	l, err := classifier.New(s.Kind, s.backend(stage, iface))
	if err != nil {
		return nil, err
	}
	learner := s.Metrics.InstrumentLearner(string(stage), l)
	if !s.Scale {
		return learner, nil
	}

	scaled := classifier.Standardized(learner)
	_, scalerPath := s.Paths(stage, iface)
	if scalerPath == "" {
		return scaled, nil
	}
	return classifier.LearnerFunc(func(ctx context.Context, X [][]float64, y []int) (classifier.Model, error) {
		m, err := scaled.Fit(ctx, X, y)
		if err != nil {
			return nil, err
		}
		if sm, ok := m.(*classifier.ScaledModel); ok {
			if err := sm.Scaler.Save(scalerPath); err != nil {
				return nil, fmt.Errorf("save scaler: %w", err)
			}
		}
		return m, nil
	}), nil
}

// Load returns a previously trained stage model. ok is false when the store
// has no complete model for the stage.
func (s *ModelStore) Load(stage classifier.Stage, iface string) (m classifier.Model, ok bool, err error) {
	modelPath, scalerPath := s.Paths(stage, iface)
	if modelPath == "" || !exists(modelPath) || (s.Scale && !exists(scalerPath)) {
		return nil, false, nil
	}
	cm, err := classifier.Load(s.Kind, s.backend(stage, iface), modelPath)
	if err != nil {
		return nil, false, err
	}
	m = s.Metrics.InstrumentModel(string(stage), cm)
	if s.Scale {
		scaler, err := classifier.LoadScaler(scalerPath)
		if err != nil {
			return nil, false, err
		}
		m = &classifier.ScaledModel{Scaler: scaler, Model: m}
	}
	return m, true, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Cascade loads the stage models for iface, or trains them on t when either
// is missing. reused reports whether saved models were used.
func (s *ModelStore) Cascade(ctx context.Context, iface string, t *model.Table) (c *cascade.Cascade, reused bool, err error) {
	binary, okB, err := s.Load(classifier.StageBinary, iface)
	if err != nil {
		return nil, false, err
	}
	multi, okM, err := s.Load(classifier.StageMulti, iface)
	if err != nil {
		return nil, false, err
	}
	if okB && okM {
		s.Logger.Info().Str("interface", iface).Str("dir", s.Dir).Msg("Reusing saved models")
		return &cascade.Cascade{Binary: binary, Multi: multi}, true, nil
	}

	bl, err := s.Learner(classifier.StageBinary, iface)
	if err != nil {
		return nil, false, err
	}
	ml, err := s.Learner(classifier.StageMulti, iface)
	if err != nil {
		return nil, false, err
	}
	c, err = cascade.Fit(ctx, bl, ml, t)
	return c, false, err
}

// Cascades returns one cascade per interface of t, keyed by interface.
// Without a model directory every cascade is trained afresh.
func (s *ModelStore) Cascades(ctx context.Context, t *model.Table) (map[string]*cascade.Cascade, error) {
	if s.Dir == "" {
		return cascade.FitByInterface(ctx, s.Learner, t)
	}
	out := make(map[string]*cascade.Cascade)
	for _, iface := range cascade.Interfaces(t) {
		part := t.Where(func(r *model.Row) bool { return r.Interface == iface })
		c, _, err := s.Cascade(ctx, iface, part)
		if err != nil {
			return nil, err
		}
		out[iface] = c
	}
	return out, nil
}
