// Package classifier is the boundary to external learning models. The core
// only needs Fit and Predict; how a model learns is the backend's concern.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Model predicts one class index per row of X.
type Model interface {
	Predict(ctx context.Context, X [][]float64) ([]int, error)
}

// Learner trains a Model from a feature matrix and label vector.
type Learner interface {
	Fit(ctx context.Context, X [][]float64, y []int) (Model, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, X [][]float64) ([]int, error)

// Predict calls f.
func (f ModelFunc) Predict(ctx context.Context, X [][]float64) ([]int, error) { return f(ctx, X) }

// LearnerFunc adapts a function to Learner.
type LearnerFunc func(ctx context.Context, X [][]float64, y []int) (Model, error)

// Fit calls f.
func (f LearnerFunc) Fit(ctx context.Context, X [][]float64, y []int) (Model, error) {
	return f(ctx, X, y)
}

// ErrUnknownBackend is returned for an unrecognised backend kind.
var ErrUnknownBackend = errors.New("unknown model backend")

// Kind selects a model family.
type Kind string

const (
	KindRF      Kind = "rf"
	KindXGBoost Kind = "xgboost"
	KindLSTM    Kind = "lstm"
)

// Kinds lists the supported backends.
var Kinds = []Kind{KindRF, KindXGBoost, KindLSTM}

// ParseKind accepts the backend names used across the tooling, ignoring case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rf", "randomforest", "random_forest":
		return KindRF, nil
	case "xgboost", "xgb":
		return KindXGBoost, nil
	case "lstm":
		return KindLSTM, nil
	default:
		return "", fmt.Errorf("%w %q (use: rf, xgboost, lstm)", ErrUnknownBackend, s)
	}
}

// Stage identifies which cascade stage a model serves.
type Stage string

const (
	StageBinary Stage = "binary" // Normal vs Attack
	StageMulti  Stage = "multi"  // Attack subclass
	StageSingle Stage = "single" // One multi-class model, no cascade
)

// Params are backend hyper-parameters, passed to the backend as JSON.
type Params map[string]any

// DefaultParams returns the tuned defaults for a kind and stage.
func DefaultParams(kind Kind, stage Stage) Params {
	switch kind {
	case KindRF:
		switch stage {
		case StageBinary:
			return Params{"n_estimators": 170, "max_depth": 15}
		case StageMulti:
			return Params{"n_estimators": 130, "max_depth": 30}
		default:
			return Params{"n_estimators": 100, "max_depth": 20}
		}
	case KindXGBoost:
		return Params{"n_estimators": 100, "max_depth": 10, "learning_rate": 0.1}
	case KindLSTM:
		return Params{"units": 64, "epochs": 10, "batch_size": 256}
	}
	return Params{}
}

// Merge returns p overlaid with override.
func (p Params) Merge(override Params) Params {
	out := make(Params, len(p)+len(override))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// New creates a learner for kind backed by cfg.
func New(kind Kind, cfg BackendConfig) (Learner, error) {
	switch kind {
	case KindRF, KindXGBoost, KindLSTM:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownBackend, kind)
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("%s backend: no model command configured", kind)
	}
	return &CommandLearner{kind: kind, cfg: cfg}, nil
}
