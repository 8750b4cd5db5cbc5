// Package cascade runs the two-stage decision: a binary Normal/Attack stage
// followed by a multi-class attack-type stage, merged into one Decision per
// row.
package cascade

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Zerofisher/canids/classifier"
	"github.com/Zerofisher/canids/pkg/model"
)

// ErrVerdict is returned when a model answers with a class outside the
// range the router was configured for.
var ErrVerdict = errors.New("verdict out of range")

// Options controls routing.
type Options struct {
	// ShortCircuit skips stage 2 for rows stage 1 calls Normal; their
	// subclass is set to Normal. Off by default so that both stages are
	// scored on every row.
	ShortCircuit bool
	Logger       zerolog.Logger
}

// Router orchestrates predictions of the two stages. It never fits.
type Router struct {
	binary classifier.Model
	multi  classifier.Model
	labels model.LabelMap
	opts   Options
}

// NewRouter creates a router for the given stage models and active label map.
func NewRouter(binary, multi classifier.Model, labels model.LabelMap, opts Options) (*Router, error) {
	if binary == nil || multi == nil {
		return nil, fmt.Errorf("new router: both stage models are required")
	}
	if labels.Len() < 2 {
		return nil, fmt.Errorf("new router: label map needs at least two labels, got %d", labels.Len())
	}
	return &Router{binary: binary, multi: multi, labels: labels, opts: opts}, nil
}

// Labels returns the label map subclasses are decoded against.
func (r *Router) Labels() model.LabelMap { return r.labels }

// Route predicts both stages for every row of X. Errors from either model
// are returned as-is.
func (r *Router) Route(ctx context.Context, X [][]float64) ([]model.Decision, error) {
	out := make([]model.Decision, len(X))
	if len(X) == 0 {
		return out, nil
	}

	classes, err := r.binary.Predict(ctx, X)
	if err != nil {
		return nil, err
	}
	if err := checkVerdicts("binary", classes, len(X), len(model.ClassNames)); err != nil {
		return nil, err
	}

	rows := X
	var attack []int
	if r.opts.ShortCircuit {
		for i, c := range classes {
			if c == model.ClassAttack {
				attack = append(attack, i)
			}
		}
		rows = classifier.Rows(X, attack)
	}

	var subclasses []int
	if len(rows) > 0 {
		subclasses, err = r.multi.Predict(ctx, rows)
		if err != nil {
			return nil, err
		}
		if err := checkVerdicts("multi", subclasses, len(rows), r.labels.Len()); err != nil {
			return nil, err
		}
	}

	for i, c := range classes {
		out[i].PredictedClass = c
	}
	if r.opts.ShortCircuit {
		for k, i := range attack {
			out[i].PredictedSubclass = subclasses[k]
		}
	} else {
		for i, s := range subclasses {
			out[i].PredictedSubclass = s
		}
	}

	r.opts.Logger.Debug().Int("rows", len(X)).Int("stage2_rows", len(rows)).
		Bool("short_circuit", r.opts.ShortCircuit).Msg("Routed batch")
	return out, nil
}

func checkVerdicts(stage string, pred []int, rows, classes int) error {
	if len(pred) != rows {
		return fmt.Errorf("%s stage returned %d verdicts for %d rows: %w", stage, len(pred), rows, ErrVerdict)
	}
	for i, v := range pred {
		if v < 0 || v >= classes {
			return fmt.Errorf("%s stage row %d: class %d not in [0,%d): %w", stage, i, v, classes, ErrVerdict)
		}
	}
	return nil
}

// PredictedClasses extracts the stage-1 verdicts.
func PredictedClasses(ds []model.Decision) []int {
	out := make([]int, len(ds))
	for i, d := range ds {
		out[i] = d.PredictedClass
	}
	return out
}

// PredictedSubclasses extracts the stage-2 verdicts.
func PredictedSubclasses(ds []model.Decision) []int {
	out := make([]int, len(ds))
	for i, d := range ds {
		out[i] = d.PredictedSubclass
	}
	return out
}
