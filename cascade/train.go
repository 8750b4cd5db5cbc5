package cascade

import (
	"context"
	"fmt"
	"sort"

	"github.com/Zerofisher/canids/classifier"
	"github.com/Zerofisher/canids/pkg/model"
)

// Cascade holds the two trained stage models.
type Cascade struct {
	Binary classifier.Model
	Multi  classifier.Model
}

// Router wraps the cascade in a Router.
func (c *Cascade) Router(labels model.LabelMap, opts Options) (*Router, error) {
	return NewRouter(c.Binary, c.Multi, labels, opts)
}

// Fit trains stage 1 on the Class column and stage 2 on the Label column of
// t. Learner errors are returned as-is.
func Fit(ctx context.Context, binary, multi classifier.Learner, t *model.Table) (*Cascade, error) {
	if t.Len() == 0 {
		return nil, fmt.Errorf("fit cascade: empty training table")
	}
	X := t.Matrix()
	b, err := binary.Fit(ctx, X, t.Classes())
	if err != nil {
		return nil, err
	}
	m, err := multi.Fit(ctx, X, t.Labels())
	if err != nil {
		return nil, err
	}
	return &Cascade{Binary: b, Multi: m}, nil
}

// LearnerFactory returns a fresh learner for a stage and interface. The
// interface is empty for a combined model.
type LearnerFactory func(stage classifier.Stage, iface string) (classifier.Learner, error)

// FitByInterface trains one cascade per interface present in t.
func FitByInterface(ctx context.Context, factory LearnerFactory, t *model.Table) (map[string]*Cascade, error) {
	out := make(map[string]*Cascade)
	for _, iface := range Interfaces(t) {
		part := t.Where(func(r *model.Row) bool { return r.Interface == iface })
		binary, err := factory(classifier.StageBinary, iface)
		if err != nil {
			return nil, err
		}
		multi, err := factory(classifier.StageMulti, iface)
		if err != nil {
			return nil, err
		}
		c, err := Fit(ctx, binary, multi, part)
		if err != nil {
			return nil, err
		}
		out[iface] = c
	}
	return out, nil
}

// RouteByInterface routes each interface's rows of t through that
// interface's cascade. Rows of an interface without a cascade go through the
// combined cascade stored under the empty key, if any. Decisions are returned
// in row order.
func RouteByInterface(ctx context.Context, cascades map[string]*Cascade, labels model.LabelMap, opts Options, t *model.Table) ([]model.Decision, error) {
	out := make([]model.Decision, t.Len())
	for _, iface := range Interfaces(t) {
		c, ok := cascades[iface]
		if !ok {
			if c, ok = cascades[""]; !ok {
				return nil, fmt.Errorf("route: no model trained for interface %q", iface)
			}
			opts.Logger.Warn().Str("interface", iface).Msg("No model for interface, using combined model")
		}
		r, err := c.Router(labels, opts)
		if err != nil {
			return nil, err
		}

		var idx []int
		for i := range t.Rows {
			if t.Rows[i].Interface == iface {
				idx = append(idx, i)
			}
		}
		ds, err := r.Route(ctx, classifier.Rows(t.Matrix(), idx))
		if err != nil {
			return nil, err
		}
		for k, i := range idx {
			out[i] = ds[k]
		}
	}
	return out, nil
}

// Missing returns the interfaces of t that have no cascade, in sorted order.
func Missing(cascades map[string]*Cascade, t *model.Table) []string {
	var out []string
	for _, iface := range Interfaces(t) {
		if _, ok := cascades[iface]; !ok {
			out = append(out, iface)
		}
	}
	return out
}

// Interfaces returns the distinct interface tags of t in sorted order.
func Interfaces(t *model.Table) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range t.Rows {
		if iface := t.Rows[i].Interface; !seen[iface] {
			seen[iface] = true
			out = append(out, iface)
		}
	}
	sort.Strings(out)
	return out
}
