package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Zerofisher/canids/cascade"
	"github.com/Zerofisher/canids/export"
	"github.com/Zerofisher/canids/filter"
	"github.com/Zerofisher/canids/internal/report"
	"github.com/Zerofisher/canids/metrics"
	"github.com/Zerofisher/canids/pkg/ingest"
	"github.com/Zerofisher/canids/pkg/model"
	"github.com/Zerofisher/canids/pkg/store"
)

// Report titles, one per cascade stage.
const (
	TitleBinary = "Binary"
	TitleMulti  = "Multi"
)

// RunConfig holds the options of one train-and-evaluate run.
type RunConfig struct {
	Name    string // Report name, e.g. the dataset
	Sources store.Sources

	// ModelDir reuses models saved there and saves newly trained ones.
	ModelDir string
	// PerInterface trains and routes one cascade per interface.
	PerInterface bool
	// Segment adds a per-interface breakdown to each report.
	Segment bool
	// Where is an optional row filter applied after the retention policies.
	Where string

	// SaveLabels writes the labeled test table to this path.
	SaveLabels   string
	LabelsFormat export.OutputFormat
	// ReportDir receives "<Name> <Stage> report.<ext>" files.
	ReportDir    string
	ReportFormat string
}

// Outcome is the result of a run.
type Outcome struct {
	Extraction *ingest.Result
	Train      *model.Table // after filtering
	Test       *model.Table // after filtering
	Decisions  []model.Decision
	Binary     *report.Data
	Multi      *report.Data
	Duration   time.Duration
}

// Reports returns the stage reports in order.
func (o *Outcome) Reports() []*report.Data { return []*report.Data{o.Binary, o.Multi} }

// Run extracts features, filters both splits, trains or loads the cascade,
// routes the test split and scores both stages.
func Run(ctx context.Context, env *Env, rc RunConfig) (*Outcome, error) {
	start := time.Now()
	if len(rc.Sources.Test) == 0 {
		return nil, fmt.Errorf("run: no test sources")
	}
	variant := env.Variant()

	where, err := CompileWhere(rc.Where, variant.Labels)
	if err != nil {
		return nil, err
	}

	// 1. Features, from the cache when possible
	cache, err := env.OpenCache()
	if err != nil {
		return nil, err
	}
	if cache != nil {
		defer cache.Close()
	}
	p, err := env.Pipeline(rc.Sources, cache)
	if err != nil {
		return nil, err
	}
	ex, err := p.Run(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Retention policies, then the ad-hoc filter
	f := filter.New(variant)
	train := applyFilter(env, f, filter.PolicyTrain, where, ex.Train)
	test := applyFilter(env, f, filter.PolicyTest, where, ex.Test)
	if train.Len() == 0 {
		return nil, fmt.Errorf("run: no training rows left after filtering")
	}
	env.Logger.Info().Int("train_rows", train.Len()).Int("test_rows", test.Len()).
		Bool("cache_hit", ex.CacheHit).Msg("Tables ready")

	// 3. Models
	ms, err := NewModelStore(env.Config.Model, rc.ModelDir, variant.Labels, env.Metrics, env.Logger)
	if err != nil {
		return nil, err
	}
	opts := cascade.Options{ShortCircuit: env.Config.Model.ShortCircuit, Logger: env.Logger}

	var decisions []model.Decision
	if rc.PerInterface {
		cascades, err := ms.Cascades(ctx, train)
		if err != nil {
			return nil, err
		}
		// Interfaces emptied by the train policy fall back to a combined model.
		if missing := cascade.Missing(cascades, test); len(missing) > 0 {
			env.Logger.Warn().Strs("interfaces", missing).Msg("No training rows for interfaces, fitting combined model")
			if cascades[""], _, err = ms.Cascade(ctx, "", train); err != nil {
				return nil, err
			}
		}
		decisions, err = cascade.RouteByInterface(ctx, cascades, variant.Labels, opts, test)
		if err != nil {
			return nil, err
		}
	} else {
		c, _, err := ms.Cascade(ctx, "", train)
		if err != nil {
			return nil, err
		}
		router, err := c.Router(variant.Labels, opts)
		if err != nil {
			return nil, err
		}
		decisions, err = router.Route(ctx, test.Matrix())
		if err != nil {
			return nil, err
		}
	}

	// 4. Scores
	out := &Outcome{Extraction: ex, Train: train, Test: test, Decisions: decisions}
	out.Binary, err = scoreStage(env, rc, TitleBinary, test.Classes(), cascade.PredictedClasses(decisions), model.ClassNames, test)
	if err != nil {
		return nil, err
	}
	out.Multi, err = scoreStage(env, rc, TitleMulti, test.Labels(), cascade.PredictedSubclasses(decisions), variant.Labels.Names(), test)
	if err != nil {
		return nil, err
	}

	// 5. Outputs
	if err := writeOutputs(rc, out); err != nil {
		return nil, err
	}
	out.Duration = time.Since(start)
	return out, nil
}

func applyFilter(env *Env, f *filter.Filter, p filter.Policy, where *filter.CompiledFilter, t *model.Table) *model.Table {
	kept := f.Apply(p, t)
	if where != nil {
		kept = where.Apply(kept)
	}
	env.Metrics.Filtered(string(p), kept.Len(), t.Len()-kept.Len())
	return kept
}

func scoreStage(env *Env, rc RunConfig, title string, yTrue, yPred []int, labels []string, test *model.Table) (*report.Data, error) {
	d := report.Generate(rc.Name)
	d.Variant = env.Variant().Name
	d.FeatureSet = env.Features.Set
	d.Backend = env.Config.Model.Backend
	d.TestRows = test.Len()

	r, err := metrics.Compute(yTrue, yPred, labels)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", title, err)
	}
	d.Add(title, "", r)

	if rc.Segment {
		tags := test.Interfaces()
		segments, err := metrics.Segment(yTrue, yPred, tags, labels)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", title, err)
		}
		for _, tag := range metrics.Tags(tags) {
			d.Add(title, tag, segments[tag])
		}
	}
	return d, nil
}

func writeOutputs(rc RunConfig, out *Outcome) error {
	for _, d := range out.Reports() {
		d.TrainRows = out.Train.Len()
	}

	if rc.SaveLabels != "" {
		f, err := os.Create(rc.SaveLabels)
		if err != nil {
			return fmt.Errorf("create labeled output: %w", err)
		}
		err = export.WriteLabeled(f, out.Test, out.Decisions, rc.LabelsFormat)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write labeled output: %w", err)
		}
	}

	if rc.ReportDir != "" {
		if err := os.MkdirAll(rc.ReportDir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
		for _, d := range out.Reports() {
			path := filepath.Join(rc.ReportDir, ReportFileName(rc.Name, d.Sections[0].Title, rc.ReportFormat))
			if err := report.WriteFile(path, d, rc.ReportFormat); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReportFileName names a stage report file.
func ReportFileName(name, stage, format string) string {
	ext := "txt"
	if format == "markdown" || format == "md" {
		ext = "md"
	}
	if name == "" {
		return fmt.Sprintf("%s report.%s", stage, ext)
	}
	return fmt.Sprintf("%s %s report.%s", name, stage, ext)
}
