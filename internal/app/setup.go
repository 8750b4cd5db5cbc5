// Package app provides application-level orchestration for canids: it turns
// a loaded configuration into a feature pipeline, a model store and the
// outputs of a run.
package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/features"
	"github.com/Zerofisher/canids/filter"
	"github.com/Zerofisher/canids/internal/config"
	"github.com/Zerofisher/canids/internal/telemetry"
	"github.com/Zerofisher/canids/pkg/ingest"
	"github.com/Zerofisher/canids/pkg/model"
	"github.com/Zerofisher/canids/pkg/store"
	"github.com/Zerofisher/canids/pkg/store/sqlite"
)

// Env is everything a command needs once configuration has been resolved.
type Env struct {
	Config   *config.Config
	Preset   config.Preset
	Features features.Config
	Decode   decode.Options
	Metrics  *telemetry.Metrics
	Logger   zerolog.Logger
}

// Setup validates cfg and resolves the observation variant. featureSet
// overrides both the preset's suggested set and the configured one.
func Setup(cfg *config.Config, featureSet string, logger zerolog.Logger) (*Env, error) {
	preset, err := config.LookupVariant(cfg.Variant, cfg.VariantsFile)
	if err != nil {
		return nil, err
	}

	fc := cfg.FeatureConfig()
	switch {
	case featureSet != "":
		fc.Set = featureSet
	case preset.FeatureSet != "":
		fc.Set = preset.FeatureSet
	}
	cfg.Features.Set = fc.Set
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	opts, err := cfg.DecodeOptions()
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("variant", preset.Variant.Name).Str("feature_set", fc.Set).
		Strs("labels", preset.Variant.Labels.Names()).Msg("Configuration resolved")

	return &Env{
		Config:   cfg,
		Preset:   preset,
		Features: fc,
		Decode:   opts,
		Metrics:  telemetry.New(),
		Logger:   logger,
	}, nil
}

// Variant returns the active variant.
func (e *Env) Variant() model.Variant { return e.Preset.Variant }

// OpenCache opens the feature cache, or returns nil when caching is disabled.
func (e *Env) OpenCache() (store.Cache, error) {
	if !e.Config.Cache.Enabled {
		return nil, nil
	}
	c, err := sqlite.New(sqlite.Config{
		DBPath: e.Config.Cache.Path,
		WAL:    true,
		Logger: e.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open feature cache: %w", err)
	}
	return c, nil
}

// Pipeline builds the extraction pipeline for src.
func (e *Env) Pipeline(src store.Sources, cache store.Cache) (*ingest.Pipeline, error) {
	return ingest.New(ingest.Config{
		Sources:              src,
		Variant:              e.Variant(),
		Features:             e.Features,
		Decode:               e.Decode,
		LabelColumn:          e.Config.Decode.LabelColumn,
		PartitionByInterface: e.Config.Features.PartitionByInterface,
		Workers:              e.Config.Features.Workers,
		Cache:                cache,
		Metrics:              e.Metrics,
		Logger:               e.Logger,
	})
}

// Finish writes the run's metrics when a metrics file is configured.
func (e *Env) Finish() error {
	if e.Config.MetricsFile == "" {
		return nil
	}
	if err := e.Metrics.WriteTextfile(e.Config.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// CompileWhere compiles a row filter expression.
// Returns a nil filter if expression is empty.
func CompileWhere(expression string, labels model.LabelMap) (*filter.CompiledFilter, error) {
	if expression == "" {
		return nil, nil
	}
	return filter.Compile(expression, labels)
}
