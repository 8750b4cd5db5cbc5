// Package ingest drives feature extraction for a train/test run: it reads
// and normalises the sources, extracts each interface partition in
// parallel, and memoises the resulting tables in the feature cache.
package ingest

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Zerofisher/canids/capture"
	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/features"
	"github.com/Zerofisher/canids/internal/telemetry"
	"github.com/Zerofisher/canids/pkg/model"
	"github.com/Zerofisher/canids/pkg/store"
)

// checkEvery is how many frames pass between context checks.
const checkEvery = 4096

// Config holds configuration for the ingest pipeline.
type Config struct {
	// Sources are CSV files, directories of *labels.csv files, or SocketCAN
	// pcap/pcapng captures.
	Sources store.Sources

	Variant     model.Variant
	Features    features.Config
	Decode      decode.Options
	LabelColumn string

	// PartitionByInterface extracts each interface as its own stream. When
	// false the concatenated input is one stream ordered by timestamp.
	PartitionByInterface bool

	// Workers bounds parallel partition extraction.
	// Defaults to runtime.GOMAXPROCS(0) if <= 0.
	Workers int

	// Cache is optional; nil disables memoisation.
	Cache   store.Cache
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger
}

// Result holds the result of an ingest operation.
type Result struct {
	Signature string
	Train     *model.Table
	Test      *model.Table
	CacheHit  bool
	Sources   store.Sources // expanded file lists
	Stats     decode.Stats  // zero on a cache hit
	Duration  time.Duration
}

// Pipeline is the extraction pipeline of one run.
type Pipeline struct {
	cfg       Config
	extractor *features.Extractor
	logger    zerolog.Logger
}

// New creates a new ingest pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.LabelColumn == "" {
		cfg.LabelColumn = capture.DefaultLabelColumn
	}
	if err := cfg.Variant.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Sources.Train) == 0 {
		return nil, fmt.Errorf("no training sources")
	}
	ex, err := features.NewExtractor(cfg.Features)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:       cfg,
		extractor: ex,
		logger:    cfg.Logger.With().Str("component", "ingest").Logger(),
	}, nil
}

// Signature expands the sources and derives the cache key for this run.
func (p *Pipeline) Signature() (string, store.Sources, error) {
	train, err := ExpandSources(p.cfg.Sources.Train)
	if err != nil {
		return "", store.Sources{}, err
	}
	test, err := ExpandSources(p.cfg.Sources.Test)
	if err != nil {
		return "", store.Sources{}, err
	}
	src := store.Sources{Train: train, Test: test}

	fc := p.extractor.Config()
	sig, err := store.Signature(src, store.KeyConfig{
		FeatureSet:           p.extractor.Set().Tag(),
		WindowSize:           fc.WindowSize,
		TimeSize:             fc.TimeSize,
		RollingWindow:        fc.RollingWindow,
		Variant:              VariantKey(p.cfg.Variant),
		LabelColumn:          p.cfg.LabelColumn,
		OnMalformed:          string(p.cfg.Decode.OnMalformed),
		DefaultLabel:         p.cfg.Decode.DefaultLabel,
		PartitionByInterface: p.cfg.PartitionByInterface,
	})
	if err != nil {
		return "", store.Sources{}, err
	}
	return sig, src, nil
}

// Run returns the train and test tables, from the cache when possible.
// Nothing is written to the cache unless both splits were extracted.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	sig, src, err := p.Signature()
	if err != nil {
		return nil, err
	}
	result := &Result{Signature: sig, Sources: src}
	log := p.logger.With().Str("signature", sig[:12]).Logger()

	if p.cfg.Cache != nil {
		entry, ok, err := p.cfg.Cache.Get(ctx, sig)
		if err != nil {
			log.Warn().Err(err).Msg("Cache lookup failed, recomputing")
		}
		p.cfg.Metrics.CacheLookup(ok)
		if ok {
			log.Info().Int("train_rows", entry.Train.Len()).Int("test_rows", entry.Test.Len()).Msg("Feature cache hit")
			result.Train, result.Test, result.CacheHit = entry.Train, entry.Test, true
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	for _, split := range []struct {
		name  string
		paths []string
		out   **model.Table
	}{{"train", src.Train, &result.Train}, {"test", src.Test, &result.Test}} {
		t, stats, err := p.extractSplit(ctx, split.name, split.paths)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", split.name, err)
		}
		*split.out = t
		result.Stats.Frames += stats.Frames
		result.Stats.Dropped += stats.Dropped
		result.Stats.Defaulted += stats.Defaulted
	}
	p.cfg.Metrics.AddNormalized(result.Stats.Dropped, result.Stats.Defaulted)

	if p.cfg.Cache != nil {
		err := p.cfg.Cache.Put(ctx, &model.CacheEntry{
			Signature:   sig,
			Sources:     src.All(),
			FeatureSet:  p.extractor.Set().Tag(),
			LabelColumn: p.cfg.LabelColumn,
			Train:       result.Train,
			Test:        result.Test,
			CreatedAt:   time.Now(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Could not store features in cache")
		}
	}

	result.Duration = time.Since(start)
	log.Info().Int("train_rows", result.Train.Len()).Int("test_rows", result.Test.Len()).
		Int("dropped", result.Stats.Dropped).Dur("elapsed", result.Duration).Msg("Extraction complete")
	return result, nil
}

func (p *Pipeline) extractSplit(ctx context.Context, name string, paths []string) (*model.Table, decode.Stats, error) {
	n := decode.NewNormalizer(p.cfg.Variant, p.cfg.Decode, p.cfg.Logger)
	frames, err := LoadFrames(ctx, paths, capture.Options{LabelColumn: p.cfg.LabelColumn}, n)
	if err != nil {
		return nil, decode.Stats{}, err
	}
	p.logger.Debug().Str("split", name).Int("frames", len(frames)).Int("files", len(paths)).Msg("Loaded frames")

	t, err := p.Extract(ctx, frames)
	if err != nil {
		return nil, decode.Stats{}, err
	}
	return t, n.Stats(), nil
}

// Extract turns frames into a feature table in input (Seq) order.
func (p *Pipeline) Extract(ctx context.Context, frames []model.Frame) (*model.Table, error) {
	parts := Partition(frames, p.cfg.PartitionByInterface)
	rows := make([][]model.Row, len(parts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, part := range parts {
		g.Go(func() error {
			start := time.Now()
			out, err := extractPartition(ctx, p.extractor.NewPass(), part.Frames)
			if err != nil {
				return fmt.Errorf("interface %q: %w", part.Interface, err)
			}
			rows[i] = out
			p.cfg.Metrics.ObserveExtraction(part.Interface, len(out), time.Since(start))
			p.logger.Debug().Str("interface", part.Interface).Int("frames", len(out)).Msg("Partition extracted")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t := &model.Table{Columns: p.extractor.Columns(), Rows: make([]model.Row, 0, len(frames))}
	for _, r := range rows {
		t.Rows = append(t.Rows, r...)
	}
	t.SortBySeq()
	return t, nil
}

func extractPartition(ctx context.Context, pass *features.Pass, frames []model.Frame) ([]model.Row, error) {
	out := make([]model.Row, 0, len(frames))
	for i := range frames {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := pass.Next(&frames[i])
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Part is one independently ordered stream.
type Part struct {
	Interface string // empty when not partitioned
	Frames    []model.Frame
}

// Partition splits frames by interface, in order of first appearance, and
// stable-sorts each part by timestamp. With byInterface false the whole
// input is one part.
func Partition(frames []model.Frame, byInterface bool) []Part {
	var parts []Part
	if !byInterface {
		parts = []Part{{Frames: append([]model.Frame(nil), frames...)}}
	} else {
		index := make(map[string]int)
		for _, f := range frames {
			i, ok := index[f.Interface]
			if !ok {
				i = len(parts)
				index[f.Interface] = i
				parts = append(parts, Part{Interface: f.Interface})
			}
			parts[i].Frames = append(parts[i].Frames, f)
		}
	}
	for _, part := range parts {
		sort.SliceStable(part.Frames, func(a, b int) bool {
			return part.Frames[a].Timestamp < part.Frames[b].Timestamp
		})
	}
	return parts
}

// VariantKey describes everything in a variant that changes extracted rows.
func VariantKey(v model.Variant) string {
	aliases := make([]string, 0, len(v.Aliases))
	for k, target := range v.Aliases {
		aliases = append(aliases, k+">"+target)
	}
	sort.Strings(aliases)
	return fmt.Sprintf("%s[%s]uds=%s;aliases=%s", v.Name,
		strings.Join(v.Labels.Names(), ","), v.UDSLabel, strings.Join(aliases, ","))
}
