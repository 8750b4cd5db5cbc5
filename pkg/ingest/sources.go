package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/Zerofisher/canids/capture"
	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/pkg/model"
)

// SourcePattern selects the labelled frame files inside a source directory.
const SourcePattern = "*labels.csv"

// ExpandSources replaces every directory in paths with the sorted list of
// SourcePattern files it contains. Files are kept as given.
func ExpandSources(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, SourcePattern))
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("source %s: no %s files", p, SourcePattern)
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

// LoadFrames reads every source in order through one normalizer, so Seq
// numbers run across the concatenated input. Label errors and errors under
// the fail policy abort the load.
func LoadFrames(ctx context.Context, paths []string, opts capture.Options, n *decode.Normalizer) ([]model.Frame, error) {
	var frames []model.Frame
	for _, path := range paths {
		r, err := capture.Open(path, opts)
		if err != nil {
			return nil, err
		}
		frames, err = readFrames(ctx, r, n, frames)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return frames, nil
}

func readFrames(ctx context.Context, r capture.Reader, n *decode.Normalizer, frames []model.Frame) ([]model.Frame, error) {
	for i := 0; ; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		f, ok, err := n.Normalize(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			frames = append(frames, f)
		}
	}
}
