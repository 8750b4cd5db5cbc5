// Package store defines the feature cache interface and its cache key.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/Zerofisher/canids/pkg/model"
)

// SchemaVersion is incremented when the stored layout changes. Entries written
// under another version are never returned.
const SchemaVersion = 1

var (
	// ErrSchemaMismatch marks an entry written under another schema version.
	ErrSchemaMismatch = errors.New("cache schema mismatch")
	// ErrCorrupt marks an entry that cannot be decoded.
	ErrCorrupt = errors.New("corrupt cache entry")
)

// Cache memoises extracted train/test tables by signature. A corrupt,
// incomplete or mismatched entry is reported as a miss, never as data.
type Cache interface {
	// Close releases the underlying storage.
	Close() error

	// Get returns the complete entry for sig. ok is false on a miss.
	Get(ctx context.Context, sig string) (entry *model.CacheEntry, ok bool, err error)

	// Put publishes an entry atomically, replacing any entry with the same
	// signature.
	Put(ctx context.Context, e *model.CacheEntry) error

	// List summarises the complete entries, oldest first.
	List(ctx context.Context) ([]model.EntryInfo, error)

	// Delete removes one entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, sig string) error

	// Purge removes every entry and returns how many there were.
	Purge(ctx context.Context) (int, error)
}

// Sources are the input paths of one run.
type Sources struct {
	Train []string
	Test  []string
}

// All returns train paths followed by test paths.
func (s Sources) All() []string {
	out := make([]string, 0, len(s.Train)+len(s.Test))
	out = append(out, s.Train...)
	return append(out, s.Test...)
}

// KeyConfig is every setting that changes extracted tables.
type KeyConfig struct {
	FeatureSet           string // Set name and version, e.g. extended/v1
	WindowSize           int
	TimeSize             float64
	RollingWindow        float64
	Variant              string
	LabelColumn          string
	OnMalformed          string
	DefaultLabel         string
	PartitionByInterface bool
}

// Signature derives the cache key: the hex BLAKE3-256 digest of a canonical
// description of the sources and configuration. Paths are made absolute and
// cleaned; their order is significant. File contents are not read.
func Signature(src Sources, k KeyConfig) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "canids-cache/v%d\n", SchemaVersion)

	for _, group := range []struct {
		name  string
		paths []string
	}{{"train", src.Train}, {"test", src.Test}} {
		for _, p := range group.paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return "", fmt.Errorf("resolve %s: %w", p, err)
			}
			fmt.Fprintf(&b, "%s=%s\n", group.name, filepath.Clean(abs))
		}
	}

	fields := []struct{ k, v string }{
		{"feature_set", k.FeatureSet},
		{"window_size", strconv.Itoa(k.WindowSize)},
		{"time_size", strconv.FormatFloat(k.TimeSize, 'g', -1, 64)},
		{"rolling_window", strconv.FormatFloat(k.RollingWindow, 'g', -1, 64)},
		{"variant", k.Variant},
		{"label_col", k.LabelColumn},
		{"on_malformed", k.OnMalformed},
		{"default_label", k.DefaultLabel},
		{"partition", strconv.FormatBool(k.PartitionByInterface)},
	}
	for _, f := range fields {
		fmt.Fprintf(&b, "%s=%s\n", f.k, f.v)
	}

	sum := blake3.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum), nil
}
