package model

import (
	"fmt"
	"strings"
)

// NormalLabel is the canonical name of benign traffic; it always has code 0.
const NormalLabel = "Normal"

// LabelMap is an ordered list of canonical label names. The index of a name is
// its numeric code.
type LabelMap struct {
	names []string
	index map[string]int
}

// NewLabelMap builds a label map. The first name must be Normal and names must
// be unique (case-insensitive).
func NewLabelMap(names ...string) (LabelMap, error) {
	if len(names) == 0 {
		return LabelMap{}, fmt.Errorf("label map is empty")
	}
	if !strings.EqualFold(names[0], NormalLabel) {
		return LabelMap{}, fmt.Errorf("label map must start with %s, got %q", NormalLabel, names[0])
	}
	m := LabelMap{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" {
			return LabelMap{}, fmt.Errorf("label %d is empty", i)
		}
		if _, dup := m.index[key]; dup {
			return LabelMap{}, fmt.Errorf("duplicate label %q", n)
		}
		m.names[i] = n
		m.index[key] = i
	}
	return m, nil
}

// MustLabelMap is NewLabelMap that panics on error. For static presets.
func MustLabelMap(names ...string) LabelMap {
	m, err := NewLabelMap(names...)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup returns the code of a label name, ignoring case.
func (m LabelMap) Lookup(name string) (int, bool) {
	code, ok := m.index[strings.ToLower(strings.TrimSpace(name))]
	return code, ok
}

// Name returns the label name of a code.
func (m LabelMap) Name(code int) (string, bool) {
	if code < 0 || code >= len(m.names) {
		return "", false
	}
	return m.names[code], true
}

// Len returns the number of labels.
func (m LabelMap) Len() int { return len(m.names) }

// Names returns a copy of the label names in code order.
func (m LabelMap) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}
