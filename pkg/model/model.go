// Package model defines the core data models shared by the extraction,
// filtering, caching and cascade stages.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ────────────────────────────────────────────────────────────────────────────────
// Frame
// ────────────────────────────────────────────────────────────────────────────────

// PayloadSize is the number of data bytes in a classic CAN frame.
const PayloadSize = 8

// Payload holds up to eight data bytes, zero padded on the right.
type Payload [PayloadSize]byte

// String renders the payload as space separated upper-case hex bytes.
func (p Payload) String() string {
	return p.Hex(PayloadSize)
}

// Hex renders the first n bytes as space separated upper-case hex.
func (p Payload) Hex(n int) string {
	if n <= 0 {
		return ""
	}
	if n > PayloadSize {
		n = PayloadSize
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", p[i])
	}
	return b.String()
}

// Frame is one parsed CAN bus message. Frames are immutable once parsed.
type Frame struct {
	Seq           int     // Position in the concatenated input (0-based)
	Line          int     // Source line or packet number (1-based), for diagnostics
	Interface     string  // Bus segment, e.g. B-CAN
	Timestamp     float64 // Seconds, monotonic within an interface
	ArbitrationID uint32
	DLC           int
	Payload       Payload
	PayloadLen    int    // Number of bytes actually present in Data
	Data          string // Raw payload text, carried through to outputs
	Label         string // Canonical label name
	LabelCode     int    // Index of Label in the active LabelMap
	Class         int    // 0 = Normal, 1 = Attack
}

// PairKey identifies an (arbitration ID, payload) pair.
type PairKey struct {
	ID      uint32
	Payload Payload
}

// Pair returns the frame's (ID, payload) key.
func (f *Frame) Pair() PairKey {
	return PairKey{ID: f.ArbitrationID, Payload: f.Payload}
}

// PresentBytes returns the bytes actually carried by the frame.
func (f *Frame) PresentBytes() []byte {
	n := f.PayloadLen
	if n > PayloadSize {
		n = PayloadSize
	}
	return f.Payload[:n]
}

// ────────────────────────────────────────────────────────────────────────────────
// Binary classes
// ────────────────────────────────────────────────────────────────────────────────

const (
	ClassNormal = 0
	ClassAttack = 1
)

// ClassNames are the stage-1 class names indexed by class value.
var ClassNames = []string{"Normal", "Attack"}

// ClassOf maps a subclass code to its binary class. Code 0 is always Normal.
func ClassOf(labelCode int) int {
	if labelCode == 0 {
		return ClassNormal
	}
	return ClassAttack
}

// ────────────────────────────────────────────────────────────────────────────────
// Decisions
// ────────────────────────────────────────────────────────────────────────────────

// Decision is the merged output of the two cascade stages for one row.
type Decision struct {
	PredictedClass    int `json:"predicted_class"`
	PredictedSubclass int `json:"predicted_subclass"`
}

// ────────────────────────────────────────────────────────────────────────────────
// Cache entries
// ────────────────────────────────────────────────────────────────────────────────

// CacheEntry is a fully extracted train/test pair keyed by its signature.
type CacheEntry struct {
	Signature   string    `json:"signature"`
	Sources     []string  `json:"sources"`
	FeatureSet  string    `json:"feature_set"`
	LabelColumn string    `json:"label_col"`
	Train       *Table    `json:"-"`
	Test        *Table    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// EntryInfo summarises a cache entry without its rows.
type EntryInfo struct {
	Signature  string    `json:"signature"`
	Sources    []string  `json:"sources"`
	FeatureSet string    `json:"feature_set"`
	TrainRows  int       `json:"train_rows"`
	TestRows   int       `json:"test_rows"`
	CreatedAt  time.Time `json:"created_at"`
}
