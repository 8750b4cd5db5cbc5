package decode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Zerofisher/canids/pkg/model"
)

// Policy selects what happens to a frame with a malformed field.
type Policy string

const (
	// PolicyDefault zero-fills a malformed payload and drops frames whose
	// arbitration ID, timestamp or DLC cannot be decoded.
	PolicyDefault Policy = "default"
	// PolicyDrop drops any frame with a malformed field.
	PolicyDrop Policy = "drop"
	// PolicyFail aborts the batch on the first malformed field.
	PolicyFail Policy = "fail"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyDefault, PolicyDrop, PolicyFail:
		return p, nil
	case "":
		return PolicyDefault, nil
	default:
		return "", fmt.Errorf("unknown malformed-input policy %q (use: default, drop, fail)", s)
	}
}

// Record is one raw frame as read from a source. ArbitrationID, Timestamp and
// DLC may hold either text or already-typed values.
type Record struct {
	Line          int
	Interface     string
	Timestamp     any
	ArbitrationID any
	DLC           any
	Data          string
	Label         string
}

// Options configures a Normalizer.
type Options struct {
	OnMalformed  Policy
	DefaultLabel string // Used for empty labels, e.g. unlabeled captures
}

// Stats counts what a Normalizer did.
type Stats struct {
	Frames    int
	Dropped   int
	Defaulted int
}

// Normalizer converts Records into Frames for one variant. It is not safe for
// concurrent use.
type Normalizer struct {
	variant model.Variant
	opts    Options
	logger  zerolog.Logger
	seq     int
	stats   Stats
}

// NewNormalizer creates a normalizer.
func NewNormalizer(v model.Variant, opts Options, logger zerolog.Logger) *Normalizer {
	if opts.OnMalformed == "" {
		opts.OnMalformed = PolicyDefault
	}
	return &Normalizer{
		variant: v,
		opts:    opts,
		logger:  logger.With().Str("component", "normalizer").Logger(),
	}
}

// Stats returns the counters accumulated so far.
func (n *Normalizer) Stats() Stats { return n.stats }

// Normalize decodes one record. It returns ok=false when the record was
// dropped under the malformed policy. Label errors always fail.
func (n *Normalizer) Normalize(rec Record) (model.Frame, bool, error) {
	label, code, err := n.CanonicalLabel(rec.Label)
	if err != nil {
		return model.Frame{}, false, &FieldError{Line: rec.Line, Field: "Label", Value: rec.Label, Err: err}
	}

	f := model.Frame{
		Line:      rec.Line,
		Interface: strings.TrimSpace(rec.Interface),
		Data:      strings.TrimSpace(rec.Data),
		Label:     label,
		LabelCode: code,
		Class:     model.ClassOf(code),
	}

	if f.ArbitrationID, err = ParseArbitrationID(rec.ArbitrationID); err != nil {
		return n.reject(rec, "Arbitration_ID", fmt.Sprint(rec.ArbitrationID), err)
	}
	if f.Timestamp, err = ParseTimestamp(rec.Timestamp); err != nil {
		return n.reject(rec, "Timestamp", fmt.Sprint(rec.Timestamp), err)
	}
	if f.DLC, err = ParseDLC(rec.DLC); err != nil {
		return n.reject(rec, "DLC", fmt.Sprint(rec.DLC), err)
	}
	if f.Payload, f.PayloadLen, err = ParsePayload(f.Data); err != nil {
		ferr := &FieldError{Line: rec.Line, Field: "Data", Value: rec.Data, Err: err}
		switch n.opts.OnMalformed {
		case PolicyFail:
			return model.Frame{}, false, ferr
		case PolicyDrop:
			return n.drop(ferr)
		}
		n.stats.Defaulted++
		n.logger.Warn().Err(ferr).Msg("Malformed payload, using all-zero bytes")
		f.Payload, f.PayloadLen = model.Payload{}, 0
	}

	f.Seq = n.seq
	n.seq++
	n.stats.Frames++
	return f, true, nil
}

func (n *Normalizer) reject(rec Record, field, value string, err error) (model.Frame, bool, error) {
	ferr := &FieldError{Line: rec.Line, Field: field, Value: value, Err: err}
	if n.opts.OnMalformed == PolicyFail {
		return model.Frame{}, false, ferr
	}
	return n.drop(ferr)
}

func (n *Normalizer) drop(err error) (model.Frame, bool, error) {
	n.stats.Dropped++
	n.logger.Warn().Err(err).Msg("Dropping malformed frame")
	return model.Frame{}, false, nil
}

// CanonicalLabel maps a raw label onto the variant's label map. UDS-prefixed
// subtypes collapse onto the UDS category before lookup.
func (n *Normalizer) CanonicalLabel(raw string) (string, int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		if n.opts.DefaultLabel == "" {
			return "", 0, ErrMissingLabel
		}
		s = n.opts.DefaultLabel
	}
	if n.variant.UDSLabel != "" && isUDS(s) {
		s = n.variant.UDSLabel
	} else if target, ok := n.variant.Alias(s); ok {
		s = target
	}
	code, ok := n.variant.Labels.Lookup(s)
	if !ok {
		return "", 0, fmt.Errorf("%w %q for variant %s", ErrUnknownLabel, raw, n.variant.Name)
	}
	name, _ := n.variant.Labels.Name(code)
	return name, code, nil
}

func isUDS(s string) bool {
	u := strings.ToUpper(s)
	return strings.HasPrefix(u, "UDS") || strings.Contains(u, "_UDS")
}

// IsLabelError reports whether err is a label failure, which is never subject
// to the malformed policy.
func IsLabelError(err error) bool {
	return errors.Is(err, ErrUnknownLabel) || errors.Is(err, ErrMissingLabel)
}
