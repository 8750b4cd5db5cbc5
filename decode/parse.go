// Package decode turns raw frame fields into typed values: hexadecimal
// arbitration IDs and payloads, timestamps, DLCs and canonical labels.
package decode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Zerofisher/canids/pkg/model"
)

// MaxArbitrationID is the largest 29-bit extended CAN identifier.
const MaxArbitrationID = 0x1FFFFFFF

var (
	// ErrMalformed marks a field that could not be parsed.
	ErrMalformed = errors.New("malformed field")
	// ErrUnknownLabel marks a label outside the active label map.
	ErrUnknownLabel = errors.New("unknown label")
	// ErrMissingLabel marks an empty label with no configured default.
	ErrMissingLabel = errors.New("missing label")
)

// FieldError describes a field that failed to decode.
type FieldError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s %q: %v", e.Line, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ParseArbitrationID decodes an arbitration ID. Strings are hexadecimal with
// an optional 0x prefix; integer values are returned unchanged.
func ParseArbitrationID(v any) (uint32, error) {
	var n int64
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		if s == "" {
			return 0, fmt.Errorf("%w: empty arbitration id", ErrMalformed)
		}
		u, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if u > MaxArbitrationID {
			return 0, fmt.Errorf("%w: arbitration id 0x%X out of range", ErrMalformed, u)
		}
		return uint32(u), nil
	case uint32:
		if x > MaxArbitrationID {
			return 0, fmt.Errorf("%w: arbitration id 0x%X out of range", ErrMalformed, x)
		}
		return x, nil
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		if uint64(x) > MaxArbitrationID {
			return 0, fmt.Errorf("%w: arbitration id 0x%X out of range", ErrMalformed, x)
		}
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint64:
		if x > MaxArbitrationID {
			return 0, fmt.Errorf("%w: arbitration id 0x%X out of range", ErrMalformed, x)
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%w: non-integral arbitration id %v", ErrMalformed, x)
		}
		n = int64(x)
	default:
		return 0, fmt.Errorf("%w: unsupported arbitration id type %T", ErrMalformed, v)
	}
	if n < 0 || n > MaxArbitrationID {
		return 0, fmt.Errorf("%w: arbitration id %d out of range", ErrMalformed, n)
	}
	return uint32(n), nil
}

// ParsePayload decodes a space separated hex byte string. Input beyond eight
// bytes is truncated; an empty string yields an all-zero payload of length 0.
func ParsePayload(s string) (model.Payload, int, error) {
	var p model.Payload
	fields := strings.Fields(s)
	n := 0
	for _, f := range fields {
		if len(f) > 2 {
			return model.Payload{}, 0, fmt.Errorf("%w: payload byte %q", ErrMalformed, f)
		}
		b, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return model.Payload{}, 0, fmt.Errorf("%w: payload byte %q", ErrMalformed, f)
		}
		if n < model.PayloadSize {
			p[n] = byte(b)
			n++
		}
	}
	return p, n, nil
}

// ParseTimestamp decodes a timestamp in seconds.
func ParseTimestamp(v any) (float64, error) {
	var t float64
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		t = f
	case float64:
		t = x
	case int64:
		t = float64(x)
	default:
		return 0, fmt.Errorf("%w: unsupported timestamp type %T", ErrMalformed, v)
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: timestamp %v", ErrMalformed, t)
	}
	return t, nil
}

// ParseDLC decodes a data length code in the range 0–8.
func ParseDLC(v any) (int, error) {
	var d int
	switch x := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		d = n
	case int:
		d = x
	case uint8:
		d = int(x)
	default:
		return 0, fmt.Errorf("%w: unsupported dlc type %T", ErrMalformed, v)
	}
	if d < 0 || d > model.PayloadSize {
		return 0, fmt.Errorf("%w: dlc %d out of range", ErrMalformed, d)
	}
	return d, nil
}
