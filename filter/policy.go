package filter

import (
	"fmt"
	"strings"

	"github.com/Zerofisher/canids/pkg/model"
)

// Policy names a row retention policy.
type Policy string

const (
	// PolicyTrain keeps low-ID traffic of every label and high-ID traffic
	// only for the fuzzing label, then drops the UDS category.
	PolicyTrain Policy = "train"
	// PolicyTest drops only the UDS category.
	PolicyTest Policy = "test"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyTrain, PolicyTest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown filter policy %q (use: train, test)", s)
	}
}

// Filter decides which rows reach a model. It is built once per variant and
// is a pure function of (policy, label, arbitration ID).
type Filter struct {
	udsCode   int
	fuzzCode  int
	threshold uint32
}

// New builds the filter for a variant. A zero threshold means UDSThreshold.
func New(v model.Variant) *Filter {
	th := v.Threshold
	if th == 0 {
		th = model.UDSThreshold
	}
	return &Filter{
		udsCode:   v.UDSCode(),
		fuzzCode:  v.FuzzingCode(),
		threshold: th,
	}
}

// Threshold returns the diagnostic-range start.
func (f *Filter) Threshold() uint32 { return f.threshold }

// Keep reports whether a row with the given label code and arbitration ID is
// retained under p.
func (f *Filter) Keep(p Policy, label int, id uint32) bool {
	if f.udsCode >= 0 && label == f.udsCode {
		return false
	}
	switch p {
	case PolicyTrain:
		return id < f.threshold || (f.fuzzCode >= 0 && label == f.fuzzCode)
	case PolicyTest:
		return true
	default:
		return false
	}
}

// Apply returns a new table holding the rows retained under p. The input
// table is not modified.
func (f *Filter) Apply(p Policy, t *model.Table) *model.Table {
	return t.Where(func(r *model.Row) bool {
		return f.Keep(p, r.Label, r.ArbitrationID)
	})
}

// Mask returns the per-row keep decisions under p.
func (f *Filter) Mask(p Policy, t *model.Table) []bool {
	mask := make([]bool, t.Len())
	for i := range t.Rows {
		mask[i] = f.Keep(p, t.Rows[i].Label, t.Rows[i].ArbitrationID)
	}
	return mask
}
