package model

import (
	"fmt"
	"strings"
)

// UDSThreshold is the first arbitration ID of the UDS diagnostic range (0x700).
const UDSThreshold uint32 = 0x700

// Variant is the immutable label and filter configuration of one observation
// setup. Variants differ in label names and cardinality, so nothing downstream
// hard-codes either.
type Variant struct {
	Name         string
	Labels       LabelMap
	UDSLabel     string            // Canonical target of UDS_* label variants, may be empty
	FuzzingLabel string            // Label trained on above the threshold
	Aliases      map[string]string // Lower-case alias -> canonical name
	Threshold    uint32            // Diagnostic range start
}

// Validate checks that the referenced labels exist in the label map.
func (v Variant) Validate() error {
	if v.Labels.Len() == 0 {
		return fmt.Errorf("variant %q: empty label map", v.Name)
	}
	if v.UDSLabel != "" {
		if _, ok := v.Labels.Lookup(v.UDSLabel); !ok {
			return fmt.Errorf("variant %q: uds label %q not in label map", v.Name, v.UDSLabel)
		}
	}
	if _, ok := v.Labels.Lookup(v.FuzzingLabel); !ok {
		return fmt.Errorf("variant %q: fuzzing label %q not in label map", v.Name, v.FuzzingLabel)
	}
	for alias, target := range v.Aliases {
		if _, ok := v.Labels.Lookup(target); !ok {
			return fmt.Errorf("variant %q: alias %q targets unknown label %q", v.Name, alias, target)
		}
	}
	return nil
}

// UDSCode returns the code of the UDS label, or -1 if the variant has none.
func (v Variant) UDSCode() int {
	if v.UDSLabel == "" {
		return -1
	}
	code, ok := v.Labels.Lookup(v.UDSLabel)
	if !ok {
		return -1
	}
	return code
}

// FuzzingCode returns the code of the fuzzing label, or -1.
func (v Variant) FuzzingCode() int {
	code, ok := v.Labels.Lookup(v.FuzzingLabel)
	if !ok {
		return -1
	}
	return code
}

// ActiveLabels returns the label names a model can be trained on: every label
// except the UDS category, which both filter policies exclude.
func (v Variant) ActiveLabels() []string {
	uds := v.UDSCode()
	var out []string
	for i, n := range v.Labels.Names() {
		if i != uds {
			out = append(out, n)
		}
	}
	return out
}

// Alias resolves a label alias, ignoring case.
func (v Variant) Alias(name string) (string, bool) {
	target, ok := v.Aliases[strings.ToLower(strings.TrimSpace(name))]
	return target, ok
}

// DefaultVariant is the six-class AutoHack setup used when no preset is named.
func DefaultVariant() Variant {
	return Variant{
		Name:         "observation1",
		Labels:       MustLabelMap("Normal", "DoS", "Spoofing", "Replay", "Fuzzing", "UDS_Spoofing"),
		UDSLabel:     "UDS_Spoofing",
		FuzzingLabel: "Fuzzing",
		Threshold:    UDSThreshold,
	}
}
