package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Zerofisher/canids/pkg/model"
)

//go:embed variants.toml
var defaultVariants string

// DefaultVariant is used when no variant is configured.
const DefaultVariant = "observation1"

// Preset is a named observation setup.
type Preset struct {
	Variant     model.Variant
	Description string
	FeatureSet  string // Suggested feature set, may be empty
}

type variantFile struct {
	Variant []variantSpec `toml:"variant"`
}

type variantSpec struct {
	Name         string            `toml:"name"`
	Description  string            `toml:"description"`
	Labels       []string          `toml:"labels"`
	UDSLabel     string            `toml:"uds_label"`
	FuzzingLabel string            `toml:"fuzzing_label"`
	Threshold    int64             `toml:"threshold"`
	Aliases      map[string]string `toml:"aliases"`
	FeatureSet   string            `toml:"feature_set"`
}

// LoadVariants returns the built-in presets, overlaid by the presets in path
// when path is non-empty. A preset in path replaces a built-in of the same
// name.
func LoadVariants(path string) (map[string]Preset, error) {
	var builtin variantFile
	md, err := toml.Decode(defaultVariants, &builtin)
	if err != nil {
		return nil, fmt.Errorf("decode built-in variants: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("built-in variants: %w", err)
	}
	specs := builtin.Variant

	if path != "" {
		var user variantFile
		md, err := toml.DecodeFile(path, &user)
		if err != nil {
			return nil, fmt.Errorf("decode variants file %s: %w", path, err)
		}
		if err := checkUndecoded(md); err != nil {
			return nil, fmt.Errorf("variants file %s: %w", path, err)
		}
		specs = append(specs, user.Variant...)
	}

	out := make(map[string]Preset, len(specs))
	for _, s := range specs {
		p, err := s.preset()
		if err != nil {
			return nil, err
		}
		out[p.Variant.Name] = p
	}
	return out, nil
}

// LookupVariant loads the presets and returns the named one.
func LookupVariant(name, path string) (Preset, error) {
	presets, err := LoadVariants(path)
	if err != nil {
		return Preset{}, err
	}
	if name == "" {
		name = DefaultVariant
	}
	p, ok := presets[strings.ToLower(name)]
	if !ok {
		return Preset{}, fmt.Errorf("unknown variant %q (available: %s)", name, strings.Join(VariantNames(presets), ", "))
	}
	return p, nil
}

// VariantNames returns the preset names in sorted order.
func VariantNames(presets map[string]Preset) []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func checkUndecoded(md toml.MetaData) error {
	if keys := md.Undecoded(); len(keys) > 0 {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(parts, ", "))
	}
	return nil
}

func (s variantSpec) preset() (Preset, error) {
	name := strings.ToLower(strings.TrimSpace(s.Name))
	if name == "" {
		return Preset{}, fmt.Errorf("variant without a name")
	}
	labels, err := model.NewLabelMap(s.Labels...)
	if err != nil {
		return Preset{}, fmt.Errorf("variant %q: %w", name, err)
	}

	th := model.UDSThreshold
	if s.Threshold != 0 {
		if s.Threshold < 0 || s.Threshold > 0x1FFFFFFF {
			return Preset{}, fmt.Errorf("variant %q: threshold %#x out of range", name, s.Threshold)
		}
		th = uint32(s.Threshold)
	}

	aliases := make(map[string]string, len(s.Aliases))
	for k, v := range s.Aliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = v
	}

	v := model.Variant{
		Name:         name,
		Labels:       labels,
		UDSLabel:     s.UDSLabel,
		FuzzingLabel: s.FuzzingLabel,
		Aliases:      aliases,
		Threshold:    th,
	}
	if err := v.Validate(); err != nil {
		return Preset{}, err
	}
	return Preset{Variant: v, Description: s.Description, FeatureSet: s.FeatureSet}, nil
}
