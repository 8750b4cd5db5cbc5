package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/features"
	"github.com/Zerofisher/canids/pkg/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultVariant, cfg.Variant)
	assert.Equal(t, features.SetExtended, cfg.Features.Set)
	assert.Equal(t, features.DefaultWindowSize, cfg.Features.WindowSize)
	assert.Equal(t, features.DefaultTimeSize, cfg.Features.TimeSize)
	assert.True(t, cfg.Features.PartitionByInterface)
	assert.Equal(t, "Label", cfg.Decode.LabelColumn)
	assert.True(t, cfg.Cache.Enabled)
	assert.NoError(t, cfg.Validate())

	opts, err := cfg.DecodeOptions()
	require.NoError(t, err)
	assert.Equal(t, decode.PolicyDefault, opts.OnMalformed)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canids.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
variant: observation2
features:
  set: compact
  rolling_window: 5
model:
  backend: rf
  binary:
    n_estimators: 50
`), 0644))
	t.Setenv("CANIDS_FEATURES_WORKERS", "3")
	t.Setenv("CANIDS_DECODE_ON_MALFORMED", "drop")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "observation2", cfg.Variant)
	assert.Equal(t, "compact", cfg.Features.Set)
	assert.Equal(t, 5.0, cfg.Features.RollingWindow)
	assert.Equal(t, 3, cfg.Features.Workers)
	assert.Equal(t, "drop", cfg.Decode.OnMalformed)
	assert.Equal(t, "rf", cfg.Model.Backend)
	assert.EqualValues(t, 50, cfg.Model.Binary["n_estimators"])

	fc := cfg.FeatureConfig()
	assert.Equal(t, "compact", fc.Set)
	assert.Equal(t, features.DefaultWindowSize, fc.WindowSize)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	bad := *cfg
	bad.Decode.OnMalformed = "ignore"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Features.Set = "huge"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Model.Validation = 1
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.LogFormat = "xml"
	assert.Error(t, bad.Validate())
}

func TestBuiltinVariants(t *testing.T) {
	presets, err := LoadVariants("")
	require.NoError(t, err)
	assert.Equal(t, []string{"observation1", "observation2", "observation3"}, VariantNames(presets))

	obs1 := presets["observation1"].Variant
	assert.Equal(t, 6, obs1.Labels.Len())
	assert.Equal(t, model.UDSThreshold, obs1.Threshold)
	assert.Equal(t, 5, obs1.UDSCode())
	assert.Equal(t, 4, obs1.FuzzingCode())
	target, ok := obs1.Alias("Flooding")
	assert.True(t, ok)
	assert.Equal(t, "DoS", target)

	obs2 := presets["observation2"].Variant
	name, _ := obs2.Labels.Name(1)
	assert.Equal(t, "Flooding", name)
	assert.Equal(t, []string{"Normal", "Flooding", "Spoofing", "Replay", "Fuzzing"}, obs2.ActiveLabels())

	assert.Equal(t, "compact", presets["observation3"].FeatureSet)

	// The built-in default matches the package default.
	assert.Equal(t, model.DefaultVariant().Labels.Names(), obs1.Labels.Names())
}

func TestUserVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "variants.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[variant]]
name = "Bench"
labels = ["Normal", "DoS", "Fuzzing"]
fuzzing_label = "Fuzzing"
threshold = 0x600
`), 0644))

	p, err := LookupVariant("bench", path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x600), p.Variant.Threshold)
	assert.Equal(t, -1, p.Variant.UDSCode())
	assert.Equal(t, []string{"Normal", "DoS", "Fuzzing"}, p.Variant.ActiveLabels())

	p, err = LookupVariant("", path)
	require.NoError(t, err)
	assert.Equal(t, DefaultVariant, p.Variant.Name)

	_, err = LookupVariant("observation9", "")
	assert.ErrorContains(t, err, "observation1")
}

func TestUserVariantsRejected(t *testing.T) {
	tests := map[string]string{
		"unknown key":      "[[variant]]\nname = \"x\"\nlabels = [\"Normal\", \"A\"]\nfuzzing_label = \"A\"\ncolour = \"red\"\n",
		"normal not first": "[[variant]]\nname = \"x\"\nlabels = [\"A\", \"Normal\"]\nfuzzing_label = \"A\"\n",
		"bad fuzzing":      "[[variant]]\nname = \"x\"\nlabels = [\"Normal\", \"A\"]\nfuzzing_label = \"B\"\n",
		"no name":          "[[variant]]\nlabels = [\"Normal\", \"A\"]\nfuzzing_label = \"A\"\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "v.toml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := LoadVariants(path)
			assert.Error(t, err)
		})
	}
}
