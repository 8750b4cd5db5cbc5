package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerofisher/canids/metrics"
)

func sampleData(t *testing.T) *Data {
	t.Helper()
	labels := []string{"Normal", "Attack"}
	r, err := metrics.Compute([]int{0, 0, 1, 1}, []int{0, 1, 1, 1}, labels)
	require.NoError(t, err)

	d := Generate("xgb_obs1")
	d.Variant = "observation1"
	d.FeatureSet = "extended/v1"
	d.Add("Binary", "", r)
	d.Add("Binary", "C-CAN", r)
	return d
}

func TestGenerate(t *testing.T) {
	d := sampleData(t)
	_, err := uuid.Parse(d.RunID)
	assert.NoError(t, err)
	assert.NotEqual(t, d.RunID, Generate("other").RunID)

	s, ok := d.Section("Binary", "C-CAN")
	require.True(t, ok)
	assert.Equal(t, "Binary [C-CAN]", s.Heading())
	_, ok = d.Section("Multi", "")
	assert.False(t, ok)
}

func TestWriteText(t *testing.T) {
	d := sampleData(t)
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, d))
	out := buf.String()

	assert.Contains(t, out, "Run ID:     "+d.RunID)
	assert.Contains(t, out, "== Binary ==")
	assert.Contains(t, out, "== Binary [C-CAN] ==")
	assert.Contains(t, out, "precision")
	assert.Contains(t, out, "0.7500")

	// Normal: 1 correct, 1 predicted as Attack.
	var found bool
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) == 3 && f[0] == "Normal" {
			assert.Equal(t, []string{"Normal", "1", "1"}, f)
			found = true
		}
	}
	assert.True(t, found)
}

func TestWriteFile(t *testing.T) {
	d := sampleData(t)
	dir := t.TempDir()

	md := filepath.Join(dir, "r.md")
	require.NoError(t, WriteFile(md, d, "markdown"))
	data, err := os.ReadFile(md)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# xgb_obs1\n"))
	assert.Contains(t, string(data), "| Attack | 0.6667 | 1.0000 | 0.8000 | 2 |")

	assert.Error(t, WriteFile(filepath.Join(dir, "r.html"), d, "html"))
}
