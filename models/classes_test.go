package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYOLOClasses(t *testing.T) {
	set := YOLOClasses()
	assert.Equal(t, 80, set.Len())
	assert.Equal(t, "person", set.Name(0))
	assert.Equal(t, "toothbrush", set.Name(79))
	assert.Equal(t, "class 80", set.Name(80))

	idx, ok := set.Index("dog")
	assert.True(t, ok)
	assert.Equal(t, 16, idx)
}

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{name: "metadata map", data: "task: segment\nnames:\n  0: person\n  1: bicycle\n", want: []string{"person", "bicycle"}},
		{name: "metadata list", data: "names: [cat, dog]\n", want: []string{"cat", "dog"}},
		{name: "yaml list", data: "- cat\n- dog\n", want: []string{"cat", "dog"}},
		{name: "plain text", data: "cat\n\n# comment\ndog\n", want: []string{"cat", "dog"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLabels([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLabels([]byte("names:\n  0: a\n  5: b\n"))
	assert.Error(t, err)

	_, err = ParseLabels([]byte("\n\n"))
	assert.Error(t, err)
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte("names:\n  0: widget\n"), 0o600))

	set, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"widget"}, set.Names())

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
