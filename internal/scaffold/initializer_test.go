package scaffold

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/internal/printer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into a fresh directory for its duration
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { os.Chdir(originalDir) })
	return tmpDir
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		force     bool
		setupFunc func(string)
	}{
		{
			name:      "fresh initialization",
			force:     false,
			setupFunc: func(dir string) {},
		},
		{
			name:  "force initialization replaces existing config",
			force: true,
			setupFunc: func(dir string) {
				os.WriteFile(filepath.Join(dir, "huddle.yml"), []byte("old content"), 0644)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdirTemp(t)
			restore := printer.SetOutput(&bytes.Buffer{}, &bytes.Buffer{})
			defer restore()

			tt.setupFunc(dir)

			require.NoError(t, Initialize(tt.force))

			cfg, err := config.Load(filepath.Join(dir, "huddle.yml"))
			require.NoError(t, err, "created huddle.yml should load")
			assert.Equal(t, "1.0", cfg.Version)
			assert.Equal(t, []string{"builder-1", "miner-1", "scout-1"}, cfg.AgentNames())
			assert.Len(t, cfg.Goals, 2)
			assert.Equal(t, 12.0, cfg.Agents["scout-1"].Distance)
		})
	}
}

func TestHandleForce(t *testing.T) {
	t.Run("removes existing huddle.yml", func(t *testing.T) {
		dir := chdirTemp(t)
		out := &bytes.Buffer{}
		restore := printer.SetOutput(out, &bytes.Buffer{})
		defer restore()

		require.NoError(t, os.WriteFile(filepath.Join(dir, "huddle.yml"), []byte("content"), 0644))
		require.NoError(t, handleForce())

		_, err := os.Stat(filepath.Join(dir, "huddle.yml"))
		assert.True(t, os.IsNotExist(err))
		assert.Contains(t, out.String(), "Removing existing huddle.yml")
	})

	t.Run("no-op when nothing exists", func(t *testing.T) {
		chdirTemp(t)
		out := &bytes.Buffer{}
		restore := printer.SetOutput(out, &bytes.Buffer{})
		defer restore()

		require.NoError(t, handleForce())
		assert.Empty(t, out.String())
	})
}

func TestPrintSuccess(t *testing.T) {
	out := &bytes.Buffer{}
	restore := printer.SetOutput(out, &bytes.Buffer{})
	defer restore()

	PrintSuccess()
	assert.Contains(t, out.String(), "Initialized huddle project")
	assert.Contains(t, out.String(), "huddle simulate")
}
