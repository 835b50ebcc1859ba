package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCommand(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		args     []string
		wantErr  string
	}{
		{
			name: "fresh directory",
			args: []string{"init"},
		},
		{
			name:     "refuses to overwrite",
			existing: "version: \"1.0\"\n",
			args:     []string{"init"},
			wantErr:  "project already initialized",
		},
		{
			name:     "force overwrites",
			existing: "version: \"1.0\"\n",
			args:     []string{"init", "--force"},
		},
		{
			name:    "rejects arguments",
			args:    []string{"init", "extra"},
			wantErr: "unknown command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.SetupEnvironment(t, tt.existing)

			out, _, err := executeCommand(t, tt.args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "Initialized huddle project")

			cfg, err := config.Load(filepath.Join(env.TmpDir, "huddle.yml"))
			require.NoError(t, err)
			assert.NotEmpty(t, cfg.Agents)

			_, err = os.Stat(filepath.Join(env.TmpDir, "huddle.yml"))
			assert.NoError(t, err)
		})
	}
}
