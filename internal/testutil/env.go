package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// Environment is an isolated working directory with a huddle.yml and an
// in-memory Redis server, for tests that drive the CLI end to end.
type Environment struct {
	T            *testing.T
	TmpDir       string
	OriginalDir  string
	InstanceName string
	Redis        *miniredis.Miniredis
	RedisURL     string
}

// SetupEnvironment creates a temp directory containing huddleYML, changes
// into it and starts miniredis. Everything is undone on test cleanup.
// Tests using it must not run in parallel because the working directory is process-wide.
func SetupEnvironment(t *testing.T, huddleYML string) *Environment {
	t.Helper()

	tmpDir := t.TempDir()

	if huddleYML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "huddle.yml"), []byte(huddleYML), 0644),
			"Failed to write huddle.yml")
	}

	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmpDir), "Failed to change to test directory")

	mr := miniredis.RunT(t)

	env := &Environment{
		T:            t,
		TmpDir:       tmpDir,
		OriginalDir:  originalDir,
		InstanceName: fmt.Sprintf("test-%d", time.Now().UnixNano()%1_000_000),
		Redis:        mr,
		RedisURL:     "redis://" + mr.Addr(),
	}

	t.Cleanup(func() {
		os.Chdir(originalDir)
	})

	return env
}

// WaitForHashField polls Redis until key's field equals want.
func (env *Environment) WaitForHashField(key, field, want string, timeout time.Duration) {
	env.T.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if env.Redis.Exists(key) && env.Redis.HGet(key, field) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Failf(env.T, "hash field not reached", "%s %s != %q within %v (got %q)",
		key, field, want, timeout, env.Redis.HGet(key, field))
}

// DefaultHuddleYML returns a small valid configuration with two agents and one goal.
func DefaultHuddleYML(instanceName string) string {
	return fmt.Sprintf(`version: "1.0"
instance: %s
coordinator:
  sweep_interval: 20ms
  inbox_interval: 10ms
  default_deadline: 200ms
agents:
  miner-1:
    skills: [mining]
    score: 0.8
    confidence: 0.9
    estimated_time: 50ms
  builder-1:
    skills: [building, mining]
    score: 0.6
    confidence: 0.95
    estimated_time: 20ms
goals:
  - task: dig tunnel
    requirements:
      skills: [mining]
`, instanceName)
}
