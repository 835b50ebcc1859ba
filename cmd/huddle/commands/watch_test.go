package commands

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/huddle/internal/testutil"
	"github.com/dyluth/huddle/pkg/mirror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func TestWatchCommand(t *testing.T) {
	env := testutil.SetupEnvironment(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- executeCommandContext(ctx, t, out, &syncBuffer{},
			"watch", "--name", env.InstanceName, "--redis-url", env.RedisURL, "--negotiations")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Watching instance '"+env.InstanceName+"'")
	}, 2*time.Second, 10*time.Millisecond)

	client, err := mirror.NewClientFromURL(env.RedisURL, env.InstanceName)
	require.NoError(t, err)
	defer client.Close()

	now := time.Now()
	require.NoError(t, client.PublishEvent(ctx, &mirror.Event{
		Type:        mirror.EventKnowledgePosted,
		Instance:    env.InstanceName,
		TimestampMs: now.UnixMilli(),
		Entry:       &mirror.EntryRecord{Area: "threats", Key: "creeper", Value: `"north"`, Kind: "fact", TimestampMs: now.UnixMilli()},
	}))
	require.NoError(t, client.PublishEvent(ctx, &mirror.Event{
		Type:        mirror.EventNegotiationAwarded,
		Instance:    env.InstanceName,
		TimestampMs: now.UnixMilli(),
		Negotiation: &mirror.NegotiationRecord{
			ID:           "3f2a9c1e-0000-4000-8000-000000000001",
			RequesterID:  "coordinator",
			Task:         "dig tunnel",
			State:        "awarded",
			WinnerID:     "miner-1",
			WinningValue: 0.72,
		},
	}))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "🏆 Awarded: id=3f2a9c1e to=miner-1 value=0.720")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
	assert.NotContains(t, out.String(), "creeper")
}

func TestWatchCommandValidation(t *testing.T) {
	testutil.SetupEnvironment(t, "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad format", []string{"watch", "-o", "yaml"}, "invalid output format"},
		{"bad area", []string{"watch", "--area", "nether"}, "invalid area"},
		{"conflicting filters", []string{"watch", "--area", "threats", "--negotiations"}, "conflicting filters"},
		{"unreachable redis", []string{"watch", "--redis-url", "redis://127.0.0.1:1"}, "Redis connection failed"},
		{"bad instance", []string{"watch", "--name", "Bad_Name", "--redis-url", "redis://127.0.0.1:1"}, "invalid instance name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
