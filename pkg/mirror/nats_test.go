package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNATSPublisher(t *testing.T) {
	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewNATSPublisher("nats://127.0.0.1:4222", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("reports unreachable server", func(t *testing.T) {
		_, err := NewNATSPublisher("nats://127.0.0.1:1", "test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to NATS")
	})
}
