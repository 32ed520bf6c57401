package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "tcp://localhost:1883", cfg.Broker)
	assert.NotEmpty(t, cfg.ClientId)
	assert.Equal(t, 5*time.Second, cfg.Engine.ReplyTimeout)
	assert.Equal(t, 45*time.Second, cfg.Balancer.StaleTimeout)
	assert.Equal(t, 500.0, cfg.Balancer.HeadroomMW)
	assert.Equal(t, 2.0, cfg.Balancer.PriorityWeight)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	data := `
broker: tcp://broker.local:1883
balancer:
  headroomMW: 250
  pollInterval: 1s
kafka:
  enabled: true
  topic: readings
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker.local:1883", cfg.Broker)
	assert.Equal(t, 250.0, cfg.Balancer.HeadroomMW)
	assert.Equal(t, time.Second, cfg.Balancer.PollInterval)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Balancer.Cooldown)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, "readings", cfg.Kafka.Topic)
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Broker, cfg.Broker)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}
