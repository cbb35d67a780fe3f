package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/constants"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultRelayPort, cfg.Peer.RelayPort)
	assert.Equal(t, constants.DefaultChunkSize, cfg.Peer.ChunkSize)
	assert.Equal(t, 500*time.Microsecond, cfg.Peer.PaceDelay())
	assert.Equal(t, "memory", cfg.Relay.Store)
	assert.Equal(t, time.Hour, cfg.Relay.SessionTTL)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nudge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relay:
  port: 4100
  session_ttl: 10m
peer:
  chunk_size: 2048
  relay_host: relay.example.org
`), 0o644))

	t.Setenv("NUDGE_PEER_CHUNK_SIZE", "4096")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP("relay-host", "x", constants.DefaultRelayHost, "")
	fs.Int("delay", constants.DefaultDelay, "")
	require.NoError(t, fs.Parse([]string{"--delay", "0"}))

	cfg, err := Load(path, map[string]*pflag.Flag{
		"peer.relay_host": fs.Lookup("relay-host"),
		"peer.delay":      fs.Lookup("delay"),
	})
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Relay.Port)
	assert.Equal(t, 10*time.Minute, cfg.Relay.SessionTTL)
	assert.Equal(t, 4096, cfg.Peer.ChunkSize, "env beats file")
	assert.Equal(t, "relay.example.org", cfg.Peer.RelayHost, "unset flag does not beat file")
	assert.Equal(t, 0, cfg.Peer.Delay, "set flag beats default")
}

func TestRedisHostSelectsRedisStore(t *testing.T) {
	t.Setenv("REDIS_HOST", "10.1.2.3")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Relay.Store)
	assert.Equal(t, "10.1.2.3", cfg.Relay.Redis.Host)
	assert.Equal(t, "6379", cfg.Relay.Redis.Port)
}

func TestExplicitStoreWins(t *testing.T) {
	t.Setenv("REDIS_HOST", "10.1.2.3")
	t.Setenv("NUDGE_RELAY_STORE", "memory")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Relay.Store)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Peer.ChunkSize = constants.MaxChunkSize + 1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Relay.Store = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Transport.MaxRTO = cfg.Transport.MinRTO / 2
	assert.Error(t, cfg.Validate())
}
