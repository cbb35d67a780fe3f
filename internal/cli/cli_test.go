package cli

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/client"
	"nudge/internal/errs"
	"nudge/internal/transport"
)

func peerCommand(t *testing.T, args ...string) (*cobra.Command, map[string]string) {
	t.Helper()
	cmd := &cobra.Command{Use: "peer"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", "info", "")
	cmd.Flags().String("log-format", "console", "")
	bindings := peerFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse(args))
	cmd.SetErr(&bytes.Buffer{})
	return cmd, bindings
}

func TestLoadConfigDefaults(t *testing.T) {
	cmd, bindings := peerCommand(t)
	cfg, err := loadConfig(cmd, bindings)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Peer.RelayHost)
	assert.Equal(t, 4000, cfg.Peer.RelayPort)
	assert.Equal(t, 1024, cfg.Peer.ChunkSize)
	assert.Equal(t, 500, cfg.Peer.Delay)
	assert.False(t, cfg.Peer.HideHostname)
}

func TestLoadConfigPrecedence(t *testing.T) {
	t.Setenv("NUDGE_PEER_DELAY", "42")
	t.Setenv("NUDGE_PEER_CHUNK_SIZE", "4096")

	cmd, bindings := peerCommand(t, "-c", "2048", "-x", "relay.example:5000", "--hide-hostname")
	cfg, err := loadConfig(cmd, bindings)
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.Peer.ChunkSize, "flag beats env")
	assert.Equal(t, 42, cfg.Peer.Delay, "env beats default")
	assert.Equal(t, "relay.example:5000", cfg.Peer.RelayHost)
	assert.True(t, cfg.Peer.HideHostname)
}

func TestLoadConfigRejectsOversizedChunk(t *testing.T) {
	cmd, bindings := peerCommand(t, "-c", "70000")
	_, err := loadConfig(cmd, bindings)
	assert.Error(t, err)
}

func TestGetRejectsMalformedPassphrase(t *testing.T) {
	for _, p := range []string{"", "two words", strings.Repeat("x", 129)} {
		root := NewRootCommand()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"get", p})

		err := root.Execute()
		require.Error(t, err, "%q", p)
		assert.Contains(t, err.Error(), "is not a passphrase")
	}
}

func TestSendMissingFile(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"send", filepath.Join(t.TempDir(), "missing.bin"), "-x", "127.0.0.1:9", "--no-transfer-log"})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, errs.KindFileSystem, errs.KindOf(err))
	assert.Contains(t, out.String(), "nudge")
}

func TestCommandsRequireArguments(t *testing.T) {
	for _, args := range [][]string{{"send"}, {"get"}, {"server", "extra"}} {
		root := NewRootCommand()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(args)
		assert.Error(t, root.Execute(), "%v", args)
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(client.NewUI(&out, nil), &client.Result{
		TransferID: "0b7f2c1e",
		FileName:   "a.bin",
		Path:       "/tmp/a.bin",
		Bytes:      1024,
		Elapsed:    1500 * time.Millisecond,
		Peer:       "10.0.0.2:5000",
		PeerHost:   "laptop",
		Stats:      transport.Stats{FramesSent: 1, Retransmits: 2},
	})

	s := out.String()
	for _, want := range []string{"a.bin", "1.0 kB", "1.500s", "laptop", "0b7f2c1e", "2 retransmitted"} {
		assert.Contains(t, s, want)
	}
	assert.NotContains(t, s, "Log")
}

func TestFinish(t *testing.T) {
	assert.NoError(t, finish(client.ErrCancelled))
	assert.NoError(t, finish(fmt.Errorf("get: %w", client.ErrCancelled)))
	assert.ErrorIs(t, finish(errs.ErrIntegrity), errs.ErrIntegrity)
}
