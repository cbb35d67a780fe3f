// Package cli wires the nudge commands: send, get and server.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"nudge/internal/client"
	"nudge/internal/config"
	"nudge/internal/constants"
	"nudge/internal/discovery"
	"nudge/internal/logger"
	"nudge/internal/transport"
	"nudge/internal/utils"
)

// Execute runs the root command with SIGINT and SIGTERM cancelling the
// context.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		client.NewUI(root.ErrOrStderr(), nil).Fail(err)
	}
	return err
}

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           constants.AppName,
		Short:         "Send files peer to peer with a short passphrase",
		Version:       constants.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to a YAML config file (env "+config.EnvConfigFile+")")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")

	root.AddCommand(newSendCommand(), newGetCommand(), newServerCommand())
	return root
}

// loadConfig resolves the configuration for cmd. bindings maps config keys
// to flag names; only flags the user set override the file and env.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	flags := map[string]*pflag.Flag{
		"log.level":  cmd.Flag("log-level"),
		"log.format": cmd.Flag("log-format"),
	}
	for key, name := range bindings {
		flags[key] = cmd.Flag(name)
	}

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return nil, err
	}

	logger.Init(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// peerFlags registers the flags shared by send and get.
func peerFlags(fs *pflag.FlagSet) map[string]string {
	d := config.Default().Peer
	fs.StringP("relay-host", "x", d.RelayHost, "relay host, optionally host:port")
	fs.IntP("relay-port", "y", d.RelayPort, "relay port")
	fs.IntP("delay", "d", d.Delay, "pause before each data frame, in microseconds")
	fs.IntP("chunk-size", "c", d.ChunkSize, "payload bytes per data frame")
	fs.Bool("hide-hostname", false, "don't tell the other peer this machine's hostname")
	fs.Bool("discover", false, "find a relay on the local network instead of using --relay-host")
	fs.Bool("no-transfer-log", false, "don't write the per-transfer event log")

	return map[string]string{
		"peer.relay_host":    "relay-host",
		"peer.relay_port":    "relay-port",
		"peer.delay":         "delay",
		"peer.chunk_size":    "chunk-size",
		"peer.hide_hostname": "hide-hostname",
	}
}

// dialRelay opens the peer socket toward the configured or discovered relay.
func dialRelay(ctx context.Context, cmd *cobra.Command, cfg *config.Config, u *client.UI) (*client.RelayClient, error) {
	host, port, err := utils.ParseRelay(cfg.Peer.RelayHost, cfg.Peer.RelayPort)
	if err != nil {
		return nil, err
	}

	if discover, _ := cmd.Flags().GetBool("discover"); discover {
		u.Step("Looking for a relay on the local network...")
		relay, err := discovery.Discover(ctx, constants.DiscoverWindow)
		if err != nil {
			return nil, err
		}
		host, port = relay.Host, relay.Port
		u.Success("Found relay " + u.Cyan(relay.Instance) + " " + u.Dim("("+relay.Addr()+")"))
	}

	rc, err := client.DialRelay(host, port, constants.ControlTimeout)
	if err != nil {
		return nil, err
	}
	if uc, ok := rc.Conn().(*net.UDPConn); ok {
		if err := transport.Tune(uc, cfg.Transport.SocketBuffer); err != nil {
			log := logger.Component("cli")
			log.Debug().Err(err).Msg("socket buffers left at defaults")
		}
	}
	return rc, nil
}

func settings(cmd *cobra.Command, cfg *config.Config) client.Settings {
	noLog, _ := cmd.Flags().GetBool("no-transfer-log")
	return client.Settings{Peer: cfg.Peer, Transport: cfg.Transport, NoTransferLog: noLog}
}

func printSummary(u *client.UI, res *client.Result) {
	u.Sep()
	u.Field("File", u.Yellow(res.FileName))
	u.Field("Path", res.Path)
	u.Field("Size", utils.FormatBytes(res.Bytes))
	u.Field("Time", utils.FormatDuration(res.Elapsed))
	u.Field("Rate", utils.FormatRate(res.Bytes, res.Elapsed))
	u.Field("Peer", fmt.Sprintf("%s %s", u.Cyan(res.PeerHost), u.Dim(res.Peer)))
	u.Field("Frames", fmt.Sprintf("%d sent, %d retransmitted, %d duplicate", res.Stats.FramesSent, res.Stats.Retransmits, res.Stats.Duplicates))
	u.Field("Transfer", u.Purple(res.TransferID))
	if res.LogPath != "" {
		u.Field("Log", u.Dim(res.LogPath))
	}
	u.Sep()
}

// finish maps a declined transfer to success.
func finish(err error) error {
	if errors.Is(err, client.ErrCancelled) {
		return nil
	}
	return err
}
