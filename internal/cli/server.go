package cli

import (
	"github.com/spf13/cobra"

	"nudge/internal/config"
	"nudge/internal/server"
)

func newServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the rendezvous relay",
		Args:  cobra.NoArgs,
	}

	d := config.Default().Relay
	fs := cmd.Flags()
	fs.StringP("bind-host", "x", d.Host, "address to bind the relay to")
	fs.IntP("port", "p", d.Port, "UDP port to listen on")
	fs.String("status", "", "serve /healthz, /stats and the event feed on this address")
	fs.Bool("advertise", false, "announce the relay on the local network")
	fs.String("store", "", "pending transfer store: memory or redis (default: redis when a redis host is set)")
	fs.Bool("audit", false, "write an audit log")

	bindings := map[string]string{
		"relay.host":        "bind-host",
		"relay.port":        "port",
		"relay.status_addr": "status",
		"relay.advertise":   "advertise",
		"relay.store":       "store",
		"relay.audit":       "audit",
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, bindings)
		if err != nil {
			return err
		}

		s, err := server.NewServer(cfg.Relay)
		if err != nil {
			return err
		}
		return s.RunContext(cmd.Context())
	}
	return cmd
}
