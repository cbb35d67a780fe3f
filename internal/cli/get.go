package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nudge/internal/client"
	"nudge/internal/security"
)

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <passphrase>",
		Short: "Receive the file offered under a passphrase",
		Args:  cobra.ExactArgs(1),
	}

	bindings := peerFlags(cmd.Flags())
	cmd.Flags().StringP("out-file", "o", "", "where to write the file (default: the sender's file name)")
	cmd.Flags().BoolP("force", "f", false, "don't ask before downloading")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		passphrase := args[0]
		if !security.ValidatePassphrase(passphrase) {
			return fmt.Errorf("%q is not a passphrase (expected up to 128 printable characters without spaces)", passphrase)
		}

		cfg, err := loadConfig(cmd, bindings)
		if err != nil {
			return err
		}

		u := client.NewUI(cmd.OutOrStdout(), cmd.InOrStdin())
		u.Banner("get")

		rc, err := dialRelay(cmd.Context(), cmd, cfg, u)
		if err != nil {
			return err
		}
		defer rc.Close()

		out, _ := cmd.Flags().GetString("out-file")
		force, _ := cmd.Flags().GetBool("force")
		r := &client.Receiver{Relay: rc, Settings: settings(cmd, cfg), UI: u, Force: force}
		res, err := r.Run(cmd.Context(), passphrase, out)
		if err != nil {
			return finish(err)
		}
		printSummary(u, res)
		return nil
	}
	return cmd
}
