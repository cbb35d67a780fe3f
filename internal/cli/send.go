package cli

import (
	"github.com/spf13/cobra"

	"nudge/internal/client"
)

func newSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Offer a file and print the passphrase for the receiver",
		Args:  cobra.ExactArgs(1),
	}

	bindings := peerFlags(cmd.Flags())
	cmd.Flags().Bool("skip-hash", false, "don't hash the file; the receiver can't verify it")
	cmd.Flags().Bool("qr", false, "also print the passphrase as a QR code")
	bindings["peer.skip_hash"] = "skip-hash"

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, bindings)
		if err != nil {
			return err
		}

		u := client.NewUI(cmd.OutOrStdout(), nil)
		u.Banner("send")

		rc, err := dialRelay(cmd.Context(), cmd, cfg, u)
		if err != nil {
			return err
		}
		defer rc.Close()

		qr, _ := cmd.Flags().GetBool("qr")
		s := &client.Sender{Relay: rc, Settings: settings(cmd, cfg), UI: u, QR: qr}
		res, err := s.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSummary(u, res)
		return nil
	}
	return cmd
}
