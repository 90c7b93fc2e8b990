package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate an identity key and store it securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			id, fp, err := wire.Identity.GenerateIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Identity created.\nIdentity:    %s\nFingerprint: %s\n", id.Identity(), fp)
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print your identity and its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wire.Identity.LoadIdentity(passphrase)
			if err != nil {
				return err
			}
			fp, err := wire.Identity.FingerprintIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Identity:    %s\nFingerprint: %s\n", id.Identity(), fp)
			return nil
		},
	}
}
