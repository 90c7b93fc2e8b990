package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"huddle/internal/app"
	"huddle/internal/config"
)

var (
	configFile string
	home       string
	passphrase string

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:          "huddle",
		Short:        "End-to-end encrypted group chat CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			if home != "" {
				cfg.Store.Home = home
			}
			wire, err = app.NewWire(app.Config{Settings: cfg})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "f", "", "configuration file (TOML)")
	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.huddle)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase to protect keys")

	root.AddCommand(
		initCmd(),
		whoamiCmd(),
		inviteCmd(),
		groupCmd(),
		historyCmd(),
		sendCmd(),
		listenCmd(),
	)
	return root.Execute()
}

// unlock opens the identity for commands that act as it.
func unlock() (*app.App, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase required (-p)")
	}
	return wire.Unlock(passphrase)
}
