// Command relay attaches an event archive to a NATS server so that huddle
// clients using the nats transport can publish, query and subscribe.
//
// The archive is held in memory and lost on exit. The relay only ever sees
// signed envelopes: group messages are encrypted and Welcomes are gift
// wrapped under one-off keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"huddle/internal/config"
	"huddle/internal/relay"
)

func newRootCommand() *cobra.Command {
	var (
		configFile string
		natsURL    string
	)
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "huddle relay daemon",
		Example: `  # Serve the NATS server on localhost
  relay

  # Use a config file and another NATS server
  relay -f relay.toml --nats nats://10.0.0.2:4222`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
			}
			if natsURL != "" {
				cfg.Relay.NATSURL = natsURL
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "relay.toml", "path to the configuration file (TOML format)")
	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS server URL (overrides Relay.NATSURL)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	backend, err := cfg.InitLogBackend()
	if err != nil {
		return err
	}
	log := backend.GetLogger("relayd")

	nc, err := nats.Connect(cfg.Relay.NATSURL,
		nats.Name("huddle-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait()),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warningf("Disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Noticef("Reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Relay.NATSURL, err)
	}
	defer nc.Close()

	archive := relay.NewArchive()
	d, err := relay.NewDaemon(nc, archive, log)
	if err != nil {
		return err
	}
	defer d.Halt()

	// Halt gracefully on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Noticef("Relay attached to %s", nc.ConnectedUrl())
	<-ctx.Done()
	log.Noticef("Shutting down with %d stored events", archive.Len())
	return nil
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
