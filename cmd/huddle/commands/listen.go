package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"huddle/internal/domain"
)

// listen joins groups from incoming Welcomes and prints group messages
// until interrupted.
func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Join groups from Welcomes and print incoming messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := unlock()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cancel := wire.Timeline.Observe(func(m domain.ChatMessage) {
				fmt.Printf("%s %s\n", m.ConversationID.Hex()[:8], formatMessage(m))
			})
			defer cancel()

			sub, err := a.Groups.Listen(ctx)
			if err != nil {
				return err
			}
			defer sub.Close()

			fmt.Printf("Listening as %s. Ctrl-C to stop.\n", a.Me.Short())
			<-ctx.Done()
			return nil
		},
	}
}
