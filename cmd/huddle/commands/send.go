package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"huddle/internal/domain"
)

func formatMessage(m domain.ChatMessage) string {
	ts := time.Unix(m.Timestamp, 0).Format(time.DateTime)
	if m.Undecryptable {
		return fmt.Sprintf("%s [%s] <undecryptable>", ts, m.Sender.Short())
	}
	status := ""
	if m.Status != domain.StatusReceived && m.Status != domain.StatusSent {
		status = fmt.Sprintf(" (%s)", m.Status)
	}
	return fmt.Sprintf("%s [%s] %s%s", ts, m.Sender.Short(), m.Content, status)
}

// send <group-id> <message>: encrypt and send a message to a group.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <group-id> <message>",
		Short: "Encrypt and send a message to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := domain.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			a, err := unlock()
			if err != nil {
				return err
			}
			msg, err := a.Messages.SendMessage(cmd.Context(), gid, args[1])
			if err != nil {
				return err
			}
			fmt.Println(msg.Status)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <group-id>",
		Short: "Print a group's timeline and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := domain.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			a, err := unlock()
			if err != nil {
				return err
			}
			for _, m := range a.Messages.History(gid) {
				fmt.Println(formatMessage(m))
			}
			return a.Messages.MarkRead(gid)
		},
	}
}
