package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"huddle/internal/domain"
)

func inviteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Manage the invite targets others use to add you to groups",
	}
	cmd.AddCommand(invitePublishCmd(), inviteListCmd(), inviteRetireCmd())
	return cmd
}

func invitePublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish a fresh invite target",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := unlock()
			if err != nil {
				return err
			}
			rec, err := a.Invites.Create(cmd.Context(), a.CipherSuite)
			if err != nil {
				return err
			}
			fmt.Printf("Published invite target %s\n", rec.ID)
			return nil
		},
	}
}

func inviteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List this device's invite targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := unlock()
			if err != nil {
				return err
			}
			recs, err := a.Invites.List()
			if err != nil {
				return err
			}
			for _, rec := range recs {
				state := "live"
				switch {
				case rec.Consumed:
					state = "consumed"
				case rec.Retired:
					state = "retired"
				}
				fmt.Printf("%s  %s  %s  %s\n", rec.ID, rec.CipherSuite, time.Unix(rec.CreatedAt, 0).Format(time.DateTime), state)
			}
			return nil
		},
	}
}

func inviteRetireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retire <target-id>",
		Short: "Withdraw an invite target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := unlock()
			if err != nil {
				return err
			}
			if err := a.Invites.Retire(cmd.Context(), domain.InviteTargetID(args[0])); err != nil {
				return err
			}
			fmt.Println("retired")
			return nil
		},
	}
}
