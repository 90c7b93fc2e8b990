package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"huddle/internal/domain"
)

func parseIdentities(args []string) ([]domain.Identity, error) {
	out := make([]domain.Identity, 0, len(args))
	for _, a := range args {
		id := domain.Identity(a)
		if _, err := domain.ParseIdentity(id); err != nil {
			return nil, fmt.Errorf("identity %q: %w", a, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func printFailures(failed []domain.MemberFailure) {
	for _, f := range failed {
		fmt.Printf("  not added: %s: %v\n", f.Identity.Short(), f.Err)
	}
}

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Create, grow and leave groups",
	}
	cmd.AddCommand(groupCreateCmd(), groupAddCmd(), groupLeaveCmd(), groupListCmd())
	return cmd
}

func groupCreateCmd() *cobra.Command {
	var (
		description string
		invitees    []string
		relays      []string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group and invite identities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIdentities(invitees)
			if err != nil {
				return err
			}
			a, err := unlock()
			if err != nil {
				return err
			}
			conv, err := a.Groups.CreateGroup(cmd.Context(), domain.CreateGroupRequest{
				Name:        args[0],
				Description: description,
				Invitees:    ids,
				Relays:      relays,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created group %s with %d members at epoch %d\n", conv.ID.Hex(), len(conv.Members), conv.Epoch)
			var missing []domain.MemberFailure
			for _, id := range ids {
				if !conv.HasMember(id) && id != a.Me {
					missing = append(missing, domain.MemberFailure{Identity: id, Err: domain.ErrInviteUnavailable})
				}
			}
			printFailures(missing)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "group description")
	cmd.Flags().StringSliceVar(&invitees, "invite", nil, "identity to invite (repeatable)")
	cmd.Flags().StringSliceVar(&relays, "relay", nil, "relay the group talks on (default: configured endpoints)")
	return cmd
}

func groupAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <group-id> <identity>...",
		Short: "Add identities to a group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gid, err := domain.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			ids, err := parseIdentities(args[1:])
			if err != nil {
				return err
			}
			a, err := unlock()
			if err != nil {
				return err
			}
			res, err := a.Membership.AddMembers(cmd.Context(), gid, ids)
			if err != nil {
				printFailures(res.Failed)
				return err
			}
			fmt.Printf("Added %d at epoch %d\n", len(res.Added), res.Epoch)
			printFailures(res.Failed)
			return nil
		},
	}
}

func groupLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <group-id>",
		Short: "Forget a group on this device",
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
			if err := a.Membership.LeaveGroup(cmd.Context(), gid); err != nil {
				return err
			}
			fmt.Println("left")
			return nil
		},
	}
}

func groupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := unlock()
			if err != nil {
				return err
			}
			convs, err := a.Sessions.Conversations()
			if err != nil {
				return err
			}
			for _, c := range convs {
				session := ""
				if !c.HasSession {
					session = "  (no session)"
				}
				fmt.Printf("%s  %-20q  members=%d epoch=%d unread=%d%s\n",
					c.ID.Hex(), c.Name, len(c.Members), c.Epoch, c.Unread, session)
			}
			return nil
		},
	}
}
