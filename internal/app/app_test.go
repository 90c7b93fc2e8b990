package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"huddle/internal/app"
	"huddle/internal/config"
	"huddle/internal/domain"
	"huddle/internal/relay"
)

const (
	pass    = "Correct-Horse-9"
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type client struct {
	*app.App
	wire *app.Wire
	home string
}

func settings(t *testing.T, home, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Load([]byte(fmt.Sprintf(`
[Logging]
Disable = true

[Store]
Home = %q
FlushIntervalMs = 10

[Transport]
Endpoints = ["memory://one", "memory://two"]
%s`, home, extra)))
	require.NoError(t, err)
	return cfg
}

func open(t *testing.T, hub *relay.Hub, home, extra string, generate bool) client {
	t.Helper()
	w, err := app.NewWire(app.Config{Settings: settings(t, home, extra), Hub: hub})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	if generate {
		_, _, err = w.Identity.GenerateIdentity(pass)
		require.NoError(t, err)
	}
	a, err := w.Unlock(pass)
	require.NoError(t, err)
	return client{App: a, wire: w, home: home}
}

func newClient(t *testing.T, hub *relay.Hub) client {
	t.Helper()
	return open(t, hub, t.TempDir(), "", true)
}

// invitable publishes an invite target and listens for Welcomes.
func (c client) invitable(t *testing.T) domain.InviteTargetRecord {
	t.Helper()
	rec, err := c.Invites.Create(context.Background(), c.CipherSuite)
	require.NoError(t, err)
	c.listen(t)
	return rec
}

func (c client) listen(t *testing.T) {
	t.Helper()
	sub, err := c.Groups.Listen(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
}

func (c client) hasSession(id domain.GroupID) func() bool {
	return func() bool {
		_, ok := c.Sessions.Get(id)
		return ok
	}
}

func (c client) secret(t *testing.T, id domain.GroupID) []byte {
	t.Helper()
	h, ok := c.Sessions.Get(id)
	require.True(t, ok)
	return h.Secret
}

func (c client) hasMessage(id domain.GroupID, from domain.Identity, content string) func() bool {
	return func() bool {
		for _, m := range c.Messages.History(id) {
			if m.Sender == from && m.Content == content && !m.Undecryptable {
				return true
			}
		}
		return false
	}
}

func giftWraps(hub *relay.Hub) []domain.Event {
	return hub.Archive("memory://one").Query(domain.Filter{Kinds: []int{domain.KindGiftWrap}})
}

func TestCreateGroupWelcomesEveryInvitee(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	alice, bob, carol := newClient(t, hub), newClient(t, hub), newClient(t, hub)
	bobTarget := bob.invitable(t)
	carol.invitable(t)

	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{
		Name:     "team",
		Invitees: []domain.Identity{bob.Me, carol.Me},
	})
	require.NoError(t, err)
	require.Len(t, conv.Members, 3)
	require.Equal(t, uint64(1), conv.Epoch)
	require.Len(t, giftWraps(hub), 2)

	for _, c := range []client{bob, carol} {
		require.Eventually(t, c.hasSession(conv.ID), waitFor, tick)
		require.Equal(t, alice.secret(t, conv.ID), c.secret(t, conv.ID))

		joined, ok, err := c.Sessions.Conversation(conv.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "team", joined.Name)
		require.Equal(t, []domain.Identity{alice.Me}, joined.Admins)
		require.ElementsMatch(t, conv.Members, joined.Members)
	}

	require.Eventually(t, func() bool {
		rec, ok, err := bob.Invites.Private(bobTarget.ID)
		return err == nil && ok && rec.Consumed && rec.Retired
	}, waitFor, tick)
	_, err = alice.Invites.Resolve(ctx, bob.Me, domain.ResolveOptions{})
	require.ErrorIs(t, err, domain.ErrInviteUnavailable)
}

func TestCreateGroupSkipsUnresolvableInvitees(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	alice, bob, dave := newClient(t, hub), newClient(t, hub), newClient(t, hub)
	bob.invitable(t)

	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{
		Name:     "partial",
		Invitees: []domain.Identity{bob.Me, dave.Me, alice.Me},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.Identity{alice.Me, bob.Me}, conv.Members)
	require.Len(t, giftWraps(hub), 1)
}

func TestMessagesFlowBothWays(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	alice, bob := newClient(t, hub), newClient(t, hub)
	bob.invitable(t)
	alice.listen(t)

	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{Name: "pair", Invitees: []domain.Identity{bob.Me}})
	require.NoError(t, err)
	require.Eventually(t, bob.hasSession(conv.ID), waitFor, tick)

	sent, err := alice.Messages.SendMessage(ctx, conv.ID, "hello bob")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, sent.Status)
	require.Eventually(t, bob.hasMessage(conv.ID, alice.Me, "hello bob"), waitFor, tick)

	// The relay echo replaces the optimistic record in place.
	require.Eventually(t, func() bool {
		h := alice.Messages.History(conv.ID)
		return len(h) == 1 && h[0].ID != sent.ID && h[0].Status == domain.StatusSent
	}, waitFor, tick)

	_, err = bob.Messages.SendMessage(ctx, conv.ID, "hi alice")
	require.NoError(t, err)
	require.Eventually(t, alice.hasMessage(conv.ID, bob.Me, "hi alice"), waitFor, tick)

	require.Eventually(t, func() bool {
		c, _, err := bob.Sessions.Conversation(conv.ID)
		return err == nil && c.Unread == 1
	}, waitFor, tick)
	require.NoError(t, bob.Messages.MarkRead(conv.ID))
	bobConv, _, err := bob.Sessions.Conversation(conv.ID)
	require.NoError(t, err)
	require.Zero(t, bobConv.Unread)
}

func TestAddMembersIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	alice, bob, carol, dave := newClient(t, hub), newClient(t, hub), newClient(t, hub), newClient(t, hub)
	bob.invitable(t)
	carol.invitable(t)

	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{Name: "grow", Invitees: []domain.Identity{bob.Me}})
	require.NoError(t, err)
	require.Eventually(t, bob.hasSession(conv.ID), waitFor, tick)

	res, err := alice.Membership.AddMembers(ctx, conv.ID, []domain.Identity{carol.Me, dave.Me, bob.Me})
	require.NoError(t, err)
	require.Equal(t, []domain.Identity{carol.Me}, res.Added)
	require.Equal(t, uint64(2), res.Epoch)
	require.Len(t, res.Failed, 2)
	for _, f := range res.Failed {
		switch f.Identity {
		case dave.Me:
			require.ErrorIs(t, f.Err, domain.ErrInviteUnavailable)
		case bob.Me:
			require.ErrorIs(t, f.Err, domain.ErrAlreadyMember)
		default:
			t.Fatalf("unexpected failure for %s", f.Identity)
		}
	}

	grown, _, err := alice.Sessions.Conversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, grown.Members, 3)

	// Carol joins from her Welcome; Bob follows the commit.
	require.Eventually(t, carol.hasSession(conv.ID), waitFor, tick)
	require.Eventually(t, func() bool {
		h, ok := bob.Sessions.Get(conv.ID)
		return ok && h.Epoch == 2
	}, waitFor, tick)
	require.Equal(t, alice.secret(t, conv.ID), bob.secret(t, conv.ID))
	require.Equal(t, alice.secret(t, conv.ID), carol.secret(t, conv.ID))

	_, err = alice.Messages.SendMessage(ctx, conv.ID, "welcome carol")
	require.NoError(t, err)
	require.Eventually(t, bob.hasMessage(conv.ID, alice.Me, "welcome carol"), waitFor, tick)
	require.Eventually(t, carol.hasMessage(conv.ID, alice.Me, "welcome carol"), waitFor, tick)
	for _, m := range carol.Messages.History(conv.ID) {
		require.False(t, m.Undecryptable, "carol saw traffic from before she joined")
	}
}

func TestSendRequiresSession(t *testing.T) {
	hub := relay.NewHub()
	alice := newClient(t, hub)

	_, err := alice.Messages.SendMessage(context.Background(), domain.GroupID{7}, "secret")
	require.ErrorIs(t, err, domain.ErrSessionAbsent)
	require.Empty(t, hub.Archive("memory://one").Query(domain.Filter{Kinds: []int{domain.KindGroupMessage}}))
}

func TestSendReportsTransportRejection(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	alice := newClient(t, hub)
	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{Name: "solo"})
	require.NoError(t, err)

	hub.SetRejecting("memory://one", "maintenance")
	sent, err := alice.Messages.SendMessage(ctx, conv.ID, "one endpoint is enough")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, sent.Status)

	hub.SetRejecting("memory://two", "full")
	failed, err := alice.Messages.SendMessage(ctx, conv.ID, "nobody takes this")
	require.ErrorIs(t, err, domain.ErrTransportRejection)
	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	require.Len(t, terr.Results, 2)
	require.Equal(t, domain.StatusFailed, failed.Status)

	statuses := make(map[domain.MessageID]domain.DeliveryStatus)
	for _, m := range alice.Messages.History(conv.ID) {
		statuses[m.ID] = m.Status
	}
	require.Equal(t, domain.StatusSent, statuses[sent.ID])
	require.Equal(t, domain.StatusFailed, statuses[failed.ID])
}

func TestRestartRestoresSessionsAndHistory(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	home := t.TempDir()
	alice := open(t, hub, home, "", true)

	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{Name: "durable"})
	require.NoError(t, err)
	_, err = alice.Messages.SendMessage(ctx, conv.ID, "remember me")
	require.NoError(t, err)
	secret := alice.secret(t, conv.ID)
	require.NoError(t, alice.wire.Close())

	again := open(t, hub, home, "", false)
	require.Equal(t, secret, again.secret(t, conv.ID))
	require.Eventually(t, again.hasMessage(conv.ID, alice.Me, "remember me"), waitFor, tick)
	convs, err := again.Sessions.Conversations()
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "durable", convs[0].Name)
}

func TestRepeatedWelcomeIsIgnored(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	alice, bob := newClient(t, hub), newClient(t, hub)
	bob.invitable(t)

	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{Name: "once", Invitees: []domain.Identity{bob.Me}})
	require.NoError(t, err)
	require.Eventually(t, bob.hasSession(conv.ID), waitFor, tick)

	wraps := giftWraps(hub)
	require.Len(t, wraps, 1)
	again, err := bob.Groups.JoinFromWelcome(ctx, wraps[0])
	require.NoError(t, err)
	require.Equal(t, conv.ID, again.ID)

	convs, err := bob.Sessions.Conversations()
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestMultiDeviceInvitesReachEveryTarget(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	alice := open(t, hub, t.TempDir(), "\n[Groups]\nMultiDeviceInvites = true\n", true)
	bob := newClient(t, hub)
	_, err := bob.Invites.Create(ctx, bob.CipherSuite)
	require.NoError(t, err)
	bob.invitable(t)

	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{Name: "devices", Invitees: []domain.Identity{bob.Me}})
	require.NoError(t, err)
	require.Len(t, conv.Members, 2)
	require.Len(t, giftWraps(hub), 2)
	require.Eventually(t, bob.hasSession(conv.ID), waitFor, tick)
}

func TestLeaveGroupForgetsLocally(t *testing.T) {
	ctx := context.Background()
	hub := relay.NewHub()
	alice, bob := newClient(t, hub), newClient(t, hub)
	bob.invitable(t)

	conv, err := alice.Groups.CreateGroup(ctx, domain.CreateGroupRequest{Name: "exit", Invitees: []domain.Identity{bob.Me}})
	require.NoError(t, err)
	require.Eventually(t, bob.hasSession(conv.ID), waitFor, tick)
	_, err = alice.Messages.SendMessage(ctx, conv.ID, "before")
	require.NoError(t, err)
	require.Eventually(t, bob.hasMessage(conv.ID, alice.Me, "before"), waitFor, tick)

	require.NoError(t, bob.Membership.LeaveGroup(ctx, conv.ID))
	_, ok, err := bob.Sessions.Conversation(conv.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, bob.Messages.History(conv.ID))
	require.ErrorIs(t, bob.Membership.LeaveGroup(ctx, conv.ID), domain.ErrConversationNotFound)

	_, err = alice.Messages.SendMessage(ctx, conv.ID, "after")
	require.NoError(t, err)
	require.Never(t, func() bool { return len(bob.Messages.History(conv.ID)) > 0 }, 200*time.Millisecond, tick)
}
