package giftwrap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"huddle/internal/domain"
	"huddle/internal/protocol/event"
	"huddle/internal/protocol/giftwrap"
)

func newSigner(t *testing.T) *event.KeySigner {
	t.Helper()
	s, err := event.Ephemeral()
	require.NoError(t, err)
	return s
}

func TestWelcomeRoundTrip(t *testing.T) {
	alice, bob := newSigner(t), newSigner(t)
	now := time.Now()
	join := []byte{0x01, 0x02, 0x03, 0xff}

	rumor := giftwrap.WelcomeRumor(alice.PublicKey(), "target-1", join, []string{"nats://a"}, now)
	wrap, err := giftwrap.Wrap(rumor, alice, bob.PublicKey(), now)
	require.NoError(t, err)

	require.Equal(t, domain.KindGiftWrap, wrap.Kind)
	require.NotEqual(t, alice.PublicKey(), wrap.PubKey)
	require.Equal(t, bob.PublicKey().String(), wrap.Tags.Value(domain.TagPubKey))
	require.LessOrEqual(t, wrap.CreatedAt, now.Unix())
	require.Greater(t, wrap.CreatedAt, now.Add(-giftwrap.MaxSkew).Unix()-1)

	opened, err := giftwrap.Unwrap(wrap, bob)
	require.NoError(t, err)
	require.Empty(t, opened.Sig)

	w, err := giftwrap.ParseWelcome(opened)
	require.NoError(t, err)
	require.Equal(t, join, w.JoinMaterial)
	require.Equal(t, domain.InviteTargetID("target-1"), w.InviteTargetID)
	require.Equal(t, alice.PublicKey(), w.Sender)
	require.Equal(t, []string{"nats://a"}, w.Relays)
}

func TestWrapsAreUnlinkable(t *testing.T) {
	alice, bob := newSigner(t), newSigner(t)
	now := time.Now()
	rumor := giftwrap.WelcomeRumor(alice.PublicKey(), "t", []byte("x"), nil, now)

	w1, err := giftwrap.Wrap(rumor, alice, bob.PublicKey(), now)
	require.NoError(t, err)
	w2, err := giftwrap.Wrap(rumor, alice, bob.PublicKey(), now)
	require.NoError(t, err)
	require.NotEqual(t, w1.PubKey, w2.PubKey)
}

func TestUnwrapRejectsWrongRecipient(t *testing.T) {
	alice, bob, carol := newSigner(t), newSigner(t), newSigner(t)
	now := time.Now()
	rumor := giftwrap.WelcomeRumor(alice.PublicKey(), "t", []byte("x"), nil, now)
	wrap, err := giftwrap.Wrap(rumor, alice, bob.PublicKey(), now)
	require.NoError(t, err)

	_, err = giftwrap.Unwrap(wrap, carol)
	require.ErrorIs(t, err, giftwrap.ErrNotRecipient)

	// Retargeting the routing hint breaks the outer signature.
	wrap.Tags = domain.Tags{{domain.TagPubKey, carol.PublicKey().String()}}
	_, err = giftwrap.Unwrap(wrap, carol)
	require.Error(t, err)
}

func TestUnwrapRejectsTamperedContent(t *testing.T) {
	alice, bob := newSigner(t), newSigner(t)
	now := time.Now()
	rumor := giftwrap.WelcomeRumor(alice.PublicKey(), "t", []byte("x"), nil, now)
	wrap, err := giftwrap.Wrap(rumor, alice, bob.PublicKey(), now)
	require.NoError(t, err)

	wrap.Content = wrap.Content[:len(wrap.Content)-4] + "AAAA"
	_, err = giftwrap.Unwrap(wrap, bob)
	require.Error(t, err)
}

func TestUnwrapRejectsForgedAuthor(t *testing.T) {
	alice, bob, mallory := newSigner(t), newSigner(t), newSigner(t)
	now := time.Now()

	// Mallory seals a rumor that claims to come from Alice. Seal rewrites
	// the author, so build the seal by hand.
	rumor, err := event.Rumor(
		giftwrap.WelcomeRumor(alice.PublicKey(), "t", []byte("x"), nil, now),
		alice.PublicKey(),
	)
	require.NoError(t, err)
	raw := mustJSON(t, rumor)
	content, err := mallory.Encrypt(bob.PublicKey(), raw)
	require.NoError(t, err)
	seal, err := mallory.SignEvent(domain.Event{CreatedAt: now.Unix(), Kind: domain.KindSeal, Content: content})
	require.NoError(t, err)

	wrap, err := giftwrap.WrapSeal(seal, bob.PublicKey(), now)
	require.NoError(t, err)

	_, err = giftwrap.Unwrap(wrap, bob)
	require.ErrorIs(t, err, giftwrap.ErrAuthorMismatch)
}

func TestParseWelcomeRejectsOtherKinds(t *testing.T) {
	_, err := giftwrap.ParseWelcome(domain.Event{Kind: domain.KindChatMessage})
	require.ErrorIs(t, err, giftwrap.ErrKind)

	_, err = giftwrap.ParseWelcome(domain.Event{Kind: domain.KindWelcome, Content: "eA=="})
	require.Error(t, err)
}
