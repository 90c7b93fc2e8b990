package event_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"huddle/internal/domain"
	"huddle/internal/protocol/event"
)

func TestFinalizeVerify(t *testing.T) {
	s, err := event.Ephemeral()
	require.NoError(t, err)

	ev, err := s.SignEvent(domain.Event{
		CreatedAt: 1700000000,
		Kind:      domain.KindGroupMessage,
		Tags:      domain.Tags{{domain.TagGroup, "abc"}},
		Content:   "payload",
	})
	require.NoError(t, err)
	require.Equal(t, s.PublicKey(), ev.PubKey)
	require.Len(t, ev.ID, 64)
	require.NoError(t, event.Verify(ev))

	tampered := ev
	tampered.Content = "other"
	require.ErrorIs(t, event.Verify(tampered), event.ErrBadID)

	other, err := event.Ephemeral()
	require.NoError(t, err)
	forged := ev
	forged.PubKey = other.PublicKey()
	id, err := event.ComputeID(forged)
	require.NoError(t, err)
	forged.ID = id
	require.ErrorIs(t, event.Verify(forged), event.ErrBadSignature)
}

func TestRumorIsUnsigned(t *testing.T) {
	s, err := event.Ephemeral()
	require.NoError(t, err)

	r, err := event.Rumor(domain.Event{Kind: domain.KindWelcome, Content: "x"}, s.PublicKey())
	require.NoError(t, err)
	require.Empty(t, r.Sig)
	require.NoError(t, event.CheckID(r))
	require.ErrorIs(t, event.Verify(r), event.ErrUnsigned)
}

func TestComputeIDNilTags(t *testing.T) {
	a, err := event.ComputeID(domain.Event{PubKey: "aa", Kind: 1})
	require.NoError(t, err)
	b, err := event.ComputeID(domain.Event{PubKey: "aa", Kind: 1, Tags: domain.Tags{}})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestKeySignerEncrypt(t *testing.T) {
	alice, err := event.Ephemeral()
	require.NoError(t, err)
	bob, err := event.Ephemeral()
	require.NoError(t, err)

	ct, err := alice.Encrypt(bob.PublicKey(), []byte("hi bob"))
	require.NoError(t, err)
	pt, err := bob.Decrypt(alice.PublicKey(), ct)
	require.NoError(t, err)
	require.Equal(t, "hi bob", string(pt))
}
