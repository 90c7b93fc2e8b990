package message

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"huddle/internal/domain"
	"huddle/internal/engine"
	"huddle/internal/log"
	"huddle/internal/protocol/event"
	"huddle/internal/relay"
	"huddle/internal/services/session"
	"huddle/internal/store"
	"huddle/internal/timeline"
)

const endpoint = "memory://a"

type peer struct {
	*Service
	me       domain.Identity
	db       *store.Store
	sessions *session.Service
}

func newPeer(t *testing.T, e *engine.Engine, hub *relay.Hub) peer {
	t.Helper()
	signer, err := event.Ephemeral()
	require.NoError(t, err)
	db, err := store.Open(filepath.Join(t.TempDir(), "huddle.db"), log.Discard().GetLogger("store"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	lg := log.Discard().GetLogger("message")
	sessions := session.New(e, db, db, lg)
	transport := relay.NewMemory(hub, []string{endpoint}, lg)
	svc := New(signer, e, sessions, transport, timeline.New(db), db, lg)
	return peer{Service: svc, me: signer.PublicKey(), db: db, sessions: sessions}
}

// install gives p its own copy of the encoded group state.
func (p peer) install(t *testing.T, e *engine.Engine, conv domain.Conversation, encoded []byte) domain.SessionHandle {
	t.Helper()
	st, err := e.DecodeState(encoded)
	require.NoError(t, err)
	secret, err := e.ExporterSecret(st)
	require.NoError(t, err)
	epoch, err := e.Epoch(st)
	require.NoError(t, err)
	h := domain.SessionHandle{State: st, Secret: secret, Epoch: epoch}
	require.NoError(t, p.sessions.Commit(conv, h, encoded))
	return h
}

type fixture struct {
	e          *engine.Engine
	hub        *relay.Hub
	alice, bob peer
	conv       domain.Conversation
	encoded    []byte
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	e := engine.New()
	hub := relay.NewHub()
	f := fixture{e: e, hub: hub, alice: newPeer(t, e, hub), bob: newPeer(t, e, hub)}

	id := domain.GroupID(sha256.Sum256([]byte(t.Name())))
	g, err := e.CreateGroup(id, f.alice.me, engine.SuiteDefault, nil)
	require.NoError(t, err)
	f.conv = domain.Conversation{
		ID:          id,
		Name:        "fixture",
		CreatedAt:   time.Now().Unix(),
		CipherSuite: engine.SuiteDefault,
	}.WithMembers(f.alice.me, f.bob.me)
	f.encoded = g.Encoded
	f.alice.install(t, e, f.conv, g.Encoded)
	f.bob.install(t, e, f.conv, g.Encoded)
	return f
}

func target(t *testing.T, e *engine.Engine) domain.ParsedInviteTarget {
	t.Helper()
	signer, err := event.Ephemeral()
	require.NoError(t, err)
	gen, err := e.GenerateInviteTarget(signer.PublicKey(), engine.SuiteDefault, nil)
	require.NoError(t, err)
	parsed, err := e.ParseInviteTarget(gen.Bundle)
	require.NoError(t, err)
	return parsed
}

func (f fixture) envelopes() []domain.Event {
	return f.hub.Archive(endpoint).Query(domain.Filter{Kinds: []int{domain.KindGroupMessage}})
}

func TestSendWithoutSessionFails(t *testing.T) {
	hub := relay.NewHub()
	p := newPeer(t, engine.New(), hub)

	_, err := p.SendMessage(context.Background(), domain.GroupID{9}, "nobody hears this")
	require.ErrorIs(t, err, domain.ErrSessionAbsent)
	require.Zero(t, hub.Archive(endpoint).Len())
}

func TestUnknownConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.alice.SendMessage(context.Background(), f.conv.ID, "hi")
	require.NoError(t, err)

	stranger := newPeer(t, f.e, f.hub)
	_, err = stranger.HandleIncomingEnvelope(context.Background(), f.conv.ID, f.envelopes()[0])
	require.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestSendAndReceive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sent, err := f.alice.SendMessage(ctx, f.conv.ID, "hello")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, sent.Status)
	envs := f.envelopes()
	require.Len(t, envs, 1)
	require.NotEqual(t, f.alice.me, envs[0].PubKey)
	require.NotContains(t, envs[0].Content, "hello")

	got, err := f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, envs[0])
	require.NoError(t, err)
	require.Equal(t, f.alice.me, got.Sender)
	require.Equal(t, "hello", got.Content)
	require.False(t, got.Undecryptable)

	conv, _, err := f.bob.sessions.Conversation(f.conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, conv.Unread)
	require.NoError(t, f.bob.MarkRead(f.conv.ID))
	conv, _, err = f.bob.sessions.Conversation(f.conv.ID)
	require.NoError(t, err)
	require.Zero(t, conv.Unread)

	// A second copy from another endpoint is dropped.
	_, err = f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, envs[0])
	require.NoError(t, err)
	require.Len(t, f.bob.History(f.conv.ID), 1)

	// The echo replaces the optimistic record.
	_, err = f.alice.HandleIncomingEnvelope(ctx, f.conv.ID, envs[0])
	require.NoError(t, err)
	hist := f.alice.History(f.conv.ID)
	require.Len(t, hist, 1)
	require.Equal(t, got.ID, hist[0].ID)
	require.Equal(t, domain.StatusSent, hist[0].Status)
}

func TestUndecryptableBecomesPlaceholder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	signer, err := event.Ephemeral()
	require.NoError(t, err)
	inner, err := signer.SignEvent(domain.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      domain.KindChatMessage,
		Tags:      domain.Tags{{domain.TagGroup, f.conv.ID.Hex()}},
		Content:   "sealed with the wrong key",
	})
	require.NoError(t, err)
	wrong := make([]byte, 32)
	_, err = rand.Read(wrong)
	require.NoError(t, err)
	env, err := seal(f.conv.ID, domain.SessionHandle{Secret: wrong}, inner, time.Now())
	require.NoError(t, err)

	got, err := f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, env)
	require.NoError(t, err)
	require.True(t, got.Undecryptable)
	require.Empty(t, got.Content)
	require.Equal(t, env.PubKey, got.Sender)
	require.Equal(t, domain.MessageID(env.ID), got.ID)

	hist := f.bob.History(f.conv.ID)
	require.Len(t, hist, 1)
	require.True(t, hist[0].Undecryptable)
}

func TestCommitReleasesHeldEnvelopes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	carol := target(t, f.e)
	prev, ok := f.alice.sessions.Get(f.conv.ID)
	require.True(t, ok)
	commit, err := f.e.AddMembers(prev.State, []domain.ParsedInviteTarget{carol}, engine.SuiteDefault)
	require.NoError(t, err)
	next := domain.SessionHandle{State: commit.State, Secret: commit.Secret, Epoch: commit.Epoch}
	require.NoError(t, f.alice.sessions.Commit(f.conv.WithMembers(carol.Identity), next, commit.Encoded))

	// Bob sees a message of the new epoch before the commit.
	_, err = f.alice.SendMessage(ctx, f.conv.ID, "new epoch")
	require.NoError(t, err)
	early := f.envelopes()[0]
	got, err := f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, early)
	require.NoError(t, err)
	require.True(t, got.Undecryptable)

	require.NoError(t, f.alice.PublishCommit(ctx, f.conv, prev, commit.Commit))
	var commitEnv domain.Event
	for _, env := range f.envelopes() {
		if epoch, _ := epochOf(env); epoch == prev.Epoch {
			commitEnv = env
		}
	}
	require.NotEmpty(t, commitEnv.ID)

	got, err = f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, commitEnv)
	require.NoError(t, err)
	require.Empty(t, got.ID)

	h, ok := f.bob.sessions.Get(f.conv.ID)
	require.True(t, ok)
	require.Equal(t, commit.Epoch, h.Epoch)
	require.Equal(t, commit.Secret, h.Secret)
	conv, _, err := f.bob.sessions.Conversation(f.conv.ID)
	require.NoError(t, err)
	require.True(t, conv.HasMember(carol.Identity))

	hist := f.bob.History(f.conv.ID)
	require.Len(t, hist, 1)
	require.False(t, hist[0].Undecryptable)
	require.Equal(t, "new epoch", hist[0].Content)

	// A second copy of the commit changes nothing.
	_, err = f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, commitEnv)
	require.NoError(t, err)
	require.Len(t, f.bob.History(f.conv.ID), 1)

	// Alice ignores the echo of her own commit.
	_, err = f.alice.HandleIncomingEnvelope(ctx, f.conv.ID, commitEnv)
	require.NoError(t, err)
	h, _ = f.alice.sessions.Get(f.conv.ID)
	require.Equal(t, commit.Epoch, h.Epoch)
}

// addAndPublish has alice add a fresh target and publish the commit. It
// returns the commit and the envelope that carries it.
func (f fixture) addAndPublish(t *testing.T) (domain.EngineCommit, domain.Event) {
	t.Helper()
	ctx := context.Background()
	prev, ok := f.alice.sessions.Get(f.conv.ID)
	require.True(t, ok)
	conv, _, err := f.alice.sessions.Conversation(f.conv.ID)
	require.NoError(t, err)

	added := target(t, f.e)
	commit, err := f.e.AddMembers(prev.State, []domain.ParsedInviteTarget{added}, engine.SuiteDefault)
	require.NoError(t, err)
	next := domain.SessionHandle{State: commit.State, Secret: commit.Secret, Epoch: commit.Epoch}
	require.NoError(t, f.alice.sessions.Commit(conv.WithMembers(added.Identity), next, commit.Encoded))
	require.NoError(t, f.alice.PublishCommit(ctx, conv, prev, commit.Commit))

	for _, env := range f.envelopes() {
		if epoch, _ := epochOf(env); epoch == prev.Epoch {
			return commit, env
		}
	}
	t.Fatalf("no commit envelope for epoch %d", prev.Epoch)
	return domain.EngineCommit{}, domain.Event{}
}

func TestCommitsAppliedOutOfOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, firstEnv := f.addAndPublish(t)
	second, secondEnv := f.addAndPublish(t)
	require.Equal(t, first.Epoch+1, second.Epoch)

	_, err := f.alice.SendMessage(ctx, f.conv.ID, "two epochs later")
	require.NoError(t, err)
	var msgEnv domain.Event
	for _, env := range f.envelopes() {
		if epoch, _ := epochOf(env); epoch == second.Epoch {
			msgEnv = env
		}
	}
	require.NotEmpty(t, msgEnv.ID)

	// Bob sees the later commit and the message before the first commit.
	got, err := f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, secondEnv)
	require.NoError(t, err)
	require.True(t, got.Undecryptable)
	got, err = f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, msgEnv)
	require.NoError(t, err)
	require.True(t, got.Undecryptable)

	_, err = f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, firstEnv)
	require.NoError(t, err)

	h, ok := f.bob.sessions.Get(f.conv.ID)
	require.True(t, ok)
	require.Equal(t, second.Epoch, h.Epoch)
	require.Equal(t, second.Secret, h.Secret)

	hist := f.bob.History(f.conv.ID)
	require.Len(t, hist, 1)
	require.False(t, hist[0].Undecryptable)
	require.Equal(t, "two epochs later", hist[0].Content)
	msgs, err := f.bob.db.ListMessages(f.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	conv, _, err := f.bob.sessions.Conversation(f.conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, conv.Unread)

	// A late copy of the second commit is ignored.
	_, err = f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, secondEnv)
	require.NoError(t, err)
	require.Len(t, f.bob.History(f.conv.ID), 1)
}

func TestConversationWithoutSessionGetsPlaceholders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.alice.SendMessage(ctx, f.conv.ID, "unreadable here")
	require.NoError(t, err)
	env := f.envelopes()[0]

	carol := newPeer(t, f.e, f.hub)
	require.NoError(t, carol.sessions.SaveConversation(f.conv))
	_, ok := carol.sessions.Get(f.conv.ID)
	require.False(t, ok)

	got, err := carol.HandleIncomingEnvelope(ctx, f.conv.ID, env)
	require.NoError(t, err)
	require.True(t, got.Undecryptable)
	require.Empty(t, got.Content)
	require.Equal(t, env.PubKey, got.Sender)

	hist := carol.History(f.conv.ID)
	require.Len(t, hist, 1)
	require.True(t, hist[0].Undecryptable)
}

func TestCommitFromNonMemberIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	outsider := newPeer(t, f.e, f.hub)
	outsider.install(t, f.e, f.conv, f.encoded)

	h, ok := outsider.sessions.Get(f.conv.ID)
	require.True(t, ok)
	commit, err := f.e.AddMembers(h.State, []domain.ParsedInviteTarget{target(t, f.e)}, engine.SuiteDefault)
	require.NoError(t, err)
	require.NoError(t, outsider.PublishCommit(ctx, f.conv, h, commit.Commit))

	envs := f.envelopes()
	require.Len(t, envs, 1)
	_, err = f.bob.HandleIncomingEnvelope(ctx, f.conv.ID, envs[0])
	require.NoError(t, err)
	bobH, _ := f.bob.sessions.Get(f.conv.ID)
	require.Equal(t, h.Epoch, bobH.Epoch)
}

func TestRestoreMarksUnsentFailed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.alice.db.SaveMessage(domain.ChatMessage{
		ID:             "pending",
		ConversationID: f.conv.ID,
		Sender:         f.alice.me,
		Content:        "interrupted",
		Timestamp:      time.Now().Unix(),
		Status:         domain.StatusSending,
	}))

	require.NoError(t, f.alice.Restore())
	hist := f.alice.History(f.conv.ID)
	require.Len(t, hist, 1)
	require.Equal(t, domain.StatusFailed, hist[0].Status)

	require.NoError(t, f.alice.Forget(f.conv.ID))
	require.Empty(t, f.alice.History(f.conv.ID))
	msgs, err := f.alice.db.ListMessages(f.conv.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
