package timeline_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"huddle/internal/domain"
	"huddle/internal/timeline"
)

var conv = domain.GroupID{1}

func msg(id string, ts int64, sender domain.Identity, content string, status domain.DeliveryStatus) domain.ChatMessage {
	return domain.ChatMessage{
		ID:             domain.MessageID(id),
		ConversationID: conv,
		Sender:         sender,
		Content:        content,
		Timestamp:      ts,
		Status:         status,
	}
}

type recordingSink struct {
	mu      sync.Mutex
	saved   map[domain.MessageID]domain.ChatMessage
	deleted []domain.MessageID
}

func newSink() *recordingSink {
	return &recordingSink{saved: make(map[domain.MessageID]domain.ChatMessage)}
}

func (r *recordingSink) SaveMessage(m domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[m.ID] = m
	return nil
}

func (r *recordingSink) DeleteMessage(_ domain.GroupID, id domain.MessageID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.saved, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func TestDuplicateIDIsDropped(t *testing.T) {
	s := timeline.New(nil)
	m := msg("x", 100, "A", "hi", domain.StatusReceived)

	require.Equal(t, timeline.Appended, s.Add(m))
	require.Equal(t, timeline.DuplicateID, s.Add(m))
	require.Len(t, s.Messages(conv), 1)
}

func TestOptimisticMergeKeepsPosition(t *testing.T) {
	sink := newSink()
	s := timeline.New(sink)

	s.Add(msg("before", 50, "B", "earlier", domain.StatusReceived))
	require.Equal(t, timeline.Appended, s.Add(msg("local", 100, "A", "hi", domain.StatusSending)))
	s.Add(msg("after", 120, "B", "later", domain.StatusReceived))

	require.Equal(t, timeline.Merged, s.Add(msg("echo", 130, "A", "hi", domain.StatusReceived)))

	got := s.Messages(conv)
	require.Len(t, got, 3)
	require.Equal(t, domain.MessageID("echo"), got[1].ID)
	require.Equal(t, domain.StatusSent, got[1].Status)
	require.Equal(t, int64(130), got[1].Timestamp)

	require.Contains(t, sink.deleted, domain.MessageID("local"))
	require.Equal(t, domain.StatusSent, sink.saved["echo"].Status)
	require.NotContains(t, sink.saved, domain.MessageID("local"))
}

func TestMergeWindowIsBounded(t *testing.T) {
	s := timeline.New(nil)
	s.Add(msg("local", 100, "A", "hi", domain.StatusSent))
	require.Equal(t, timeline.Appended, s.Add(msg("echo", 161, "A", "hi", domain.StatusReceived)))
	require.Len(t, s.Messages(conv), 2)
}

func TestMergeRequiresSameSenderAndContent(t *testing.T) {
	s := timeline.New(nil)
	s.Add(msg("local", 100, "A", "hi", domain.StatusSending))
	require.Equal(t, timeline.Appended, s.Add(msg("other", 110, "B", "hi", domain.StatusReceived)))
	require.Equal(t, timeline.Appended, s.Add(msg("edit", 120, "A", "hi!", domain.StatusReceived)))
	require.Len(t, s.Messages(conv), 3)
}

func TestContentDuplicateGuard(t *testing.T) {
	s := timeline.New(nil)
	require.Equal(t, timeline.Appended, s.Add(msg("m3", 100, "A", "hi", domain.StatusReceived)))
	require.Equal(t, timeline.DuplicateContent, s.Add(msg("m4", 103, "A", "hi", domain.StatusReceived)))
	require.Len(t, s.Messages(conv), 1)

	// Outside the window two identical messages are both real.
	require.Equal(t, timeline.Appended, s.Add(msg("m5", 106, "A", "hi", domain.StatusReceived)))
	require.Len(t, s.Messages(conv), 2)
}

func TestAppendKeepsTimestampOrder(t *testing.T) {
	s := timeline.New(nil)
	s.Add(msg("c", 300, "A", "3", domain.StatusReceived))
	s.Add(msg("a", 100, "A", "1", domain.StatusReceived))
	s.Add(msg("b", 200, "A", "2", domain.StatusReceived))
	s.Add(msg("b2", 200, "B", "2b", domain.StatusReceived))

	var ids []domain.MessageID
	for _, m := range s.Messages(conv) {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []domain.MessageID{"a", "b", "b2", "c"}, ids)
}

func TestSnapshotsAreCopyOnWrite(t *testing.T) {
	s := timeline.New(nil)
	s.Add(msg("local", 100, "A", "hi", domain.StatusSending))
	snap := s.Messages(conv)

	_, ok := s.SetStatus(conv, "local", domain.StatusFailed)
	require.True(t, ok)
	s.Add(msg("z", 200, "B", "x", domain.StatusReceived))

	require.Len(t, snap, 1)
	require.Equal(t, domain.StatusSending, snap[0].Status)
	require.Equal(t, domain.StatusFailed, s.Messages(conv)[0].Status)
}

func TestSetStatusAfterMergeReportsGone(t *testing.T) {
	s := timeline.New(nil)
	s.Add(msg("local", 100, "A", "hi", domain.StatusSending))
	s.Add(msg("echo", 101, "A", "hi", domain.StatusReceived))

	_, ok := s.SetStatus(conv, "local", domain.StatusSent)
	require.False(t, ok)
}

func TestPlaceholdersAreNeverMerged(t *testing.T) {
	s := timeline.New(nil)
	s.Add(msg("local", 100, "A", "", domain.StatusSending))
	p := msg("p", 101, "A", "", domain.StatusReceived)
	p.Undecryptable = true
	require.Equal(t, timeline.Appended, s.Add(p))
}

func TestLoadAndObserve(t *testing.T) {
	s := timeline.New(nil)
	s.Load(conv, []domain.ChatMessage{
		msg("b", 200, "A", "2", domain.StatusReceived),
		msg("a", 100, "A", "1", domain.StatusSent),
		msg("a", 100, "A", "1", domain.StatusSent),
	})
	require.Len(t, s.Messages(conv), 2)

	var seen []domain.MessageID
	cancel := s.Observe(func(m domain.ChatMessage) { seen = append(seen, m.ID) })
	s.Add(msg("c", 300, "A", "3", domain.StatusReceived))
	s.Add(msg("c", 300, "A", "3", domain.StatusReceived))
	cancel()
	s.Add(msg("d", 400, "A", "4", domain.StatusReceived))
	require.Equal(t, []domain.MessageID{"c"}, seen)

	s.Remove(conv)
	require.Empty(t, s.Messages(conv))
}

func TestResolveReplacesPlaceholder(t *testing.T) {
	sink := newSink()
	s := timeline.New(sink)
	p := msg("env", 100, "ephemeral", "", domain.StatusReceived)
	p.Undecryptable = true
	s.Add(p)
	s.Add(msg("other", 150, "B", "later", domain.StatusReceived))

	require.Equal(t, timeline.Appended, s.Resolve("env", msg("inner", 100, "A", "hi", domain.StatusReceived)))
	got := s.Messages(conv)
	require.Len(t, got, 2)
	require.Equal(t, domain.MessageID("inner"), got[0].ID)
	require.False(t, got[0].Undecryptable)
	require.Contains(t, sink.deleted, domain.MessageID("env"))

	// A recovered duplicate still removes its placeholder.
	p2 := msg("env2", 100, "ephemeral", "", domain.StatusReceived)
	p2.Undecryptable = true
	s.Add(p2)
	require.Equal(t, timeline.DuplicateID, s.Resolve("env2", msg("inner", 100, "A", "hi", domain.StatusReceived)))
	require.Len(t, s.Messages(conv), 2)
}

func TestDiscardOnlyDropsPlaceholders(t *testing.T) {
	sink := newSink()
	s := timeline.New(sink)
	p := msg("env", 100, "ephemeral", "", domain.StatusReceived)
	p.Undecryptable = true
	s.Add(p)
	s.Add(msg("kept", 120, "B", "readable", domain.StatusReceived))

	require.False(t, s.Discard(conv, "kept"))
	require.True(t, s.Discard(conv, "env"))
	require.False(t, s.Discard(conv, "env"))

	got := s.Messages(conv)
	require.Len(t, got, 1)
	require.Equal(t, domain.MessageID("kept"), got[0].ID)
	require.Equal(t, []domain.MessageID{"env"}, sink.deleted)
}
