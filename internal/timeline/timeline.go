package timeline

import (
	"cmp"
	"slices"
	"sync"

	"huddle/internal/domain"
)

// Windows in seconds, matching ChatMessage.Timestamp.
const (
	MergeWindow     int64 = 60
	DuplicateWindow int64 = 5
)

// Outcome reports what Add did.
type Outcome int

const (
	Appended Outcome = iota
	Merged
	DuplicateID
	DuplicateContent
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Merged:
		return "merged"
	case DuplicateID:
		return "duplicate-id"
	case DuplicateContent:
		return "duplicate-content"
	default:
		return "unknown"
	}
}

// Stored reports whether the record was kept.
func (o Outcome) Stored() bool { return o == Appended || o == Merged }

// Sink receives every change so it can be persisted.
type Sink interface {
	SaveMessage(msg domain.ChatMessage) error
	DeleteMessage(id domain.GroupID, msg domain.MessageID) error
}

// Store is the in-memory timeline of every conversation.
type Store struct {
	sink Sink

	mu        sync.RWMutex
	convs     map[domain.GroupID][]domain.ChatMessage
	observers map[int]func(domain.ChatMessage)
	nextObs   int
}

// New returns an empty Store. sink may be nil.
func New(sink Sink) *Store {
	return &Store{
		sink:      sink,
		convs:     make(map[domain.GroupID][]domain.ChatMessage),
		observers: make(map[int]func(domain.ChatMessage)),
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sameAuthorAndText(a, b domain.ChatMessage) bool {
	return a.Sender == b.Sender && a.Content == b.Content
}

// Add applies the dedup rules to msg and stores it when none drops it.
func (s *Store) Add(msg domain.ChatMessage) Outcome {
	s.mu.Lock()
	cur := s.convs[msg.ConversationID]

	outcome, next, replaced := apply(cur, msg)
	if outcome.Stored() {
		s.convs[msg.ConversationID] = next
	}
	observers := s.snapshotObservers(outcome)
	s.mu.Unlock()

	if !outcome.Stored() {
		return outcome
	}
	stored := msg
	if outcome == Merged {
		stored.Status = domain.StatusSent
	}
	s.persist(stored, replaced)
	for _, fn := range observers {
		fn(stored)
	}
	return outcome
}

// Resolve replaces the placeholder with the message it was recovered as.
// The placeholder is dropped even when msg itself is a duplicate.
func (s *Store) Resolve(placeholder domain.MessageID, msg domain.ChatMessage) Outcome {
	s.mu.Lock()
	cur := s.convs[msg.ConversationID]
	i := slices.IndexFunc(cur, func(m domain.ChatMessage) bool { return m.ID == placeholder && m.Undecryptable })
	if i >= 0 {
		cur = slices.Delete(slices.Clone(cur), i, i+1)
		s.convs[msg.ConversationID] = cur
	}
	outcome, next, replaced := apply(cur, msg)
	if outcome.Stored() {
		s.convs[msg.ConversationID] = next
	}
	observers := s.snapshotObservers(outcome)
	s.mu.Unlock()

	if i >= 0 && s.sink != nil {
		_ = s.sink.DeleteMessage(msg.ConversationID, placeholder)
	}
	if !outcome.Stored() {
		return outcome
	}
	stored := msg
	if outcome == Merged {
		stored.Status = domain.StatusSent
	}
	s.persist(stored, replaced)
	for _, fn := range observers {
		fn(stored)
	}
	return outcome
}

// apply returns the outcome and, when stored, the new list plus the id of a
// replaced record.
func apply(cur []domain.ChatMessage, msg domain.ChatMessage) (Outcome, []domain.ChatMessage, domain.MessageID) {
	if slices.ContainsFunc(cur, func(m domain.ChatMessage) bool { return m.ID == msg.ID }) {
		return DuplicateID, nil, ""
	}

	if !msg.Undecryptable && msg.Status != domain.StatusSending {
		i := slices.IndexFunc(cur, func(m domain.ChatMessage) bool {
			return (m.Status == domain.StatusSending || m.Status == domain.StatusSent) &&
				!m.Undecryptable &&
				sameAuthorAndText(m, msg) &&
				abs(m.Timestamp-msg.Timestamp) <= MergeWindow
		})
		if i >= 0 {
			next := slices.Clone(cur)
			merged := msg
			merged.Status = domain.StatusSent
			next[i] = merged
			return Merged, next, cur[i].ID
		}
	}

	if !msg.Undecryptable && slices.ContainsFunc(cur, func(m domain.ChatMessage) bool {
		return !m.Undecryptable && sameAuthorAndText(m, msg) && abs(m.Timestamp-msg.Timestamp) <= DuplicateWindow
	}) {
		return DuplicateContent, nil, ""
	}

	pos, _ := slices.BinarySearchFunc(cur, msg.Timestamp, func(m domain.ChatMessage, ts int64) int {
		// Equal timestamps keep arrival order.
		if m.Timestamp <= ts {
			return -1
		}
		return 1
	})
	next := make([]domain.ChatMessage, 0, len(cur)+1)
	next = append(next, cur[:pos]...)
	next = append(next, msg)
	next = append(next, cur[pos:]...)
	return Appended, next, ""
}

func (s *Store) persist(msg domain.ChatMessage, replaced domain.MessageID) {
	if s.sink == nil {
		return
	}
	if replaced != "" && replaced != msg.ID {
		_ = s.sink.DeleteMessage(msg.ConversationID, replaced)
	}
	_ = s.sink.SaveMessage(msg)
}

func (s *Store) snapshotObservers(o Outcome) []func(domain.ChatMessage) {
	if !o.Stored() || len(s.observers) == 0 {
		return nil
	}
	out := make([]func(domain.ChatMessage), 0, len(s.observers))
	for _, fn := range s.observers {
		out = append(out, fn)
	}
	return out
}

// SetStatus changes the status of one record. It reports false when the
// record is gone, for example because its echo already replaced it.
func (s *Store) SetStatus(conv domain.GroupID, id domain.MessageID, status domain.DeliveryStatus) (domain.ChatMessage, bool) {
	s.mu.Lock()
	cur := s.convs[conv]
	i := slices.IndexFunc(cur, func(m domain.ChatMessage) bool { return m.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return domain.ChatMessage{}, false
	}
	next := slices.Clone(cur)
	next[i].Status = status
	s.convs[conv] = next
	msg := next[i]
	s.mu.Unlock()

	s.persist(msg, "")
	return msg, true
}

// Messages returns the conversation's records in ascending timestamp order.
// The slice must not be modified.
func (s *Store) Messages(conv domain.GroupID) []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convs[conv]
}

// Discard drops the undecryptable placeholder with the given id. It
// reports whether one was found.
func (s *Store) Discard(conv domain.GroupID, placeholder domain.MessageID) bool {
	s.mu.Lock()
	cur := s.convs[conv]
	i := slices.IndexFunc(cur, func(m domain.ChatMessage) bool { return m.ID == placeholder && m.Undecryptable })
	if i >= 0 {
		s.convs[conv] = slices.Delete(slices.Clone(cur), i, i+1)
	}
	s.mu.Unlock()

	if i < 0 {
		return false
	}
	if s.sink != nil {
		_ = s.sink.DeleteMessage(conv, placeholder)
	}
	return true
}

// Load seeds a conversation from persisted records without writing them
// back. Records run through the same rules as Add.
func (s *Store) Load(conv domain.GroupID, msgs []domain.ChatMessage) {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b domain.ChatMessage) int { return cmp.Compare(a.Timestamp, b.Timestamp) })

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.convs[conv]
	for _, m := range sorted {
		m.ConversationID = conv
		if o, next, _ := apply(cur, m); o.Stored() {
			cur = next
		}
	}
	s.convs[conv] = cur
}

// Remove forgets a conversation's timeline.
func (s *Store) Remove(conv domain.GroupID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conv)
}

// Observe registers fn for every stored record. Call the returned func to
// stop.
func (s *Store) Observe(fn func(domain.ChatMessage)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}
