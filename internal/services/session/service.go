package session

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
)

// flusher is implemented by conversation stores that coalesce writes.
type flusher interface {
	Flush() error
}

// Service caches session handles and persists them.
//
// The cache and the stores are only written through Commit and Drop, which
// callers invoke while holding the conversation's lock.
type Service struct {
	log      *logging.Logger
	engine   domain.Engine
	sessions domain.SessionStore
	convs    domain.ConversationStore

	locksMu sync.Mutex
	locks   map[domain.GroupID]*sync.Mutex

	mu    sync.RWMutex
	cache map[domain.GroupID]domain.SessionHandle
}

// New constructs a session service.
func New(
	engine domain.Engine,
	sessions domain.SessionStore,
	convs domain.ConversationStore,
	log *logging.Logger,
) *Service {
	return &Service{
		log:      log,
		engine:   engine,
		sessions: sessions,
		convs:    convs,
		locks:    make(map[domain.GroupID]*sync.Mutex),
		cache:    make(map[domain.GroupID]domain.SessionHandle),
	}
}

// Lock serializes work on one conversation. Different conversations never
// block each other.
func (s *Service) Lock(id domain.GroupID) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = new(sync.Mutex)
		s.locks[id] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Get returns the session for id, loading it from disk on a cache miss.
// State that cannot be decoded is reported as absent.
func (s *Service) Get(id domain.GroupID) (domain.SessionHandle, bool) {
	s.mu.RLock()
	h, ok := s.cache[id]
	s.mu.RUnlock()
	if ok {
		return h, true
	}

	h, ok = s.load(id)
	if !ok {
		return domain.SessionHandle{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache[id]; ok {
		return cur, true
	}
	s.cache[id] = h
	return h, true
}

// load rebuilds a handle from persisted state.
//
// Steps:
//  1. Read the encoded engine state.
//  2. Decode it with the engine.
//  3. Recompute the epoch's message secret and epoch number.
func (s *Service) load(id domain.GroupID) (domain.SessionHandle, bool) {
	raw, ok, err := s.sessions.LoadSession(id)
	if err != nil {
		s.log.Errorf("session %s: read state: %v", id.Hex(), err)
		return domain.SessionHandle{}, false
	}
	if !ok {
		return domain.SessionHandle{}, false
	}
	st, err := s.engine.DecodeState(raw)
	if err != nil {
		s.log.Warningf("session %s: unreadable state, treating as absent: %v", id.Hex(), err)
		return domain.SessionHandle{}, false
	}
	secret, err := s.engine.ExporterSecret(st)
	if err != nil {
		s.log.Warningf("session %s: derive secret: %v", id.Hex(), err)
		return domain.SessionHandle{}, false
	}
	epoch, err := s.engine.Epoch(st)
	if err != nil {
		s.log.Warningf("session %s: read epoch: %v", id.Hex(), err)
		return domain.SessionHandle{}, false
	}
	return domain.SessionHandle{State: st, Secret: secret, Epoch: epoch}, true
}

// Commit makes handle the conversation's session. Both records are written
// before the handle becomes visible, so a crash never leaves a cached
// session without durable state.
func (s *Service) Commit(conv domain.Conversation, handle domain.SessionHandle, encoded []byte) error {
	if err := s.sessions.SaveSession(conv.ID, encoded); err != nil {
		return err
	}
	conv.HasSession = true
	conv.Epoch = handle.Epoch
	conv.UpdatedAt = time.Now().Unix()
	if err := s.convs.SaveConversation(conv); err != nil {
		return err
	}
	if f, ok := s.convs.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.cache[conv.ID] = handle
	s.mu.Unlock()
	s.log.Debugf("session %s: committed epoch %d", conv.ID.Hex(), handle.Epoch)
	return nil
}

func (s *Service) Conversation(id domain.GroupID) (domain.Conversation, bool, error) {
	return s.convs.LoadConversation(id)
}

// Conversations returns every conversation, oldest first.
func (s *Service) Conversations() ([]domain.Conversation, error) {
	convs, err := s.convs.ListConversations()
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(convs, func(a, b domain.Conversation) int { return cmp.Compare(a.CreatedAt, b.CreatedAt) })
	return convs, nil
}

func (s *Service) SaveConversation(conv domain.Conversation) error {
	return s.convs.SaveConversation(conv)
}

// Drop forgets the session and the conversation record.
func (s *Service) Drop(id domain.GroupID) error {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()

	if err := s.sessions.DeleteSession(id); err != nil {
		return err
	}
	return s.convs.DeleteConversation(id)
}

// RestoreAll loads every persisted session into the cache and returns how
// many were usable. Conversations whose state is unreadable stay listed but
// have no session.
func (s *Service) RestoreAll() (int, error) {
	convs, err := s.convs.ListConversations()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, conv := range convs {
		if !conv.HasSession {
			continue
		}
		if _, ok := s.Get(conv.ID); ok {
			n++
		}
	}
	s.log.Infof("restored %d of %d sessions", n, len(convs))
	return n, nil
}

// Compile-time assertion that Service implements domain.SessionService.
var _ domain.SessionService = (*Service)(nil)
