package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"huddle/internal/crypto"
	"huddle/internal/domain"
	"huddle/internal/timeline"
)

// maxHeld bounds the undecryptable envelopes kept per conversation for a
// retry after the next epoch change.
const maxHeld = 256

// Service sends and receives group messages.
//
// High-level flow:
//   - Send: under the conversation lock, encrypt with the current message
//     secret and append an optimistic record; publish outside the lock and
//     record the delivery status. The relay echo later replaces the
//     optimistic record.
//   - Receive: under the conversation lock, decrypt with the current
//     secret. Anything that cannot be opened is kept as a placeholder and
//     held; a commit moving the group to a new epoch retries held
//     envelopes and replaces the placeholders it can open.
type Service struct {
	log       *logging.Logger
	signer    domain.Signer
	engine    domain.Engine
	sessions  domain.SessionService
	transport domain.Transport
	timeline  *timeline.Store
	messages  domain.MessageStore

	mu sync.Mutex
	// commits holds envelope ids of commits published or applied here.
	commits map[string]struct{}
	held    map[domain.GroupID][]domain.Event
}

// New constructs a message service.
func New(
	signer domain.Signer,
	engine domain.Engine,
	sessions domain.SessionService,
	transport domain.Transport,
	tl *timeline.Store,
	messages domain.MessageStore,
	log *logging.Logger,
) *Service {
	return &Service{
		log:       log,
		signer:    signer,
		engine:    engine,
		sessions:  sessions,
		transport: transport,
		timeline:  tl,
		messages:  messages,
		commits:   make(map[string]struct{}),
		held:      make(map[domain.GroupID][]domain.Event),
	}
}

// SendMessage encrypts plaintext for the group and publishes it.
//
// Steps:
//  1. Take the conversation lock and fetch the session. Without a message
//     secret the call fails with domain.ErrSessionAbsent; nothing is sent.
//  2. Sign the chat event with this identity and seal it into an envelope.
//  3. Append an optimistic record with status sending and release the lock.
//  4. Publish and mark the record sent or failed.
//
// The returned record carries the final status. On failure the error wraps
// domain.ErrTransportRejection.
func (s *Service) SendMessage(
	ctx context.Context,
	id domain.GroupID,
	plaintext string,
) (domain.ChatMessage, error) {
	unlock := s.sessions.Lock(id)
	h, ok := s.sessions.Get(id)
	if !ok || len(h.Secret) == 0 {
		unlock()
		return domain.ChatMessage{}, domain.ErrSessionAbsent
	}
	conv, ok, err := s.sessions.Conversation(id)
	if err != nil || !ok {
		unlock()
		if err == nil {
			err = domain.ErrConversationNotFound
		}
		return domain.ChatMessage{}, err
	}

	now := time.Now()
	inner, err := s.signer.SignEvent(domain.Event{
		CreatedAt: now.Unix(),
		Kind:      domain.KindChatMessage,
		Tags:      domain.Tags{{domain.TagGroup, id.Hex()}},
		Content:   plaintext,
	})
	if err != nil {
		unlock()
		return domain.ChatMessage{}, err
	}
	env, err := seal(id, h, inner, now)
	if err != nil {
		unlock()
		return domain.ChatMessage{}, err
	}

	msg := domain.ChatMessage{
		ID:             domain.MessageID(uuid.NewString()),
		ConversationID: id,
		Sender:         s.signer.PublicKey(),
		Content:        plaintext,
		Timestamp:      inner.CreatedAt,
		Status:         domain.StatusSending,
	}
	s.timeline.Add(msg)
	unlock()

	_, perr := s.transport.Publish(ctx, conv.Relays, env)
	msg.Status = domain.StatusSent
	if perr != nil {
		msg.Status = domain.StatusFailed
		s.log.Warningf("send to %s failed: %v", id.Hex(), perr)
	}
	// The echo may already have replaced the optimistic record.
	if _, ok := s.timeline.SetStatus(id, msg.ID, msg.Status); !ok {
		s.log.Debugf("message %s already merged with its echo", msg.ID)
	}
	if perr != nil {
		return msg, fmt.Errorf("send message: %w", perr)
	}
	return msg, nil
}

// PublishCommit seals commit under the previous epoch's secret so that
// members still on that epoch can open it, and publishes it to the group.
func (s *Service) PublishCommit(
	ctx context.Context,
	conv domain.Conversation,
	prev domain.SessionHandle,
	commit []byte,
) error {
	now := time.Now()
	inner, err := s.signer.SignEvent(domain.Event{
		CreatedAt: now.Unix(),
		Kind:      domain.KindGroupCommit,
		Tags:      domain.Tags{{domain.TagGroup, conv.ID.Hex()}},
		Content:   crypto.B64(commit),
	})
	if err != nil {
		return err
	}
	env, err := seal(conv.ID, prev, inner, now)
	if err != nil {
		return err
	}
	s.markCommit(env.ID)

	if _, err := s.transport.Publish(ctx, conv.Relays, env); err != nil {
		return fmt.Errorf("publish commit: %w", err)
	}
	return nil
}

// HandleIncomingEnvelope decrypts one inbound envelope into the timeline.
//
// An envelope that cannot be opened, or that arrives before a session
// exists, is stored as a placeholder and returned without error. Envelopes
// from epochs before this device joined are skipped: they were never
// addressed to it. Commits advance the session and return the zero
// message; copies of a commit already handled are ignored. The only error
// is domain.ErrConversationNotFound for groups this device does not know.
func (s *Service) HandleIncomingEnvelope(
	ctx context.Context,
	id domain.GroupID,
	envelope domain.Event,
) (domain.ChatMessage, error) {
	unlock := s.sessions.Lock(id)
	defer unlock()

	if s.knownCommit(envelope.ID) {
		return domain.ChatMessage{}, nil
	}

	conv, ok, err := s.sessions.Conversation(id)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !ok {
		return domain.ChatMessage{}, domain.ErrConversationNotFound
	}

	var msg domain.ChatMessage
	epoch, tagged := epochOf(envelope)
	h, ok := s.sessions.Get(id)
	if !ok || len(h.Secret) == 0 {
		s.log.Warningf("envelope %s for %s arrived without a session", envelope.ID, id.Hex())
		msg = placeholder(id, envelope)
	} else if tagged && epoch < conv.JoinEpoch {
		s.log.Debugf("skipping envelope %s of %s from epoch %d before joining", envelope.ID, id.Hex(), epoch)
		return domain.ChatMessage{}, nil
	} else if inner, err := open(id, h.Secret, envelope); err != nil {
		s.log.Warningf("envelope %s for %s: %v", envelope.ID, id.Hex(), err)
		msg = placeholder(id, envelope)
		if !tagged || epoch > h.Epoch {
			s.hold(id, envelope)
		}
	} else if inner.Kind == domain.KindGroupCommit {
		return domain.ChatMessage{}, s.applyCommit(conv, h, envelope.ID, inner)
	} else {
		msg = received(id, inner)
	}

	outcome := s.timeline.Add(msg)
	s.log.Debugf("envelope %s for %s: %s", envelope.ID, id.Hex(), outcome)
	if outcome == timeline.Appended && msg.Sender != s.signer.PublicKey() {
		conv.Unread++
		if err := s.sessions.SaveConversation(conv); err != nil {
			s.log.Errorf("conversation %s: save unread count: %v", id.Hex(), err)
		}
	}
	return msg, nil
}

// applyCommit moves the session to the commit's epoch and retries held
// envelopes. It runs under the conversation lock. Commits that do not
// apply are logged and ignored.
func (s *Service) applyCommit(conv domain.Conversation, h domain.SessionHandle, envID string, inner domain.Event) error {
	next, applied, err := s.advance(conv, h, envID, inner)
	if err != nil || !applied {
		return err
	}
	return s.retryHeld(next.conv, next.handle)
}

type epochState struct {
	conv   domain.Conversation
	handle domain.SessionHandle
}

func (s *Service) advance(conv domain.Conversation, h domain.SessionHandle, envID string, inner domain.Event) (epochState, bool, error) {
	if !conv.HasMember(inner.PubKey) {
		s.log.Warningf("group %s: ignoring commit from non-member %s", conv.ID.Hex(), inner.PubKey.Short())
		return epochState{}, false, nil
	}
	raw, err := crypto.FromB64(inner.Content)
	if err != nil {
		s.log.Warningf("group %s: malformed commit %s: %v", conv.ID.Hex(), inner.ID, err)
		return epochState{}, false, nil
	}
	g, err := s.engine.ProcessCommit(h.State, raw)
	if err != nil {
		s.log.Warningf("group %s: commit %s: %v", conv.ID.Hex(), inner.ID, domain.EngineError("process commit", err))
		return epochState{}, false, nil
	}
	members, err := s.engine.Members(g.State)
	if err != nil {
		return epochState{}, false, domain.EngineError("read members", err)
	}
	conv.Members = members
	handle := domain.SessionHandle{State: g.State, Secret: g.Secret, Epoch: g.Epoch}
	if err := s.sessions.Commit(conv, handle, g.Encoded); err != nil {
		return epochState{}, false, fmt.Errorf("persist commit: %w", err)
	}
	s.markCommit(envID)
	s.log.Infof("group %s: moved to epoch %d by %s", conv.ID.Hex(), g.Epoch, inner.PubKey.Short())
	return epochState{conv: conv, handle: handle}, true, nil
}

func (s *Service) markCommit(envID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[envID] = struct{}{}
}

func (s *Service) knownCommit(envID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.commits[envID]
	return ok
}

// hold remembers an envelope sealed under a later epoch, dropping the
// oldest when full.
func (s *Service) hold(id domain.GroupID, env domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := append(s.held[id], env)
	if len(held) > maxHeld {
		held = held[len(held)-maxHeld:]
	}
	s.held[id] = held
}

// retryHeld opens held envelopes with the current secret and replaces
// their placeholders. A held commit is applied and its placeholder
// dropped, and the remaining envelopes are retried on the epoch it leads
// to. Envelopes that still fail stay held.
func (s *Service) retryHeld(conv domain.Conversation, h domain.SessionHandle) error {
	id := conv.ID
	for {
		s.mu.Lock()
		held := s.held[id]
		delete(s.held, id)
		s.mu.Unlock()

		var (
			keep     []domain.Event
			advanced bool
			err      error
		)
		for i, env := range held {
			inner, oerr := open(id, h.Secret, env)
			if oerr != nil {
				keep = append(keep, env)
				continue
			}
			switch inner.Kind {
			case domain.KindChatMessage:
				outcome := s.timeline.Resolve(domain.MessageID(env.ID), received(id, inner))
				s.log.Debugf("envelope %s for %s recovered: %s", env.ID, id.Hex(), outcome)
			case domain.KindGroupCommit:
				if s.timeline.Discard(id, domain.MessageID(env.ID)) && conv.Unread > 0 {
					conv.Unread--
				}
				if s.knownCommit(env.ID) {
					continue
				}
				next, ok, aerr := s.advance(conv, h, env.ID, inner)
				if aerr != nil {
					err = aerr
				} else if ok {
					conv, h, advanced = next.conv, next.handle, true
				}
				if err != nil || advanced {
					keep = append(keep, held[i+1:]...)
				}
			}
			if err != nil || advanced {
				break
			}
		}
		for _, env := range keep {
			s.hold(id, env)
		}
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

func received(id domain.GroupID, inner domain.Event) domain.ChatMessage {
	return domain.ChatMessage{
		ID:             domain.MessageID(inner.ID),
		ConversationID: id,
		Sender:         inner.PubKey,
		Content:        inner.Content,
		Timestamp:      inner.CreatedAt,
		Status:         domain.StatusReceived,
	}
}

func placeholder(id domain.GroupID, env domain.Event) domain.ChatMessage {
	return domain.ChatMessage{
		ID:             domain.MessageID(env.ID),
		ConversationID: id,
		Sender:         env.PubKey,
		Timestamp:      env.CreatedAt,
		Undecryptable:  true,
	}
}

// History returns the conversation's timeline in display order.
func (s *Service) History(id domain.GroupID) []domain.ChatMessage {
	return s.timeline.Messages(id)
}

// MarkRead clears the unread counter.
func (s *Service) MarkRead(id domain.GroupID) error {
	unlock := s.sessions.Lock(id)
	defer unlock()

	conv, ok, err := s.sessions.Conversation(id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConversationNotFound
	}
	if conv.Unread == 0 {
		return nil
	}
	conv.Unread = 0
	return s.sessions.SaveConversation(conv)
}

// Restore loads every persisted timeline. Records left sending by an
// earlier run are shown as failed.
func (s *Service) Restore() error {
	convs, err := s.sessions.Conversations()
	if err != nil {
		return err
	}
	var errs []error
	for _, conv := range convs {
		msgs, err := s.messages.ListMessages(conv.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("timeline %s: %w", conv.ID.Hex(), err))
			continue
		}
		for i := range msgs {
			if msgs[i].Status == domain.StatusSending {
				msgs[i].Status = domain.StatusFailed
			}
		}
		s.timeline.Load(conv.ID, msgs)
	}
	return errors.Join(errs...)
}

// Forget drops the conversation's timeline.
func (s *Service) Forget(id domain.GroupID) error {
	s.mu.Lock()
	delete(s.held, id)
	s.mu.Unlock()
	s.timeline.Remove(id)
	return s.messages.DeleteMessages(id)
}

// Compile-time assertion that Service implements domain.MessageService.
var _ domain.MessageService = (*Service)(nil)
