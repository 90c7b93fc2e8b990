package membership

import (
	"context"
	"fmt"
	"slices"

	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
	"huddle/internal/services/invite"
	"huddle/internal/services/welcome"
)

// unwatcher stops inbound routing for a conversation.
type unwatcher interface {
	Unwatch(id domain.GroupID)
}

// Service changes group membership.
type Service struct {
	log      *logging.Logger
	signer   domain.Signer
	engine   domain.Engine
	sessions domain.SessionService
	invites  domain.InviteService
	welcomes domain.WelcomeService
	messages domain.MessageService
	router   unwatcher
}

// New constructs a membership service. router may be nil.
func New(
	signer domain.Signer,
	engine domain.Engine,
	sessions domain.SessionService,
	invites domain.InviteService,
	welcomes domain.WelcomeService,
	messages domain.MessageService,
	router unwatcher,
	log *logging.Logger,
) *Service {
	return &Service{
		log:      log,
		signer:   signer,
		engine:   engine,
		sessions: sessions,
		invites:  invites,
		welcomes: welcomes,
		messages: messages,
		router:   router,
	}
}

// AddMembers adds identities to the group in one epoch change.
//
// Steps:
//  1. Under the conversation lock, drop duplicates and current members and
//     resolve the rest to invite targets. Unresolvable identities fail
//     individually.
//  2. Commit every resolved target through the engine and persist the new
//     session before releasing the lock.
//  3. Publish the commit to existing members under the previous epoch.
//  4. Deliver a Welcome per target. An identity whose every Welcome failed
//     is reported in Failed although the commit already added it.
//
// An engine rejection adds nobody and is returned as an error alongside the
// per-identity failures collected so far.
func (s *Service) AddMembers(
	ctx context.Context,
	id domain.GroupID,
	identities []domain.Identity,
) (domain.MembershipResult, error) {
	unlock := s.sessions.Lock(id)
	locked := true
	defer func() {
		if locked {
			unlock()
		}
	}()

	h, ok := s.sessions.Get(id)
	if !ok {
		return domain.MembershipResult{}, domain.ErrSessionAbsent
	}
	conv, ok, err := s.sessions.Conversation(id)
	if err != nil {
		return domain.MembershipResult{}, err
	}
	if !ok {
		return domain.MembershipResult{}, domain.ErrConversationNotFound
	}

	res := domain.MembershipResult{Epoch: h.Epoch}
	var candidates []domain.Identity
	for _, who := range identities {
		switch {
		case slices.Contains(candidates, who):
		case conv.HasMember(who) || who == s.signer.PublicKey():
			res.Failed = append(res.Failed, domain.MemberFailure{Identity: who, Err: domain.ErrAlreadyMember})
		default:
			candidates = append(candidates, who)
		}
	}
	if len(candidates) == 0 {
		return res, nil
	}

	resolved, failed := s.invites.ResolveMany(ctx, candidates, conv.CipherSuite)
	res.Failed = append(res.Failed, failed...)
	if len(resolved) == 0 {
		return res, nil
	}

	parsed := make([]domain.ParsedInviteTarget, len(resolved))
	for i, rt := range resolved {
		parsed[i] = rt.Parsed
	}
	commit, err := s.engine.AddMembers(h.State, parsed, conv.CipherSuite)
	if err != nil {
		return res, domain.EngineError("add members", err)
	}
	next := conv.WithMembers(invite.Owners(resolved)...)
	handle := domain.SessionHandle{State: commit.State, Secret: commit.Secret, Epoch: commit.Epoch}
	if err := s.sessions.Commit(next, handle, commit.Encoded); err != nil {
		return res, fmt.Errorf("persist commit: %w", err)
	}
	res.Epoch = commit.Epoch
	locked = false
	unlock()

	if err := s.messages.PublishCommit(ctx, conv, h, commit.Commit); err != nil {
		s.log.Warningf("group %s: existing members not told about epoch %d: %v", id.Hex(), commit.Epoch, err)
	}
	added, failed := welcome.DeliverAll(ctx, s.welcomes, resolved, commit.Welcome, next.Relays)
	res.Added = added
	res.Failed = append(res.Failed, failed...)
	s.log.Infof("group %s: epoch %d, added %d, failed %d", id.Hex(), res.Epoch, len(res.Added), len(res.Failed))
	return res, nil
}

// LeaveGroup forgets the group on this device: the session, the
// conversation record and the timeline. Other members are not notified.
func (s *Service) LeaveGroup(ctx context.Context, id domain.GroupID) error {
	unlock := s.sessions.Lock(id)
	defer unlock()

	if _, ok, err := s.sessions.Conversation(id); err != nil {
		return err
	} else if !ok {
		return domain.ErrConversationNotFound
	}
	if s.router != nil {
		s.router.Unwatch(id)
	}
	if err := s.sessions.Drop(id); err != nil {
		return err
	}
	if err := s.messages.Forget(id); err != nil {
		return err
	}
	s.log.Infof("left group %s", id.Hex())
	return nil
}

// Compile-time assertion that Service implements domain.MembershipService.
var _ domain.MembershipService = (*Service)(nil)
