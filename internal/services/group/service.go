package group

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"time"

	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
	"huddle/internal/services/invite"
	"huddle/internal/services/welcome"
)

// Options configures a Service.
type Options struct {
	// CipherSuite is used when a request names none.
	CipherSuite domain.CipherSuite
	// WelcomeLookback is how far back Listen looks for Welcomes.
	WelcomeLookback time.Duration
}

// Service creates and joins groups.
type Service struct {
	log       *logging.Logger
	signer    domain.Signer
	engine    domain.Engine
	sessions  domain.SessionService
	invites   domain.InviteService
	welcomes  domain.WelcomeService
	messages  domain.MessageService
	transport domain.Transport
	opts      Options

	router router
}

// New constructs a group service.
func New(
	signer domain.Signer,
	engine domain.Engine,
	sessions domain.SessionService,
	invites domain.InviteService,
	welcomes domain.WelcomeService,
	messages domain.MessageService,
	transport domain.Transport,
	opts Options,
	log *logging.Logger,
) *Service {
	return &Service{
		log:       log,
		signer:    signer,
		engine:    engine,
		sessions:  sessions,
		invites:   invites,
		welcomes:  welcomes,
		messages:  messages,
		transport: transport,
		opts:      opts,
	}
}

// CreateGroup creates a group with this identity as its only admin and
// invites req.Invitees.
//
// Steps:
//  1. Derive the group id from fresh metadata and create the session.
//  2. Resolve invitees concurrently. Invitees without a usable invite
//     target are logged and skipped.
//  3. Commit every resolved target in one epoch change and persist the
//     session while holding the conversation lock.
//  4. Deliver Welcomes, then start routing the group's messages if
//     listening.
func (s *Service) CreateGroup(ctx context.Context, req domain.CreateGroupRequest) (domain.Conversation, error) {
	me := s.signer.PublicKey()
	suite := req.CipherSuite
	if suite == 0 {
		suite = s.opts.CipherSuite
	}
	now := time.Now()
	meta := domain.GroupMetadata{
		Name:        req.Name,
		Description: req.Description,
		Admins:      []domain.Identity{me},
		Relays:      slices.Clone(req.Relays),
		CreatedAt:   now.Unix(),
	}
	if _, err := rand.Read(meta.Nonce[:]); err != nil {
		return domain.Conversation{}, err
	}
	metaRaw, id, err := encodeMetadata(meta)
	if err != nil {
		return domain.Conversation{}, err
	}

	unlock := s.sessions.Lock(id)
	g, err := s.engine.CreateGroup(id, me, suite, []domain.Extension{
		{Type: domain.ExtensionGroupMetadata, Data: metaRaw},
	})
	if err != nil {
		unlock()
		return domain.Conversation{}, domain.EngineError("create group", err)
	}
	conv := domain.Conversation{
		ID:          id,
		Name:        meta.Name,
		Description: meta.Description,
		Members:     []domain.Identity{me},
		Admins:      meta.Admins,
		Relays:      meta.Relays,
		CreatedAt:   meta.CreatedAt,
		JoinedAt:    meta.CreatedAt,
		CipherSuite: suite,
	}
	handle := domain.SessionHandle{State: g.State, Secret: g.Secret, Epoch: g.Epoch}
	encoded := g.Encoded

	var invitees []domain.Identity
	for _, who := range req.Invitees {
		if who != me && !slices.Contains(invitees, who) {
			invitees = append(invitees, who)
		}
	}
	resolved, failed := s.invites.ResolveMany(ctx, invitees, suite)

	var welcomeMsg []byte
	if len(resolved) > 0 {
		parsed := make([]domain.ParsedInviteTarget, len(resolved))
		for i, rt := range resolved {
			parsed[i] = rt.Parsed
		}
		commit, err := s.engine.AddMembers(g.State, parsed, suite)
		if err != nil {
			unlock()
			return domain.Conversation{}, domain.EngineError("add invitees", err)
		}
		conv = conv.WithMembers(invite.Owners(resolved)...)
		handle = domain.SessionHandle{State: commit.State, Secret: commit.Secret, Epoch: commit.Epoch}
		encoded = commit.Encoded
		welcomeMsg = commit.Welcome
	}
	if err := s.sessions.Commit(conv, handle, encoded); err != nil {
		unlock()
		return domain.Conversation{}, fmt.Errorf("persist group: %w", err)
	}
	unlock()

	if len(resolved) > 0 {
		_, undelivered := welcome.DeliverAll(ctx, s.welcomes, resolved, welcomeMsg, conv.Relays)
		failed = append(failed, undelivered...)
	}
	for _, f := range failed {
		s.log.Warningf("group %s: invitee %s not welcomed: %v", id.Hex(), f.Identity.Short(), f.Err)
	}
	s.log.Infof("created group %s (%q) at epoch %d with %d members", id.Hex(), conv.Name, handle.Epoch, len(conv.Members))

	conv, _, err = s.sessions.Conversation(id)
	if err != nil {
		return domain.Conversation{}, err
	}
	s.router.watch(s, conv)
	return conv, nil
}

// JoinFromWelcome opens a gift-wrapped Welcome and joins the group it
// describes.
//
// Steps:
//  1. Unwrap the Welcome and look up the private half of the invite target
//     it names.
//  2. Join through the engine and check the embedded metadata and sender.
//  3. If a session for the group already exists the Welcome is ignored.
//     Otherwise a consumed target is refused.
//  4. Consume the target, persist the session, and retire the target's
//     announcement.
func (s *Service) JoinFromWelcome(ctx context.Context, giftWrap domain.Event) (domain.Conversation, error) {
	w, err := s.welcomes.Open(giftWrap)
	if err != nil {
		return domain.Conversation{}, err
	}
	rec, ok, err := s.invites.Private(w.InviteTargetID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !ok {
		return domain.Conversation{}, fmt.Errorf("%w: %s", errUnknownTgt, w.InviteTargetID)
	}

	g, err := s.engine.JoinFromWelcome(w.JoinMaterial, rec.Bundle, rec.Private)
	if err != nil {
		return domain.Conversation{}, domain.EngineError("join from welcome", err)
	}
	exts, err := s.engine.Extensions(g.State)
	if err != nil {
		return domain.Conversation{}, domain.EngineError("read extensions", err)
	}
	meta, err := metadataOf(g.GroupID, exts)
	if err != nil {
		return domain.Conversation{}, err
	}
	members, err := s.engine.Members(g.State)
	if err != nil {
		return domain.Conversation{}, domain.EngineError("read members", err)
	}
	if !slices.Contains(members, w.Sender) {
		return domain.Conversation{}, errNotAMember
	}

	unlock := s.sessions.Lock(g.GroupID)
	if _, exists := s.sessions.Get(g.GroupID); exists {
		unlock()
		s.log.Debugf("ignoring welcome for existing group %s", g.GroupID.Hex())
		conv, _, err := s.sessions.Conversation(g.GroupID)
		return conv, err
	}
	if rec.Consumed {
		unlock()
		return domain.Conversation{}, domain.ErrInviteConsumed
	}
	if err := s.invites.Consume(rec.ID); err != nil {
		unlock()
		return domain.Conversation{}, err
	}
	relays := meta.Relays
	if len(relays) == 0 {
		relays = w.Relays
	}
	now := time.Now().Unix()
	conv := domain.Conversation{
		ID:          g.GroupID,
		Name:        meta.Name,
		Description: meta.Description,
		Members:     members,
		Admins:      meta.Admins,
		Relays:      relays,
		CreatedAt:   meta.CreatedAt,
		JoinedAt:    now,
		CipherSuite: rec.CipherSuite,
		JoinEpoch:   g.Epoch,
	}
	handle := domain.SessionHandle{State: g.State, Secret: g.Secret, Epoch: g.Epoch}
	if err := s.sessions.Commit(conv, handle, g.Encoded); err != nil {
		unlock()
		return domain.Conversation{}, fmt.Errorf("persist joined group: %w", err)
	}
	unlock()
	s.log.Infof("joined group %s (%q) at epoch %d, invited by %s", conv.ID.Hex(), conv.Name, g.Epoch, w.Sender.Short())

	if err := s.invites.Retire(ctx, rec.ID); err != nil {
		s.log.Warningf("retire consumed invite target %s: %v", rec.ID, err)
	}
	if saved, ok, err := s.sessions.Conversation(conv.ID); err == nil && ok {
		conv = saved
	}
	s.router.watch(s, conv)
	return conv, nil
}

// Listen subscribes to Welcomes addressed to this identity and to the
// messages of every group with a session. Groups created or joined later
// are added while the subscription lives.
func (s *Service) Listen(ctx context.Context) (domain.Subscription, error) {
	convs, err := s.sessions.Conversations()
	if err != nil {
		return nil, err
	}
	l, err := s.router.start(ctx)
	if err != nil {
		return nil, err
	}

	since := time.Now().Add(-s.opts.WelcomeLookback).Unix()
	sub, err := s.transport.Subscribe(l.ctx, nil, s.welcomes.Filter(since), func(ev domain.Event) {
		s.onWelcome(l.ctx, ev)
	})
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("subscribe to welcomes: %w", err)
	}
	l.add(sub)

	for _, conv := range convs {
		if conv.HasSession {
			s.router.watch(s, conv)
		}
	}
	return l, nil
}

func (s *Service) onWelcome(ctx context.Context, ev domain.Event) {
	conv, err := s.JoinFromWelcome(ctx, ev)
	switch {
	case err == nil:
		s.log.Debugf("welcome %s handled for group %s", ev.ID, conv.ID.Hex())
	case errors.Is(err, domain.ErrInviteConsumed):
		s.log.Debugf("welcome %s: %v", ev.ID, err)
	default:
		s.log.Warningf("welcome %s: %v", ev.ID, err)
	}
}

func (s *Service) onEnvelope(ctx context.Context, id domain.GroupID, ev domain.Event) {
	if _, err := s.messages.HandleIncomingEnvelope(ctx, id, ev); err != nil {
		s.log.Debugf("envelope %s for %s: %v", ev.ID, id.Hex(), err)
	}
}

// groupFilter selects the envelopes of one group sent after this device
// joined or, when it has history, after the newest known message. Both
// bounds allow for clock skew.
func (s *Service) groupFilter(conv domain.Conversation) domain.Filter {
	since := conv.JoinedAt
	if hist := s.messages.History(conv.ID); len(hist) > 0 {
		since = max(since, hist[len(hist)-1].Timestamp)
	}
	f := domain.Filter{
		Kinds: []int{domain.KindGroupMessage},
		Tags:  map[string][]string{domain.TagGroup: {conv.ID.Hex()}},
	}
	if since > skew {
		f.Since = since - skew
	}
	return f
}

// Unwatch stops routing messages of id.
func (s *Service) Unwatch(id domain.GroupID) { s.router.unwatch(id) }

// Compile-time assertion that Service implements domain.GroupService.
var _ domain.GroupService = (*Service)(nil)
