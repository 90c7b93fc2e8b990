package invite

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"huddle/internal/crypto"
	"huddle/internal/domain"
	"huddle/internal/protocol/event"
)

const announcementEncoding = "base64"

// DefaultCapabilities are advertised by targets created on this device.
var DefaultCapabilities = []string{"giftwrap-welcome"}

var (
	errNotOwner   = errors.New("invite: bundle identity does not match announcement author")
	errUnknown    = errors.New("invite: unknown invite target")
	errMalformed  = errors.New("invite: malformed announcement")
	errSuiteMatch = errors.New("invite: announced cipher suite does not match bundle")
)

// Options configures a Service.
type Options struct {
	// Relays receive announcements and are queried during resolution.
	Relays []string
	// Capabilities are advertised by created targets.
	Capabilities []string
	// Resolve is applied by ResolveMany.
	Resolve domain.ResolveOptions
	// Parallelism bounds concurrent lookups in ResolveMany.
	Parallelism int
}

// Service manages invite targets.
type Service struct {
	log       *logging.Logger
	signer    domain.Signer
	engine    domain.Engine
	store     domain.InviteTargetStore
	transport domain.Transport
	opts      Options

	// mu serializes read-modify-write of local records.
	mu sync.Mutex
}

// New constructs an invite service.
func New(
	signer domain.Signer,
	engine domain.Engine,
	store domain.InviteTargetStore,
	transport domain.Transport,
	opts Options,
	log *logging.Logger,
) *Service {
	if opts.Capabilities == nil {
		opts.Capabilities = DefaultCapabilities
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Service{
		log:       log,
		signer:    signer,
		engine:    engine,
		store:     store,
		transport: transport,
		opts:      opts,
	}
}

// Create generates a new invite target and announces it.
//
// Steps:
//  1. Ask the engine for a fresh bundle and private material.
//  2. Sign the announcement.
//  3. Store the private record before publishing, so a Welcome can never
//     arrive for a target this device has forgotten.
//  4. Publish. A rejected announcement leaves the record retired.
func (s *Service) Create(ctx context.Context, suite domain.CipherSuite) (domain.InviteTargetRecord, error) {
	me := s.signer.PublicKey()
	gen, err := s.engine.GenerateInviteTarget(me, suite, s.opts.Capabilities)
	if err != nil {
		return domain.InviteTargetRecord{}, domain.EngineError("generate invite target", err)
	}

	tags := domain.Tags{
		{domain.TagCipherSuite, suite.String()},
		{domain.TagEncoding, announcementEncoding},
	}
	if len(s.opts.Capabilities) > 0 {
		tags = append(tags, append(domain.Tag{domain.TagCapabilities}, s.opts.Capabilities...))
	}
	if len(s.opts.Relays) > 0 {
		tags = append(tags, append(domain.Tag{domain.TagRelays}, s.opts.Relays...))
	}
	ev, err := s.signer.SignEvent(domain.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      domain.KindInviteTarget,
		Tags:      tags,
		Content:   crypto.B64(gen.Bundle),
	})
	if err != nil {
		return domain.InviteTargetRecord{}, err
	}

	rec := domain.InviteTargetRecord{
		ID:          domain.InviteTargetID(ev.ID),
		Owner:       me,
		CipherSuite: suite,
		Bundle:      gen.Bundle,
		Private:     gen.Private,
		CreatedAt:   ev.CreatedAt,
	}
	if err := s.store.SaveInviteTarget(rec); err != nil {
		return domain.InviteTargetRecord{}, err
	}

	if _, err := s.transport.Publish(ctx, s.opts.Relays, ev); err != nil {
		rec.Retired = true
		if serr := s.store.SaveInviteTarget(rec); serr != nil {
			s.log.Errorf("invite %s: mark unpublished target retired: %v", rec.ID, serr)
		}
		return domain.InviteTargetRecord{}, fmt.Errorf("publish invite target: %w", err)
	}
	s.log.Infof("published invite target %s", rec.ID)
	return rec, nil
}

// ParseAnnouncement validates an invite target announcement and binds its
// bundle to the announcement author.
func ParseAnnouncement(engine domain.Engine, ev domain.Event) (domain.ResolvedInviteTarget, error) {
	if ev.Kind != domain.KindInviteTarget {
		return domain.ResolvedInviteTarget{}, fmt.Errorf("%w: kind %d", errMalformed, ev.Kind)
	}
	if err := event.Verify(ev); err != nil {
		return domain.ResolvedInviteTarget{}, err
	}
	if enc := ev.Tags.Value(domain.TagEncoding); enc != "" && enc != announcementEncoding {
		return domain.ResolvedInviteTarget{}, fmt.Errorf("%w: encoding %q", errMalformed, enc)
	}
	raw, err := crypto.FromB64(ev.Content)
	if err != nil {
		return domain.ResolvedInviteTarget{}, fmt.Errorf("%w: %w", errMalformed, err)
	}
	parsed, err := engine.ParseInviteTarget(raw)
	if err != nil {
		return domain.ResolvedInviteTarget{}, err
	}
	if parsed.Identity != ev.PubKey {
		return domain.ResolvedInviteTarget{}, errNotOwner
	}
	if cs := ev.Tags.Value(domain.TagCipherSuite); cs != "" && cs != parsed.CipherSuite.String() {
		return domain.ResolvedInviteTarget{}, errSuiteMatch
	}
	caps := ev.Tags.Values(domain.TagCapabilities)
	if caps == nil {
		caps = parsed.Capabilities
	}
	return domain.ResolvedInviteTarget{
		Target: domain.InviteTarget{
			ID:           domain.InviteTargetID(ev.ID),
			Owner:        ev.PubKey,
			CipherSuite:  parsed.CipherSuite,
			Relays:       ev.Tags.Values(domain.TagRelays),
			Capabilities: caps,
			CreatedAt:    ev.CreatedAt,
			Bundle:       raw,
		},
		Parsed: parsed,
	}, nil
}

// Resolve fetches the live invite targets of identity.
//
// Announcements that fail to parse, are tombstoned by their owner, or lack
// a required capability are skipped. Unless opts.MultiDevice is set only
// the most recent target is returned.
func (s *Service) Resolve(
	ctx context.Context,
	identity domain.Identity,
	opts domain.ResolveOptions,
) ([]domain.ResolvedInviteTarget, error) {
	if _, err := domain.ParseIdentity(identity); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInviteUnavailable, err)
	}
	evs, err := s.transport.Query(ctx, s.opts.Relays, domain.Filter{
		Kinds:   []int{domain.KindInviteTarget, domain.KindTombstone},
		Authors: []domain.Identity{identity},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", domain.ErrInviteUnavailable, identity.Short(), err)
	}

	retired := make(map[string]bool)
	for _, ev := range evs {
		if ev.Kind != domain.KindTombstone || ev.PubKey != identity || event.Verify(ev) != nil {
			continue
		}
		for _, id := range ev.Tags.All(domain.TagEvent) {
			retired[id] = true
		}
	}

	var out []domain.ResolvedInviteTarget
	for _, ev := range evs {
		if ev.Kind != domain.KindInviteTarget || ev.PubKey != identity || retired[ev.ID] {
			continue
		}
		rt, err := ParseAnnouncement(s.engine, ev)
		if err != nil {
			s.log.Debugf("skip invite target %s of %s: %v", ev.ID, identity.Short(), err)
			continue
		}
		if !rt.Target.Supports(opts.RequiredCapabilities) {
			continue
		}
		if opts.CipherSuite != 0 && rt.Parsed.CipherSuite != opts.CipherSuite {
			continue
		}
		out = append(out, rt)
	}
	if len(out) == 0 {
		if opts.CipherSuite != 0 {
			return nil, fmt.Errorf("%w: %s has no target for suite %s", domain.ErrInviteUnavailable, identity.Short(), opts.CipherSuite)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrInviteUnavailable, identity.Short())
	}
	slices.SortStableFunc(out, func(a, b domain.ResolvedInviteTarget) int {
		if c := cmp.Compare(b.Target.CreatedAt, a.Target.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Target.ID, b.Target.ID)
	})
	if !opts.MultiDevice {
		out = out[:1]
	}
	return out, nil
}

// ResolveMany resolves identities concurrently to targets of suite.
// Results keep the order of identities. Every failure is attributed to its
// identity.
func (s *Service) ResolveMany(
	ctx context.Context,
	identities []domain.Identity,
	suite domain.CipherSuite,
) ([]domain.ResolvedInviteTarget, []domain.MemberFailure) {
	opts := s.opts.Resolve
	opts.CipherSuite = suite

	found := make([][]domain.ResolvedInviteTarget, len(identities))
	errs := make([]error, len(identities))

	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i, id := range identities {
		g.Go(func() error {
			found[i], errs[i] = s.Resolve(ctx, id, opts)
			return nil
		})
	}
	_ = g.Wait()

	var (
		resolved []domain.ResolvedInviteTarget
		failed   []domain.MemberFailure
	)
	for i, id := range identities {
		if errs[i] != nil {
			s.log.Warningf("resolve %s: %v", id.Short(), errs[i])
			failed = append(failed, domain.MemberFailure{Identity: id, Err: errs[i]})
			continue
		}
		resolved = append(resolved, found[i]...)
	}
	return resolved, failed
}

// Retire tombstones a target so it is no longer resolved. The private
// material is kept so that Welcomes already in flight can still be opened.
func (s *Service) Retire(ctx context.Context, id domain.InviteTargetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.store.LoadInviteTarget(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", errUnknown, id)
	}
	ev, err := s.signer.SignEvent(domain.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      domain.KindTombstone,
		Tags:      domain.Tags{{domain.TagEvent, id.String()}},
	})
	if err != nil {
		return err
	}
	if _, err := s.transport.Publish(ctx, s.opts.Relays, ev); err != nil {
		return fmt.Errorf("publish tombstone: %w", err)
	}
	rec.Retired = true
	return s.store.SaveInviteTarget(rec)
}

// Private returns the local record of one of this device's targets.
func (s *Service) Private(id domain.InviteTargetID) (domain.InviteTargetRecord, bool, error) {
	return s.store.LoadInviteTarget(id)
}

// Consume marks a target as used for a join. A second Consume fails with
// domain.ErrInviteConsumed.
func (s *Service) Consume(id domain.InviteTargetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.store.LoadInviteTarget(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", errUnknown, id)
	}
	if rec.Consumed {
		return domain.ErrInviteConsumed
	}
	rec.Consumed = true
	return s.store.SaveInviteTarget(rec)
}

// List returns local targets, newest first.
func (s *Service) List() ([]domain.InviteTargetRecord, error) {
	recs, err := s.store.ListInviteTargets()
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(recs, func(a, b domain.InviteTargetRecord) int { return cmp.Compare(b.CreatedAt, a.CreatedAt) })
	return recs, nil
}

// Compile-time assertion that Service implements domain.InviteService.
var _ domain.InviteService = (*Service)(nil)
