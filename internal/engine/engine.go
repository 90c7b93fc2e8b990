package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"slices"

	"golang.org/x/crypto/hkdf"

	"huddle/internal/crypto"
	"huddle/internal/domain"
)

var (
	ErrDuplicateMember = errors.New("engine: identity is already a member")
	ErrNoTargets       = errors.New("engine: no invite targets to add")
	errSuiteMismatch   = errors.New("engine: invite target suite differs from group suite")
	exporterInfo       = []byte("huddle/engine/exporter")
)

// Engine is the reference group-state engine. It holds no per-group state;
// every call operates on the state it is handed.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

func newSecret() ([]byte, error) {
	s := make([]byte, secretSize)
	if _, err := rand.Read(s); err != nil {
		return nil, err
	}
	return s, nil
}

func exporter(s *groupState) ([]byte, error) {
	out := make([]byte, secretSize)
	info := fmt.Appendf(slices.Clone(exporterInfo), "|%d", s.Epoch)
	r := hkdf.New(sha256.New, s.EpochSecret, s.GroupID[:], info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) group(s *groupState) (domain.EngineGroup, error) {
	enc, err := encodeState(s)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	secret, err := exporter(s)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	return domain.EngineGroup{
		State:   s,
		Encoded: enc,
		Secret:  secret,
		GroupID: s.GroupID,
		Epoch:   s.Epoch,
	}, nil
}

// CreateGroup starts a single-member group at epoch 0.
func (e *Engine) CreateGroup(
	groupID domain.GroupID,
	creator domain.Identity,
	suite domain.CipherSuite,
	extensions []domain.Extension,
) (domain.EngineGroup, error) {
	if groupID.IsZero() {
		return domain.EngineGroup{}, errors.New("engine: empty group id")
	}
	if err := checkSuite(suite); err != nil {
		return domain.EngineGroup{}, err
	}
	if _, err := domain.ParseIdentity(creator); err != nil {
		return domain.EngineGroup{}, err
	}
	secret, err := newSecret()
	if err != nil {
		return domain.EngineGroup{}, err
	}
	return e.group(&groupState{
		Version:     stateVersion,
		GroupID:     groupID,
		Suite:       suite,
		Members:     []domain.Identity{creator},
		Extensions:  slices.Clone(extensions),
		EpochSecret: secret,
	})
}

// AddMembers commits every target in one epoch change. It either adds all
// of them or none. Targets sharing an identity add one member with one
// Welcome entry per target.
func (e *Engine) AddMembers(
	st domain.GroupState,
	targets []domain.ParsedInviteTarget,
	suite domain.CipherSuite,
) (domain.EngineCommit, error) {
	cur, err := asState(st)
	if err != nil {
		return domain.EngineCommit{}, err
	}
	if len(targets) == 0 {
		return domain.EngineCommit{}, ErrNoTargets
	}
	if suite != cur.Suite {
		return domain.EngineCommit{}, errSuiteMismatch
	}

	next := cur.clone()
	bundles := make([]bundle, len(targets))
	for i, t := range targets {
		b, err := parseBundle(t.Raw)
		if err != nil {
			return domain.EngineCommit{}, err
		}
		if b.Suite != cur.Suite {
			return domain.EngineCommit{}, errSuiteMismatch
		}
		if _, found := slices.BinarySearch(cur.Members, b.Identity); found {
			return domain.EngineCommit{}, fmt.Errorf("%w: %s", ErrDuplicateMember, b.Identity.Short())
		}
		// Several devices of one identity join as a single member.
		if pos, found := slices.BinarySearch(next.Members, b.Identity); !found {
			next.Members = slices.Insert(next.Members, pos, b.Identity)
		}
		bundles[i] = b
	}
	next.Epoch++
	if next.EpochSecret, err = newSecret(); err != nil {
		return domain.EngineCommit{}, err
	}

	enc, err := encodeState(next)
	if err != nil {
		return domain.EngineCommit{}, err
	}
	w := welcome{GroupID: next.GroupID, Epoch: next.Epoch}
	for i, b := range bundles {
		entry, err := sealEntry(b, targets[i].Raw, enc)
		if err != nil {
			return domain.EngineCommit{}, err
		}
		w.Entries = append(w.Entries, entry)
	}
	wraw, err := ccbor.Marshal(w)
	if err != nil {
		return domain.EngineCommit{}, err
	}
	craw, err := sealCommit(cur, enc)
	if err != nil {
		return domain.EngineCommit{}, err
	}
	secret, err := exporter(next)
	if err != nil {
		return domain.EngineCommit{}, err
	}
	return domain.EngineCommit{
		State:   next,
		Encoded: enc,
		Secret:  secret,
		Welcome: wraw,
		Commit:  craw,
		Epoch:   next.Epoch,
	}, nil
}

// JoinFromWelcome opens the entry addressed to publicInvite and returns the
// joined group.
func (e *Engine) JoinFromWelcome(welcomeRaw, publicInvite, privateInvite []byte) (domain.EngineGroup, error) {
	b, err := parseBundle(publicInvite)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	if len(privateInvite) != 32 {
		return domain.EngineGroup{}, errBadPrivate
	}
	var w welcome
	if err := dcbor.Unmarshal(welcomeRaw, &w); err != nil {
		return domain.EngineGroup{}, fmt.Errorf("engine: decode welcome: %w", err)
	}
	ref := targetRef(publicInvite)
	idx := slices.IndexFunc(w.Entries, func(en welcomeEntry) bool { return en.Target == ref })
	if idx < 0 {
		return domain.EngineGroup{}, errNoWelcomeEntry
	}

	var initPriv domain.X25519Private
	copy(initPriv[:], privateInvite)
	defer crypto.Zero(initPriv[:])

	enc, err := openEntry(w.Entries[idx], initPriv)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	s, err := decodeState(enc)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	if s.GroupID != w.GroupID || s.Epoch != w.Epoch {
		return domain.EngineGroup{}, errors.New("engine: welcome header does not match state")
	}
	if _, found := slices.BinarySearch(s.Members, b.Identity); !found {
		return domain.EngineGroup{}, errNotInWelcome
	}
	return e.group(s)
}

func (e *Engine) EncodeState(st domain.GroupState) ([]byte, error) {
	s, err := asState(st)
	if err != nil {
		return nil, err
	}
	return encodeState(s)
}

func (e *Engine) DecodeState(b []byte) (domain.GroupState, error) {
	s, err := decodeState(b)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) ExporterSecret(st domain.GroupState) ([]byte, error) {
	s, err := asState(st)
	if err != nil {
		return nil, err
	}
	return exporter(s)
}

func (e *Engine) Epoch(st domain.GroupState) (uint64, error) {
	s, err := asState(st)
	if err != nil {
		return 0, err
	}
	return s.Epoch, nil
}

func (e *Engine) Members(st domain.GroupState) ([]domain.Identity, error) {
	s, err := asState(st)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.Members), nil
}

func (e *Engine) Extensions(st domain.GroupState) ([]domain.Extension, error) {
	s, err := asState(st)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.Extensions), nil
}

var _ domain.Engine = (*Engine)(nil)
