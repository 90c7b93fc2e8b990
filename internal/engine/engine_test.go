package engine_test

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"huddle/internal/crypto"
	"huddle/internal/domain"
	"huddle/internal/engine"
)

func identity(t *testing.T) domain.Identity {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return pub.Identity()
}

type invitee struct {
	id     domain.Identity
	gen    domain.GeneratedInviteTarget
	parsed domain.ParsedInviteTarget
}

func newInvitee(t *testing.T, e *engine.Engine) invitee {
	t.Helper()
	id := identity(t)
	gen, err := e.GenerateInviteTarget(id, engine.SuiteDefault, []string{"v1"})
	require.NoError(t, err)
	parsed, err := e.ParseInviteTarget(gen.Bundle)
	require.NoError(t, err)
	require.Equal(t, id, parsed.Identity)
	return invitee{id: id, gen: gen, parsed: parsed}
}

func groupID(s string) domain.GroupID { return sha256.Sum256([]byte(s)) }

func TestCreateAddJoin(t *testing.T) {
	e := engine.New()
	creator := identity(t)
	ext := []domain.Extension{{Type: domain.ExtensionGroupMetadata, Data: []byte("meta")}}

	g, err := e.CreateGroup(groupID("g"), creator, engine.SuiteDefault, ext)
	require.NoError(t, err)
	require.Equal(t, uint64(0), g.Epoch)
	require.Len(t, g.Secret, 32)

	bob, carol := newInvitee(t, e), newInvitee(t, e)
	commit, err := e.AddMembers(g.State, []domain.ParsedInviteTarget{bob.parsed, carol.parsed}, engine.SuiteDefault)
	require.NoError(t, err)
	require.Equal(t, uint64(1), commit.Epoch)
	require.NotEqual(t, g.Secret, commit.Secret)

	members, err := e.Members(commit.State)
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.Identity{creator, bob.id, carol.id}, members)

	// The original state is untouched by the commit.
	old, err := e.Members(g.State)
	require.NoError(t, err)
	require.Equal(t, []domain.Identity{creator}, old)

	for _, who := range []invitee{bob, carol} {
		joined, err := e.JoinFromWelcome(commit.Welcome, who.gen.Bundle, who.gen.Private)
		require.NoError(t, err)
		require.Equal(t, commit.Secret, joined.Secret)
		require.Equal(t, g.GroupID, joined.GroupID)
		exts, err := e.Extensions(joined.State)
		require.NoError(t, err)
		require.Equal(t, ext, exts)
	}
}

func TestJoinRejectsForeignTarget(t *testing.T) {
	e := engine.New()
	g, err := e.CreateGroup(groupID("g"), identity(t), engine.SuiteDefault, nil)
	require.NoError(t, err)
	bob, mallory := newInvitee(t, e), newInvitee(t, e)

	commit, err := e.AddMembers(g.State, []domain.ParsedInviteTarget{bob.parsed}, engine.SuiteDefault)
	require.NoError(t, err)

	_, err = e.JoinFromWelcome(commit.Welcome, mallory.gen.Bundle, mallory.gen.Private)
	require.Error(t, err)

	// Right bundle, wrong private key.
	_, err = e.JoinFromWelcome(commit.Welcome, bob.gen.Bundle, mallory.gen.Private)
	require.Error(t, err)
}

func TestAddRejectsDuplicate(t *testing.T) {
	e := engine.New()
	g, err := e.CreateGroup(groupID("g"), identity(t), engine.SuiteDefault, nil)
	require.NoError(t, err)
	bob := newInvitee(t, e)

	commit, err := e.AddMembers(g.State, []domain.ParsedInviteTarget{bob.parsed}, engine.SuiteDefault)
	require.NoError(t, err)

	_, err = e.AddMembers(commit.State, []domain.ParsedInviteTarget{bob.parsed}, engine.SuiteDefault)
	require.ErrorIs(t, err, engine.ErrDuplicateMember)

	_, err = e.AddMembers(commit.State, nil, engine.SuiteDefault)
	require.ErrorIs(t, err, engine.ErrNoTargets)
}

func TestAddSeveralDevicesOfOneIdentity(t *testing.T) {
	e := engine.New()
	creator := identity(t)
	g, err := e.CreateGroup(groupID("g"), creator, engine.SuiteDefault, nil)
	require.NoError(t, err)

	bob := newInvitee(t, e)
	laptop, err := e.GenerateInviteTarget(bob.id, engine.SuiteDefault, nil)
	require.NoError(t, err)
	laptopParsed, err := e.ParseInviteTarget(laptop.Bundle)
	require.NoError(t, err)

	commit, err := e.AddMembers(g.State, []domain.ParsedInviteTarget{bob.parsed, laptopParsed}, engine.SuiteDefault)
	require.NoError(t, err)
	members, err := e.Members(commit.State)
	require.NoError(t, err)
	require.Len(t, members, 2)

	for _, gen := range []domain.GeneratedInviteTarget{bob.gen, laptop} {
		joined, err := e.JoinFromWelcome(commit.Welcome, gen.Bundle, gen.Private)
		require.NoError(t, err)
		require.Equal(t, commit.Secret, joined.Secret)
	}
}

func TestEncodeDecodeRederivesSecret(t *testing.T) {
	e := engine.New()
	g, err := e.CreateGroup(groupID("g"), identity(t), engine.SuiteDefault, nil)
	require.NoError(t, err)

	st, err := e.DecodeState(g.Encoded)
	require.NoError(t, err)
	secret, err := e.ExporterSecret(st)
	require.NoError(t, err)
	require.Equal(t, g.Secret, secret)

	_, err = e.DecodeState([]byte("garbage"))
	require.Error(t, err)
	_, err = e.ExporterSecret("not a state")
	require.Error(t, err)
}

func TestParseInviteTargetRejects(t *testing.T) {
	e := engine.New()
	_, err := e.ParseInviteTarget([]byte{0x01, 0x02})
	require.Error(t, err)

	_, err = e.GenerateInviteTarget(identity(t), 0x0002, nil)
	require.Error(t, err)
}

func TestProcessCommitAdvancesExistingMembers(t *testing.T) {
	e := engine.New()
	g, err := e.CreateGroup(groupID("g"), identity(t), engine.SuiteDefault, nil)
	require.NoError(t, err)
	bob, carol := newInvitee(t, e), newInvitee(t, e)

	first, err := e.AddMembers(g.State, []domain.ParsedInviteTarget{bob.parsed}, engine.SuiteDefault)
	require.NoError(t, err)
	bobGroup, err := e.JoinFromWelcome(first.Welcome, bob.gen.Bundle, bob.gen.Private)
	require.NoError(t, err)

	second, err := e.AddMembers(first.State, []domain.ParsedInviteTarget{carol.parsed}, engine.SuiteDefault)
	require.NoError(t, err)

	advanced, err := e.ProcessCommit(bobGroup.State, second.Commit)
	require.NoError(t, err)
	require.Equal(t, uint64(2), advanced.Epoch)
	require.Equal(t, second.Secret, advanced.Secret)
	members, err := e.Members(advanced.State)
	require.NoError(t, err)
	require.Contains(t, members, carol.id)

	// Applying the same commit again is stale.
	_, err = e.ProcessCommit(advanced.State, second.Commit)
	require.Error(t, err)

	// The creator's own commit from epoch 0 no longer applies to epoch 1.
	_, err = e.ProcessCommit(bobGroup.State, first.Commit)
	require.Error(t, err)
}

func TestProcessCommitRejectsTamper(t *testing.T) {
	e := engine.New()
	g, err := e.CreateGroup(groupID("g"), identity(t), engine.SuiteDefault, nil)
	require.NoError(t, err)
	bob := newInvitee(t, e)
	c, err := e.AddMembers(g.State, []domain.ParsedInviteTarget{bob.parsed}, engine.SuiteDefault)
	require.NoError(t, err)

	bad := append([]byte(nil), c.Commit...)
	bad[len(bad)-1] ^= 0x01
	_, err = e.ProcessCommit(g.State, bad)
	require.Error(t, err)

	ok, err := e.ProcessCommit(g.State, c.Commit)
	require.NoError(t, err)
	require.Equal(t, c.Secret, ok.Secret)
}
