package interfaces

import (
	"context"

	domaintypes "huddle/internal/domain/types"
)

// Engine is the group-state engine. All cryptographic correctness is its
// responsibility; callers consume only the documented output fields and
// never inspect GroupState.
type Engine interface {
	CreateGroup(
		groupID domaintypes.GroupID,
		creator domaintypes.Identity,
		suite domaintypes.CipherSuite,
		extensions []domaintypes.Extension,
	) (domaintypes.EngineGroup, error)
	AddMembers(
		state domaintypes.GroupState,
		targets []domaintypes.ParsedInviteTarget,
		suite domaintypes.CipherSuite,
	) (domaintypes.EngineCommit, error)
	JoinFromWelcome(welcome, publicInvite, privateInvite []byte) (domaintypes.EngineGroup, error)
	// ProcessCommit applies a commit made by another member on state's epoch.
	ProcessCommit(state domaintypes.GroupState, commit []byte) (domaintypes.EngineGroup, error)
	EncodeState(state domaintypes.GroupState) ([]byte, error)
	DecodeState(encoded []byte) (domaintypes.GroupState, error)
	// ExporterSecret recomputes the derived message secret of state's epoch.
	ExporterSecret(state domaintypes.GroupState) ([]byte, error)
	Epoch(state domaintypes.GroupState) (uint64, error)
	Members(state domaintypes.GroupState) ([]domaintypes.Identity, error)
	Extensions(state domaintypes.GroupState) ([]domaintypes.Extension, error)
	ParseInviteTarget(bundle []byte) (domaintypes.ParsedInviteTarget, error)
	GenerateInviteTarget(
		identity domaintypes.Identity,
		suite domaintypes.CipherSuite,
		capabilities []string,
	) (domaintypes.GeneratedInviteTarget, error)
}

// Signer is an identity provider: it signs events and performs pairwise
// encryption with its key.
type Signer interface {
	PublicKey() domaintypes.Identity
	SignEvent(ev domaintypes.Event) (domaintypes.Event, error)
	Encrypt(peer domaintypes.Identity, plaintext []byte) (string, error)
	Decrypt(peer domaintypes.Identity, ciphertext string) ([]byte, error)
}

// IdentityService creates, retrieves, and inspects your identity key.
type IdentityService interface {
	GenerateIdentity(passphrase string) (
		domaintypes.LocalIdentity,
		domaintypes.Fingerprint,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.LocalIdentity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
	Signer(passphrase string) (Signer, error)
}

// InviteService generates, publishes, resolves and retires invite targets.
type InviteService interface {
	Create(ctx context.Context, suite domaintypes.CipherSuite) (domaintypes.InviteTargetRecord, error)
	Resolve(
		ctx context.Context,
		identity domaintypes.Identity,
		opts domaintypes.ResolveOptions,
	) ([]domaintypes.ResolvedInviteTarget, error)
	Retire(ctx context.Context, id domaintypes.InviteTargetID) error
	Private(id domaintypes.InviteTargetID) (domaintypes.InviteTargetRecord, bool, error)
	Consume(id domaintypes.InviteTargetID) error
	List() ([]domaintypes.InviteTargetRecord, error)
	// ResolveMany resolves every identity concurrently to targets of suite
	// with the configured options. Failures are per identity and never
	// abort the batch.
	ResolveMany(
		ctx context.Context,
		identities []domaintypes.Identity,
		suite domaintypes.CipherSuite,
	) ([]domaintypes.ResolvedInviteTarget, []domaintypes.MemberFailure)
}

// SessionService owns the session cache, its persistence, and the
// per-conversation serialization of state-changing operations.
type SessionService interface {
	// Lock serializes work on one conversation; call the returned func to release.
	Lock(id domaintypes.GroupID) (unlock func())
	Get(id domaintypes.GroupID) (domaintypes.SessionHandle, bool)
	// Commit persists encoded state and conv, then installs handle.
	Commit(conv domaintypes.Conversation, handle domaintypes.SessionHandle, encoded []byte) error
	Conversation(id domaintypes.GroupID) (domaintypes.Conversation, bool, error)
	Conversations() ([]domaintypes.Conversation, error)
	SaveConversation(conv domaintypes.Conversation) error
	Drop(id domaintypes.GroupID) error
	RestoreAll() (int, error)
}

// WelcomeService delivers join material through sealed invitations.
type WelcomeService interface {
	// Send delivers joinMaterial to the owner of target. groupRelays are
	// passed along as hints for where the group talks.
	Send(
		ctx context.Context,
		target domaintypes.InviteTarget,
		joinMaterial []byte,
		groupRelays []string,
	) error
	Open(ev domaintypes.Event) (domaintypes.Welcome, error)
	Filter(since int64) domaintypes.Filter
}

// CreateGroupRequest describes a new group.
type CreateGroupRequest struct {
	Name        string
	Description string
	Invitees    []domaintypes.Identity
	Relays      []string
	// CipherSuite overrides the configured default when non-zero.
	CipherSuite domaintypes.CipherSuite
}

// GroupService creates and joins group sessions and routes inbound traffic.
type GroupService interface {
	CreateGroup(ctx context.Context, req CreateGroupRequest) (domaintypes.Conversation, error)
	JoinFromWelcome(ctx context.Context, giftWrap domaintypes.Event) (domaintypes.Conversation, error)
	// Listen routes inbound Welcomes and group messages until ctx ends or
	// the subscription is closed.
	Listen(ctx context.Context) (Subscription, error)
	// Unwatch stops routing messages of one conversation.
	Unwatch(id domaintypes.GroupID)
}

// MessageService encrypts, sends and decrypts application messages.
type MessageService interface {
	SendMessage(
		ctx context.Context,
		id domaintypes.GroupID,
		plaintext string,
	) (domaintypes.ChatMessage, error)
	HandleIncomingEnvelope(
		ctx context.Context,
		id domaintypes.GroupID,
		envelope domaintypes.Event,
	) (domaintypes.ChatMessage, error)
	// PublishCommit tells existing members about a membership change. prev
	// is the session the commit was made on.
	PublishCommit(
		ctx context.Context,
		conv domaintypes.Conversation,
		prev domaintypes.SessionHandle,
		commit []byte,
	) error
	History(id domaintypes.GroupID) []domaintypes.ChatMessage
	MarkRead(id domaintypes.GroupID) error
	// Restore loads persisted timelines of every known conversation.
	Restore() error
	// Forget removes a conversation's timeline from memory and disk.
	Forget(id domaintypes.GroupID) error
}

// MembershipService changes group membership.
type MembershipService interface {
	AddMembers(
		ctx context.Context,
		id domaintypes.GroupID,
		identities []domaintypes.Identity,
	) (domaintypes.MembershipResult, error)
	LeaveGroup(ctx context.Context, id domaintypes.GroupID) error
}
