package domain

import (
	interfaces "huddle/internal/domain/interfaces"
	types "huddle/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Identity              = types.Identity
	Fingerprint           = types.Fingerprint
	GroupID               = types.GroupID
	InviteTargetID        = types.InviteTargetID
	MessageID             = types.MessageID
	CipherSuite           = types.CipherSuite
	LocalIdentity         = types.LocalIdentity
	X25519Public          = types.X25519Public
	X25519Private         = types.X25519Private
	Ed25519Public         = types.Ed25519Public
	Ed25519Private        = types.Ed25519Private
	Tag                   = types.Tag
	Tags                  = types.Tags
	Event                 = types.Event
	Filter                = types.Filter
	PublishResult         = types.PublishResult
	DeliveryStatus        = types.DeliveryStatus
	MediaRef              = types.MediaRef
	ChatMessage           = types.ChatMessage
	GroupMetadata         = types.GroupMetadata
	Conversation          = types.Conversation
	SessionHandle         = types.SessionHandle
	MemberFailure         = types.MemberFailure
	MembershipResult      = types.MembershipResult
	GroupState            = types.GroupState
	Extension             = types.Extension
	EngineGroup           = types.EngineGroup
	EngineCommit          = types.EngineCommit
	GeneratedInviteTarget = types.GeneratedInviteTarget
	ParsedInviteTarget    = types.ParsedInviteTarget
	InviteTarget          = types.InviteTarget
	InviteTargetRecord    = types.InviteTargetRecord
	ResolvedInviteTarget  = types.ResolvedInviteTarget
	ResolveOptions        = types.ResolveOptions
	Welcome               = types.Welcome
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	Engine             = interfaces.Engine
	Signer             = interfaces.Signer
	Transport          = interfaces.Transport
	Subscription       = interfaces.Subscription
	IdentityService    = interfaces.IdentityService
	InviteService      = interfaces.InviteService
	SessionService     = interfaces.SessionService
	WelcomeService     = interfaces.WelcomeService
	GroupService       = interfaces.GroupService
	MessageService     = interfaces.MessageService
	MembershipService  = interfaces.MembershipService
	CreateGroupRequest = interfaces.CreateGroupRequest
	IdentityStore      = interfaces.IdentityStore
	SessionStore       = interfaces.SessionStore
	ConversationStore  = interfaces.ConversationStore
	InviteTargetStore  = interfaces.InviteTargetStore
	MessageStore       = interfaces.MessageStore
)

// Re-exported constants.
const (
	KindTombstone    = types.KindTombstone
	KindChatMessage  = types.KindChatMessage
	KindGroupCommit  = types.KindGroupCommit
	KindSeal         = types.KindSeal
	KindInviteTarget = types.KindInviteTarget
	KindWelcome      = types.KindWelcome
	KindGroupMessage = types.KindGroupMessage
	KindGiftWrap     = types.KindGiftWrap

	TagEvent        = types.TagEvent
	TagPubKey       = types.TagPubKey
	TagGroup        = types.TagGroup
	TagRelays       = types.TagRelays
	TagCipherSuite  = types.TagCipherSuite
	TagCapabilities = types.TagCapabilities
	TagEncoding     = types.TagEncoding
	TagEpoch        = types.TagEpoch

	StatusReceived = types.StatusReceived
	StatusSending  = types.StatusSending
	StatusSent     = types.StatusSent
	StatusFailed   = types.StatusFailed

	ExtensionGroupMetadata = types.ExtensionGroupMetadata
)

// ParseGroupID decodes a hex group identifier.
func ParseGroupID(s string) (GroupID, error) { return types.ParseGroupID(s) }

// ParseIdentity decodes an identity into its public key.
func ParseIdentity(id Identity) (Ed25519Public, error) { return types.ParseIdentity(id) }
