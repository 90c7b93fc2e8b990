package interfaces

import domaintypes "huddle/internal/domain/types"

// IdentityStore persists your long-term identity key.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.LocalIdentity) error
	LoadIdentity(passphrase string) (domaintypes.LocalIdentity, error)
}

// SessionStore persists opaque engine state by conversation. Only encoded
// state is stored; derived secrets never reach it.
type SessionStore interface {
	SaveSession(id domaintypes.GroupID, state []byte) error
	LoadSession(id domaintypes.GroupID) ([]byte, bool, error)
	DeleteSession(id domaintypes.GroupID) error
}

// ConversationStore persists conversation records.
type ConversationStore interface {
	SaveConversation(conv domaintypes.Conversation) error
	LoadConversation(id domaintypes.GroupID) (domaintypes.Conversation, bool, error)
	ListConversations() ([]domaintypes.Conversation, error)
	DeleteConversation(id domaintypes.GroupID) error
}

// InviteTargetStore keeps the invite targets this device created.
type InviteTargetStore interface {
	SaveInviteTarget(rec domaintypes.InviteTargetRecord) error
	LoadInviteTarget(id domaintypes.InviteTargetID) (domaintypes.InviteTargetRecord, bool, error)
	ListInviteTargets() ([]domaintypes.InviteTargetRecord, error)
}

// MessageStore persists conversation timelines.
type MessageStore interface {
	SaveMessage(msg domaintypes.ChatMessage) error
	DeleteMessage(id domaintypes.GroupID, msg domaintypes.MessageID) error
	ListMessages(id domaintypes.GroupID) ([]domaintypes.ChatMessage, error)
	DeleteMessages(id domaintypes.GroupID) error
}
