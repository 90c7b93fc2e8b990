package types

import (
	"slices"
)

// GroupMetadata is the immutable description embedded into a group's
// cryptographic context. Joiners recover it from their session.
type GroupMetadata struct {
	Name        string     `cbor:"1,keyasint"`
	Description string     `cbor:"2,keyasint,omitempty"`
	Admins      []Identity `cbor:"3,keyasint"`
	Relays      []string   `cbor:"4,keyasint,omitempty"`
	CreatedAt   int64      `cbor:"5,keyasint"`
	Nonce       [16]byte   `cbor:"6,keyasint"`
}

// Conversation is the local record of a group. It never carries the derived
// message secret; that lives only in the session cache.
type Conversation struct {
	ID          GroupID    `json:"id" cbor:"1,keyasint"`
	Name        string     `json:"name" cbor:"2,keyasint"`
	Description string     `json:"description,omitempty" cbor:"3,keyasint,omitempty"`
	Members     []Identity `json:"members" cbor:"4,keyasint"`
	Admins      []Identity `json:"admins" cbor:"5,keyasint"`
	Relays      []string   `json:"relays,omitempty" cbor:"6,keyasint,omitempty"`
	Epoch       uint64     `json:"epoch" cbor:"7,keyasint"`
	HasSession  bool       `json:"has_session" cbor:"8,keyasint"`
	Unread      int        `json:"unread" cbor:"9,keyasint"`
	CreatedAt   int64      `json:"created_at" cbor:"10,keyasint"`
	UpdatedAt   int64      `json:"updated_at" cbor:"11,keyasint"`
	// JoinedAt is when this device created or joined the group.
	JoinedAt    int64       `json:"joined_at" cbor:"12,keyasint"`
	CipherSuite CipherSuite `json:"cipher_suite" cbor:"13,keyasint"`
	// JoinEpoch is the first epoch this device holds a secret for.
	JoinEpoch uint64 `json:"join_epoch" cbor:"14,keyasint"`
}

// HasMember reports whether id is a member.
func (c Conversation) HasMember(id Identity) bool {
	_, found := slices.BinarySearch(c.Members, id)
	return found
}

// WithMembers returns a copy of c whose member set also contains ids.
func (c Conversation) WithMembers(ids ...Identity) Conversation {
	members := slices.Clone(c.Members)
	for _, id := range ids {
		if i, found := slices.BinarySearch(members, id); !found {
			members = slices.Insert(members, i, id)
		}
	}
	c.Members = members
	c.Admins = slices.Clone(c.Admins)
	c.Relays = slices.Clone(c.Relays)
	return c
}

// SessionHandle is the in-memory cryptographic session for one conversation.
// Handles are values: a membership change replaces the handle wholesale.
type SessionHandle struct {
	// State is the engine's opaque group state.
	State GroupState
	// Secret is the derived message secret for Epoch. Never persisted.
	Secret []byte
	Epoch  uint64
}

// MemberFailure records why an identity was not added or not welcomed.
type MemberFailure struct {
	Identity Identity
	Err      error
}

// MembershipResult reports the outcome of adding members. Identities in
// Failed after a successful commit may still be members: their Welcome could
// not be delivered.
type MembershipResult struct {
	Added  []Identity
	Failed []MemberFailure
	Epoch  uint64
}
