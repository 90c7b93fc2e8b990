package types

import (
	"encoding/hex"
	"fmt"
)

// Identity is the lowercase hex form of a 32-byte ed25519 public key. It
// signs events and, in Montgomery form, receives pairwise ciphertexts.
type Identity string

// String returns the string form of the identity.
func (id Identity) String() string { return string(id) }

// Short returns an abbreviated identity for logs.
func (id Identity) Short() string {
	if len(id) <= 12 {
		return string(id)
	}
	return string(id[:12])
}

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// GroupID is the 32-byte group identifier derived from group metadata.
type GroupID [32]byte

// Hex returns the lowercase hex form, used as the transport routing tag.
func (id GroupID) Hex() string { return hex.EncodeToString(id[:]) }

// String returns the hex form of the identifier.
func (id GroupID) String() string { return id.Hex() }

// IsZero reports whether id is unset.
func (id GroupID) IsZero() bool { return id == GroupID{} }

// ParseGroupID decodes the hex form produced by Hex.
func ParseGroupID(s string) (GroupID, error) {
	var id GroupID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("group id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("group id: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// InviteTargetID identifies a published invite target (its announcement event id).
type InviteTargetID string

// String returns the string form of the identifier.
func (id InviteTargetID) String() string { return string(id) }

// MessageID identifies a chat message.
type MessageID string

// String returns the string form of the identifier.
func (id MessageID) String() string { return string(id) }

// CipherSuite names the group cipher suite negotiated with the engine.
type CipherSuite uint16

// String renders the suite the way invite target announcements tag it.
func (c CipherSuite) String() string { return fmt.Sprintf("0x%04x", uint16(c)) }
