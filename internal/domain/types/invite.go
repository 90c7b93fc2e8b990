package types

import "slices"

// InviteTarget is a published invite target as seen by any peer.
type InviteTarget struct {
	ID           InviteTargetID `json:"id"`
	Owner        Identity       `json:"owner"`
	CipherSuite  CipherSuite    `json:"cipher_suite"`
	Relays       []string       `json:"relays,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	Bundle       []byte         `json:"bundle"`
}

// Supports reports whether the target advertises every capability in want.
func (t InviteTarget) Supports(want []string) bool {
	for _, c := range want {
		if !slices.Contains(t.Capabilities, c) {
			return false
		}
	}
	return true
}

// InviteTargetRecord is the local record of an invite target this device
// created, including its private material.
type InviteTargetRecord struct {
	ID          InviteTargetID `cbor:"1,keyasint"`
	Owner       Identity       `cbor:"2,keyasint"`
	CipherSuite CipherSuite    `cbor:"3,keyasint"`
	Bundle      []byte         `cbor:"4,keyasint"`
	Private     []byte         `cbor:"5,keyasint"`
	CreatedAt   int64          `cbor:"6,keyasint"`
	Retired     bool           `cbor:"7,keyasint,omitempty"`
	Consumed    bool           `cbor:"8,keyasint,omitempty"`
}

// ResolvedInviteTarget pairs an announcement with its parsed bundle.
type ResolvedInviteTarget struct {
	Target InviteTarget
	Parsed ParsedInviteTarget
}

// Welcome is the decoded inner statement of a sealed invitation.
type Welcome struct {
	// Sender is the author proven by the seal layer.
	Sender         Identity
	InviteTargetID InviteTargetID
	JoinMaterial   []byte
	Relays         []string
	// RumorID is the id of the unsigned inner statement.
	RumorID string
}

// ResolveOptions controls invite target selection for one identity.
type ResolveOptions struct {
	// RequiredCapabilities filters out targets lacking any listed flag.
	RequiredCapabilities []string
	// MultiDevice selects every live target instead of the most recent one.
	MultiDevice bool
	// CipherSuite, when non-zero, drops targets of any other suite before
	// the most recent one is picked.
	CipherSuite CipherSuite
}
