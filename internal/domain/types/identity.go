package types

// LocalIdentity holds your long-term ed25519 signing key. The x25519 key used
// for pairwise encryption is derived from it on demand.
type LocalIdentity struct {
	Public  Ed25519Public  `json:"public"`
	Private Ed25519Private `json:"private"`
}

// Identity returns the public identity string.
func (l LocalIdentity) Identity() Identity { return l.Public.Identity() }
