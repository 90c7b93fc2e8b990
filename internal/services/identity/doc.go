// Package identity manages creation, encryption and loading of the local identity.
//
// It enforces passphrase policy, generates the Ed25519 identity key, and
// persists it via the domain.IdentityStore. Signer unlocks the key into a
// domain.Signer used by every other service.
package identity
