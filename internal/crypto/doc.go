// Package crypto exposes the primitives huddle builds on.
//
// Contents
//
//   - Ed25519 identity keys: generation, signing and verification
//     (GenerateEd25519, SignEd25519, VerifyEd25519)
//   - X25519 keys and Diffie–Hellman, including conversion of Ed25519
//     identities to their Montgomery form (GenerateX25519, DH,
//     X25519FromEd25519Public, X25519FromEd25519Private)
//   - Pairwise authenticated encryption between two identities
//     (EncryptPairwise, DecryptPairwise)
//   - Deterministic message keys derived from a group secret (MessageKey)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Functions return the fixed-size array types defined in internal/domain.
// Callers should treat returned secrets as sensitive and wipe them with
// Zero when practical.
package crypto
