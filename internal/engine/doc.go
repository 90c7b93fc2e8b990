// Package engine provides the reference group-state engine used behind
// domain.Engine.
//
// The engine keeps, per group, a member set, a cipher suite, opaque context
// extensions and a random epoch secret. Every membership change starts a new
// epoch with a fresh secret. Joiners receive the whole state in a Welcome:
// one entry per added invite target, each sealed with X25519 + HKDF-SHA256 +
// XChaCha20-Poly1305 to the target's init key.
//
// It is a stand-in for a real MLS implementation: it offers no forward
// secrecy across epochs and no removal. Callers must treat GroupState as
// opaque and only consume the documented output fields.
package engine
