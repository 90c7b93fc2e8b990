package types

import (
	"encoding/hex"
	"fmt"
)

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Identity returns the hex identity for this key.
func (p Ed25519Public) Identity() Identity { return Identity(hex.EncodeToString(p[:])) }

// ParseIdentity decodes an identity back into its public key.
func ParseIdentity(id Identity) (Ed25519Public, error) {
	var out Ed25519Public
	b, err := hex.DecodeString(string(id))
	if err != nil {
		return out, fmt.Errorf("identity %q: %w", id.Short(), err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("identity %q: want %d bytes, got %d", id.Short(), len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// Seed returns the 32-byte seed the private key was expanded from.
func (k Ed25519Private) Seed() []byte { return k[:32] }
