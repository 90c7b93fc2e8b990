package crypto

import (
	"crypto/rand"
	"crypto/sha512"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"

	"huddle/internal/domain"
)

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return
	}
	clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return
	}
	copy(pub[:], pb)
	return
}

// DH computes X25519 Diffie–Hellman.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

// X25519FromEd25519Public maps an Ed25519 public key to the birationally
// equivalent Montgomery u-coordinate.
func X25519FromEd25519Public(pub domain.Ed25519Public) (out domain.X25519Public, err error) {
	p, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return out, err
	}
	copy(out[:], p.BytesMontgomery())
	return out, nil
}

// X25519FromEd25519Private derives the X25519 scalar matching
// X25519FromEd25519Public for the same key pair.
func X25519FromEd25519Private(priv domain.Ed25519Private) (out domain.X25519Private) {
	h := sha512.Sum512(priv.Seed())
	copy(out[:], h[:32])
	Zero(h[:])
	clamp(&out)
	return out
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}
