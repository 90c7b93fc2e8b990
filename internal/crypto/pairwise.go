package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"huddle/internal/domain"
)

const pairwiseVersion byte = 1

var (
	errBadSeed      = errors.New("crypto: seed must be 32 bytes")
	errShortPayload = errors.New("crypto: payload too short")
	errBadVersion   = errors.New("crypto: unknown payload version")
	errOpenPairwise = errors.New("crypto: pairwise payload failed authentication")
	errEmptySecret  = errors.New("crypto: empty group secret")
	pairwiseInfo    = []byte("huddle/pairwise/v1")
	messageKeyInfo  = []byte("huddle/message-key/v1")
)

// conversationKey derives the symmetric key shared by priv's owner and peer.
// Both directions yield the same key.
func conversationKey(priv domain.Ed25519Private, peer domain.Ed25519Public) ([]byte, error) {
	xpub, err := X25519FromEd25519Public(peer)
	if err != nil {
		return nil, err
	}
	xpriv := X25519FromEd25519Private(priv)
	defer Zero(xpriv[:])

	shared, err := DH(xpriv, xpub)
	if err != nil {
		return nil, err
	}
	defer Zero(shared[:])

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared[:], nil, pairwiseInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptPairwise encrypts plaintext from priv's owner to peer and returns
// base64(version || nonce || ciphertext).
func EncryptPairwise(priv domain.Ed25519Private, peer domain.Ed25519Public, plaintext []byte) (string, error) {
	key, err := conversationKey(priv, peer)
	if err != nil {
		return "", err
	}
	defer Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = pairwiseVersion
	if _, err := rand.Read(out[1:]); err != nil {
		return "", err
	}
	out = aead.Seal(out, out[1:], plaintext, out[:1])
	return B64(out), nil
}

// DecryptPairwise opens a payload produced by EncryptPairwise between the
// same two identities, in either direction.
func DecryptPairwise(priv domain.Ed25519Private, peer domain.Ed25519Public, payload string) ([]byte, error) {
	raw, err := FromB64(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, errShortPayload
	}
	if raw[0] != pairwiseVersion {
		return nil, errBadVersion
	}
	key, err := conversationKey(priv, peer)
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := raw[1 : 1+aead.NonceSize()]
	pt, err := aead.Open(nil, nonce, raw[1+aead.NonceSize():], raw[:1])
	if err != nil {
		return nil, errOpenPairwise
	}
	return pt, nil
}

// MessageKey derives the deterministic key pair every holder of a group
// secret shares. Application messages are encrypted to and from it.
func MessageKey(secret []byte) (domain.LocalIdentity, error) {
	if len(secret) == 0 {
		return domain.LocalIdentity{}, errEmptySecret
	}
	seed := make([]byte, 32)
	defer Zero(seed)
	r := hkdf.New(sha256.New, secret, nil, messageKeyInfo)
	if _, err := io.ReadFull(r, seed); err != nil {
		return domain.LocalIdentity{}, err
	}
	return Ed25519FromSeed(seed)
}
