package event

import (
	"huddle/internal/crypto"
	"huddle/internal/domain"
)

// KeySigner is a Signer backed by a local Ed25519 key.
type KeySigner struct {
	id domain.LocalIdentity
}

// NewKeySigner returns a Signer for id.
func NewKeySigner(id domain.LocalIdentity) *KeySigner {
	return &KeySigner{id: id}
}

// Ephemeral returns a Signer for a freshly generated one-off key.
func Ephemeral() (*KeySigner, error) {
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	return NewKeySigner(domain.LocalIdentity{Public: pub, Private: priv}), nil
}

func (s *KeySigner) PublicKey() domain.Identity { return s.id.Identity() }

func (s *KeySigner) SignEvent(ev domain.Event) (domain.Event, error) {
	return Finalize(ev, s.id)
}

func (s *KeySigner) Encrypt(peer domain.Identity, plaintext []byte) (string, error) {
	pub, err := domain.ParseIdentity(peer)
	if err != nil {
		return "", err
	}
	return crypto.EncryptPairwise(s.id.Private, pub, plaintext)
}

func (s *KeySigner) Decrypt(peer domain.Identity, ciphertext string) ([]byte, error) {
	pub, err := domain.ParseIdentity(peer)
	if err != nil {
		return nil, err
	}
	return crypto.DecryptPairwise(s.id.Private, pub, ciphertext)
}

var _ domain.Signer = (*KeySigner)(nil)
