package identity

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"huddle/internal/crypto"
	"huddle/internal/domain"
	"huddle/internal/protocol/event"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

// Character classes a passphrase must mix.
const (
	classUpper = 1 << iota
	classLower
	classDigit
	classSymbol

	allClasses = classUpper | classLower | classDigit | classSymbol
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrIdentityExists is returned by GenerateIdentity when one is already saved.
	ErrIdentityExists = errors.New("identity already exists")
)

// prober is implemented by stores that can tell whether an identity exists
// without the passphrase.
type prober interface {
	HasIdentity() (bool, error)
}

// Service manages identity key creation and access using a backing store.
//
// The identity is a single Ed25519 key pair. It signs every event this device
// publishes and, converted to X25519, receives sealed invitations.
type Service struct {
	store domain.IdentityStore
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore) *Service { return &Service{store: s} }

// GenerateIdentity creates a new identity, saves it encrypted with the passphrase,
// and returns the identity plus a short fingerprint of its public key. An
// existing identity is never replaced.
func (s *Service) GenerateIdentity(
	passphrase string,
) (domain.LocalIdentity, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.LocalIdentity{}, "", ErrWeakPassphrase
	}
	if p, ok := s.store.(prober); ok {
		exists, err := p.HasIdentity()
		if err != nil {
			return domain.LocalIdentity{}, "", err
		}
		if exists {
			return domain.LocalIdentity{}, "", ErrIdentityExists
		}
	}

	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.LocalIdentity{}, "", err
	}
	id := domain.LocalIdentity{Public: pub, Private: priv}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.LocalIdentity{}, "", err
	}
	return id, crypto.Fingerprint(id.Public.Slice()), nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.LocalIdentity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns a short fingerprint of the local public key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.Fingerprint(id.Public.Slice()), nil
}

// Signer unlocks the identity and returns a signer for it.
func (s *Service) Signer(passphrase string) (domain.Signer, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return nil, err
	}
	return event.NewKeySigner(id), nil
}

// isSecurePassphrase enforces a basic strength policy: a minimum length in
// characters and every character class.
func isSecurePassphrase(passphrase string) bool {
	if utf8.RuneCountInString(passphrase) < minPassphraseLength {
		return false
	}
	seen := 0
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			seen |= classUpper
		case unicode.IsLower(r):
			seen |= classLower
		case unicode.IsDigit(r):
			seen |= classDigit
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			seen |= classSymbol
		}
	}
	return seen == allClasses
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
