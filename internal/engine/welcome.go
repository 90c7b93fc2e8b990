package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"huddle/internal/crypto"
	"huddle/internal/domain"
)

var (
	errNoWelcomeEntry = errors.New("engine: welcome has no entry for this invite target")
	errOpenWelcome    = errors.New("engine: welcome entry failed authentication")
	errNotInWelcome   = errors.New("engine: joiner is not a member of the welcomed group")
	welcomeInfo       = []byte("huddle/engine/welcome")
)

// welcome carries the post-commit state, sealed once per added target.
type welcome struct {
	GroupID domain.GroupID `cbor:"1,keyasint"`
	Epoch   uint64         `cbor:"2,keyasint"`
	Entries []welcomeEntry `cbor:"3,keyasint"`
}

type welcomeEntry struct {
	Target    [32]byte `cbor:"1,keyasint"`
	Ephemeral [32]byte `cbor:"2,keyasint"`
	Sealed    []byte   `cbor:"3,keyasint"`
}

func targetRef(raw []byte) [32]byte { return sha256.Sum256(raw) }

func welcomeKey(shared [32]byte, ref [32]byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared[:], ref[:], welcomeInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func sealEntry(b bundle, raw []byte, plaintext []byte) (welcomeEntry, error) {
	ref := targetRef(raw)
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return welcomeEntry{}, err
	}
	defer crypto.Zero(priv[:])

	shared, err := crypto.DH(priv, b.InitKey)
	if err != nil {
		return welcomeEntry{}, err
	}
	defer crypto.Zero(shared[:])
	key, err := welcomeKey(shared, ref)
	if err != nil {
		return welcomeEntry{}, err
	}
	defer crypto.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return welcomeEntry{}, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return welcomeEntry{}, err
	}
	return welcomeEntry{
		Target:    ref,
		Ephemeral: pub,
		Sealed:    aead.Seal(nonce, nonce, plaintext, ref[:]),
	}, nil
}

func openEntry(e welcomeEntry, initPriv domain.X25519Private) ([]byte, error) {
	shared, err := crypto.DH(initPriv, e.Ephemeral)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(shared[:])
	key, err := welcomeKey(shared, e.Target)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(e.Sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errOpenWelcome
	}
	nonce, ct := e.Sealed[:aead.NonceSize()], e.Sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, e.Target[:])
	if err != nil {
		return nil, errOpenWelcome
	}
	return pt, nil
}
