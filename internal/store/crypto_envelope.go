package store

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"huddle/internal/crypto"
)

// The current supported version of the encrypted blob format stored on disk.
const keystoreFormatVersion = 2

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// ciphertext has been modified.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted identity")

// blob is the on-disk structure holding the ciphertext and KDF parameters.
type blob struct {
	V      int    `cbor:"1,keyasint"`
	Salt   []byte `cbor:"2,keyasint"`
	N      int    `cbor:"3,keyasint"`
	R      int    `cbor:"4,keyasint"`
	P      int    `cbor:"5,keyasint"`
	Nonce  []byte `cbor:"6,keyasint"`
	Cipher []byte `cbor:"7,keyasint"`
}

// additionalData binds the KDF parameters to the ciphertext.
func (b *blob) additionalData() []byte {
	return fmt.Appendf(b.Salt[:len(b.Salt):len(b.Salt)], "|%d|%d|%d|%d", b.V, b.N, b.R, b.P)
}

// encrypt derives a key from passphrase and seals raw into an encoded blob.
func encrypt(passphrase string, raw []byte, N, r, p int) ([]byte, error) {
	bl := blob{V: keystoreFormatVersion, Salt: make([]byte, 16), N: N, R: r, P: p}
	if _, err := rand.Read(bl.Salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), bl.Salt, N, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	bl.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(bl.Nonce); err != nil {
		return nil, err
	}
	bl.Cipher = aead.Seal(nil, bl.Nonce, raw, bl.additionalData())
	return ccbor.Marshal(bl)
}

// decrypt opens an encoded blob using a key derived from passphrase.
func decrypt(passphrase string, b []byte) ([]byte, error) {
	var bl blob
	if err := dcbor.Unmarshal(b, &bl); err != nil {
		return nil, fmt.Errorf("identity file: %w", err)
	}
	if bl.V != keystoreFormatVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", bl.V)
	}

	key, err := scrypt.Key([]byte(passphrase), bl.Salt, bl.N, bl.R, bl.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(bl.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	pt, err := aead.Open(nil, bl.Nonce, bl.Cipher, bl.additionalData())
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

// Tunables for scrypt key derivation.
func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }
