package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"huddle/internal/crypto"
	"huddle/internal/domain"
)

const idFilename = "identity.json.enc"

// ErrNoIdentity is returned when no identity has been created yet.
var ErrNoIdentity = errors.New("no identity; run init first")

// IdentityFileStore persists the local identity to disk.
type IdentityFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir}
}

// SaveIdentity writes the encrypted identity to disk.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.LocalIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	defer crypto.Zero(raw)

	N, r, p := scryptParamsDefault()
	ct, err := encrypt(passphrase, raw, N, r, p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	return replaceFile(filepath.Join(s.dir, idFilename), ct, 0o600)
}

// replaceFile writes b next to path and renames it into place, so readers
// see either the old or the new identity.
func replaceFile(path string, b []byte, mode os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(b); err == nil {
		err = f.Chmod(mode)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// HasIdentity reports whether an identity file exists.
func (s *IdentityFileStore) HasIdentity() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(filepath.Join(s.dir, idFilename))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// LoadIdentity reads and decrypts the identity.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.LocalIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(s.dir, idFilename))
	if errors.Is(err, os.ErrNotExist) {
		return domain.LocalIdentity{}, ErrNoIdentity
	}
	if err != nil {
		return domain.LocalIdentity{}, err
	}
	pt, err := decrypt(passphrase, b)
	if err != nil {
		return domain.LocalIdentity{}, err
	}
	defer crypto.Zero(pt)

	var id domain.LocalIdentity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.LocalIdentity{}, err
	}
	return id, nil
}

// Compile-time assertion that IdentityFileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityFileStore)(nil)
