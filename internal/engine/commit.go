package engine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"huddle/internal/crypto"
	"huddle/internal/domain"
)

var (
	errOpenCommit  = errors.New("engine: commit failed authentication")
	errStaleCommit = errors.New("engine: commit does not apply to this epoch")
	errCommitGroup = errors.New("engine: commit is for another group")
	commitInfo     = []byte("huddle/engine/commit")
)

// commit carries the next epoch's state to members of the previous one,
// sealed under the previous epoch secret.
type commit struct {
	GroupID   domain.GroupID `cbor:"1,keyasint"`
	FromEpoch uint64         `cbor:"2,keyasint"`
	Sealed    []byte         `cbor:"3,keyasint"`
}

func (c *commit) additionalData() []byte {
	ad := make([]byte, 0, len(c.GroupID)+8)
	ad = append(ad, c.GroupID[:]...)
	return binary.BigEndian.AppendUint64(ad, c.FromEpoch)
}

func commitKey(prev *groupState) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, prev.EpochSecret, prev.GroupID[:], commitInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func sealCommit(prev *groupState, next []byte) ([]byte, error) {
	key, err := commitKey(prev)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	c := commit{GroupID: prev.GroupID, FromEpoch: prev.Epoch}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(next)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	c.Sealed = aead.Seal(nonce, nonce, next, c.additionalData())
	return ccbor.Marshal(c)
}

// ProcessCommit advances st by a commit produced by AddMembers on the same
// epoch. Commits for other epochs are rejected.
func (e *Engine) ProcessCommit(st domain.GroupState, raw []byte) (domain.EngineGroup, error) {
	cur, err := asState(st)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	var c commit
	if err := dcbor.Unmarshal(raw, &c); err != nil {
		return domain.EngineGroup{}, fmt.Errorf("engine: decode commit: %w", err)
	}
	if c.GroupID != cur.GroupID {
		return domain.EngineGroup{}, errCommitGroup
	}
	if c.FromEpoch != cur.Epoch {
		return domain.EngineGroup{}, fmt.Errorf("%w: commit from %d, state at %d", errStaleCommit, c.FromEpoch, cur.Epoch)
	}

	key, err := commitKey(cur)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	defer crypto.Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	if len(c.Sealed) < aead.NonceSize()+aead.Overhead() {
		return domain.EngineGroup{}, errOpenCommit
	}
	nonce, ct := c.Sealed[:aead.NonceSize()], c.Sealed[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, c.additionalData())
	if err != nil {
		return domain.EngineGroup{}, errOpenCommit
	}
	next, err := decodeState(pt)
	if err != nil {
		return domain.EngineGroup{}, err
	}
	if next.GroupID != cur.GroupID || next.Epoch != cur.Epoch+1 {
		return domain.EngineGroup{}, errStaleCommit
	}
	return e.group(next)
}
