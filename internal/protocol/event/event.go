package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"huddle/internal/crypto"
	"huddle/internal/domain"
)

var (
	ErrBadID        = errors.New("event: id does not match content")
	ErrBadSignature = errors.New("event: invalid signature")
	ErrUnsigned     = errors.New("event: missing signature")
)

// ComputeID returns the canonical id of ev, ignoring ev.ID and ev.Sig.
func ComputeID(ev domain.Event) (string, error) {
	tags := ev.Tags
	if tags == nil {
		tags = domain.Tags{}
	}
	b, err := json.Marshal([]any{0, ev.PubKey, ev.CreatedAt, ev.Kind, tags, ev.Content})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Finalize fills in ev.PubKey and ev.ID, and signs the result with id.
func Finalize(ev domain.Event, id domain.LocalIdentity) (domain.Event, error) {
	ev.PubKey = id.Identity()
	if ev.Tags == nil {
		ev.Tags = domain.Tags{}
	}
	evID, err := ComputeID(ev)
	if err != nil {
		return ev, err
	}
	raw, _ := hex.DecodeString(evID)
	ev.ID = evID
	ev.Sig = hex.EncodeToString(crypto.SignEd25519(id.Private, raw))
	return ev, nil
}

// Rumor fills in ev.PubKey and ev.ID but leaves the event unsigned.
func Rumor(ev domain.Event, author domain.Identity) (domain.Event, error) {
	ev.PubKey = author
	ev.Sig = ""
	if ev.Tags == nil {
		ev.Tags = domain.Tags{}
	}
	evID, err := ComputeID(ev)
	if err != nil {
		return ev, err
	}
	ev.ID = evID
	return ev, nil
}

// CheckID reports whether ev.ID matches its content.
func CheckID(ev domain.Event) error {
	want, err := ComputeID(ev)
	if err != nil {
		return err
	}
	if want != ev.ID {
		return ErrBadID
	}
	return nil
}

// Verify checks both the id and the signature of ev.
func Verify(ev domain.Event) error {
	if err := CheckID(ev); err != nil {
		return err
	}
	if ev.Sig == "" {
		return ErrUnsigned
	}
	pub, err := domain.ParseIdentity(ev.PubKey)
	if err != nil {
		return fmt.Errorf("event: %w", err)
	}
	raw, err := hex.DecodeString(ev.ID)
	if err != nil {
		return ErrBadID
	}
	sig, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return ErrBadSignature
	}
	if !crypto.VerifyEd25519(pub, raw, sig) {
		return ErrBadSignature
	}
	return nil
}
