package giftwrap

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"huddle/internal/domain"
	"huddle/internal/protocol/event"
)

// MaxSkew bounds how far into the past seal and wrap timestamps are moved.
const MaxSkew = 48 * time.Hour

var (
	ErrNotRecipient   = errors.New("giftwrap: not addressed to this identity")
	ErrKind           = errors.New("giftwrap: unexpected event kind")
	ErrAuthorMismatch = errors.New("giftwrap: rumor author differs from seal signer")
	ErrSignedRumor    = errors.New("giftwrap: inner rumor must be unsigned")
)

// Wrap seals rumor from sender to recipient and wraps the seal under a fresh
// single-use key. The rumor's author is forced to the sender.
func Wrap(rumor domain.Event, sender domain.Signer, recipient domain.Identity, now time.Time) (domain.Event, error) {
	seal, err := Seal(rumor, sender, recipient, now)
	if err != nil {
		return domain.Event{}, err
	}
	return WrapSeal(seal, recipient, now)
}

// Seal encrypts rumor to recipient and signs the result with sender.
func Seal(rumor domain.Event, sender domain.Signer, recipient domain.Identity, now time.Time) (domain.Event, error) {
	rumor, err := event.Rumor(rumor, sender.PublicKey())
	if err != nil {
		return domain.Event{}, fmt.Errorf("giftwrap: rumor: %w", err)
	}
	raw, err := json.Marshal(rumor)
	if err != nil {
		return domain.Event{}, err
	}
	content, err := sender.Encrypt(recipient, raw)
	if err != nil {
		return domain.Event{}, fmt.Errorf("giftwrap: seal: %w", err)
	}
	ts, err := skewed(now)
	if err != nil {
		return domain.Event{}, err
	}
	return sender.SignEvent(domain.Event{
		CreatedAt: ts,
		Kind:      domain.KindSeal,
		Content:   content,
	})
}

// WrapSeal encrypts seal to recipient under a freshly generated key.
func WrapSeal(seal domain.Event, recipient domain.Identity, now time.Time) (domain.Event, error) {
	eph, err := event.Ephemeral()
	if err != nil {
		return domain.Event{}, err
	}
	raw, err := json.Marshal(seal)
	if err != nil {
		return domain.Event{}, err
	}
	content, err := eph.Encrypt(recipient, raw)
	if err != nil {
		return domain.Event{}, fmt.Errorf("giftwrap: wrap: %w", err)
	}
	ts, err := skewed(now)
	if err != nil {
		return domain.Event{}, err
	}
	return eph.SignEvent(domain.Event{
		CreatedAt: ts,
		Kind:      domain.KindGiftWrap,
		Tags:      domain.Tags{{domain.TagPubKey, recipient.String()}},
		Content:   content,
	})
}

// Unwrap opens a gift wrap addressed to own and returns the rumor. Any
// failure in any layer rejects the whole envelope.
func Unwrap(wrap domain.Event, own domain.Signer) (domain.Event, error) {
	if wrap.Kind != domain.KindGiftWrap {
		return domain.Event{}, ErrKind
	}
	if wrap.Tags.Value(domain.TagPubKey) != own.PublicKey().String() {
		return domain.Event{}, ErrNotRecipient
	}
	if err := event.Verify(wrap); err != nil {
		return domain.Event{}, fmt.Errorf("giftwrap: wrap: %w", err)
	}

	var seal domain.Event
	if err := open(own, wrap.PubKey, wrap.Content, &seal); err != nil {
		return domain.Event{}, fmt.Errorf("giftwrap: wrap: %w", err)
	}
	if seal.Kind != domain.KindSeal {
		return domain.Event{}, ErrKind
	}
	if err := event.Verify(seal); err != nil {
		return domain.Event{}, fmt.Errorf("giftwrap: seal: %w", err)
	}

	var rumor domain.Event
	if err := open(own, seal.PubKey, seal.Content, &rumor); err != nil {
		return domain.Event{}, fmt.Errorf("giftwrap: seal: %w", err)
	}
	if rumor.Sig != "" {
		return domain.Event{}, ErrSignedRumor
	}
	if err := event.CheckID(rumor); err != nil {
		return domain.Event{}, fmt.Errorf("giftwrap: rumor: %w", err)
	}
	if rumor.PubKey != seal.PubKey {
		return domain.Event{}, ErrAuthorMismatch
	}
	return rumor, nil
}

func open(own domain.Signer, peer domain.Identity, content string, out *domain.Event) error {
	raw, err := own.Decrypt(peer, content)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func skewed(now time.Time) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(MaxSkew/time.Second)))
	if err != nil {
		return 0, err
	}
	return now.Unix() - n.Int64(), nil
}
