package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"huddle/internal/crypto"
	"huddle/internal/domain"
	"huddle/internal/protocol/event"
)

var (
	errWrongGroup = errors.New("message: envelope is for another group")
	errInnerKind  = errors.New("message: unexpected inner event kind")
)

// groupKey returns a signer bound to the key derived from secret. Messages
// are encrypted to the key's own public half, so every holder of secret can
// open them.
func groupKey(secret []byte) (*event.KeySigner, domain.Identity, error) {
	mk, err := crypto.MessageKey(secret)
	if err != nil {
		return nil, "", err
	}
	return event.NewKeySigner(mk), mk.Identity(), nil
}

// seal builds the outer envelope for inner. The epoch travels in the clear
// so receivers can tell stale, current and early envelopes apart.
func seal(id domain.GroupID, h domain.SessionHandle, inner domain.Event, now time.Time) (domain.Event, error) {
	key, self, err := groupKey(h.Secret)
	if err != nil {
		return domain.Event{}, err
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return domain.Event{}, err
	}
	content, err := key.Encrypt(self, raw)
	if err != nil {
		return domain.Event{}, err
	}
	eph, err := event.Ephemeral()
	if err != nil {
		return domain.Event{}, err
	}
	return eph.SignEvent(domain.Event{
		CreatedAt: now.Unix(),
		Kind:      domain.KindGroupMessage,
		Tags: domain.Tags{
			{domain.TagGroup, id.Hex()},
			{domain.TagEpoch, strconv.FormatUint(h.Epoch, 10)},
		},
		Content: content,
	})
}

// epochOf returns the epoch an envelope claims to be sealed under.
func epochOf(env domain.Event) (uint64, bool) {
	v := env.Tags.Value(domain.TagEpoch)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	return n, err == nil
}

// open decrypts an envelope and checks the signed chat or commit event
// inside.
// Every failure wraps domain.ErrDecryptFailure.
func open(id domain.GroupID, secret []byte, env domain.Event) (domain.Event, error) {
	fail := func(err error) (domain.Event, error) {
		return domain.Event{}, fmt.Errorf("%w: %w", domain.ErrDecryptFailure, err)
	}
	if env.Kind != domain.KindGroupMessage || env.Tags.Value(domain.TagGroup) != id.Hex() {
		return fail(errWrongGroup)
	}
	if err := event.Verify(env); err != nil {
		return fail(err)
	}
	key, self, err := groupKey(secret)
	if err != nil {
		return fail(err)
	}
	raw, err := key.Decrypt(self, env.Content)
	if err != nil {
		return fail(err)
	}
	var inner domain.Event
	if err := json.Unmarshal(raw, &inner); err != nil {
		return fail(err)
	}
	if err := event.Verify(inner); err != nil {
		return fail(err)
	}
	if inner.Kind != domain.KindChatMessage && inner.Kind != domain.KindGroupCommit {
		return fail(fmt.Errorf("%w: %d", errInnerKind, inner.Kind))
	}
	if inner.Tags.Value(domain.TagGroup) != id.Hex() {
		return fail(errWrongGroup)
	}
	return inner, nil
}
