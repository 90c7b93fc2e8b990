package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared across services. Callers test with errors.Is.
var (
	// ErrSessionAbsent means no derived secret exists for the conversation.
	// It is never answered with a plaintext fallback.
	ErrSessionAbsent = errors.New("no group session for conversation")
	// ErrDecryptFailure means ciphertext was present but could not be opened.
	ErrDecryptFailure = errors.New("message could not be decrypted")
	// ErrInviteUnavailable means the identity has no usable invite target.
	ErrInviteUnavailable = errors.New("no usable invite target")
	// ErrInviteConsumed means the invite target was already used to join.
	ErrInviteConsumed = errors.New("invite target already consumed")
	// ErrEngineRejection means the group-state engine refused an operation.
	ErrEngineRejection = errors.New("group engine rejected operation")
	// ErrTransportRejection means every endpoint rejected a publish.
	ErrTransportRejection = errors.New("all endpoints rejected publish")
	// ErrAlreadyMember means the identity is already in the group.
	ErrAlreadyMember = errors.New("identity is already a member")
	// ErrConversationNotFound means there is no local record of the group.
	ErrConversationNotFound = errors.New("conversation not found")
)

// TransportError aggregates per-endpoint reasons for a rejected publish.
type TransportError struct {
	Results []PublishResult
}

func (e *TransportError) Error() string {
	reasons := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		reasons = append(reasons, fmt.Sprintf("%s: %s", r.Endpoint, r.Reason))
	}
	return fmt.Sprintf("%v (%s)", ErrTransportRejection, strings.Join(reasons, "; "))
}

// Unwrap lets errors.Is match ErrTransportRejection.
func (e *TransportError) Unwrap() error { return ErrTransportRejection }

// EngineError wraps an engine failure so it matches ErrEngineRejection.
func EngineError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrEngineRejection, err)
}
