// Package message sends and receives encrypted group messages.
//
// An outgoing message is a signed chat event, encrypted under a key derived
// from the group's message secret and published inside an envelope signed
// by a one-off key, so relays learn neither author nor content. Inbound
// envelopes that cannot be opened become placeholders instead of being
// dropped.
package message
