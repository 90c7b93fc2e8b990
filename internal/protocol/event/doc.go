// Package event computes canonical identifiers for transport events, signs
// them, and verifies their signatures.
//
// An event's id is the hex SHA-256 of the JSON array
//
//	[0, pubkey, created_at, kind, tags, content]
//
// and its signature is an Ed25519 signature over the raw id bytes by the key
// named in pubkey. An event with an id but no signature is a rumor.
package event
