// Package store provides durable persistence for huddle's core data.
//
// It contains concrete implementations of the domain storage interfaces:
//
//   - The long-term identity key, sealed under a passphrase in its own file
//     (IdentityFileStore).
//   - Conversations, opaque engine session state, invite targets and message
//     timelines in a single bbolt database (Store).
//   - A coalescing write-behind layer for conversation metadata and
//     messages (Writer), so frequent timeline churn costs one transaction
//     per flush interval.
//
// Records are CBOR encoded. All methods are safe for concurrent use.
// Derived group secrets are never stored; only encoded engine state is.
package store
