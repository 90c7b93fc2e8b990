// Package session owns group sessions: the in-memory cache of session
// handles, their durable engine state, and the per-conversation lock that
// serializes state-changing work.
//
// Only encoded engine state reaches disk. The derived message secret is
// recomputed from that state whenever a session is loaded.
package session
