// Package group creates and joins group sessions and routes inbound traffic
// to them.
//
// A group's identifier is the hash of its canonical metadata, and the
// metadata itself rides inside the engine state as a context extension, so
// joiners recover name, admins and relays from the session they join.
package group
