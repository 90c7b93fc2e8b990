// Package invite publishes, resolves and retires invite targets.
//
// An invite target is a public announcement (kind 443) carrying a bundle
// that lets others add its owner to a group while the owner is offline. The
// private half never leaves this device and is looked up again when a
// Welcome names the target.
package invite
