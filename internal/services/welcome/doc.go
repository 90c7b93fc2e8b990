// Package welcome delivers group join material as sealed invitations and
// opens the ones addressed to this device.
package welcome
