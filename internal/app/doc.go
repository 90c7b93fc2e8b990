// Package app wires application dependencies for the CLI.
//
// NewWire builds the stores, transport, engine and timeline from Config.
// Unlock opens the identity with its passphrase and builds the services
// that sign on its behalf, exposing them via the App struct.
package app
