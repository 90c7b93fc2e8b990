// Package commands defines the huddle CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init                 Create the local identity
//   - whoami               Print the identity and its fingerprint
//   - invite publish       Publish a fresh invite target
//   - invite list          List this device's invite targets
//   - invite retire <id>   Withdraw an invite target
//   - group create <name>  Create a group and invite identities
//   - group add <id> ...   Add identities to a group
//   - group leave <id>     Forget a group on this device
//   - group list           List known groups
//   - history <id>         Print a group's timeline
//   - send <id> <message>  Send a message to a group
//   - listen               Join groups from Welcomes and print messages
//
// # Implementation
//
// The root command loads the configuration and builds the dependency graph
// (stores, transport, engine) before any subcommand runs. Subcommands that
// act for the identity unlock it with the passphrase and get the services
// from app.App.
package commands
