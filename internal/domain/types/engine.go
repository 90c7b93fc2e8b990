package types

// GroupState is the engine's opaque in-memory group state. Callers hand it
// back to the engine and never look inside.
type GroupState any

// ExtensionGroupMetadata carries the cbor-encoded GroupMetadata inside the
// group context.
const ExtensionGroupMetadata uint16 = 0xF2EE

// Extension is an opaque group context extension.
type Extension struct {
	Type uint16 `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

// EngineGroup is returned when a session is created or joined.
//
//   - State: opaque state to pass back to the engine.
//   - Encoded: durable serialization of State.
//   - Secret: the derived message secret of the current epoch.
//   - GroupID: the identifier the engine bound the group to.
//   - Epoch: the current epoch number.
type EngineGroup struct {
	State   GroupState
	Encoded []byte
	Secret  []byte
	GroupID GroupID
	Epoch   uint64
}

// EngineCommit is returned by a membership change. Welcome is the join
// material for every invite target that was added; Commit moves existing
// members to the new epoch.
type EngineCommit struct {
	State   GroupState
	Encoded []byte
	Secret  []byte
	Welcome []byte
	Commit  []byte
	Epoch   uint64
}

// GeneratedInviteTarget is fresh invite material. Private never leaves the
// device.
type GeneratedInviteTarget struct {
	Bundle  []byte
	Private []byte
}

// ParsedInviteTarget is a validated public invite target bundle.
type ParsedInviteTarget struct {
	Identity     Identity
	CipherSuite  CipherSuite
	Capabilities []string
	Raw          []byte
}
