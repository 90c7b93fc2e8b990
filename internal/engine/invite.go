package engine

import (
	"errors"
	"fmt"
	"slices"

	"huddle/internal/crypto"
	"huddle/internal/domain"
)

const bundleVersion = 1

var (
	errBadBundle     = errors.New("engine: malformed invite target bundle")
	errBadPrivate    = errors.New("engine: malformed invite target private material")
	errUnsupportedCS = errors.New("engine: unsupported cipher suite")
)

// SuiteDefault is the only cipher suite the reference engine implements.
const SuiteDefault domain.CipherSuite = 0x0001

// bundle is the public half of an invite target.
type bundle struct {
	Version      int                `cbor:"1,keyasint"`
	Suite        domain.CipherSuite `cbor:"2,keyasint"`
	Identity     domain.Identity    `cbor:"3,keyasint"`
	InitKey      [32]byte           `cbor:"4,keyasint"`
	Capabilities []string           `cbor:"5,keyasint,omitempty"`
}

func checkSuite(s domain.CipherSuite) error {
	if s != SuiteDefault {
		return fmt.Errorf("%w: %s", errUnsupportedCS, s)
	}
	return nil
}

func parseBundle(raw []byte) (bundle, error) {
	var b bundle
	if err := dcbor.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("%w: %w", errBadBundle, err)
	}
	if b.Version != bundleVersion {
		return b, fmt.Errorf("%w: version %d", errBadBundle, b.Version)
	}
	if err := checkSuite(b.Suite); err != nil {
		return b, err
	}
	if _, err := domain.ParseIdentity(b.Identity); err != nil {
		return b, fmt.Errorf("%w: %w", errBadBundle, err)
	}
	if b.InitKey == ([32]byte{}) {
		return b, fmt.Errorf("%w: empty init key", errBadBundle)
	}
	return b, nil
}

// GenerateInviteTarget creates a fresh init key for identity. The private
// half is the raw X25519 scalar.
func (e *Engine) GenerateInviteTarget(
	identity domain.Identity,
	suite domain.CipherSuite,
	capabilities []string,
) (domain.GeneratedInviteTarget, error) {
	if err := checkSuite(suite); err != nil {
		return domain.GeneratedInviteTarget{}, err
	}
	if _, err := domain.ParseIdentity(identity); err != nil {
		return domain.GeneratedInviteTarget{}, err
	}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.GeneratedInviteTarget{}, err
	}
	raw, err := ccbor.Marshal(bundle{
		Version:      bundleVersion,
		Suite:        suite,
		Identity:     identity,
		InitKey:      pub,
		Capabilities: slices.Clone(capabilities),
	})
	if err != nil {
		return domain.GeneratedInviteTarget{}, err
	}
	return domain.GeneratedInviteTarget{Bundle: raw, Private: slices.Clone(priv[:])}, nil
}

// ParseInviteTarget validates a public bundle.
func (e *Engine) ParseInviteTarget(raw []byte) (domain.ParsedInviteTarget, error) {
	b, err := parseBundle(raw)
	if err != nil {
		return domain.ParsedInviteTarget{}, err
	}
	return domain.ParsedInviteTarget{
		Identity:     b.Identity,
		CipherSuite:  b.Suite,
		Capabilities: b.Capabilities,
		Raw:          slices.Clone(raw),
	}, nil
}
