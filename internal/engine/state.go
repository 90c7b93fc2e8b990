package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"

	"huddle/internal/domain"
)

const (
	stateVersion = 1
	secretSize   = 32
)

var (
	ccbor cbor.EncMode
	dcbor cbor.DecMode
)

func init() {
	var err error
	ccbor, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dcbor, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
}

var errForeignState = errors.New("engine: state was not produced by this engine")

// groupState is the engine's in-memory and encoded group state.
type groupState struct {
	Version     int                `cbor:"1,keyasint"`
	GroupID     domain.GroupID     `cbor:"2,keyasint"`
	Epoch       uint64             `cbor:"3,keyasint"`
	Suite       domain.CipherSuite `cbor:"4,keyasint"`
	Members     []domain.Identity  `cbor:"5,keyasint"`
	Extensions  []domain.Extension `cbor:"6,keyasint,omitempty"`
	EpochSecret []byte             `cbor:"7,keyasint"`
}

func (s *groupState) clone() *groupState {
	c := *s
	c.Members = slices.Clone(s.Members)
	c.Extensions = slices.Clone(s.Extensions)
	c.EpochSecret = slices.Clone(s.EpochSecret)
	return &c
}

func (s *groupState) validate() error {
	switch {
	case s.Version != stateVersion:
		return fmt.Errorf("engine: unsupported state version %d", s.Version)
	case s.GroupID.IsZero():
		return errors.New("engine: state has no group id")
	case len(s.EpochSecret) != secretSize:
		return errors.New("engine: state has malformed epoch secret")
	case len(s.Members) == 0:
		return errors.New("engine: state has no members")
	case !slices.IsSorted(s.Members):
		return errors.New("engine: state members are not sorted")
	}
	return nil
}

func asState(st domain.GroupState) (*groupState, error) {
	s, ok := st.(*groupState)
	if !ok || s == nil {
		return nil, errForeignState
	}
	return s, nil
}

func encodeState(s *groupState) ([]byte, error) {
	return ccbor.Marshal(s)
}

func decodeState(b []byte) (*groupState, error) {
	var s groupState
	if err := dcbor.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("engine: decode state: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
