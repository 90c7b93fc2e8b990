package group

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"huddle/internal/domain"
)

var (
	ccbor cbor.EncMode
	dcbor cbor.DecMode

	errNoMetadata = errors.New("group: session carries no metadata")
	errMetadataID = errors.New("group: metadata does not hash to group id")
	errNotAMember = errors.New("group: welcome sender is not a member")
	errListening  = errors.New("group: already listening")
	errUnknownTgt = errors.New("group: welcome names an unknown invite target")
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

// encodeMetadata returns the canonical encoding of meta and the group id it
// defines.
func encodeMetadata(meta domain.GroupMetadata) ([]byte, domain.GroupID, error) {
	raw, err := ccbor.Marshal(meta)
	if err != nil {
		return nil, domain.GroupID{}, err
	}
	return raw, sha256.Sum256(raw), nil
}

// metadataOf finds the metadata extension and checks it against id.
func metadataOf(id domain.GroupID, exts []domain.Extension) (domain.GroupMetadata, error) {
	for _, ext := range exts {
		if ext.Type != domain.ExtensionGroupMetadata {
			continue
		}
		if sha256.Sum256(ext.Data) != id {
			return domain.GroupMetadata{}, errMetadataID
		}
		var meta domain.GroupMetadata
		if err := dcbor.Unmarshal(ext.Data, &meta); err != nil {
			return domain.GroupMetadata{}, fmt.Errorf("group: decode metadata: %w", err)
		}
		return meta, nil
	}
	return domain.GroupMetadata{}, errNoMetadata
}
