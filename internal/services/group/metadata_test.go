package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"huddle/internal/domain"
)

func TestMetadataDefinesGroupID(t *testing.T) {
	meta := domain.GroupMetadata{
		Name:      "team",
		Admins:    []domain.Identity{"alice"},
		Relays:    []string{"memory://a"},
		CreatedAt: 1700000000,
		Nonce:     [16]byte{1, 2, 3},
	}
	raw, id, err := encodeMetadata(meta)
	require.NoError(t, err)

	again, id2, err := encodeMetadata(meta)
	require.NoError(t, err)
	require.Equal(t, raw, again)
	require.Equal(t, id, id2)

	meta.Nonce[0] = 9
	_, other, err := encodeMetadata(meta)
	require.NoError(t, err)
	require.NotEqual(t, id, other)

	got, err := metadataOf(id, []domain.Extension{
		{Type: 0x0001, Data: []byte("unrelated")},
		{Type: domain.ExtensionGroupMetadata, Data: raw},
	})
	require.NoError(t, err)
	require.Equal(t, "team", got.Name)
	require.Equal(t, []domain.Identity{"alice"}, got.Admins)
}

func TestMetadataRejectsMismatch(t *testing.T) {
	raw, id, err := encodeMetadata(domain.GroupMetadata{Name: "team"})
	require.NoError(t, err)

	_, err = metadataOf(domain.GroupID{1}, []domain.Extension{{Type: domain.ExtensionGroupMetadata, Data: raw}})
	require.ErrorIs(t, err, errMetadataID)

	_, err = metadataOf(id, nil)
	require.ErrorIs(t, err, errNoMetadata)
}
