package codec

import (
	"testing"
	"time"

	"accredit/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func id(b byte) types.Identity {
	var i types.Identity
	i[0] = b
	i[31] = b
	return i
}

func TestRegistryLayout(t *testing.T) {
	reg := &types.Registry{
		Members:   []types.Identity{id(1), id(2), id(3)},
		Authority: id(9),
		Capacity:  53,
	}
	data := EncodeRegistry(reg)

	kind, ok := KindOf(data)
	require.True(t, ok)
	assert.Equal(t, KindRegistry, kind)

	got, err := DecodeRegistry(data)
	require.NoError(t, err)
	assert.Equal(t, reg, got)
}

func TestElectionLayout(t *testing.T) {
	created := time.Unix(1700000000, 0).UTC()

	t.Run("Active", func(t *testing.T) {
		e := &types.Election{
			Candidate:          id(4),
			VotesFor:           []types.Identity{id(1)},
			EligibleVoterCount: 2,
			Status:             types.StatusActive,
			CreatedAt:          created,
		}
		got, err := DecodeElection(EncodeElection(e))
		require.NoError(t, err)
		assert.Equal(t, e, got)
		assert.Nil(t, got.ConcludedAt)
	})

	t.Run("Concluded", func(t *testing.T) {
		concluded := created.Add(time.Hour)
		e := &types.Election{
			Candidate:          id(4),
			VotesFor:           []types.Identity{id(1)},
			VotesAgainst:       []types.Identity{id(2)},
			EligibleVoterCount: 2,
			Status:             types.StatusRejected,
			CreatedAt:          created,
			ConcludedAt:        &concluded,
		}
		got, err := DecodeElection(EncodeElection(e))
		require.NoError(t, err)
		assert.Equal(t, e, got)
	})
}

func TestCertificateLayout(t *testing.T) {
	issued := time.Unix(1700000000, 0).UTC()
	corrected := issued.Add(time.Minute)
	next := types.HashContent([]byte("v2"))

	c := &types.Certificate{
		ContentHash:  types.HashContent([]byte("v1")),
		Issuer:       id(1),
		IsValid:      false,
		IssuedAt:     issued,
		CorrectedAt:  &corrected,
		SupersededBy: &next,
	}
	got, err := DecodeCertificate(EncodeCertificate(c))
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestDecodeRejectsForeignData(t *testing.T) {
	reg := EncodeRegistry(&types.Registry{Members: []types.Identity{id(1)}, Capacity: 51})
	cert := EncodeCertificate(&types.Certificate{ContentHash: types.HashContent([]byte("x")), Issuer: id(1), IsValid: true})

	tests := []struct {
		name    string
		decode  func([]byte) error
		data    []byte
		wantErr error
	}{
		{"registry as election", func(b []byte) error { _, err := DecodeElection(b); return err }, reg, ErrDiscriminator},
		{"certificate as registry", func(b []byte) error { _, err := DecodeRegistry(b); return err }, cert, ErrDiscriminator},
		{"too short", func(b []byte) error { _, err := DecodeRegistry(b); return err }, []byte{1, 2, 3}, ErrDiscriminator},
		{"truncated", func(b []byte) error { _, err := DecodeRegistry(b); return err }, reg[:len(reg)-20], ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.decode(tt.data), tt.wantErr)
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	data := EncodeRegistry(&types.Registry{Members: []types.Identity{id(1)}, Authority: id(2), Capacity: 51})
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "future")

	got, err := DecodeRegistry(data)
	require.NoError(t, err)
	assert.Equal(t, []types.Identity{id(1)}, got.Members)
	assert.Equal(t, uint32(51), got.Capacity)
}
