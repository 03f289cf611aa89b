package certificate

import (
	"context"
	"testing"

	"accredit/pkg/codec"
	"accredit/pkg/ledger"
	"accredit/pkg/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	unknown := types.HashContent([]byte("never issued"))

	// Written behind the ledger's back, so only a load can learn of it.
	imported := types.HashContent([]byte("imported"))
	require.NoError(t, f.store.Update(ctx, func(txn ledger.Txn) error {
		return txn.Create(f.ledger.CertificateAddress(imported), f.ledger.ProgramID(),
			codec.EncodeCertificate(&types.Certificate{
				ContentHash: imported,
				Issuer:      f.members[0],
				IsValid:     true,
				IssuedAt:    f.clock.now,
			}))
	}))

	t.Run("UnloadedFilterDefersToStore", func(t *testing.T) {
		assert.True(t, f.ledger.MightExist(unknown))
		_, err := f.ledger.VerifyHash(ctx, unknown)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.ledger.VerifyHash(ctx, imported)
		assert.NoError(t, err)
		assert.Zero(t, testutil.ToFloat64(f.metrics.FilterRejections))
	})

	require.NoError(t, f.ledger.LoadFilter(ctx))

	t.Run("LoadedFilterRejectsUnknown", func(t *testing.T) {
		assert.False(t, f.ledger.MightExist(unknown))
		_, err := f.ledger.VerifyHash(ctx, unknown)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FilterRejections))
	})

	t.Run("LoadPicksUpStoredCertificates", func(t *testing.T) {
		assert.True(t, f.ledger.MightExist(imported))
		cert, err := f.ledger.VerifyHash(ctx, imported)
		require.NoError(t, err)
		assert.True(t, cert.IsValid)
	})

	t.Run("WritesFeedFilter", func(t *testing.T) {
		h1 := types.HashContent([]byte("v1"))
		h2 := types.HashContent([]byte("v2"))
		_, err := f.ledger.Issue(ctx, f.issue(f.members[0], h1))
		require.NoError(t, err)
		_, err = f.ledger.Correct(ctx, f.correct(f.members[0], h1, h2))
		require.NoError(t, err)

		for _, h := range []types.Hash{h1, h2} {
			assert.True(t, f.ledger.MightExist(h))
			_, err := f.ledger.VerifyHash(ctx, h)
			assert.NoError(t, err)
		}
	})

	t.Run("ReloadKeepsEverything", func(t *testing.T) {
		require.NoError(t, f.ledger.LoadFilter(ctx))
		assert.True(t, f.ledger.MightExist(imported))
		assert.True(t, f.ledger.MightExist(types.HashContent([]byte("v2"))))
	})
}

func TestSmallFilterStillExact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	small := NewLedger(f.store,
		WithTrustedValidator(f.validator.ProgramID()),
		WithClock(f.clock),
		WithFilterSize(64, 2))
	require.NoError(t, small.LoadFilter(ctx))

	// A saturated filter answers "maybe" and the store decides.
	for i := 0; i < 32; i++ {
		_, err := small.Issue(ctx, f.issue(f.members[0], types.HashContent([]byte{byte(i)})))
		require.NoError(t, err)
	}
	for i := 0; i < 32; i++ {
		_, err := small.VerifyHash(ctx, types.HashContent([]byte{byte(i)}))
		require.NoError(t, err)
	}
	_, err := small.VerifyHash(ctx, types.HashContent([]byte("absent")))
	assert.ErrorIs(t, err, ErrNotFound)
}
