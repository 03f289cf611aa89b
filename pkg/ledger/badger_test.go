package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"accredit/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDeriveAddress(t *testing.T) {
	progA := types.NamedProgram("a")
	progB := types.NamedProgram("b")

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, DeriveAddress(progA, []byte("x")), DeriveAddress(progA, []byte("x")))
	})

	t.Run("ProgramScoped", func(t *testing.T) {
		assert.NotEqual(t, DeriveAddress(progA, []byte("x")), DeriveAddress(progB, []byte("x")))
	})

	t.Run("SeedBoundaries", func(t *testing.T) {
		assert.NotEqual(t,
			DeriveAddress(progA, []byte("ab"), []byte("c")),
			DeriveAddress(progA, []byte("a"), []byte("bc")))
	})
}

func TestCreateGetPut(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	owner := types.NamedProgram("owner")
	other := types.NamedProgram("other")
	addr := DeriveAddress(owner, []byte("acct"))

	require.NoError(t, store.Update(ctx, func(txn Txn) error {
		return txn.Create(addr, owner, []byte("v1"))
	}))

	t.Run("CreateCollision", func(t *testing.T) {
		err := store.Update(ctx, func(txn Txn) error {
			return txn.Create(addr, owner, []byte("v2"))
		})
		assert.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("ForeignOwnerCannotWrite", func(t *testing.T) {
		err := store.Update(ctx, func(txn Txn) error {
			return txn.Put(addr, other, []byte("evil"))
		})
		assert.ErrorIs(t, err, ErrOwnerMismatch)
	})

	t.Run("PutMissing", func(t *testing.T) {
		err := store.Update(ctx, func(txn Txn) error {
			return txn.Put(DeriveAddress(owner, []byte("missing")), owner, nil)
		})
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("OwnerWrites", func(t *testing.T) {
		require.NoError(t, store.Update(ctx, func(txn Txn) error {
			return txn.Put(addr, owner, []byte("v2"))
		}))
		require.NoError(t, store.View(ctx, func(txn Txn) error {
			acct, err := txn.Get(addr)
			require.NoError(t, err)
			assert.Equal(t, owner, acct.Owner)
			assert.Equal(t, []byte("v2"), acct.Data)
			return nil
		}))
	})

	t.Run("ViewIsReadOnly", func(t *testing.T) {
		err := store.View(ctx, func(txn Txn) error {
			return txn.Create(DeriveAddress(owner, []byte("ro")), owner, nil)
		})
		assert.ErrorIs(t, err, ErrReadOnly)
	})
}

func TestUpdateIsAtomic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	owner := types.NamedProgram("owner")
	first := DeriveAddress(owner, []byte("first"))
	second := DeriveAddress(owner, []byte("second"))
	boom := errors.New("boom")

	err := store.Update(ctx, func(txn Txn) error {
		if err := txn.Create(first, owner, []byte("1")); err != nil {
			return err
		}
		if err := txn.Create(second, owner, []byte("2")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.View(ctx, func(txn Txn) error {
		_, err := txn.Get(first)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		_, err = txn.Get(second)
		assert.ErrorIs(t, err, ErrAccountNotFound)
		return nil
	}))
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	owner := types.NamedProgram("owner")
	addr := DeriveAddress(owner, []byte("contended"))

	const workers = 16
	var wins, collisions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Update(ctx, func(txn Txn) error {
				return txn.Create(addr, owner, []byte("x"))
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAccountExists):
				collisions.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), collisions.Load())
}

func TestScanFiltersByOwner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mine := types.NamedProgram("mine")
	theirs := types.NamedProgram("theirs")

	require.NoError(t, store.Update(ctx, func(txn Txn) error {
		for _, seed := range []string{"a", "b", "c"} {
			if err := txn.Create(DeriveAddress(mine, []byte(seed)), mine, []byte(seed)); err != nil {
				return err
			}
		}
		return txn.Create(DeriveAddress(theirs, []byte("z")), theirs, []byte("z"))
	}))

	var seen []string
	require.NoError(t, store.View(ctx, func(txn Txn) error {
		return txn.Scan(mine, func(acct *Account) error {
			seen = append(seen, string(acct.Data))
			return nil
		})
	}))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestClosedStore(t *testing.T) {
	store, err := OpenBadger()
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	err = store.Update(context.Background(), func(Txn) error { return nil })
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestPersistentStore(t *testing.T) {
	dir := t.TempDir()
	owner := types.NamedProgram("owner")
	addr := DeriveAddress(owner, []byte("durable"))

	store, err := OpenBadger(WithDataDir(dir), WithGCInterval(0))
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), func(txn Txn) error {
		return txn.Create(addr, owner, []byte("kept"))
	}))
	require.NoError(t, store.Close())

	reopened, err := OpenBadger(WithDataDir(dir), WithGCInterval(0))
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.View(context.Background(), func(txn Txn) error {
		acct, err := txn.Get(addr)
		require.NoError(t, err)
		assert.Equal(t, []byte("kept"), acct.Data)
		return nil
	}))
}
