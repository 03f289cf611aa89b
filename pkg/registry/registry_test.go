package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"accredit/pkg/codec"
	"accredit/pkg/events"
	"accredit/pkg/ledger"
	"accredit/pkg/metrics"
	"accredit/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock advances by one second on every reading
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newIdentity(t *testing.T) types.Identity {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	id, err := types.IdentityFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

type fixture struct {
	store     *ledger.BadgerStore
	validator *Validator
	recorder  *events.Recorder
	metrics   *metrics.Metrics
	authority types.Identity
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := ledger.OpenBadger()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:     store,
		recorder:  events.NewRecorder(),
		metrics:   metrics.New(prometheus.NewRegistry()),
		authority: newIdentity(t),
	}
	opts = append([]Option{
		WithEmitter(f.recorder),
		WithMetrics(f.metrics),
		WithClock(&stepClock{now: time.Unix(1700000000, 0).UTC()}),
	}, opts...)
	f.validator = NewValidator(store, opts...)
	return f
}

func (f *fixture) init(t *testing.T, members ...types.Identity) {
	t.Helper()
	_, err := f.validator.Initialize(context.Background(), f.authority, members)
	require.NoError(t, err)
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesRegistry", func(t *testing.T) {
		f := newFixture(t)
		a, b := newIdentity(t), newIdentity(t)

		addr, err := f.validator.Initialize(ctx, f.authority, []types.Identity{a, b})
		require.NoError(t, err)
		assert.Equal(t, RegistryAddress(DefaultProgramID), addr)

		reg, err := f.validator.Registry(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.Identity{a, b}, reg.Members)
		assert.Equal(t, f.authority, reg.Authority)
		assert.Equal(t, uint32(2+DefaultRegistrySlack), reg.Capacity)

		assert.Equal(t, []events.Type{events.RegistryInitialized}, f.recorder.Types())
		assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.RegistryMembers))
	})

	t.Run("SecondCallCollides", func(t *testing.T) {
		f := newFixture(t)
		f.init(t, newIdentity(t))

		_, err := f.validator.Initialize(ctx, newIdentity(t), nil)
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
		assert.ErrorIs(t, err, ledger.ErrAccountExists)
	})

	t.Run("RejectsDuplicates", func(t *testing.T) {
		f := newFixture(t)
		a := newIdentity(t)
		_, err := f.validator.Initialize(ctx, f.authority, []types.Identity{a, a})
		assert.ErrorIs(t, err, ErrDuplicateMember)

		_, err = f.validator.Registry(ctx)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("RejectsZeroAuthority", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.validator.Initialize(ctx, types.ZeroIdentity, nil)
		assert.ErrorIs(t, err, ErrInvalidIdentity)
	})

	t.Run("ProgramsAreIndependent", func(t *testing.T) {
		f := newFixture(t)
		f.init(t, newIdentity(t))

		other := NewValidator(f.store, WithProgramID(types.NamedProgram("other-validator")))
		_, err := other.Initialize(ctx, f.authority, nil)
		require.NoError(t, err)
		assert.NotEqual(t, f.validator.RegistryAddress(), other.RegistryAddress())
	})
}

func TestIsMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.validator.IsMember(ctx, newIdentity(t))
	assert.ErrorIs(t, err, ErrNotInitialized)

	a := newIdentity(t)
	f.init(t, a)

	ok, err := f.validator.IsMember(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.validator.IsMember(ctx, newIdentity(t))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	a, b := newIdentity(t), newIdentity(t)

	tests := []struct {
		name    string
		caller  func(f *fixture) types.Identity
		target  types.Identity
		wantErr error
	}{
		{"AuthorityRemoves", func(f *fixture) types.Identity { return f.authority }, a, nil},
		{"MemberCannotRemove", func(*fixture) types.Identity { return b }, a, ErrUnauthorized},
		{"UnknownInstitute", func(f *fixture) types.Identity { return f.authority }, newIdentity(t), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.init(t, a, b)

			err := f.validator.Remove(ctx, tt.caller(f), tt.target)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				reg, err := f.validator.Registry(ctx)
				require.NoError(t, err)
				assert.Len(t, reg.Members, 2)
				return
			}
			require.NoError(t, err)
			reg, err := f.validator.Registry(ctx)
			require.NoError(t, err)
			assert.Equal(t, []types.Identity{b}, reg.Members)

			evs, err := f.recorder.List(ctx, events.Filter{Type: events.InstituteRemoved})
			require.NoError(t, err)
			require.Len(t, evs, 1)
			assert.Equal(t, a, evs[0].Subject)
			assert.Equal(t, uint32(1), evs[0].MemberCount)
		})
	}
}

func TestRegistryOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// An account at the registry address owned by someone else is not trusted.
	foreign := types.NamedProgram("squatter")
	require.NoError(t, f.store.Update(ctx, func(txn ledger.Txn) error {
		return txn.Create(f.validator.RegistryAddress(), foreign,
			codec.EncodeRegistry(&types.Registry{Authority: f.authority}))
	}))

	_, err := f.validator.Registry(ctx)
	assert.ErrorIs(t, err, ErrUntrustedAccount)
}

type brokenEmitter struct{}

func (brokenEmitter) Emit(context.Context, events.Event) error { return errors.New("sink down") }

func TestEmitFailureDoesNotUndo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithEmitter(brokenEmitter{}))

	a := newIdentity(t)
	_, err := f.validator.Initialize(ctx, f.authority, []types.Identity{a})
	require.NoError(t, err)

	ok, err := f.validator.IsMember(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventEmitFailures))
}

// hangupStore cancels the caller's context as soon as a write commits
type hangupStore struct {
	ledger.Store
	cancel context.CancelFunc
}

func (s *hangupStore) Update(ctx context.Context, fn func(ledger.Txn) error) error {
	err := s.Store.Update(ctx, fn)
	s.cancel()
	return err
}

func TestEventsOutliveCaller(t *testing.T) {
	store, err := ledger.OpenBadger()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audit, err := events.OpenAuditLog("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v := NewValidator(&hangupStore{Store: store, cancel: cancel}, WithEmitter(audit))

	authority, member := newIdentity(t), newIdentity(t)
	_, err = v.Initialize(ctx, authority, []types.Identity{member})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	recorded, err := audit.List(context.Background(), events.Filter{Type: events.RegistryInitialized})
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, authority, recorded[0].Actor)
}
