// Package registry implements the institute validator program: the singleton
// membership registry and the unanimous admission elections that grow it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accredit/pkg/codec"
	"accredit/pkg/events"
	"accredit/pkg/ledger"
	"accredit/pkg/metrics"
	"accredit/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	RegistrySeed = "institute_registry"
	ElectionSeed = "voting_state"

	DefaultRegistrySlack = 50
	DefaultMaxVoters     = 50
)

// DefaultProgramID is the program id the validator runs under unless
// configured otherwise.
var DefaultProgramID = types.NamedProgram("institute-validator")

var (
	ErrAlreadyInitialized = errors.New("registry already initialized")
	ErrNotInitialized     = errors.New("registry not initialized")
	ErrDuplicateMember    = errors.New("institute is already a member")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrUnauthorized       = errors.New("caller is not the registry authority")
	ErrNotFound           = errors.New("not found")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrUntrustedAccount   = errors.New("account is not owned by the validator program")

	ErrAlreadyMember    = errors.New("candidate is already a member")
	ErrNoEligibleVoters = errors.New("registry has no eligible voters")
	ErrElectionExists   = errors.New("election already exists for candidate")
	ErrVotingClosed     = errors.New("voting is closed")
	ErrVoterNotEligible = errors.New("voter is not a registry member")
	ErrDuplicateVote    = errors.New("voter has already voted")
)

// Validator owns the registry account and every election account
type Validator struct {
	program types.ProgramID
	store   ledger.Store
	logger  *zap.Logger
	clock   ledger.Clock
	emitter events.Emitter
	metrics *metrics.Metrics

	registrySlack uint32
	maxVoters     uint32

	registryAddr types.Address
}

type Option func(*Validator)

func WithProgramID(id types.ProgramID) Option {
	return func(v *Validator) { v.program = id }
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

func WithClock(clock ledger.Clock) Option {
	return func(v *Validator) { v.clock = clock }
}

func WithEmitter(emitter events.Emitter) Option {
	return func(v *Validator) { v.emitter = emitter }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithRegistrySlack sets how many admissions the registry can absorb beyond
// its initial member count.
func WithRegistrySlack(n uint32) Option {
	return func(v *Validator) { v.registrySlack = n }
}

func WithMaxVoters(n uint32) Option {
	return func(v *Validator) { v.maxVoters = n }
}

func NewValidator(store ledger.Store, opts ...Option) *Validator {
	v := &Validator{
		program:       DefaultProgramID,
		store:         store,
		registrySlack: DefaultRegistrySlack,
		maxVoters:     DefaultMaxVoters,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	if v.clock == nil {
		v.clock = ledger.SystemClock()
	}
	if v.emitter == nil {
		v.emitter = events.Nop()
	}
	if v.metrics == nil {
		v.metrics = metrics.New(prometheus.NewRegistry())
	}
	v.registryAddr = RegistryAddress(v.program)
	return v
}

// RegistryAddress is the canonical registry location for a validator program
func RegistryAddress(program types.ProgramID) types.Address {
	return ledger.DeriveAddress(program, []byte(RegistrySeed))
}

func (v *Validator) ProgramID() types.ProgramID { return v.program }

func (v *Validator) RegistryAddress() types.Address { return v.registryAddr }

// Initialize creates the registry with its founding members. It can succeed
// only once per program; later calls collide with the existing account.
func (v *Validator) Initialize(ctx context.Context, authority types.Identity, initialMembers []types.Identity) (addr types.Address, err error) {
	defer func(start time.Time) { v.metrics.Observe("initialize", start, err) }(time.Now())

	if authority.IsZero() {
		return addr, fmt.Errorf("%w: authority must be set", ErrInvalidIdentity)
	}
	seen := make(map[types.Identity]struct{}, len(initialMembers))
	members := make([]types.Identity, 0, len(initialMembers))
	for _, m := range initialMembers {
		if m.IsZero() {
			return addr, fmt.Errorf("%w: zero member identity", ErrInvalidIdentity)
		}
		if _, dup := seen[m]; dup {
			return addr, fmt.Errorf("%w: %s", ErrDuplicateMember, m)
		}
		seen[m] = struct{}{}
		members = append(members, m)
	}

	reg := &types.Registry{
		Members:   members,
		Authority: authority,
		Capacity:  uint32(len(members)) + v.registrySlack,
	}
	err = v.store.Update(ctx, func(txn ledger.Txn) error {
		return txn.Create(v.registryAddr, v.program, codec.EncodeRegistry(reg))
	})
	if errors.Is(err, ledger.ErrAccountExists) {
		return addr, fmt.Errorf("%w: %w", ErrAlreadyInitialized, err)
	}
	if err != nil {
		return addr, fmt.Errorf("failed to initialize registry: %w", err)
	}

	v.metrics.RegistryMembers.Set(float64(len(members)))
	v.logger.Info("Registry initialized",
		zap.String("address", v.registryAddr.String()),
		zap.String("authority", authority.Short()),
		zap.Int("members", len(members)))
	v.emit(ctx, events.Event{
		Type:        events.RegistryInitialized,
		Timestamp:   v.clock.Now(),
		Address:     v.registryAddr,
		Actor:       authority,
		MemberCount: uint32(len(members)),
	})
	return v.registryAddr, nil
}

// Registry returns a copy of the current registry
func (v *Validator) Registry(ctx context.Context) (*types.Registry, error) {
	var reg *types.Registry
	err := v.store.View(ctx, func(txn ledger.Txn) error {
		var err error
		reg, err = v.loadRegistry(txn)
		return err
	})
	return reg, err
}

func (v *Validator) IsMember(ctx context.Context, id types.Identity) (bool, error) {
	reg, err := v.Registry(ctx)
	if err != nil {
		return false, err
	}
	return reg.IsMember(id), nil
}

// Remove expels an institute without a vote. Only the registry authority may
// call it.
func (v *Validator) Remove(ctx context.Context, caller, id types.Identity) (err error) {
	defer func(start time.Time) { v.metrics.Observe("remove", start, err) }(time.Now())

	var remaining int
	err = v.store.Update(ctx, func(txn ledger.Txn) error {
		reg, err := v.loadRegistry(txn)
		if err != nil {
			return err
		}
		if caller != reg.Authority {
			return ErrUnauthorized
		}
		if !reg.RemoveMember(id) {
			return fmt.Errorf("%w: institute %s is not a member", ErrNotFound, id)
		}
		remaining = len(reg.Members)
		return txn.Put(v.registryAddr, v.program, codec.EncodeRegistry(reg))
	})
	if err != nil {
		return err
	}

	v.metrics.InstitutesRemoved.Inc()
	v.metrics.RegistryMembers.Set(float64(remaining))
	v.logger.Warn("Institute removed by authority",
		zap.String("institute", id.Short()),
		zap.String("authority", caller.Short()),
		zap.Int("remaining", remaining))
	v.emit(ctx, events.Event{
		Type:        events.InstituteRemoved,
		Timestamp:   v.clock.Now(),
		Address:     v.registryAddr,
		Subject:     id,
		Actor:       caller,
		MemberCount: uint32(remaining),
	})
	return nil
}

// admit appends candidate to the registry inside txn
func (v *Validator) admit(txn ledger.Txn, candidate types.Identity) (int, error) {
	reg, err := v.loadRegistry(txn)
	if err != nil {
		return 0, err
	}
	if reg.IsMember(candidate) {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateMember, candidate)
	}
	if uint32(len(reg.Members)) >= reg.Capacity {
		return 0, fmt.Errorf("%w: registry holds at most %d members", ErrCapacityExceeded, reg.Capacity)
	}
	reg.Members = append(reg.Members, candidate)
	if err := txn.Put(v.registryAddr, v.program, codec.EncodeRegistry(reg)); err != nil {
		return 0, err
	}
	return len(reg.Members), nil
}

func (v *Validator) loadRegistry(txn ledger.Txn) (*types.Registry, error) {
	acct, err := txn.Get(v.registryAddr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	if acct.Owner != v.program {
		return nil, ErrUntrustedAccount
	}
	return codec.DecodeRegistry(acct.Data)
}

// emit publishes ev after its change has committed, even if the caller has
// since gone away. A failure is logged and counted but never reported to the
// caller.
func (v *Validator) emit(ctx context.Context, ev events.Event) {
	if err := v.emitter.Emit(context.WithoutCancel(ctx), ev); err != nil {
		v.metrics.EventEmitFailures.Inc()
		v.logger.Error("Failed to publish event",
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}
