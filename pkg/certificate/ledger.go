// Package certificate implements the content-addressed certificate ledger.
// Every certificate lives at an address derived from its content hash, and
// only current members of a trusted institute registry may issue or correct
// one.
package certificate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"accredit/pkg/codec"
	"accredit/pkg/events"
	"accredit/pkg/ledger"
	"accredit/pkg/metrics"
	"accredit/pkg/registry"
	"accredit/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const CertificateSeed = "certificate"

var DefaultProgramID = types.NamedProgram("certificate-system")

var (
	ErrUntrustedRegistry    = errors.New("untrusted registry")
	ErrIssuerNotRegistered  = errors.New("issuer is not a registered institute")
	ErrDuplicateCertificate = errors.New("certificate already exists")
	ErrNotFound             = errors.New("certificate not found")
	ErrUnauthorizedIssuer   = errors.New("only the original issuer may correct a certificate")
	ErrHashMismatch         = errors.New("stored hash does not match")
	ErrAlreadyInvalid       = errors.New("certificate already invalidated")
	ErrInvalidHash          = errors.New("invalid content hash")
)

// IssueRequest names the certificate to create and the registry that vouches
// for its issuer.
type IssueRequest struct {
	ContentHash      types.Hash
	Issuer           types.Identity
	RegistryAddress  types.Address
	ValidatorProgram types.ProgramID
}

type CorrectRequest struct {
	OldHash          types.Hash
	NewHash          types.Hash
	Issuer           types.Identity
	RegistryAddress  types.Address
	ValidatorProgram types.ProgramID
}

// Ledger owns every certificate account
type Ledger struct {
	program  types.ProgramID
	verifier registryVerifier
	store    ledger.Store
	logger   *zap.Logger
	clock    ledger.Clock
	emitter  events.Emitter
	metrics  *metrics.Metrics
	filter   *hashFilter

	filterBits, filterHashes uint
}

type Option func(*Ledger)

func WithProgramID(id types.ProgramID) Option {
	return func(l *Ledger) { l.program = id }
}

// WithTrustedValidator sets the only validator program whose registry is
// accepted.
func WithTrustedValidator(id types.ProgramID) Option {
	return func(l *Ledger) { l.verifier.trusted = id }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(clock ledger.Clock) Option {
	return func(l *Ledger) { l.clock = clock }
}

func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) { l.emitter = emitter }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithFilterSize sizes the issued-hash filter in bits and hash functions
func WithFilterSize(bits, hashes uint) Option {
	return func(l *Ledger) {
		l.filterBits, l.filterHashes = bits, hashes
	}
}

func NewLedger(store ledger.Store, opts ...Option) *Ledger {
	l := &Ledger{
		program:      DefaultProgramID,
		verifier:     registryVerifier{trusted: registry.DefaultProgramID},
		store:        store,
		filterBits:   DefaultFilterBits,
		filterHashes: DefaultFilterHashes,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.clock == nil {
		l.clock = ledger.SystemClock()
	}
	if l.emitter == nil {
		l.emitter = events.Nop()
	}
	if l.metrics == nil {
		l.metrics = metrics.New(prometheus.NewRegistry())
	}
	l.filter = newHashFilter(l.filterBits, l.filterHashes)
	return l
}

// CertificateAddress is where the certificate for hash lives under program
func CertificateAddress(program types.ProgramID, hash types.Hash) types.Address {
	return ledger.DeriveAddress(program, []byte(CertificateSeed), hash[:])
}

func (l *Ledger) CertificateAddress(hash types.Hash) types.Address {
	return CertificateAddress(l.program, hash)
}

func (l *Ledger) ProgramID() types.ProgramID { return l.program }

func (l *Ledger) TrustedValidator() types.ProgramID { return l.verifier.trusted }

// Issue records a new valid certificate for req.ContentHash
func (l *Ledger) Issue(ctx context.Context, req IssueRequest) (addr types.Address, err error) {
	defer func(start time.Time) { l.metrics.Observe("issue", start, err) }(time.Now())

	if req.ContentHash == (types.Hash{}) {
		return addr, ErrInvalidHash
	}
	addr = l.CertificateAddress(req.ContentHash)
	now := l.clock.Now()

	err = l.store.Update(ctx, func(txn ledger.Txn) error {
		if err := l.checkIssuer(txn, req.Issuer, req.RegistryAddress, req.ValidatorProgram); err != nil {
			return err
		}
		return l.create(txn, addr, &types.Certificate{
			ContentHash: req.ContentHash,
			Issuer:      req.Issuer,
			IsValid:     true,
			IssuedAt:    now,
		})
	})
	if err != nil {
		l.noteTrustFailure(err, req.Issuer)
		return types.Address{}, err
	}

	l.metrics.CertificatesIssued.Inc()
	l.logger.Info("Certificate issued",
		zap.String("hash", req.ContentHash.String()),
		zap.String("issuer", req.Issuer.Short()))
	hash := req.ContentHash
	l.emit(ctx, events.Event{
		Type:        events.CertificateAdded,
		Timestamp:   now,
		Address:     addr,
		Actor:       req.Issuer,
		ContentHash: &hash,
	})
	return addr, nil
}

// Correct invalidates the certificate at req.OldHash and issues its
// replacement at req.NewHash in one transaction.
func (l *Ledger) Correct(ctx context.Context, req CorrectRequest) (addr types.Address, err error) {
	defer func(start time.Time) { l.metrics.Observe("correct", start, err) }(time.Now())

	if req.NewHash == (types.Hash{}) {
		return addr, ErrInvalidHash
	}
	oldAddr := l.CertificateAddress(req.OldHash)
	addr = l.CertificateAddress(req.NewHash)
	now := l.clock.Now()

	err = l.store.Update(ctx, func(txn ledger.Txn) error {
		old, err := l.load(txn, oldAddr)
		if err != nil {
			return err
		}
		if old.Issuer != req.Issuer {
			return ErrUnauthorizedIssuer
		}
		if old.ContentHash != req.OldHash {
			return fmt.Errorf("%w: account %s holds %s", ErrHashMismatch, oldAddr, old.ContentHash)
		}
		if err := l.checkIssuer(txn, req.Issuer, req.RegistryAddress, req.ValidatorProgram); err != nil {
			return err
		}
		if !old.IsValid {
			return ErrAlreadyInvalid
		}

		corrected := now
		next := req.NewHash
		old.IsValid = false
		old.CorrectedAt = &corrected
		old.SupersededBy = &next
		if err := txn.Put(oldAddr, l.program, codec.EncodeCertificate(old)); err != nil {
			return err
		}
		return l.create(txn, addr, &types.Certificate{
			ContentHash: req.NewHash,
			Issuer:      req.Issuer,
			IsValid:     true,
			IssuedAt:    now,
		})
	})
	if err != nil {
		l.noteTrustFailure(err, req.Issuer)
		return types.Address{}, err
	}

	l.metrics.CertificatesCorrected.Inc()
	l.logger.Info("Certificate corrected",
		zap.String("old_hash", req.OldHash.String()),
		zap.String("new_hash", req.NewHash.String()),
		zap.String("issuer", req.Issuer.Short()))
	oldHash, newHash := req.OldHash, req.NewHash
	l.emit(ctx, events.Event{
		Type:         events.CertificateCorrected,
		Timestamp:    now,
		Address:      addr,
		Actor:        req.Issuer,
		PreviousHash: &oldHash,
		ContentHash:  &newHash,
	})
	return addr, nil
}

// Verify returns the certificate stored at addr
func (l *Ledger) Verify(ctx context.Context, addr types.Address) (*types.CertificateSummary, error) {
	var summary types.CertificateSummary
	err := l.store.View(ctx, func(txn ledger.Txn) error {
		cert, err := l.load(txn, addr)
		if err != nil {
			return err
		}
		summary = cert.Summary(addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// VerifyHash looks up the certificate for hash. Hashes the filter has never
// seen are reported missing without reading the store.
func (l *Ledger) VerifyHash(ctx context.Context, hash types.Hash) (*types.CertificateSummary, error) {
	if l.filter.absent(hash) {
		l.metrics.FilterRejections.Inc()
		return nil, fmt.Errorf("%w: %s was never issued", ErrNotFound, hash)
	}
	return l.Verify(ctx, l.CertificateAddress(hash))
}

// Resolve follows corrections starting at hash. The returned chain begins
// with the certificate for hash and ends with the one currently in force.
func (l *Ledger) Resolve(ctx context.Context, hash types.Hash) ([]types.CertificateSummary, error) {
	var chain []types.CertificateSummary
	err := l.store.View(ctx, func(txn ledger.Txn) error {
		seen := make(map[types.Hash]struct{})
		next := &hash
		for next != nil {
			if _, loop := seen[*next]; loop {
				return fmt.Errorf("correction chain loops at %s", *next)
			}
			seen[*next] = struct{}{}

			addr := l.CertificateAddress(*next)
			cert, err := l.load(txn, addr)
			if err != nil {
				return err
			}
			chain = append(chain, cert.Summary(addr))
			next = cert.SupersededBy
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// ByIssuer lists every certificate issuer has written, oldest first
func (l *Ledger) ByIssuer(ctx context.Context, issuer types.Identity) ([]types.CertificateSummary, error) {
	var out []types.CertificateSummary
	err := l.store.View(ctx, func(txn ledger.Txn) error {
		return txn.Scan(l.program, func(acct *ledger.Account) error {
			cert, err := codec.DecodeCertificate(acct.Data)
			if err != nil {
				l.logger.Warn("Skipping unreadable certificate",
					zap.String("address", acct.Address.String()),
					zap.Error(err))
				return nil
			}
			if cert.Issuer == issuer {
				out = append(out, cert.Summary(acct.Address))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ContentHash.String() < out[j].ContentHash.String()
	})
	return out, nil
}

func (l *Ledger) checkIssuer(txn ledger.Txn, issuer types.Identity, registryAddr types.Address, validator types.ProgramID) error {
	reg, err := l.verifier.load(txn, registryAddr, validator)
	if err != nil {
		return err
	}
	if !reg.IsMember(issuer) {
		return fmt.Errorf("%w: %s", ErrIssuerNotRegistered, issuer)
	}
	return nil
}

// create writes cert at addr. The hash enters the filter before commit, so an
// aborted transaction leaves at worst a false positive.
func (l *Ledger) create(txn ledger.Txn, addr types.Address, cert *types.Certificate) error {
	err := txn.Create(addr, l.program, codec.EncodeCertificate(cert))
	if errors.Is(err, ledger.ErrAccountExists) {
		return fmt.Errorf("%w: %s: %w", ErrDuplicateCertificate, cert.ContentHash, err)
	}
	if err != nil {
		return err
	}
	l.filter.add(cert.ContentHash)
	return nil
}

func (l *Ledger) load(txn ledger.Txn, addr types.Address) (*types.Certificate, error) {
	acct, err := txn.Get(addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	if acct.Owner != l.program {
		return nil, fmt.Errorf("%w: %s is not a certificate account", ErrNotFound, addr)
	}
	return codec.DecodeCertificate(acct.Data)
}

func (l *Ledger) noteTrustFailure(err error, issuer types.Identity) {
	if !errors.Is(err, ErrUntrustedRegistry) {
		return
	}
	l.metrics.TrustFailures.Inc()
	l.logger.Warn("Rejected request with untrusted registry",
		zap.String("issuer", issuer.Short()),
		zap.Error(err))
}

func (l *Ledger) emit(ctx context.Context, ev events.Event) {
	if err := l.emitter.Emit(context.WithoutCancel(ctx), ev); err != nil {
		l.metrics.EventEmitFailures.Inc()
		l.logger.Error("Failed to publish event",
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}
