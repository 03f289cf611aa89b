package certificate

import (
	"context"
	"sync"

	"accredit/pkg/codec"
	"accredit/pkg/ledger"
	"accredit/pkg/types"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"
)

const (
	// DefaultFilterBits sizes the issued-hash filter at 1 MiB
	DefaultFilterBits   = 8 << 20
	DefaultFilterHashes = 3
)

// hashFilter remembers every content hash that has ever been written. It
// answers "definitely never issued" without touching the store. Certificates
// are never deleted, so entries never need removing.
type hashFilter struct {
	mu     sync.RWMutex
	bits   *bloom.BloomFilter
	loaded bool
}

func newHashFilter(bits, hashes uint) *hashFilter {
	return &hashFilter{bits: bloom.New(bits, hashes)}
}

func (f *hashFilter) add(hash types.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bits.Add(hash[:])
}

// absent reports whether hash was definitely never issued. Until the filter
// has been loaded from the store it knows nothing and never answers true.
func (f *hashFilter) absent(hash types.Hash) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loaded && !f.bits.Test(hash[:])
}

func (f *hashFilter) reset(hashes []types.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bits.ClearAll()
	for _, h := range hashes {
		f.bits.Add(h[:])
	}
	f.loaded = true
}

func (f *hashFilter) estimate() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bits.ApproximatedSize()
}

// LoadFilter rebuilds the issued-hash filter from every stored certificate.
// VerifyHash only consults the filter once it has been loaded.
func (l *Ledger) LoadFilter(ctx context.Context) error {
	var hashes []types.Hash
	err := l.store.View(ctx, func(txn ledger.Txn) error {
		return txn.Scan(l.program, func(acct *ledger.Account) error {
			cert, err := codec.DecodeCertificate(acct.Data)
			if err != nil {
				l.logger.Warn("Skipping unreadable certificate",
					zap.String("address", acct.Address.String()),
					zap.Error(err))
				return nil
			}
			hashes = append(hashes, cert.ContentHash)
			return nil
		})
	})
	if err != nil {
		return err
	}
	l.filter.reset(hashes)
	l.logger.Info("Certificate filter loaded",
		zap.Int("certificates", len(hashes)),
		zap.Uint32("estimated", l.filter.estimate()))
	return nil
}

// MightExist reports whether a certificate for hash may have been issued. A
// false answer is definite once the filter is loaded.
func (l *Ledger) MightExist(hash types.Hash) bool {
	return !l.filter.absent(hash)
}
