package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"accredit/pkg/types"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

const (
	DefaultBlockCacheSize   = 64 << 20
	DefaultValueLogFileSize = 256 << 20
	DefaultGCInterval       = 5 * time.Minute
)

// Accounts are stored under "acct/" + address with the value laid out as
// owner (32 bytes) followed by the account data.
var accountPrefix = []byte("acct/")

// BadgerStore keeps accounts in badger. With no data directory it runs fully
// in memory.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger

	dataDir          string
	blockCacheSize   int64
	valueLogFileSize int64
	gcInterval       time.Duration

	// writeMu serializes Update calls so that operations touching the same
	// account commit in submission order.
	writeMu sync.Mutex

	gcTicker *time.Ticker
	gcStop   chan struct{}
	gcWg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

type BadgerOption func(*BadgerStore)

func WithDataDir(dir string) BadgerOption {
	return func(s *BadgerStore) { s.dataDir = dir }
}

func WithLogger(logger *zap.Logger) BadgerOption {
	return func(s *BadgerStore) { s.logger = logger }
}

func WithBlockCacheSize(size int64) BadgerOption {
	return func(s *BadgerStore) { s.blockCacheSize = size }
}

func WithValueLogFileSize(size int64) BadgerOption {
	return func(s *BadgerStore) { s.valueLogFileSize = size }
}

// WithGCInterval sets how often the value log is garbage collected. Zero
// disables collection.
func WithGCInterval(d time.Duration) BadgerOption {
	return func(s *BadgerStore) { s.gcInterval = d }
}

// OpenBadger opens (or creates) the account store
func OpenBadger(opts ...BadgerOption) (*BadgerStore, error) {
	s := &BadgerStore{
		blockCacheSize:   DefaultBlockCacheSize,
		valueLogFileSize: DefaultValueLogFileSize,
		gcInterval:       DefaultGCInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	var badgerOpts badger.Options
	if s.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true).
			WithLogger(newBadgerLogger(s.logger))
		s.gcInterval = 0
	} else {
		if _, err := os.Stat(s.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(s.dataDir, "accounts")).
			WithLogger(newBadgerLogger(s.logger)).
			WithBlockCacheSize(s.blockCacheSize).
			WithValueLogFileSize(s.valueLogFileSize).
			WithCompression(options.Snappy)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open account store: %w", err)
	}
	s.db = db

	if s.gcInterval > 0 {
		s.gcTicker = time.NewTicker(s.gcInterval)
		s.gcStop = make(chan struct{})
		s.gcWg.Add(1)
		go s.valueLogGC()
	}

	s.logger.Info("Account store opened",
		zap.String("data_dir", s.dataDir),
		zap.Bool("in_memory", s.dataDir == ""))
	return s, nil
}

func (s *BadgerStore) valueLogGC() {
	defer s.gcWg.Done()
	for {
		select {
		case <-s.gcTicker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn("Value log GC failed", zap.Error(err))
					}
					break
				}
			}
		case <-s.gcStop:
			return
		}
	}
}

func (s *BadgerStore) Update(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := s.db.NewTransaction(true)
	defer tx.Discard()
	if err := fn(&badgerTxn{tx: tx, writable: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *BadgerStore) View(ctx context.Context, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(func(tx *badger.Txn) error {
		return fn(&badgerTxn{tx: tx})
	})
}

func (s *BadgerStore) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gcTicker != nil {
		s.gcTicker.Stop()
		close(s.gcStop)
		s.gcWg.Wait()
	}
	return s.db.Close()
}

type badgerTxn struct {
	tx       *badger.Txn
	writable bool
}

func accountKey(addr types.Address) []byte {
	key := make([]byte, 0, len(accountPrefix)+len(addr))
	key = append(key, accountPrefix...)
	return append(key, addr[:]...)
}

func decodeAccount(addr types.Address, val []byte) (*Account, error) {
	if len(val) < len(types.ProgramID{}) {
		return nil, fmt.Errorf("corrupt account %s: short value", addr)
	}
	acct := &Account{Address: addr}
	copy(acct.Owner[:], val[:32])
	acct.Data = append([]byte(nil), val[32:]...)
	return acct, nil
}

func encodeAccount(owner types.ProgramID, data []byte) []byte {
	val := make([]byte, 0, 32+len(data))
	val = append(val, owner[:]...)
	return append(val, data...)
}

func (t *badgerTxn) Get(addr types.Address) (*Account, error) {
	item, err := t.tx.Get(accountKey(addr))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeAccount(addr, val)
}

func (t *badgerTxn) Create(addr types.Address, owner types.ProgramID, data []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	_, err := t.tx.Get(accountKey(addr))
	switch {
	case err == nil:
		return ErrAccountExists
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	return t.tx.Set(accountKey(addr), encodeAccount(owner, data))
}

func (t *badgerTxn) Put(addr types.Address, owner types.ProgramID, data []byte) error {
	if !t.writable {
		return ErrReadOnly
	}
	existing, err := t.Get(addr)
	if err != nil {
		return err
	}
	if existing.Owner != owner {
		return ErrOwnerMismatch
	}
	return t.tx.Set(accountKey(addr), encodeAccount(owner, data))
}

func (t *badgerTxn) Scan(owner types.ProgramID, fn func(*Account) error) error {
	it := t.tx.NewIterator(badger.IteratorOptions{Prefix: accountPrefix, PrefetchValues: true, PrefetchSize: 64})
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(accountPrefix); it.Next() {
		item := it.Item()
		var addr types.Address
		copy(addr[:], item.Key()[len(accountPrefix):])
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		acct, err := decodeAccount(addr, val)
		if err != nil {
			return err
		}
		if acct.Owner != owner {
			continue
		}
		if err := fn(acct); err != nil {
			return err
		}
	}
	return nil
}
