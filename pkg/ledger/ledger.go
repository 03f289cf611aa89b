// Package ledger is the shared storage substrate for the institute programs.
// Every account lives at an address derived purely from its owning program and
// a list of seeds, so a given key maps to at most one live account. Creating an
// account at an occupied address fails, which is the only mutual exclusion the
// programs rely on.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"accredit/pkg/types"
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrOwnerMismatch   = errors.New("account is owned by another program")
	ErrConflict        = errors.New("transaction conflict, resubmit")
	ErrReadOnly        = errors.New("write attempted in read-only transaction")
	ErrStoreClosed     = errors.New("store is closed")
)

const addressDomain = "accredit/address/v1"

// DeriveAddress computes the canonical address for program and seeds. Seeds are
// length-prefixed so ("ab","c") and ("a","bc") never collide.
func DeriveAddress(program types.ProgramID, seeds ...[]byte) types.Address {
	h := sha256.New()
	h.Write([]byte(addressDomain))
	h.Write(program[:])
	var lenBuf [4]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(seed)))
		h.Write(lenBuf[:])
		h.Write(seed)
	}
	var addr types.Address
	copy(addr[:], h.Sum(nil))
	return addr
}

type Account struct {
	Address types.Address
	Owner   types.ProgramID
	Data    []byte
}

// Txn is a single serializable unit of work. Nothing written through a Txn is
// visible to others unless the enclosing Update returns nil.
type Txn interface {
	Get(addr types.Address) (*Account, error)
	// Create allocates a new account. It fails with ErrAccountExists if the
	// address is occupied.
	Create(addr types.Address, owner types.ProgramID, data []byte) error
	// Put replaces the data of an existing account. Only the recorded owner
	// may write.
	Put(addr types.Address, owner types.ProgramID, data []byte) error
	// Scan visits every account owned by program. Returning a non-nil error
	// from fn stops the scan and is passed through.
	Scan(owner types.ProgramID, fn func(*Account) error) error
}

// Store executes transactions against persistent account state
type Store interface {
	Update(ctx context.Context, fn func(Txn) error) error
	View(ctx context.Context, fn func(Txn) error) error
	Close() error
}

// Clock is the wall-clock source stamped onto records.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// SystemClock returns the real clock at unix-second precision
func SystemClock() Clock { return systemClock{} }
