package certificate

import (
	"errors"
	"fmt"

	"accredit/pkg/codec"
	"accredit/pkg/ledger"
	"accredit/pkg/registry"
	"accredit/pkg/types"
)

// registryVerifier rebuilds a read view of the validator's registry from
// nothing but the caller's claims and the store. Nothing is cached: every
// call derives the address and checks ownership again.
type registryVerifier struct {
	trusted types.ProgramID
}

func (rv registryVerifier) load(txn ledger.Txn, claimedAddr types.Address, claimedProgram types.ProgramID) (*types.Registry, error) {
	if claimedProgram != rv.trusted {
		return nil, fmt.Errorf("%w: program %s is not the trusted validator", ErrUntrustedRegistry, claimedProgram.Short())
	}
	expected := registry.RegistryAddress(rv.trusted)
	if claimedAddr != expected {
		return nil, fmt.Errorf("%w: address %s is not the canonical registry", ErrUntrustedRegistry, claimedAddr)
	}

	acct, err := txn.Get(expected)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: no registry at %s", ErrUntrustedRegistry, expected)
	}
	if err != nil {
		return nil, err
	}
	if acct.Owner != rv.trusted {
		return nil, fmt.Errorf("%w: registry owned by %s", ErrUntrustedRegistry, acct.Owner.Short())
	}

	reg, err := codec.DecodeRegistry(acct.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUntrustedRegistry, err)
	}
	return reg, nil
}
