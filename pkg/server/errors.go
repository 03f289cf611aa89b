package server

import (
	"context"
	"errors"

	"accredit/pkg/auth"
	"accredit/pkg/certificate"
	"accredit/pkg/ledger"
	"accredit/pkg/registry"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain errors come first: collisions wrap both a domain sentinel and
// ledger.ErrAccountExists, and the domain meaning wins.
var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{auth.ErrUnauthenticated, codes.Unauthenticated},

	{registry.ErrInvalidIdentity, codes.InvalidArgument},
	{registry.ErrDuplicateMember, codes.InvalidArgument},
	{registry.ErrNotFound, codes.NotFound},
	{registry.ErrAlreadyInitialized, codes.AlreadyExists},
	{registry.ErrElectionExists, codes.AlreadyExists},
	{registry.ErrDuplicateVote, codes.AlreadyExists},
	{registry.ErrUnauthorized, codes.PermissionDenied},
	{registry.ErrVoterNotEligible, codes.PermissionDenied},
	{registry.ErrUntrustedAccount, codes.PermissionDenied},
	{registry.ErrNotInitialized, codes.FailedPrecondition},
	{registry.ErrAlreadyMember, codes.FailedPrecondition},
	{registry.ErrNoEligibleVoters, codes.FailedPrecondition},
	{registry.ErrVotingClosed, codes.FailedPrecondition},
	{registry.ErrCapacityExceeded, codes.ResourceExhausted},

	{certificate.ErrInvalidHash, codes.InvalidArgument},
	{certificate.ErrHashMismatch, codes.InvalidArgument},
	{certificate.ErrNotFound, codes.NotFound},
	{certificate.ErrDuplicateCertificate, codes.AlreadyExists},
	{certificate.ErrUntrustedRegistry, codes.PermissionDenied},
	{certificate.ErrIssuerNotRegistered, codes.PermissionDenied},
	{certificate.ErrUnauthorizedIssuer, codes.PermissionDenied},
	{certificate.ErrAlreadyInvalid, codes.FailedPrecondition},

	{ledger.ErrAccountExists, codes.AlreadyExists},
	{ledger.ErrAccountNotFound, codes.NotFound},
	{ledger.ErrOwnerMismatch, codes.PermissionDenied},
	{ledger.ErrConflict, codes.Aborted},
	{ledger.ErrStoreClosed, codes.Unavailable},
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// toStatus converts a domain error into a gRPC status error
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return status.Error(ec.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}
