package server

import (
	"context"
	"time"

	"accredit/pkg/auth"
	"accredit/pkg/certificate"
	"accredit/pkg/events"
	"accredit/pkg/protocol"
	"accredit/pkg/types"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *Server) registryResponse(ctx context.Context) (*protocol.RegistryResponse, error) {
	reg, err := s.validator.Registry(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	members := reg.Members
	if members == nil {
		members = []types.Identity{}
	}
	return &protocol.RegistryResponse{
		Address:   s.validator.RegistryAddress(),
		Program:   s.validator.ProgramID(),
		Authority: reg.Authority,
		Members:   members,
		Capacity:  reg.Capacity,
	}, nil
}

func (s *Server) InitializeRegistry(ctx context.Context, req *protocol.InitializeRegistryRequest) (*protocol.RegistryResponse, error) {
	caller, err := auth.RequireIdentity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if _, err := s.validator.Initialize(ctx, caller, req.Members); err != nil {
		return nil, toStatus(err)
	}
	return s.registryResponse(ctx)
}

func (s *Server) GetRegistry(ctx context.Context, _ *protocol.GetRegistryRequest) (*protocol.RegistryResponse, error) {
	return s.registryResponse(ctx)
}

func (s *Server) RemoveInstitute(ctx context.Context, req *protocol.RemoveInstituteRequest) (*protocol.RegistryResponse, error) {
	caller, err := auth.RequireIdentity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.validator.Remove(ctx, caller, req.Institute); err != nil {
		return nil, toStatus(err)
	}
	return s.registryResponse(ctx)
}

func (s *Server) OpenElection(ctx context.Context, req *protocol.OpenElectionRequest) (*protocol.ElectionResponse, error) {
	caller, err := auth.RequireIdentity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	addr, err := s.validator.OpenElection(ctx, caller, req.Candidate)
	if err != nil {
		return nil, toStatus(err)
	}
	election, err := s.validator.Election(ctx, addr)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.ElectionResponse{Election: *election}, nil
}

func (s *Server) CastVote(ctx context.Context, req *protocol.CastVoteRequest) (*protocol.ElectionResponse, error) {
	caller, err := auth.RequireIdentity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	election, err := s.validator.CastVote(ctx, req.Election, caller, req.InFavor)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.ElectionResponse{Election: *election}, nil
}

func (s *Server) GetElection(ctx context.Context, req *protocol.GetElectionRequest) (*protocol.ElectionResponse, error) {
	var (
		election *types.ElectionSummary
		err      error
	)
	switch {
	case req.Election != nil:
		election, err = s.validator.Election(ctx, *req.Election)
	case req.Candidate != nil:
		election, err = s.validator.ElectionFor(ctx, *req.Candidate)
	default:
		return nil, status.Error(codes.InvalidArgument, "election address or candidate is required")
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.ElectionResponse{Election: *election}, nil
}

func (s *Server) ListElections(ctx context.Context, req *protocol.ListElectionsRequest) (*protocol.ListElectionsResponse, error) {
	var filter *types.ElectionStatus
	if req.Status != "" {
		st, err := types.ParseElectionStatus(req.Status)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		filter = &st
	}
	elections, err := s.validator.Elections(ctx, filter)
	if err != nil {
		return nil, toStatus(err)
	}
	if elections == nil {
		elections = []types.ElectionSummary{}
	}
	return &protocol.ListElectionsResponse{Elections: elections}, nil
}

func (s *Server) AddCertificate(ctx context.Context, req *protocol.AddCertificateRequest) (*protocol.CertificateResponse, error) {
	caller, err := auth.RequireIdentity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	addr, err := s.ledger.Issue(ctx, certificate.IssueRequest{
		ContentHash:      req.ContentHash,
		Issuer:           caller,
		RegistryAddress:  req.RegistryAddress,
		ValidatorProgram: req.ValidatorProgram,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return s.certificateResponse(ctx, addr)
}

func (s *Server) CorrectCertificate(ctx context.Context, req *protocol.CorrectCertificateRequest) (*protocol.CertificateResponse, error) {
	caller, err := auth.RequireIdentity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	addr, err := s.ledger.Correct(ctx, certificate.CorrectRequest{
		OldHash:          req.OldHash,
		NewHash:          req.NewHash,
		Issuer:           caller,
		RegistryAddress:  req.RegistryAddress,
		ValidatorProgram: req.ValidatorProgram,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return s.certificateResponse(ctx, addr)
}

func (s *Server) certificateResponse(ctx context.Context, addr types.Address) (*protocol.CertificateResponse, error) {
	cert, err := s.ledger.Verify(ctx, addr)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.CertificateResponse{Certificate: *cert}, nil
}

func (s *Server) VerifyCertificate(ctx context.Context, req *protocol.VerifyCertificateRequest) (*protocol.CertificateResponse, error) {
	switch {
	case req.Address != nil:
		return s.certificateResponse(ctx, *req.Address)
	case req.ContentHash != nil:
		cert, err := s.ledger.VerifyHash(ctx, *req.ContentHash)
		if err != nil {
			return nil, toStatus(err)
		}
		return &protocol.CertificateResponse{Certificate: *cert}, nil
	}
	return nil, status.Error(codes.InvalidArgument, "certificate address or content hash is required")
}

func (s *Server) ResolveCertificate(ctx context.Context, req *protocol.ResolveCertificateRequest) (*protocol.ResolveCertificateResponse, error) {
	chain, err := s.ledger.Resolve(ctx, req.ContentHash)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.ResolveCertificateResponse{Chain: chain}, nil
}

func (s *Server) ListCertificates(ctx context.Context, req *protocol.ListCertificatesRequest) (*protocol.ListCertificatesResponse, error) {
	certs, err := s.ledger.ByIssuer(ctx, req.Issuer)
	if err != nil {
		return nil, toStatus(err)
	}
	if certs == nil {
		certs = []types.CertificateSummary{}
	}
	return &protocol.ListCertificatesResponse{Certificates: certs}, nil
}

func (s *Server) ListEvents(ctx context.Context, req *protocol.ListEventsRequest) (*protocol.ListEventsResponse, error) {
	if s.events == nil {
		return nil, status.Error(codes.Unimplemented, "event log is not enabled")
	}
	filter := events.Filter{
		Type:    events.Type(req.Type),
		Subject: req.Subject,
		Actor:   req.Actor,
		Limit:   req.Limit,
	}
	if req.Since > 0 {
		filter.Since = time.Unix(req.Since, 0)
	}
	list, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, toStatus(err)
	}
	if list == nil {
		list = []events.Event{}
	}
	return &protocol.ListEventsResponse{Events: list}, nil
}
