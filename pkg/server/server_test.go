package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"accredit/pkg/auth"
	"accredit/pkg/certificate"
	"accredit/pkg/client"
	"accredit/pkg/events"
	"accredit/pkg/ledger"
	"accredit/pkg/protocol"
	"accredit/pkg/registry"
	"accredit/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type testServer struct {
	server    *Server
	store     *ledger.BadgerStore
	validator *registry.Validator
	ledger    *certificate.Ledger
	audit     *events.AuditLog
	lis       *bufconn.Listener
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	store, err := ledger.OpenBadger()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audit, err := events.OpenAuditLog("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	validator := registry.NewValidator(store, registry.WithEmitter(audit))
	certs := certificate.NewLedger(store,
		certificate.WithTrustedValidator(validator.ProgramID()),
		certificate.WithEmitter(audit))
	require.NoError(t, certs.LoadFilter(context.Background()))

	srv, err := New(validator, certs, WithEventLister(audit))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		assert.NoError(t, <-done)
	})

	return &testServer{
		server:    srv,
		store:     store,
		validator: validator,
		ledger:    certs,
		audit:     audit,
		lis:       lis,
	}
}

// connect dials the in-memory listener. A nil key gives an anonymous client.
func (ts *testServer) connect(t *testing.T, key *auth.Key) *client.Client {
	t.Helper()
	c, err := client.Dial("passthrough:///bufnet", client.Options{
		Key: key,
		DialOpts: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return ts.lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newKey(t *testing.T) *auth.Key {
	t.Helper()
	key, err := auth.GenerateKey()
	require.NoError(t, err)
	return key
}

type institute struct {
	key    *auth.Key
	client *client.Client
}

func (ts *testServer) institutes(t *testing.T, n int) []institute {
	out := make([]institute, n)
	for i := range out {
		key := newKey(t)
		out[i] = institute{key: key, client: ts.connect(t, key)}
	}
	return out
}

func identities(insts ...institute) []types.Identity {
	ids := make([]types.Identity, len(insts))
	for i, inst := range insts {
		ids[i] = inst.key.Identity()
	}
	return ids
}

func requireCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, status.Code(err), "error: %v", err)
}

func TestAdmissionOverGRPC(t *testing.T) {
	tests := []struct {
		name       string
		ballots    []bool
		wantStatus types.ElectionStatus
		wantMember bool
	}{
		{name: "Unanimous", ballots: []bool{true, true}, wantStatus: types.StatusApproved, wantMember: true},
		{name: "OneDissent", ballots: []bool{true, false}, wantStatus: types.StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ts := startServer(t)
			insts := ts.institutes(t, 3)
			authority, voters, candidate := insts[0], insts[:2], insts[2]

			reg, err := authority.client.InitializeRegistry(ctx, &protocol.InitializeRegistryRequest{
				Members: identities(voters...),
			})
			require.NoError(t, err)
			assert.Equal(t, authority.key.Identity(), reg.Authority)
			assert.Equal(t, ts.validator.RegistryAddress(), reg.Address)

			opened, err := voters[0].client.OpenElection(ctx, &protocol.OpenElectionRequest{
				Candidate: candidate.key.Identity(),
			})
			require.NoError(t, err)
			assert.Equal(t, uint32(2), opened.Election.EligibleVoterCount)
			assert.Equal(t, types.StatusActive, opened.Election.Status)

			var last *protocol.ElectionResponse
			for i, inFavor := range tt.ballots {
				last, err = voters[i].client.CastVote(ctx, &protocol.CastVoteRequest{
					Election: opened.Election.Address,
					InFavor:  inFavor,
				})
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, last.Election.Status)
			assert.NotNil(t, last.Election.ConcludedAt)

			anon := ts.connect(t, nil)
			reg, err = anon.GetRegistry(ctx, &protocol.GetRegistryRequest{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantMember, contains(reg.Members, candidate.key.Identity()))

			missing := types.Address{1}
			_, err = anon.GetElection(ctx, &protocol.GetElectionRequest{Election: &missing})
			requireCode(t, codes.NotFound, err)
			cand := candidate.key.Identity()
			got, err := anon.GetElection(ctx, &protocol.GetElectionRequest{Candidate: &cand})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Election.Status)

			_, err = voters[0].client.CastVote(ctx, &protocol.CastVoteRequest{
				Election: opened.Election.Address,
				InFavor:  true,
			})
			requireCode(t, codes.FailedPrecondition, err)
		})
	}
}

func contains(ids []types.Identity, id types.Identity) bool {
	for _, m := range ids {
		if m == id {
			return true
		}
	}
	return false
}

func TestCertificatesOverGRPC(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t)
	insts := ts.institutes(t, 3)
	authority, issuer, outsider := insts[0], insts[1], insts[2]

	_, err := authority.client.InitializeRegistry(ctx, &protocol.InitializeRegistryRequest{
		Members: identities(issuer),
	})
	require.NoError(t, err)

	original := types.HashContent([]byte("diploma v1"))
	fixed := types.HashContent([]byte("diploma v2"))
	add := func(c *client.Client, hash types.Hash, program types.ProgramID) (*protocol.CertificateResponse, error) {
		return c.AddCertificate(ctx, &protocol.AddCertificateRequest{
			ContentHash:      hash,
			RegistryAddress:  ts.validator.RegistryAddress(),
			ValidatorProgram: program,
		})
	}

	t.Run("Issue", func(t *testing.T) {
		resp, err := add(issuer.client, original, ts.validator.ProgramID())
		require.NoError(t, err)
		assert.True(t, resp.Certificate.IsValid)
		assert.Equal(t, issuer.key.Identity(), resp.Certificate.Issuer)
		assert.Equal(t, ts.ledger.CertificateAddress(original), resp.Certificate.Address)
	})

	t.Run("Duplicate", func(t *testing.T) {
		_, err := add(issuer.client, original, ts.validator.ProgramID())
		requireCode(t, codes.AlreadyExists, err)
	})

	t.Run("NonMember", func(t *testing.T) {
		_, err := add(outsider.client, types.HashContent([]byte("forged")), ts.validator.ProgramID())
		requireCode(t, codes.PermissionDenied, err)
	})

	t.Run("ForgedValidator", func(t *testing.T) {
		_, err := add(issuer.client, types.HashContent([]byte("other")), types.NamedProgram("impostor"))
		requireCode(t, codes.PermissionDenied, err)
	})

	t.Run("Anonymous", func(t *testing.T) {
		_, err := add(ts.connect(t, nil), types.HashContent([]byte("anon")), ts.validator.ProgramID())
		requireCode(t, codes.Unauthenticated, err)
	})

	t.Run("Correct", func(t *testing.T) {
		_, err := outsider.client.CorrectCertificate(ctx, &protocol.CorrectCertificateRequest{
			OldHash:          original,
			NewHash:          fixed,
			RegistryAddress:  ts.validator.RegistryAddress(),
			ValidatorProgram: ts.validator.ProgramID(),
		})
		requireCode(t, codes.PermissionDenied, err)

		resp, err := issuer.client.CorrectCertificate(ctx, &protocol.CorrectCertificateRequest{
			OldHash:          original,
			NewHash:          fixed,
			RegistryAddress:  ts.validator.RegistryAddress(),
			ValidatorProgram: ts.validator.ProgramID(),
		})
		require.NoError(t, err)
		assert.Equal(t, fixed, resp.Certificate.ContentHash)
		assert.True(t, resp.Certificate.IsValid)
	})

	t.Run("VerifyAndResolve", func(t *testing.T) {
		anon := ts.connect(t, nil)
		old, err := anon.VerifyCertificate(ctx, &protocol.VerifyCertificateRequest{ContentHash: &original})
		require.NoError(t, err)
		assert.False(t, old.Certificate.IsValid)
		require.NotNil(t, old.Certificate.SupersededBy)
		assert.Equal(t, fixed, *old.Certificate.SupersededBy)

		chain, err := anon.ResolveCertificate(ctx, &protocol.ResolveCertificateRequest{ContentHash: original})
		require.NoError(t, err)
		require.Len(t, chain.Chain, 2)
		assert.Equal(t, fixed, chain.Chain[1].ContentHash)

		list, err := anon.ListCertificates(ctx, &protocol.ListCertificatesRequest{Issuer: issuer.key.Identity()})
		require.NoError(t, err)
		assert.Len(t, list.Certificates, 2)

		_, err = anon.VerifyCertificate(ctx, &protocol.VerifyCertificateRequest{})
		requireCode(t, codes.InvalidArgument, err)

		unknown := types.HashContent([]byte("never issued"))
		_, err = anon.VerifyCertificate(ctx, &protocol.VerifyCertificateRequest{ContentHash: &unknown})
		requireCode(t, codes.NotFound, err)
	})

	t.Run("Events", func(t *testing.T) {
		id := issuer.key.Identity()
		resp, err := ts.connect(t, nil).ListEvents(ctx, &protocol.ListEventsRequest{Actor: &id})
		require.NoError(t, err)
		var got []events.Type
		for _, ev := range resp.Events {
			got = append(got, ev.Type)
		}
		assert.Equal(t, []events.Type{events.CertificateAdded, events.CertificateCorrected}, got)
	})
}

func TestRemoveOverGRPC(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t)
	insts := ts.institutes(t, 3)
	authority, a, b := insts[0], insts[1], insts[2]

	_, err := authority.client.InitializeRegistry(ctx, &protocol.InitializeRegistryRequest{
		Members: identities(a, b),
	})
	require.NoError(t, err)

	_, err = a.client.RemoveInstitute(ctx, &protocol.RemoveInstituteRequest{Institute: b.key.Identity()})
	requireCode(t, codes.PermissionDenied, err)

	reg, err := authority.client.RemoveInstitute(ctx, &protocol.RemoveInstituteRequest{Institute: b.key.Identity()})
	require.NoError(t, err)
	assert.Equal(t, []types.Identity{a.key.Identity()}, reg.Members)

	_, err = authority.client.RemoveInstitute(ctx, &protocol.RemoveInstituteRequest{Institute: b.key.Identity()})
	requireCode(t, codes.NotFound, err)

	_, err = authority.client.InitializeRegistry(ctx, &protocol.InitializeRegistryRequest{})
	requireCode(t, codes.AlreadyExists, err)
}

func TestAuthentication(t *testing.T) {
	ctx := context.Background()
	ts := startServer(t)
	anon := ts.connect(t, nil)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{
			name: "AnonymousWrite",
			call: func() error {
				_, err := anon.OpenElection(ctx, &protocol.OpenElectionRequest{Candidate: newKey(t).Identity()})
				return err
			},
			want: codes.Unauthenticated,
		},
		{
			name: "AnonymousReadBeforeInit",
			call: func() error {
				_, err := anon.GetRegistry(ctx, &protocol.GetRegistryRequest{})
				return err
			},
			want: codes.FailedPrecondition,
		},
		{
			name: "StaleSignature",
			call: func() error {
				c, err := client.Dial("passthrough:///bufnet", client.Options{
					Key: newKey(t),
					Now: func() time.Time { return time.Now().Add(-time.Hour) },
					DialOpts: []grpc.DialOption{
						grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
							return ts.lis.DialContext(ctx)
						}),
					},
				})
				require.NoError(t, err)
				defer c.Close()
				_, err = c.ListElections(ctx, &protocol.ListElectionsRequest{})
				return err
			},
			want: codes.Unauthenticated,
		},
		{
			name: "BadStatusFilter",
			call: func() error {
				_, err := anon.ListElections(ctx, &protocol.ListElectionsRequest{Status: "pending"})
				return err
			},
			want: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, tt.want, tt.call())
		})
	}
}

func TestHealth(t *testing.T) {
	ts := startServer(t)
	tests := []struct {
		name string
		key  *auth.Key
	}{
		{"Anonymous", nil},
		{"Signed", newKey(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ts.connect(t, tt.key)
			resp, err := healthpb.NewHealthClient(c.Conn()).Check(context.Background(),
				&healthpb.HealthCheckRequest{Service: protocol.ServiceName},
				grpc.CallContentSubtype("proto"))
			require.NoError(t, err)
			assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
		})
	}
	assert.NoError(t, ts.server.Ready())
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: %w", registry.ErrElectionExists, ledger.ErrAccountExists), codes.AlreadyExists},
		{fmt.Errorf("wrapped: %w", registry.ErrVoterNotEligible), codes.PermissionDenied},
		{registry.ErrCapacityExceeded, codes.ResourceExhausted},
		{certificate.ErrUntrustedRegistry, codes.PermissionDenied},
		{certificate.ErrAlreadyInvalid, codes.FailedPrecondition},
		{ledger.ErrConflict, codes.Aborted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}
	assert.NoError(t, toStatus(nil))
}

func TestStopReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store, err := ledger.OpenBadger()
	require.NoError(t, err)
	validator := registry.NewValidator(store)
	srv, err := New(validator, certificate.NewLedger(store))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 16)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()

	c, err := client.Dial("passthrough:///bufnet", client.Options{
		DialOpts: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	_, err = c.GetRegistry(context.Background(), &protocol.GetRegistryRequest{})
	requireCode(t, codes.FailedPrecondition, err)

	require.NoError(t, c.Close())
	srv.Stop()
	require.NoError(t, <-done)
	require.NoError(t, store.Close())
}
