package protocol

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "accredit.v1.Accredit"

const (
	MethodInitializeRegistry = "InitializeRegistry"
	MethodGetRegistry        = "GetRegistry"
	MethodRemoveInstitute    = "RemoveInstitute"
	MethodOpenElection       = "OpenElection"
	MethodCastVote           = "CastVote"
	MethodGetElection        = "GetElection"
	MethodListElections      = "ListElections"
	MethodAddCertificate     = "AddCertificate"
	MethodCorrectCertificate = "CorrectCertificate"
	MethodVerifyCertificate  = "VerifyCertificate"
	MethodResolveCertificate = "ResolveCertificate"
	MethodListCertificates   = "ListCertificates"
	MethodListEvents         = "ListEvents"
)

// FullMethod returns the gRPC path for method
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ReadOnlyMethods never change state and may be called anonymously
var ReadOnlyMethods = []string{
	FullMethod(MethodGetRegistry),
	FullMethod(MethodGetElection),
	FullMethod(MethodListElections),
	FullMethod(MethodVerifyCertificate),
	FullMethod(MethodResolveCertificate),
	FullMethod(MethodListCertificates),
	FullMethod(MethodListEvents),
}

type AccreditServer interface {
	InitializeRegistry(context.Context, *InitializeRegistryRequest) (*RegistryResponse, error)
	GetRegistry(context.Context, *GetRegistryRequest) (*RegistryResponse, error)
	RemoveInstitute(context.Context, *RemoveInstituteRequest) (*RegistryResponse, error)
	OpenElection(context.Context, *OpenElectionRequest) (*ElectionResponse, error)
	CastVote(context.Context, *CastVoteRequest) (*ElectionResponse, error)
	GetElection(context.Context, *GetElectionRequest) (*ElectionResponse, error)
	ListElections(context.Context, *ListElectionsRequest) (*ListElectionsResponse, error)
	AddCertificate(context.Context, *AddCertificateRequest) (*CertificateResponse, error)
	CorrectCertificate(context.Context, *CorrectCertificateRequest) (*CertificateResponse, error)
	VerifyCertificate(context.Context, *VerifyCertificateRequest) (*CertificateResponse, error)
	ResolveCertificate(context.Context, *ResolveCertificateRequest) (*ResolveCertificateResponse, error)
	ListCertificates(context.Context, *ListCertificatesRequest) (*ListCertificatesResponse, error)
	ListEvents(context.Context, *ListEventsRequest) (*ListEventsResponse, error)
}

// UnimplementedAccreditServer can be embedded to satisfy AccreditServer
type UnimplementedAccreditServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedAccreditServer) InitializeRegistry(context.Context, *InitializeRegistryRequest) (*RegistryResponse, error) {
	return nil, unimplemented(MethodInitializeRegistry)
}
func (UnimplementedAccreditServer) GetRegistry(context.Context, *GetRegistryRequest) (*RegistryResponse, error) {
	return nil, unimplemented(MethodGetRegistry)
}
func (UnimplementedAccreditServer) RemoveInstitute(context.Context, *RemoveInstituteRequest) (*RegistryResponse, error) {
	return nil, unimplemented(MethodRemoveInstitute)
}
func (UnimplementedAccreditServer) OpenElection(context.Context, *OpenElectionRequest) (*ElectionResponse, error) {
	return nil, unimplemented(MethodOpenElection)
}
func (UnimplementedAccreditServer) CastVote(context.Context, *CastVoteRequest) (*ElectionResponse, error) {
	return nil, unimplemented(MethodCastVote)
}
func (UnimplementedAccreditServer) GetElection(context.Context, *GetElectionRequest) (*ElectionResponse, error) {
	return nil, unimplemented(MethodGetElection)
}
func (UnimplementedAccreditServer) ListElections(context.Context, *ListElectionsRequest) (*ListElectionsResponse, error) {
	return nil, unimplemented(MethodListElections)
}
func (UnimplementedAccreditServer) AddCertificate(context.Context, *AddCertificateRequest) (*CertificateResponse, error) {
	return nil, unimplemented(MethodAddCertificate)
}
func (UnimplementedAccreditServer) CorrectCertificate(context.Context, *CorrectCertificateRequest) (*CertificateResponse, error) {
	return nil, unimplemented(MethodCorrectCertificate)
}
func (UnimplementedAccreditServer) VerifyCertificate(context.Context, *VerifyCertificateRequest) (*CertificateResponse, error) {
	return nil, unimplemented(MethodVerifyCertificate)
}
func (UnimplementedAccreditServer) ResolveCertificate(context.Context, *ResolveCertificateRequest) (*ResolveCertificateResponse, error) {
	return nil, unimplemented(MethodResolveCertificate)
}
func (UnimplementedAccreditServer) ListCertificates(context.Context, *ListCertificatesRequest) (*ListCertificatesResponse, error) {
	return nil, unimplemented(MethodListCertificates)
}
func (UnimplementedAccreditServer) ListEvents(context.Context, *ListEventsRequest) (*ListEventsResponse, error) {
	return nil, unimplemented(MethodListEvents)
}

// unary builds the descriptor entry for one request/response method
func unary[Req, Resp any](method string, call func(AccreditServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AccreditServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(method),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(AccreditServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccreditServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodInitializeRegistry, AccreditServer.InitializeRegistry),
		unary(MethodGetRegistry, AccreditServer.GetRegistry),
		unary(MethodRemoveInstitute, AccreditServer.RemoveInstitute),
		unary(MethodOpenElection, AccreditServer.OpenElection),
		unary(MethodCastVote, AccreditServer.CastVote),
		unary(MethodGetElection, AccreditServer.GetElection),
		unary(MethodListElections, AccreditServer.ListElections),
		unary(MethodAddCertificate, AccreditServer.AddCertificate),
		unary(MethodCorrectCertificate, AccreditServer.CorrectCertificate),
		unary(MethodVerifyCertificate, AccreditServer.VerifyCertificate),
		unary(MethodResolveCertificate, AccreditServer.ResolveCertificate),
		unary(MethodListCertificates, AccreditServer.ListCertificates),
		unary(MethodListEvents, AccreditServer.ListEvents),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "accredit/v1/accredit",
}

func RegisterAccreditServer(s grpc.ServiceRegistrar, srv AccreditServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// AccreditClient is the client API for the service
type AccreditClient struct {
	cc grpc.ClientConnInterface
}

func NewAccreditClient(cc grpc.ClientConnInterface) *AccreditClient {
	return &AccreditClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AccreditClient) InitializeRegistry(ctx context.Context, in *InitializeRegistryRequest, opts ...grpc.CallOption) (*RegistryResponse, error) {
	return invoke[RegistryResponse](ctx, c.cc, MethodInitializeRegistry, in, opts)
}

func (c *AccreditClient) GetRegistry(ctx context.Context, in *GetRegistryRequest, opts ...grpc.CallOption) (*RegistryResponse, error) {
	return invoke[RegistryResponse](ctx, c.cc, MethodGetRegistry, in, opts)
}

func (c *AccreditClient) RemoveInstitute(ctx context.Context, in *RemoveInstituteRequest, opts ...grpc.CallOption) (*RegistryResponse, error) {
	return invoke[RegistryResponse](ctx, c.cc, MethodRemoveInstitute, in, opts)
}

func (c *AccreditClient) OpenElection(ctx context.Context, in *OpenElectionRequest, opts ...grpc.CallOption) (*ElectionResponse, error) {
	return invoke[ElectionResponse](ctx, c.cc, MethodOpenElection, in, opts)
}

func (c *AccreditClient) CastVote(ctx context.Context, in *CastVoteRequest, opts ...grpc.CallOption) (*ElectionResponse, error) {
	return invoke[ElectionResponse](ctx, c.cc, MethodCastVote, in, opts)
}

func (c *AccreditClient) GetElection(ctx context.Context, in *GetElectionRequest, opts ...grpc.CallOption) (*ElectionResponse, error) {
	return invoke[ElectionResponse](ctx, c.cc, MethodGetElection, in, opts)
}

func (c *AccreditClient) ListElections(ctx context.Context, in *ListElectionsRequest, opts ...grpc.CallOption) (*ListElectionsResponse, error) {
	return invoke[ListElectionsResponse](ctx, c.cc, MethodListElections, in, opts)
}

func (c *AccreditClient) AddCertificate(ctx context.Context, in *AddCertificateRequest, opts ...grpc.CallOption) (*CertificateResponse, error) {
	return invoke[CertificateResponse](ctx, c.cc, MethodAddCertificate, in, opts)
}

func (c *AccreditClient) CorrectCertificate(ctx context.Context, in *CorrectCertificateRequest, opts ...grpc.CallOption) (*CertificateResponse, error) {
	return invoke[CertificateResponse](ctx, c.cc, MethodCorrectCertificate, in, opts)
}

func (c *AccreditClient) VerifyCertificate(ctx context.Context, in *VerifyCertificateRequest, opts ...grpc.CallOption) (*CertificateResponse, error) {
	return invoke[CertificateResponse](ctx, c.cc, MethodVerifyCertificate, in, opts)
}

func (c *AccreditClient) ResolveCertificate(ctx context.Context, in *ResolveCertificateRequest, opts ...grpc.CallOption) (*ResolveCertificateResponse, error) {
	return invoke[ResolveCertificateResponse](ctx, c.cc, MethodResolveCertificate, in, opts)
}

func (c *AccreditClient) ListCertificates(ctx context.Context, in *ListCertificatesRequest, opts ...grpc.CallOption) (*ListCertificatesResponse, error) {
	return invoke[ListCertificatesResponse](ctx, c.cc, MethodListCertificates, in, opts)
}

func (c *AccreditClient) ListEvents(ctx context.Context, in *ListEventsRequest, opts ...grpc.CallOption) (*ListEventsResponse, error) {
	return invoke[ListEventsResponse](ctx, c.cc, MethodListEvents, in, opts)
}
