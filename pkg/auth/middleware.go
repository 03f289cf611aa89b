package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"accredit/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	IdentityMetadataKey  = "x-accredit-identity"
	TimestampMetadataKey = "x-accredit-timestamp"
	SignatureMetadataKey = "x-accredit-signature"
)

// SigningPayload is the message a caller signs for one request
func SigningPayload(method string, timestamp int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s\n%d\n%x", method, timestamp, sum))
}

// requestBody is the canonical byte form of a request message. Signatures
// cover these bytes, not the wire payload: the server re-encodes the decoded
// request and must land on what the client signed. encoding/json writes struct
// fields in declaration order and sorts map keys, so this holds as long as both
// ends share the message types and no field has a lossy JSON round trip.
func requestBody(req interface{}) ([]byte, error) {
	return json.Marshal(req)
}

// Interceptor authenticates callers from signed request metadata
type Interceptor struct {
	maxSkew time.Duration
	public  map[string]bool
	now     func() time.Time
	logger  *zap.Logger
}

type InterceptorOption func(*Interceptor)

// WithPublicMethods lets the named full methods through without credentials.
// Credentials that are present are still verified.
func WithPublicMethods(methods ...string) InterceptorOption {
	return func(ai *Interceptor) {
		for _, m := range methods {
			ai.public[m] = true
		}
	}
}

func WithMaxClockSkew(d time.Duration) InterceptorOption {
	return func(ai *Interceptor) { ai.maxSkew = d }
}

func WithTimeSource(now func() time.Time) InterceptorOption {
	return func(ai *Interceptor) { ai.now = now }
}

func NewInterceptor(logger *zap.Logger, opts ...InterceptorOption) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ai := &Interceptor{
		maxSkew: DefaultMaxClockSkew,
		public:  make(map[string]bool),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(ai)
	}
	return ai
}

// UnaryServerInterceptor returns a gRPC unary server interceptor for authentication
func (ai *Interceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		id, err := ai.authenticate(ctx, info.FullMethod, req)
		switch {
		case err == nil:
			return handler(WithIdentity(ctx, id), req)
		case errors.Is(err, ErrMissingCredentials) && ai.public[info.FullMethod]:
			return handler(ctx, req)
		default:
			ai.logger.Debug("Rejected request",
				zap.String("method", info.FullMethod),
				zap.Error(err))
			return nil, status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
		}
	}
}

func (ai *Interceptor) authenticate(ctx context.Context, method string, req interface{}) (types.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return types.Identity{}, ErrMissingCredentials
	}
	idValues := md.Get(IdentityMetadataKey)
	tsValues := md.Get(TimestampMetadataKey)
	sigValues := md.Get(SignatureMetadataKey)
	if len(idValues) == 0 && len(tsValues) == 0 && len(sigValues) == 0 {
		return types.Identity{}, ErrMissingCredentials
	}
	if len(idValues) != 1 || len(tsValues) != 1 || len(sigValues) != 1 {
		return types.Identity{}, fmt.Errorf("%w: incomplete credentials", ErrInvalidSignature)
	}

	id, err := types.ParseIdentity(idValues[0])
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	ts, err := strconv.ParseInt(tsValues[0], 10, 64)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if skew := ai.now().Sub(time.Unix(ts, 0)); skew > ai.maxSkew || skew < -ai.maxSkew {
		return types.Identity{}, ErrStaleRequest
	}
	sig, err := base64.StdEncoding.DecodeString(sigValues[0])
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: bad encoding", ErrInvalidSignature)
	}

	body, err := requestBody(req)
	if err != nil {
		return types.Identity{}, fmt.Errorf("failed to encode request: %w", err)
	}
	if !ed25519.Verify(id.PublicKey(), SigningPayload(method, ts, body), sig) {
		return types.Identity{}, ErrInvalidSignature
	}
	return id, nil
}

// UnaryClientInterceptor signs every outgoing request with key
func UnaryClientInterceptor(key *Key, now func() time.Time) grpc.UnaryClientInterceptor {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		body, err := requestBody(req)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		ts := now().Unix()
		sig := key.Sign(SigningPayload(method, ts, body))
		ctx = metadata.AppendToOutgoingContext(ctx,
			IdentityMetadataKey, key.Identity().String(),
			TimestampMetadataKey, strconv.FormatInt(ts, 10),
			SignatureMetadataKey, base64.StdEncoding.EncodeToString(sig))
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
