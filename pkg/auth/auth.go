package auth

import (
	"context"
	"errors"
	"time"

	"accredit/pkg/types"
)

var (
	ErrMissingCredentials = errors.New("missing request credentials")
	ErrInvalidSignature   = errors.New("invalid request signature")
	ErrStaleRequest       = errors.New("request timestamp outside allowed skew")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidKey         = errors.New("invalid key")
)

const DefaultMaxClockSkew = 5 * time.Minute

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity returns a context carrying the authenticated caller
func WithIdentity(ctx context.Context, id types.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext retrieves the authenticated caller, if any
func IdentityFromContext(ctx context.Context) (types.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(types.Identity)
	return id, ok
}

// RequireIdentity is IdentityFromContext for handlers that cannot proceed
// anonymously.
func RequireIdentity(ctx context.Context) (types.Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return types.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// Config holds transport security settings
type Config struct {
	TLSEnabled    bool          `yaml:"tls_enabled" envconfig:"TLS_ENABLED"`
	CertPath      string        `yaml:"cert" envconfig:"TLS_CERT"`
	KeyPath       string        `yaml:"key" envconfig:"TLS_KEY"`
	CAPath        string        `yaml:"ca_cert" envconfig:"TLS_CA"`
	MinTLSVersion string        `yaml:"min_tls_version" envconfig:"MIN_TLS_VERSION"`
	MaxClockSkew  time.Duration `yaml:"max_clock_skew" envconfig:"MAX_CLOCK_SKEW"`
}

func DefaultConfig() Config {
	return Config{
		MinTLSVersion: "1.2",
		MaxClockSkew:  DefaultMaxClockSkew,
	}
}

func (c *Config) Validate() error {
	if c.MaxClockSkew <= 0 {
		return errors.New("max clock skew must be positive")
	}
	if !c.TLSEnabled {
		return nil
	}
	if c.CertPath == "" || c.KeyPath == "" {
		return errors.New("certificate and key paths are required when TLS is enabled")
	}
	return nil
}
