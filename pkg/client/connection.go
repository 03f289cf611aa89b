// Package client dials the Accredit service with request signing.
package client

import (
	"fmt"
	"time"

	"accredit/pkg/auth"
	"accredit/pkg/protocol"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Options control how a connection is made. A nil Key produces an anonymous
// client that can only call read-only methods.
type Options struct {
	Key        *auth.Key
	AuthConfig auth.Config
	Now        func() time.Time
	DialOpts   []grpc.DialOption
}

// Client is a connected service client
type Client struct {
	*protocol.AccreditClient
	conn *grpc.ClientConn
}

// Dial connects to target. Requests are signed with opts.Key when set.
func Dial(target string, opts Options) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(protocol.CodecName)),
	}

	if opts.AuthConfig.TLSEnabled {
		tlsBuilder, err := auth.NewTLSConfigBuilder(opts.AuthConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		tlsConfig, err := tlsBuilder.BuildClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build client TLS config: %w", err)
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if opts.Key != nil {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(auth.UnaryClientInterceptor(opts.Key, opts.Now)))
	}
	dialOpts = append(dialOpts, opts.DialOpts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", target, err)
	}
	return &Client{AccreditClient: protocol.NewAccreditClient(conn), conn: conn}, nil
}

func (c *Client) Conn() *grpc.ClientConn { return c.conn }

func (c *Client) Close() error { return c.conn.Close() }
