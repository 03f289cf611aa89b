package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// TLSConfigBuilder builds server and client TLS configurations
type TLSConfigBuilder struct {
	config Config
}

func NewTLSConfigBuilder(config Config) (*TLSConfigBuilder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &TLSConfigBuilder{config: config}, nil
}

// BuildServerConfig returns nil when TLS is disabled
func (b *TLSConfigBuilder) BuildServerConfig() (*tls.Config, error) {
	if !b.config.TLSEnabled {
		return nil, nil
	}

	cert, err := LoadEd25519KeyPair(b.config.CertPath, b.config.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   b.getTLSVersion(),
		CipherSuites: b.getCipherSuites(),
	}, nil
}

// BuildClientConfig trusts the configured CA, or the system roots when none
// is set.
func (b *TLSConfigBuilder) BuildClientConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:   b.getTLSVersion(),
		CipherSuites: b.getCipherSuites(),
	}
	if b.config.CAPath != "" {
		caPool, err := loadCAPool(b.config.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA pool: %w", err)
		}
		tlsConfig.RootCAs = caPool
	}
	return tlsConfig, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return caPool, nil
}

func (b *TLSConfigBuilder) getTLSVersion() uint16 {
	switch b.config.MinTLSVersion {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

// getCipherSuites returns the TLS 1.2 suites compatible with Ed25519 certificates
func (b *TLSConfigBuilder) getCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	}
}

// LoadEd25519KeyPair loads an Ed25519 certificate and key pair
func LoadEd25519KeyPair(certPath, keyPath string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read private key: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate and key: %w", err)
	}
	if _, ok := cert.PrivateKey.(ed25519.PrivateKey); !ok {
		return tls.Certificate{}, fmt.Errorf("%w: private key is not Ed25519", ErrInvalidKey)
	}
	return cert, nil
}

// GenerateServerCertificate creates a self-signed Ed25519 server certificate
// for hosts and writes it, with its key, as PEM files.
func GenerateServerCertificate(hosts []string, validity time.Duration, certPath, keyPath string) error {
	key, err := GenerateKey()
	if err != nil {
		return err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Accredit"},
			CommonName:   "accredit-server",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	pub := key.private.Public()
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pub, key.private)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	certFile, err := os.Create(certPath)
	if err != nil {
		return fmt.Errorf("failed to create certificate file: %w", err)
	}
	defer certFile.Close()
	if err := pem.Encode(certFile, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	return key.Save(keyPath)
}
