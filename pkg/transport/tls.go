package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/credentials"
)

// bundleTrustDomain labels the externally supplied root bundle. The bundle
// is used for plain WebPKI verification; the name carries no SPIFFE meaning.
var bundleTrustDomain = spiffeid.RequireTrustDomainFromString("api.visa.com")

// TLSOptions configures server verification and protocol limits.
type TLSOptions struct {
	// CABundle is a PEM bundle of root certificates. Empty means the system
	// roots. VDP's roots are distributed separately and are never embedded.
	CABundle []byte

	// ServerName overrides the name checked against the server certificate.
	ServerName string

	// MinVersion is tls.VersionTLS12 (default) or tls.VersionTLS13.
	MinVersion uint16
}

// NewTLSConfig builds the client side of the mTLS handshake.
//
// The returned *tls.Config:
//   - Presents the client certificate from creds, opening the private key
//     once per handshake
//   - Verifies the server against CABundle, or the system roots
//   - Enforces TLS 1.2 minimum
//
// Returns a CategoryTLS error for unusable CA material and a CategoryConfig
// error for bad options.
func NewTLSConfig(creds *credentials.Credentials, opts TLSOptions) (*tls.Config, error) {
	const op = "transport.tls"

	if creds == nil {
		return nil, apierr.Config(op, "credentials are required", nil)
	}

	minVersion := opts.MinVersion
	switch minVersion {
	case 0:
		minVersion = tls.VersionTLS12
	case tls.VersionTLS12, tls.VersionTLS13:
	default:
		return nil, apierr.Config(op, fmt.Sprintf("unsupported minimum TLS version 0x%04x", minVersion), nil)
	}

	roots, err := rootPool(opts.CABundle)
	if err != nil {
		return nil, apierr.Wrap(apierr.CategoryTLS, op, "root CA bundle is unusable", err)
	}

	return &tls.Config{
		MinVersion: minVersion,
		RootCAs:    roots,
		ServerName: opts.ServerName,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return creds.ClientCertificate()
		},
	}, nil
}

// rootPool returns nil (system roots) for an empty bundle.
func rootPool(pemBundle []byte) (*x509.CertPool, error) {
	if len(pemBundle) == 0 {
		return nil, nil
	}

	bundle, err := x509bundle.Parse(bundleTrustDomain, pemBundle)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA bundle: %w", err)
	}
	authorities := bundle.X509Authorities()
	if len(authorities) == 0 {
		return nil, fmt.Errorf("CA bundle contains no certificates")
	}

	pool := x509.NewCertPool()
	for _, cert := range authorities {
		pool.AddCert(cert)
	}
	return pool, nil
}
