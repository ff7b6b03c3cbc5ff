// Package testhelpers provides an in-memory PKI and an in-process mTLS mock
// of the Visa Developer Platform for tests.
//
// Nothing here touches the network beyond 127.0.0.1 or the filesystem beyond
// t.TempDir.
//
// Example usage:
//
//	func TestHelloWorld(t *testing.T) {
//	    pki := testhelpers.NewPKI(t)
//	    srv := testhelpers.NewServer(t, pki)
//	    client := pki.IssueClient(t, "client")
//	    // load credentials from client.CombinedPEM(), trust pki.CAPEM
//	}
package testhelpers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

const keyBits = 2048

// PKI is a throwaway certificate authority.
type PKI struct {
	// CA is the root certificate. Both the mock server and issued client
	// certificates chain to it.
	CA *x509.Certificate

	// CAPEM is CA encoded as a PEM bundle, suitable as a trust bundle.
	CAPEM []byte

	caKey *rsa.PrivateKey

	// Server is the TLS identity of the mock server, valid for 127.0.0.1
	// and localhost.
	Server tls.Certificate
}

// Identity is an issued certificate and its key.
type Identity struct {
	Cert    *x509.Certificate
	Key     *rsa.PrivateKey
	CertPEM []byte
	KeyPEM  []byte
}

// NewPKI creates a CA and a server certificate.
func NewPKI(t *testing.T) *PKI {
	t.Helper()

	caKey := NewRSAKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: "vdp test root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("Failed to create CA certificate: %v", err)
	}
	ca, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse CA certificate: %v", err)
	}

	p := &PKI{
		CA:    ca,
		CAPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		caKey: caKey,
	}

	srv := p.issue(t, "localhost", time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour), x509.ExtKeyUsageServerAuth)
	p.Server = tls.Certificate{
		Certificate: [][]byte{srv.Cert.Raw},
		PrivateKey:  srv.Key,
		Leaf:        srv.Cert,
	}
	return p
}

// IssueClient issues a client certificate valid for the next day.
func (p *PKI) IssueClient(t *testing.T, cn string) *Identity {
	t.Helper()
	return p.issue(t, cn, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour), x509.ExtKeyUsageClientAuth)
}

// IssueExpiredClient issues a client certificate that expired an hour ago.
func (p *PKI) IssueExpiredClient(t *testing.T, cn string) *Identity {
	t.Helper()
	return p.issue(t, cn, time.Now().Add(-48*time.Hour), time.Now().Add(-time.Hour), x509.ExtKeyUsageClientAuth)
}

func (p *PKI) issue(t *testing.T, cn string, notBefore, notAfter time.Time, usage x509.ExtKeyUsage) *Identity {
	t.Helper()

	key := NewRSAKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: serial(t),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
	}
	if usage == x509.ExtKeyUsageServerAuth {
		tmpl.DNSNames = []string{"localhost"}
		tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, p.CA, &key.PublicKey, p.caKey)
	if err != nil {
		t.Fatalf("Failed to create certificate for %s: %v", cn, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate for %s: %v", cn, err)
	}
	return &Identity{
		Cert:    cert,
		Key:     key,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  PrivateKeyPEM(key),
	}
}

// SelfSigned returns a self-signed identity, not trusted by any PKI. Used for
// MLE server certificates and for "wrong client certificate" cases.
func SelfSigned(t *testing.T, cn string) *Identity {
	t.Helper()

	key := NewRSAKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: serial(t),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create self-signed certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse self-signed certificate: %v", err)
	}
	return &Identity{
		Cert:    cert,
		Key:     key,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  PrivateKeyPEM(key),
	}
}

// CombinedPEM returns the certificate followed by the key, the layout of a
// single-file PEM client bundle.
func (id *Identity) CombinedPEM() []byte {
	out := make([]byte, 0, len(id.CertPEM)+len(id.KeyPEM))
	out = append(out, id.CertPEM...)
	return append(out, id.KeyPEM...)
}

// PKCS12 encodes the identity as a PKCS#12 bundle protected by password,
// with caCerts appended to the chain. It uses PBES2 with AES-256 and a
// SHA-256 MAC, the layout `openssl pkcs12 -export` writes on OpenSSL 3.
func (id *Identity) PKCS12(t *testing.T, password string, caCerts ...*x509.Certificate) []byte {
	t.Helper()
	return id.PKCS12With(t, gopkcs12.Modern2023, password, caCerts...)
}

// PKCS12With is PKCS12 with an explicit encoder, e.g. gopkcs12.LegacyDES for
// bundles exported by older tooling.
func (id *Identity) PKCS12With(t *testing.T, enc *gopkcs12.Encoder, password string, caCerts ...*x509.Certificate) []byte {
	t.Helper()

	pfx, err := enc.Encode(id.Key, id.Cert, caCerts, password)
	if err != nil {
		t.Fatalf("Failed to encode PKCS#12: %v", err)
	}
	return pfx
}

// EncryptedKeyPEM returns the key as a legacy encrypted PEM block.
func (id *Identity) EncryptedKeyPEM(t *testing.T, passphrase string) []byte {
	t.Helper()

	//nolint:staticcheck // legacy format on purpose
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(id.Key), []byte(passphrase), x509.PEMCipherAES256)
	if err != nil {
		t.Fatalf("Failed to encrypt PEM key: %v", err)
	}
	return pem.EncodeToMemory(block)
}

// PublicKeyPEM returns the identity's public key as a PUBLIC KEY block.
func (id *Identity) PublicKeyPEM(t *testing.T) []byte {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(&id.Key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// NewRSAKey generates an RSA key or fails the test.
func NewRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return key
}

// PrivateKeyPEM encodes key as a PKCS#1 RSA PRIVATE KEY block.
func PrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// WriteFile writes data under t.TempDir and returns the path.
func WriteFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func serial(t *testing.T) *big.Int {
	t.Helper()

	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("Failed to generate serial: %v", err)
	}
	return n
}
