// Package credentials holds the secrets needed to talk to the Visa Developer
// Platform: the Basic-auth user ID and password, the mTLS client identity, and
// the key material for message level encryption.
//
// Secret bytes live in memguard enclaves. They are decrypted into locked
// buffers only for the duration of a single use (a TLS handshake, an
// Authorization header) and wiped afterwards.
package credentials

import (
	"crypto/tls"
	"crypto/x509"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/sufield/vdp/pkg/apierr"
)

// Config is the raw input to Load. Load does not keep references to the
// byte slices; the caller owns them and may wipe them afterwards.
type Config struct {
	UserID   string
	Password string

	// ClientCert is a PKCS#12 bundle, or PEM with one or more CERTIFICATE
	// blocks and optionally the private key.
	ClientCert []byte

	// ClientKey is the PEM private key when it is not part of ClientCert.
	ClientKey []byte

	// ClientCertPassword decrypts a PKCS#12 bundle or a legacy encrypted
	// PEM key. Optional.
	ClientCertPassword string
}

// String redacts every secret.
func (c Config) String() string {
	return "credentials.Config{UserID: " + c.UserID + ", Password: [REDACTED], ClientCert: [REDACTED]}"
}

// GoString redacts every secret under %#v.
func (c Config) GoString() string { return c.String() }

// Credentials is an immutable, loaded client identity. It is safe for
// concurrent use.
type Credentials struct {
	userID string
	chain  [][]byte
	leaf   *x509.Certificate

	mu       sync.RWMutex
	password *memguard.Enclave
	key      *memguard.Enclave
}

// Load validates cfg and decodes the client identity.
//
// Every failure is an apierr.CategoryConfig error with generic wording.
// An expired certificate is not rejected here; see NotAfter.
func Load(cfg Config) (*Credentials, error) {
	const op = "credentials.load"

	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, apierr.Config(op, "user id is required", nil)
	}
	if cfg.Password == "" {
		return nil, apierr.Config(op, "password is required", nil)
	}
	if len(cfg.ClientCert) == 0 {
		return nil, apierr.Config(op, "client certificate is required", nil)
	}

	id, err := decodeIdentity(cfg.ClientCert, cfg.ClientKey, cfg.ClientCertPassword)
	if err != nil {
		return nil, apierr.Config(op, "client certificate could not be decoded", err)
	}

	// NewEnclave wipes its argument.
	key := memguard.NewEnclave(id.keyDER)
	password := memguard.NewEnclave([]byte(cfg.Password))

	return &Credentials{
		userID:   cfg.UserID,
		chain:    id.chain,
		leaf:     id.leaf,
		password: password,
		key:      key,
	}, nil
}

// UserID returns the Basic-auth user ID. It is not a secret.
func (c *Credentials) UserID() string { return c.userID }

// Leaf returns the client certificate presented during the handshake.
func (c *Credentials) Leaf() *x509.Certificate { return c.leaf }

// NotAfter returns the expiry of the client certificate.
func (c *Credentials) NotAfter() time.Time { return c.leaf.NotAfter }

// Expired reports whether the client certificate has expired at now.
func (c *Credentials) Expired(now time.Time) bool { return now.After(c.leaf.NotAfter) }

// ClientCertificate opens the private key for one TLS handshake. It matches
// the tls.Config.GetClientCertificate signature once the request info is
// dropped.
func (c *Credentials) ClientCertificate() (*tls.Certificate, error) {
	const op = "credentials.client_certificate"

	c.mu.RLock()
	enclave := c.key
	c.mu.RUnlock()
	if enclave == nil {
		return nil, apierr.Config(op, "credentials have been destroyed", nil)
	}

	buf, err := enclave.Open()
	if err != nil {
		return nil, apierr.Config(op, "private key could not be opened", err)
	}
	defer buf.Destroy()

	key, err := parsePrivateKeyDER(buf.Bytes())
	if err != nil {
		return nil, apierr.Config(op, "private key could not be parsed", err)
	}

	return &tls.Certificate{
		Certificate: c.chain,
		PrivateKey:  key,
		Leaf:        c.leaf,
	}, nil
}

// WithPassword calls fn with the password in a locked buffer. The buffer is
// wiped when fn returns; fn must not retain the slice.
func (c *Credentials) WithPassword(fn func(password []byte) error) error {
	const op = "credentials.password"

	c.mu.RLock()
	enclave := c.password
	c.mu.RUnlock()
	if enclave == nil {
		return apierr.Config(op, "credentials have been destroyed", nil)
	}

	buf, err := enclave.Open()
	if err != nil {
		return apierr.Config(op, "password could not be opened", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Destroy releases the sealed secrets. Later uses fail with a config error.
// Safe to call more than once.
func (c *Credentials) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = nil
	c.key = nil
}

// String redacts every secret.
func (c *Credentials) String() string {
	return "credentials.Credentials{UserID: " + c.userID + ", Subject: " + c.leaf.Subject.String() + "}"
}

// GoString redacts every secret under %#v.
func (c *Credentials) GoString() string { return c.String() }
