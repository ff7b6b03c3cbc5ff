package credentials

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/sufield/vdp/pkg/apierr"
)

var errNotRSA = errors.New("key is not RSA")

// Fingerprint returns the uppercase hex SHA-256 of the DER encoded
// SubjectPublicKeyInfo of pub.
func Fingerprint(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// ServerCertificate is the server's MLE encryption key. Immutable.
type ServerCertificate struct {
	keyID       string
	cert        *x509.Certificate
	pub         *rsa.PublicKey
	fingerprint string
}

// LoadServerCertificate parses a PEM CERTIFICATE or PUBLIC KEY block holding
// an RSA key. keyID is the identifier VDP assigned to the key pair.
func LoadServerCertificate(pemBytes []byte, keyID string) (*ServerCertificate, error) {
	const op = "credentials.load_server_certificate"

	if strings.TrimSpace(keyID) == "" {
		return nil, apierr.Config(op, "mle key id is required", nil)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, apierr.Config(op, "server encryption certificate is not PEM", nil)
	}

	sc := &ServerCertificate{keyID: keyID}
	var pub crypto.PublicKey
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, apierr.Config(op, "server encryption certificate could not be parsed", err)
		}
		sc.cert = cert
		pub = cert.PublicKey
	case "PUBLIC KEY":
		p, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, apierr.Config(op, "server encryption key could not be parsed", err)
		}
		pub = p
	default:
		return nil, apierr.Config(op, "unexpected PEM block "+block.Type, nil)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, apierr.Config(op, "server encryption key must be RSA", errNotRSA)
	}
	fp, err := Fingerprint(rsaPub)
	if err != nil {
		return nil, apierr.Config(op, "server encryption key fingerprint", err)
	}
	sc.pub = rsaPub
	sc.fingerprint = fp
	return sc, nil
}

func (s *ServerCertificate) KeyID() string             { return s.keyID }
func (s *ServerCertificate) PublicKey() *rsa.PublicKey { return s.pub }
func (s *ServerCertificate) Fingerprint() string       { return s.fingerprint }

// Certificate returns the parsed certificate, or nil when the key was
// supplied as a bare PUBLIC KEY block.
func (s *ServerCertificate) Certificate() *x509.Certificate { return s.cert }

// NotAfter returns the certificate expiry, or the zero time for a bare key.
func (s *ServerCertificate) NotAfter() time.Time {
	if s.cert == nil {
		return time.Time{}
	}
	return s.cert.NotAfter
}

// DecryptionKey is the client's MLE private key. The key itself stays sealed
// in an enclave and is only parsed inside WithPrivateKey.
type DecryptionKey struct {
	fingerprint string

	mu  sync.RWMutex
	key *memguard.Enclave
}

// LoadDecryptionKey parses an RSA private key in PEM form. Legacy encrypted
// PEM keys are decrypted with passphrase.
func LoadDecryptionKey(pemBytes []byte, passphrase string) (*DecryptionKey, error) {
	const op = "credentials.load_decryption_key"

	var key crypto.PrivateKey
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}
		k, err := parsePEMPrivateKey(block, passphrase)
		memguard.WipeBytes(block.Bytes)
		if err != nil {
			return nil, apierr.Config(op, "mle private key could not be decoded", err)
		}
		key = k
		break
	}
	if key == nil {
		return nil, apierr.Config(op, "mle private key could not be decoded", errNoPrivateKey)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, apierr.Config(op, "mle private key must be RSA", errNotRSA)
	}
	return NewDecryptionKey(rsaKey)
}

// NewDecryptionKey seals an already parsed key.
func NewDecryptionKey(key *rsa.PrivateKey) (*DecryptionKey, error) {
	const op = "credentials.new_decryption_key"

	fp, err := Fingerprint(&key.PublicKey)
	if err != nil {
		return nil, apierr.Config(op, "mle private key fingerprint", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, apierr.Config(op, "mle private key could not be sealed", err)
	}
	return &DecryptionKey{
		fingerprint: fp,
		key:         memguard.NewEnclave(der),
	}, nil
}

// Fingerprint matches the fingerprint of the corresponding server-side
// certificate.
func (k *DecryptionKey) Fingerprint() string { return k.fingerprint }

// WithPrivateKey opens the key for the duration of fn.
func (k *DecryptionKey) WithPrivateKey(fn func(*rsa.PrivateKey) error) error {
	const op = "credentials.decryption_key"

	k.mu.RLock()
	enclave := k.key
	k.mu.RUnlock()
	if enclave == nil {
		return apierr.Config(op, "decryption key has been destroyed", nil)
	}

	buf, err := enclave.Open()
	if err != nil {
		return apierr.Config(op, "decryption key could not be opened", err)
	}
	defer buf.Destroy()

	parsed, err := x509.ParsePKCS8PrivateKey(buf.Bytes())
	if err != nil {
		return apierr.Config(op, "decryption key could not be parsed", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return apierr.Config(op, "decryption key must be RSA", errNotRSA)
	}
	return fn(rsaKey)
}

// Destroy releases the sealed key. Safe to call more than once.
func (k *DecryptionKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = nil
}
