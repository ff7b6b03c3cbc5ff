package credentials

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/sufield/vdp/internal/assert"
)

// Causes wrapped into CategoryConfig errors. They describe the failure
// without echoing any input.
var (
	errNoCertificate          = errors.New("no certificate found")
	errNoPrivateKey           = errors.New("no private key found")
	errMultiplePrivateKeys    = errors.New("more than one private key found")
	errIncorrectPassword      = errors.New("certificate passphrase is incorrect")
	errPasswordRequired       = errors.New("private key is encrypted and no passphrase was supplied")
	errUnsupportedEncryption  = errors.New("encrypted PKCS#8 private keys are not supported; use PKCS#12 or a legacy encrypted PEM key")
	errUnsupportedKeyType     = errors.New("unsupported private key type")
	errKeyCertificateMismatch = errors.New("private key does not match any certificate")
	errUndecodable            = errors.New("certificate bundle is not PEM and could not be read as PKCS#12")
)

// identity is a decoded client certificate chain and its private key.
// keyDER is PKCS#8 and must be wiped by the caller once sealed.
type identity struct {
	chain  [][]byte
	leaf   *x509.Certificate
	keyDER []byte
}

// decodeIdentity accepts a PKCS#12 bundle, or PEM certificate blocks with the
// private key either in the same blob or in keyBlob.
func decodeIdentity(certBlob, keyBlob []byte, password string) (*identity, error) {
	var (
		certs []*x509.Certificate
		key   crypto.PrivateKey
		err   error
	)
	if isPEM(certBlob) {
		certs, key, err = decodePEMBundle(certBlob, keyBlob, password)
	} else {
		if len(keyBlob) != 0 {
			return nil, errors.New("a separate private key is only supported with PEM certificates")
		}
		certs, key, err = decodePKCS12Bundle(certBlob, password)
	}
	if err != nil {
		return nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errUnsupportedKeyType
	}

	leafIdx := -1
	for i, c := range certs {
		if publicKeyEqual(signer.Public(), c.PublicKey) {
			leafIdx = i
			break
		}
	}
	if leafIdx < 0 {
		return nil, errKeyCertificateMismatch
	}

	chain := make([][]byte, 0, len(certs))
	chain = append(chain, certs[leafIdx].Raw)
	for i, c := range certs {
		if i != leafIdx {
			chain = append(chain, c.Raw)
		}
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, errUnsupportedKeyType
	}
	assert.Invariant(len(chain) == len(certs) && bytes.Equal(chain[0], certs[leafIdx].Raw),
		"identity chain must start with the leaf and keep every certificate")

	return &identity{
		chain:  chain,
		leaf:   certs[leafIdx],
		keyDER: keyDER,
	}, nil
}

func isPEM(blob []byte) bool {
	return bytes.Contains(blob, []byte("-----BEGIN "))
}

// decodePKCS12Bundle reads both legacy (RC2/3DES) and PBES2/AES bundles,
// the latter being what OpenSSL 3 exports by default.
func decodePKCS12Bundle(blob []byte, password string) ([]*x509.Certificate, crypto.PrivateKey, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(blob, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, nil, errIncorrectPassword
		}
		return nil, nil, errUndecodable
	}
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
	default:
		return nil, nil, errUnsupportedKeyType
	}
	return append([]*x509.Certificate{cert}, caCerts...), key, nil
}

func decodePEMBundle(certBlob, keyBlob []byte, password string) ([]*x509.Certificate, crypto.PrivateKey, error) {
	var (
		certs []*x509.Certificate
		key   crypto.PrivateKey
	)
	for _, blob := range [][]byte{certBlob, keyBlob} {
		rest := blob
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			switch block.Type {
			case "CERTIFICATE":
				cert, err := x509.ParseCertificate(block.Bytes)
				if err != nil {
					return nil, nil, fmt.Errorf("parse certificate: %w", err)
				}
				certs = append(certs, cert)
			case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY", "ENCRYPTED PRIVATE KEY":
				if key != nil {
					return nil, nil, errMultiplePrivateKeys
				}
				k, err := parsePEMPrivateKey(block, password)
				if err != nil {
					return nil, nil, err
				}
				key = k
			}
		}
	}
	if len(certs) == 0 {
		return nil, nil, errNoCertificate
	}
	if key == nil {
		return nil, nil, errNoPrivateKey
	}
	return certs, key, nil
}

// parsePEMPrivateKey decodes a private key block, decrypting legacy
// RFC 1423 encryption with password when present.
func parsePEMPrivateKey(block *pem.Block, password string) (crypto.PrivateKey, error) {
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		return nil, errUnsupportedEncryption
	}
	der := block.Bytes
	//nolint:staticcheck // legacy encrypted PEM is what the VDP dashboard hands out
	if x509.IsEncryptedPEMBlock(block) {
		if password == "" {
			return nil, errPasswordRequired
		}
		//nolint:staticcheck
		plain, err := x509.DecryptPEMBlock(block, []byte(password))
		if err != nil {
			return nil, errIncorrectPassword
		}
		defer memguard.WipeBytes(plain)
		der = plain
	}
	return parsePrivateKeyDER(der)
}

func parsePrivateKeyDER(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey, ed25519.PrivateKey:
			return key, nil
		default:
			return nil, errUnsupportedKeyType
		}
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errUnsupportedKeyType
}

func publicKeyEqual(a, b crypto.PublicKey) bool {
	k, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && k.Equal(b)
}
