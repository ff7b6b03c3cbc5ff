package mle

import (
	"bytes"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/awnumar/memguard"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"

	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/credentials"
)

// jweBody is the wire shape of FormatJWE.
type jweBody struct {
	EncData string `json:"encData"`
}

// jweHeader is the subset of the protected header this package checks.
type jweHeader struct {
	Alg string `json:"alg"`
	Enc string `json:"enc"`
	Kid string `json:"kid"`
}

// encryptJWE produces a compact JWE with kid set to the server key ID and
// iat in milliseconds.
func encryptJWE(body []byte, cert *credentials.ServerCertificate, suite Suite) (string, error) {
	const op = "mle.encrypt"

	if !json.Valid(body) {
		return "", apierr.Config(op, "body is not valid JSON", nil)
	}

	h := jwe.NewHeaders()
	if err := h.Set(jwe.KeyIDKey, cert.KeyID()); err != nil {
		return "", apierr.Config(op, "jwe header", err)
	}
	if err := h.Set("iat", time.Now().UnixMilli()); err != nil {
		return "", apierr.Config(op, "jwe header", err)
	}

	compact, err := jwe.Encrypt(body,
		jwe.WithKey(jwa.RSA_OAEP_256(), cert.PublicKey()),
		jwe.WithContentEncryption(suite.contentEncryption()),
		jwe.WithProtectedHeaders(h),
	)
	if err != nil {
		return "", apierr.Config(op, "jwe encryption failed", err)
	}
	return string(compact), nil
}

// decryptJWE opens a compact JWE. The protected header must name the
// configured suite.
func decryptJWE(compact string, key *credentials.DecryptionKey, suite Suite) ([]byte, error) {
	const op = "mle.decrypt"

	hdr, err := protectedHeader(compact)
	if err != nil {
		return nil, apierr.Decryption(op, "jwe header is malformed", err)
	}
	if hdr.Alg != jwa.RSA_OAEP_256().String() || hdr.Enc != suite.contentEncryption().String() {
		return nil, apierr.Decryption(op, "jwe algorithms do not match the suite", nil)
	}

	var plaintext []byte
	err = key.WithPrivateKey(func(priv *rsa.PrivateKey) error {
		out, err := jwe.Decrypt([]byte(compact), jwe.WithKey(jwa.RSA_OAEP_256(), priv))
		if err != nil {
			return apierr.Decryption(op, "jwe decryption failed", err)
		}
		plaintext = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !json.Valid(plaintext) {
		memguard.WipeBytes(plaintext)
		return nil, apierr.Decryption(op, "plaintext is not valid JSON", nil)
	}
	return plaintext, nil
}

func protectedHeader(compact string) (*jweHeader, error) {
	seg, _, ok := bytes.Cut([]byte(compact), []byte("."))
	if !ok {
		return nil, errNotCompact
	}
	raw, err := base64.RawURLEncoding.DecodeString(string(seg))
	if err != nil {
		return nil, err
	}
	var h jweHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
