// Package mle implements Message Level Encryption, the payload encryption
// VDP layers on top of mTLS.
//
// Every call to Encrypt draws a fresh content key and IV. The content key is
// wrapped with RSA-OAEP (SHA-256) under the server's public key, and the body
// is sealed with AES-GCM using the server key's fingerprint as additional
// authenticated data:
//
//	{
//	  "encData":           base64(ciphertext || tag),
//	  "encKey":            base64(RSA-OAEP-256(content key)),
//	  "iv":                base64(12 byte nonce),
//	  "encKeyFingerprint": "3A9F..."
//	}
//
// Decrypt fails closed: it returns either the whole plaintext or a
// CategoryDecryption error, never a prefix.
package mle

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/awnumar/memguard"

	"github.com/sufield/vdp/internal/assert"
	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/credentials"
)

const ivSize = 12

// Envelope is the four-field encrypted body.
type Envelope struct {
	EncData           string `json:"encData"`
	EncKey            string `json:"encKey"`
	IV                string `json:"iv"`
	EncKeyFingerprint string `json:"encKeyFingerprint"`
}

// missingField names the first absent field, or returns "".
func (e *Envelope) missingField() string {
	switch {
	case e.EncData == "":
		return "encData"
	case e.EncKey == "":
		return "encKey"
	case e.IV == "":
		return "iv"
	case e.EncKeyFingerprint == "":
		return "encKeyFingerprint"
	default:
		return ""
	}
}

// ParseEnvelope decodes wire JSON into an Envelope without decrypting it.
func ParseEnvelope(wire []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(wire, &env); err != nil {
		return nil, apierr.Decryption("mle.parse", "body is not an encrypted envelope", err)
	}
	return &env, nil
}

// Encrypt seals a JSON body for the holder of cert's private key.
func Encrypt(body []byte, cert *credentials.ServerCertificate, suite Suite) (*Envelope, error) {
	const op = "mle.encrypt"

	if cert == nil {
		return nil, apierr.Config(op, "server encryption certificate is required", nil)
	}
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, apierr.Config(op, "body is not valid JSON", nil)
	}

	key := memguard.NewBufferRandom(suite.keySize())
	defer key.Destroy()
	assert.Invariant(key.Size() == suite.keySize(), "content key size must match the suite")

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, apierr.Config(op, "iv generation failed", err)
	}

	ciphertext, err := aesGCMSeal(key.Bytes(), iv, body, []byte(cert.Fingerprint()))
	if err != nil {
		return nil, apierr.Config(op, "content encryption failed", err)
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, cert.PublicKey(), key.Bytes(), nil)
	if err != nil {
		return nil, apierr.Config(op, "content key wrap failed", err)
	}

	return &Envelope{
		EncData:           base64.StdEncoding.EncodeToString(ciphertext),
		EncKey:            base64.StdEncoding.EncodeToString(wrapped),
		IV:                base64.StdEncoding.EncodeToString(iv),
		EncKeyFingerprint: cert.Fingerprint(),
	}, nil
}

// Decrypt opens env with key. The envelope's fingerprint must equal the
// key's.
func Decrypt(env *Envelope, key *credentials.DecryptionKey, suite Suite) ([]byte, error) {
	const op = "mle.decrypt"

	if key == nil {
		return nil, apierr.Config(op, "decryption key is required", nil)
	}
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, apierr.Decryption(op, "envelope is empty", nil)
	}
	if f := env.missingField(); f != "" {
		return nil, apierr.Decryption(op, "envelope field "+f+" is missing", nil)
	}
	if env.EncKeyFingerprint != key.Fingerprint() {
		return nil, apierr.Decryption(op, "envelope fingerprint does not match the decryption key", nil)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.EncData)
	if err != nil {
		return nil, apierr.Decryption(op, "encData is not valid base64", err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(env.EncKey)
	if err != nil {
		return nil, apierr.Decryption(op, "encKey is not valid base64", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, apierr.Decryption(op, "iv is not valid base64", err)
	}
	if len(iv) != ivSize {
		return nil, apierr.Decryption(op, "iv has the wrong length", nil)
	}

	var plaintext []byte
	err = key.WithPrivateKey(func(priv *rsa.PrivateKey) error {
		raw, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
		if err != nil {
			return apierr.Decryption(op, "content key unwrap failed", err)
		}
		// Takes ownership of raw and wipes it.
		contentKey := memguard.NewBufferFromBytes(raw)
		defer contentKey.Destroy()

		if contentKey.Size() != suite.keySize() {
			return apierr.Decryption(op, "content key size does not match the suite", nil)
		}

		plaintext, err = aesGCMOpen(contentKey.Bytes(), iv, ciphertext, []byte(env.EncKeyFingerprint))
		if err != nil {
			return apierr.Decryption(op, "ciphertext authentication failed", err)
		}
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

func aesGCMSeal(key, iv, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv, plaintext, aad), nil
}

func aesGCMOpen(key, iv, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, ciphertext, aad)
}
