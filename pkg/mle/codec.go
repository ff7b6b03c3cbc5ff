package mle

import (
	"encoding/json"
	"errors"

	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/credentials"
)

var errNotCompact = errors.New("not a compact JWE")

// Codec binds the MLE key material, suite and wire format of one client.
// It holds no per-call state and is safe for concurrent use.
type Codec struct {
	cert   *credentials.ServerCertificate
	key    *credentials.DecryptionKey
	suite  Suite
	format Format
}

// NewCodec validates its inputs. Both keys are required: MLE responses are
// encrypted whenever the request was.
func NewCodec(cert *credentials.ServerCertificate, key *credentials.DecryptionKey, suite Suite, format Format) (*Codec, error) {
	const op = "mle.codec"

	if cert == nil {
		return nil, apierr.Config(op, "server encryption certificate is required", nil)
	}
	if key == nil {
		return nil, apierr.Config(op, "mle private key is required", nil)
	}
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	f, err := ParseFormat(string(format))
	if err != nil {
		return nil, err
	}
	return &Codec{cert: cert, key: key, suite: suite, format: f}, nil
}

// KeyID is sent in the keyId header of encrypted requests.
func (c *Codec) KeyID() string  { return c.cert.KeyID() }
func (c *Codec) Suite() Suite   { return c.suite }
func (c *Codec) Format() Format { return c.format }

// Seal encrypts a JSON body into wire JSON.
func (c *Codec) Seal(body []byte) ([]byte, error) {
	switch c.format {
	case FormatJWE:
		compact, err := encryptJWE(body, c.cert, c.suite)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jweBody{EncData: compact})
	default:
		env, err := Encrypt(body, c.cert, c.suite)
		if err != nil {
			return nil, err
		}
		return json.Marshal(env)
	}
}

// Open decrypts wire JSON produced by the peer's Seal.
func (c *Codec) Open(wire []byte) ([]byte, error) {
	switch c.format {
	case FormatJWE:
		var b jweBody
		if err := json.Unmarshal(wire, &b); err != nil {
			return nil, apierr.Decryption("mle.decrypt", "body is not an encrypted envelope", err)
		}
		if b.EncData == "" {
			return nil, apierr.Decryption("mle.decrypt", "envelope field encData is missing", nil)
		}
		return decryptJWE(b.EncData, c.key, c.suite)
	default:
		env, err := ParseEnvelope(wire)
		if err != nil {
			return nil, err
		}
		return Decrypt(env, c.key, c.suite)
	}
}

// Destroy releases the decryption key.
func (c *Codec) Destroy() {
	c.key.Destroy()
}

// IsEnvelope reports whether wire looks like an encrypted body of either
// format. Error responses from VDP are not always encrypted.
func IsEnvelope(wire []byte) bool {
	var probe struct {
		EncData *string `json:"encData"`
	}
	return json.Unmarshal(wire, &probe) == nil && probe.EncData != nil
}
