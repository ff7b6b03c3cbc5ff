package mle

// Message Level Encryption Tests
//
// These tests verify the round trip of both wire formats, the freshness of key
// material per call, and that every malformed or mismatched envelope fails
// closed with a decryption error.
//
// Run these tests with:
//
//	go test ./pkg/mle/... -v
//	PBT_MAX_COUNT=50 go test ./pkg/mle/... -run Properties

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"testing"
	"testing/quick"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/vdp/internal/testhelpers"
	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/credentials"
)

type keyPair struct {
	cert *credentials.ServerCertificate
	key  *credentials.DecryptionKey
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()

	id := testhelpers.SelfSigned(t, "mle-server")
	cert, err := credentials.LoadServerCertificate(id.CertPEM, "key-1")
	require.NoError(t, err)
	key, err := credentials.LoadDecryptionKey(id.KeyPEM, "")
	require.NoError(t, err)
	return keyPair{cert: cert, key: key}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	kp := newKeyPair(t)

	for _, suite := range Suites {
		t.Run(string(suite), func(t *testing.T) {
			body := []byte(`{"amount":"10.00","currency":"USD","nested":{"ok":true}}`)

			env, err := Encrypt(body, kp.cert, suite)
			require.NoError(t, err)
			assert.Equal(t, kp.cert.Fingerprint(), env.EncKeyFingerprint)
			assert.NotContains(t, env.EncData, "amount")

			got, err := Decrypt(env, kp.key, suite)
			require.NoError(t, err)
			assert.JSONEq(t, string(body), string(got))
		})
	}
}

func TestEncrypt_FreshKeyAndIVPerCall(t *testing.T) {
	kp := newKeyPair(t)
	body := []byte(`{"same":"body"}`)

	a, err := Encrypt(body, kp.cert, SuiteRSAOAEP256A256GCM)
	require.NoError(t, err)
	b, err := Encrypt(body, kp.cert, SuiteRSAOAEP256A256GCM)
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.EncKey, b.EncKey)
	assert.NotEqual(t, a.EncData, b.EncData)

	// The unwrapped content keys must differ too, not only their wrappings.
	ka := unwrap(t, kp.key, a)
	kb := unwrap(t, kp.key, b)
	assert.NotEqual(t, ka, kb)
}

func TestEncrypt_RejectsNonJSON(t *testing.T) {
	kp := newKeyPair(t)

	_, err := Encrypt([]byte("not json"), kp.cert, SuiteRSAOAEP256A256GCM)
	assert.ErrorIs(t, err, apierr.ErrConfig)
}

func TestEncrypt_RequiresSuite(t *testing.T) {
	kp := newKeyPair(t)

	_, err := Encrypt([]byte(`{}`), kp.cert, "")
	assert.ErrorIs(t, err, apierr.ErrConfig)

	_, err = Encrypt([]byte(`{}`), kp.cert, "RSA1_5+A128CBC-HS256")
	assert.ErrorIs(t, err, apierr.ErrConfig)
}

func TestDecrypt_FailsClosed(t *testing.T) {
	kp := newKeyPair(t)
	other := newKeyPair(t)

	fresh := func(t *testing.T) *Envelope {
		env, err := Encrypt([]byte(`{"pan":"4111111111111111"}`), kp.cert, SuiteRSAOAEP256A256GCM)
		require.NoError(t, err)
		return env
	}

	tests := []struct {
		name   string
		mutate func(*Envelope)
		key    *credentials.DecryptionKey
		suite  Suite
	}{
		{name: "missing encData", mutate: func(e *Envelope) { e.EncData = "" }},
		{name: "missing encKey", mutate: func(e *Envelope) { e.EncKey = "" }},
		{name: "missing iv", mutate: func(e *Envelope) { e.IV = "" }},
		{name: "missing fingerprint", mutate: func(e *Envelope) { e.EncKeyFingerprint = "" }},
		{name: "fingerprint mismatch", mutate: func(e *Envelope) { e.EncKeyFingerprint = other.key.Fingerprint() }},
		{name: "fingerprint corrupted", mutate: func(e *Envelope) { e.EncKeyFingerprint = strings.ToLower(e.EncKeyFingerprint) }},
		{name: "wrong private key", key: other.key, mutate: func(e *Envelope) { e.EncKeyFingerprint = other.key.Fingerprint() }},
		{name: "bad base64", mutate: func(e *Envelope) { e.EncData = "!!!not base64!!!" }},
		{name: "short iv", mutate: func(e *Envelope) { e.IV = base64.StdEncoding.EncodeToString([]byte("short")) }},
		{name: "tampered ciphertext", mutate: func(e *Envelope) { e.EncData = flipByte(t, e.EncData) }},
		{name: "tampered iv", mutate: func(e *Envelope) { e.IV = flipByte(t, e.IV) }},
		{name: "suite key size mismatch", suite: SuiteRSAOAEP256A128GCM, mutate: func(*Envelope) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := fresh(t)
			tt.mutate(env)
			key := kp.key
			if tt.key != nil {
				key = tt.key
			}
			suite := SuiteRSAOAEP256A256GCM
			if tt.suite != "" {
				suite = tt.suite
			}

			plain, err := Decrypt(env, key, suite)
			require.Error(t, err)
			assert.Nil(t, plain)
			assert.ErrorIs(t, err, apierr.ErrDecryption)
			assert.NotContains(t, err.Error(), "4111111111111111")
		})
	}
}

func TestCodec_SealOpen(t *testing.T) {
	kp := newKeyPair(t)

	for _, format := range []Format{FormatFields, FormatJWE} {
		for _, suite := range Suites {
			t.Run(string(format)+"/"+string(suite), func(t *testing.T) {
				codec, err := NewCodec(kp.cert, kp.key, suite, format)
				require.NoError(t, err)
				assert.Equal(t, "key-1", codec.KeyID())

				wire, err := codec.Seal([]byte(`{"hello":"world"}`))
				require.NoError(t, err)
				assert.True(t, IsEnvelope(wire))
				assert.NotContains(t, string(wire), "world")

				got, err := codec.Open(wire)
				require.NoError(t, err)
				assert.JSONEq(t, `{"hello":"world"}`, string(got))
			})
		}
	}
}

func TestCodec_JWEHeader(t *testing.T) {
	kp := newKeyPair(t)
	codec, err := NewCodec(kp.cert, kp.key, SuiteRSAOAEP256A128GCM, FormatJWE)
	require.NoError(t, err)

	wire, err := codec.Seal([]byte(`{}`))
	require.NoError(t, err)

	var b jweBody
	require.NoError(t, json.Unmarshal(wire, &b))
	hdr, err := protectedHeader(b.EncData)
	require.NoError(t, err)
	assert.Equal(t, "RSA-OAEP-256", hdr.Alg)
	assert.Equal(t, "A128GCM", hdr.Enc)
	assert.Equal(t, "key-1", hdr.Kid)

	// Same key pair, different suite: the header no longer matches.
	strict, err := NewCodec(kp.cert, kp.key, SuiteRSAOAEP256A256GCM, FormatJWE)
	require.NoError(t, err)
	_, err = strict.Open(wire)
	assert.ErrorIs(t, err, apierr.ErrDecryption)
}

func TestCodec_OpenRejectsPlaintext(t *testing.T) {
	kp := newKeyPair(t)

	for _, format := range []Format{FormatFields, FormatJWE} {
		codec, err := NewCodec(kp.cert, kp.key, SuiteRSAOAEP256A256GCM, format)
		require.NoError(t, err)

		for _, wire := range []string{`{"message":"hi"}`, `not json`, `[]`, `{"encData":"x.y.z"}`} {
			_, err := codec.Open([]byte(wire))
			assert.ErrorIs(t, err, apierr.ErrDecryption, "format %s, wire %s", format, wire)
		}
	}
}

func TestDecryptJWE_RejectsNonJSONPlaintext(t *testing.T) {
	kp := newKeyPair(t)

	compact, err := jwe.Encrypt([]byte("pan=4111111111111111"),
		jwe.WithKey(jwa.RSA_OAEP_256(), kp.cert.PublicKey()),
		jwe.WithContentEncryption(jwa.A256GCM()),
	)
	require.NoError(t, err)

	out, err := decryptJWE(string(compact), kp.key, SuiteRSAOAEP256A256GCM)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, apierr.ErrDecryption)
	assert.Contains(t, err.Error(), "not valid JSON")
	assert.NotContains(t, err.Error(), "4111111111111111")
}

func TestNewCodec_Validation(t *testing.T) {
	kp := newKeyPair(t)

	_, err := NewCodec(nil, kp.key, SuiteRSAOAEP256A256GCM, FormatFields)
	assert.ErrorIs(t, err, apierr.ErrConfig)
	_, err = NewCodec(kp.cert, nil, SuiteRSAOAEP256A256GCM, FormatFields)
	assert.ErrorIs(t, err, apierr.ErrConfig)
	_, err = NewCodec(kp.cert, kp.key, "", FormatFields)
	assert.ErrorIs(t, err, apierr.ErrConfig)
	_, err = NewCodec(kp.cert, kp.key, SuiteRSAOAEP256A256GCM, "xml")
	assert.ErrorIs(t, err, apierr.ErrConfig)

	codec, err := NewCodec(kp.cert, kp.key, SuiteRSAOAEP256A256GCM, "")
	require.NoError(t, err)
	assert.Equal(t, FormatFields, codec.Format())
}

func TestParseSuite(t *testing.T) {
	s, err := ParseSuite("rsa-oaep-256+a128gcm")
	require.NoError(t, err)
	assert.Equal(t, SuiteRSAOAEP256A128GCM, s)

	_, err = ParseSuite("")
	assert.ErrorIs(t, err, apierr.ErrConfig)
}

// TestEncryptDecrypt_Properties checks decrypt(encrypt(B)) == B for
// generated JSON bodies.
func TestEncryptDecrypt_Properties(t *testing.T) {
	kp := newKeyPair(t)

	property := func(s string, n int64, flag bool, list []string) bool {
		body, err := json.Marshal(map[string]any{"s": s, "n": n, "flag": flag, "list": list})
		if err != nil {
			return false
		}
		env, err := Encrypt(body, kp.cert, SuiteRSAOAEP256A256GCM)
		if err != nil {
			return false
		}
		got, err := Decrypt(env, kp.key, SuiteRSAOAEP256A256GCM)
		return err == nil && string(got) == string(body)
	}

	require.NoError(t, quick.Check(property, pbtConfig()))
}

func pbtConfig() *quick.Config {
	maxCount := 100
	if v := os.Getenv("PBT_MAX_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxCount = n
		}
	}
	return &quick.Config{MaxCount: maxCount}
}

func unwrap(t *testing.T, key *credentials.DecryptionKey, env *Envelope) []byte {
	t.Helper()

	wrapped, err := base64.StdEncoding.DecodeString(env.EncKey)
	require.NoError(t, err)

	var out []byte
	require.NoError(t, key.WithPrivateKey(func(priv *rsa.PrivateKey) error {
		k, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
		out = k
		return err
	}))
	return out
}

func flipByte(t *testing.T, b64 string) string {
	t.Helper()

	raw, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	return base64.StdEncoding.EncodeToString(raw)
}
