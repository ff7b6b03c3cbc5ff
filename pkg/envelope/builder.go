// Package envelope turns API calls into transport requests and responses
// back into JSON or structured errors, routing bodies through the MLE codec
// when a call is encrypted.
package envelope

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/mle"
	"github.com/sufield/vdp/pkg/transport"
)

// KeyIDHeader names the MLE key on encrypted requests.
const KeyIDHeader = "keyId"

// Builder builds and parses calls. A nil codec means MLE is not configured;
// asking such a builder to encrypt fails rather than sending plaintext.
type Builder struct {
	codec *mle.Codec
}

// NewBuilder returns a Builder. codec may be nil.
func NewBuilder(codec *mle.Codec) *Builder {
	return &Builder{codec: codec}
}

// CanEncrypt reports whether an MLE codec is configured.
func (b *Builder) CanEncrypt() bool { return b.codec != nil }

// Build assembles a request. body may be nil, raw JSON ([]byte or
// json.RawMessage) or any value encoding/json accepts.
func (b *Builder) Build(method, path string, query transport.Query, body any, encrypt bool) (*transport.Request, error) {
	const op = "envelope.build"

	if encrypt && b.codec == nil {
		return nil, apierr.Config(op, "encryption requested but mle is not configured", nil)
	}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, apierr.Config(op, "request body is not valid JSON", err)
	}

	req := &transport.Request{
		Method: method,
		Path:   path,
		Query:  query,
		Header: http.Header{},
	}

	if encrypt {
		if payload != nil {
			sealed, err := b.codec.Seal(payload)
			if err != nil {
				return nil, err
			}
			payload = sealed
		}
		// The key id is sent even without a body so the response comes
		// back encrypted.
		req.Header.Set(KeyIDHeader, b.codec.KeyID())
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Body = payload
	}
	return req, nil
}

// Parse returns the JSON body of a 2xx response, decrypting it first when
// the call was encrypted. An empty 2xx body yields JSON null.
//
// A non-2xx response becomes a CategoryAPI error. Its body is decrypted
// first if it carries an envelope; error bodies are not always encrypted.
// Decryption failures are CategoryDecryption.
func (b *Builder) Parse(resp *transport.Response, encrypted bool) (json.RawMessage, error) {
	const op = "envelope.parse"

	if resp == nil {
		return nil, apierr.Config(op, "response is required", nil)
	}
	if encrypted && b.codec == nil {
		return nil, apierr.Config(op, "encrypted response but mle is not configured", nil)
	}

	body := resp.Body
	if !resp.OK() {
		if encrypted && mle.IsEnvelope(body) {
			plain, err := b.codec.Open(body)
			if err != nil {
				return nil, err
			}
			body = plain
		}
		return nil, parseError(op, resp.Status, body)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if encrypted {
		plain, err := b.codec.Open(body)
		if err != nil {
			return nil, err
		}
		body = plain
	}
	if !json.Valid(body) {
		return nil, &apierr.Error{
			Category: apierr.CategoryAPI,
			Op:       op,
			Status:   resp.Status,
			Message:  "response body is not valid JSON",
			Body:     body,
		}
	}
	return json.RawMessage(body), nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return validJSON(v)
	case []byte:
		return validJSON(v)
	default:
		return json.Marshal(v)
	}
}

func validJSON(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if !json.Valid(b) {
		return nil, errInvalidJSON
	}
	return b, nil
}
