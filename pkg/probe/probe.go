// Package probe implements the HelloWorld connectivity check: a bodiless GET
// that exercises credentials, certificates and reachability without MLE.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/envelope"
	"github.com/sufield/vdp/pkg/transport"
)

var errEmptyBody = errors.New("body is empty")

// Level is a VDP environment.
type Level string

const (
	Sandbox       Level = "sandbox"
	Certification Level = "certification"
	Production    Level = "production"
)

// ParseLevel parses a level name, case-insensitively. Empty means Sandbox.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sandbox:
		return Sandbox, nil
	case Certification, "cert":
		return Certification, nil
	case Production, "prod":
		return Production, nil
	default:
		return "", apierr.Config("probe.level", fmt.Sprintf("unknown api level %q", s), nil)
	}
}

// BaseURL returns the API host for the level.
func (l Level) BaseURL() string {
	switch l {
	case Certification:
		return "https://cert.api.visa.com"
	case Production:
		return "https://api.visa.com"
	default:
		return "https://sandbox.api.visa.com"
	}
}

// Path returns the HelloWorld path, which differs in production.
func Path(l Level) string {
	if l == Production {
		return "/helloworld"
	}
	return "/vdp/helloworld"
}

// Executor is the part of transport.Client the probe needs.
type Executor interface {
	Execute(ctx context.Context, req *transport.Request) (*transport.Response, error)
}

// Result is a successful probe.
type Result struct {
	Status        int
	Body          json.RawMessage
	Message       string
	CorrelationID string
	Elapsed       time.Duration
}

// Ping calls HelloWorld. Transport failures are returned unchanged; a
// non-2xx status is a CategoryAPI error carrying the status.
func Ping(ctx context.Context, c Executor, level Level) (*Result, error) {
	start := time.Now()
	resp, err := c.Execute(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   Path(level),
	})
	if err != nil {
		return nil, err
	}

	body, err := envelope.NewBuilder(nil).Parse(resp, false)
	if err != nil {
		return nil, err
	}

	msg, err := decodeHello(body)
	if err != nil {
		e := apierr.Wrap(apierr.CategoryAPI, "probe.ping", "helloworld response is not a JSON object", err)
		e.Status = resp.Status
		e.Body = resp.Body
		return nil, e
	}

	return &Result{
		Status:        resp.Status,
		Body:          body,
		Message:       msg,
		CorrelationID: resp.CorrelationID,
		Elapsed:       time.Since(start),
	}, nil
}

// decodeHello returns the message field of a HelloWorld body. The body must
// be an object; the field itself may be absent.
func decodeHello(body json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", err
	}
	if fields == nil {
		return "", errEmptyBody
	}
	raw, ok := fields["message"]
	if !ok {
		return "", nil
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", fmt.Errorf("message field: %w", err)
	}
	return msg, nil
}
