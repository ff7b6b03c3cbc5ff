// Package transport is the mTLS HTTP layer of the client core.
//
// A Client owns its own http.Transport and connection pool. Independent
// clients share nothing, so several identities can be used side by side.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/credentials"
)

// Version is reported in the default User-Agent.
const Version = "0.3.0"

// CorrelationHeader carries a per-request identifier. A fresh one is
// generated when the caller does not set it.
const CorrelationHeader = "X-Correlation-Id"

// Default pool and timeout settings.
const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
)

// Observer receives one call per completed or failed request. Category is
// CategoryUnknown for requests that produced a response.
type Observer interface {
	ObserveRequest(method, path string, status int, category apierr.Category, elapsed time.Duration)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the scheme and host requests are sent to, e.g.
	// "https://sandbox.api.visa.com". Required.
	BaseURL string

	TLS TLSOptions

	// Timeout is the default per-request deadline. Zero means DefaultTimeout.
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// UserAgent replaces the default "vdp-go/<version>".
	UserAgent string

	// OwnCredentials makes Close destroy the credentials.
	OwnCredentials bool

	// Logger receives one debug line per request. Nil disables logging.
	Logger *zap.Logger

	// Observer is notified of every request. Optional.
	Observer Observer
}

// Client executes requests over mTLS. It is safe for concurrent use and
// carries no per-request state.
type Client struct {
	base      *url.URL
	http      *http.Client
	creds     *credentials.Credentials
	timeout   time.Duration
	userAgent string
	ownCreds  bool
	log       *zap.Logger
	observer  Observer

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Open builds a Client bound to creds.
func Open(creds *credentials.Credentials, opts Options) (*Client, error) {
	const op = "transport.open"

	if creds == nil {
		return nil, apierr.Config(op, "credentials are required", nil)
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, apierr.Config(op, fmt.Sprintf("invalid base url %q", opts.BaseURL), err)
	}
	if base.Scheme != "https" {
		return nil, apierr.Config(op, "base url must use https", nil)
	}

	tlsCfg, err := NewTLSConfig(creds, opts.TLS)
	if err != nil {
		return nil, err
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsCfg,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        orDefault(opts.MaxIdleConns, DefaultMaxIdleConns),
		MaxIdleConnsPerHost: orDefault(opts.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost),
		IdleConnTimeout:     orDefault(opts.IdleConnTimeout, DefaultIdleConnTimeout),
		TLSHandshakeTimeout: 10 * time.Second,
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "vdp-go/" + Version
	}

	return &Client{
		base: base,
		// The deadline is applied per request through the context so that
		// Request.Timeout can override it.
		http:      &http.Client{Transport: tr},
		creds:     creds,
		timeout:   orDefault(opts.Timeout, DefaultTimeout),
		userAgent: ua,
		ownCreds:  opts.OwnCredentials,
		log:       log.Named("transport"),
		observer:  opts.Observer,
	}, nil
}

// BaseURL returns the URL requests are resolved against.
func (c *Client) BaseURL() string { return c.base.String() }

// Execute sends req and reads the whole response body. Non-2xx statuses are
// not errors at this layer.
//
// Failures are CategoryTLS (handshake or certificate), CategoryTimeout
// (deadline), or CategoryNetwork (everything else on the wire). Cancelling
// ctx tears down the in-flight connection.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	const op = "transport.execute"

	if req == nil {
		return nil, apierr.Config(op, "request is required", nil)
	}
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, apierr.Config(op, "client is closed", nil)
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, apierr.Config(op, "invalid request path", err)
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apierr.Config(op, "request could not be built", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	correlationID := httpReq.Header.Get(CorrelationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
		httpReq.Header.Set(CorrelationHeader, correlationID)
	}

	if err := c.creds.WithPassword(func(pw []byte) error {
		httpReq.SetBasicAuth(c.creds.UserID(), string(pw))
		return nil
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		cerr := classify(op, err)
		c.done(method, req.Path, 0, cerr.Category, correlationID, time.Since(start))
		return nil, cerr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		cerr := classify(op, err)
		cerr.Status = resp.StatusCode
		c.done(method, req.Path, resp.StatusCode, cerr.Category, correlationID, time.Since(start))
		return nil, cerr
	}

	c.done(method, req.Path, resp.StatusCode, apierr.CategoryUnknown, correlationID, time.Since(start))
	return &Response{
		Status:        resp.StatusCode,
		Header:        resp.Header,
		Body:          data,
		CorrelationID: correlationID,
	}, nil
}

// Close releases idle connections, and the credentials when the client owns
// them. Later calls to Execute fail. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.http.CloseIdleConnections()
		if c.ownCreds {
			c.creds.Destroy()
		}
	})
	return nil
}

func (c *Client) resolve(path string, q Query) (string, error) {
	if strings.ContainsAny(path, "?#") {
		return "", fmt.Errorf("path %q must not contain a query or fragment", path)
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// done logs and observes one request. Headers and bodies are never logged.
func (c *Client) done(method, path string, status int, cat apierr.Category, correlationID string, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
		zap.String("correlation_id", correlationID),
	}
	if cat != apierr.CategoryUnknown {
		c.log.Debug("request failed", append(fields, zap.Stringer("category", cat))...)
	} else {
		c.log.Debug("request completed", fields...)
	}
	if c.observer != nil {
		c.observer.ObserveRequest(method, path, status, cat, elapsed)
	}
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
