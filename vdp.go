// Package vdp is a client for the Visa Developer Platform: mutual TLS with
// a client certificate, Basic authentication, and optional Message Level
// Encryption (MLE) of request and response bodies.
//
// Quick Start:
//
//	client, err := vdp.Open("vdp.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	res, err := client.HelloWorld(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Message)
//
// Calls with a body:
//
//	out, err := client.Do(ctx, http.MethodPost, "/forexrates/v2/foreignexchangerates",
//	    nil, payload, vdp.WithEncryption())
//
// Errors carry a category (see pkg/apierr) matched with errors.Is against
// apierr.ErrTLS, apierr.ErrNetwork and the other sentinels. The client never
// retries; pkg/retry is available to callers that want it.
package vdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sufield/vdp/internal/logging"
	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/credentials"
	"github.com/sufield/vdp/pkg/envelope"
	"github.com/sufield/vdp/pkg/mle"
	"github.com/sufield/vdp/pkg/probe"
	"github.com/sufield/vdp/pkg/transport"
)

// Level is a VDP environment.
type Level = probe.Level

const (
	Sandbox       = probe.Sandbox
	Certification = probe.Certification
	Production    = probe.Production
)

// Config is everything New needs. Certificate and key material is passed as
// bytes; Open reads it from the paths in a config file.
type Config struct {
	// Level selects the base URL. Empty means Sandbox.
	Level Level

	// BaseURL overrides the level's base URL.
	BaseURL string

	UserID   string
	Password string

	// ClientCert is a PKCS#12 bundle or PEM. ClientKey is an optional
	// separate PEM key.
	ClientCert         []byte
	ClientKey          []byte
	ClientCertPassword string

	// CABundle holds the PEM roots the server is verified against. Empty
	// means the system roots.
	CABundle   []byte
	ServerName string

	// MinTLSVersion is tls.VersionTLS12 (default) or tls.VersionTLS13.
	MinTLSVersion uint16

	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// MLE enables Message Level Encryption for every call. Nil disables it.
	MLE *MLEConfig

	Logger   *zap.Logger
	Observer transport.Observer
}

// MLEConfig holds the MLE key material. Suite has no default.
type MLEConfig struct {
	KeyID              string
	ServerCert         []byte
	PrivateKey         []byte
	PrivateKeyPassword string
	Suite              mle.Suite
	Format             mle.Format

	// Required rejects calls made WithoutEncryption. Without it a call can
	// opt out; either way calls are encrypted by default.
	Required bool
}

// String redacts secrets.
func (c Config) String() string {
	return fmt.Sprintf("vdp.Config{Level:%q BaseURL:%q UserID:%q Password:<redacted> MLE:%t}",
		c.Level, c.BaseURL, c.UserID, c.MLE != nil)
}

// GoString redacts secrets under %#v.
func (c Config) GoString() string { return c.String() }

// Client calls one VDP environment with one identity. It is safe for
// concurrent use. Independent clients share nothing.
type Client struct {
	level     Level
	transport *transport.Client
	builder   *envelope.Builder
	codec     *mle.Codec
	required  bool
	log       *zap.Logger

	closeOnce sync.Once
}

// New loads the credentials, opens the transport and, when cfg.MLE is set,
// builds the MLE codec. All failures are CategoryConfig except unusable CA
// material, which is CategoryTLS.
func New(cfg Config) (*Client, error) {
	const op = "vdp.new"

	level, err := probe.ParseLevel(string(cfg.Level))
	if err != nil {
		return nil, err
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = level.BaseURL()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var codec *mle.Codec
	if cfg.MLE != nil {
		codec, err = newCodec(cfg.MLE)
		if err != nil {
			return nil, err
		}
	}

	creds, err := credentials.Load(credentials.Config{
		UserID:             cfg.UserID,
		Password:           cfg.Password,
		ClientCert:         cfg.ClientCert,
		ClientKey:          cfg.ClientKey,
		ClientCertPassword: cfg.ClientCertPassword,
	})
	if err != nil {
		destroyCodec(codec)
		return nil, err
	}

	tr, err := transport.Open(creds, transport.Options{
		BaseURL: baseURL,
		TLS: transport.TLSOptions{
			CABundle:   cfg.CABundle,
			ServerName: cfg.ServerName,
			MinVersion: cfg.MinTLSVersion,
		},
		Timeout:             cfg.Timeout,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		OwnCredentials:      true,
		Logger:              log,
		Observer:            cfg.Observer,
	})
	if err != nil {
		creds.Destroy()
		destroyCodec(codec)
		return nil, err
	}

	if creds.Expired(time.Now()) {
		log.Warn("client certificate has expired", zap.Time("not_after", creds.NotAfter()))
	}
	log.Debug("client ready",
		zap.String("op", op),
		zap.String("level", string(level)),
		zap.String("base_url", tr.BaseURL()),
		zap.String("user_id", creds.UserID()),
		logging.Redacted("password", cfg.Password != ""),
		zap.Bool("mle", codec != nil),
	)

	return &Client{
		level:     level,
		transport: tr,
		builder:   envelope.NewBuilder(codec),
		codec:     codec,
		required:  cfg.MLE != nil && cfg.MLE.Required,
		log:       log,
	}, nil
}

func newCodec(m *MLEConfig) (*mle.Codec, error) {
	suite, err := mle.ParseSuite(string(m.Suite))
	if err != nil {
		return nil, err
	}
	format, err := mle.ParseFormat(string(m.Format))
	if err != nil {
		return nil, err
	}
	cert, err := credentials.LoadServerCertificate(m.ServerCert, m.KeyID)
	if err != nil {
		return nil, err
	}
	key, err := credentials.LoadDecryptionKey(m.PrivateKey, m.PrivateKeyPassword)
	if err != nil {
		return nil, err
	}
	codec, err := mle.NewCodec(cert, key, suite, format)
	if err != nil {
		key.Destroy()
		return nil, err
	}
	return codec, nil
}

func destroyCodec(c *mle.Codec) {
	if c != nil {
		c.Destroy()
	}
}

// Level returns the environment the client talks to.
func (c *Client) Level() Level { return c.level }

// MLEEnabled reports whether the client can encrypt.
func (c *Client) MLEEnabled() bool { return c.codec != nil }

// CallOption adjusts a single Do call.
type CallOption func(*callOptions)

type callOptions struct {
	encrypt *bool
	timeout time.Duration
	header  http.Header
}

// WithEncryption encrypts the request body and expects an encrypted
// response. It is the default when MLE is configured; without MLE the call
// fails with CategoryConfig.
func WithEncryption() CallOption {
	return func(o *callOptions) {
		t := true
		o.encrypt = &t
	}
}

// WithoutEncryption sends the call in plaintext on a client with MLE
// configured. Fails with CategoryConfig when MLE is Required.
func WithoutEncryption() CallOption {
	return func(o *callOptions) {
		f := false
		o.encrypt = &f
	}
}

// WithTimeout overrides the client's default deadline for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithHeader adds a request header. Headers set for MLE take precedence.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, value)
	}
}

// Do sends one call and returns the response JSON.
//
// body may be nil, raw JSON ([]byte or json.RawMessage) or any value
// encoding/json accepts. A non-2xx status is a CategoryAPI error carrying
// the status, VDP error code and raw body.
func (c *Client) Do(ctx context.Context, method, path string, query transport.Query, body any, opts ...CallOption) (json.RawMessage, error) {
	const op = "vdp.do"

	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	encrypt := c.codec != nil
	if o.encrypt != nil {
		encrypt = *o.encrypt
	}
	if c.required && !encrypt {
		return nil, apierr.Config(op, "mle is required for every call on this client", nil)
	}

	req, err := c.builder.Build(method, path, query, body, encrypt)
	if err != nil {
		return nil, err
	}
	req.Timeout = o.timeout
	if len(o.header) > 0 {
		h := o.header.Clone()
		for k, vs := range req.Header {
			h[k] = vs
		}
		req.Header = h
	}

	resp, err := c.transport.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.builder.Parse(resp, encrypt)
}

// HelloWorld runs the connectivity probe. It never uses MLE.
func (c *Client) HelloWorld(ctx context.Context) (*probe.Result, error) {
	return probe.Ping(ctx, c.transport, c.level)
}

// Close releases connections and wipes the credentials and MLE key. Later
// calls fail with CategoryConfig. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Close()
		destroyCodec(c.codec)
		c.log.Debug("client closed", zap.String("level", string(c.level)))
	})
	return err
}
