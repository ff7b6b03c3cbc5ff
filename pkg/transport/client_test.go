package transport

// mTLS Transport Tests
//
// These tests run the client against an in-process mTLS mock server and
// verify request construction (auth, headers, ordered query), error
// classification (TLS vs network vs timeout), and lifecycle.
//
// Run these tests with:
//
//	go test ./pkg/transport/... -v
//	go test ./pkg/transport/... -run TestExecute_Classification -v

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sufield/vdp/internal/testhelpers"
	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/credentials"
)

func loadCreds(t *testing.T, id *testhelpers.Identity) *credentials.Credentials {
	t.Helper()

	creds, err := credentials.Load(credentials.Config{
		UserID:     "user-1",
		Password:   "s3cr3t-pw",
		ClientCert: id.CombinedPEM(),
	})
	require.NoError(t, err)
	t.Cleanup(creds.Destroy)
	return creds
}

func openClient(t *testing.T, baseURL string, pki *testhelpers.PKI, creds *credentials.Credentials, mutate ...func(*Options)) *Client {
	t.Helper()

	opts := Options{
		BaseURL: baseURL,
		TLS:     TLSOptions{CABundle: pki.CAPEM},
		Timeout: 5 * time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := Open(creds, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestExecute_Success(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServer(t, pki)
	c := openClient(t, srv.URL, pki, loadCreds(t, pki.IssueClient(t, "client-1")))

	resp, err := c.Execute(context.Background(), &Request{
		Method: http.MethodGet,
		Path:   "/vdp/helloworld",
		Query:  Query{}.Add("z", "1").Add("a", "two words").Add("z", "3"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.OK())
	assert.JSONEq(t, testhelpers.HelloWorldBody, string(resp.Body))

	got := srv.LastRequest(t)
	assert.Equal(t, "/vdp/helloworld", got.Path)
	assert.Equal(t, "z=1&a=two+words&z=3", got.RawQuery)
	assert.Equal(t, "user-1", got.Username)
	assert.Equal(t, "s3cr3t-pw", got.Password)
	assert.Equal(t, "client-1", got.ClientCN)
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, "vdp-go/"+Version, got.Header.Get("User-Agent"))
	assert.NotEmpty(t, got.Header.Get(CorrelationHeader))
	assert.Equal(t, resp.CorrelationID, got.Header.Get(CorrelationHeader))
}

func TestExecute_TLS13(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServerTLS13(t, pki)
	c := openClient(t, srv.URL, pki, loadCreds(t, pki.IssueClient(t, "client-13")),
		func(o *Options) { o.TLS.MinVersion = tls.VersionTLS13 })

	resp, err := c.Execute(context.Background(), &Request{Path: "/vdp/helloworld"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "client-13", srv.LastRequest(t).ClientCN)
}

func TestExecute_CallerHeadersWin(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServer(t, pki, func(r chi.Router) {
		r.Post("/echo", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
	})
	c := openClient(t, srv.URL, pki, loadCreds(t, pki.IssueClient(t, "client-1")))

	h := http.Header{}
	h.Set("x-correlation-id", "corr-42")
	h.Set("keyId", "key-1")
	resp, err := c.Execute(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "echo",
		Header: h,
		Body:   []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "corr-42", resp.CorrelationID)

	got := srv.LastRequest(t)
	assert.Equal(t, "corr-42", got.Header.Get(CorrelationHeader))
	assert.Equal(t, "key-1", got.Header.Get("KeyId"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, `{"a":1}`, string(got.Body))
}

func TestExecute_NonSuccessStatusIsNotAnError(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServer(t, pki, testhelpers.HelloWorldRoutes(http.StatusUnauthorized, `{"message":"nope"}`))
	c := openClient(t, srv.URL, pki, loadCreds(t, pki.IssueClient(t, "client-1")))

	resp, err := c.Execute(context.Background(), &Request{Path: "/vdp/helloworld"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.False(t, resp.OK())
}

func TestExecute_Classification(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServer(t, pki, testhelpers.SlowRoutes("/slow", 5*time.Second), testhelpers.HelloWorldRoutes(http.StatusOK, "{}"))
	srv13 := testhelpers.NewServerTLS13(t, pki)
	good := loadCreds(t, pki.IssueClient(t, "client-1"))

	tests := []struct {
		name    string
		client  func(t *testing.T) *Client
		request *Request
		want    error
	}{
		{
			name: "client certificate from another CA",
			client: func(t *testing.T) *Client {
				return openClient(t, srv.URL, pki, loadCreds(t, testhelpers.SelfSigned(t, "stranger")))
			},
			request: &Request{Path: "/vdp/helloworld"},
			want:    apierr.ErrTLS,
		},
		{
			name: "expired client certificate",
			client: func(t *testing.T) *Client {
				return openClient(t, srv.URL, pki, loadCreds(t, pki.IssueExpiredClient(t, "old")))
			},
			request: &Request{Path: "/vdp/helloworld"},
			want:    apierr.ErrTLS,
		},
		{
			name: "tls 1.3 client certificate from another CA",
			client: func(t *testing.T) *Client {
				return openClient(t, srv13.URL, pki, loadCreds(t, testhelpers.SelfSigned(t, "stranger")))
			},
			request: &Request{Path: "/vdp/helloworld"},
			want:    apierr.ErrTLS,
		},
		{
			name: "tls 1.3 expired client certificate",
			client: func(t *testing.T) *Client {
				return openClient(t, srv13.URL, pki, loadCreds(t, pki.IssueExpiredClient(t, "old")))
			},
			request: &Request{Path: "/vdp/helloworld"},
			want:    apierr.ErrTLS,
		},
		{
			name: "tls 1.3 server not trusted",
			client: func(t *testing.T) *Client {
				other := testhelpers.NewPKI(t)
				return openClient(t, srv13.URL, other, good)
			},
			request: &Request{Path: "/vdp/helloworld"},
			want:    apierr.ErrTLS,
		},
		{
			name: "server not trusted",
			client: func(t *testing.T) *Client {
				other := testhelpers.NewPKI(t)
				return openClient(t, srv.URL, other, good)
			},
			request: &Request{Path: "/vdp/helloworld"},
			want:    apierr.ErrTLS,
		},
		{
			name: "hostname mismatch",
			client: func(t *testing.T) *Client {
				return openClient(t, srv.URL, pki, good, func(o *Options) { o.TLS.ServerName = "api.visa.com" })
			},
			request: &Request{Path: "/vdp/helloworld"},
			want:    apierr.ErrTLS,
		},
		{
			name: "connection refused",
			client: func(t *testing.T) *Client {
				return openClient(t, testhelpers.RefusedURL(t), pki, good)
			},
			request: &Request{Path: "/vdp/helloworld"},
			want:    apierr.ErrNetwork,
		},
		{
			name: "request timeout",
			client: func(t *testing.T) *Client {
				return openClient(t, srv.URL, pki, good)
			},
			request: &Request{Path: "/slow", Timeout: 200 * time.Millisecond},
			want:    apierr.ErrTimeout,
		},
		{
			name: "client default timeout",
			client: func(t *testing.T) *Client {
				return openClient(t, srv.URL, pki, good, func(o *Options) { o.Timeout = 200 * time.Millisecond })
			},
			request: &Request{Path: "/slow"},
			want:    apierr.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.client(t).Execute(context.Background(), tt.request)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.want)
			assert.NotContains(t, err.Error(), "s3cr3t-pw")
		})
	}
}

func TestExecute_CancelIsNotTimeout(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServer(t, pki, testhelpers.SlowRoutes("/slow", 5*time.Second))
	c := openClient(t, srv.URL, pki, loadCreds(t, pki.IssueClient(t, "client-1")))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Execute(ctx, &Request{Path: "/slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, apierr.ErrNetwork)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecute_Concurrent(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServer(t, pki)
	c := openClient(t, srv.URL, pki, loadCreds(t, pki.IssueClient(t, "client-1")))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Execute(context.Background(), &Request{Path: "/vdp/helloworld"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	ids := map[string]bool{}
	for _, r := range srv.Requests() {
		ids[r.Header.Get(CorrelationHeader)] = true
	}
	assert.Len(t, ids, 20)
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []apierr.Category
	codes []int
}

func (o *recordingObserver) ObserveRequest(_, _ string, status int, cat apierr.Category, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, cat)
	o.codes = append(o.codes, status)
}

func TestExecute_ObserverAndLogger(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServer(t, pki)
	obs := &recordingObserver{}
	core, logs := observer.New(zap.DebugLevel)

	c := openClient(t, srv.URL, pki, loadCreds(t, pki.IssueClient(t, "client-1")), func(o *Options) {
		o.Observer = obs
		o.Logger = zap.New(core)
	})
	_, err := c.Execute(context.Background(), &Request{Path: "/vdp/helloworld"})
	require.NoError(t, err)

	refused := openClient(t, testhelpers.RefusedURL(t), pki, loadCreds(t, pki.IssueClient(t, "client-2")), func(o *Options) {
		o.Observer = obs
		o.Logger = zap.New(core)
	})
	_, err = refused.Execute(context.Background(), &Request{Path: "/vdp/helloworld"})
	require.Error(t, err)

	assert.Equal(t, []apierr.Category{apierr.CategoryUnknown, apierr.CategoryNetwork}, obs.calls)
	assert.Equal(t, []int{200, 0}, obs.codes)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "request completed", entries[0].Message)
	assert.Equal(t, "request failed", entries[1].Message)
	for _, e := range entries {
		for _, f := range e.Context {
			assert.NotContains(t, f.String, "s3cr3t-pw", "field %s", f.Key)
		}
	}
}

func TestOpen_Validation(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	creds := loadCreds(t, pki.IssueClient(t, "client-1"))

	tests := []struct {
		name  string
		creds *credentials.Credentials
		opts  Options
		want  error
	}{
		{"nil credentials", nil, Options{BaseURL: "https://sandbox.api.visa.com"}, apierr.ErrConfig},
		{"missing base url", creds, Options{}, apierr.ErrConfig},
		{"plain http", creds, Options{BaseURL: "http://sandbox.api.visa.com"}, apierr.ErrConfig},
		{"tls 1.0", creds, Options{BaseURL: "https://sandbox.api.visa.com", TLS: TLSOptions{MinVersion: tls.VersionTLS10}}, apierr.ErrConfig},
		{"garbage ca bundle", creds, Options{BaseURL: "https://sandbox.api.visa.com", TLS: TLSOptions{CABundle: []byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")}}, apierr.ErrTLS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Open(tt.creds, tt.opts)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpen_Defaults(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	c, err := Open(loadCreds(t, pki.IssueClient(t, "client-1")), Options{BaseURL: "https://sandbox.api.visa.com/"})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, "https://sandbox.api.visa.com", c.BaseURL())

	tr, ok := c.http.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, DefaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.Nil(t, tr.TLSClientConfig.RootCAs)
}

func TestExecute_RejectsQueryInPath(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	c := openClient(t, "https://127.0.0.1:1", pki, loadCreds(t, pki.IssueClient(t, "client-1")))

	_, err := c.Execute(context.Background(), &Request{Path: "/a?b=c"})
	assert.ErrorIs(t, err, apierr.ErrConfig)
}

func TestClose(t *testing.T) {
	pki := testhelpers.NewPKI(t)
	srv := testhelpers.NewServer(t, pki)
	creds := loadCreds(t, pki.IssueClient(t, "client-1"))
	c := openClient(t, srv.URL, pki, creds, func(o *Options) { o.OwnCredentials = true })

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Execute(context.Background(), &Request{Path: "/vdp/helloworld"})
	assert.ErrorIs(t, err, apierr.ErrConfig)

	_, err = creds.ClientCertificate()
	assert.ErrorIs(t, err, apierr.ErrConfig, "owned credentials are destroyed on close")
}

func TestQuery_Encode(t *testing.T) {
	assert.Equal(t, "", Query(nil).Encode())

	q := Query{}.Add("b", "2").Add("a", "1").Add("b", "x&y=z")
	assert.Equal(t, "b=2&a=1&b=x%26y%3Dz", q.Encode())

	v, ok := q.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = q.Get("missing")
	assert.False(t, ok)
}
