package testhelpers

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// HelloWorldBody is what the default HelloWorld routes return.
const HelloWorldBody = `{"timestamp":"2024-01-01T00:00:00","message":"helloworld"}`

// RecordedRequest is what the mock server saw for one request.
type RecordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	Username string
	Password string
	ClientCN string
}

// Server is an mTLS mock of the Visa Developer Platform. It requires a
// client certificate issued by the PKI.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
}

// NewServer starts a TLS 1.2 mock server. routes registers handlers on the
// router; with no routes the HelloWorld endpoints answer 200 with
// HelloWorldBody. The server is closed through t.Cleanup.
func NewServer(t *testing.T, pki *PKI, routes ...func(r chi.Router)) *Server {
	t.Helper()
	return newServer(t, pki, tls.VersionTLS12, routes)
}

// NewServerTLS13 is NewServer speaking only TLS 1.3. There the client
// finishes its side of the handshake before the server checks its
// certificate, so a rejection arrives as an alert on the first read.
func NewServerTLS13(t *testing.T, pki *PKI, routes ...func(r chi.Router)) *Server {
	t.Helper()
	return newServer(t, pki, tls.VersionTLS13, routes)
}

func newServer(t *testing.T, pki *PKI, version uint16, routes []func(r chi.Router)) *Server {
	t.Helper()

	s := &Server{}

	r := chi.NewRouter()
	r.Use(s.record)
	if len(routes) == 0 {
		routes = append(routes, HelloWorldRoutes(http.StatusOK, HelloWorldBody))
	}
	for _, register := range routes {
		register(r)
	}

	clientCAs := x509.NewCertPool()
	clientCAs.AddCert(pki.CA)

	s.Server = httptest.NewUnstartedServer(r)
	s.TLS = &tls.Config{
		Certificates: []tls.Certificate{pki.Server},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientCAs,
		MinVersion:   version,
		MaxVersion:   version,
	}
	s.StartTLS()
	t.Cleanup(s.Close)

	return s
}

// HelloWorldRoutes answers both HelloWorld paths with status and body.
func HelloWorldRoutes(status int, body string) func(r chi.Router) {
	return func(r chi.Router) {
		h := func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
		}
		r.Get("/vdp/helloworld", h)
		r.Get("/helloworld", h)
	}
}

// JSON writes v as a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// LastRequest returns the most recent request, failing the test if there
// was none.
func (s *Server) LastRequest(t *testing.T) RecordedRequest {
	t.Helper()

	reqs := s.Requests()
	if len(reqs) == 0 {
		t.Fatalf("Mock server received no requests")
	}
	return reqs[len(reqs)-1]
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		rec := RecordedRequest{
			Method:   r.Method,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
			Header:   r.Header.Clone(),
			Body:     body,
		}
		rec.Username, rec.Password, _ = r.BasicAuth()
		if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
			rec.ClientCN = r.TLS.PeerCertificates[0].Subject.CommonName
		}

		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

// SlowRoutes registers a GET handler on path that waits for delay or for the
// client to go away.
func SlowRoutes(path string, delay time.Duration) func(r chi.Router) {
	return func(r chi.Router) {
		r.Get(path, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(delay):
				w.WriteHeader(http.StatusOK)
			case <-r.Context().Done():
			}
		})
	}
}

// RefusedURL returns an https URL on 127.0.0.1 where nothing is listening.
func RefusedURL(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatalf("Failed to release port: %v", err)
	}
	return "https://" + addr
}
