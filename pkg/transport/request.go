package transport

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Param is one query parameter.
type Param struct {
	Key   string
	Value string
}

// Query is an ordered list of query parameters. Encode keeps insertion order
// and repeated keys, unlike url.Values.
type Query []Param

// Add appends a parameter and returns the extended query.
func (q Query) Add(key, value string) Query {
	return append(q, Param{Key: key, Value: value})
}

// Get returns the first value for key.
func (q Query) Get(key string) (string, bool) {
	for _, p := range q {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Encode returns "k1=v1&k2=v2" in insertion order.
func (q Query) Encode() string {
	if len(q) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// Request is one call to the API. It is built per call and not reused.
type Request struct {
	Method string

	// Path is joined to the client's base URL. It must not carry a query.
	Path  string
	Query Query

	// Header keys are canonicalised by http.Header, so keys are unique
	// regardless of case.
	Header http.Header

	// Body is sent as-is. Nil means no body.
	Body []byte

	// Timeout overrides the client default when positive.
	Timeout time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	Status        int
	Header        http.Header
	Body          []byte
	CorrelationID string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}
