// Package apierr defines the failure taxonomy shared by every layer of the
// client core.
//
// Each failure carries a Category so callers can decide retry-ability without
// string matching:
//
//	resp, err := client.Do(ctx, http.MethodGet, "/vdp/helloworld", nil, nil)
//	if apierr.Retryable(err) {
//	    // network or timeout failure, safe to try again
//	}
//
// Error messages never contain credential material. Constructors take a
// generic message and an optional cause; callers must not pass secrets in
// either.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies a failure.
type Category int

const (
	// CategoryUnknown is never produced by this module; it is the zero value.
	CategoryUnknown Category = iota
	// CategoryConfig is bad or missing credential material. Fatal.
	CategoryConfig
	// CategoryTLS is a handshake or certificate failure. Not retryable
	// without operator intervention.
	CategoryTLS
	// CategoryNetwork is a transient transport failure. Retryable.
	CategoryNetwork
	// CategoryTimeout is a request that exceeded its deadline. Retryable.
	CategoryTimeout
	// CategoryDecryption is an MLE integrity or fingerprint failure.
	CategoryDecryption
	// CategoryAPI is a business error reported by the server.
	CategoryAPI
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "config"
	case CategoryTLS:
		return "tls"
	case CategoryNetwork:
		return "network"
	case CategoryTimeout:
		return "timeout"
	case CategoryDecryption:
		return "decryption"
	case CategoryAPI:
		return "api"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per category. Every *Error matches exactly one of
// them through errors.Is.
var (
	ErrConfig     = errors.New("config error")
	ErrTLS        = errors.New("tls error")
	ErrNetwork    = errors.New("network error")
	ErrTimeout    = errors.New("timeout error")
	ErrDecryption = errors.New("decryption error")
	ErrAPI        = errors.New("api error")
)

// Error is the structured failure returned by the client core.
type Error struct {
	Category Category

	// Op names the operation that failed, e.g. "credentials.load".
	Op string

	// Status is the HTTP status code, or 0 when no response was received.
	Status int

	// Code is the server's error code when the error body carried one.
	Code string

	// Message is a human readable summary. Never contains secrets.
	Message string

	// Body is the raw response body, if any.
	Body []byte

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Category.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d", e.Status)
		if e.Code != "" {
			fmt.Fprintf(&b, ", code %s", e.Code)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's category.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Category)
}

func sentinel(c Category) error {
	switch c {
	case CategoryConfig:
		return ErrConfig
	case CategoryTLS:
		return ErrTLS
	case CategoryNetwork:
		return ErrNetwork
	case CategoryTimeout:
		return ErrTimeout
	case CategoryDecryption:
		return ErrDecryption
	case CategoryAPI:
		return ErrAPI
	default:
		return nil
	}
}

// New returns an error of the given category.
func New(c Category, op, message string) *Error {
	return &Error{Category: c, Op: op, Message: message}
}

// Wrap returns an error of the given category wrapping cause.
func Wrap(c Category, op, message string, cause error) *Error {
	return &Error{Category: c, Op: op, Message: message, Err: cause}
}

// Config is shorthand for a CategoryConfig error.
func Config(op, message string, cause error) *Error {
	return Wrap(CategoryConfig, op, message, cause)
}

// Decryption is shorthand for a CategoryDecryption error.
func Decryption(op, message string, cause error) *Error {
	return Wrap(CategoryDecryption, op, message, cause)
}

// CategoryOf returns the category of the first *Error in err's chain, or
// CategoryUnknown.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Retryable reports whether a caller may retry the failed operation as-is.
// Only network and timeout failures qualify; TLS, config, decryption and
// API errors need a change before a retry can succeed.
func Retryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryNetwork, CategoryTimeout:
		return true
	default:
		return false
	}
}
