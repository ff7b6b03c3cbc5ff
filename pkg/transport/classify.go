package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"

	"github.com/sufield/vdp/pkg/apierr"
)

// classify maps a failed round trip onto the error taxonomy. Handshake and
// certificate failures are kept apart from transient network failures since
// only the latter are worth retrying.
func classify(op string, err error) *apierr.Error {
	switch {
	case isTLSFailure(err):
		return apierr.Wrap(apierr.CategoryTLS, op, "tls handshake failed", err)
	case isTimeout(err):
		return apierr.Wrap(apierr.CategoryTimeout, op, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return apierr.Wrap(apierr.CategoryNetwork, op, "request canceled", err)
	default:
		return apierr.Wrap(apierr.CategoryNetwork, op, "request failed", err)
	}
}

func isTLSFailure(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		invalidErr  x509.CertificateInvalidError
		unknownErr  x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		opErr       *net.OpError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &invalidErr),
		errors.As(err, &unknownErr),
		errors.As(err, &hostnameErr):
		return true
	case errors.As(err, &opErr):
		// Alerts sent by the server surface as "remote error".
		return opErr.Op == "remote error"
	default:
		return false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
