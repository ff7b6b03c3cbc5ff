package mle

import (
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"

	"github.com/sufield/vdp/pkg/apierr"
)

// Suite names a key-wrap and content-encryption pair. It has no default:
// the suite must match what VDP provisioned for the key pair.
type Suite string

const (
	SuiteRSAOAEP256A256GCM Suite = "RSA-OAEP-256+A256GCM"
	SuiteRSAOAEP256A128GCM Suite = "RSA-OAEP-256+A128GCM"
)

// Suites lists every supported suite.
var Suites = []Suite{SuiteRSAOAEP256A256GCM, SuiteRSAOAEP256A128GCM}

// ParseSuite parses a suite name, case-insensitively.
func ParseSuite(s string) (Suite, error) {
	for _, suite := range Suites {
		if strings.EqualFold(s, string(suite)) {
			return suite, nil
		}
	}
	if s == "" {
		return "", apierr.Config("mle.suite", "mle suite is required", nil)
	}
	return "", apierr.Config("mle.suite", fmt.Sprintf("unsupported mle suite %q", s), nil)
}

// Validate returns a config error unless s is exactly one of Suites.
// Use ParseSuite to normalise user input first.
func (s Suite) Validate() error {
	p, err := ParseSuite(string(s))
	if err != nil {
		return err
	}
	if p != s {
		return apierr.Config("mle.suite", fmt.Sprintf("mle suite %q is not in canonical form", s), nil)
	}
	return nil
}

// keySize is the content-encryption key size in bytes.
func (s Suite) keySize() int {
	switch s {
	case SuiteRSAOAEP256A128GCM:
		return 16
	default:
		return 32
	}
}

func (s Suite) contentEncryption() jwa.ContentEncryptionAlgorithm {
	switch s {
	case SuiteRSAOAEP256A128GCM:
		return jwa.A128GCM()
	default:
		return jwa.A256GCM()
	}
}

// Format selects the wire shape of an encrypted body.
type Format string

const (
	// FormatFields is the four-field envelope: encData, encKey, iv and
	// encKeyFingerprint.
	FormatFields Format = "fields"

	// FormatJWE carries a compact JWE in encData, as VDP's published MLE
	// guide describes.
	FormatJWE Format = "jwe"
)

// ParseFormat parses a format name. Empty means FormatFields.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatFields:
		return FormatFields, nil
	case FormatJWE:
		return FormatJWE, nil
	default:
		return "", apierr.Config("mle.format", fmt.Sprintf("unsupported mle format %q", s), nil)
	}
}
