package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sufield/vdp/internal/logging"
	"github.com/sufield/vdp/pkg/mle"
	"github.com/sufield/vdp/pkg/probe"
)

// Validate checks a loaded configuration.
//
// Ensures:
//   - credentials.user_id, credentials.password and credentials.cert are set
//   - api.level names a known environment and api.base_url, if set, is https
//   - transport.min_tls_version is 1.2 or 1.3
//   - when MLE is enabled, key_id, server_cert, private_key and suite are set
//     and suite and format parse
//
// Messages name the offending key and never include secret values.
func Validate(cfg *FileConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if cfg.Credentials.UserID == "" {
		return errors.New("credentials.user_id must be set")
	}
	if cfg.Credentials.Password == "" {
		return errors.New("credentials.password must be set")
	}
	if cfg.Credentials.Cert == "" {
		return errors.New("credentials.cert must be set")
	}

	if _, err := probe.ParseLevel(cfg.API.Level); err != nil {
		return fmt.Errorf("invalid api.level %q", cfg.API.Level)
	}
	if cfg.API.BaseURL != "" {
		u, err := url.Parse(cfg.API.BaseURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("api.base_url %q must be an https URL", cfg.API.BaseURL)
		}
	}
	if cfg.API.Timeout < 0 {
		return errors.New("api.timeout must not be negative")
	}

	if _, err := TLSVersion(cfg.Transport.MinTLSVersion); err != nil {
		return err
	}
	if cfg.Transport.MaxIdleConns < 0 || cfg.Transport.MaxIdleConnsPerHost < 0 {
		return errors.New("transport connection limits must not be negative")
	}

	if err := validateMLE(cfg.MLE); err != nil {
		return err
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}

	return nil
}

func validateMLE(m MLESection) error {
	if !m.Enabled {
		if m.Required {
			return errors.New("mle.required needs mle.enabled")
		}
		return nil
	}

	if m.KeyID == "" {
		return errors.New("mle.key_id must be set when mle is enabled")
	}
	if m.ServerCert == "" {
		return errors.New("mle.server_cert must be set when mle is enabled")
	}
	if m.PrivateKey == "" {
		return errors.New("mle.private_key must be set when mle is enabled")
	}
	if m.Suite == "" {
		return errors.New("mle.suite must be set when mle is enabled (no default)")
	}
	if _, err := mle.ParseSuite(m.Suite); err != nil {
		return fmt.Errorf("invalid mle.suite %q", m.Suite)
	}
	if _, err := mle.ParseFormat(m.Format); err != nil {
		return fmt.Errorf("invalid mle.format %q", m.Format)
	}
	return nil
}

// TLSVersion maps "1.2" or "1.3" to the crypto/tls constant. Empty is 1.2.
func TLSVersion(v string) (uint16, error) {
	switch strings.TrimSpace(v) {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("invalid transport.min_tls_version %q (want 1.2 or 1.3)", v)
	}
}
