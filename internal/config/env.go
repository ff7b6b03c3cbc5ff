package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment variables read by applyEnvOverrides.
const (
	EnvUserID            = "VISA_USER_ID"
	EnvPassword          = "VISA_PASSWORD"
	EnvCert              = "VISA_CERT"
	EnvCertPassword      = "VISA_CERT_PASSWORD"
	EnvKey               = "VISA_KEY"
	EnvCABundle          = "VISA_CA_BUNDLE"
	EnvAPILevel          = "VISA_API_LEVEL"
	EnvBaseURL           = "VISA_BASE_URL"
	EnvTimeout           = "VISA_TIMEOUT"
	EnvMLEEnabled        = "VISA_MLE_ENABLED"
	EnvMLERequired       = "VISA_MLE_REQUIRED"
	EnvMLEKeyID          = "VISA_MLE_KEY_ID"
	EnvMLEServerCert     = "VISA_MLE_SERVER_CERT"
	EnvMLEPrivateKey     = "VISA_MLE_PRIVATE_KEY"
	EnvMLEPrivateKeyPass = "VISA_MLE_PRIVATE_KEY_PASSWORD"
	EnvMLESuite          = "VISA_MLE_SUITE"
	EnvMLEFormat         = "VISA_MLE_FORMAT"
	EnvLogLevel          = "VISA_LOG_LEVEL"
	EnvLogFormat         = "VISA_LOG_FORMAT"
)

// applyEnvOverrides overrides config values with environment variables if set
// Returns error for invalid environment variable values to fail fast
func applyEnvOverrides(cfg *FileConfig) error {
	strs := []struct {
		env string
		dst *string
	}{
		{EnvUserID, &cfg.Credentials.UserID},
		{EnvPassword, &cfg.Credentials.Password},
		{EnvCert, &cfg.Credentials.Cert},
		{EnvCertPassword, &cfg.Credentials.CertPassword},
		{EnvKey, &cfg.Credentials.Key},
		{EnvCABundle, &cfg.Credentials.CABundle},
		{EnvAPILevel, &cfg.API.Level},
		{EnvBaseURL, &cfg.API.BaseURL},
		{EnvMLEKeyID, &cfg.MLE.KeyID},
		{EnvMLEServerCert, &cfg.MLE.ServerCert},
		{EnvMLEPrivateKey, &cfg.MLE.PrivateKey},
		{EnvMLEPrivateKeyPass, &cfg.MLE.PrivateKeyPassword},
		{EnvMLESuite, &cfg.MLE.Suite},
		{EnvMLEFormat, &cfg.MLE.Format},
		{EnvLogLevel, &cfg.Logging.Level},
		{EnvLogFormat, &cfg.Logging.Format},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	if timeout := os.Getenv(EnvTimeout); timeout != "" {
		t, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvTimeout, timeout, err)
		}
		cfg.API.Timeout = t
	}

	bools := []struct {
		env string
		dst *bool
	}{
		{EnvMLEEnabled, &cfg.MLE.Enabled},
		{EnvMLERequired, &cfg.MLE.Required},
	}
	for _, b := range bools {
		v := os.Getenv(b.env)
		if v == "" {
			continue
		}
		parsed, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", b.env, err)
		}
		*b.dst = parsed
	}

	return nil
}

// parseBool parses boolean environment variables
// Accepts: "true", "1", "yes", "on" for true; "false", "0", "no", "off" for false
func parseBool(value string) (bool, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}
