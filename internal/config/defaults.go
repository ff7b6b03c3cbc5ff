package config

import "time"

// Defaults for unset values.
const (
	DefaultAPILevel        = "sandbox"
	DefaultTimeout         = 30 * time.Second
	DefaultMinTLSVersion   = "1.2"
	DefaultMLEFormat       = "fields"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultIdleConnTimeout = 90 * time.Second
)

// ApplyDefaults sets default values for unspecified configuration.
// The MLE suite deliberately has none.
func ApplyDefaults(cfg *FileConfig) {
	if cfg.API.Level == "" {
		cfg.API.Level = DefaultAPILevel
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = DefaultTimeout
	}

	if cfg.Transport.MinTLSVersion == "" {
		cfg.Transport.MinTLSVersion = DefaultMinTLSVersion
	}
	if cfg.Transport.IdleConnTimeout == 0 {
		cfg.Transport.IdleConnTimeout = DefaultIdleConnTimeout
	}

	if cfg.MLE.Required {
		cfg.MLE.Enabled = true
	}
	if cfg.MLE.Enabled && cfg.MLE.Format == "" {
		cfg.MLE.Format = DefaultMLEFormat
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}
