// Package config reads the client configuration from a YAML or TOML file
// and VISA_* environment variables.
//
// Paths in the file point at certificate and key material; the material is
// read by the caller, not here. Secrets held in the struct (passwords) are
// redacted by String.
package config

import (
	"fmt"
	"time"
)

// APISection selects the VDP environment.
type APISection struct {
	// Level is "sandbox" (default), "certification" or "production".
	Level string `yaml:"level" toml:"level"`

	// BaseURL overrides the level's base URL. Must be https.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// Timeout is the default per-request deadline, in Go duration format.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// CredentialsSection holds the Basic auth pair and the client certificate.
type CredentialsSection struct {
	UserID   string `yaml:"user_id" toml:"user_id"`
	Password string `yaml:"password" toml:"password"`

	// Cert is a path to a PKCS#12 bundle or a PEM file.
	Cert         string `yaml:"cert" toml:"cert"`
	CertPassword string `yaml:"cert_password" toml:"cert_password"`

	// Key is a path to a separate PEM private key. Optional.
	Key string `yaml:"key" toml:"key"`

	// CABundle is a path to the PEM roots the server is verified against.
	// Empty means the system roots.
	CABundle string `yaml:"ca_bundle" toml:"ca_bundle"`
}

// TransportSection tunes the connection pool and TLS limits.
type TransportSection struct {
	ServerName          string        `yaml:"server_name" toml:"server_name"`
	MinTLSVersion       string        `yaml:"min_tls_version" toml:"min_tls_version"`
	MaxIdleConns        int           `yaml:"max_idle_conns" toml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" toml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" toml:"idle_conn_timeout"`
}

// MLESection configures Message Level Encryption.
type MLESection struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Required encrypts every call and rejects plaintext ones.
	Required bool `yaml:"required" toml:"required"`

	KeyID              string `yaml:"key_id" toml:"key_id"`
	ServerCert         string `yaml:"server_cert" toml:"server_cert"`
	PrivateKey         string `yaml:"private_key" toml:"private_key"`
	PrivateKeyPassword string `yaml:"private_key_password" toml:"private_key_password"`

	// Suite has no default and must be set when MLE is enabled.
	Suite string `yaml:"suite" toml:"suite"`

	// Format is "fields" (default) or "jwe".
	Format string `yaml:"format" toml:"format"`
}

// LoggingSection configures the driver's logger.
type LoggingSection struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// FileConfig represents a vdp client configuration file.
//
// The config format is versioned to support future evolution without breaking changes.
type FileConfig struct {
	Version int `yaml:"version,omitempty" toml:"version,omitempty"`

	API         APISection         `yaml:"api" toml:"api"`
	Credentials CredentialsSection `yaml:"credentials" toml:"credentials"`
	Transport   TransportSection   `yaml:"transport" toml:"transport"`
	MLE         MLESection         `yaml:"mle" toml:"mle"`
	Logging     LoggingSection     `yaml:"logging" toml:"logging"`
}

// String redacts passwords.
func (c FileConfig) String() string {
	return fmt.Sprintf("FileConfig{level=%q user_id=%q cert=%q mle=%t password=%s}",
		c.API.Level, c.Credentials.UserID, c.Credentials.Cert, c.MLE.Enabled, redacted(c.Credentials.Password))
}

// GoString redacts passwords under %#v.
func (c FileConfig) GoString() string { return c.String() }

func redacted(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "<redacted>"
}
