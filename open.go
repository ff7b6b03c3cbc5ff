package vdp

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sufield/vdp/internal/config"
	"github.com/sufield/vdp/pkg/apierr"
	"github.com/sufield/vdp/pkg/mle"
	"github.com/sufield/vdp/pkg/transport"
)

// ConfigEnv names the variable OpenDefault reads the config path from.
const ConfigEnv = "VISA_CONFIG"

// resolveConfigPath returns the config file path from the VISA_CONFIG
// environment variable. The library never assumes a default location.
func resolveConfigPath() (string, error) {
	if path := os.Getenv(ConfigEnv); path != "" {
		return path, nil
	}
	return "", apierr.Config("vdp.open", ConfigEnv+" environment variable not set; either set it or call Open() with an explicit config path", nil)
}

// Option adjusts what Open builds beyond the config file.
type Option func(*Config)

// WithLogger sets the client's logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) { c.Logger = log }
}

// WithObserver sets the client's request observer, e.g. a metrics.Collector.
func WithObserver(o transport.Observer) Option {
	return func(c *Config) { c.Observer = o }
}

// Open reads a YAML or TOML config file, applies VISA_* environment
// overrides, reads the certificate and key files it names, and calls New.
//
// Configuration (vdp.yaml):
//
//	api:
//	  level: sandbox
//	credentials:
//	  user_id: "..."
//	  password: "..."
//	  cert: /etc/vdp/client.p12
//	  cert_password: "..."
//	  ca_bundle: /etc/vdp/roots.pem
//	mle:
//	  enabled: true
//	  key_id: "..."
//	  server_cert: /etc/vdp/server_encryption.pem
//	  private_key: /etc/vdp/client_mle_key.pem
//	  suite: RSA-OAEP-256+A256GCM
//
// Errors are CategoryConfig and name the offending key or file, never its
// contents.
func Open(configPath string, opts ...Option) (*Client, error) {
	fc, err := config.Load(configPath)
	if err != nil {
		return nil, apierr.Config("vdp.open", "failed to load config", err)
	}
	return OpenFileConfig(fc, opts...)
}

// OpenDefault is Open with the path taken from VISA_CONFIG.
func OpenDefault(opts ...Option) (*Client, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	return Open(path, opts...)
}

// OpenEnv builds a client from VISA_* environment variables alone.
func OpenEnv(opts ...Option) (*Client, error) {
	fc, err := config.LoadFromEnv()
	if err != nil {
		return nil, apierr.Config("vdp.open", "failed to load config", err)
	}
	return OpenFileConfig(fc, opts...)
}

// OpenFileConfig builds a client from an already loaded configuration. The
// command line driver uses it after layering its flags over the file.
func OpenFileConfig(fc *config.FileConfig, opts ...Option) (*Client, error) {
	cfg, err := fromFileConfig(fc)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

// materialFile is a config key naming a file whose bytes go into Config.
type materialFile struct {
	key  string
	path string
	dst  *[]byte
}

// fromFileConfig validates fc and reads the files it names.
func fromFileConfig(fc *config.FileConfig) (Config, error) {
	const op = "vdp.config"

	if err := config.Validate(fc); err != nil {
		return Config{}, apierr.Config(op, "invalid config", err)
	}
	minTLS, err := config.TLSVersion(fc.Transport.MinTLSVersion)
	if err != nil {
		return Config{}, apierr.Config(op, "invalid config", err)
	}

	cfg := Config{
		Level:               Level(fc.API.Level),
		BaseURL:             fc.API.BaseURL,
		UserID:              fc.Credentials.UserID,
		Password:            fc.Credentials.Password,
		ClientCertPassword:  fc.Credentials.CertPassword,
		ServerName:          fc.Transport.ServerName,
		MinTLSVersion:       minTLS,
		Timeout:             fc.API.Timeout,
		MaxIdleConns:        fc.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: fc.Transport.MaxIdleConnsPerHost,
		IdleConnTimeout:     fc.Transport.IdleConnTimeout,
	}

	files := []materialFile{
		{"credentials.cert", fc.Credentials.Cert, &cfg.ClientCert},
		{"credentials.key", fc.Credentials.Key, &cfg.ClientKey},
		{"credentials.ca_bundle", fc.Credentials.CABundle, &cfg.CABundle},
	}

	if fc.MLE.Enabled {
		suite, err := mle.ParseSuite(fc.MLE.Suite)
		if err != nil {
			return Config{}, err
		}
		format, err := mle.ParseFormat(fc.MLE.Format)
		if err != nil {
			return Config{}, err
		}
		cfg.MLE = &MLEConfig{
			KeyID:              fc.MLE.KeyID,
			PrivateKeyPassword: fc.MLE.PrivateKeyPassword,
			Suite:              suite,
			Format:             format,
			Required:           fc.MLE.Required,
		}
		files = append(files,
			materialFile{"mle.server_cert", fc.MLE.ServerCert, &cfg.MLE.ServerCert},
			materialFile{"mle.private_key", fc.MLE.PrivateKey, &cfg.MLE.PrivateKey},
		)
	}

	for _, f := range files {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Clean(f.path)) // #nosec G304 - paths come from the operator's config
		if err != nil {
			return Config{}, apierr.Config(op, fmt.Sprintf("%s could not be read", f.key), err)
		}
		*f.dst = data
	}

	return cfg, nil
}
