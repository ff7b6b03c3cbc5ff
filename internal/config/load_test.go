package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
version: 1
api:
  level: certification
  timeout: 10s
credentials:
  user_id: u1
  password: p1
  cert: /etc/vdp/client.p12
  cert_password: changeit
  ca_bundle: /etc/vdp/roots.pem
transport:
  min_tls_version: "1.3"
  max_idle_conns_per_host: 4
mle:
  enabled: true
  key_id: 7f3e-key
  server_cert: /etc/vdp/server_mle.pem
  private_key: /etc/vdp/client_mle.pem
  suite: RSA-OAEP-256+A128GCM
  format: jwe
logging:
  level: debug
`

const sampleTOML = `
version = 1

[api]
level = "certification"
timeout = "10s"

[credentials]
user_id = "u1"
password = "p1"
cert = "/etc/vdp/client.p12"
cert_password = "changeit"
ca_bundle = "/etc/vdp/roots.pem"

[transport]
min_tls_version = "1.3"
max_idle_conns_per_host = 4

[mle]
enabled = true
key_id = "7f3e-key"
server_cert = "/etc/vdp/server_mle.pem"
private_key = "/etc/vdp/client_mle.pem"
suite = "RSA-OAEP-256+A128GCM"
format = "jwe"

[logging]
level = "debug"
`

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"yaml", "vdp.yaml", sampleYAML},
		{"yml", "vdp.yml", sampleYAML},
		{"toml", "vdp.toml", sampleTOML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.data))
			require.NoError(t, err)

			assert.Equal(t, 1, cfg.Version)
			assert.Equal(t, "certification", cfg.API.Level)
			assert.Equal(t, 10*time.Second, cfg.API.Timeout)
			assert.Equal(t, "u1", cfg.Credentials.UserID)
			assert.Equal(t, "p1", cfg.Credentials.Password)
			assert.Equal(t, "/etc/vdp/client.p12", cfg.Credentials.Cert)
			assert.Equal(t, "changeit", cfg.Credentials.CertPassword)
			assert.Equal(t, "1.3", cfg.Transport.MinTLSVersion)
			assert.Equal(t, 4, cfg.Transport.MaxIdleConnsPerHost)
			assert.True(t, cfg.MLE.Enabled)
			assert.Equal(t, "RSA-OAEP-256+A128GCM", cfg.MLE.Suite)
			assert.Equal(t, "jwe", cfg.MLE.Format)
			assert.Equal(t, "debug", cfg.Logging.Level)

			// defaults
			assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
			assert.Equal(t, DefaultIdleConnTimeout, cfg.Transport.IdleConnTimeout)

			require.NoError(t, Validate(cfg))
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		data   string
		errMsg string
	}{
		{"unknown yaml key", "vdp.yaml", "credentials:\n  user: u1\n", "failed to parse config file"},
		{"unknown toml key", "vdp.toml", "[credentials]\nuser = \"u1\"\n", "unknown key"},
		{"malformed yaml", "vdp.yaml", "api: [\n", "failed to parse config file"},
		{"malformed toml", "vdp.toml", "[api\n", "failed to parse config file"},
		{"bad duration", "vdp.yaml", "api:\n  timeout: soon\n", "failed to parse config file"},
		{"unsupported extension", "vdp.json", "{}", "unsupported config file extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "vdp.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultAPILevel, cfg.API.Level)
	assert.Equal(t, DefaultTimeout, cfg.API.Timeout)
	assert.Equal(t, DefaultMinTLSVersion, cfg.Transport.MinTLSVersion)
	assert.False(t, cfg.MLE.Enabled)
	assert.Empty(t, cfg.MLE.Format)
	assert.Empty(t, cfg.MLE.Suite)
}

func TestFileConfig_StringRedacts(t *testing.T) {
	cfg := FileConfig{Credentials: CredentialsSection{UserID: "u1", Password: "hunter2-secret"}}
	assert.NotContains(t, cfg.String(), "hunter2-secret")
	assert.Contains(t, cfg.String(), "<redacted>")
	assert.NotContains(t, cfg.GoString(), "hunter2-secret")
}
