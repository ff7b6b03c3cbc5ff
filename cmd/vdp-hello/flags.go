package main

import (
	"github.com/urfave/cli/v2"

	"github.com/sufield/vdp/internal/config"
)

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML or TOML config file",
		EnvVars: []string{"VISA_CONFIG"},
	}

	UserIDFlag = &cli.StringFlag{
		Name:    "user-id",
		Usage:   "VDP project user ID",
		EnvVars: []string{config.EnvUserID},
	}

	PasswordFlag = &cli.StringFlag{
		Name:    "password",
		Usage:   "VDP project password (prefer the environment variable)",
		EnvVars: []string{config.EnvPassword},
	}

	CertFlag = &cli.StringFlag{
		Name:    "cert",
		Usage:   "Path to the client certificate (PKCS#12 or PEM)",
		EnvVars: []string{config.EnvCert},
	}

	CertPasswordFlag = &cli.StringFlag{
		Name:    "cert-password",
		Usage:   "Password of the PKCS#12 bundle or encrypted PEM key",
		EnvVars: []string{config.EnvCertPassword},
	}

	KeyFlag = &cli.StringFlag{
		Name:    "key",
		Usage:   "Path to a separate PEM private key",
		EnvVars: []string{config.EnvKey},
	}

	CABundleFlag = &cli.StringFlag{
		Name:    "ca-bundle",
		Usage:   "Path to the PEM roots the server is verified against (default: system roots)",
		EnvVars: []string{config.EnvCABundle},
	}

	LevelFlag = &cli.StringFlag{
		Name:    "level",
		Usage:   "API level (sandbox, certification, production)",
		EnvVars: []string{config.EnvAPILevel},
	}

	BaseURLFlag = &cli.StringFlag{
		Name:    "base-url",
		Usage:   "Override the level's base URL",
		EnvVars: []string{config.EnvBaseURL},
	}

	TimeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		Usage:   "Per-request timeout",
		EnvVars: []string{config.EnvTimeout},
	}

	RetriesFlag = &cli.UintFlag{
		Name:  "retries",
		Usage: "Extra attempts on network and timeout failures",
		Value: 0,
	}

	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		Usage:   "Log level (debug, info, warn, error)",
		EnvVars: []string{config.EnvLogLevel},
	}

	LogFormatFlag = &cli.StringFlag{
		Name:    "log-format",
		Value:   "json",
		Usage:   "Log format (json, console)",
		EnvVars: []string{config.EnvLogFormat},
	}
)

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(c *cli.Context, fc *config.FileConfig) {
	strs := []struct {
		flag *cli.StringFlag
		dst  *string
	}{
		{UserIDFlag, &fc.Credentials.UserID},
		{PasswordFlag, &fc.Credentials.Password},
		{CertFlag, &fc.Credentials.Cert},
		{CertPasswordFlag, &fc.Credentials.CertPassword},
		{KeyFlag, &fc.Credentials.Key},
		{CABundleFlag, &fc.Credentials.CABundle},
		{LevelFlag, &fc.API.Level},
		{BaseURLFlag, &fc.API.BaseURL},
		{LogLevelFlag, &fc.Logging.Level},
		{LogFormatFlag, &fc.Logging.Format},
	}
	for _, s := range strs {
		if c.IsSet(s.flag.Name) {
			*s.dst = c.String(s.flag.Name)
		}
	}
	if c.IsSet(TimeoutFlag.Name) {
		fc.API.Timeout = c.Duration(TimeoutFlag.Name)
	}
}
