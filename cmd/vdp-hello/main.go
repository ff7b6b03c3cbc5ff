// Command vdp-hello calls the Visa Developer Platform HelloWorld endpoint
// with mutual TLS and prints the response. It is the quickest way to check
// that a project's credentials, certificate and CA bundle work together.
//
// Usage:
//
//	vdp-hello --config vdp.yaml
//	VISA_USER_ID=... VISA_PASSWORD=... VISA_CERT=client.p12 vdp-hello --retries 2
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/sufield/vdp"
	"github.com/sufield/vdp/internal/config"
	"github.com/sufield/vdp/internal/logging"
	"github.com/sufield/vdp/pkg/retry"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "vdp-hello",
		Usage:   "Check connectivity to the Visa Developer Platform",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Flags: []cli.Flag{
			ConfigFlag,
			UserIDFlag,
			PasswordFlag,
			CertFlag,
			CertPasswordFlag,
			KeyFlag,
			CABundleFlag,
			LevelFlag,
			BaseURLFlag,
			TimeoutFlag,
			RetriesFlag,
			LogLevelFlag,
			LogFormatFlag,
		},
		Action: runHello,
	}
}

func runHello(c *cli.Context) error {
	fc, err := loadConfig(c)
	if err != nil {
		return err
	}

	log, err := logging.New(fc.Logging.Level, fc.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	client, err := vdp.OpenFileConfig(fc, vdp.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 1 + c.Uint(RetriesFlag.Name)

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := retry.Do(ctx, policy, log, client.HelloWorld)
	if err != nil {
		return fmt.Errorf("helloworld failed: %w", err)
	}

	log.Info("helloworld succeeded",
		zap.Int("status", res.Status),
		zap.String("correlation_id", res.CorrelationID),
		zap.Duration("elapsed", res.Elapsed),
	)

	pretty, err := json.MarshalIndent(res.Body, "", "  ")
	if err != nil {
		pretty = res.Body
	}
	fmt.Fprintf(c.App.Writer, "%s\n", pretty)
	return nil
}

// loadConfig reads the config file when one is given, otherwise the
// environment, then applies flags on top.
func loadConfig(c *cli.Context) (*config.FileConfig, error) {
	var (
		fc  *config.FileConfig
		err error
	)
	if path := c.String(ConfigFlag.Name); path != "" {
		fc, err = config.Load(path)
	} else {
		fc, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}
	applyFlags(c, fc)
	return fc, nil
}
