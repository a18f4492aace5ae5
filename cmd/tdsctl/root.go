package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-tds/client"
	"github.com/arloliu/go-tds/config"
	"github.com/arloliu/go-tds/engine"
	"github.com/arloliu/go-tds/logger"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "tdsctl",
		Short: "Central unit command line tool",
		Long: `Talk to a home-automation central unit over its TCP protocol.

Connection settings and the list of known components are read from a YAML
file (--config). TDS_HOST, TDS_PORT, TDS_CENTRAL_UNIT_TYPE, TDS_LOG_LEVEL and
TDS_MQTT_BROKER override the file.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "tds.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format (json, console, zap); overrides the config")

	rootCmd.AddCommand(
		newMonitorCmd(flags),
		newGetCmd(flags),
		newSetCmd(flags),
		newGroupGetCmd(flags),
	)

	return rootCmd
}

// session is a connected client built from the configuration.
type session struct {
	cfg    *config.Config
	client *client.Client
	logger logger.Logger
}

func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// connect loads the configuration, builds the client and connects it.
func (f *globalFlags) connect(ctx context.Context, cmd *cobra.Command, extra ...client.Option) (*session, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}

	l, err := cfg.LoggerWithWriter(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	logger.SetLogger(l)

	connCfg, err := cfg.ConnectionConfig(l)
	if err != nil {
		return nil, err
	}

	e, err := engine.New(ctx, connCfg)
	if err != nil {
		return nil, err
	}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	opts, err := cfg.ClientOptions(l)
	if err != nil {
		return nil, err
	}

	c, err := client.New(e, reg, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}

	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", connCfg.Addr(), err)
	}

	return &session{cfg: cfg, client: c, logger: l}, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Warn("disconnect failed", "error", err)
	}
}
