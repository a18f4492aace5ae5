package config

import (
	"fmt"
	"io"
	"os"

	"github.com/arloliu/go-tds/client"
	"github.com/arloliu/go-tds/engine"
	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
	"github.com/arloliu/go-tds/registry"
)

// Profile returns the protocol profile of the configured central unit type.
func (c *Config) Profile() (*profile.Profile, error) {
	return profile.ForCentralUnit(c.CentralUnit.Type)
}

// ConnectionConfig builds the engine configuration.
func (c *Config) ConnectionConfig(l logger.Logger) (*engine.ConnectionConfig, error) {
	host := c.CentralUnit.Host
	if host == "" {
		host = "localhost"
	}

	opts := []engine.ConnOption{engine.WithCentralUnitType(c.CentralUnit.Type)}
	if l != nil {
		opts = append(opts, engine.WithLogger(l))
	}
	if d := c.Timeouts.Connect; d > 0 {
		opts = append(opts, engine.WithConnectTimeout(d))
	}
	if d := c.Timeouts.Response; d > 0 {
		opts = append(opts, engine.WithResponseTimeout(d))
	}
	if d := c.Timeouts.Poll; d > 0 {
		opts = append(opts, engine.WithPollInterval(d))
	}
	if d := c.Timeouts.Drain; d > 0 {
		opts = append(opts, engine.WithDrainTimeout(d))
	}
	if c.CentralUnit.TestMode {
		opts = append(opts, engine.WithTestMode(c.CentralUnit.Echo))
	}

	return engine.NewConnectionConfig(host, c.CentralUnit.Port, opts...)
}

// ClientOptions builds the client options.
func (c *Config) ClientOptions(l logger.Logger) ([]client.Option, error) {
	var opts []client.Option
	if l != nil {
		opts = append(opts, client.WithLogger(l))
	}
	if d := c.Timeouts.Confirm; d > 0 {
		opts = append(opts, client.WithConfirmTimeout(d))
	}
	if d := c.Timeouts.ConfirmInterval; d > 0 {
		opts = append(opts, client.WithConfirmInterval(d))
	}
	if d := c.Timeouts.EventInterval; d > 0 {
		opts = append(opts, client.WithEventInterval(d))
	}
	if d := c.Timeouts.KeepAlive; d > 0 {
		opts = append(opts, client.WithKeepAliveInterval(d))
	}

	if len(c.CentralUnit.Monitored) > 0 {
		fns := make([]profile.Function, 0, len(c.CentralUnit.Monitored))
		for _, name := range c.CentralUnit.Monitored {
			fn, err := profile.ParseFunction(name)
			if err != nil {
				return nil, err
			}
			fns = append(fns, fn)
		}
		opts = append(opts, client.WithMonitoredFunctions(fns...))
	}

	opts = append(opts, client.WithStartupSync(c.CentralUnit.StartupSync))

	return opts, nil
}

// Registry builds an in-memory registry holding the configured components.
func (c *Config) Registry() (*registry.Memory, error) {
	devices := make([]*registry.Device, 0, len(c.Components))
	for i, comp := range c.Components {
		fn, err := profile.ParseFunction(comp.Function)
		if err != nil {
			return nil, fmt.Errorf("components[%d]: %w", i, err)
		}
		devices = append(devices, registry.NewDevice(fn, comp.Number, comp.Description))
	}

	return registry.NewMemory(devices...)
}

// Logger builds the configured logger writing to stdout.
func (c *Config) Logger() (logger.Logger, error) {
	return c.LoggerWithWriter(os.Stdout)
}

// LoggerWithWriter builds the configured logger writing to w. The zap format
// always writes to stderr through zap's development console encoder.
func (c *Config) LoggerWithWriter(w io.Writer) (logger.Logger, error) {
	level, err := logLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}

	switch c.Logging.Format {
	case "zap":
		zl, err := logger.NewZapConsole(level)
		if err != nil {
			return nil, err
		}

		return zl, nil
	case "console":
		return logger.NewSlogWithWriter(w, level, logger.FormatConsole, c.Logging.AddSource), nil
	default:
		return logger.NewSlogWithWriter(w, level, logger.FormatJSON, c.Logging.AddSource), nil
	}
}

func logLevel(name string) (logger.Level, error) {
	if name == "" {
		return logger.InfoLevel, nil
	}

	return logger.ParseLevel(name)
}
