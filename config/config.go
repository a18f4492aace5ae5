package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-tds/engine"
	"github.com/arloliu/go-tds/profile"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("tds: invalid configuration")

// Config is the root configuration.
type Config struct {
	CentralUnit CentralUnitConfig `yaml:"central_unit"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Logging     LoggingConfig     `yaml:"logging"`
	Components  []ComponentConfig `yaml:"components"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

// CentralUnitConfig describes the connection to the central unit.
type CentralUnitConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Type is "MICROS" or "MICROS_PLUS".
	Type string `yaml:"type"`
	// Monitored lists the function names subscribed for events. Empty means the client default.
	Monitored   []string `yaml:"monitored"`
	StartupSync bool     `yaml:"startup_sync"`
	// TestMode replaces the socket with injected bytes; Echo answers SET and GET locally.
	TestMode bool `yaml:"test_mode"`
	Echo     bool `yaml:"echo"`
}

// TimeoutsConfig holds durations such as "5s" or "20ms". Zero keeps the library default.
type TimeoutsConfig struct {
	Connect         time.Duration `yaml:"connect"`
	Response        time.Duration `yaml:"response"`
	Poll            time.Duration `yaml:"poll"`
	Drain           time.Duration `yaml:"drain"`
	Confirm         time.Duration `yaml:"confirm"`
	ConfirmInterval time.Duration `yaml:"confirm_interval"`
	EventInterval   time.Duration `yaml:"event_interval"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
}

// LoggingConfig selects the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is "json", "console" or "zap".
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ComponentConfig registers one output of the central unit.
type ComponentConfig struct {
	Function    string `yaml:"function"`
	Number      int    `yaml:"number"`
	Description string `yaml:"description"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	Enabled bool `yaml:"enabled"`
	// Broker is a URL such as "tcp://localhost:1883".
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML data on top of the defaults, applies environment
// overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		CentralUnit: CentralUnitConfig{
			Port: engine.DefaultPort,
			Type: profile.CentralUnitMicrosPlus,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		MQTT: MQTTConfig{
			ClientID:    "tds-bridge",
			TopicPrefix: "tds",
			QoS:         1,
		},
	}
}

// applyEnvOverrides applies TDS_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("TDS_HOST"); v != "" {
		cfg.CentralUnit.Host = v
	}
	if v := os.Getenv("TDS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TDS_PORT %q is not a number", ErrInvalidConfig, v)
		}
		cfg.CentralUnit.Port = port
	}
	if v := os.Getenv("TDS_CENTRAL_UNIT_TYPE"); v != "" {
		cfg.CentralUnit.Type = v
	}
	if v := os.Getenv("TDS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TDS_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}

	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.CentralUnit.Host == "" && !c.CentralUnit.TestMode {
		errs = append(errs, "central_unit.host is required")
	}
	if c.CentralUnit.Port < 1 || c.CentralUnit.Port > 65535 {
		errs = append(errs, "central_unit.port must be between 1 and 65535")
	}

	p, err := profile.ForCentralUnit(c.CentralUnit.Type)
	if err != nil {
		errs = append(errs, fmt.Sprintf("central_unit.type %q is not MICROS or MICROS_PLUS", c.CentralUnit.Type))
	}

	for _, name := range c.CentralUnit.Monitored {
		if _, err := profile.ParseFunction(name); err != nil {
			errs = append(errs, fmt.Sprintf("central_unit.monitored: unknown function %q", name))
		}
	}

	for name, d := range map[string]time.Duration{
		"connect": c.Timeouts.Connect, "response": c.Timeouts.Response,
		"poll": c.Timeouts.Poll, "drain": c.Timeouts.Drain,
		"confirm": c.Timeouts.Confirm, "confirm_interval": c.Timeouts.ConfirmInterval,
		"event_interval": c.Timeouts.EventInterval, "keep_alive": c.Timeouts.KeepAlive,
	} {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("timeouts.%s must not be negative", name))
		}
	}

	if _, err := logLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level %q is unknown", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console", "zap":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json, console or zap", c.Logging.Format))
	}

	seen := make(map[string]bool, len(c.Components))
	for i, comp := range c.Components {
		fn, err := profile.ParseFunction(comp.Function)
		if err != nil {
			errs = append(errs, fmt.Sprintf("components[%d]: unknown function %q", i, comp.Function))
			continue
		}

		if p != nil && (comp.Number < 0 || comp.Number > p.MaxNumber()) {
			errs = append(errs, fmt.Sprintf("components[%d]: number %d out of range 0-%d", i, comp.Number, p.MaxNumber()))
		}

		key := fmt.Sprintf("%s/%d", fn, comp.Number)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("components[%d]: duplicate component %s", i, key))
		}
		seen[key] = true
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}
