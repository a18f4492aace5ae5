package engine

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
)

// Default values.
const (
	DefaultPort = 55957

	DefaultConnectTimeout  = 3 * time.Second
	DefaultResponseTimeout = 5 * time.Second
	DefaultPollInterval    = 20 * time.Millisecond
	DefaultDrainTimeout    = 500 * time.Millisecond
	DefaultSendTimeout     = 3 * time.Second
	DefaultCloseTimeout    = 3 * time.Second
	DefaultQueueSize       = 16
)

// Range limits.
const (
	MinResponseTimeout = 100 * time.Millisecond
	MaxResponseTimeout = 60 * time.Second

	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second
)

// ConnectionConfig holds the settings of one central unit connection.
// It is read once when the engine opens.
type ConnectionConfig struct {
	host string
	port int

	profile *profile.Profile

	connectTimeout  time.Duration
	responseTimeout time.Duration
	pollInterval    time.Duration
	drainTimeout    time.Duration
	sendTimeout     time.Duration
	closeTimeout    time.Duration

	queueSize int

	testMode bool
	testEcho bool

	logger logger.Logger
}

// NewConnectionConfig creates the configuration of a connection to host:port.
// The protocol profile defaults to MICROS_PLUS.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		profile:         profile.MicrosPlus(),
		connectTimeout:  DefaultConnectTimeout,
		responseTimeout: DefaultResponseTimeout,
		pollInterval:    DefaultPollInterval,
		drainTimeout:    DefaultDrainTimeout,
		sendTimeout:     DefaultSendTimeout,
		closeTimeout:    DefaultCloseTimeout,
		queueSize:       DefaultQueueSize,
		logger:          logger.GetLogger(),
	}

	if err := cfg.setHost(host); err != nil {
		return nil, err
	}
	if err := cfg.setPort(port); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.drainTimeout < cfg.pollInterval {
		return nil, fmt.Errorf("tds: drain timeout %v shorter than poll interval %v", cfg.drainTimeout, cfg.pollInterval)
	}

	return cfg, nil
}

func (cfg *ConnectionConfig) setHost(host string) error {
	if host == "" {
		return errors.New("tds: host must not be empty")
	}
	cfg.host = host

	return nil
}

func (cfg *ConnectionConfig) setPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("tds: port %d out of range [1, 65535]", port)
	}
	cfg.port = port

	return nil
}

// Host returns the central unit host.
func (cfg *ConnectionConfig) Host() string { return cfg.host }

// Port returns the central unit TCP port.
func (cfg *ConnectionConfig) Port() int { return cfg.port }

// Addr returns "host:port".
func (cfg *ConnectionConfig) Addr() string { return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port)) }

// Profile returns the protocol profile.
func (cfg *ConnectionConfig) Profile() *profile.Profile { return cfg.profile }

// ConnectTimeout returns the TCP dial timeout.
func (cfg *ConnectionConfig) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// ResponseTimeout returns the per-request deadline.
func (cfg *ConnectionConfig) ResponseTimeout() time.Duration { return cfg.responseTimeout }

// PollInterval returns the read poll interval.
func (cfg *ConnectionConfig) PollInterval() time.Duration { return cfg.pollInterval }

// DrainTimeout returns the upper bound of one drain job.
func (cfg *ConnectionConfig) DrainTimeout() time.Duration { return cfg.drainTimeout }

// IsTestMode reports whether the engine reads injected bytes instead of a socket.
func (cfg *ConnectionConfig) IsTestMode() bool { return cfg.testMode }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithProfile sets the protocol profile.
func WithProfile(p *profile.Profile) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if p == nil {
			return errors.New("tds: profile must not be nil")
		}
		cfg.profile = p

		return nil
	})
}

// WithCentralUnitType selects the protocol profile by central unit type name,
// "MICROS" or "MICROS_PLUS".
func WithCentralUnitType(name string) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		p, err := profile.ForCentralUnit(name)
		if err != nil {
			return err
		}
		cfg.profile = p

		return nil
	})
}

// WithConnectTimeout sets the TCP dial timeout.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("tds: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithResponseTimeout sets the per-request deadline, between 100ms and 60s.
func WithResponseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinResponseTimeout || d > MaxResponseTimeout {
			return fmt.Errorf("tds: response timeout %v out of range [%v, %v]", d, MinResponseTimeout, MaxResponseTimeout)
		}
		cfg.responseTimeout = d

		return nil
	})
}

// WithPollInterval sets how long one socket read waits for bytes, between 1ms and 1s.
func WithPollInterval(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("tds: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithDrainTimeout bounds a single drain job. It must not be shorter than the poll interval.
func WithDrainTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("tds: drain timeout must be positive")
		}
		cfg.drainTimeout = d

		return nil
	})
}

// WithSendTimeout sets the socket write timeout, which also bounds queueing a request.
func WithSendTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("tds: send timeout must be positive")
		}
		cfg.sendTimeout = d

		return nil
	})
}

// WithCloseTimeout sets how long Close waits for the worker to stop.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("tds: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithQueueSize sets the capacity of the request queue.
func WithQueueSize(size int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if size < 1 {
			return errors.New("tds: queue size must be >= 1")
		}
		cfg.queueSize = size

		return nil
	})
}

// WithTestMode makes the engine read injected bytes instead of dialing the
// central unit. When echo is set, written SET frames are answered with an
// acknowledge and the matching EVENT, GET frames with an EVENT carrying the
// simulated state, and every other frame with an acknowledge. Without echo
// only the acknowledge is produced.
func WithTestMode(echo bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.testMode = true
		cfg.testEcho = echo

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("tds: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
