package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
)

// Default values.
const (
	DefaultConfirmTimeout  = 3 * time.Second
	DefaultConfirmInterval = 50 * time.Millisecond
	DefaultEventInterval   = 50 * time.Millisecond
)

// DefaultMonitoredFunctions are the functions subscribed for events on Connect.
var DefaultMonitoredFunctions = []profile.Function{
	profile.FunctionRelay,
	profile.FunctionLocalMood,
	profile.FunctionGeneralMood,
	profile.FunctionMotor,
	profile.FunctionDimmer,
}

type options struct {
	confirmTimeout    time.Duration
	confirmInterval   time.Duration
	eventInterval     time.Duration
	keepAliveInterval time.Duration
	monitored         []profile.Function
	startupSync       bool
	logger            logger.Logger
}

func defaultOptions() options {
	return options{
		confirmTimeout:  DefaultConfirmTimeout,
		confirmInterval: DefaultConfirmInterval,
		eventInterval:   DefaultEventInterval,
		monitored:       append([]profile.Function(nil), DefaultMonitoredFunctions...),
	}
}

// Option is a functional option for configuring a Client.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithConfirmTimeout sets how long Set waits for the event confirming its effect.
func WithConfirmTimeout(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d <= 0 {
			return errors.New("tds: confirm timeout must be positive")
		}
		o.confirmTimeout = d

		return nil
	})
}

// WithConfirmInterval sets how often Set polls the cached device state.
func WithConfirmInterval(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d <= 0 {
			return errors.New("tds: confirm interval must be positive")
		}
		o.confirmInterval = d

		return nil
	})
}

// WithEventInterval sets the period of the event dispatcher.
func WithEventInterval(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d <= 0 {
			return errors.New("tds: event interval must be positive")
		}
		o.eventInterval = d

		return nil
	})
}

// WithKeepAliveInterval overrides the keep-alive period of the protocol profile.
func WithKeepAliveInterval(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d <= 0 {
			return errors.New("tds: keep-alive interval must be positive")
		}
		o.keepAliveInterval = d

		return nil
	})
}

// WithMonitoredFunctions sets the functions subscribed for events on Connect.
func WithMonitoredFunctions(fns ...profile.Function) Option {
	return optFunc(func(o *options) error {
		seen := make(map[profile.Function]bool, len(fns))
		for _, fn := range fns {
			if seen[fn] {
				return fmt.Errorf("tds: function %s monitored twice", fn)
			}
			seen[fn] = true
		}
		o.monitored = append([]profile.Function(nil), fns...)

		return nil
	})
}

// WithStartupSync reads every registered device of the monitored functions on
// Connect, so the state cache starts populated.
func WithStartupSync(enabled bool) Option {
	return optFunc(func(o *options) error {
		o.startupSync = enabled
		return nil
	})
}

// WithLogger sets the client logger. It defaults to the engine's logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("tds: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}
