// Package client is the high level facade of a central unit connection.
//
// A Client owns an engine and a device registry. Connect opens the engine,
// subscribes to the events of the monitored functions and starts two periodic
// tasks: the event dispatcher, which drains unsolicited EVENT frames into the
// registry and notifies state-change listeners, and the keep-alive scheduler.
// Get, GroupGet and Set translate calls into frames executed by the engine.
//
// Set is confirmed by the event channel, not by the acknowledge byte: after the
// SET is acknowledged the caller polls the cached device state until it matches
// the requested state or the confirm timeout passes.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-tds/engine"
	"github.com/arloliu/go-tds/frame"
	"github.com/arloliu/go-tds/internal/task"
	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
	"github.com/arloliu/go-tds/registry"
)

const (
	dispatcherTask = "dispatcher"
	keepAliveTask  = "keepalive"
	watchTask      = "watch"
)

// Reading is the state of one device returned by a GET.
type Reading struct {
	Device *registry.Device
	State  profile.State
}

func (r Reading) String() string {
	return fmt.Sprintf("%s=%s", r.Device.Key(), r.State)
}

// Client is the facade of one central unit connection.
type Client struct {
	engine   *engine.Engine
	registry registry.Registry
	profile  *profile.Profile
	opts     options
	logger   logger.Logger

	taskMgr   *task.Manager
	connMu    sync.Mutex
	connected atomic.Bool

	listeners   *xsync.MapOf[uint64, StateChangeListener]
	listenerSeq atomic.Uint64
}

// New creates a client over e and reg. The engine must not be opened; Connect opens it.
func New(e *engine.Engine, reg registry.Registry, opts ...Option) (*Client, error) {
	if e == nil {
		return nil, errors.New("tds: engine is nil")
	}
	if reg == nil {
		return nil, errors.New("tds: registry is nil")
	}

	o := defaultOptions()
	o.logger = e.Config().GetLogger()
	for _, opt := range opts {
		if err := opt.apply(&o); err != nil {
			return nil, err
		}
	}

	p := e.Profile()
	for _, fn := range o.monitored {
		if _, err := p.FunctionCode(fn); err != nil {
			return nil, fmt.Errorf("monitored function: %w", err)
		}
	}

	if o.keepAliveInterval == 0 {
		o.keepAliveInterval = p.KeepAlive().Interval
	}

	return &Client{
		engine:    e,
		registry:  reg,
		profile:   p,
		opts:      o,
		logger:    o.logger,
		taskMgr:   task.NewManager(context.Background(), o.logger),
		listeners: xsync.NewMapOf[uint64, StateChangeListener](),
	}, nil
}

// Engine returns the underlying engine.
func (c *Client) Engine() *engine.Engine { return c.engine }

// Registry returns the device registry.
func (c *Client) Registry() registry.Registry { return c.registry }

// Profile returns the protocol profile of the connection.
func (c *Client) Profile() *profile.Profile { return c.profile }

// IsConnected reports whether the client is connected and its engine is running.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Connect opens the engine, subscribes to the events of every monitored
// function in order, and starts the event dispatcher and keep-alive tasks. The
// first keep-alive is sent before Connect returns.
// With startup sync enabled it then reads every registered device of the
// monitored functions.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	if err := c.engine.Open(ctx); err != nil {
		return err
	}

	for _, fn := range c.opts.monitored {
		if err := c.LogSubscribe(ctx, fn, true); err != nil {
			c.logger.Error("failed to subscribe events", "function", fn, "error", err)
			_ = c.engine.Close()

			return fmt.Errorf("subscribe %s: %w", fn, err)
		}
	}

	if err := c.startTasks(); err != nil {
		c.taskMgr.Stop()
		c.taskMgr.Wait()
		_ = c.engine.Close()

		return err
	}
	c.connected.Store(true)

	c.logger.Info("client connected", "monitored", c.opts.monitored, "keepalive", c.opts.keepAliveInterval)

	if c.opts.startupSync {
		if err := c.Sync(ctx); err != nil {
			c.logger.Warn("startup sync incomplete", "error", err)
		}
	}

	return nil
}

// Disconnect stops the periodic tasks, unsubscribes the monitored functions in
// order and closes the engine. Unsubscribe failures are logged.
func (c *Client) Disconnect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.connected.Store(false)

	c.taskMgr.Stop()
	c.taskMgr.Wait()

	if c.engine.State() != engine.OpenedState {
		return nil
	}

	if c.engine.Err() == nil {
		for _, fn := range c.opts.monitored {
			if err := c.LogSubscribe(ctx, fn, false); err != nil {
				c.logger.Warn("failed to unsubscribe events", "function", fn, "error", err)
				if errors.Is(err, engine.ErrTransport) {
					break
				}
			}
		}
	}

	if err := c.engine.Close(); err != nil {
		return err
	}

	c.logger.Info("client disconnected")

	return nil
}

func (c *Client) startTasks() error {
	if err := c.taskMgr.Every(dispatcherTask, c.opts.eventInterval, c.dispatchTick, false); err != nil {
		return err
	}

	if err := c.taskMgr.Every(keepAliveTask, c.opts.keepAliveInterval, c.keepAliveTick, true); err != nil {
		return err
	}

	return c.taskMgr.Loop(watchTask, c.watchEngine, nil)
}

// watchEngine stops the periodic tasks when the engine stops on its own.
func (c *Client) watchEngine(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.engine.Done():
	}

	c.connected.Store(false)
	c.taskMgr.Cancel(dispatcherTask)
	c.taskMgr.Cancel(keepAliveTask)

	if err := c.engine.Err(); errors.Is(err, engine.ErrTransport) {
		c.logger.Error("connection lost, periodic tasks stopped", "error", err)
	}

	return false
}

// Get reads the current state of a registered device and records it in the registry.
func (c *Client) Get(ctx context.Context, fn profile.Function, number int) (profile.State, error) {
	if !c.connected.Load() {
		return profile.State{}, ErrNotConnected
	}

	dev, err := c.registry.Resolve(fn, number)
	if err != nil {
		return profile.State{}, err
	}

	r, err := c.get(ctx, dev)
	if err != nil {
		return profile.State{}, err
	}

	return r.State, nil
}

func (c *Client) get(ctx context.Context, dev *registry.Device) (Reading, error) {
	msg := &frame.Message{Command: profile.CommandGet, Function: dev.Function, Numbers: []int{dev.Number}}

	resp, err := c.engine.Execute(ctx, msg, engine.ExpectEvent)
	if err != nil {
		return Reading{}, fmt.Errorf("get %s: %w", dev.Key(), err)
	}

	c.registry.UpdateState(dev, resp.Event.State)

	return Reading{Device: dev, State: resp.Event.State}, nil
}

// GroupGet reads several devices of fn with one GET per number, in argument
// order. Every number must be registered. On failure the readings gathered so
// far are returned with the error.
func (c *Client) GroupGet(ctx context.Context, fn profile.Function, numbers ...int) ([]Reading, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	devices := make([]*registry.Device, 0, len(numbers))
	for _, n := range numbers {
		dev, err := c.registry.Resolve(fn, n)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}

	return c.groupGet(ctx, devices)
}

// GroupGetAll reads every registered device of fn.
func (c *Client) GroupGetAll(ctx context.Context, fn profile.Function) ([]Reading, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	return c.groupGet(ctx, c.registry.Devices(fn))
}

func (c *Client) groupGet(ctx context.Context, devices []*registry.Device) ([]Reading, error) {
	readings := make([]Reading, 0, len(devices))
	for _, dev := range devices {
		r, err := c.get(ctx, dev)
		if err != nil {
			return readings, err
		}
		readings = append(readings, r)
	}

	return readings, nil
}

// Sync reads every registered device of every monitored function. A device
// that does not answer does not stop the sync; a transport failure does.
func (c *Client) Sync(ctx context.Context) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	var errs []error
	for _, fn := range c.opts.monitored {
		for _, dev := range c.registry.Devices(fn) {
			if _, err := c.get(ctx, dev); err != nil {
				if errors.Is(err, engine.ErrTransport) || errors.Is(err, engine.ErrConnClosed) || ctx.Err() != nil {
					return errors.Join(append(errs, err)...)
				}
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Set sends a SET for a registered device and waits until the event channel
// reports the requested state.
//
// TOGGLE is confirmed by any new state observation after the acknowledge, since
// the device reports the resulting state rather than the toggle itself. When
// the state is not observed within the confirm timeout, Set returns an error
// wrapping ErrStateConfirmationTimeout even though the SET was acknowledged.
func (c *Client) Set(ctx context.Context, fn profile.Function, number int, state profile.State) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	dev, err := c.registry.Resolve(fn, number)
	if err != nil {
		return err
	}

	want, err := c.profile.Normalize(fn, state)
	if err != nil {
		return err
	}

	baseline := dev.Version()
	msg := &frame.Message{Command: profile.CommandSet, Function: fn, Numbers: []int{number}, State: state}
	if _, err := c.engine.Execute(ctx, msg, engine.ExpectAck); err != nil {
		return fmt.Errorf("set %s %s: %w", dev.Key(), state, err)
	}

	matched := func() bool {
		cur, ok := dev.State()
		return ok && cur == want
	}
	if state == profile.Toggle {
		matched = func() bool { return dev.Version() > baseline }
	}

	res := c.awaitState(ctx, matched)
	switch res {
	case confirmOK:
		c.logger.Debug("set confirmed", "device", dev.Key(), "state", state)
		return nil
	case confirmCancelled:
		return ctx.Err()
	case confirmStopped:
		return c.engine.Err()
	default:
		c.logger.Warn("set not confirmed", "device", dev.Key(), "state", state, "timeout", c.opts.confirmTimeout)
		return fmt.Errorf("%w: %s to %s after %v", ErrStateConfirmationTimeout, dev.Key(), state, c.opts.confirmTimeout)
	}
}

type confirmResult uint8

const (
	confirmOK confirmResult = iota
	confirmTimeout
	confirmCancelled
	confirmStopped
)

// awaitState polls matched until it holds or the confirm deadline passes.
func (c *Client) awaitState(ctx context.Context, matched func() bool) confirmResult {
	deadline := time.Now().Add(c.opts.confirmTimeout)

	ticker := time.NewTicker(c.opts.confirmInterval)
	defer ticker.Stop()

	for {
		if matched() {
			return confirmOK
		}

		if !time.Now().Before(deadline) {
			return confirmTimeout
		}

		select {
		case <-ctx.Done():
			return confirmCancelled
		case <-c.engine.Done():
			if matched() {
				return confirmOK
			}

			return confirmStopped
		case <-ticker.C:
		}
	}
}

// LogSubscribe turns the unsolicited events of fn on or off.
func (c *Client) LogSubscribe(ctx context.Context, fn profile.Function, on bool) error {
	msg := &frame.Message{Command: profile.CommandLog, Function: fn, LogOn: on}
	if _, err := c.engine.Execute(ctx, msg, engine.ExpectAck); err != nil {
		return err
	}

	c.logger.Debug("log subscription", "function", fn, "on", on)

	return nil
}
