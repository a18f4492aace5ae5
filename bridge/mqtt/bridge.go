package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
	"github.com/arloliu/go-tds/registry"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultSetTimeout     = 10 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 60 * time.Second
	disconnectQuiesce     = 500 // milliseconds

	statusOnline  = "online"
	statusOffline = "offline"
	resultOK      = "OK"
)

var (
	// ErrNotConnected indicates the MQTT client is not connected to the broker.
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrPublishFailed wraps a failed or timed out publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")
	// ErrSubscribeFailed wraps a failed or timed out subscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
	// ErrInvalidTopic indicates a command topic that does not name a device.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)

// Setter executes a confirmed SET. *client.Client implements it.
type Setter interface {
	Set(ctx context.Context, fn profile.Function, number int, state profile.State) error
}

// Config configures a Bridge.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	// SetTimeout bounds one Set call started by a command message.
	SetTimeout time.Duration
}

// NewClientOptions builds paho options for cfg, with auto-reconnect and an
// offline last will on the status topic.
func NewClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(statusTopic(cfg.TopicPrefix), statusOffline, cfg.QoS, true)

	return opts
}

// Dial creates a paho client from cfg and connects it.
func Dial(cfg Config) (pahomqtt.Client, error) {
	c := pahomqtt.NewClient(NewClientOptions(cfg))

	token := c.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s: timeout after %v", cfg.Broker, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}

	return c, nil
}

// Bridge publishes device states and forwards set commands.
type Bridge struct {
	client pahomqtt.Client
	setter Setter
	cfg    Config
	logger logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a bridge over a connected paho client. setter may be nil, in
// which case command topics are not subscribed.
func New(c pahomqtt.Client, setter Setter, cfg Config, l logger.Logger) (*Bridge, error) {
	if c == nil {
		return nil, errors.New("mqtt: client is nil")
	}
	if cfg.TopicPrefix == "" {
		return nil, errors.New("mqtt: topic prefix must not be empty")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	if cfg.SetTimeout <= 0 {
		cfg.SetTimeout = defaultSetTimeout
	}
	if l == nil {
		l = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		client: c,
		setter: setter,
		cfg:    cfg,
		logger: l.With("component", "mqtt-bridge"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start announces the bridge online and subscribes to the command topics.
func (b *Bridge) Start() error {
	if err := b.publish(statusTopic(b.cfg.TopicPrefix), statusOnline, true); err != nil {
		return err
	}

	if b.setter == nil {
		return nil
	}

	topic := b.cfg.TopicPrefix + "/+/+/set"
	token := b.client.Subscribe(topic, b.cfg.QoS, b.handleSet)
	if !token.WaitTimeout(defaultTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	b.logger.Info("mqtt bridge started", "prefix", b.cfg.TopicPrefix)

	return nil
}

// Stop unsubscribes, waits for running commands, announces the bridge offline
// and disconnects the paho client.
func (b *Bridge) Stop() {
	if b.setter != nil {
		token := b.client.Unsubscribe(b.cfg.TopicPrefix + "/+/+/set")
		if !token.WaitTimeout(defaultTimeout) || token.Error() != nil {
			b.logger.Warn("failed to unsubscribe command topic", "error", token.Error())
		}
	}

	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	if err := b.publish(statusTopic(b.cfg.TopicPrefix), statusOffline, true); err != nil {
		b.logger.Warn("failed to publish offline status", "error", err)
	}

	b.client.Disconnect(disconnectQuiesce)
	b.logger.Info("mqtt bridge stopped")
}

// OnStateChange publishes the state of every device in batch. It is meant to
// be registered as a client state-change listener.
func (b *Bridge) OnStateChange(batch []*registry.Device) {
	for _, dev := range batch {
		state, ok := dev.State()
		if !ok {
			continue
		}

		topic := StateTopic(b.cfg.TopicPrefix, dev.Function, dev.Number)
		if err := b.publish(topic, state.String(), true); err != nil {
			b.logger.Warn("failed to publish state", "device", dev.Key(), "error", err)
		}
	}
}

func (b *Bridge) handleSet(_ pahomqtt.Client, msg pahomqtt.Message) {
	fn, number, err := ParseCommandTopic(b.cfg.TopicPrefix, msg.Topic())
	if err != nil {
		b.logger.Warn("ignoring command", "topic", msg.Topic(), "error", err)
		return
	}

	state, err := profile.ParseState(string(msg.Payload()))
	if err != nil {
		b.logger.Warn("ignoring command", "topic", msg.Topic(), "error", err)
		b.publishResult(fn, number, err)

		return
	}

	b.logger.Debug("command received", "function", fn, "number", number, "state", state)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	// Set blocks until the state is confirmed; keep paho's router free.
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(b.ctx, b.cfg.SetTimeout)
		defer cancel()

		err := b.setter.Set(ctx, fn, number, state)
		if err != nil {
			b.logger.Warn("command failed", "function", fn, "number", number, "state", state, "error", err)
		}
		b.publishResult(fn, number, err)
	}()
}

func (b *Bridge) publishResult(fn profile.Function, number int, err error) {
	payload := resultOK
	if err != nil {
		payload = err.Error()
	}

	if perr := b.publish(ResultTopic(b.cfg.TopicPrefix, fn, number), payload, false); perr != nil {
		b.logger.Warn("failed to publish command result", "error", perr)
	}
}

func (b *Bridge) publish(topic string, payload string, retained bool) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}

	token := b.client.Publish(topic, b.cfg.QoS, retained, payload)
	if !token.WaitTimeout(defaultTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	return nil
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

// StateTopic returns the state topic of a device.
func StateTopic(prefix string, fn profile.Function, number int) string {
	return fmt.Sprintf("%s/%s/%d/state", prefix, fn, number)
}

// ResultTopic returns the command result topic of a device.
func ResultTopic(prefix string, fn profile.Function, number int) string {
	return fmt.Sprintf("%s/%s/%d/result", prefix, fn, number)
}

// ParseCommandTopic extracts the device of a "<prefix>/<function>/<number>/set" topic.
func ParseCommandTopic(prefix, topic string) (profile.Function, int, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	fn, err := profile.ParseFunction(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}

	number, err := strconv.Atoi(parts[1])
	if err != nil || number < 0 {
		return 0, 0, fmt.Errorf("%w: bad number %q", ErrInvalidTopic, parts[1])
	}

	return fn, number, nil
}
