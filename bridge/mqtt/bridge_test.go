package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-tds/client"
	"github.com/arloliu/go-tds/engine"
	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
	"github.com/arloliu/go-tds/registry"
)

type mockSetter struct {
	mock.Mock
}

func (m *mockSetter) Set(ctx context.Context, fn profile.Function, number int, state profile.State) error {
	args := m.Called(ctx, fn, number, state)
	return args.Error(0)
}

func newTestBridge(t *testing.T, c *fakeClient, setter Setter) *Bridge {
	t.Helper()

	b, err := New(c, setter, Config{TopicPrefix: "home/tds", QoS: 1, SetTimeout: time.Second}, logger.NewMockLogger().AllowAll())
	require.NoError(t, err)

	return b
}

func TestParseCommandTopic(t *testing.T) {
	fn, number, err := ParseCommandTopic("home/tds", "home/tds/dimmer/12/set")
	require.NoError(t, err)
	require.Equal(t, profile.FunctionDimmer, fn)
	require.Equal(t, 12, number)

	for _, topic := range []string{
		"other/dimmer/12/set",
		"home/tds/dimmer/12/state",
		"home/tds/heater/1/set",
		"home/tds/relay/x/set",
		"home/tds/relay/-1/set",
		"home/tds/relay/1/2/set",
	} {
		_, _, err := ParseCommandTopic("home/tds", topic)
		require.ErrorIs(t, err, ErrInvalidTopic, topic)
	}
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(nil, nil, Config{TopicPrefix: "x"}, nil)
	require.Error(t, err)

	_, err = New(newFakeClient(), nil, Config{}, nil)
	require.Error(t, err)

	_, err = New(newFakeClient(), nil, Config{TopicPrefix: "x", QoS: 3}, nil)
	require.Error(t, err)
}

func TestBridge_StartStop(t *testing.T) {
	require := require.New(t)
	c := newFakeClient()
	b := newTestBridge(t, c, &mockSetter{})

	require.NoError(b.Start())
	msg, ok := c.lastOn("home/tds/status")
	require.True(ok)
	require.Equal("online", msg.payload)
	require.True(msg.retained)

	b.Stop()
	msg, _ = c.lastOn("home/tds/status")
	require.Equal("offline", msg.payload)
	require.True(c.disconnected)
	require.False(c.deliver("home/tds/+/+/set", "home/tds/relay/1/set", "ON"))
}

func TestBridge_StartFailures(t *testing.T) {
	c := newFakeClient()
	c.subscribeErr = errors.New("denied")
	b := newTestBridge(t, c, &mockSetter{})
	require.ErrorIs(t, b.Start(), ErrSubscribeFailed)

	c = newFakeClient()
	c.connected = false
	b = newTestBridge(t, c, nil)
	require.ErrorIs(t, b.Start(), ErrNotConnected)
}

func TestBridge_PublishesStateBatch(t *testing.T) {
	require := require.New(t)
	c := newFakeClient()
	b := newTestBridge(t, c, nil)

	reg, err := registry.NewMemory(
		registry.NewDevice(profile.FunctionRelay, 1, ""),
		registry.NewDevice(profile.FunctionDimmer, 4, ""),
		registry.NewDevice(profile.FunctionMotor, 2, ""),
	)
	require.NoError(err)

	relay, _ := reg.Resolve(profile.FunctionRelay, 1)
	dimmer, _ := reg.Resolve(profile.FunctionDimmer, 4)
	motor, _ := reg.Resolve(profile.FunctionMotor, 2)
	reg.UpdateState(relay, profile.On)
	reg.UpdateState(dimmer, profile.Level(42))

	// motor has no observed state and is skipped
	b.OnStateChange([]*registry.Device{relay, dimmer, motor})

	require.Equal([]published{
		{topic: "home/tds/relay/1/state", payload: "ON", retained: true},
		{topic: "home/tds/dimmer/4/state", payload: "42", retained: true},
	}, c.messages())
}

func TestBridge_SetCommand(t *testing.T) {
	require := require.New(t)
	c := newFakeClient()
	setter := &mockSetter{}
	setter.On("Set", mock.Anything, profile.FunctionMotor, 3, profile.Down).Return(nil).Once()
	setter.On("Set", mock.Anything, profile.FunctionRelay, 1, profile.On).Return(client.ErrStateConfirmationTimeout).Once()

	b := newTestBridge(t, c, setter)
	require.NoError(b.Start())

	require.True(c.deliver("home/tds/+/+/set", "home/tds/motor/3/set", "down"))
	require.Eventually(func() bool {
		msg, ok := c.lastOn("home/tds/motor/3/result")
		return ok && msg.payload == "OK"
	}, time.Second, 5*time.Millisecond)

	require.True(c.deliver("home/tds/+/+/set", "home/tds/relay/1/set", "ON"))
	require.Eventually(func() bool {
		msg, ok := c.lastOn("home/tds/relay/1/result")
		return ok && msg.payload == client.ErrStateConfirmationTimeout.Error()
	}, time.Second, 5*time.Millisecond)

	// bad payload is answered without calling the setter
	require.True(c.deliver("home/tds/+/+/set", "home/tds/relay/2/set", "sideways"))
	msg, ok := c.lastOn("home/tds/relay/2/result")
	require.True(ok)
	require.Contains(msg.payload, "invalid state")

	b.Stop()
	setter.AssertExpectations(t)
}

func TestBridge_WithClient(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	cfg, err := engine.NewConnectionConfig("localhost", engine.DefaultPort,
		engine.WithTestMode(true),
		engine.WithPollInterval(5*time.Millisecond),
		engine.WithDrainTimeout(50*time.Millisecond),
	)
	require.NoError(err)
	e, err := engine.New(ctx, cfg)
	require.NoError(err)
	reg, err := registry.NewMemory(registry.NewDevice(profile.FunctionDimmer, 1, "living room"))
	require.NoError(err)

	cl, err := client.New(e, reg, client.WithEventInterval(10*time.Millisecond), client.WithConfirmInterval(5*time.Millisecond))
	require.NoError(err)
	require.NoError(cl.Connect(ctx))
	defer func() { _ = cl.Disconnect(ctx) }()

	c := newFakeClient()
	b := newTestBridge(t, c, cl)
	cl.RegisterListener(b.OnStateChange)
	require.NoError(b.Start())
	defer b.Stop()

	require.True(c.deliver("home/tds/+/+/set", "home/tds/dimmer/1/set", "60"))

	require.Eventually(func() bool {
		msg, ok := c.lastOn("home/tds/dimmer/1/state")
		return ok && msg.payload == "60"
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(func() bool {
		msg, ok := c.lastOn("home/tds/dimmer/1/result")
		return ok && msg.payload == "OK"
	}, 2*time.Second, 5*time.Millisecond)
}
