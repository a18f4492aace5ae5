package client

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-tds/engine"
	"github.com/arloliu/go-tds/frame"
	"github.com/arloliu/go-tds/internal/fakecu"
	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
	"github.com/arloliu/go-tds/registry"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func testDevices() []*registry.Device {
	return []*registry.Device{
		registry.NewDevice(profile.FunctionRelay, 1, "kitchen"),
		registry.NewDevice(profile.FunctionRelay, 2, "hall"),
		registry.NewDevice(profile.FunctionRelay, 3, "garden"),
		registry.NewDevice(profile.FunctionDimmer, 1, "living room"),
		registry.NewDevice(profile.FunctionMotor, 1, "blind"),
	}
}

func fastEngineOpts() []engine.ConnOption {
	return []engine.ConnOption{
		engine.WithPollInterval(5 * time.Millisecond),
		engine.WithDrainTimeout(50 * time.Millisecond),
		engine.WithResponseTimeout(500 * time.Millisecond),
	}
}

func fastClientOpts(opts ...Option) []Option {
	return append([]Option{
		WithEventInterval(10 * time.Millisecond),
		WithConfirmInterval(5 * time.Millisecond),
		WithConfirmTimeout(time.Second),
	}, opts...)
}

func newTestModeClient(t *testing.T, echo bool, opts ...Option) *Client {
	t.Helper()

	cfg, err := engine.NewConnectionConfig("localhost", engine.DefaultPort,
		append(fastEngineOpts(), engine.WithTestMode(echo))...)
	require.NoError(t, err)

	return newClient(t, cfg, opts...)
}

func newServerClient(t *testing.T, srv *fakecu.Server, p *profile.Profile, opts ...Option) *Client {
	t.Helper()

	cfg, err := engine.NewConnectionConfig(srv.Host(), srv.Port(),
		append(fastEngineOpts(), engine.WithProfile(p))...)
	require.NoError(t, err)

	return newClient(t, cfg, opts...)
}

func newClient(t *testing.T, cfg *engine.ConnectionConfig, opts ...Option) *Client {
	t.Helper()

	e, err := engine.New(context.Background(), cfg)
	require.NoError(t, err)

	reg, err := registry.NewMemory(testDevices()...)
	require.NoError(t, err)

	c, err := New(e, reg, fastClientOpts(opts...)...)
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })

	return c
}

func startServer(t *testing.T, p *profile.Profile) *fakecu.Server {
	t.Helper()

	srv, err := fakecu.Start(p, logger.NewMockLogger().AllowAll())
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	return srv
}

// batchRecorder collects listener batches as device keys.
type batchRecorder struct {
	mu      sync.Mutex
	batches [][]registry.Key
}

func (r *batchRecorder) listener(batch []*registry.Device) {
	keys := make([]registry.Key, 0, len(batch))
	for _, d := range batch {
		keys = append(keys, d.Key())
	}

	r.mu.Lock()
	r.batches = append(r.batches, keys)
	r.mu.Unlock()
}

func (r *batchRecorder) get() [][]registry.Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([][]registry.Key(nil), r.batches...)
}

func TestClient_SetConfirmed(t *testing.T) {
	require := require.New(t)
	c := newTestModeClient(t, true)

	require.NoError(c.Set(context.Background(), profile.FunctionRelay, 1, profile.On))

	dev, err := c.Registry().Resolve(profile.FunctionRelay, 1)
	require.NoError(err)
	state, ok := dev.State()
	require.True(ok)
	require.Equal(profile.On, state)
}

func TestClient_SetConfirmationTimeout(t *testing.T) {
	require := require.New(t)
	c := newTestModeClient(t, false, WithConfirmTimeout(150*time.Millisecond))

	start := time.Now()
	err := c.Set(context.Background(), profile.FunctionRelay, 1, profile.On)
	require.ErrorIs(err, ErrStateConfirmationTimeout)
	require.GreaterOrEqual(time.Since(start), 150*time.Millisecond)
}

func TestClient_SetConfirmedByLateEvent(t *testing.T) {
	require := require.New(t)
	c := newTestModeClient(t, false)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = c.Engine().InjectEvent(frame.Event{Function: profile.FunctionMotor, Number: 1, State: profile.Up})
	}()

	require.NoError(c.Set(context.Background(), profile.FunctionMotor, 1, profile.Up))
}

func TestClient_SetToggle(t *testing.T) {
	require := require.New(t)
	c := newTestModeClient(t, true)
	ctx := context.Background()

	require.NoError(c.Set(ctx, profile.FunctionRelay, 2, profile.Toggle))
	dev, err := c.Registry().Resolve(profile.FunctionRelay, 2)
	require.NoError(err)
	state, _ := dev.State()
	require.Equal(profile.On, state)

	require.NoError(c.Set(ctx, profile.FunctionRelay, 2, profile.Toggle))
	state, _ = dev.State()
	require.Equal(profile.Off, state)
}

func TestClient_SetLevelSharingNamedValue(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	c := newTestModeClient(t, true)
	dev, err := c.Registry().Resolve(profile.FunctionDimmer, 1)
	require.NoError(err)

	require.NoError(c.Set(ctx, profile.FunctionDimmer, 1, profile.Level(40)))
	state, _ := dev.State()
	require.Equal(profile.Level(40), state)

	require.NoError(c.Set(ctx, profile.FunctionDimmer, 1, profile.Level(0)))
	state, _ = dev.State()
	require.Equal(profile.Off, state)

	srv := startServer(t, profile.Micros())
	mc := newServerClient(t, srv, profile.Micros())
	dev, err = mc.Registry().Resolve(profile.FunctionDimmer, 1)
	require.NoError(err)

	require.NoError(mc.Set(ctx, profile.FunctionDimmer, 1, profile.Level(255)))
	state, _ = dev.State()
	require.Equal(profile.On, state)
}

func TestClient_SetRejectsInvalidRequests(t *testing.T) {
	require := require.New(t)
	c := newTestModeClient(t, true)
	ctx := context.Background()

	err := c.Set(ctx, profile.FunctionRelay, 42, profile.On)
	require.ErrorIs(err, registry.ErrComponentNotFound)

	err = c.Set(ctx, profile.FunctionRelay, 1, profile.Up)
	require.ErrorIs(err, profile.ErrEncode)

	// LOG subscriptions and the first keep-alive
	require.Equal(uint64(len(DefaultMonitoredFunctions)+1), c.Engine().Metrics().FrameSendCount.Load())
}

func TestClient_Get(t *testing.T) {
	require := require.New(t)
	srv := startServer(t, profile.MicrosPlus())
	srv.SetState(profile.FunctionDimmer, 1, profile.Level(70))

	c := newServerClient(t, srv, profile.MicrosPlus())

	state, err := c.Get(context.Background(), profile.FunctionDimmer, 1)
	require.NoError(err)
	require.Equal(profile.Level(70), state)

	dev, err := c.Registry().Resolve(profile.FunctionDimmer, 1)
	require.NoError(err)
	cached, ok := dev.State()
	require.True(ok)
	require.Equal(profile.Level(70), cached)

	_, err = c.Get(context.Background(), profile.FunctionDimmer, 9)
	require.ErrorIs(err, registry.ErrComponentNotFound)
}

func TestClient_GroupGetIsSequential(t *testing.T) {
	require := require.New(t)
	srv := startServer(t, profile.MicrosPlus())
	srv.SetState(profile.FunctionRelay, 1, profile.On)
	srv.SetState(profile.FunctionRelay, 2, profile.Off)
	srv.SetState(profile.FunctionRelay, 3, profile.On)

	c := newServerClient(t, srv, profile.MicrosPlus())

	readings, err := c.GroupGet(context.Background(), profile.FunctionRelay, 1, 2, 3)
	require.NoError(err)
	require.Len(readings, 3)

	want := []profile.State{profile.On, profile.Off, profile.On}
	for i, r := range readings {
		require.Equal(i+1, r.Device.Number)
		require.Equal(want[i], r.State)
	}

	gets := srv.ReceivedCommands(profile.CommandGet)
	require.Len(gets, 3)
	for i, m := range gets {
		require.Equal(profile.FunctionRelay, m.Function)
		require.Equal(i+1, m.Number())
	}
	require.Empty(srv.ReceivedCommands(profile.CommandGroupGet))
}

func TestClient_GroupGetStopsOnNoResponse(t *testing.T) {
	require := require.New(t)
	srv := startServer(t, profile.MicrosPlus())
	c := newServerClient(t, srv, profile.MicrosPlus())

	srv.SetMode(fakecu.AckOnly)
	readings, err := c.GroupGet(context.Background(), profile.FunctionRelay, 1, 2)
	require.ErrorIs(err, engine.ErrNoResponse)
	require.Empty(readings)
}

func TestClient_GroupGetAllAndSync(t *testing.T) {
	require := require.New(t)
	srv := startServer(t, profile.MicrosPlus())
	srv.SetState(profile.FunctionMotor, 1, profile.Stop)

	c := newServerClient(t, srv, profile.MicrosPlus())

	readings, err := c.GroupGetAll(context.Background(), profile.FunctionRelay)
	require.NoError(err)
	require.Len(readings, 3)

	require.NoError(c.Sync(context.Background()))
	for _, dev := range c.Registry().AllDevices() {
		_, ok := dev.State()
		require.True(ok, "device %s not synced", dev.Key())
	}

	dev, err := c.Registry().Resolve(profile.FunctionMotor, 1)
	require.NoError(err)
	state, _ := dev.State()
	require.Equal(profile.Stop, state)
}

func TestClient_StartupSync(t *testing.T) {
	srv := startServer(t, profile.MicrosPlus())
	c := newServerClient(t, srv, profile.MicrosPlus(), WithStartupSync(true))

	for _, dev := range c.Registry().AllDevices() {
		_, ok := dev.State()
		assert.True(t, ok, "device %s not synced", dev.Key())
	}
	assert.Len(t, srv.ReceivedCommands(profile.CommandGet), len(testDevices()))
}

func TestClient_SubscribesMonitoredFunctions(t *testing.T) {
	require := require.New(t)
	srv := startServer(t, profile.MicrosPlus())

	cfg, err := engine.NewConnectionConfig(srv.Host(), srv.Port(), fastEngineOpts()...)
	require.NoError(err)
	e, err := engine.New(context.Background(), cfg)
	require.NoError(err)
	reg, err := registry.NewMemory(testDevices()...)
	require.NoError(err)

	c, err := New(e, reg, fastClientOpts()...)
	require.NoError(err)
	require.NoError(c.Connect(context.Background()))
	require.True(c.IsConnected())
	require.ErrorIs(c.Connect(context.Background()), ErrAlreadyConnected)

	require.NoError(c.Disconnect(context.Background()))
	require.False(c.IsConnected())

	logs := srv.ReceivedCommands(profile.CommandLog)
	require.Len(logs, 2*len(DefaultMonitoredFunctions))
	for i, fn := range DefaultMonitoredFunctions {
		require.Equal(fn, logs[i].Function)
		require.True(logs[i].LogOn)

		off := logs[len(DefaultMonitoredFunctions)+i]
		require.Equal(fn, off.Function)
		require.False(off.LogOn)
	}

	_, err = c.Get(context.Background(), profile.FunctionRelay, 1)
	require.ErrorIs(err, ErrNotConnected)

	// reconnect on the same client
	require.NoError(c.Connect(context.Background()))
	require.NoError(c.Disconnect(context.Background()))
}

func TestClient_DispatcherBatches(t *testing.T) {
	require := require.New(t)
	c := newTestModeClient(t, false)
	p := c.Profile()

	rec := &batchRecorder{}
	c.RegisterListener(rec.listener)

	var burst []byte
	for _, ev := range []frame.Event{
		{Function: profile.FunctionRelay, Number: 1, State: profile.On},
		{Function: profile.FunctionDimmer, Number: 1, State: profile.Level(30)},
		{Function: profile.FunctionRelay, Number: 1, State: profile.Off},
		{Function: profile.FunctionRelay, Number: 77, State: profile.On},
	} {
		data, err := frame.ComposeEvent(p, ev)
		require.NoError(err)
		burst = append(burst, data...)
	}
	require.NoError(c.Engine().InjectBytes(burst))

	require.Eventually(func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal([]registry.Key{
		{Function: profile.FunctionRelay, Number: 1},
		{Function: profile.FunctionDimmer, Number: 1},
	}, rec.get()[0])

	dev, err := c.Registry().Resolve(profile.FunctionRelay, 1)
	require.NoError(err)
	state, _ := dev.State()
	require.Equal(profile.Off, state)
	require.Equal(uint64(2), dev.Version())
}

func TestClient_DispatcherSurvivesBadFrames(t *testing.T) {
	require := require.New(t)
	c := newTestModeClient(t, false)
	p := c.Profile()

	rec := &batchRecorder{}
	c.RegisterListener(rec.listener)

	// function code 99 is unknown to the profile
	unknownFn := []byte{p.Start(), 0x07, 16, 0x01, 99, 0x00, 0x01, 0x00, 0xFF}
	unknownFn = append(unknownFn, p.Checksum(unknownFn))
	require.NoError(c.Engine().InjectBytes(unknownFn))

	require.Eventually(func() bool {
		return c.Engine().Metrics().DecodeErrCount.Load() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(c.Engine().InjectEvent(frame.Event{Function: profile.FunctionRelay, Number: 3, State: profile.On}))
	require.Eventually(func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal([]registry.Key{{Function: profile.FunctionRelay, Number: 3}}, rec.get()[0])
}

func TestClient_ListenerPanicAndUnregister(t *testing.T) {
	require := require.New(t)
	c := newTestModeClient(t, false)

	unregisterPanic := c.RegisterListener(func([]*registry.Device) { panic("boom") })
	rec := &batchRecorder{}
	unregister := c.RegisterListener(rec.listener)

	require.NoError(c.Engine().InjectEvent(frame.Event{Function: profile.FunctionRelay, Number: 1, State: profile.On}))
	require.Eventually(func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)

	unregisterPanic()
	require.NoError(c.Engine().InjectEvent(frame.Event{Function: profile.FunctionRelay, Number: 2, State: profile.On}))
	require.Eventually(func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)

	unregister()
	require.NoError(c.Engine().InjectEvent(frame.Event{Function: profile.FunctionRelay, Number: 3, State: profile.On}))
	require.Eventually(func() bool {
		dev, _ := c.Registry().Resolve(profile.FunctionRelay, 3)
		_, ok := dev.State()
		return ok
	}, time.Second, 5*time.Millisecond)
	require.Len(rec.get(), 2)
}

func TestClient_KeepAlive(t *testing.T) {
	t.Run("MicrosPlus sends KEEP_ALIVE", func(t *testing.T) {
		srv := startServer(t, profile.MicrosPlus())
		newServerClient(t, srv, profile.MicrosPlus(), WithKeepAliveInterval(30*time.Millisecond))

		require.Eventually(t, func() bool {
			return len(srv.ReceivedCommands(profile.CommandKeepAlive)) >= 2
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Micros repeats motor LOG", func(t *testing.T) {
		srv := startServer(t, profile.Micros())
		newServerClient(t, srv, profile.Micros(), WithKeepAliveInterval(30*time.Millisecond))

		require.Eventually(t, func() bool {
			var n int
			for _, m := range srv.ReceivedCommands(profile.CommandLog) {
				if m.Function == profile.FunctionMotor && m.LogOn {
					n++
				}
			}
			// one from Connect, the rest from the keep-alive task
			return n >= 3
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestClient_KeepAliveSentOnConnect(t *testing.T) {
	require := require.New(t)
	srv := startServer(t, profile.MicrosPlus())
	c := newServerClient(t, srv, profile.MicrosPlus())
	require.Equal(profile.MicrosPlus().KeepAlive().Interval, c.opts.keepAliveInterval)

	kas := srv.ReceivedCommands(profile.CommandKeepAlive)
	require.Len(kas, 1)

	received := srv.Received()
	require.Equal(profile.CommandKeepAlive, received[len(received)-1].Command)
	require.Equal(3, c.taskMgr.Count())
}

func TestClient_KeepAliveFailureIsLogged(t *testing.T) {
	srv := startServer(t, profile.MicrosPlus())
	c := newServerClient(t, srv, profile.MicrosPlus(), WithKeepAliveInterval(20*time.Millisecond))

	srv.SetMode(fakecu.Silent)
	require.Eventually(t, func() bool {
		return c.Engine().Metrics().NoResponseCount.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	srv.SetMode(fakecu.Echo)
	require.True(t, c.IsConnected())
	require.NoError(t, c.Set(context.Background(), profile.FunctionRelay, 1, profile.On))
}

func TestClient_TransportFailureStopsTasks(t *testing.T) {
	require := require.New(t)
	srv := startServer(t, profile.MicrosPlus())
	c := newServerClient(t, srv, profile.MicrosPlus())

	require.Eventually(func() bool { return srv.ConnCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(3, c.taskMgr.Count())

	srv.DropConnections()

	require.Eventually(func() bool { return !c.IsConnected() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(func() bool { return c.taskMgr.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(c.Engine().Err(), engine.ErrTransport)

	err := c.Set(context.Background(), profile.FunctionRelay, 1, profile.On)
	require.ErrorIs(err, ErrNotConnected)

	require.NoError(c.Disconnect(context.Background()))
}

func TestNew_Invalid(t *testing.T) {
	cfg, err := engine.NewConnectionConfig("localhost", engine.DefaultPort, engine.WithTestMode(true))
	require.NoError(t, err)
	e, err := engine.New(context.Background(), cfg)
	require.NoError(t, err)
	reg, err := registry.NewMemory()
	require.NoError(t, err)

	_, err = New(nil, reg)
	require.Error(t, err)
	_, err = New(e, nil)
	require.Error(t, err)

	for _, opt := range []Option{
		WithConfirmTimeout(0),
		WithConfirmInterval(-time.Second),
		WithEventInterval(0),
		WithKeepAliveInterval(0),
		WithMonitoredFunctions(profile.FunctionRelay, profile.FunctionRelay),
		WithLogger(nil),
	} {
		_, err = New(e, reg, opt)
		require.Error(t, err)
	}

	c, err := New(e, reg)
	require.NoError(t, err)
	require.Equal(t, profile.MicrosPlus().KeepAlive().Interval, c.opts.keepAliveInterval)
	require.Equal(t, DefaultMonitoredFunctions, c.opts.monitored)
}
