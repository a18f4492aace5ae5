package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
)

func TestNewConnectionConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConnectionConfig("192.168.1.10", DefaultPort)
	require.NoError(err)
	require.Equal("192.168.1.10:55957", cfg.Addr())
	require.Same(profile.MicrosPlus(), cfg.Profile())
	require.Equal(DefaultResponseTimeout, cfg.ResponseTimeout())
	require.Equal(DefaultPollInterval, cfg.PollInterval())
	require.Equal(DefaultDrainTimeout, cfg.DrainTimeout())
	require.Equal(DefaultConnectTimeout, cfg.ConnectTimeout())
	require.False(cfg.IsTestMode())
	require.NotNil(cfg.GetLogger())
}

func TestNewConnectionConfig_Options(t *testing.T) {
	require := require.New(t)
	l := logger.NewMockLogger()

	cfg, err := NewConnectionConfig("cu.local", 1234,
		WithCentralUnitType("MICROS"),
		WithResponseTimeout(2*time.Second),
		WithPollInterval(10*time.Millisecond),
		WithDrainTimeout(time.Second),
		WithTestMode(true),
		WithLogger(l),
	)
	require.NoError(err)
	require.Same(profile.Micros(), cfg.Profile())
	require.Equal(2*time.Second, cfg.ResponseTimeout())
	require.Equal(10*time.Millisecond, cfg.PollInterval())
	require.True(cfg.IsTestMode())
	require.Same(l, cfg.GetLogger())
}

func TestNewConnectionConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		opts []ConnOption
	}{
		{"empty host", "", 1, nil},
		{"port zero", "h", 0, nil},
		{"port too large", "h", 70000, nil},
		{"unknown cu", "h", 1, []ConnOption{WithCentralUnitType("PICOS")}},
		{"nil profile", "h", 1, []ConnOption{WithProfile(nil)}},
		{"short response timeout", "h", 1, []ConnOption{WithResponseTimeout(time.Millisecond)}},
		{"long poll interval", "h", 1, []ConnOption{WithPollInterval(2 * time.Second)}},
		{"zero connect timeout", "h", 1, []ConnOption{WithConnectTimeout(0)}},
		{"zero send timeout", "h", 1, []ConnOption{WithSendTimeout(0)}},
		{"zero close timeout", "h", 1, []ConnOption{WithCloseTimeout(0)}},
		{"zero queue", "h", 1, []ConnOption{WithQueueSize(0)}},
		{"nil logger", "h", 1, []ConnOption{WithLogger(nil)}},
		{"drain shorter than poll", "h", 1, []ConnOption{WithPollInterval(100 * time.Millisecond), WithDrainTimeout(10 * time.Millisecond)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConnectionConfig(tt.host, tt.port, tt.opts...)
			require.Error(t, err)
		})
	}
}

func TestOpState(t *testing.T) {
	require := require.New(t)

	var st atomicOpState
	require.Equal(ClosedState, st.get())
	require.False(st.toOpened())
	require.False(st.toClosing())
	require.True(st.toClosed())

	require.True(st.toOpening())
	require.False(st.toOpening())
	require.True(st.toOpened())
	require.Equal("Opened", st.String())

	require.True(st.toClosing())
	require.True(st.toClosed())
	require.Equal("Closed", st.String())
}
