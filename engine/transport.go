package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-tds/frame"
	"github.com/arloliu/go-tds/internal/pool"
	"github.com/arloliu/go-tds/internal/queue"
	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
	"github.com/arloliu/go-tds/registry"
)

// transport is the byte stream the worker talks to. It is only used from the
// worker goroutine, except for close.
type transport interface {
	// read returns the bytes available within timeout. A timeout with no bytes
	// returns os.ErrDeadlineExceeded.
	read(timeout time.Duration) ([]byte, error)
	// write sends one complete frame.
	write(data []byte) error
	close() error
	// release frees what read still uses. It runs after the worker exited.
	release()
	remote() string
}

// tcpTransport reads and writes a TCP connection to the central unit.
type tcpTransport struct {
	conn        net.Conn
	writer      *bufio.Writer
	buf         *[]byte
	sendTimeout time.Duration
	closeOnce   sync.Once
	releaseOnce sync.Once
}

func dialTCP(ctx context.Context, cfg *ConnectionConfig) (*tcpTransport, error) {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", cfg.Addr())
	if err != nil {
		return nil, err
	}

	return &tcpTransport{
		conn:        conn,
		writer:      bufio.NewWriterSize(conn, frame.MaxFrameSize),
		buf:         pool.GetBuffer(),
		sendTimeout: cfg.sendTimeout,
	}, nil
}

func (t *tcpTransport) read(timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := *t.buf
	n, err := t.conn.Read(buf)
	if n == 0 {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, buf[:n])

	return out, err
}

func (t *tcpTransport) write(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.sendTimeout)); err != nil {
		return err
	}

	if _, err := t.writer.Write(data); err != nil {
		return err
	}

	return t.writer.Flush()
}

func (t *tcpTransport) close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})

	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (t *tcpTransport) release() {
	t.releaseOnce.Do(func() {
		pool.PutBuffer(t.buf)
		t.buf = nil
	})
}

func (t *tcpTransport) remote() string {
	return t.conn.RemoteAddr().String()
}

// testTransport replaces the socket in test mode. Injected chunks are returned
// by read in order; written frames are optionally answered like a central unit.
type testTransport struct {
	profile *profile.Profile
	echo    bool
	logger  logger.Logger

	chunks *queue.Queue[[]byte]
	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	// simulated output states, only touched by write on the worker goroutine
	states map[registry.Key]profile.State
}

func newTestTransport(p *profile.Profile, echo bool, l logger.Logger) *testTransport {
	return &testTransport{
		profile: p,
		echo:    echo,
		logger:  l,
		chunks:  queue.New[[]byte](),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		states:  make(map[registry.Key]profile.State),
	}
}

func (t *testTransport) push(chunk []byte) {
	t.chunks.Push(chunk)

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *testTransport) read(timeout time.Duration) ([]byte, error) {
	if chunk, ok := t.chunks.Pop(); ok {
		return chunk, nil
	}

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	for {
		select {
		case <-t.done:
			return nil, net.ErrClosed
		case <-timer.C:
			return nil, os.ErrDeadlineExceeded
		case <-t.notify:
			if chunk, ok := t.chunks.Pop(); ok {
				return chunk, nil
			}
		}
	}
}

func (t *testTransport) write(data []byte) error {
	select {
	case <-t.done:
		return net.ErrClosed
	default:
	}

	msg, err := frame.Decode(t.profile, data)
	if err != nil {
		return fmt.Errorf("test transport: %w", err)
	}

	if !t.echo {
		t.push([]byte{t.profile.Ack()})
		return nil
	}

	reply := []byte{t.profile.Ack()}

	switch msg.Command {
	case profile.CommandSet:
		key := registry.Key{Function: msg.Function, Number: msg.Number()}
		state := msg.State
		if state == profile.Toggle {
			state = t.toggled(key)
		} else if normalized, err := t.profile.Normalize(key.Function, state); err == nil {
			state = normalized
		}
		t.states[key] = state
		reply = t.appendEvent(reply, key, state)

	case profile.CommandGet:
		key := registry.Key{Function: msg.Function, Number: msg.Number()}
		reply = t.appendEvent(reply, key, t.stateOf(key))

	case profile.CommandGroupGet:
		for _, n := range msg.Numbers {
			key := registry.Key{Function: msg.Function, Number: n}
			reply = t.appendEvent(reply, key, t.stateOf(key))
		}
	}

	t.push(reply)

	return nil
}

func (t *testTransport) stateOf(key registry.Key) profile.State {
	if s, ok := t.states[key]; ok {
		return s
	}

	if states := t.profile.States(key.Function); len(states) > 0 {
		return states[0]
	}

	return profile.Off
}

func (t *testTransport) toggled(key registry.Key) profile.State {
	if t.stateOf(key) == profile.On {
		return profile.Off
	}

	return profile.On
}

func (t *testTransport) appendEvent(buf []byte, key registry.Key, state profile.State) []byte {
	ev, err := frame.ComposeEvent(t.profile, frame.Event{Function: key.Function, Number: key.Number, State: state})
	if err != nil {
		t.logger.Warn("test transport: cannot compose event", "device", key, "state", state, "error", err)
		return buf
	}

	return append(buf, ev...)
}

func (t *testTransport) close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *testTransport) release() {}

func (t *testTransport) remote() string {
	return "test"
}

func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

func isConnResetError(err error) bool {
	return strings.Contains(err.Error(), "connection reset by peer")
}
