// Package fakecu is a TCP central unit simulator for tests.
//
// It accepts connections, acknowledges every frame it receives and, unless
// configured otherwise, answers SET and GET with EVENT frames like a real
// central unit with the log channel open.
package fakecu

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/arloliu/go-tds/frame"
	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
	"github.com/arloliu/go-tds/registry"
)

// Mode selects how the server answers frames.
type Mode uint8

const (
	// Echo acknowledges every frame and answers SET and GET with an EVENT.
	Echo Mode = iota
	// AckOnly acknowledges every frame and sends nothing else.
	AckOnly
	// Silent neither acknowledges nor answers.
	Silent
)

// Server is a fake central unit.
type Server struct {
	profile  *profile.Profile
	listener net.Listener
	logger   logger.Logger

	mu       sync.Mutex
	mode     Mode
	conns    map[net.Conn]struct{}
	states   map[registry.Key]profile.State
	received []*frame.Message

	wg sync.WaitGroup
}

// Start listens on a random localhost port.
func Start(p *profile.Profile, l logger.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	if l == nil {
		l = logger.GetLogger()
	}

	s := &Server{
		profile:  p,
		listener: ln,
		logger:   l.With("component", "fakecu"),
		conns:    make(map[net.Conn]struct{}),
		states:   make(map[registry.Key]profile.State),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	addr, _ := s.listener.Addr().(*net.TCPAddr)
	return addr.Port
}

// SetMode changes how subsequent frames are answered.
func (s *Server) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode = m
}

// SetState sets the simulated state returned for GET.
func (s *Server) SetState(fn profile.Function, number int, state profile.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[registry.Key{Function: fn, Number: number}] = state
}

// Received returns the frames received so far, in order.
func (s *Server) Received() []*frame.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*frame.Message, len(s.received))
	copy(out, s.received)

	return out
}

// ReceivedCommands returns the received frames with the given command.
func (s *Server) ReceivedCommands(cmd profile.Command) []*frame.Message {
	var out []*frame.Message
	for _, m := range s.Received() {
		if m.Command == cmd {
			out = append(out, m)
		}
	}

	return out
}

// SendEvent pushes an EVENT frame to every connected client.
func (s *Server) SendEvent(ev frame.Event) error {
	data, err := frame.ComposeEvent(s.profile, ev)
	if err != nil {
		return err
	}

	return s.SendBytes(data)
}

// SendBytes pushes raw bytes to every connected client.
func (s *Server) SendBytes(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for c := range s.conns {
		if _, err := c.Write(data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ConnCount returns the number of connected clients.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

// DropConnections closes every client connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.conns {
		_ = c.Close()
	}
}

// Close stops the server.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	r := frame.NewReassembler(s.profile, s.logger)
	buf := make([]byte, 512)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			for _, tok := range r.Feed(buf[:n]) {
				if tok.IsAck() {
					continue
				}
				s.handle(conn, tok.Frame)
			}
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			return
		}
	}
}

func (s *Server) handle(conn net.Conn, data []byte) {
	msg, err := frame.Decode(s.profile, data)
	if err != nil {
		s.logger.Warn("undecodable frame", "error", err)
		return
	}

	s.mu.Lock()
	s.received = append(s.received, msg)
	mode := s.mode

	reply := []byte{}
	if mode != Silent {
		reply = append(reply, s.profile.Ack())
	}

	if mode == Echo {
		switch msg.Command {
		case profile.CommandSet:
			key := registry.Key{Function: msg.Function, Number: msg.Number()}
			state := msg.State
			if state == profile.Toggle {
				state = profile.On
				if s.states[key] == profile.On {
					state = profile.Off
				}
			}
			s.states[key] = state
			reply = s.appendEvent(reply, key, state)

		case profile.CommandGet:
			key := registry.Key{Function: msg.Function, Number: msg.Number()}
			reply = s.appendEvent(reply, key, s.stateOf(key))

		case profile.CommandGroupGet:
			for _, n := range msg.Numbers {
				key := registry.Key{Function: msg.Function, Number: n}
				reply = s.appendEvent(reply, key, s.stateOf(key))
			}
		}
	}
	s.mu.Unlock()

	if len(reply) > 0 {
		_, _ = conn.Write(reply)
	}
}

func (s *Server) stateOf(key registry.Key) profile.State {
	if st, ok := s.states[key]; ok {
		return st
	}

	if states := s.profile.States(key.Function); len(states) > 0 {
		return states[0]
	}

	return profile.Off
}

func (s *Server) appendEvent(buf []byte, key registry.Key, state profile.State) []byte {
	data, err := frame.ComposeEvent(s.profile, frame.Event{Function: key.Function, Number: key.Number, State: state})
	if err != nil {
		s.logger.Warn("cannot compose event", "error", err)
		return buf
	}

	return append(buf, data...)
}
