// Package engine implements the serialized execution engine of a central unit
// connection.
//
// A single worker goroutine owns the socket. Every request (compose, write,
// wait for the acknowledge byte or a matching response frame) and every drain of
// unsolicited frames runs on that worker, one at a time, so frames of concurrent
// callers never interleave on the wire. Callers block in Execute or Drain until
// their job completes, the per-request deadline passes, or the connection fails.
//
// A transport failure is terminal: the engine context is cancelled, Done is
// closed, Err reports the cause wrapped in ErrTransport, and every pending and
// future request fails until the engine is closed and opened again.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-tds/frame"
	"github.com/arloliu/go-tds/internal/pool"
	"github.com/arloliu/go-tds/internal/task"
	"github.com/arloliu/go-tds/logger"
	"github.com/arloliu/go-tds/profile"
)

// maxPendingEvents bounds the events kept between two drains.
const maxPendingEvents = 1024

// Expect is the completion condition of a request.
type Expect uint8

const (
	// ExpectAck completes on the standalone acknowledge byte.
	ExpectAck Expect = iota + 1
	// ExpectEvent completes on the first EVENT frame for the request's function and number.
	ExpectEvent
)

func (e Expect) String() string {
	switch e {
	case ExpectAck:
		return "ack"
	case ExpectEvent:
		return "event"
	default:
		return fmt.Sprintf("Expect(%d)", uint8(e))
	}
}

// Response is the outcome of a completed request.
type Response struct {
	// Acked is set when the acknowledge byte was seen during the exchange.
	Acked bool
	// Event is the matching frame of an ExpectEvent request.
	Event *frame.Event
}

type jobKind uint8

const (
	jobExchange jobKind = iota + 1
	jobDrain
)

type job struct {
	kind   jobKind
	ctx    context.Context
	msg    *frame.Message
	data   []byte
	expect Expect
	result chan jobResult
}

type jobResult struct {
	resp   *Response
	events []frame.Event
	err    error
}

// Engine is the serialized execution engine of one central unit connection.
type Engine struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	ctxMu  sync.RWMutex

	cfg     *ConnectionConfig
	profile *profile.Profile
	logger  logger.Logger

	opState atomicOpState
	taskMgr *task.Manager
	jobs    chan *job

	trMu sync.RWMutex
	tr   transport

	errMu sync.RWMutex
	err   error

	// owned by the worker goroutine
	reassembler *frame.Reassembler
	pending     []frame.Event

	metrics ConnectionMetrics
}

// New creates an engine for cfg. It does not connect; call Open.
func New(ctx context.Context, cfg *ConnectionConfig) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("tds: connection config is nil")
	}

	e := &Engine{
		pctx:    ctx,
		cfg:     cfg,
		profile: cfg.profile,
		logger:  cfg.logger.With("central_unit", cfg.Addr(), "profile", cfg.profile.Name()),
		taskMgr: task.NewManager(ctx, cfg.logger),
		jobs:    make(chan *job, cfg.queueSize),
	}
	e.opState.set(ClosedState)
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.cancel()

	return e, nil
}

// Profile returns the protocol profile of the connection.
func (e *Engine) Profile() *profile.Profile { return e.profile }

// Config returns the connection configuration.
func (e *Engine) Config() *ConnectionConfig { return e.cfg }

// Metrics returns the connection metrics.
func (e *Engine) Metrics() *ConnectionMetrics { return &e.metrics }

// State returns the open/close state.
func (e *Engine) State() OpState { return e.opState.get() }

// Open connects to the central unit, or prepares the injected byte source in
// test mode, and starts the worker.
func (e *Engine) Open(ctx context.Context) error {
	if !e.opState.toOpening() {
		e.logger.Warn("failed to set engine to opening state", "opState", e.opState.String())
		return fmt.Errorf("tds: cannot open engine in state %s", e.opState.String())
	}

	var tr transport
	if e.cfg.testMode {
		tr = newTestTransport(e.profile, e.cfg.testEcho, e.logger)
	} else {
		tcp, err := dialTCP(ctx, e.cfg)
		if err != nil {
			e.opState.set(ClosedState)
			e.logger.Error("failed to connect", "error", err)

			return fmt.Errorf("%w: dial %s: %w", ErrTransport, e.cfg.Addr(), err)
		}
		tr = tcp
	}

	e.setTransport(tr)
	e.setErr(nil)
	e.reassembler = frame.NewReassembler(e.profile, e.logger)
	e.pending = nil
	e.metrics.setPendingEventGauge(0)

	e.ctxMu.Lock()
	e.ctx, e.cancel = context.WithCancel(e.pctx)
	e.ctxMu.Unlock()

	onExit := func() {
		e.drainJobs()
		tr.release()
	}
	if err := e.taskMgr.Loop("worker", e.workerIteration, onExit); err != nil {
		_ = tr.close()
		tr.release()
		e.opState.set(ClosedState)

		return err
	}

	if !e.opState.toOpened() {
		e.logger.Warn("failed to set engine to opened state", "opState", e.opState.String())
	}

	e.logger.Info("connection opened", "remote", tr.remote())

	return nil
}

// Close stops the worker and closes the socket. Pending requests fail with
// ErrConnClosed. Closing a closed engine is a no-op.
func (e *Engine) Close() error {
	if !e.opState.toClosing() {
		if e.opState.get() == ClosedState {
			return nil
		}

		return fmt.Errorf("tds: cannot close engine in state %s", e.opState.String())
	}

	e.setErr(ErrConnClosed)
	e.cancelContext()

	if tr := e.getTransport(); tr != nil {
		if err := tr.close(); err != nil {
			e.logger.Error("failed to close transport", "error", err)
		}
	}

	e.taskMgr.Stop()

	waitDone := make(chan struct{})
	go func() {
		e.taskMgr.Wait()
		close(waitDone)
	}()

	timer := pool.GetTimer(e.cfg.closeTimeout)
	defer pool.PutTimer(timer)

	var closeErr error
	select {
	case <-waitDone:
	case <-timer.C:
		e.logger.Error("close timeout", "timeout", e.cfg.closeTimeout)
		closeErr = fmt.Errorf("tds: close timeout after %v", e.cfg.closeTimeout)
	}

	e.opState.toClosed()
	e.logger.Info("connection closed")

	return closeErr
}

// Done returns a channel closed when the engine stops, either by Close or by a
// transport failure.
func (e *Engine) Done() <-chan struct{} {
	return e.context().Done()
}

// Err returns nil while the engine is running, an error wrapping ErrTransport
// after a socket failure, or ErrConnClosed after Close.
func (e *Engine) Err() error {
	e.errMu.RLock()
	defer e.errMu.RUnlock()

	if e.err == nil && e.context().Err() != nil {
		return ErrConnClosed
	}

	return e.err
}

// Execute sends msg and waits for its completion condition.
//
// The response deadline starts when the worker writes the frame. Events that
// arrive during the exchange but do not complete it are kept for the next Drain.
// Cancelling ctx abandons the request; a late response is then handled as an
// unsolicited frame.
func (e *Engine) Execute(ctx context.Context, msg *frame.Message, expect Expect) (*Response, error) {
	data, err := frame.Compose(e.profile, msg)
	if err != nil {
		return nil, err
	}

	if expect == ExpectEvent && len(msg.Numbers) != 1 {
		return nil, fmt.Errorf("%w: %s expecting an event needs exactly one output number", profile.ErrEncode, msg.Command)
	}

	res, err := e.submit(ctx, &job{kind: jobExchange, ctx: ctx, msg: msg, data: data, expect: expect})
	if err != nil {
		return nil, err
	}

	return res.resp, res.err
}

// Drain reads whatever the central unit has sent, until a poll returns no bytes
// with no partial frame pending or the drain timeout passes, and returns every
// decoded event in arrival order, including events seen during earlier exchanges.
func (e *Engine) Drain(ctx context.Context) ([]frame.Event, error) {
	res, err := e.submit(ctx, &job{kind: jobDrain, ctx: ctx})
	if err != nil {
		return nil, err
	}

	return res.events, res.err
}

func (e *Engine) submit(ctx context.Context, j *job) (jobResult, error) {
	ectx := e.context()
	if ectx.Err() != nil {
		return jobResult{}, e.Err()
	}

	j.result = make(chan jobResult, 1)

	timer := pool.GetTimer(e.cfg.sendTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return jobResult{}, ctx.Err()
	case <-ectx.Done():
		return jobResult{}, e.Err()
	case <-timer.C:
		return jobResult{}, ErrQueueTimeout
	case e.jobs <- j:
	}

	select {
	case <-ctx.Done():
		return jobResult{}, ctx.Err()
	case res := <-j.result:
		return res, nil
	case <-ectx.Done():
		// the worker may have finished the job just before stopping
		select {
		case res := <-j.result:
			return res, nil
		default:
			return jobResult{}, e.Err()
		}
	}
}

// --- worker ---

func (e *Engine) workerIteration(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case j := <-e.jobs:
		return e.runJob(ctx, j)
	}
}

func (e *Engine) runJob(ctx context.Context, j *job) bool {
	if j.ctx != nil && j.ctx.Err() != nil {
		// abandoned while queued
		j.result <- jobResult{err: j.ctx.Err()}
		return true
	}

	var res jobResult
	switch j.kind {
	case jobExchange:
		res = e.exchange(ctx, j)
	case jobDrain:
		res = e.drain(ctx)
	}

	j.result <- res

	return !errors.Is(res.err, ErrTransport)
}

// drainJobs fails every queued job once the worker stopped.
func (e *Engine) drainJobs() {
	for {
		select {
		case j := <-e.jobs:
			j.result <- jobResult{err: e.Err()}
		default:
			return
		}
	}
}

func (e *Engine) exchange(ctx context.Context, j *job) jobResult {
	tr := e.getTransport()

	e.logger.Debug("send frame", "msg", j.msg.String(), "bytes", fmt.Sprintf("% X", j.data))

	if err := tr.write(j.data); err != nil {
		return jobResult{err: e.fail(err)}
	}
	e.metrics.incFrameSendCount()

	deadline := time.Now().Add(e.cfg.responseTimeout)
	resp := &Response{}

	for {
		if ctx.Err() != nil {
			return jobResult{err: e.Err()}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.metrics.incNoResponseCount()
			e.logger.Warn("no response", "msg", j.msg.String(), "expect", j.expect, "timeout", e.cfg.responseTimeout)

			return jobResult{err: fmt.Errorf("%w: %s after %v", ErrNoResponse, j.msg, e.cfg.responseTimeout)}
		}

		chunk, err := tr.read(min(remaining, e.cfg.pollInterval))
		if len(chunk) > 0 {
			e.handleTokens(e.reassembler.Feed(chunk), j, resp)
		}

		if err != nil && !isTimeoutError(err) {
			return jobResult{err: e.fail(err)}
		}

		switch j.expect {
		case ExpectAck:
			if resp.Acked {
				return jobResult{resp: resp}
			}
		case ExpectEvent:
			if resp.Event != nil {
				return jobResult{resp: resp}
			}
		}
	}
}

func (e *Engine) drain(ctx context.Context) jobResult {
	tr := e.getTransport()
	e.metrics.incDrainCount()

	deadline := time.Now().Add(e.cfg.drainTimeout)

	for {
		if ctx.Err() != nil {
			return jobResult{err: e.Err()}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.logger.Debug("drain timeout reached", "pending_bytes", e.reassembler.Pending())
			break
		}

		chunk, err := tr.read(min(remaining, e.cfg.pollInterval))
		if len(chunk) > 0 {
			e.handleTokens(e.reassembler.Feed(chunk), nil, nil)
		}

		if err != nil {
			if !isTimeoutError(err) {
				return jobResult{events: e.takePending(), err: e.fail(err)}
			}

			if e.reassembler.Idle() {
				break
			}
		}
	}

	return jobResult{events: e.takePending()}
}

// handleTokens decodes reassembled tokens. When j is not nil the tokens belong
// to an exchange and completion is recorded in resp.
func (e *Engine) handleTokens(tokens []frame.Token, j *job, resp *Response) {
	for _, tok := range tokens {
		if tok.IsAck() {
			e.metrics.incAckRecvCount()
			if resp != nil && !resp.Acked {
				resp.Acked = true
			} else {
				e.logger.Debug("acknowledge without pending request")
			}

			continue
		}

		e.metrics.incFrameRecvCount()
		e.logger.Debug("recv frame", "bytes", fmt.Sprintf("% X", tok.Frame))

		msg, err := frame.Decode(e.profile, tok.Frame)
		if err != nil {
			e.metrics.incDecodeErrCount()
			e.logger.Warn("dropping undecodable frame", "bytes", fmt.Sprintf("% X", tok.Frame), "error", err)

			continue
		}

		ev, ok := msg.Event()
		if !ok {
			e.logger.Debug("ignoring non-event frame", "msg", msg.String())
			continue
		}
		e.metrics.incEventRecvCount()

		if j != nil && j.expect == ExpectEvent && resp.Event == nil &&
			ev.Function == j.msg.Function && ev.Number == j.msg.Number() {
			resp.Event = &ev
			continue
		}

		e.addPending(ev)
	}
}

func (e *Engine) addPending(ev frame.Event) {
	if len(e.pending) >= maxPendingEvents {
		e.logger.Warn("pending event buffer full, dropping oldest", "dropped", e.pending[0].String())
		e.pending = e.pending[1:]
	}

	e.pending = append(e.pending, ev)
	e.metrics.setPendingEventGauge(len(e.pending))
}

func (e *Engine) takePending() []frame.Event {
	events := e.pending
	e.pending = nil
	e.metrics.setPendingEventGauge(0)

	return events
}

// fail records a transport failure and stops the engine. It returns the
// error reported to the job that hit it.
func (e *Engine) fail(cause error) error {
	if e.opState.get() == ClosingState {
		return ErrConnClosed
	}

	err := fmt.Errorf("%w: %w", ErrTransport, cause)

	switch {
	case isConnClosedError(cause), isConnResetError(cause):
		e.logger.Error("connection closed by peer", "error", cause)
	default:
		e.logger.Error("transport failure", "error", cause)
	}

	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()

	e.cancelContext()

	if tr := e.getTransport(); tr != nil {
		_ = tr.close()
	}

	return err
}

// --- accessors ---

func (e *Engine) context() context.Context {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()

	return e.ctx
}

func (e *Engine) cancelContext() {
	e.ctxMu.RLock()
	defer e.ctxMu.RUnlock()

	e.cancel()
}

func (e *Engine) setErr(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()

	e.err = err
}

func (e *Engine) setTransport(tr transport) {
	e.trMu.Lock()
	defer e.trMu.Unlock()

	e.tr = tr
}

func (e *Engine) getTransport() transport {
	e.trMu.RLock()
	defer e.trMu.RUnlock()

	return e.tr
}
