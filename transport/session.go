package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/events"
)

// Session presents one TCP connection as a serial port: blocking reads from a
// receive buffer, deadline bound writes, and best effort line delivery with
// ACKs. Three loops run in the background while it is open: RX, heartbeat and
// outbound line dispatch.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	loopWaiter sync.WaitGroup
	startOnce  sync.Once
	closeOnce  sync.Once
	done       chan struct{}

	opts SessionOptions
	tag  uuid.UUID

	connMu sync.Mutex
	conn   net.Conn

	// writeMu keeps concurrent writers (RX loop ACKs, heartbeat, dispatch and
	// callers of Write) from interleaving lines and deadlines
	writeMu sync.Mutex

	// mu guards buf and closed, cond is signalled whenever either changes
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool

	running  atomic.Bool
	state    stateMachine
	clientID atomic.Int64
	writeAck atomic.Bool
	ackChan  chan struct{}

	writeQueue chan string

	hub   *events.Hub
	stats counters

	log *zap.Logger
}

// NewSession creates a session that dials opts.Host:opts.Port when opened.
func NewSession(parentCtx context.Context, opts SessionOptions) *Session {
	return newSession(parentCtx, nil, opts)
}

// AdoptSession wraps an already connected socket, typically one returned by
// Accept.
func AdoptSession(parentCtx context.Context, conn net.Conn, opts SessionOptions) *Session {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		opts.Host = addr.IP.String()
		opts.Port = addr.Port
	}

	return newSession(parentCtx, conn, opts)
}

func newSession(parentCtx context.Context, conn net.Conn, opts SessionOptions) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(parentCtx)

	s := &Session{
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		opts:       opts,
		tag:        uuid.New(),
		conn:       conn,
		ackChan:    make(chan struct{}, 1),
		writeQueue: make(chan string, opts.QueueSize),
		hub:        events.NewHub(),
	}

	s.cond = sync.NewCond(&s.mu)
	s.log = opts.Log.With(
		zap.String("session", s.tag.String()),
		zap.String("addr", s.Addr()))

	return s
}

// Open connects the session if it does not wrap a socket yet and starts the
// background loops. Opening an open session does nothing; a closed session
// cannot be reopened.
func (s *Session) Open() error {
	if s.isDone() {
		return ErrClosed
	}

	s.connMu.Lock()
	if s.conn == nil {
		dialer := net.Dialer{Timeout: s.opts.ConnectTimeout}

		conn, err := dialer.DialContext(s.ctx, "tcp", s.Addr())
		if err != nil {
			s.connMu.Unlock()
			return &ConnectionFault{Op: "dial", Err: err}
		}

		s.conn = conn
	}
	s.connMu.Unlock()

	s.startOnce.Do(func() {
		s.running.Store(true)
		s.state.advance(Open)

		s.startLoop("rxLoop", s.rxLoop)
		s.startLoop("dispatchLoop", s.dispatchLoop)

		if s.opts.HeartbeatInterval > 0 {
			s.startLoop("heartbeatLoop", s.heartbeatLoop)
		}

		s.log.Info("Session open")
	})

	return nil
}

func (s *Session) startLoop(name string, loop func(log *zap.Logger)) {
	log := s.log.Named(name)

	s.loopWaiter.Add(1)
	go func() {
		defer s.loopWaiter.Done()
		defer s.terminate()

		loop(log)
		log.Debug("Loop exited")
	}()
}

// Close stops the session and waits, at most JoinTimeout, for its loops to
// exit. It is safe to call more than once. Socket errors during close are
// swallowed; the only error is loops that outlived JoinTimeout.
func (s *Session) Close() error {
	s.terminate()

	waited := make(chan struct{})
	go func() {
		s.loopWaiter.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		return nil

	case <-time.After(s.opts.JoinTimeout):
		s.log.Warn("Session loops did not exit in time", zap.Duration("timeout", s.opts.JoinTimeout))
		return fmt.Errorf("session %s: %w", s.Addr(), errJoinTimeout)
	}
}

// terminate tears the session down without waiting for the loops, so the
// loops themselves can call it.
func (s *Session) terminate() {
	s.closeOnce.Do(func() {
		wasRunning := s.running.Swap(false)
		s.state.advance(Closing)
		s.cancel()

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn != nil {
			closeConn(conn, s.log)
		}

		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()

		s.state.advance(Closed)
		close(s.done)

		if wasRunning {
			s.log.Info("Session closed")
			s.hub.Publish(events.Event{Kind: events.Disconnected, ClientID: s.ClientID()})
		}

		_ = s.hub.Close()
	})
}

type halfCloser interface {
	CloseWrite() error
}

func closeConn(conn net.Conn, log *zap.Logger) {
	if hc, ok := conn.(halfCloser); ok {
		err := hc.CloseWrite()
		if err != nil && !strings.Contains(err.Error(), "transport endpoint is not connected") &&
			!strings.Contains(err.Error(), "use of closed network connection") {
			log.Debug("Failed to close writes on connection cleanly", zap.Error(err))
		}
	}

	_ = conn.Close()
}

// Subscribe registers fn for this session's events: Received, Nak, WhoAmI,
// Identified, Reset and Disconnected.
func (s *Session) Subscribe(fn events.Handler) (unsubscribe func()) {
	return s.hub.Subscribe(fn)
}

// Send queues line for delivery by the dispatch loop. The terminator is added
// on the way out.
func (s *Session) Send(line string) error {
	if !s.IsOpen() {
		return ErrClosed
	}

	select {
	case s.writeQueue <- line:
		return nil

	case <-s.ctx.Done():
		return ErrClosed
	}
}

// IsOpen returns true between a successful Open and Close.
func (s *Session) IsOpen() bool {
	return s.running.Load()
}

// Done is closed once the session has terminated for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	return s.state.load()
}

// ClientID is the id the server assigned to this connection. Zero means not
// assigned yet, -1 that the server sent something that did not parse.
func (s *Session) ClientID() int {
	return int(s.clientID.Load())
}

// AssignID records id if the session has none yet. It reports whether id was
// stored; a client id never changes once assigned.
func (s *Session) AssignID(id int) bool {
	return s.clientID.CompareAndSwap(0, int64(id))
}

// markIdentified is called once the peer knows who it is talking to.
func (s *Session) markIdentified() {
	s.state.advance(Identified)
}

// Acked reports whether an ACK has arrived since the last send attempt.
func (s *Session) Acked() bool {
	return s.writeAck.Load()
}

// Addr is the host:port of the remote end.
func (s *Session) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

func (s *Session) Stats() Stats {
	return s.stats.snapshot()
}

func (s *Session) getConn() net.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	return s.conn
}

// isDone returns true once the session has terminated
func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true

	default:
		return false
	}
}
