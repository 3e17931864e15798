package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/events"
	"github.com/luma/tcpserial/protocol"
)

const (
	noDisconnect       = 0
	disconnectEveryone = -1

	resetWriteTimeout = time.Second
)

// ClientInfo describes a live client.
type ClientInfo struct {
	ID    int
	Addr  string
	State State
	Stats Stats
}

// Server accepts TCP clients, wraps each one in a Session and keeps them in a
// Registry. Lines from clients are published as events keyed by client id;
// lines to clients are queued with SendTo and Broadcast, or by publishing
// requests with Request.
type Server struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup
	closeOnce  sync.Once

	addr string
	opts Options

	// listen binds the listener Start accepts on
	listen func() (net.Listener, error)

	listenerMu sync.Mutex
	listener   net.Listener

	registry *Registry

	// disconnectTarget is a client id, noDisconnect or disconnectEveryone
	disconnectTarget atomic.Int64

	hub      *events.Hub
	requests *events.Hub

	log *zap.Logger
}

func NewServer(options Options) *Server {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	if options.DisconnectPollInterval <= 0 {
		options.DisconnectPollInterval = DefaultDisconnectPollInterval
	}

	s := &Server{
		addr:     net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		opts:     options,
		registry: NewRegistry(),
		hub:      events.NewHub(),
		requests: events.NewHub(),
		log:      log,
	}

	s.listen = s.listenTCP

	return s
}

// Start listens and runs the accept loop in the background. It returns once
// the listener is bound.
func (s *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)

	listener, err := s.listen()
	if err != nil {
		cancel()
		return &ConnectionFault{Op: "listen", Err: err}
	}

	s.listenerMu.Lock()
	s.cancel = cancel
	s.listener = listener
	s.listenerMu.Unlock()

	s.requests.Subscribe(s.handleRequest)

	s.log.Info("Listening", zap.String("addr", listener.Addr().String()))

	go func() {
		<-ctx.Done()

		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	s.stopWaiter.Add(1)
	go func() {
		defer s.stopWaiter.Done()
		s.acceptLoop(ctx, listener)
	}()

	return nil
}

func (s *Server) listenTCP() (net.Listener, error) {
	if s.opts.Reuseport {
		return reuseport.Listen("tcp", s.addr)
	}

	return net.Listen("tcp", s.addr)
}

// Addr is the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	listener := s.getListener()
	if listener == nil {
		return nil
	}

	return listener.Addr()
}

func (s *Server) getListener() net.Listener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	return s.listener
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("Stopped accepting new connections")
				return
			}

			s.log.Error("Accept failed, resetting clients", zap.Error(err))
			s.reset()

			return
		}

		s.admit(ctx, conn)
	}
}

// admit registers an accepted connection and starts serving it.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	sessOpts := s.opts.Session
	sessOpts.Log = s.log.Named("session")

	sess := AdoptSession(ctx, conn, sessOpts)
	id := s.registry.Add(sess)
	sess.AssignID(id)

	log := s.log.With(zap.Int("client", id), zap.String("addr", sess.Addr()))

	unsubscribe := sess.Subscribe(func(e events.Event) {
		s.forward(id, sess, e)
	})

	if err := sess.Open(); err != nil {
		log.Warn("Failed to open session", zap.Error(err))
		unsubscribe()
		_ = sess.Close()
		s.registry.Tombstone(id, sess)

		return
	}

	log.Info("Client connected")

	s.stopWaiter.Add(1)
	go func() {
		defer s.stopWaiter.Done()
		defer unsubscribe()

		s.handle(id, sess, log)
	}()

	s.hub.Publish(events.Event{Kind: events.Connected, ClientID: id, Line: sess.Addr()})

	// welcome banner
	s.SendTo(id, protocol.ClientIDText(id))
}

// forward runs on the session's RX loop.
func (s *Server) forward(id int, sess *Session, e events.Event) {
	switch e.Kind {
	case events.WhoAmI:
		sess.markIdentified()
		s.SendTo(id, protocol.ClientIDText(id))

	case events.Received, events.Nak, events.Reset:
		e.ClientID = id
		s.hub.Publish(e)
	}
}

// handle polls for pending disconnects until the session ends, then
// tombstones its slot.
func (s *Server) handle(id int, sess *Session, log *zap.Logger) {
	ticker := time.NewTicker(s.opts.DisconnectPollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-sess.Done():
			break poll

		case <-ticker.C:
			switch s.disconnectTarget.Load() {
			case int64(id):
				log.Info("Disconnecting client as requested")
				_ = sess.Close()
				s.disconnectTarget.CompareAndSwap(int64(id), noDisconnect)

				break poll

			case disconnectEveryone:
				log.Info("Disconnecting client as requested")
				_ = sess.Close()

				break poll
			}
		}
	}

	_ = sess.Close()
	s.registry.Tombstone(id, sess)

	if s.registry.LiveCount() == 0 {
		s.disconnectTarget.CompareAndSwap(disconnectEveryone, noDisconnect)
	}

	log.Info("Client connection closed")
	s.hub.Publish(events.Event{Kind: events.Disconnected, ClientID: id})
}

// SendTo queues line for client id. It does nothing if the slot is empty or
// its session has closed.
func (s *Server) SendTo(id int, line string) {
	sess := s.registry.Get(id)
	if sess == nil || !sess.IsOpen() {
		s.log.Debug("Dropping line for missing client", zap.Int("client", id), zap.String("line", line))
		return
	}

	s.log.Debug("Sending to client", zap.Int("client", id), zap.String("line", line))

	if err := sess.Send(line); err != nil {
		s.log.Debug("Failed to queue line", zap.Int("client", id), zap.Error(err))
	}
}

// Broadcast queues line for every live client, in slot order.
func (s *Server) Broadcast(line string) {
	for _, entry := range s.registry.Live() {
		s.SendTo(entry.ID, line)
	}
}

// Disconnect asks the handler of client id to close it. Slots whose session
// has already closed are left to their handler.
func (s *Server) Disconnect(id int) {
	sess := s.registry.Get(id)
	if sess == nil || !sess.IsOpen() {
		return
	}

	s.disconnectTarget.Store(int64(id))
}

// DisconnectAll asks every handler to close its client. The request stands
// until no live clients are left.
func (s *Server) DisconnectAll() {
	if s.registry.LiveCount() == 0 {
		return
	}

	s.disconnectTarget.Store(disconnectEveryone)
}

// Request publishes a Send, Broadcast, Disconnect or DisconnectAll request.
// Other kinds are dropped.
func (s *Server) Request(e events.Event) {
	if !e.IsRequest() {
		s.log.Debug("Dropping event that is not a request", zap.Stringer("kind", e.Kind))
		return
	}

	s.requests.Publish(e)
}

func (s *Server) handleRequest(e events.Event) {
	switch e.Kind {
	case events.Send:
		s.SendTo(e.ClientID, e.Line)
	case events.Broadcast:
		s.Broadcast(e.Line)
	case events.Disconnect:
		s.Disconnect(e.ClientID)
	case events.DisconnectAll:
		s.DisconnectAll()
	}
}

// Subscribe registers fn for Connected, Received, Nak, Reset and
// Disconnected events, all keyed by client id.
func (s *Server) Subscribe(fn events.Handler) (unsubscribe func()) {
	return s.hub.Subscribe(fn)
}

// Clients lists the live clients.
func (s *Server) Clients() []ClientInfo {
	live := s.registry.Live()

	clients := make([]ClientInfo, 0, len(live))
	for _, entry := range live {
		clients = append(clients, ClientInfo{
			ID:    entry.ID,
			Addr:  entry.Session.Addr(),
			State: entry.Session.State(),
			Stats: entry.Session.Stats(),
		})
	}

	return clients
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// reset tells every live client to re-handshake and tears the server down. It
// runs on the accept loop, so it must not wait for it.
func (s *Server) reset() {
	for _, entry := range s.registry.Live() {
		if _, err := entry.Session.WriteWithin(protocol.ResetLine, resetWriteTimeout); err != nil {
			s.log.Debug("Failed to send RESET", zap.Int("client", entry.ID), zap.Error(err))
		}
	}

	if err := s.shutdown(); err != nil {
		s.log.Warn("Server did not shut down cleanly", zap.Error(err))
	}
}

func (s *Server) shutdown() (err error) {
	s.closeOnce.Do(func() {
		s.listenerMu.Lock()
		cancel := s.cancel
		s.listenerMu.Unlock()

		if cancel != nil {
			cancel()
		}

		if listener := s.getListener(); listener != nil {
			if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}

		for _, entry := range s.registry.Live() {
			err = multierr.Append(err, entry.Session.Close())
		}

		_ = s.requests.Close()
	})

	return err
}

// Close immediately closes the listener and every client connection, then
// waits for the accept loop and connection handlers to exit.
func (s *Server) Close() error {
	s.log.Info("Stopping TCP server")

	err := s.shutdown()

	s.stopWaiter.Wait()
	_ = s.hub.Close()

	s.log.Info("TCP server stopped")

	return err
}
