package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/tcpserial/events"
	"github.com/luma/tcpserial/protocol"
	"github.com/luma/tcpserial/transport"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultHello          = "HELLO"
)

// ErrNotConnected is returned by Send and WhoAmI between connections.
var ErrNotConnected = errors.New("client is not connected")

type Options struct {
	// Session is used for every connection the client makes.
	Session transport.SessionOptions

	// AutoReconnect redials after the connection drops or a dial fails.
	AutoReconnect bool

	// ReconnectDelay between connection attempts.
	ReconnectDelay time.Duration

	// Hello is the first line sent on a fresh connection. Reconnections send
	// RESET instead, so the server knows to re-handshake.
	Hello string

	Log *zap.Logger
}

// Client keeps a Session connected to a server and republishes its events on
// a hub that outlives any single connection.
type Client struct {
	opts Options

	sessMu sync.RWMutex
	sess   *transport.Session

	stop      chan struct{}
	closeOnce sync.Once

	hub *events.Hub
	log *zap.Logger
}

func New(options Options) *Client {
	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	if options.ReconnectDelay <= 0 {
		options.ReconnectDelay = DefaultReconnectDelay
	}

	if options.Hello == "" {
		options.Hello = DefaultHello
	}

	options.Session.Log = options.Log.Named("session")

	return &Client{
		opts: options,
		stop: make(chan struct{}),
		hub:  events.NewHub(),
		log:  options.Log,
	}
}

// Run connects and serves the connection until ctx is cancelled or Close is
// called. Without AutoReconnect it returns when the first connection ends,
// with the dial error if it never got that far.
func (c *Client) Run(ctx context.Context) error {
	hello := c.opts.Hello

	for {
		if c.isStopped(ctx) {
			return nil
		}

		c.log.Info("Connecting to server")

		sess := transport.NewSession(ctx, c.opts.Session)
		if err := sess.Open(); err != nil {
			if !c.opts.AutoReconnect {
				return err
			}

			c.log.Warn("Connection failed", zap.Error(err))
		} else {
			c.serve(ctx, sess, hello)

			if !c.opts.AutoReconnect {
				c.log.Info("Connection closed, dropping client")
				return nil
			}
		}

		hello = protocol.TokenReset

		select {
		case <-ctx.Done():
			return nil

		case <-c.stop:
			return nil

		case <-time.After(c.opts.ReconnectDelay):
			c.log.Info("Reconnecting to server")
		}
	}
}

// serve blocks until sess ends or the client is stopped.
func (c *Client) serve(ctx context.Context, sess *transport.Session, hello string) {
	log := c.log.With(zap.String("addr", sess.Addr()))

	unsubscribe := sess.Subscribe(func(e events.Event) {
		c.forward(sess, e)
	})

	c.setSession(sess)
	log.Info("Connected")
	c.hub.Publish(events.Event{Kind: events.Connected, Line: sess.Addr()})

	if err := sess.Send(hello); err != nil {
		log.Warn("Failed to queue hello", zap.Error(err))
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
	case <-c.stop:
	}

	unsubscribe()
	c.setSession(nil)

	if err := sess.Close(); err != nil {
		log.Warn("Session did not close cleanly", zap.Error(err))
	}

	c.hub.Publish(events.Event{Kind: events.Disconnected, ClientID: sess.ClientID()})
}

// forward runs on the session's RX loop.
func (c *Client) forward(sess *transport.Session, e events.Event) {
	switch e.Kind {
	case events.Disconnected:
		// published by serve once the session is gone
		return

	case events.Reset:
		c.log.Info("Server asked for a reset, asking who we are")

		if err := sess.Send(protocol.TokenWhoAmI); err != nil {
			c.log.Warn("Failed to queue WHOAMI", zap.Error(err))
		}
	}

	c.hub.Publish(e)
}

// Send queues line on the current connection.
func (c *Client) Send(line string) error {
	sess := c.Session()
	if sess == nil {
		return ErrNotConnected
	}

	return sess.Send(line)
}

// WhoAmI asks the server for this client's id again.
func (c *Client) WhoAmI() error {
	return c.Send(protocol.TokenWhoAmI)
}

// ClientID is the id of the current connection, or 0 between connections.
func (c *Client) ClientID() int {
	sess := c.Session()
	if sess == nil {
		return 0
	}

	return sess.ClientID()
}

// Session returns the current session, or nil between connections.
func (c *Client) Session() *transport.Session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()

	return c.sess
}

func (c *Client) setSession(sess *transport.Session) {
	c.sessMu.Lock()
	c.sess = sess
	c.sessMu.Unlock()
}

// Subscribe registers fn for Connected, Received, Nak, WhoAmI, Identified,
// Reset and Disconnected events across reconnections.
func (c *Client) Subscribe(fn events.Handler) (unsubscribe func()) {
	return c.hub.Subscribe(fn)
}

// CloseSession drops the current connection. Run reconnects if
// AutoReconnect is set and returns otherwise.
func (c *Client) CloseSession() error {
	sess := c.Session()
	if sess == nil {
		return ErrNotConnected
	}

	return sess.Close()
}

// Close stops Run and drops the current connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})

	if sess := c.Session(); sess != nil {
		return sess.Close()
	}

	return nil
}

func (c *Client) isStopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true

	case <-c.stop:
		return true

	default:
		return false
	}
}
