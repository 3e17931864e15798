package transport

import (
	"time"

	"go.uber.org/zap"
)

const (
	// Forever makes reads block until data arrives.
	Forever time.Duration = -1

	DefaultConnectTimeout         = 10 * time.Second
	DefaultAckTimeout             = 500 * time.Millisecond
	DefaultSendAttempts           = 3
	DefaultQueueSize              = 64
	DefaultJoinTimeout            = time.Second
	DefaultDisconnectPollInterval = 50 * time.Millisecond
)

// SessionOptions configures a single serial-like session.
type SessionOptions struct {
	// Host and Port are dialled by Open when the session does not wrap an
	// accepted connection.
	Host string
	Port int

	ConnectTimeout time.Duration

	// ReadTimeout is the default for Read and ReadUntil. Negative values (see
	// Forever) block indefinitely, zero never blocks.
	ReadTimeout time.Duration

	// WriteTimeout bounds Write. Zero or negative means no deadline.
	WriteTimeout time.Duration

	// HeartbeatInterval between BA-BUM lines. Zero disables the heartbeat.
	HeartbeatInterval time.Duration

	// AckTimeout is how long each delivery attempt waits for an ACK.
	AckTimeout time.Duration

	// SendAttempts per queued line before it is NAKed.
	SendAttempts int

	// QueueSize of the outbound line queue.
	QueueSize int

	// MaxBufferSize caps the receive buffer in bytes, the oldest bytes are
	// discarded when it overflows. Zero means unbounded.
	MaxBufferSize int

	// JoinTimeout bounds how long Close waits for the background loops.
	JoinTimeout time.Duration

	Log *zap.Logger
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}

	if o.SendAttempts < 1 {
		o.SendAttempts = DefaultSendAttempts
	}

	if o.QueueSize < 1 {
		o.QueueSize = DefaultQueueSize
	}

	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

// Options configures a Server.
type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port
	Port int

	// Reuseport controls setting SO_REUSEPORT
	Reuseport bool

	// Session is applied to every accepted connection. Host and Port are
	// ignored.
	Session SessionOptions

	// DisconnectPollInterval is how often connection handlers look for a
	// pending Disconnect or DisconnectAll.
	DisconnectPollInterval time.Duration

	Log *zap.Logger
}
