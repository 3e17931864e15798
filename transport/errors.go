package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	// ErrClosed is returned when reading, writing, flushing or sending on a
	// session that is not open.
	ErrClosed = errors.New("port is closed")

	// ErrWriteTimeout is returned when Write could not hand every byte to the
	// socket before its deadline.
	ErrWriteTimeout = errors.New("write timeout")

	errBrokenConn  = errors.New("socket connection broken")
	errJoinTimeout = errors.New("background loops still running after close")
)

// ConnectionFault wraps a socket level failure (dial, listen, accept, read,
// write). It is fatal to the connection it happened on.
type ConnectionFault struct {
	Op  string
	Err error
}

func (e *ConnectionFault) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionFault) Unwrap() error {
	return e.Err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
