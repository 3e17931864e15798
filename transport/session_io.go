package transport

import (
	"bytes"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/luma/tcpserial/protocol"
)

// Read returns up to size buffered bytes, waiting at most the session's
// ReadTimeout for some to arrive. size <= 0 returns everything buffered.
func (s *Session) Read(size int) ([]byte, error) {
	return s.ReadWithin(size, s.opts.ReadTimeout)
}

// ReadWithin is Read with an explicit timeout. A timeout of zero returns
// immediately, Forever waits until data arrives or the session closes. Running
// out of time is not an error: the result is simply empty.
//
// Bytes that were buffered before the session closed can still be read;
// ErrClosed is returned once the buffer is empty.
func (s *Session) ReadWithin(size int, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed && len(s.buf) == 0 {
		return nil, ErrClosed
	}

	deadline, stop := s.wakeAt(timeout)
	defer stop()

	for len(s.buf) == 0 {
		if s.closed {
			return nil, ErrClosed
		}

		if expired(timeout, deadline) {
			return []byte{}, nil
		}

		s.cond.Wait()
	}

	n := len(s.buf)
	if size > 0 && size < n {
		n = size
	}

	return s.drainLocked(n), nil
}

// ReadUntil reads up to and including terminator ('\n' when empty), or size
// bytes when size > 0 and that many are buffered first. It never returns
// bytes past the first terminator.
func (s *Session) ReadUntil(terminator []byte, size int) ([]byte, error) {
	return s.ReadUntilWithin(terminator, size, s.opts.ReadTimeout)
}

// ReadUntilWithin is ReadUntil with an explicit timeout, with the same timeout
// rules as ReadWithin.
func (s *Session) ReadUntilWithin(terminator []byte, size int, timeout time.Duration) ([]byte, error) {
	if len(terminator) == 0 {
		terminator = []byte{protocol.LineTerminator}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed && len(s.buf) == 0 {
		return nil, ErrClosed
	}

	deadline, stop := s.wakeAt(timeout)
	defer stop()

	for {
		if i := bytes.Index(s.buf, terminator); i >= 0 {
			end := i + len(terminator)
			if size <= 0 || end <= size {
				return s.drainLocked(end), nil
			}
		}

		if size > 0 && len(s.buf) >= size {
			return s.drainLocked(size), nil
		}

		if s.closed {
			if len(s.buf) > 0 {
				return s.drainLocked(len(s.buf)), nil
			}

			return nil, ErrClosed
		}

		if expired(timeout, deadline) {
			return []byte{}, nil
		}

		s.cond.Wait()
	}
}

// ReadAll drains the receive buffer without waiting.
func (s *Session) ReadAll() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.drainLocked(len(s.buf))
}

// Buffered is the number of bytes waiting to be read.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buf)
}

// ResetInputBuffer discards everything waiting to be read.
func (s *Session) ResetInputBuffer() error {
	if !s.IsOpen() {
		return ErrClosed
	}

	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()

	return nil
}

// ResetOutputBuffer exists for serial port parity. Bytes handed to TCP cannot
// be taken back, so it only checks the session is open.
func (s *Session) ResetOutputBuffer() error {
	if !s.IsOpen() {
		return ErrClosed
	}

	return nil
}

// Flush returns once earlier writes have been handed to the kernel, which
// Write already guarantees.
func (s *Session) Flush() error {
	if !s.IsOpen() {
		return ErrClosed
	}

	return nil
}

// drainLocked removes and returns the first n bytes. mu must be held.
func (s *Session) drainLocked(n int) []byte {
	data := make([]byte, n)
	copy(data, s.buf[:n])

	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}

	return data
}

// appendBuffer is only called by the RX loop.
func (s *Session) appendBuffer(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, data...)

	if limit := s.opts.MaxBufferSize; limit > 0 && len(s.buf) > limit {
		dropped := len(s.buf) - limit
		s.buf = append([]byte(nil), s.buf[dropped:]...)
		s.stats.bytesDropped.Add(uint64(dropped))
		s.log.Warn("Receive buffer overflow, dropped oldest bytes", zap.Int("dropped", dropped))
	}

	s.cond.Broadcast()
}

// wakeAt arms a timer that wakes waiting readers at the deadline. mu must be
// held by the caller.
func (s *Session) wakeAt(timeout time.Duration) (time.Time, func()) {
	if timeout <= 0 {
		return time.Time{}, func() {}
	}

	t := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})

	return time.Now().Add(timeout), func() { t.Stop() }
}

func expired(timeout time.Duration, deadline time.Time) bool {
	switch {
	case timeout == 0:
		return true
	case timeout < 0:
		return false
	default:
		return !time.Now().Before(deadline)
	}
}

// Write sends b, bounded by the session's WriteTimeout.
func (s *Session) Write(b []byte) (int, error) {
	return s.WriteWithin(b, s.opts.WriteTimeout)
}

// WriteWithin sends every byte of b or fails. Running past timeout returns
// ErrWriteTimeout; any other socket failure is a *ConnectionFault and closes
// the session. timeout <= 0 means no deadline.
func (s *Session) WriteWithin(b []byte, timeout time.Duration) (int, error) {
	if !s.IsOpen() {
		return 0, ErrClosed
	}

	s.writeAck.Store(false)

	return s.write(b, timeout)
}

// deadlineWriter adapts write to io.Writer for the protocol helpers.
type deadlineWriter struct {
	s       *Session
	timeout time.Duration
}

func (w deadlineWriter) Write(b []byte) (int, error) {
	return w.s.write(b, w.timeout)
}

// writer returns an io.Writer whose every Write is bounded by timeout. Unlike
// WriteWithin it leaves the ACK flag alone.
func (s *Session) writer(timeout time.Duration) io.Writer {
	return deadlineWriter{s: s, timeout: timeout}
}

func (s *Session) write(b []byte, timeout time.Duration) (int, error) {
	conn := s.getConn()
	if conn == nil || !s.IsOpen() {
		return 0, ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return 0, s.writeFailed(err)
	}

	total := 0
	for total < len(b) {
		n, err := conn.Write(b[total:])
		total += n

		if err != nil {
			s.stats.bytesSent.Add(uint64(total))

			if isTimeout(err) {
				return total, ErrWriteTimeout
			}

			return total, s.writeFailed(err)
		}

		if n == 0 {
			return total, s.writeFailed(errBrokenConn)
		}

		if timeout > 0 && total < len(b) && !time.Now().Before(deadline) {
			s.stats.bytesSent.Add(uint64(total))
			return total, ErrWriteTimeout
		}
	}

	s.stats.bytesSent.Add(uint64(total))

	return total, nil
}

func (s *Session) writeFailed(err error) error {
	if !s.IsOpen() {
		return ErrClosed
	}

	s.log.Warn("Write failed, closing session", zap.Error(err))
	go s.terminate()

	return &ConnectionFault{Op: "write", Err: err}
}
