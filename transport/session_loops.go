package transport

import (
	"bytes"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/luma/tcpserial/events"
	"github.com/luma/tcpserial/protocol"
)

const (
	// rxPollInterval keeps the RX loop responsive to shutdown
	rxPollInterval = 200 * time.Millisecond
	rxChunkSize    = 4096

	// maxLineLength flushes a line that never sees its terminator
	maxLineLength = 64 * 1024
)

func (s *Session) rxLoop(log *zap.Logger) {
	conn := s.getConn()
	chunk := make([]byte, rxChunkSize)

	var pending []byte

	for s.running.Load() && s.ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(rxPollInterval)); err != nil {
			if s.running.Load() {
				log.Warn("Failed to set read deadline", zap.Error(err))
			}
			s.flushPending(pending, true, log)
			return
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			s.stats.bytesReceived.Add(uint64(n))

			var lineErr error

			pending, lineErr = s.handleLines(append(pending, chunk[:n]...), log)
			if lineErr != nil {
				s.flushPending(pending, true, log)
				return
			}
		}

		if err != nil {
			if isTimeout(err) {
				// the peer went quiet mid line
				pending = s.flushPending(pending, false, log)
				continue
			}

			s.flushPending(pending, true, log)

			if s.running.Load() {
				if errors.Is(err, io.EOF) {
					log.Info("Peer closed the connection")
				} else {
					log.Warn("Receive error", zap.Error(err))
				}
			}

			return
		}
	}

	s.flushPending(pending, true, log)
}

// handleLines consumes every complete line in pending and returns what is
// left over. A failed ACK does not stop the remaining lines from being
// buffered; the first such error is returned.
func (s *Session) handleLines(pending []byte, log *zap.Logger) ([]byte, error) {
	var firstErr error

	for {
		i := bytes.IndexByte(pending, protocol.LineTerminator)
		if i < 0 {
			break
		}

		if err := s.handleLine(pending[:i+1], log); err != nil && firstErr == nil {
			firstErr = err
		}

		pending = pending[i+1:]
	}

	if len(pending) >= maxLineLength {
		log.Warn("Line too long, delivering it unterminated", zap.Int("length", len(pending)))

		if err := s.handleLine(pending, log); err != nil && firstErr == nil {
			firstErr = err
		}

		return nil, firstErr
	}

	if len(pending) == 0 {
		return nil, firstErr
	}

	return append([]byte(nil), pending...), firstErr
}

// flushPending hands an unterminated tail to readers. Unless the stream has
// ended, a tail that may still become a control line is kept back. It returns
// whatever is still pending.
func (s *Session) flushPending(pending []byte, final bool, log *zap.Logger) []byte {
	if len(pending) == 0 {
		return nil
	}

	if !final && protocol.IsControlPrefix(pending) {
		return pending
	}

	line := protocol.Classify(pending)
	if final && line.IsControl() {
		log.Debug("Dropping unterminated control line", zap.String("line", line.Text))
		return nil
	}

	s.appendBuffer(pending)
	s.hub.Publish(events.Event{Kind: events.Received, ClientID: s.ClientID(), Line: line.Text})

	return nil
}

// handleLine runs one raw line through the classifier. Control lines are
// consumed here and never reach the receive buffer.
func (s *Session) handleLine(raw []byte, log *zap.Logger) error {
	line := protocol.Classify(raw)

	var ackErr error
	if line.NeedsAck() {
		if ackErr = protocol.WriteAck(s.writer(s.opts.WriteTimeout)); ackErr != nil {
			log.Warn("Failed to ACK line", zap.String("line", line.Text), zap.Error(ackErr))
		}
	}

	switch line.Kind {
	case protocol.Ack:
		s.stats.acksReceived.Add(1)
		s.writeAck.Store(true)

		select {
		case s.ackChan <- struct{}{}:
		default:
		}

	case protocol.Heartbeat:
		log.Debug("Heartbeat received")

	case protocol.WhoAmI:
		s.hub.Publish(events.Event{Kind: events.WhoAmI, ClientID: s.ClientID()})

	case protocol.ClientID:
		if s.AssignID(line.ID) {
			if line.ID == protocol.InvalidClientID {
				log.Warn("Failed to parse client id from server", zap.String("line", line.Text))
			} else {
				s.markIdentified()
				log.Info("Client id assigned", zap.Int("client", line.ID))
			}
		}

		s.hub.Publish(events.Event{Kind: events.Identified, ClientID: s.ClientID(), Line: line.Text})

	case protocol.Reset:
		log.Info("Peer asked for a reset")
		s.hub.Publish(events.Event{Kind: events.Reset, ClientID: s.ClientID()})

	case protocol.Data:
		s.stats.linesReceived.Add(1)
		s.appendBuffer(raw)
		s.hub.Publish(events.Event{Kind: events.Received, ClientID: s.ClientID(), Line: line.Text})
	}

	return ackErr
}

func (s *Session) heartbeatLoop(log *zap.Logger) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-ticker.C:
			if !s.running.Load() {
				return
			}

			if err := protocol.WriteHeartbeat(s.writer(s.opts.WriteTimeout)); err != nil {
				log.Warn("Heartbeat error", zap.Error(err))
				return
			}

			s.stats.heartbeatsSent.Add(1)
		}
	}
}

func (s *Session) dispatchLoop(log *zap.Logger) {
	for {
		select {
		case <-s.ctx.Done():
			return

		case line := <-s.writeQueue:
			if !s.deliver(line, log) {
				return
			}
		}
	}
}

// deliver makes up to SendAttempts attempts at getting line ACKed. A line
// that is never ACKed is dropped and reported with a Nak event. It returns
// false when the session can no longer send.
func (s *Session) deliver(line string, log *zap.Logger) bool {
	w := s.writer(s.opts.WriteTimeout)

	timer := time.NewTimer(s.opts.AckTimeout)
	defer timer.Stop()

	for attempt := 1; attempt <= s.opts.SendAttempts; attempt++ {
		select {
		case <-s.ackChan:
		default:
		}
		s.writeAck.Store(false)

		if err := protocol.WriteLine(w, line); err != nil {
			if !errors.Is(err, ErrWriteTimeout) {
				log.Warn("Failed to send line", zap.String("line", line), zap.Error(err))
				return false
			}

			log.Warn("Send attempt timed out", zap.String("line", line), zap.Int("attempt", attempt))
		} else {
			s.stats.linesSent.Add(1)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.opts.AckTimeout)

		select {
		case <-s.ctx.Done():
			return false

		case <-s.ackChan:
			return true

		case <-timer.C:
			if s.Acked() {
				return true
			}
		}
	}

	log.Warn("No ACK received, transmission may have failed",
		zap.String("line", line),
		zap.Int("attempts", s.opts.SendAttempts))

	s.stats.naks.Add(1)
	s.hub.Publish(events.Event{Kind: events.Nak, ClientID: s.ClientID(), Line: line})

	return true
}
