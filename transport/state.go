package transport

import (
	"sync/atomic"
)

// State of a session. States only ever move forward, Closed is terminal.
type State int32

const (
	Connecting State = iota
	Open
	Identified
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Identified:
		return "identified"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateMachine struct {
	v atomic.Int32
}

func (m *stateMachine) load() State {
	return State(m.v.Load())
}

// advance moves to next unless the machine is already there or further along.
// Identified can only be reached from Open.
func (m *stateMachine) advance(next State) bool {
	for {
		cur := m.load()
		if cur >= next {
			return false
		}

		if next == Identified && cur != Open {
			return false
		}

		if m.v.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

// Stats are per session counters.
type Stats struct {
	LinesReceived  uint64
	LinesSent      uint64
	BytesReceived  uint64
	BytesSent      uint64
	AcksReceived   uint64
	HeartbeatsSent uint64
	Naks           uint64
	BytesDropped   uint64
}

type counters struct {
	linesReceived  atomic.Uint64
	linesSent      atomic.Uint64
	bytesReceived  atomic.Uint64
	bytesSent      atomic.Uint64
	acksReceived   atomic.Uint64
	heartbeatsSent atomic.Uint64
	naks           atomic.Uint64
	bytesDropped   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		LinesReceived:  c.linesReceived.Load(),
		LinesSent:      c.linesSent.Load(),
		BytesReceived:  c.bytesReceived.Load(),
		BytesSent:      c.bytesSent.Load(),
		AcksReceived:   c.acksReceived.Load(),
		HeartbeatsSent: c.heartbeatsSent.Load(),
		Naks:           c.naks.Load(),
		BytesDropped:   c.bytesDropped.Load(),
	}
}
