package events

import (
	"fmt"

	"github.com/luma/tcpserial/protocol"
)

type Kind int

const (
	// Received is an application line read from a client.
	Received Kind = iota
	// Nak is raised when a queued line got no ACK after every attempt.
	Nak
	// WhoAmI is raised when a peer asks for its identity.
	WhoAmI
	// Identified is raised when a session learns its client id.
	Identified
	// Reset is raised when a peer asks us to re-handshake.
	Reset
	Connected
	Disconnected

	// Requests published by collaborators into a server.
	Send
	Broadcast
	Disconnect
	DisconnectAll
)

var kindNames = map[Kind]string{
	Received:      "received",
	Nak:           "nak",
	WhoAmI:        "whoami",
	Identified:    "identified",
	Reset:         "reset",
	Connected:     "connected",
	Disconnected:  "disconnected",
	Send:          "send",
	Broadcast:     "broadcast",
	Disconnect:    "disconnect",
	DisconnectAll: "disconnect_all",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is a single notification or request. ClientID is 0 when the event is
// not about one particular client.
type Event struct {
	Kind     Kind
	ClientID int
	Line     string
}

// String renders the event the way a console would show it. NAKs use the
// `NAK: <line>` form.
func (e Event) String() string {
	switch e.Kind {
	case Nak:
		return protocol.NakText(e.Line)
	case Received, Send, Broadcast:
		return e.Line
	default:
		return e.Kind.String()
	}
}

// IsRequest reports whether the event asks a server to do something rather
// than telling a subscriber that something happened.
func (e Event) IsRequest() bool {
	return e.Kind >= Send
}
