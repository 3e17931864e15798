package protocol

import (
	"bytes"
	"strconv"
	"strings"
)

const (
	TokenAck         = "ACK"
	TokenHeartbeat   = "BA-BUM"
	TokenWhoAmI      = "WHOAMI"
	TokenReset       = "RESET"
	TokenClientID    = "CLIENT #"
	NakPrefix        = "NAK: "
	InvalidClientID  = -1
	LineTerminator   = '\n'
	carriageReturn   = '\r'
	maxClientIDDigit = 18
)

// Kind tags a received line.
type Kind int

const (
	Data Kind = iota
	Ack
	Heartbeat
	WhoAmI
	ClientID
	Reset
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case Ack:
		return "ack"
	case Heartbeat:
		return "heartbeat"
	case WhoAmI:
		return "whoami"
	case ClientID:
		return "client_id"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

// Line is a classified line. Text has its terminator and surrounding
// whitespace removed. ID is only set for ClientID lines.
type Line struct {
	Kind Kind
	Text string
	ID   int
}

// IsControl reports whether the line belongs to the transport rather than the
// application.
func (l Line) IsControl() bool {
	return l.Kind != Data
}

// NeedsAck reports whether the receiver must answer the line with an ACK.
// ACKs and heartbeats are fire and forget.
func (l Line) NeedsAck() bool {
	return l.Kind != Ack && l.Kind != Heartbeat
}

// Classify decides once what a raw line is. The line may or may not still
// carry its terminator.
//
// A `CLIENT #` line whose number does not parse as a positive integer is still
// a ClientID line, with ID set to InvalidClientID.
func Classify(raw []byte) Line {
	raw = bytes.TrimSuffix(raw, []byte{LineTerminator})
	raw = RemoveTrailingCR(raw)

	text := strings.TrimSpace(string(raw))

	switch {
	case strings.EqualFold(text, TokenAck):
		return Line{Kind: Ack, Text: text}

	case strings.EqualFold(text, TokenHeartbeat):
		return Line{Kind: Heartbeat, Text: text}

	case strings.EqualFold(text, TokenWhoAmI):
		return Line{Kind: WhoAmI, Text: text}

	case strings.EqualFold(text, TokenReset):
		return Line{Kind: Reset, Text: text}

	case len(text) >= len(TokenClientID) && strings.EqualFold(text[:len(TokenClientID)], TokenClientID):
		return Line{Kind: ClientID, Text: text, ID: parseClientID(text[len(TokenClientID):])}

	default:
		return Line{Kind: Data, Text: text}
	}
}

var controlTokens = []string{TokenAck, TokenHeartbeat, TokenWhoAmI, TokenReset, TokenClientID}

// IsControlPrefix reports whether an unterminated line could still turn into a
// control line once the rest of it arrives. Blank input counts as a prefix.
func IsControlPrefix(partial []byte) bool {
	text := strings.TrimLeft(string(partial), " \t")
	text = strings.TrimRight(text, " \t\r")

	for _, token := range controlTokens {
		if len(text) <= len(token) && strings.EqualFold(text, token[:len(text)]) {
			return true
		}
	}

	if len(text) > len(TokenClientID) && strings.EqualFold(text[:len(TokenClientID)], TokenClientID) {
		return strings.Trim(text[len(TokenClientID):], "0123456789 ") == ""
	}

	return false
}

func parseClientID(digits string) int {
	digits = strings.TrimSpace(digits)
	if digits == "" || len(digits) > maxClientIDDigit {
		return InvalidClientID
	}

	id, err := strconv.Atoi(digits)
	if err != nil || id < 1 {
		return InvalidClientID
	}

	return id
}

// RemoveTrailingCR strips one optional trailing '\r'.
func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == carriageReturn {
		return data[:len(data)-1]
	}

	return data
}
