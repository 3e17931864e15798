package protocol

import (
	"io"
	"strconv"
)

var (
	AckLine       = []byte(TokenAck + "\n")
	HeartbeatLine = []byte(TokenHeartbeat + "\n")
	ResetLine     = []byte(TokenReset + "\n")
)

// Terminate returns the wire form of line, adding the '\n' terminator.
func Terminate(line string) []byte {
	b := make([]byte, 0, len(line)+1)
	b = append(b, line...)

	return append(b, LineTerminator)
}

// WriteLine writes line and its terminator in a single Write.
func WriteLine(w io.Writer, line string) error {
	_, err := w.Write(Terminate(line))
	return err
}

func WriteAck(w io.Writer) error {
	_, err := w.Write(AckLine)
	return err
}

func WriteHeartbeat(w io.Writer) error {
	_, err := w.Write(HeartbeatLine)
	return err
}

// ClientIDText is the identity reply / welcome banner for id, without a
// terminator. It is what the server queues for delivery.
func ClientIDText(id int) string {
	return TokenClientID + strconv.Itoa(id)
}

// NakText is the local notification text for a line that was never ACKed.
func NakText(line string) string {
	return NakPrefix + line
}
