package console

import (
	"strconv"
	"strings"

	"github.com/luma/tcpserial/transport"
)

// ServerTarget is what the server console drives.
type ServerTarget interface {
	Clients() []transport.ClientInfo
	SendTo(id int, line string)
	Broadcast(line string)
	Disconnect(id int)
	DisconnectAll()
}

// ClientTarget is what the client console drives.
type ClientTarget interface {
	ClientID() int
	Send(line string) error
	WhoAmI() error
	CloseSession() error
}

// ServerCommands interprets console lines for a server:
//
//	clients          list live clients
//	send <id> <line> send line to one client
//	close [id]       disconnect one client, or all of them
//	exit             stop
//
// Anything else is broadcast to every client. The returned func reports
// false on exit.
func ServerCommands(target ServerTarget, p *Printer) func(line string) bool {
	return func(line string) bool {
		command, rest := splitCommand(line)

		switch strings.ToLower(command) {
		case "exit":
			return false

		case "clients":
			clients := target.Clients()
			if len(clients) == 0 {
				p.Infof("No clients connected")
			}

			for _, client := range clients {
				p.Infof("#%d %s %s", client.ID, client.Addr, client.State)
			}

		case "send":
			idText, text := splitCommand(rest)

			id, err := strconv.Atoi(idText)
			if err != nil || text == "" {
				p.Errorf("Usage: send <id> <line>")
				break
			}

			target.SendTo(id, text)

		case "close":
			if rest == "" || strings.EqualFold(rest, "all") {
				target.DisconnectAll()
				break
			}

			id, err := strconv.Atoi(rest)
			if err != nil {
				p.Errorf("Usage: close [id]")
				break
			}

			target.Disconnect(id)

		default:
			target.Broadcast(line)
		}

		return true
	}
}

// ClientCommands interprets console lines for a client:
//
//	id      print the id the server gave us
//	whoami  ask the server for our id
//	close   drop the connection
//	exit    stop
//
// Anything else is sent to the server.
func ClientCommands(target ClientTarget, p *Printer) func(line string) bool {
	return func(line string) bool {
		var err error

		switch strings.ToLower(line) {
		case "exit":
			return false

		case "id":
			p.Infof("Client id: %d", target.ClientID())

		case "whoami":
			err = target.WhoAmI()

		case "close":
			err = target.CloseSession()

		default:
			err = target.Send(line)
		}

		if err != nil {
			p.Errorf("%s: %v", line, err)
		}

		return true
	}
}

func splitCommand(line string) (string, string) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(fields) == 1 {
		return fields[0], ""
	}

	return fields[0], strings.TrimSpace(fields[1])
}
