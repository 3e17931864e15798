package transport_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/events"
	"github.com/luma/tcpserial/protocol"
	"github.com/luma/tcpserial/transport"
)

const eventTimeout = 5 * time.Second

// peer is the raw socket end of a connection, standing in for the other side
// of a session.
type peer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newPeer(conn net.Conn) *peer {
	return &peer{conn: conn, r: bufio.NewReader(conn)}
}

func dialPeer(addr net.Addr) *peer {
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	Expect(err).To(Succeed())

	return newPeer(conn)
}

func (p *peer) send(line string) {
	_, err := p.conn.Write(protocol.Terminate(line))
	Expect(err).To(Succeed())
}

// next returns the next line without its terminator.
func (p *peer) next() string {
	Expect(p.conn.SetReadDeadline(time.Now().Add(eventTimeout))).To(Succeed())

	line, err := p.r.ReadString(protocol.LineTerminator)
	Expect(err).To(Succeed())

	return strings.TrimRight(line, "\r\n")
}

// waitFor reads until want turns up, ACKing everything that needs it on the
// way like a well behaved peer would.
func (p *peer) waitFor(want string) {
	for {
		line := p.next()
		if line == want {
			return
		}

		if protocol.Classify([]byte(line)).NeedsAck() {
			p.send(protocol.TokenAck)
		}
	}
}

func (p *peer) close() {
	_ = p.conn.Close()
}

// waitForClose reads until the other side hangs up.
func (p *peer) waitForClose() {
	timeout := time.After(eventTimeout)
	one := make([]byte, 1)

	for {
		select {
		case <-timeout:
			Fail("The connection was never closed by the other side")
			return

		default:
		}

		Expect(p.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))).To(Succeed())

		if _, err := p.r.Read(one); err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			return
		}
	}
}

// collect buffers every event fn's subscriber sees.
func collect(subscribe func(events.Handler) func()) (<-chan events.Event, func()) {
	ch := make(chan events.Event, 256)

	unsubscribe := subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})

	return ch, unsubscribe
}

// awaitEvent returns the first event on ch that matches.
func awaitEvent(ch <-chan events.Event, match func(events.Event) bool) events.Event {
	timeout := time.After(eventTimeout)

	for {
		select {
		case e := <-ch:
			if match(e) {
				return e
			}

		case <-timeout:
			Fail("Timed out waiting for event")
			return events.Event{}
		}
	}
}

func kindIs(kind events.Kind) func(events.Event) bool {
	return func(e events.Event) bool { return e.Kind == kind }
}

func makeLogger() *zap.Logger {
	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	return log
}

// makeSessionPair opens a session against a throwaway listener and returns
// both ends.
func makeSessionPair(opts transport.SessionOptions) (*transport.Session, *peer) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).To(Succeed())
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	opts.Host = addr.IP.String()
	opts.Port = addr.Port
	opts.Log = makeLogger()

	accepted := make(chan net.Conn, 1)
	go func() {
		defer GinkgoRecover()

		conn, err := listener.Accept()
		Expect(err).To(Succeed())
		accepted <- conn
	}()

	sess := transport.NewSession(context.Background(), opts)
	Expect(sess.Open()).To(Succeed())

	var conn net.Conn
	Eventually(accepted, eventTimeout).Should(Receive(&conn))

	return sess, newPeer(conn)
}

func makeServer(options transport.Options) *transport.Server {
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}

	options.Log = makeLogger()

	server := transport.NewServer(options)
	Expect(server.Start(context.Background())).To(Succeed())
	Expect(server.Addr()).NotTo(BeNil())

	return server
}
