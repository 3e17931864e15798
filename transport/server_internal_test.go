package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/events"
)

var errTooManyFiles = errors.New("accept: too many open files")

// scriptedListener hands the accept loop connections, or a fault, on demand.
type scriptedListener struct {
	inner net.Listener

	accepted chan net.Conn
	faults   chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptedListener() *scriptedListener {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).To(Succeed())

	return &scriptedListener{
		inner:    inner,
		accepted: make(chan net.Conn, 4),
		faults:   make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil

	case err := <-l.faults:
		return nil, err

	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *scriptedListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})

	return l.inner.Close()
}

func (l *scriptedListener) Addr() net.Addr {
	return l.inner.Addr()
}

// dial connects a raw peer and queues the server side for Accept.
func (l *scriptedListener) dial() (net.Conn, *bufio.Reader) {
	peer, err := net.Dial("tcp", l.inner.Addr().String())
	Expect(err).To(Succeed())

	conn, err := l.inner.Accept()
	Expect(err).To(Succeed())

	l.accepted <- conn

	return peer, bufio.NewReader(peer)
}

func readUntilLine(peer net.Conn, r *bufio.Reader, want string) {
	Expect(peer.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

	for {
		line, err := r.ReadString('\n')
		Expect(err).To(Succeed())

		if strings.TrimSpace(line) == want {
			return
		}
	}
}

func isListenerClosed(l *scriptedListener) bool {
	select {
	case <-l.closed:
		return true

	default:
		return false
	}
}

var _ = Describe("transport / Server internals", func() {
	Describe("accept faults", func() {
		It("tells every client to RESET, then shuts down", func() {
			listener := newScriptedListener()

			server := NewServer(Options{Host: "127.0.0.1", Log: zap.NewNop()})
			server.listen = func() (net.Listener, error) { return listener, nil }

			Expect(server.Start(context.Background())).To(Succeed())
			defer server.Close()

			first, firstReader := listener.dial()
			defer first.Close()

			second, secondReader := listener.dial()
			defer second.Close()

			Eventually(server.Registry().LiveCount, 5*time.Second).Should(Equal(2))
			sessions := []*Session{server.Registry().Get(1), server.Registry().Get(2)}

			listener.faults <- errTooManyFiles

			readUntilLine(first, firstReader, "RESET")
			readUntilLine(second, secondReader, "RESET")

			for _, sess := range sessions {
				Eventually(sess.Done(), 5*time.Second).Should(BeClosed())
			}

			Eventually(func() bool { return isListenerClosed(listener) }, 5*time.Second).Should(BeTrue())
			Eventually(server.Registry().LiveCount, 5*time.Second).Should(BeZero())
		})
	})

	Describe("Disconnect()", func() {
		It("leaves no pending target for a slot whose session already closed", func() {
			server := NewServer(Options{Log: zap.NewNop()})

			sess := NewSession(context.Background(), SessionOptions{})
			id := server.Registry().Add(sess)

			server.Disconnect(id)

			Expect(server.disconnectTarget.Load()).To(Equal(int64(noDisconnect)))
		})
	})

	Describe("Request()", func() {
		It("only queues request kinds", func() {
			server := NewServer(Options{Log: zap.NewNop()})

			var queued []events.Kind
			server.requests.Subscribe(func(e events.Event) {
				queued = append(queued, e.Kind)
			})

			server.Request(events.Event{Kind: events.Received, ClientID: 1, Line: "hello"})
			server.Request(events.Event{Kind: events.Reset, ClientID: 1})
			server.Request(events.Event{Kind: events.Send, ClientID: 1, Line: "hello"})
			server.Request(events.Event{Kind: events.DisconnectAll})

			Expect(queued).To(Equal([]events.Kind{events.Send, events.DisconnectAll}))
		})
	})
})
