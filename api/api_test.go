package api_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/api"
	"github.com/luma/tcpserial/events"
	"github.com/luma/tcpserial/transport"
)

type fakeBridge struct {
	mu       sync.Mutex
	clients  []transport.ClientInfo
	requests []events.Event
}

func (f *fakeBridge) Clients() []transport.ClientInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.clients
}

func (f *fakeBridge) Request(e events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, e)
}

var _ = Describe("api", func() {
	var (
		bridge *fakeBridge
		router http.Handler
	)

	BeforeEach(func() {
		bridge = &fakeBridge{
			clients: []transport.ClientInfo{
				{ID: 1, Addr: "127.0.0.1:50001", State: transport.Open, Stats: transport.Stats{LinesReceived: 4}},
				{ID: 3, Addr: "127.0.0.1:50003", State: transport.Identified},
			},
		}

		router = api.NewRouter(bridge, zap.NewNop(), false)
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		}

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		return rec
	}

	It("answers pings", func() {
		rec := do(http.MethodGet, "/ping", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("pong"))
	})

	It("reports the build", func() {
		rec := do(http.MethodGet, "/version", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(gjson.Get(rec.Body.String(), "goVersion").String()).NotTo(BeEmpty())
	})

	It("lists live clients", func() {
		rec := do(http.MethodGet, "/clients", "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		body := rec.Body.String()
		Expect(gjson.Get(body, "#").Int()).To(Equal(int64(2)))
		Expect(gjson.Get(body, "0.id").Int()).To(Equal(int64(1)))
		Expect(gjson.Get(body, "0.state").String()).To(Equal("open"))
		Expect(gjson.Get(body, "0.stats.linesReceived").Int()).To(Equal(int64(4)))
		Expect(gjson.Get(body, "1.id").Int()).To(Equal(int64(3)))
		Expect(gjson.Get(body, "1.addr").String()).To(Equal("127.0.0.1:50003"))
	})

	It("lists no clients as an empty array", func() {
		bridge.clients = nil

		rec := do(http.MethodGet, "/clients", "")
		Expect(rec.Body.String()).To(Equal("[]"))
	})

	It("queues a line for one client", func() {
		rec := do(http.MethodPost, "/clients/3/lines", `{"line":"MEASURE"}`)
		Expect(rec.Code).To(Equal(http.StatusAccepted))

		Expect(bridge.requests).To(Equal([]events.Event{{Kind: events.Send, ClientID: 3, Line: "MEASURE"}}))
	})

	It("refuses lines for clients that are not connected", func() {
		rec := do(http.MethodPost, "/clients/2/lines", `{"line":"MEASURE"}`)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(bridge.requests).To(BeEmpty())
	})

	It("refuses bad client ids", func() {
		rec := do(http.MethodPost, "/clients/abc/lines", `{"line":"MEASURE"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(gjson.Get(rec.Body.String(), "error").String()).To(ContainSubstring("positive integer"))
	})

	It("refuses bodies without a line", func() {
		Expect(do(http.MethodPost, "/broadcast", `{"text":"x"}`).Code).To(Equal(http.StatusBadRequest))
		Expect(do(http.MethodPost, "/broadcast", `{"line":5}`).Code).To(Equal(http.StatusBadRequest))
		Expect(do(http.MethodPost, "/broadcast", `not json`).Code).To(Equal(http.StatusBadRequest))
		Expect(bridge.requests).To(BeEmpty())
	})

	It("queues a broadcast", func() {
		rec := do(http.MethodPost, "/broadcast", `{"line":"HELLO ALL"}`)
		Expect(rec.Code).To(Equal(http.StatusAccepted))

		Expect(bridge.requests).To(Equal([]events.Event{{Kind: events.Broadcast, Line: "HELLO ALL"}}))
	})

	It("disconnects one client", func() {
		rec := do(http.MethodDelete, "/clients/1", "")
		Expect(rec.Code).To(Equal(http.StatusAccepted))

		Expect(bridge.requests).To(Equal([]events.Event{{Kind: events.Disconnect, ClientID: 1}}))
	})

	It("disconnects every client", func() {
		rec := do(http.MethodDelete, "/clients", "")
		Expect(rec.Code).To(Equal(http.StatusAccepted))

		Expect(bridge.requests).To(Equal([]events.Event{{Kind: events.DisconnectAll}}))
	})
})
