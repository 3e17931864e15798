package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/events"
	"github.com/luma/tcpserial/internal/meta"
	"github.com/luma/tcpserial/transport"
)

const jsonContentType = "application/json; charset=utf-8"

type handlers struct {
	bridge Bridge
	log    *zap.Logger
}

func (h *handlers) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *handlers) version(c *gin.Context) {
	c.JSON(http.StatusOK, meta.GetInfo())
}

func (h *handlers) listClients(c *gin.Context) {
	body, err := clientsJSON(h.bridge.Clients())
	if err != nil {
		h.log.Error("Failed to encode clients", zap.Error(err))
		h.fail(c, http.StatusInternalServerError, "failed to encode clients")
		return
	}

	c.Data(http.StatusOK, jsonContentType, body)
}

func (h *handlers) sendLine(c *gin.Context) {
	id, ok := h.clientID(c)
	if !ok {
		return
	}

	line, ok := h.readLine(c)
	if !ok {
		return
	}

	h.bridge.Request(events.Event{Kind: events.Send, ClientID: id, Line: line})
	h.accepted(c)
}

func (h *handlers) broadcast(c *gin.Context) {
	line, ok := h.readLine(c)
	if !ok {
		return
	}

	h.bridge.Request(events.Event{Kind: events.Broadcast, Line: line})
	h.accepted(c)
}

func (h *handlers) disconnect(c *gin.Context) {
	id, ok := h.clientID(c)
	if !ok {
		return
	}

	h.bridge.Request(events.Event{Kind: events.Disconnect, ClientID: id})
	h.accepted(c)
}

func (h *handlers) disconnectAll(c *gin.Context) {
	h.bridge.Request(events.Event{Kind: events.DisconnectAll})
	h.accepted(c)
}

// clientID parses the :id param and checks the client is live.
func (h *handlers) clientID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		h.fail(c, http.StatusBadRequest, "client id must be a positive integer")
		return 0, false
	}

	for _, client := range h.bridge.Clients() {
		if client.ID == id {
			return id, true
		}
	}

	h.fail(c, http.StatusNotFound, "no such client")

	return 0, false
}

// readLine pulls the "line" string out of a JSON body.
func (h *handlers) readLine(c *gin.Context) (string, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "failed to read body")
		return "", false
	}

	if !gjson.ValidBytes(body) {
		h.fail(c, http.StatusBadRequest, "body must be JSON")
		return "", false
	}

	line := gjson.GetBytes(body, "line")
	if line.Type != gjson.String {
		h.fail(c, http.StatusBadRequest, `body must have a "line" string`)
		return "", false
	}

	return line.String(), true
}

func (h *handlers) accepted(c *gin.Context) {
	body, _ := sjson.SetBytes([]byte("{}"), "status", "queued")
	c.Data(http.StatusAccepted, jsonContentType, body)
}

func (h *handlers) fail(c *gin.Context, status int, message string) {
	body, _ := sjson.SetBytes([]byte("{}"), "error", message)
	c.Data(status, jsonContentType, body)
}

func clientsJSON(clients []transport.ClientInfo) ([]byte, error) {
	body := []byte(`{"clients":[]}`)

	for i, client := range clients {
		obj := []byte("{}")

		fields := []struct {
			path  string
			value interface{}
		}{
			{"id", client.ID},
			{"addr", client.Addr},
			{"state", client.State.String()},
			{"stats.linesReceived", client.Stats.LinesReceived},
			{"stats.linesSent", client.Stats.LinesSent},
			{"stats.bytesReceived", client.Stats.BytesReceived},
			{"stats.bytesSent", client.Stats.BytesSent},
			{"stats.acksReceived", client.Stats.AcksReceived},
			{"stats.heartbeatsSent", client.Stats.HeartbeatsSent},
			{"stats.naks", client.Stats.Naks},
			{"stats.bytesDropped", client.Stats.BytesDropped},
		}

		var err error
		for _, field := range fields {
			if obj, err = sjson.SetBytes(obj, field.path, field.value); err != nil {
				return nil, err
			}
		}

		if body, err = sjson.SetRawBytes(body, "clients."+strconv.Itoa(i), obj); err != nil {
			return nil, err
		}
	}

	return []byte(gjson.GetBytes(body, "clients").Raw), nil
}
