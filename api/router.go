package api

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/tcpserial/events"
	"github.com/luma/tcpserial/transport"
)

// Bridge is the part of the server the API drives.
type Bridge interface {
	Clients() []transport.ClientInfo
	Request(e events.Event)
}

// NewRouter builds the HTTP control surface for bridge.
func NewRouter(bridge Bridge, log *zap.Logger, debugHTTP bool) *gin.Engine {
	r := setupRouter(debugHTTP, log)
	h := &handlers{bridge: bridge, log: log.Named("api")}

	r.GET("/ping", h.ping)
	r.GET("/version", h.version)

	r.GET("/clients", h.listClients)
	r.DELETE("/clients", h.disconnectAll)
	r.DELETE("/clients/:id", h.disconnect)
	r.POST("/clients/:id/lines", h.sendLine)
	r.POST("/broadcast", h.broadcast)

	return r
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs every request except health checks, RFC3339 in UTC
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
