package http

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/imarenge/promptcast/internal/service"
	"github.com/imarenge/promptcast/lib/logger/sl"
)

const serviceName = "promptcast-relay"

type RelayController struct {
	relay           service.RelayInteractor
	log             *slog.Logger
	accessKey       string
	maxMessageBytes int64
	upgrader        websocket.Upgrader
}

func NewRelayController(relay service.RelayInteractor, log *slog.Logger, accessKey string, maxMessageBytes int64) *RelayController {
	if log == nil {
		log = slog.Default()
	}
	return &RelayController{
		relay:           relay,
		log:             log,
		accessKey:       accessKey,
		maxMessageBytes: maxMessageBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Health answers hosting-platform liveness probes with the current connection
// count and process uptime.
func (c *RelayController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"service":     serviceName,
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"connections": c.relay.ClientCount(),
		"uptime":      c.relay.Uptime().String(),
	})
}

// Join upgrades the request to a websocket connection and runs its read loop
// until the peer goes away. The shared access key is checked before the
// upgrade; an empty configured key disables the check.
func (c *RelayController) Join(ctx *gin.Context) {
	const op = "api.relay.join"
	log := c.log.With(slog.String("op", op))

	if c.accessKey != "" {
		supplied := ctx.Query("key")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(c.accessKey)) != 1 {
			log.Warn("rejected connection with bad access key", slog.String("remote", ctx.ClientIP()))
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid access key"})
			return
		}
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Error("failed to upgrade connection", sl.Err(err))
		return
	}
	conn.SetReadLimit(c.maxMessageBytes)

	client, err := c.relay.Register(conn)
	if err != nil {
		conn.WriteJSON(gin.H{"error": err.Error()})
		conn.Close()
		return
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			_ = c.relay.Unregister(client.ID)
			conn.Close()
			return
		}

		// Malformed frames are dropped inside HandleFrame; only unknown
		// clients end the loop.
		if err := c.relay.HandleFrame(client.ID, frame); err != nil {
			if errors.Is(err, service.ErrClientNotFound) {
				conn.Close()
				return
			}
		}
	}
}
