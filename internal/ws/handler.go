package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/pubsub"
)

// Service is the inbound event surface, implemented by live.Service.
type Service interface {
	Authenticate(ctx context.Context, connID string, userID int64) error
	JoinRoom(ctx context.Context, connID, pin, nickname string) error
	PlayerJoin(ctx context.Context, connID, pin, nickname string) (int64, error)
	StartGame(ctx context.Context, connID, pin string) error
	Ready(ctx context.Context, connID, pin string) error
	SubmitAnswer(ctx context.Context, connID, pin string, questionID, optionID int64) error
	FindMatch(ctx context.Context, connID string) error
	CancelMatch(ctx context.Context, connID string) error
	LeaveGame(ctx context.Context, connID, pin string) error
	Disconnect(ctx context.Context, connID string)
}

type Config struct {
	Service     Service
	Broadcaster *pubsub.Broadcaster

	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Handler upgrades HTTP requests to websocket connections and runs one Conn
// per client.
type Handler struct {
	service  Service
	bc       *pubsub.Broadcaster
	config   Config
	upgrader websocket.Upgrader
}

func NewHandler(c Config) *Handler {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}

	return &Handler{
		service: c.Service,
		bc:      c.Broadcaster,
		config:  c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle is the gin endpoint for GET /ws.
func (h *Handler) Handle(c *gin.Context) {
	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	conn := &Conn{
		ID:      uuid.New().String(),
		handler: h,
		socket:  socket,
		send:    make(chan []byte, 256),
	}

	conn.run()
}
