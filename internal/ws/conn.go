package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/pubsub"
)

// Inbound client event names.
const (
	eventAuthenticate  = "authenticate"
	eventJoinRoom      = "player_join_room"
	eventPlayerJoin    = "player_join"
	eventStartGame     = "start_game"
	eventPlayerReady   = "player_ready_for_question"
	eventSubmitAnswer  = "submit_answer"
	eventFindMatch     = "find_match"
	eventCancelMatch   = "cancel_matchmaking"
	eventLeaveGame     = "leave_game"
	eventPlayerJoinAck = "player_join_ack"
)

type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinParams struct {
	PIN      string `json:"pin"`
	Nickname string `json:"nickname"`
}

type pinParams struct {
	PIN string `json:"pin"`
}

type authParams struct {
	UserID int64 `json:"userId"`
}

type answerParams struct {
	PIN        string `json:"pin"`
	QuestionID int64  `json:"questionId"`
	OptionID   int64  `json:"optionId"`
}

type joinAck struct {
	Success  bool   `json:"success"`
	PlayerID int64  `json:"playerId,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Conn is one client connection: a websocket on the client side and a Redis
// subscription on the fan-out side. Everything published to this
// connection's private channel, or to the room it joined, is forwarded to
// the socket in channel-publish order.
type Conn struct {
	ID      string
	handler *Handler
	socket  *websocket.Conn
	send    chan []byte
}

// run blocks until the connection is gone.
func (c *Conn) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := c.handler.bc.Subscribe(ctx, c.handler.bc.ConnChannel(c.ID))
	defer sub.Close()

	go c.forward(sub.Channel())
	go c.writePump(ctx)

	slog.InfoContext(ctx, "ws: connection established", "conn_id", c.ID)

	c.readPump(ctx, sub)

	c.handler.service.Disconnect(ctx, c.ID)
	slog.InfoContext(ctx, "ws: connection closed", "conn_id", c.ID)
}

// forward pumps fan-out messages into the socket writer. Payloads are
// already JSON envelopes; a slow client drops messages rather than stalling
// the subscription.
func (c *Conn) forward(messages <-chan *redis.Message) {
	for msg := range messages {
		select {
		case c.send <- []byte(msg.Payload):
		default:
			slog.Warn("ws: dropping message for slow connection", "conn_id", c.ID)
		}
	}
}

func (c *Conn) readPump(ctx context.Context, sub *redis.PubSub) {
	defer c.socket.Close()

	c.socket.SetReadLimit(c.handler.config.MaxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(c.handler.config.PongTimeout))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(c.handler.config.PongTimeout))
	})

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.ErrorContext(ctx, "ws: read failed", "conn_id", c.ID, "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.ErrorContext(ctx, "ws: malformed message", "conn_id", c.ID, "error", err)
			continue
		}

		c.dispatch(ctx, sub, msg)
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.handler.config.PingInterval)
	defer ticker.Stop()
	defer c.socket.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.handler.config.WriteTimeout))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.handler.config.WriteTimeout))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound event. Request-style failures are answered on
// this connection only; they never touch other sessions.
func (c *Conn) dispatch(ctx context.Context, sub *redis.PubSub, msg inboundMessage) {
	svc := c.handler.service

	var err error
	switch msg.Event {
	case eventAuthenticate:
		var p authParams
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = svc.Authenticate(ctx, c.ID, p.UserID)
		}

	case eventJoinRoom:
		var p joinParams
		if err = json.Unmarshal(msg.Data, &p); err != nil {
			break
		}
		// Subscribe before the join so this connection receives the
		// player-list broadcast its own join triggers.
		if err = sub.Subscribe(ctx, c.handler.bc.RoomChannel(p.PIN)); err != nil {
			break
		}
		if err = svc.JoinRoom(ctx, c.ID, p.PIN, p.Nickname); err != nil {
			_ = sub.Unsubscribe(ctx, c.handler.bc.RoomChannel(p.PIN))
		}

	case eventPlayerJoin:
		var p joinParams
		if err = json.Unmarshal(msg.Data, &p); err != nil {
			break
		}
		if err = sub.Subscribe(ctx, c.handler.bc.RoomChannel(p.PIN)); err != nil {
			break
		}
		playerID, joinErr := svc.PlayerJoin(ctx, c.ID, p.PIN, p.Nickname)
		if joinErr != nil {
			_ = sub.Unsubscribe(ctx, c.handler.bc.RoomChannel(p.PIN))
			c.reply(eventPlayerJoinAck, joinAck{Success: false, Message: errors.Convert(joinErr).Message})
			break
		}
		c.reply(eventPlayerJoinAck, joinAck{Success: true, PlayerID: playerID})

	case eventStartGame:
		var p pinParams
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = svc.StartGame(ctx, c.ID, p.PIN)
		}

	case eventPlayerReady:
		var p pinParams
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = svc.Ready(ctx, c.ID, p.PIN)
		}

	case eventSubmitAnswer:
		var p answerParams
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = svc.SubmitAnswer(ctx, c.ID, p.PIN, p.QuestionID, p.OptionID)
		}

	case eventFindMatch:
		err = svc.FindMatch(ctx, c.ID)

	case eventCancelMatch:
		err = svc.CancelMatch(ctx, c.ID)

	case eventLeaveGame:
		var p pinParams
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			if err = svc.LeaveGame(ctx, c.ID, p.PIN); err == nil {
				err = sub.Unsubscribe(ctx, c.handler.bc.RoomChannel(p.PIN))
			}
		}

	default:
		slog.WarnContext(ctx, "ws: unknown event", "conn_id", c.ID, "event", msg.Event)
	}

	if err != nil {
		slog.ErrorContext(ctx, "ws: handle event failed",
			"conn_id", c.ID,
			"event", msg.Event,
			"error", err,
		)
	}
}

// reply writes a direct response envelope to this connection, bypassing the
// fan-out substrate.
func (c *Conn) reply(event string, data any) {
	payload, err := json.Marshal(pubsub.Notification{Event: event, Data: data})
	if err != nil {
		slog.Error("ws: marshal reply failed", "conn_id", c.ID, "event", event, "error", err)
		return
	}

	select {
	case c.send <- payload:
	default:
		slog.Warn("ws: dropping reply for slow connection", "conn_id", c.ID)
	}
}
