package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/pubsub"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/ws"
)

type harness struct {
	bc      *pubsub.Broadcaster
	redis   *redis.Client
	service *fakeService
	server  *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bc := pubsub.NewBroadcaster(pubsub.Config{Redis: client, Prefix: "quiz"})
	svc := &fakeService{bc: bc, redis: client}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := ws.NewHandler(ws.Config{Service: svc, Broadcaster: bc})
	router.GET("/ws", h.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &harness{bc: bc, redis: client, service: svc, server: srv}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// waitSubscribed blocks until the channel has the expected subscriber count,
// so a publish cannot race the subscription handshake.
func (h *harness) waitSubscribed(t *testing.T, channel string, n int64) {
	t.Helper()

	require.Eventually(t, func() bool {
		counts, err := h.redis.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && counts[channel] == n
	}, time.Second, 10*time.Millisecond)
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func read(t *testing.T, conn *websocket.Conn) pubsub.Notification {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var n pubsub.Notification
	require.NoError(t, json.Unmarshal(raw, &n))
	return n
}

// readUntil reads frames until the wanted event arrives. The direct ack and
// the fan-out broadcasts have no fixed relative order.
func readUntil(t *testing.T, conn *websocket.Conn, event string) pubsub.Notification {
	t.Helper()

	for i := 0; i < 10; i++ {
		n := read(t, conn)
		if n.Event == event {
			return n
		}
	}

	t.Fatalf("no %s frame within 10 reads", event)
	return pubsub.Notification{}
}

func TestHandler_PlayerJoin(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, "player_join", map[string]any{"pin": "482913", "nickname": "ben"})

	ack := readUntil(t, conn, "player_join_ack")
	data := ack.Data.(map[string]any)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, float64(42), data["playerId"])

	// The join subscribed this connection to the room, so room broadcasts now
	// reach the socket.
	h.waitSubscribed(t, h.bc.RoomChannel("482913"), 1)
	require.NoError(t, h.bc.Publish(context.Background(), "482913", "game_started", nil))

	n := readUntil(t, conn, "game_started")
	assert.Equal(t, "game_started", n.Event)
}

// TestHandler_PlayerJoin_ReceivesOwnListBroadcast pins down the subscribe
// ordering: the room subscription must be in place before the join runs, so
// the first joiner receives the update_player_list its own join triggered.
func TestHandler_PlayerJoin_ReceivesOwnListBroadcast(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, "player_join", map[string]any{"pin": "482913", "nickname": "ben"})

	list := readUntil(t, conn, "update_player_list")
	players := list.Data.([]any)
	require.Len(t, players, 1)
	assert.Equal(t, "ben", players[0].(map[string]any)["nickname"])
}

func TestHandler_PlayerJoin_Rejected(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, "player_join", map[string]any{"pin": "000000", "nickname": "ben"})

	ack := readUntil(t, conn, "player_join_ack")
	data := ack.Data.(map[string]any)
	assert.Equal(t, false, data["success"])
	assert.Equal(t, "Game not found or has already started", data["message"])

	// A rejected join must not leave the connection subscribed to the room.
	h.waitSubscribed(t, h.bc.RoomChannel("000000"), 0)
}

func TestHandler_PrivateChannel(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, "player_join", map[string]any{"pin": "482913", "nickname": "ben"})
	readUntil(t, conn, "player_join_ack")

	connID := h.service.lastConnID()
	require.NotEmpty(t, connID)

	h.waitSubscribed(t, h.bc.ConnChannel(connID), 1)
	require.NoError(t, h.bc.PublishTo(context.Background(), connID, "answer_result", map[string]any{"isCorrect": true}))

	n := readUntil(t, conn, "answer_result")
	assert.Equal(t, "answer_result", n.Event)
}

func TestHandler_MalformedMessage(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	// Garbage must not kill the connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	send(t, conn, "player_join", map[string]any{"pin": "482913", "nickname": "ben"})
	ack := readUntil(t, conn, "player_join_ack")
	assert.Equal(t, "player_join_ack", ack.Event)
}

func TestHandler_Disconnect(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, "player_join", map[string]any{"pin": "482913", "nickname": "ben"})
	readUntil(t, conn, "player_join_ack")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return h.service.disconnected() == h.service.lastConnID()
	}, time.Second, 10*time.Millisecond)
}

// fakeService accepts joins for PIN 482913, broadcasting the room's player
// list the way the production service does, and rejects everything else.
type fakeService struct {
	bc    *pubsub.Broadcaster
	redis *redis.Client

	mu         sync.Mutex
	connID     string
	disconnect string
}

func (f *fakeService) lastConnID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connID
}

func (f *fakeService) disconnected() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnect
}

func (f *fakeService) Authenticate(_ context.Context, connID string, userID int64) error { return nil }

func (f *fakeService) JoinRoom(_ context.Context, connID, pin, nickname string) error { return nil }

func (f *fakeService) PlayerJoin(ctx context.Context, connID, pin, nickname string) (int64, error) {
	f.mu.Lock()
	f.connID = connID
	f.mu.Unlock()

	if pin != "482913" {
		return 0, errors.New(errors.CodeNotFound,
			errors.WithMessagef("Game not found or has already started"))
	}

	// The subscribe command is already in flight when the service runs; wait
	// for it to land so the broadcast below cannot outrun it in this
	// in-process setup.
	channel := f.bc.RoomChannel(pin)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		counts, err := f.redis.PubSubNumSub(ctx, channel).Result()
		if err == nil && counts[channel] > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := f.bc.Publish(ctx, pin, "update_player_list", []map[string]any{{"nickname": nickname}}); err != nil {
		return 0, err
	}

	return 42, nil
}

func (f *fakeService) StartGame(_ context.Context, connID, pin string) error { return nil }

func (f *fakeService) Ready(_ context.Context, connID, pin string) error { return nil }

func (f *fakeService) SubmitAnswer(_ context.Context, connID, pin string, questionID, optionID int64) error {
	return nil
}

func (f *fakeService) FindMatch(_ context.Context, connID string) error { return nil }

func (f *fakeService) CancelMatch(_ context.Context, connID string) error { return nil }

func (f *fakeService) LeaveGame(_ context.Context, connID, pin string) error { return nil }

func (f *fakeService) Disconnect(_ context.Context, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnect = connID
}
