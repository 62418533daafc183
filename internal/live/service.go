package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/domain"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/event"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/game"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/match"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/pubsub"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/score"
)

// Store is the slice of the collaborator store the connection layer consumes.
type Store interface {
	FindSessionByPIN(ctx context.Context, pin string) (*domain.GameSession, error)
	FindPlayerByNickname(ctx context.Context, sessionID int64, nickname string) (*domain.Player, error)
	FindPlayersBySession(ctx context.Context, sessionID int64) ([]domain.Player, error)
	CreatePlayer(ctx context.Context, sessionID int64, nickname string) (*domain.Player, error)
	FindUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// Broadcaster is the fan-out substrate: room-wide and single-connection delivery.
type Broadcaster interface {
	Publish(ctx context.Context, pin, event string, data any) error
	PublishTo(ctx context.Context, connID, event string, data any) error
}

type Config struct {
	Store       Store
	Broadcaster Broadcaster
	EventBus    *event.Bus
	Game        *game.Service
	Score       *score.Service
	Match       *match.Queue
}

// Service binds transport connections to participant identities and routes
// every inbound client event to the right component. One participant entry
// lives exactly as long as its physical connection; reconnecting resolves
// the same player record through JoinRoom.
type Service struct {
	store Store
	bc    Broadcaster
	eb    *event.Bus
	game  *game.Service
	score *score.Service
	match *match.Queue

	mu           sync.RWMutex
	participants map[string]participant
}

type participant struct {
	userID   int64
	userName string
	playerID int64
	pin      string
	nickname string
}

func NewService(c Config) *Service {
	s := &Service{
		store:        c.Store,
		bc:           c.Broadcaster,
		eb:           c.EventBus,
		game:         c.Game,
		score:        c.Score,
		match:        c.Match,
		participants: make(map[string]participant),
	}

	// A score change means the room's ranked player list is stale.
	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.publishPlayerList(ctx, e.(domain.EventScoreUpdated).PIN)
	})

	return s
}

func (s *Service) participant(connID string) (participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[connID]
	return p, ok
}

// bind creates or mutates the participant entry for a connection. Only the
// identity-establishing calls use it; everything else must not grow the map.
func (s *Service) bind(connID string, fn func(p *participant)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participants[connID]
	fn(&p)
	s.participants[connID] = p
}

// update mutates an existing entry and reports whether one was present.
func (s *Service) update(connID string, fn func(p *participant)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return false
	}
	fn(&p)
	s.participants[connID] = p
	return true
}

// Authenticate links a stored user identity to this connection. Matchmaking
// requires it; joining a game by PIN does not.
func (s *Service) Authenticate(ctx context.Context, connID string, userID int64) error {
	u, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}

	s.bind(connID, func(p *participant) {
		p.userID = u.ID
		p.userName = u.Name
	})

	slog.InfoContext(ctx, "live: connection authenticated", "conn_id", connID, "user", u.Name)
	return nil
}

// JoinRoom attaches a connection to an existing player record, used by the
// host after creating a session and by disconnected players rejoining with
// the same nickname. It never creates a player.
func (s *Service) JoinRoom(ctx context.Context, connID, pin, nickname string) error {
	ss, err := s.store.FindSessionByPIN(ctx, pin)
	if err != nil {
		return err
	}

	player, err := s.store.FindPlayerByNickname(ctx, ss.ID, nickname)
	if err != nil {
		return err
	}

	s.bind(connID, func(p *participant) {
		p.playerID = player.ID
		p.pin = pin
		p.nickname = nickname
	})

	return s.publishPlayerList(ctx, pin)
}

// PlayerJoin creates a player record in a lobby and attaches the connection
// to it. Joining after the game left the lobby, or with a nickname already
// taken in this session, is rejected.
func (s *Service) PlayerJoin(ctx context.Context, connID, pin, nickname string) (int64, error) {
	ss, err := s.store.FindSessionByPIN(ctx, pin)
	if err != nil {
		return 0, errors.New(errors.CodeNotFound,
			errors.WithMessagef("Game not found or has already started"),
			errors.WithCause(err))
	}
	if ss.Status != domain.StatusLobby {
		return 0, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("Game not found or has already started"))
	}

	player, err := s.store.CreatePlayer(ctx, ss.ID, nickname)
	if err != nil {
		return 0, err
	}

	s.bind(connID, func(p *participant) {
		p.playerID = player.ID
		p.pin = pin
		p.nickname = nickname
	})

	if err := s.publishPlayerList(ctx, pin); err != nil {
		slog.ErrorContext(ctx, "live: publish player list failed", "pin", pin, "error", err)
	}

	return player.ID, nil
}

// StartGame is the host's intent to leave the lobby. The LOBBY to ACTIVE
// compare-and-swap makes re-sent starts harmless: the loser of the swap only
// triggers a room-wide error message, never a second game.
func (s *Service) StartGame(ctx context.Context, connID, pin string) error {
	if err := s.game.Start(ctx, pin); err != nil {
		slog.ErrorContext(ctx, "live: start game rejected", "pin", pin, "error", err)
		return s.bc.Publish(ctx, pin, pubsub.EventGameError, game.ErrorPayload{
			Message: "Game cannot be started. It may have already started or finished.",
		})
	}

	slog.InfoContext(ctx, "live: game started, waiting for ready players", "pin", pin)
	return s.bc.Publish(ctx, pin, pubsub.EventGameStarted, nil)
}

// Ready signals that this connection is on the battle screen.
func (s *Service) Ready(ctx context.Context, connID, pin string) error {
	return s.game.MarkReady(ctx, pin, connID)
}

// SubmitAnswer scores an answer for the player bound to this connection and
// sends the result privately. A quiz with no flagged correct option fails
// silently: logged, no score effect, nothing emitted.
func (s *Service) SubmitAnswer(ctx context.Context, connID, pin string, questionID, optionID int64) error {
	p, ok := s.participant(connID)
	if !ok || p.playerID == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("no player bound to this connection"))
	}

	result, err := s.score.Submit(ctx, score.SubmitRequest{
		PIN:        pin,
		PlayerID:   p.playerID,
		QuestionID: questionID,
		OptionID:   optionID,
	})
	if err != nil {
		return err
	}

	return s.bc.PublishTo(ctx, connID, pubsub.EventAnswerResult, result)
}

type MatchFoundPayload struct {
	Opponent string `json:"opponent"`
}

type MatchStatusPayload struct {
	Message   string `json:"message"`
	QueueSize int    `json:"queueSize"`
}

// FindMatch queues an authenticated user for an ad-hoc head-to-head game.
// The moment two users are waiting, both get match_found with the opponent's
// name and the queue is drained.
func (s *Service) FindMatch(ctx context.Context, connID string) error {
	p, ok := s.participant(connID)
	if !ok || p.userID == 0 {
		return s.bc.PublishTo(ctx, connID, pubsub.EventMatchmakingError, game.ErrorPayload{
			Message: "User not authenticated",
		})
	}

	pair, size, err := s.match.Enqueue(match.Entry{
		ConnID:   connID,
		UserID:   p.userID,
		UserName: p.userName,
	})
	if err != nil {
		return s.bc.PublishTo(ctx, connID, pubsub.EventMatchmakingError, game.ErrorPayload{
			Message: errors.Convert(err).Message,
		})
	}

	if pair == nil {
		return s.bc.PublishTo(ctx, connID, pubsub.EventMatchmakingStatus, MatchStatusPayload{
			Message:   "Searching for opponent...",
			QueueSize: size,
		})
	}

	slog.InfoContext(ctx, "live: match created",
		"player1", pair[0].UserName,
		"player2", pair[1].UserName,
	)

	if err := s.bc.PublishTo(ctx, pair[0].ConnID, pubsub.EventMatchFound, MatchFoundPayload{Opponent: pair[1].UserName}); err != nil {
		return err
	}
	return s.bc.PublishTo(ctx, pair[1].ConnID, pubsub.EventMatchFound, MatchFoundPayload{Opponent: pair[0].UserName})
}

// CancelMatch removes this connection from the queue, acknowledging only if
// it was actually waiting.
func (s *Service) CancelMatch(ctx context.Context, connID string) error {
	if _, ok := s.match.Dequeue(connID); !ok {
		return nil
	}

	return s.bc.PublishTo(ctx, connID, pubsub.EventMatchmakingCancelled, nil)
}

type PlayerLeftPayload struct {
	ConnectionID string `json:"connectionId"`
}

// LeaveGame detaches the connection from its room. The player record and its
// score stay in the store.
func (s *Service) LeaveGame(ctx context.Context, connID, pin string) error {
	// An unknown connection has nothing to detach; don't invent an entry.
	s.update(connID, func(p *participant) {
		p.playerID = 0
		p.pin = ""
		p.nickname = ""
	})

	return s.bc.Publish(ctx, pin, pubsub.EventPlayerLeft, PlayerLeftPayload{ConnectionID: connID})
}

type DisconnectedPayload struct {
	Nickname string `json:"nickname"`
	PlayerID int64  `json:"playerId"`
}

// Disconnect cleans up after a dropped connection: ready sets, the
// matchmaking queue and the participant binding. The underlying player
// record survives so the player stays on the leaderboard and can rejoin
// with the same nickname.
func (s *Service) Disconnect(ctx context.Context, connID string) {
	s.game.DropConnection(connID)

	if e, ok := s.match.Dequeue(connID); ok {
		slog.InfoContext(ctx, "live: removed disconnected user from matchmaking", "user", e.UserName)
	}

	s.mu.Lock()
	p, ok := s.participants[connID]
	delete(s.participants, connID)
	s.mu.Unlock()

	if !ok || p.pin == "" {
		return
	}

	if err := s.bc.Publish(ctx, p.pin, pubsub.EventPlayerDisconnected, DisconnectedPayload{
		Nickname: p.nickname,
		PlayerID: p.playerID,
	}); err != nil {
		slog.ErrorContext(ctx, "live: publish disconnect failed", "pin", p.pin, "error", err)
	}
}

func (s *Service) publishPlayerList(ctx context.Context, pin string) error {
	ss, err := s.store.FindSessionByPIN(ctx, pin)
	if err != nil {
		return err
	}

	players, err := s.store.FindPlayersBySession(ctx, ss.ID)
	if err != nil {
		return err
	}

	return s.bc.Publish(ctx, pin, pubsub.EventUpdatePlayerList, players)
}
