package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/event"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/game"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/live"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/match"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/pubsub"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/score"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/store"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/telemetry"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/ws"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Game struct {
		QuestionSeconds    int
		LeaderboardSeconds int
		PointsPerCorrect   int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		store       *store.Store
		broadcaster *pubsub.Broadcaster
		game        *game.Service
		score       *score.Service
		match       *match.Queue
		live        *live.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Pubsub.Addrs,
		Password: s.c.Redis.Pubsub.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.store = store.New(store.Config{
		DB: s.infra.postgres,
	})

	s.service.broadcaster = pubsub.NewBroadcaster(pubsub.Config{
		Redis:  s.infra.redis,
		Prefix: s.c.Redis.Pubsub.Prefix,
	})

	s.service.game = game.NewService(game.Config{
		Store:            s.service.store,
		Broadcaster:      s.service.broadcaster,
		QuestionDuration: time.Duration(s.c.Game.QuestionSeconds) * time.Second,
		LeaderboardPause: time.Duration(s.c.Game.LeaderboardSeconds) * time.Second,
	})

	s.service.score = score.NewService(score.Config{
		Store:            s.service.store,
		EventBus:         s.eb,
		PointsPerCorrect: s.c.Game.PointsPerCorrect,
	})

	s.service.match = match.NewQueue()

	s.service.live = live.NewService(live.Config{
		Store:       s.service.store,
		Broadcaster: s.service.broadcaster,
		EventBus:    s.eb,
		Game:        s.service.game,
		Score:       s.service.score,
		Match:       s.service.match,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	wsHandler := ws.NewHandler(ws.Config{
		Service:     s.service.live,
		Broadcaster: s.service.broadcaster,
	})

	e.GET("/ws", wsHandler.Handle)
	e.POST("/games", s.handleCreateGame)
	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

type createGameRequest struct {
	QuizID       int64  `json:"quizId" binding:"required"`
	HostNickname string `json:"hostNickname" binding:"required"`
}

// handleCreateGame creates a session and registers the host as its first
// player. The host then attaches its websocket connection via
// player_join_room.
func (s *Server) handleCreateGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	ss, host, err := s.service.game.Create(c.Request.Context(), req.QuizID, req.HostNickname)
	if err != nil {
		e := apperrors.Convert(err)
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"pin":      ss.PIN,
		"playerId": host.ID,
	})
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()
	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
