package game

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/domain"
)

const (
	defaultQuestionDuration = 15 * time.Second
	defaultLeaderboardPause = 10 * time.Second
)

// Store is the slice of the collaborator store the game core consumes.
// Session status and question index live there; the in-memory runtime below
// only tracks phase, timers and readiness.
type Store interface {
	CreateSession(ctx context.Context, quizID int64, hostNickname string) (*domain.GameSession, *domain.Player, error)
	FindSessionByPIN(ctx context.Context, pin string) (*domain.GameSession, error)
	UpdateSessionStatus(ctx context.Context, pin string, from, to domain.GameStatus) error
	SetCurrentQuestionIndex(ctx context.Context, pin string, index int) error
	FindPlayersBySession(ctx context.Context, sessionID int64) ([]domain.Player, error)
	CountPlayersBySession(ctx context.Context, sessionID int64) (int, error)
	FindQuizWithQuestions(ctx context.Context, quizID int64) (*domain.Quiz, error)
}

// Broadcaster delivers an event to every connection in a PIN's room.
type Broadcaster interface {
	Publish(ctx context.Context, pin, event string, data any) error
}

type Config struct {
	Store       Store
	Broadcaster Broadcaster

	// Clock drives question and leaderboard timers. Defaults to the real
	// clock; tests inject a fake.
	Clock clockwork.Clock

	QuestionDuration time.Duration
	LeaderboardPause time.Duration
}

// Service owns all live game state keyed by PIN: the session registry, the
// readiness gate and the question scheduler. Everything touching one PIN is
// serialized behind that PIN's runtime lock; distinct PINs are independent.
type Service struct {
	store Store
	bc    Broadcaster
	clock clockwork.Clock

	questionDuration time.Duration
	leaderboardPause time.Duration

	mu       sync.RWMutex
	runtimes map[string]*runtime
}

// runtime is the per-PIN arena entry: created when a game starts, removed
// when it finishes or dies. At most one timer is live per entry; arming a
// new one always bumps the epoch so a stale callback no-ops.
type runtime struct {
	mu    sync.Mutex
	phase domain.Phase
	epoch uint64
	timer clockwork.Timer
	ready map[string]struct{}
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.QuestionDuration <= 0 {
		c.QuestionDuration = defaultQuestionDuration
	}
	if c.LeaderboardPause <= 0 {
		c.LeaderboardPause = defaultLeaderboardPause
	}

	return &Service{
		store:            c.Store,
		bc:               c.Broadcaster,
		clock:            c.Clock,
		questionDuration: c.QuestionDuration,
		leaderboardPause: c.LeaderboardPause,
		runtimes:         make(map[string]*runtime),
	}
}

func (s *Service) ensureRuntime(pin string) *runtime {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.runtimes[pin]
	if !ok {
		rt = &runtime{
			phase: domain.PhaseWaiting,
			ready: make(map[string]struct{}),
		}
		s.runtimes[pin] = rt
	}

	return rt
}

func (s *Service) runtime(pin string) *runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.runtimes[pin]
}

func (s *Service) evict(pin string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runtimes, pin)
}

// Phase reports the in-memory phase for a PIN, if the game is live.
func (s *Service) Phase(pin string) (domain.Phase, bool) {
	rt := s.runtime(pin)
	if rt == nil {
		return "", false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.phase, true
}
