package game

import (
	"context"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/domain"
)

// Create generates a session with a fresh PIN and the host registered as its
// first player. PIN uniqueness among live sessions is the store's contract.
func (s *Service) Create(ctx context.Context, quizID int64, hostNickname string) (*domain.GameSession, *domain.Player, error) {
	return s.store.CreateSession(ctx, quizID, hostNickname)
}

func (s *Service) Find(ctx context.Context, pin string) (*domain.GameSession, error) {
	return s.store.FindSessionByPIN(ctx, pin)
}

// Transition moves a session between statuses with compare-and-swap
// semantics: it fails with FailedPrecondition and changes nothing when the
// current status does not match from.
func (s *Service) Transition(ctx context.Context, pin string, from, to domain.GameStatus) error {
	return s.store.UpdateSessionStatus(ctx, pin, from, to)
}

// Start flips the session from LOBBY to ACTIVE and arms the in-memory
// runtime in its waiting phase. A duplicate start loses the compare-and-swap
// and leaves the running game untouched.
func (s *Service) Start(ctx context.Context, pin string) error {
	if err := s.Transition(ctx, pin, domain.StatusLobby, domain.StatusActive); err != nil {
		return err
	}

	s.ensureRuntime(pin)
	return nil
}

// DropConnection removes a connection from every ready set. It never fires
// the readiness gate: a player disconnecting while others gather does not
// start the game, the gate re-evaluates on the next MarkReady instead.
func (s *Service) DropConnection(connID string) {
	s.mu.RLock()
	runtimes := make([]*runtime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		runtimes = append(runtimes, rt)
	}
	s.mu.RUnlock()

	for _, rt := range runtimes {
		rt.mu.Lock()
		delete(rt.ready, connID)
		rt.mu.Unlock()
	}
}
