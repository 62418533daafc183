package game

import (
	"context"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/domain"
)

// MarkReady records that a connection reached the question screen. Re-adding
// the same connection is a no-op. When every player counted by the store is
// ready and the game is still waiting, the gate fires exactly once and hands
// the PIN to the scheduler.
//
// Start is the only creator of runtime entries: a ready signal for an
// unknown PIN, for a game still in the lobby, or for a finished or dead game
// whose entry was evicted never brings one into the arena.
//
// The player count is queried live rather than cached so a join racing the
// gate cannot leave the count stale.
func (s *Service) MarkReady(ctx context.Context, pin, connID string) error {
	ss, err := s.store.FindSessionByPIN(ctx, pin)
	if err != nil {
		return err
	}
	if ss.Status != domain.StatusActive {
		return nil
	}

	rt := s.runtime(pin)
	if rt == nil {
		// ACTIVE in the store but evicted here: the game died mid-cycle.
		return nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.phase != domain.PhaseWaiting {
		// Gate already fired for this game.
		return nil
	}

	if rt.ready == nil {
		rt.ready = make(map[string]struct{})
	}
	rt.ready[connID] = struct{}{}

	total, err := s.store.CountPlayersBySession(ctx, ss.ID)
	if err != nil {
		return err
	}

	if total == 0 || len(rt.ready) < total {
		return nil
	}

	rt.phase = domain.PhaseQuestion
	rt.ready = nil
	s.advanceLocked(ctx, rt, pin)
	return nil
}
