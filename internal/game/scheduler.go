package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/domain"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/pubsub"
)

// fireTimeout bounds the work done inside a timer callback.
const fireTimeout = 15 * time.Second

type QuestionPayload struct {
	ID             int64           `json:"id"`
	Text           string          `json:"text"`
	Options        []OptionPayload `json:"options"`
	QuestionNumber int             `json:"questionNumber"`
	TotalQuestions int             `json:"totalQuestions"`
}

// OptionPayload deliberately omits the correctness flag.
type OptionPayload struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type TimerPayload struct {
	DurationSeconds int `json:"durationSeconds"`
}

type GameOverPayload struct {
	Players []domain.Player `json:"players"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Advance drives the question cycle for a PIN: cancel any pending timer,
// step to the next question, and either publish it and arm the question
// timer, or finish the game when the quiz is exhausted. It is the single
// entry point for every phase transition, so two Advance calls for the same
// PIN can never interleave.
func (s *Service) Advance(ctx context.Context, pin string) error {
	rt := s.runtime(pin)
	if rt == nil {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("no live game for pin=%s", pin))
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	s.advanceLocked(ctx, rt, pin)
	return nil
}

func (s *Service) advanceLocked(ctx context.Context, rt *runtime, pin string) {
	s.cancelTimerLocked(rt)

	ss, err := s.store.FindSessionByPIN(ctx, pin)
	if err != nil {
		s.abortLocked(ctx, rt, pin, "Game session not found.", err)
		return
	}

	quiz, err := s.store.FindQuizWithQuestions(ctx, ss.QuizID)
	if err != nil {
		s.abortLocked(ctx, rt, pin, "Game session not found.", err)
		return
	}

	if len(quiz.Questions) == 0 {
		s.abortLocked(ctx, rt, pin, "This quiz has no questions and cannot be played.",
			fmt.Errorf("quiz %d has no questions", quiz.ID))
		return
	}

	index := ss.CurrentQuestionIndex + 1
	if err := s.store.SetCurrentQuestionIndex(ctx, pin, index); err != nil {
		s.abortLocked(ctx, rt, pin, "Error processing game progression.", err)
		return
	}

	if index >= len(quiz.Questions) {
		s.finishLocked(ctx, rt, pin, ss)
		return
	}

	q := quiz.Questions[index]
	payload := QuestionPayload{
		ID:             q.ID,
		Text:           q.Text,
		Options:        make([]OptionPayload, 0, len(q.Options)),
		QuestionNumber: index + 1,
		TotalQuestions: len(quiz.Questions),
	}
	for _, o := range q.Options {
		payload.Options = append(payload.Options, OptionPayload{ID: o.ID, Text: o.Text})
	}

	slog.InfoContext(ctx, "game: sending question",
		"pin", pin,
		"question", payload.QuestionNumber,
		"total", payload.TotalQuestions,
	)

	if err := s.bc.Publish(ctx, pin, pubsub.EventNewQuestion, payload); err != nil {
		s.abortLocked(ctx, rt, pin, "Error processing game progression.", err)
		return
	}
	if err := s.bc.Publish(ctx, pin, pubsub.EventQuestionTimer, TimerPayload{
		DurationSeconds: int(s.questionDuration / time.Second),
	}); err != nil {
		s.abortLocked(ctx, rt, pin, "Error processing game progression.", err)
		return
	}

	rt.phase = domain.PhaseQuestion
	s.armLocked(rt, pin, s.questionDuration, s.showLeaderboardLocked)
}

// showLeaderboardLocked runs when the question timer fires: publish the
// current ranking and arm the pause before the next question.
func (s *Service) showLeaderboardLocked(ctx context.Context, rt *runtime, pin string) {
	ss, err := s.store.FindSessionByPIN(ctx, pin)
	if err != nil {
		s.abortLocked(ctx, rt, pin, "Error processing game progression.", err)
		return
	}

	players, err := s.store.FindPlayersBySession(ctx, ss.ID)
	if err != nil {
		s.abortLocked(ctx, rt, pin, "Error processing game progression.", err)
		return
	}

	if err := s.bc.Publish(ctx, pin, pubsub.EventShowLeaderboard, players); err != nil {
		s.abortLocked(ctx, rt, pin, "Error processing game progression.", err)
		return
	}

	rt.phase = domain.PhaseLeaderboard
	s.armLocked(rt, pin, s.leaderboardPause, s.advanceLocked)
}

func (s *Service) finishLocked(ctx context.Context, rt *runtime, pin string, ss *domain.GameSession) {
	if err := s.store.UpdateSessionStatus(ctx, pin, domain.StatusActive, domain.StatusFinished); err != nil {
		slog.ErrorContext(ctx, "game: mark finished failed", "pin", pin, "error", err)
	}

	players, err := s.store.FindPlayersBySession(ctx, ss.ID)
	if err != nil {
		s.abortLocked(ctx, rt, pin, "Error processing game progression.", err)
		return
	}

	slog.InfoContext(ctx, "game: finished", "pin", pin, "players", len(players))

	if err := s.bc.Publish(ctx, pin, pubsub.EventGameOver, GameOverPayload{Players: players}); err != nil {
		slog.ErrorContext(ctx, "game: publish game_over failed", "pin", pin, "error", err)
	}

	rt.phase = domain.PhaseFinished
	s.evict(pin)
}

// abortLocked kills a game that can no longer progress: broadcast a fatal
// error, release the timer and drop the runtime. The session row is left in
// whatever status it had; it is dead, not FINISHED.
func (s *Service) abortLocked(ctx context.Context, rt *runtime, pin, message string, cause error) {
	slog.ErrorContext(ctx, "game: aborting cycle", "pin", pin, "error", cause)

	if err := s.bc.Publish(ctx, pin, pubsub.EventGameError, ErrorPayload{Message: message}); err != nil {
		slog.ErrorContext(ctx, "game: publish game_error failed", "pin", pin, "error", err)
	}

	s.cancelTimerLocked(rt)
	rt.phase = domain.PhaseFinished
	s.evict(pin)
}

// armLocked arms the single timer for a PIN. Bumping the epoch first means
// any previously armed callback that races its own cancellation sees a stale
// epoch and no-ops.
func (s *Service) armLocked(rt *runtime, pin string, d time.Duration, fn func(context.Context, *runtime, string)) {
	rt.epoch++
	epoch := rt.epoch
	rt.timer = s.clock.AfterFunc(d, func() {
		s.fire(pin, epoch, fn)
	})
}

func (s *Service) cancelTimerLocked(rt *runtime) {
	rt.epoch++
	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
}

// fire runs a timer callback under the PIN lock. Timer callbacks have no
// caller to report to, so every failure is contained here and surfaced to
// the room as game_error.
func (s *Service) fire(pin string, epoch uint64, fn func(context.Context, *runtime, string)) {
	rt := s.runtime(pin)
	if rt == nil {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.epoch != epoch {
		// A newer phase superseded this timer.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.abortLocked(ctx, rt, pin, "A server error occurred. The game cannot continue.",
				fmt.Errorf("timer callback panic: %v", r))
		}
	}()

	fn(ctx, rt, pin)
}
