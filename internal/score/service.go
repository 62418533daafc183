package score

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/domain"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/event"
)

// defaultPointsPerCorrect is the flat award for a correct answer.
const defaultPointsPerCorrect = 1000

// Store is the slice of the collaborator store the scoring engine consumes.
// The correct option always comes from here, never from the client.
type Store interface {
	FindPlayerByID(ctx context.Context, id int64) (*domain.Player, error)
	FindCorrectOption(ctx context.Context, questionID int64) (*domain.Option, error)
	IncrementPlayerScore(ctx context.Context, playerID int64, delta int) (int, error)
}

type Config struct {
	Store    Store
	EventBus *event.Bus

	PointsPerCorrect int
}

type Service struct {
	store  Store
	eb     *event.Bus
	points int
}

func NewService(c Config) *Service {
	if c.PointsPerCorrect <= 0 {
		c.PointsPerCorrect = defaultPointsPerCorrect
	}

	return &Service{
		store:  c.Store,
		eb:     c.EventBus,
		points: c.PointsPerCorrect,
	}
}

type SubmitRequest struct {
	PIN        string
	PlayerID   int64
	QuestionID int64
	OptionID   int64
}

// Result is private to the submitting connection. Broadcasting it would leak
// the correct option before the leaderboard phase.
type Result struct {
	IsCorrect       bool  `json:"isCorrect"`
	ScoreAwarded    int   `json:"scoreAwarded"`
	CorrectOptionID int64 `json:"correctOptionId"`
	PlayerScore     int   `json:"playerScore"`
}

// Submit validates and scores one answer submission. A correct answer awards
// the flat amount and atomically increments the player's score in the store;
// anything else leaves the score untouched.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	player, err := s.store.FindPlayerByID(ctx, req.PlayerID)
	if err != nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("unknown player: id=%d", req.PlayerID),
			errors.WithCause(err))
	}

	correct, err := s.store.FindCorrectOption(ctx, req.QuestionID)
	if err != nil {
		// An authored quiz without a flagged correct option is a data
		// integrity problem, not a player error. No score effect.
		slog.ErrorContext(ctx, "score: no correct option configured",
			"pin", req.PIN,
			"question_id", req.QuestionID,
			"error", err,
		)
		return nil, err
	}

	isCorrect := req.OptionID == correct.ID

	awarded := 0
	total := player.Score
	if isCorrect {
		awarded = s.points
		total, err = s.store.IncrementPlayerScore(ctx, player.ID, awarded)
		if err != nil {
			return nil, err
		}

		s.eb.Publish(ctx, domain.EventScoreUpdated{
			PIN:      req.PIN,
			PlayerID: player.ID,
			Total:    total,
		})
	}

	return &Result{
		IsCorrect:       isCorrect,
		ScoreAwarded:    awarded,
		CorrectOptionID: correct.ID,
		PlayerScore:     total,
	}, nil
}

// WeightedAward computes a time-decayed award: the base amount scaled by the
// fraction of the countdown still remaining, floored to a whole score.
//
// The runtime scoring path deliberately stays flat (Submit awards the full
// amount regardless of remaining time); this helper is the hook for a
// speed-based mode.
func WeightedAward(timeLeft, totalTime time.Duration, basePoints int) int {
	if totalTime <= 0 || timeLeft <= 0 {
		return 0
	}
	if timeLeft > totalTime {
		timeLeft = totalTime
	}

	fraction := decimal.NewFromInt(int64(timeLeft)).
		Div(decimal.NewFromInt(int64(totalTime)))

	return int(decimal.NewFromInt(int64(basePoints)).Mul(fraction).IntPart())
}
