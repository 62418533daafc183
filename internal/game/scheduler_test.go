package game_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/domain"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/game"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/pubsub"
)

const (
	testPIN         = "482913"
	questionTime    = 15 * time.Second
	leaderboardTime = 10 * time.Second
)

func TestService_Start_DuplicateStart(t *testing.T) {
	fs := newFakeStore(twoQuestionQuiz(), 2)
	svc, _, _ := makeService(t, fs)

	require.NoError(t, svc.Start(context.Background(), testPIN))

	err := svc.Start(context.Background(), testPIN)
	require.Error(t, err, "second start should lose the compare-and-swap")
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	require.Equal(t, domain.StatusActive, fs.status(), "duplicate start must not disturb the running game")
}

func TestService_ReadinessGate(t *testing.T) {
	t.Run("fires only when every player is ready", func(t *testing.T) {
		fs := newFakeStore(twoQuestionQuiz(), 2)
		svc, rec, _ := makeService(t, fs)
		ctx := context.Background()

		require.NoError(t, svc.Start(ctx, testPIN))

		require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
		require.Zero(t, rec.count(pubsub.EventNewQuestion), "one of two players is not enough")

		// Re-adding the same connection is a no-op.
		require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
		require.Zero(t, rec.count(pubsub.EventNewQuestion))

		require.NoError(t, svc.MarkReady(ctx, testPIN, "c2"))
		require.Equal(t, 1, rec.count(pubsub.EventNewQuestion), "gate should fire once all players are ready")

		phase, ok := svc.Phase(testPIN)
		require.True(t, ok)
		require.Equal(t, domain.PhaseQuestion, phase)
	})

	t.Run("fires at most once", func(t *testing.T) {
		fs := newFakeStore(twoQuestionQuiz(), 1)
		svc, rec, _ := makeService(t, fs)
		ctx := context.Background()

		require.NoError(t, svc.Start(ctx, testPIN))
		require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
		require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
		require.NoError(t, svc.MarkReady(ctx, testPIN, "c2"))

		require.Equal(t, 1, rec.count(pubsub.EventNewQuestion), "re-entrant ready calls after firing are ignored")
	})

	t.Run("never fires before the game is started", func(t *testing.T) {
		fs := newFakeStore(twoQuestionQuiz(), 1)
		svc, rec, _ := makeService(t, fs)

		require.NoError(t, svc.MarkReady(context.Background(), testPIN, "c1"))
		require.Zero(t, rec.count(pubsub.EventNewQuestion))

		_, ok := svc.Phase(testPIN)
		require.False(t, ok, "a lobby ready signal must not enter the arena")
	})

	t.Run("unknown PIN never enters the arena", func(t *testing.T) {
		fs := newFakeStore(twoQuestionQuiz(), 1)
		svc, _, _ := makeService(t, fs)

		err := svc.MarkReady(context.Background(), "999999", "c1")
		require.Error(t, err)
		require.True(t, errors.Is(err, errors.CodeNotFound))

		_, ok := svc.Phase("999999")
		require.False(t, ok)
	})

	t.Run("does not revive a finished game", func(t *testing.T) {
		quiz := twoQuestionQuiz()
		quiz.Questions = quiz.Questions[:1]
		fs := newFakeStore(quiz, 1)
		svc, rec, clock := makeService(t, fs)
		ctx := context.Background()

		require.NoError(t, svc.Start(ctx, testPIN))
		require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
		require.Equal(t, 1, rec.count(pubsub.EventNewQuestion))

		clock.BlockUntil(1)
		clock.Advance(questionTime)
		require.Eventually(t, func() bool { return rec.count(pubsub.EventShowLeaderboard) == 1 },
			time.Second, 10*time.Millisecond)

		clock.BlockUntil(1)
		clock.Advance(leaderboardTime)
		require.Eventually(t, func() bool { return rec.count(pubsub.EventGameOver) == 1 },
			time.Second, 10*time.Millisecond)
		require.Equal(t, domain.StatusFinished, fs.status())

		require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
		_, ok := svc.Phase(testPIN)
		require.False(t, ok, "a stray ready signal must not rebuild the evicted entry")
		require.Equal(t, 1, rec.count(pubsub.EventNewQuestion))
	})

	t.Run("disconnect does not fire the gate", func(t *testing.T) {
		fs := newFakeStore(twoQuestionQuiz(), 2)
		svc, rec, _ := makeService(t, fs)
		ctx := context.Background()

		require.NoError(t, svc.Start(ctx, testPIN))
		require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))

		// Second player drops out; only the next MarkReady re-evaluates.
		fs.removePlayer(2)
		svc.DropConnection("c2")
		require.Zero(t, rec.count(pubsub.EventNewQuestion))

		require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
		require.Equal(t, 1, rec.count(pubsub.EventNewQuestion))
	})
}

// TestService_FullCycle walks a two-question game from ready gate to
// game_over: question, timer, leaderboard, pause, next question, finish.
func TestService_FullCycle(t *testing.T) {
	fs := newFakeStore(twoQuestionQuiz(), 2)
	svc, rec, clock := makeService(t, fs)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, testPIN))
	require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
	require.NoError(t, svc.MarkReady(ctx, testPIN, "c2"))

	// Question 1 of 2 goes out with its countdown, options stripped of the
	// correctness flag by construction of the payload type.
	require.Equal(t, 1, rec.count(pubsub.EventNewQuestion))
	q := rec.lastData(pubsub.EventNewQuestion).(game.QuestionPayload)
	require.Equal(t, 1, q.QuestionNumber)
	require.Equal(t, 2, q.TotalQuestions)
	require.Len(t, q.Options, 2)
	timer := rec.lastData(pubsub.EventQuestionTimer).(game.TimerPayload)
	require.Equal(t, 15, timer.DurationSeconds)

	// Player 2 answers correctly while the countdown runs.
	fs.setScore(2, 1000)

	clock.BlockUntil(1)
	clock.Advance(questionTime)
	require.Eventually(t, func() bool { return rec.count(pubsub.EventShowLeaderboard) == 1 },
		time.Second, 10*time.Millisecond)

	board := rec.lastData(pubsub.EventShowLeaderboard).([]domain.Player)
	require.Equal(t, int64(2), board[0].ID, "leaderboard is ranked by score descending")
	require.Equal(t, 1000, board[0].Score)

	clock.BlockUntil(1)
	clock.Advance(leaderboardTime)
	require.Eventually(t, func() bool { return rec.count(pubsub.EventNewQuestion) == 2 },
		time.Second, 10*time.Millisecond)

	q = rec.lastData(pubsub.EventNewQuestion).(game.QuestionPayload)
	require.Equal(t, 2, q.QuestionNumber)

	clock.BlockUntil(1)
	clock.Advance(questionTime)
	require.Eventually(t, func() bool { return rec.count(pubsub.EventShowLeaderboard) == 2 },
		time.Second, 10*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(leaderboardTime)
	require.Eventually(t, func() bool { return rec.count(pubsub.EventGameOver) == 1 },
		time.Second, 10*time.Millisecond)

	over := rec.lastData(pubsub.EventGameOver).(game.GameOverPayload)
	require.Equal(t, int64(2), over.Players[0].ID, "final ranking is by score descending")
	require.Equal(t, domain.StatusFinished, fs.status())

	_, ok := svc.Phase(testPIN)
	require.False(t, ok, "finished game is evicted from the registry")

	require.Equal(t, []int{0, 1, 2}, fs.indexWrites(), "question index advances by exactly one per step")
	require.Zero(t, rec.count(pubsub.EventGameError))
}

// TestService_EmptyQuiz covers the data-integrity abort: a quiz with zero
// questions kills the cycle with game_error and never sends a question.
func TestService_EmptyQuiz(t *testing.T) {
	quiz := twoQuestionQuiz()
	quiz.Questions = nil
	fs := newFakeStore(quiz, 1)
	svc, rec, _ := makeService(t, fs)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, testPIN))
	require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))

	require.Equal(t, 1, rec.count(pubsub.EventGameError))
	require.Zero(t, rec.count(pubsub.EventNewQuestion))

	require.NotEqual(t, domain.StatusFinished, fs.status(), "a dead game is not FINISHED")
	_, ok := svc.Phase(testPIN)
	require.False(t, ok, "dead game is evicted from the registry")
}

// TestService_AdvanceCancelsPendingTimer exercises the single-timer
// invariant: a racing advance during the question phase supersedes the
// armed countdown, so the old timer firing must not produce a second
// leaderboard.
func TestService_AdvanceCancelsPendingTimer(t *testing.T) {
	fs := newFakeStore(twoQuestionQuiz(), 1)
	svc, rec, clock := makeService(t, fs)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, testPIN))
	require.NoError(t, svc.MarkReady(ctx, testPIN, "c1"))
	require.Equal(t, 1, rec.count(pubsub.EventNewQuestion))

	// Racing trigger while question 1's countdown is pending.
	require.NoError(t, svc.Advance(ctx, testPIN))
	require.Equal(t, 2, rec.count(pubsub.EventNewQuestion))

	clock.BlockUntil(1)
	clock.Advance(questionTime)
	require.Eventually(t, func() bool { return rec.count(pubsub.EventShowLeaderboard) >= 1 },
		time.Second, 10*time.Millisecond)

	require.Equal(t, 1, rec.count(pubsub.EventShowLeaderboard),
		"the superseded timer must not fire a second leaderboard")
	require.Equal(t, []int{0, 1}, fs.indexWrites())
}

func TestService_Advance_UnknownPIN(t *testing.T) {
	fs := newFakeStore(twoQuestionQuiz(), 1)
	svc, _, _ := makeService(t, fs)

	err := svc.Advance(context.Background(), "000000")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeNotFound))
}

func makeService(t *testing.T, fs *fakeStore) (*game.Service, *recorder, *clockwork.FakeClock) {
	t.Helper()

	rec := &recorder{}
	clock := clockwork.NewFakeClock()

	svc := game.NewService(game.Config{
		Store:            fs,
		Broadcaster:      rec,
		Clock:            clock,
		QuestionDuration: questionTime,
		LeaderboardPause: leaderboardTime,
	})

	return svc, rec, clock
}

func twoQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    7,
		Title: "capitals",
		Questions: []domain.Question{
			{
				ID:   11,
				Text: "Capital of Rwanda?",
				Options: []domain.Option{
					{ID: 111, Text: "Kigali", IsCorrect: true},
					{ID: 112, Text: "Kampala"},
				},
			},
			{
				ID:   12,
				Text: "Capital of Kenya?",
				Options: []domain.Option{
					{ID: 121, Text: "Mombasa"},
					{ID: 122, Text: "Nairobi", IsCorrect: true},
				},
			},
		},
	}
}

// fakeStore is an in-memory stand-in for the collaborator store, seeded with
// one session and its players.
type fakeStore struct {
	mu      sync.Mutex
	session domain.GameSession
	quiz    domain.Quiz
	players []domain.Player
	indexes []int
}

func newFakeStore(quiz domain.Quiz, playerCount int) *fakeStore {
	fs := &fakeStore{
		session: domain.GameSession{
			ID:                   1,
			PIN:                  testPIN,
			QuizID:               quiz.ID,
			Status:               domain.StatusLobby,
			CurrentQuestionIndex: -1,
		},
		quiz: quiz,
	}

	for i := 0; i < playerCount; i++ {
		fs.players = append(fs.players, domain.Player{
			ID:            int64(i + 1),
			Nickname:      string(rune('a' + i)),
			GameSessionID: 1,
		})
	}

	return fs
}

func (f *fakeStore) status() domain.GameStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.Status
}

func (f *fakeStore) indexWrites() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.indexes...)
}

func (f *fakeStore) setScore(playerID int64, score int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.players {
		if f.players[i].ID == playerID {
			f.players[i].Score = score
		}
	}
}

func (f *fakeStore) removePlayer(playerID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.players {
		if f.players[i].ID == playerID {
			f.players = append(f.players[:i], f.players[i+1:]...)
			return
		}
	}
}

func (f *fakeStore) CreateSession(_ context.Context, quizID int64, hostNickname string) (*domain.GameSession, *domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ss := f.session
	host := domain.Player{ID: 1, Nickname: hostNickname, GameSessionID: ss.ID}
	return &ss, &host, nil
}

func (f *fakeStore) FindSessionByPIN(_ context.Context, pin string) (*domain.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pin != f.session.PIN {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("game session not found: pin=%s", pin))
	}
	ss := f.session
	return &ss, nil
}

func (f *fakeStore) UpdateSessionStatus(_ context.Context, pin string, from, to domain.GameStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pin != f.session.PIN || f.session.Status != from {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is not in status %s", pin, from))
	}
	f.session.Status = to
	return nil
}

func (f *fakeStore) SetCurrentQuestionIndex(_ context.Context, pin string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pin != f.session.PIN {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("game session not found: pin=%s", pin))
	}
	f.session.CurrentQuestionIndex = index
	f.indexes = append(f.indexes, index)
	return nil
}

func (f *fakeStore) FindPlayersBySession(_ context.Context, sessionID int64) ([]domain.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	players := append([]domain.Player(nil), f.players...)
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].ID < players[j].ID
	})
	return players, nil
}

func (f *fakeStore) CountPlayersBySession(_ context.Context, sessionID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.players), nil
}

func (f *fakeStore) FindQuizWithQuestions(_ context.Context, quizID int64) (*domain.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if quizID != f.quiz.ID {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: id=%d", quizID))
	}
	quiz := f.quiz
	return &quiz, nil
}

type publication struct {
	pin   string
	event string
	data  any
}

// recorder captures broadcasts in publish order.
type recorder struct {
	mu     sync.Mutex
	events []publication
}

func (r *recorder) Publish(_ context.Context, pin, event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publication{pin: pin, event: event, data: data})
	return nil
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) lastData(event string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].event == event {
			return r.events[i].data
		}
	}
	return nil
}
