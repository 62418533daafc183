package store

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/domain"
	"github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
)

const codeUniqueViolation = "23505"

// maxPinAttempts bounds the collision-retry loop when generating a PIN.
const maxPinAttempts = 25

type Config struct {
	DB *pgxpool.Pool
}

// Store is the Postgres-backed collaborator store. The game, score and live
// services consume it through their own narrow interfaces.
type Store struct {
	db *pgxpool.Pool
}

func New(c Config) *Store {
	return &Store{db: c.DB}
}

// CreateSession creates a game session with a fresh PIN and the host as its
// first player, in one transaction. The PIN is unique among non-FINISHED
// sessions; finished games may have their PINs reused.
func (s *Store) CreateSession(ctx context.Context, quizID int64, hostNickname string) (_ *domain.GameSession, _ *domain.Player, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	pin, err := s.generatePIN(ctx, tx)
	if err != nil {
		return nil, nil, err
	}

	const insSessionStmt = `
INSERT INTO game_sessions (pin, quiz_id, status, current_question_index)
VALUES ($1, $2, 'LOBBY', -1)
RETURNING id;`

	ss := &domain.GameSession{
		PIN:                  pin,
		QuizID:               quizID,
		Status:               domain.StatusLobby,
		CurrentQuestionIndex: -1,
	}
	if err = tx.QueryRow(ctx, insSessionStmt, pin, quizID).Scan(&ss.ID); err != nil {
		return nil, nil, fmt.Errorf("insert session: %w", err)
	}

	const insPlayerStmt = `
INSERT INTO players (nickname, score, game_session_id)
VALUES ($1, 0, $2)
RETURNING id;`

	host := &domain.Player{
		Nickname:      hostNickname,
		GameSessionID: ss.ID,
	}
	if err = tx.QueryRow(ctx, insPlayerStmt, hostNickname, ss.ID).Scan(&host.ID); err != nil {
		return nil, nil, fmt.Errorf("insert host player: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	return ss, host, nil
}

// generatePIN draws 6-digit PINs until one is free among non-FINISHED sessions.
func (s *Store) generatePIN(ctx context.Context, tx pgx.Tx) (string, error) {
	const existsStmt = `
SELECT EXISTS (SELECT 1 FROM game_sessions WHERE pin = $1 AND status <> 'FINISHED');`

	for i := 0; i < maxPinAttempts; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(900000))
		if err != nil {
			return "", fmt.Errorf("generate pin: %w", err)
		}
		pin := fmt.Sprintf("%06d", n.Int64()+100000)

		var taken bool
		if err := tx.QueryRow(ctx, existsStmt, pin).Scan(&taken); err != nil {
			return "", fmt.Errorf("check pin: %w", err)
		}
		if !taken {
			return pin, nil
		}
	}

	return "", errors.New(errors.CodeInternal,
		errors.WithMessagef("could not generate a unique pin after %d attempts", maxPinAttempts))
}

func (s *Store) FindSessionByPIN(ctx context.Context, pin string) (*domain.GameSession, error) {
	const stmt = `
SELECT id, pin, quiz_id, status, current_question_index
FROM game_sessions
WHERE pin = $1
ORDER BY id DESC
LIMIT 1;`

	var ss domain.GameSession
	err := s.db.QueryRow(ctx, stmt, pin).
		Scan(&ss.ID, &ss.PIN, &ss.QuizID, &ss.Status, &ss.CurrentQuestionIndex)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("game session not found: pin=%s", pin))
	}
	if err != nil {
		return nil, err
	}

	return &ss, nil
}

// UpdateSessionStatus is a compare-and-swap on the session status. A stale
// `from` status fails with FailedPrecondition and changes nothing, which is
// what makes duplicate start_game events harmless.
func (s *Store) UpdateSessionStatus(ctx context.Context, pin string, from, to domain.GameStatus) error {
	const stmt = `UPDATE game_sessions SET status = $3 WHERE pin = $1 AND status = $2;`

	tag, err := s.db.Exec(ctx, stmt, pin, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is not in status %s", pin, from))
	}

	return nil
}

func (s *Store) SetCurrentQuestionIndex(ctx context.Context, pin string, index int) error {
	const stmt = `UPDATE game_sessions SET current_question_index = $2 WHERE pin = $1;`

	tag, err := s.db.Exec(ctx, stmt, pin, index)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("game session not found: pin=%s", pin))
	}

	return nil
}

func (s *Store) CreatePlayer(ctx context.Context, sessionID int64, nickname string) (*domain.Player, error) {
	const stmt = `
INSERT INTO players (nickname, score, game_session_id)
VALUES ($1, 0, $2)
RETURNING id;`

	p := &domain.Player{
		Nickname:      nickname,
		GameSessionID: sessionID,
	}
	err := s.db.QueryRow(ctx, stmt, nickname, sessionID).Scan(&p.ID)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("This nickname is already taken for this game."),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (s *Store) FindPlayerByID(ctx context.Context, id int64) (*domain.Player, error) {
	const stmt = `SELECT id, nickname, score, game_session_id FROM players WHERE id = $1;`

	var p domain.Player
	err := s.db.QueryRow(ctx, stmt, id).Scan(&p.ID, &p.Nickname, &p.Score, &p.GameSessionID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: id=%d", id))
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

func (s *Store) FindPlayerByNickname(ctx context.Context, sessionID int64, nickname string) (*domain.Player, error) {
	const stmt = `
SELECT id, nickname, score, game_session_id
FROM players
WHERE game_session_id = $1 AND nickname = $2;`

	var p domain.Player
	err := s.db.QueryRow(ctx, stmt, sessionID, nickname).
		Scan(&p.ID, &p.Nickname, &p.Score, &p.GameSessionID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: session=%d nickname=%s", sessionID, nickname))
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// FindPlayersBySession returns the session's players ranked by score
// descending; ties keep insertion order.
func (s *Store) FindPlayersBySession(ctx context.Context, sessionID int64) ([]domain.Player, error) {
	const stmt = `
SELECT id, nickname, score, game_session_id
FROM players
WHERE game_session_id = $1
ORDER BY score DESC, id ASC;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, err
	}

	players, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		var p domain.Player
		if err := r.Scan(&p.ID, &p.Nickname, &p.Score, &p.GameSessionID); err != nil {
			return domain.Player{}, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	return players, nil
}

func (s *Store) CountPlayersBySession(ctx context.Context, sessionID int64) (int, error) {
	const stmt = `SELECT COUNT(*) FROM players WHERE game_session_id = $1;`

	var n int
	if err := s.db.QueryRow(ctx, stmt, sessionID).Scan(&n); err != nil {
		return 0, err
	}

	return n, nil
}

// IncrementPlayerScore atomically adds delta to the player's score and
// returns the new total.
func (s *Store) IncrementPlayerScore(ctx context.Context, playerID int64, delta int) (int, error) {
	const stmt = `UPDATE players SET score = score + $2 WHERE id = $1 RETURNING score;`

	var total int
	err := s.db.QueryRow(ctx, stmt, playerID, delta).Scan(&total)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return 0, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: id=%d", playerID))
	}
	if err != nil {
		return 0, err
	}

	return total, nil
}

// FindQuizWithQuestions loads a quiz with its questions and options. The
// question order is the authoritative play order.
func (s *Store) FindQuizWithQuestions(ctx context.Context, quizID int64) (*domain.Quiz, error) {
	const quizStmt = `SELECT id, title FROM quizzes WHERE id = $1;`

	var quiz domain.Quiz
	err := s.db.QueryRow(ctx, quizStmt, quizID).Scan(&quiz.ID, &quiz.Title)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("quiz not found: id=%d", quizID))
	}
	if err != nil {
		return nil, err
	}

	const questionStmt = `
SELECT q.id, q.text, o.id, o.text, o.is_correct
FROM questions q
LEFT JOIN options o ON o.question_id = q.id
WHERE q.quiz_id = $1
ORDER BY q.id ASC, o.id ASC;`

	rows, err := s.db.Query(ctx, questionStmt, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			qID    int64
			qText  string
			oID    *int64
			oText  *string
			oRight *bool
		)
		if err := rows.Scan(&qID, &qText, &oID, &oText, &oRight); err != nil {
			return nil, err
		}

		if len(quiz.Questions) == 0 || quiz.Questions[len(quiz.Questions)-1].ID != qID {
			quiz.Questions = append(quiz.Questions, domain.Question{ID: qID, Text: qText})
		}
		if oID != nil {
			q := &quiz.Questions[len(quiz.Questions)-1]
			q.Options = append(q.Options, domain.Option{ID: *oID, Text: *oText, IsCorrect: *oRight})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &quiz, nil
}

// FindCorrectOption returns the option flagged correct for a question. The
// flag lives only in the store; clients are never trusted with it.
func (s *Store) FindCorrectOption(ctx context.Context, questionID int64) (*domain.Option, error) {
	const stmt = `
SELECT id, text, is_correct
FROM options
WHERE question_id = $1 AND is_correct = TRUE
ORDER BY id ASC
LIMIT 1;`

	var o domain.Option
	err := s.db.QueryRow(ctx, stmt, questionID).Scan(&o.ID, &o.Text, &o.IsCorrect)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no correct option configured: question=%d", questionID))
	}
	if err != nil {
		return nil, err
	}

	return &o, nil
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const stmt = `SELECT id, name FROM users WHERE id = $1;`

	var u domain.User
	err := s.db.QueryRow(ctx, stmt, id).Scan(&u.ID, &u.Name)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user not found: id=%d", id))
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}
