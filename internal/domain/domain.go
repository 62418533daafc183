package domain

// GameStatus is the lifecycle status of a game session.
type GameStatus string

const (
	StatusLobby    GameStatus = "LOBBY"
	StatusActive   GameStatus = "ACTIVE"
	StatusFinished GameStatus = "FINISHED"
)

// Phase is the in-memory progression phase of an active game session.
type Phase string

const (
	PhaseWaiting     Phase = "waiting"
	PhaseQuestion    Phase = "question"
	PhaseLeaderboard Phase = "leaderboard"
	PhaseFinished    Phase = "finished"
)

// GameSession represents one run of a quiz from lobby to finish,
// identified by its 6-digit join PIN.
type GameSession struct {
	ID     int64
	PIN    string
	QuizID int64
	Status GameStatus
	// CurrentQuestionIndex is -1 before the first question is sent.
	CurrentQuestionIndex int
}

// Player is a participant's score record within one game session.
// The store's value is authoritative; it is never cached across a
// question boundary.
type Player struct {
	ID            int64  `json:"id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	GameSessionID int64  `json:"-"`
}

// User is an authenticated identity resolved by the collaborator store.
type User struct {
	ID   int64
	Name string
}

type Quiz struct {
	ID        int64
	Title     string
	Questions []Question
}

type Question struct {
	ID      int64
	Text    string
	Options []Option
}

type Option struct {
	ID        int64
	Text      string
	IsCorrect bool
}
