package pubsub

// Outbound event names, the wire vocabulary clients listen on.
const (
	EventUpdatePlayerList     = "update_player_list"
	EventGameStarted          = "game_started"
	EventNewQuestion          = "new_question"
	EventQuestionTimer        = "question_timer"
	EventShowLeaderboard      = "show_leaderboard"
	EventGameOver             = "game_over"
	EventAnswerResult         = "answer_result"
	EventGameError            = "game_error"
	EventMatchFound           = "match_found"
	EventMatchmakingStatus    = "matchmaking_status"
	EventMatchmakingError     = "matchmaking_error"
	EventMatchmakingCancelled = "matchmaking_cancelled"
	EventPlayerDisconnected   = "player_disconnected"
	EventPlayerLeft           = "player_left"
)
