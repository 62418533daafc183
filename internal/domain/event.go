package domain

const EventNameScoreUpdated = "score.updated"

type EventScoreUpdated struct {
	PIN      string
	PlayerID int64
	Total    int
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }
