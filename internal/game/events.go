package game

import "time"

// EventType tags a domain event emitted by the session core or the
// deadline scheduler.
type EventType string

const (
	EventGameStarted       EventType = "game_started"
	EventMoveMade          EventType = "move_made"
	EventGameStatusChanged EventType = "game_status_changed"
	EventDeadlineWarning   EventType = "deadline_warning"
)

// Event carries the per-type payload. Fields not applicable to the type
// stay zero. Events are advisory: the store is the source of truth and a
// client can always resynchronize through the query API.
type Event struct {
	Type    EventType
	GameID  string
	WhiteID string
	BlackID string

	// move_made
	Move     *Move
	FEN      string
	Deadline *time.Time

	// game_status_changed
	Status Status
	Winner Color
	Reason string

	// deadline_warning
	Remaining time.Duration
}

// Sink receives domain events. Implementations must not block: delivery is
// best-effort and never a precondition for a state change to commit.
type Sink interface {
	Publish(ev Event)
}

// Sinks fans one event out to several sinks in order.
type Sinks []Sink

func (s Sinks) Publish(ev Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(ev)
		}
	}
}
