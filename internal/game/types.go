package game

import (
	"time"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opposite returns the other side.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// Status represents a game lifecycle state. Every state other than
// StatusActive is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusWhiteWon  Status = "white_won"
	StatusBlackWon  Status = "black_won"
	StatusDraw      Status = "draw"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s != StatusActive }

// WinFor returns the winning status for the given color.
func WinFor(c Color) Status {
	if c == White {
		return StatusWhiteWon
	}
	return StatusBlackWon
}

// Game is the persisted state of a correspondence match. Status, turn and
// deadline are only ever mutated together inside a store transaction.
// Invariants: status == active exactly when MoveDeadline is set and
// CompletedAt unset;
// WhiteID never equals BlackID; Turn always matches the side-to-move
// encoded in FEN.
type Game struct {
	ID           string     `json:"id"`
	WhiteID      string     `json:"white_id"`
	BlackID      string     `json:"black_id"`
	FEN          string     `json:"fen"`
	Status       Status     `json:"status"`
	Turn         Color      `json:"turn"`
	MoveDeadline *time.Time `json:"move_deadline,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Player returns the color the user plays in this game, or "" when the
// user is not a participant.
func (g *Game) Player(userID string) Color {
	switch userID {
	case g.WhiteID:
		return White
	case g.BlackID:
		return Black
	default:
		return ""
	}
}

// Opponent returns the user id of the other participant.
func (g *Game) Opponent(userID string) string {
	if g.WhiteID == userID {
		return g.BlackID
	}
	if g.BlackID == userID {
		return g.WhiteID
	}
	return ""
}

// Move is an append-only record of one half-move. Number follows the
// shared full-move counting scheme: one entry per color per number.
type Move struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	Number    int       `json:"number"`
	Color     Color     `json:"color"`
	UCI       string    `json:"uci"`
	SAN       string    `json:"san"`
	FENBefore string    `json:"fen_before"`
	FENAfter  string    `json:"fen_after"`
	PlayedAt  time.Time `json:"played_at"`
}

// MoveResult is returned by SubmitMove: the committed move record plus the
// updated game state.
type MoveResult struct {
	Move *Move
	Game *Game
}
