package gamedto

import "time"

// Game is the wire form of a game row.
type Game struct {
	ID           string     `json:"id"`
	WhiteID      string     `json:"white_id"`
	BlackID      string     `json:"black_id"`
	FEN          string     `json:"fen"`
	Status       string     `json:"status"`
	Turn         string     `json:"turn"`
	MoveDeadline *time.Time `json:"move_deadline,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Move carries both encodings plus the position snapshots around the move,
// enough for an exporter to rebuild a transcript without replaying rules.
type Move struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	Number    int       `json:"number"`
	Color     string    `json:"color"`
	UCI       string    `json:"uci"`
	SAN       string    `json:"san"`
	FENBefore string    `json:"fen_before"`
	FENAfter  string    `json:"fen_after"`
	PlayedAt  time.Time `json:"played_at"`
}

type GameResponse struct {
	Game  Game   `json:"game"`
	Moves []Move `json:"moves,omitempty"`
}

type GameListResponse struct {
	Games []Game `json:"games"`
}

type MoveResponse struct {
	Move Move `json:"move"`
	Game Game `json:"game"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
