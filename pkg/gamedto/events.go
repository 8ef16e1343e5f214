package gamedto

import "time"

// ServerMessage is the websocket server → client envelope. Type is one of
// "game_started", "move_made", "game_status_changed", "deadline_warning",
// "pong", "error"; only fields relevant to the type are set.
type ServerMessage struct {
	Type   string `json:"type"`
	GameID string `json:"game_id,omitempty"`

	// game_started
	WhiteID string `json:"white_id,omitempty"`
	BlackID string `json:"black_id,omitempty"`

	// move_made
	MoveSAN  string     `json:"move_san,omitempty"`
	MoveUCI  string     `json:"move_uci,omitempty"`
	FEN      string     `json:"fen,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`

	// game_status_changed
	Status string `json:"status,omitempty"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`

	// deadline_warning, whole seconds
	TimeRemaining int64 `json:"time_remaining,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}
