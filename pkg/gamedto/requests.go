package gamedto

// CreateGameRequest starts a new correspondence game against an opponent.
// Color is the initiator's side: "white", "black", or "random" (default).
type CreateGameRequest struct {
	OpponentID string `json:"opponent_id"`
	Color      string `json:"color,omitempty"`
}

// SubmitMoveRequest carries one candidate move, UCI or SAN.
type SubmitMoveRequest struct {
	Move string `json:"move"`
}

// ClientMessage is the websocket client → server envelope.
// Type is one of "subscribe", "unsubscribe", "ping".
type ClientMessage struct {
	Type   string `json:"type"`
	GameID string `json:"game_id,omitempty"`
}
