package game

import "errors"

// Validation errors are returned to the caller for user-facing display and
// are never retried. Infrastructure failures are wrapped separately (see
// store.ErrUnavailable and ErrRules).
var (
	ErrInvalidPlayers = errors.New("invalid players: initiator and opponent must be distinct")
	ErrGameNotFound   = errors.New("game not found")
	ErrGameNotActive  = errors.New("game is not active")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrIllegalMove    = errors.New("illegal move")
	ErrNotParticipant = errors.New("user is not a player in this game")

	// ErrRules marks an unexpected rules-adapter failure (not an illegal
	// move); treated as internal.
	ErrRules = errors.New("rules adapter failure")
)
