package store

import (
	"context"
	"errors"

	"github.com/park285/postal-chess/internal/game"
)

var (
	// ErrUnavailable marks a transient backend failure. Callers at the
	// transport boundary may retry with bounded backoff; the session core
	// never retries on its own.
	ErrUnavailable = errors.New("game store unavailable")

	// ErrConflict is returned by Update when the optimistic transaction
	// lost to a concurrent committer after exhausting retries.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrDuplicateMove guards the (game, number, color) uniqueness of
	// move records.
	ErrDuplicateMove = errors.New("move already recorded for this turn")
)

// UpdateFunc runs against the current game state inside the backend's
// transaction boundary. It may mutate g in place and may return one move
// to append atomically with the game write. Returning an error aborts the
// transaction and is passed through to the Update caller unchanged.
type UpdateFunc func(g *game.Game) (*game.Move, error)

// Store is the transactional persistence interface for games and moves.
// It is the sole writer of persisted state; the session core reads,
// decides and writes within one Update call and keeps no authoritative
// copy of its own.
type Store interface {
	// CreateGame persists a new game and indexes it by both players.
	CreateGame(ctx context.Context, g *game.Game) error

	// GetGame returns the game or nil when it does not exist.
	GetGame(ctx context.Context, id string) (*game.Game, error)

	// Update applies fn to the current state of the game under the
	// backend's serialization guarantee: two racing updates on the same
	// game never both commit against the same starting state. Returns
	// the committed game. Returns nil, nil when the game does not exist.
	Update(ctx context.Context, id string, fn UpdateFunc) (*game.Game, error)

	// ListMoves returns the game's moves ordered by number, white before
	// black within a number.
	ListMoves(ctx context.Context, gameID string) ([]*game.Move, error)

	// ListGamesByUser returns all games the user participates in, newest
	// first.
	ListGamesByUser(ctx context.Context, userID string) ([]*game.Game, error)

	// ListActiveGames returns every active game; used by the deadline
	// scheduler for startup recovery and reconciliation.
	ListActiveGames(ctx context.Context) ([]*game.Game, error)

	Close() error
}
