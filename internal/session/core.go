package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/postal-chess/internal/game"
	"github.com/park285/postal-chess/internal/obslog"
	"github.com/park285/postal-chess/internal/rules"
	"github.com/park285/postal-chess/internal/store"
)

// DefaultMoveGrace is the time the player on turn has to move before
// forfeiting. Policy constant, overridable through New.
const DefaultMoveGrace = 72 * time.Hour

// errNoop aborts an Update without surfacing an error to the caller; used
// by the forfeit path when the game progressed or terminated concurrently.
var errNoop = errors.New("no-op")

// Core owns the per-game state machine. It holds no authoritative game
// state: every mutation is a read-decide-write inside one store Update,
// and the store's per-game serialization is the effective lock. Two
// operations racing on the same game never both commit; the loser re-reads
// fresh state and surfaces the appropriate validation error.
type Core struct {
	store store.Store
	rules rules.Adapter
	sink  game.Sink
	grace time.Duration
	now   func() time.Time

	// Per-game publish serialization: each mutation holds its game's lock
	// across commit and publish, so sinks observe events in commit order.
	// The store transaction alone cannot give that: two committers may
	// reach their Publish calls in either order once Update returns.
	lmu   sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires a session core. sink may be nil (events dropped).
func New(st store.Store, ad rules.Adapter, sink game.Sink, grace time.Duration) *Core {
	if grace <= 0 {
		grace = DefaultMoveGrace
	}
	if sink == nil {
		sink = game.Sinks(nil)
	}
	return &Core{
		store: st,
		rules: ad,
		sink:  sink,
		grace: grace,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (c *Core) lockGame(gameID string) *sync.Mutex {
	c.lmu.Lock()
	l, ok := c.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[gameID] = l
	}
	c.lmu.Unlock()
	l.Lock()
	return l
}

// releaseGame drops the lock entry once the game is terminal; late callers
// re-create one, fail the status check, and publish nothing.
func (c *Core) releaseGame(gameID string, l *sync.Mutex, terminal bool) {
	if terminal {
		c.lmu.Lock()
		delete(c.locks, gameID)
		c.lmu.Unlock()
	}
	l.Unlock()
}

// StartGame creates an active game between two distinct players with the
// standard starting position, white to move, and a fresh move deadline.
// colorChoice assigns the initiator's side: "white", "black", or anything
// else for a random draw.
func (c *Core) StartGame(ctx context.Context, initiatorID, opponentID, colorChoice string) (*game.Game, error) {
	initiatorID = strings.TrimSpace(initiatorID)
	opponentID = strings.TrimSpace(opponentID)
	if initiatorID == "" || opponentID == "" || initiatorID == opponentID {
		return nil, game.ErrInvalidPlayers
	}

	whiteID, blackID := initiatorID, opponentID
	switch strings.ToLower(strings.TrimSpace(colorChoice)) {
	case "white", "w":
		// initiator already white
	case "black", "b":
		whiteID, blackID = opponentID, initiatorID
	default:
		if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 0 {
			whiteID, blackID = opponentID, initiatorID
		}
	}

	now := c.now()
	deadline := now.Add(c.grace)
	id := uuid.NewString()
	l := c.lockGame(id)
	defer c.releaseGame(id, l, false)
	g := &game.Game{
		ID:           id,
		WhiteID:      whiteID,
		BlackID:      blackID,
		FEN:          rules.StartingFEN,
		Status:       game.StatusActive,
		Turn:         game.White,
		MoveDeadline: &deadline,
		CreatedAt:    now,
	}
	if err := c.store.CreateGame(ctx, g); err != nil {
		return nil, err
	}

	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("white_id", g.WhiteID),
		zap.String("black_id", g.BlackID),
		zap.Time("move_deadline", deadline),
	)
	c.sink.Publish(game.Event{
		Type:     game.EventGameStarted,
		GameID:   g.ID,
		WhiteID:  g.WhiteID,
		BlackID:  g.BlackID,
		FEN:      g.FEN,
		Deadline: g.MoveDeadline,
	})
	return g, nil
}

// SubmitMove validates turn ownership, applies the move through the rules
// adapter, and commits the move record and updated game atomically. The
// stored turn is always recomputed from the adapter-returned position,
// never toggled independently.
func (c *Core) SubmitMove(ctx context.Context, gameID, userID, moveStr string) (*game.MoveResult, error) {
	var (
		committed *game.Move
		term      *rules.Terminal
	)
	l := c.lockGame(gameID)
	defer func() { c.releaseGame(gameID, l, term != nil) }()
	g, err := c.store.Update(ctx, gameID, func(cur *game.Game) (*game.Move, error) {
		committed, term = nil, nil
		if cur.Status.Terminal() {
			return nil, game.ErrGameNotActive
		}
		color := cur.Player(userID)
		if color == "" {
			return nil, game.ErrNotParticipant
		}
		if color != cur.Turn {
			return nil, game.ErrNotYourTurn
		}

		res, aerr := c.rules.Apply(cur.FEN, moveStr)
		if errors.Is(aerr, rules.ErrIllegalMove) {
			return nil, game.ErrIllegalMove
		}
		if aerr != nil {
			return nil, fmt.Errorf("%w: %v", game.ErrRules, aerr)
		}

		now := c.now()
		mv := &game.Move{
			ID:        uuid.NewString(),
			GameID:    cur.ID,
			Number:    fullmoveNumber(cur.FEN),
			Color:     color,
			UCI:       res.UCI,
			SAN:       res.SAN,
			FENBefore: cur.FEN,
			FENAfter:  res.FEN,
			PlayedAt:  now,
		}

		cur.FEN = res.FEN
		cur.Turn = game.Color(res.Turn)
		if res.Terminal != nil {
			cur.Status = terminalStatus(res.Terminal)
			cur.MoveDeadline = nil
			done := now
			cur.CompletedAt = &done
		} else {
			next := now.Add(c.grace)
			cur.MoveDeadline = &next
		}
		committed = mv
		term = res.Terminal
		return mv, nil
	})
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, game.ErrGameNotFound
	}

	obslog.L().Info("move_commit",
		zap.String("game_id", g.ID),
		zap.String("user_id", userID),
		zap.Int("number", committed.Number),
		zap.String("color", string(committed.Color)),
		zap.String("uci", committed.UCI),
		zap.String("san", committed.SAN),
		zap.String("status", string(g.Status)),
	)
	c.sink.Publish(game.Event{
		Type:     game.EventMoveMade,
		GameID:   g.ID,
		WhiteID:  g.WhiteID,
		BlackID:  g.BlackID,
		Move:     committed,
		FEN:      g.FEN,
		Deadline: g.MoveDeadline,
	})
	if term != nil {
		c.publishStatusChange(g, terminalReason(term), terminalWinner(term))
	}
	return &game.MoveResult{Move: committed, Game: g}, nil
}

// Resign ends the game as a win for the opponent.
func (c *Core) Resign(ctx context.Context, gameID, userID string) (*game.Game, error) {
	var winner game.Color
	resigned := false
	l := c.lockGame(gameID)
	defer func() { c.releaseGame(gameID, l, resigned) }()
	g, err := c.store.Update(ctx, gameID, func(cur *game.Game) (*game.Move, error) {
		if cur.Status.Terminal() {
			return nil, game.ErrGameNotActive
		}
		color := cur.Player(userID)
		if color == "" {
			return nil, game.ErrNotParticipant
		}
		winner = color.Opposite()
		cur.Status = game.WinFor(winner)
		cur.MoveDeadline = nil
		done := c.now()
		cur.CompletedAt = &done
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, game.ErrGameNotFound
	}
	resigned = true

	obslog.L().Info("game_resign",
		zap.String("game_id", g.ID),
		zap.String("user_id", userID),
		zap.String("status", string(g.Status)),
	)
	c.publishStatusChange(g, "resignation", winner)
	return g, nil
}

// ForfeitOnDeadline is invoked by the deadline scheduler. It re-reads
// current state under the store transaction and forfeits the player on
// turn only when the game is still active and the deadline has in fact
// passed. A timer firing that lost the race to a freshly applied move (or
// to another terminating operation) is a silent no-op: the scheduler's
// retries and reconciliation make the evaluation idempotent in effect.
func (c *Core) ForfeitOnDeadline(ctx context.Context, gameID string) (*game.Game, error) {
	var winner game.Color
	forfeited := false
	l := c.lockGame(gameID)
	defer func() { c.releaseGame(gameID, l, forfeited) }()
	g, err := c.store.Update(ctx, gameID, func(cur *game.Game) (*game.Move, error) {
		if cur.Status.Terminal() {
			return nil, errNoop
		}
		if cur.MoveDeadline == nil || c.now().Before(*cur.MoveDeadline) {
			return nil, errNoop
		}
		winner = cur.Turn.Opposite()
		cur.Status = game.WinFor(winner)
		cur.MoveDeadline = nil
		done := c.now()
		cur.CompletedAt = &done
		return nil, nil
	})
	if errors.Is(err, errNoop) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, nil
	}
	forfeited = true

	obslog.L().Info("deadline_forfeit",
		zap.String("game_id", g.ID),
		zap.String("status", string(g.Status)),
	)
	c.publishStatusChange(g, "timeout", winner)
	return g, nil
}

// Game returns the game for the API layer.
func (c *Core) Game(ctx context.Context, gameID string) (*game.Game, error) {
	g, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, game.ErrGameNotFound
	}
	return g, nil
}

// Moves returns the game's committed move records in order.
func (c *Core) Moves(ctx context.Context, gameID string) ([]*game.Move, error) {
	g, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, game.ErrGameNotFound
	}
	return c.store.ListMoves(ctx, gameID)
}

// GamesByUser returns the user's games, newest first.
func (c *Core) GamesByUser(ctx context.Context, userID string) ([]*game.Game, error) {
	return c.store.ListGamesByUser(ctx, userID)
}

// ActiveGamesByUser returns only the user's games still awaiting moves,
// newest first.
func (c *Core) ActiveGamesByUser(ctx context.Context, userID string) ([]*game.Game, error) {
	all, err := c.store.ListGamesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, g := range all {
		if g.Status == game.StatusActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (c *Core) publishStatusChange(g *game.Game, reason string, winner game.Color) {
	if g.Status == game.StatusDraw || g.Status == game.StatusAbandoned {
		winner = ""
	}
	c.sink.Publish(game.Event{
		Type:    game.EventGameStatusChanged,
		GameID:  g.ID,
		WhiteID: g.WhiteID,
		BlackID: g.BlackID,
		Status:  g.Status,
		Winner:  winner,
		Reason:  reason,
	})
}

func terminalStatus(t *rules.Terminal) game.Status {
	if t.Kind == rules.Checkmate {
		if t.Winner == "white" {
			return game.StatusWhiteWon
		}
		return game.StatusBlackWon
	}
	return game.StatusDraw
}

func terminalWinner(t *rules.Terminal) game.Color {
	if t.Kind != rules.Checkmate {
		return ""
	}
	return game.Color(t.Winner)
}

func terminalReason(t *rules.Terminal) string {
	switch t.Kind {
	case rules.Checkmate:
		return "checkmate"
	case rules.Stalemate:
		return "stalemate"
	default:
		if t.Reason != "" {
			return t.Reason
		}
		return "draw"
	}
}

// fullmoveNumber reads the full-move counter from the FEN's last field.
// It numbers the upcoming move for both colors, which matches the shared
// per-color numbering of move records.
func fullmoveNumber(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 1
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
