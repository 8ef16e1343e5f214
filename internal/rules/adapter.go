package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartingFEN is the standard initial position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ErrIllegalMove signals that the candidate move is not legal in the given
// position. Any other error from Apply is an adapter failure.
var ErrIllegalMove = errors.New("illegal move")

// TerminalKind classifies an outcome that ends the game.
type TerminalKind string

const (
	Checkmate TerminalKind = "checkmate"
	Stalemate TerminalKind = "stalemate"
	DrawOther TerminalKind = "draw"
)

// Terminal describes a game-ending condition detected after a move.
type Terminal struct {
	Kind   TerminalKind
	Winner string // "white" or "black", checkmate only
	Reason string // draw reason, DrawOther only
}

// Result is the outcome of applying one move to a position.
type Result struct {
	FEN      string // resulting position
	UCI      string // compact machine form, e.g. e2e4
	SAN      string // human-readable algebraic form, e.g. e4
	Turn     string // side to move in the resulting position
	Terminal *Terminal
}

// Adapter applies a candidate move to a position. Implementations must be
// deterministic and side-effect-free; any conforming rules library can be
// substituted without touching the session core.
type Adapter interface {
	Apply(fen, move string) (*Result, error)
}

// New returns the corentings/chess-backed adapter.
func New() Adapter { return chessAdapter{} }

type chessAdapter struct{}

// Apply decodes the move as UCI first, then falls back to SAN. Terminal
// detection is position-local: the game is rebuilt from the single FEN, so
// history-dependent draw claims (threefold or fivefold repetition) are out
// of contract and never reported here.
func (chessAdapter) Apply(fen, move string) (*Result, error) {
	fenOpt, err := nchess.FEN(strings.TrimSpace(fen))
	if err != nil {
		return nil, fmt.Errorf("parse position: %w", err)
	}
	g := nchess.NewGame(fenOpt)
	pos := g.Position()

	raw := strings.TrimSpace(move)
	if raw == "" {
		return nil, ErrIllegalMove
	}

	var uci, san string
	if mv, derr := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); derr == nil {
		if err := g.Move(mv, nil); err != nil {
			return nil, ErrIllegalMove
		}
		uci = mv.String()
		san = nchess.AlgebraicNotation{}.Encode(pos, mv)
	} else {
		if err := g.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, ErrIllegalMove
		}
		moves := g.Moves()
		last := moves[len(moves)-1]
		uci = last.String()
		san = nchess.AlgebraicNotation{}.Encode(pos, last)
	}

	return &Result{
		FEN:      g.FEN(),
		UCI:      uci,
		SAN:      san,
		Turn:     colorString(g.Position().Turn()),
		Terminal: terminalFrom(g),
	}, nil
}

func colorString(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}

func terminalFrom(g *nchess.Game) *Terminal {
	switch g.Outcome() {
	case nchess.WhiteWon:
		return &Terminal{Kind: Checkmate, Winner: "white"}
	case nchess.BlackWon:
		return &Terminal{Kind: Checkmate, Winner: "black"}
	case nchess.Draw:
		if g.Method() == nchess.Stalemate {
			return &Terminal{Kind: Stalemate}
		}
		return &Terminal{Kind: DrawOther, Reason: drawReason(g.Method())}
	}
	return nil
}

func drawReason(m nchess.Method) string {
	switch m {
	case nchess.FiftyMoveRule:
		return "fifty_move_rule"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	default:
		return "draw"
	}
}
