package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/park285/postal-chess/internal/game"
)

// Schema is the relational layout. Move rows are append-only; the unique
// constraint enforces at most one record per (game, number, color).
const Schema = `
CREATE TABLE IF NOT EXISTS games (
	id UUID PRIMARY KEY,
	white_player_id TEXT NOT NULL,
	black_player_id TEXT NOT NULL,
	current_position TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	current_turn TEXT NOT NULL,
	move_deadline TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ,
	CHECK (white_player_id <> black_player_id)
);
CREATE INDEX IF NOT EXISTS idx_games_white ON games (white_player_id);
CREATE INDEX IF NOT EXISTS idx_games_black ON games (black_player_id);
CREATE INDEX IF NOT EXISTS idx_games_active_deadline
	ON games (move_deadline) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS moves (
	id UUID PRIMARY KEY,
	game_id UUID NOT NULL REFERENCES games(id) ON DELETE CASCADE,
	move_number INT NOT NULL,
	player_color TEXT NOT NULL,
	move_uci TEXT NOT NULL,
	move_san TEXT NOT NULL,
	position_before TEXT NOT NULL,
	position_after TEXT NOT NULL,
	played_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (game_id, move_number, player_color)
);`

type pgStore struct {
	db *sql.DB
}

// NewPostgres opens a Postgres-backed Store. Update serializes on the game
// row via SELECT ... FOR UPDATE, which makes the transaction the effective
// per-game lock.
func NewPostgres(databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, unavailable(err)
	}
	s := &pgStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the tables when missing.
func (s *pgStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *pgStore) CreateGame(ctx context.Context, g *game.Game) error {
	const q = `
		INSERT INTO games (
			id, white_player_id, black_player_id, current_position,
			status, current_turn, move_deadline, created_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, q,
		g.ID, g.WhiteID, g.BlackID, g.FEN,
		string(g.Status), string(g.Turn), g.MoveDeadline, g.CreatedAt, g.CompletedAt,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *pgStore) GetGame(ctx context.Context, id string) (*game.Game, error) {
	return s.getGame(ctx, s.db, id, "")
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *pgStore) getGame(ctx context.Context, q rowQuerier, id, suffix string) (*game.Game, error) {
	query := `
		SELECT id, white_player_id, black_player_id, current_position,
		       status, current_turn, move_deadline, created_at, completed_at
		FROM games
		WHERE id = $1` + suffix
	var (
		g        game.Game
		status   string
		turn     string
		deadline sql.NullTime
		done     sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&g.ID, &g.WhiteID, &g.BlackID, &g.FEN,
		&status, &turn, &deadline, &g.CreatedAt, &done,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	g.Status = game.Status(status)
	g.Turn = game.Color(turn)
	if deadline.Valid {
		t := deadline.Time
		g.MoveDeadline = &t
	}
	if done.Valid {
		t := done.Time
		g.CompletedAt = &t
	}
	return &g, nil
}

func (s *pgStore) Update(ctx context.Context, id string, fn UpdateFunc) (*game.Game, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := s.getGame(ctx, tx, id, " FOR UPDATE")
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, nil
	}

	mv, err := fn(cur)
	if err != nil {
		return nil, err
	}

	const upd = `
		UPDATE games
		SET current_position = $1,
		    status = $2,
		    current_turn = $3,
		    move_deadline = $4,
		    completed_at = $5
		WHERE id = $6`
	if _, err := tx.ExecContext(ctx, upd,
		cur.FEN, string(cur.Status), string(cur.Turn),
		cur.MoveDeadline, cur.CompletedAt, cur.ID,
	); err != nil {
		return nil, unavailable(err)
	}

	if mv != nil {
		const ins = `
			INSERT INTO moves (
				id, game_id, move_number, player_color, move_uci,
				move_san, position_before, position_after, played_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := tx.ExecContext(ctx, ins,
			mv.ID, mv.GameID, mv.Number, string(mv.Color), mv.UCI,
			mv.SAN, mv.FENBefore, mv.FENAfter, mv.PlayedAt,
		); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return nil, ErrDuplicateMove
			}
			return nil, unavailable(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable(err)
	}
	return cur, nil
}

func (s *pgStore) ListMoves(ctx context.Context, gameID string) ([]*game.Move, error) {
	const q = `
		SELECT id, game_id, move_number, player_color, move_uci,
		       move_san, position_before, position_after, played_at
		FROM moves
		WHERE game_id = $1
		ORDER BY move_number ASC, player_color DESC`
	rows, err := s.db.QueryContext(ctx, q, gameID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []*game.Move
	for rows.Next() {
		var (
			mv    game.Move
			color string
		)
		if err := rows.Scan(
			&mv.ID, &mv.GameID, &mv.Number, &color, &mv.UCI,
			&mv.SAN, &mv.FENBefore, &mv.FENAfter, &mv.PlayedAt,
		); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		mv.Color = game.Color(color)
		out = append(out, &mv)
	}
	return out, rows.Err()
}

func (s *pgStore) ListGamesByUser(ctx context.Context, userID string) ([]*game.Game, error) {
	const q = `
		SELECT id FROM games
		WHERE white_player_id = $1 OR black_player_id = $1
		ORDER BY created_at DESC`
	return s.listByIDQuery(ctx, q, userID)
}

func (s *pgStore) ListActiveGames(ctx context.Context) ([]*game.Game, error) {
	const q = `
		SELECT id FROM games
		WHERE status = 'active'
		ORDER BY move_deadline ASC NULLS LAST`
	return s.listByIDQuery(ctx, q)
}

func (s *pgStore) listByIDQuery(ctx context.Context, query string, args ...any) ([]*game.Game, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan game id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	out := make([]*game.Game, 0, len(ids))
	for _, id := range ids {
		g, err := s.GetGame(ctx, id)
		if err != nil {
			return nil, err
		}
		if g != nil {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *pgStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
