package store

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/postal-chess/internal/game"
)

// memory is a development and test backend. The mutex is held across the
// whole Update closure, which gives the same first-committer-wins
// serialization the real backends provide per game row.
type memory struct {
	mu sync.RWMutex

	games map[string]*game.Game
	moves map[string][]*game.Move // gameID -> append-only, commit order
}

// NewMemory returns an in-memory Store used when no backend is configured.
func NewMemory() Store {
	return &memory{
		games: make(map[string]*game.Game),
		moves: make(map[string][]*game.Move),
	}
}

func (m *memory) CreateGame(ctx context.Context, g *game.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.games[g.ID] = &cp
	return nil
}

func (m *memory) GetGame(ctx context.Context, id string) (*game.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *memory) Update(ctx context.Context, id string, fn UpdateFunc) (*game.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.games[id]
	if !ok {
		return nil, nil
	}
	work := *cur
	mv, err := fn(&work)
	if err != nil {
		return nil, err
	}
	if mv != nil {
		for _, existing := range m.moves[id] {
			if existing.Number == mv.Number && existing.Color == mv.Color {
				return nil, ErrDuplicateMove
			}
		}
		mcp := *mv
		m.moves[id] = append(m.moves[id], &mcp)
	}
	m.games[id] = &work
	out := work
	return &out, nil
}

func (m *memory) ListMoves(ctx context.Context, gameID string) ([]*game.Move, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.moves[gameID]
	out := make([]*game.Move, 0, len(list))
	for _, mv := range list {
		cp := *mv
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].Color == game.White && out[j].Color == game.Black
	})
	return out, nil
}

func (m *memory) ListGamesByUser(ctx context.Context, userID string) ([]*game.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*game.Game
	for _, g := range m.games {
		if g.Player(userID) == "" {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memory) ListActiveGames(ctx context.Context) ([]*game.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*game.Game
	for _, g := range m.games {
		if g.Status != game.StatusActive {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memory) Close() error { return nil }
