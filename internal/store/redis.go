package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/park285/postal-chess/internal/game"
)

// watchRetries bounds the optimistic transaction retry loop. A conflict
// means another committer won against the state fn observed; fn is re-run
// against the fresh state so validation errors surface from current data.
const watchRetries = 5

type redisStore struct {
	rdb *redis.Client
}

// NewRedis opens a Redis-backed Store. The games hash is the transactional
// unit: every Update runs under WATCH on the game key, so two racing
// updates on the same game never both commit.
func NewRedis(redisURL string) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{rdb: rdb}, nil
}

// NewRedisFromClient wires an existing client (shared in tests).
func NewRedisFromClient(rdb *redis.Client) Store { return &redisStore{rdb: rdb} }

func keyGame(id string) string     { return "game:" + strings.TrimSpace(id) }
func keyMoves(id string) string    { return keyGame(id) + ":moves" }
func keyUserIdx(uid string) string { return "index:user:" + strings.TrimSpace(uid) }
func keyActiveIdx() string         { return "index:active" }

func (s *redisStore) CreateGame(ctx context.Context, g *game.Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyGame(g.ID), raw, 0)
	pipe.SAdd(ctx, keyUserIdx(g.WhiteID), g.ID)
	pipe.SAdd(ctx, keyUserIdx(g.BlackID), g.ID)
	pipe.SAdd(ctx, keyActiveIdx(), g.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *redisStore) GetGame(ctx context.Context, id string) (*game.Game, error) {
	raw, err := s.rdb.Get(ctx, keyGame(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var g game.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *redisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*game.Game, error) {
	gameK := keyGame(id)
	var missing bool
	var out *game.Game

	for attempt := 0; attempt < watchRetries; attempt++ {
		missing = false
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, gameK).Bytes()
			if err == redis.Nil {
				missing = true
				return nil
			}
			if err != nil {
				return unavailable(err)
			}
			var cur game.Game
			if jerr := json.Unmarshal(raw, &cur); jerr != nil {
				return jerr
			}

			mv, ferr := fn(&cur)
			if ferr != nil {
				return ferr
			}

			pipe := tx.TxPipeline()
			newRaw, merr := json.Marshal(&cur)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, gameK, newRaw, 0)
			if mv != nil {
				mvRaw, merr := json.Marshal(mv)
				if merr != nil {
					return merr
				}
				pipe.RPush(ctx, keyMoves(id), mvRaw)
			}
			if cur.Status.Terminal() {
				pipe.SRem(ctx, keyActiveIdx(), id)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			out = &cur
			return nil
		}, gameK)

		if errors.Is(err, redis.TxFailedErr) {
			// lost the race; re-read and re-decide
			continue
		}
		if err != nil {
			return nil, err
		}
		if missing {
			return nil, nil
		}
		return out, nil
	}
	return nil, ErrConflict
}

func (s *redisStore) ListMoves(ctx context.Context, gameID string) ([]*game.Move, error) {
	raws, err := s.rdb.LRange(ctx, keyMoves(gameID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*game.Move, 0, len(raws))
	for _, raw := range raws {
		var mv game.Move
		if err := json.Unmarshal([]byte(raw), &mv); err != nil {
			return nil, err
		}
		out = append(out, &mv)
	}
	return out, nil
}

func (s *redisStore) ListGamesByUser(ctx context.Context, userID string) ([]*game.Game, error) {
	ids, err := s.rdb.SMembers(ctx, keyUserIdx(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	var out []*game.Game
	for _, id := range ids {
		g, gerr := s.GetGame(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if g != nil {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *redisStore) ListActiveGames(ctx context.Context) ([]*game.Game, error) {
	ids, err := s.rdb.SMembers(ctx, keyActiveIdx()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	var out []*game.Game
	for _, id := range ids {
		g, gerr := s.GetGame(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if g == nil || g.Status != game.StatusActive {
			// index drifted; self-heal
			_ = s.rdb.SRem(ctx, keyActiveIdx(), id).Err()
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *redisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
