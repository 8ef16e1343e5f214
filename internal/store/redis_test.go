package store

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/postal-chess/internal/game"
)

func newTestRedis(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	st, err := NewRedis("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRedis_CreateAndGet(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()

	g := testGame("g1", "alice", "bob", time.Now().Truncate(time.Second))
	if err := st.CreateGame(ctx, g); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	got, err := st.GetGame(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got == nil || got.WhiteID != "alice" || got.Turn != game.White {
		t.Fatalf("GetGame = %+v", got)
	}
	if got.MoveDeadline == nil || !got.MoveDeadline.Equal(*g.MoveDeadline) {
		t.Fatalf("deadline = %v, want %v", got.MoveDeadline, g.MoveDeadline)
	}

	missing, err := st.GetGame(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing = %v, %v", missing, err)
	}
}

func TestRedis_UpdateCommitsAtomically(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()
	_ = st.CreateGame(ctx, testGame("g1", "alice", "bob", time.Now()))

	got, err := st.Update(ctx, "g1", func(cur *game.Game) (*game.Move, error) {
		cur.Turn = game.Black
		return &game.Move{ID: "m1", GameID: "g1", Number: 1, Color: game.White, UCI: "e2e4"}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Turn != game.Black {
		t.Fatalf("turn = %s", got.Turn)
	}

	moves, err := st.ListMoves(ctx, "g1")
	if err != nil || len(moves) != 1 || moves[0].UCI != "e2e4" {
		t.Fatalf("ListMoves = %+v, %v", moves, err)
	}

	// fn error means nothing is written.
	boom := errors.New("boom")
	if _, err := st.Update(ctx, "g1", func(cur *game.Game) (*game.Move, error) {
		cur.Turn = game.White
		return &game.Move{ID: "m2"}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("Update err = %v", err)
	}
	fresh, _ := st.GetGame(ctx, "g1")
	if fresh.Turn != game.Black {
		t.Fatalf("turn after failed fn = %s", fresh.Turn)
	}
	moves, _ = st.ListMoves(ctx, "g1")
	if len(moves) != 1 {
		t.Fatalf("moves after failed fn = %d", len(moves))
	}
}

func TestRedis_UpdateMissingGame(t *testing.T) {
	st := newTestRedis(t)
	g, err := st.Update(context.Background(), "nope", func(*game.Game) (*game.Move, error) {
		t.Fatal("fn ran for a missing game")
		return nil, nil
	})
	if err != nil || g != nil {
		t.Fatalf("Update missing = %v, %v", g, err)
	}
}

func TestRedis_TerminalLeavesActiveIndex(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()
	_ = st.CreateGame(ctx, testGame("g1", "alice", "bob", time.Now()))
	_ = st.CreateGame(ctx, testGame("g2", "carol", "dave", time.Now().Add(time.Second)))

	active, err := st.ListActiveGames(ctx)
	if err != nil || len(active) != 2 {
		t.Fatalf("ListActiveGames = %d, %v", len(active), err)
	}

	if _, err := st.Update(ctx, "g1", func(cur *game.Game) (*game.Move, error) {
		cur.Status = game.StatusWhiteWon
		cur.MoveDeadline = nil
		return nil, nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	active, err = st.ListActiveGames(ctx)
	if err != nil || len(active) != 1 || active[0].ID != "g2" {
		t.Fatalf("ListActiveGames after finish = %+v, %v", active, err)
	}
}

func TestRedis_ListGamesByUser(t *testing.T) {
	st := newTestRedis(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)
	_ = st.CreateGame(ctx, testGame("g1", "alice", "bob", base))
	_ = st.CreateGame(ctx, testGame("g2", "bob", "carol", base.Add(time.Minute)))

	byBob, err := st.ListGamesByUser(ctx, "bob")
	if err != nil || len(byBob) != 2 {
		t.Fatalf("ListGamesByUser(bob) = %d, %v", len(byBob), err)
	}
	if byBob[0].ID != "g2" {
		t.Fatalf("newest first violated: %s", byBob[0].ID)
	}
	byCarol, err := st.ListGamesByUser(ctx, "carol")
	if err != nil || len(byCarol) != 1 || byCarol[0].ID != "g2" {
		t.Fatalf("ListGamesByUser(carol) = %+v, %v", byCarol, err)
	}
	none, err := st.ListGamesByUser(ctx, "mallory")
	if err != nil || len(none) != 0 {
		t.Fatalf("ListGamesByUser(mallory) = %+v, %v", none, err)
	}
}

func TestRedis_ConflictRetryRerunsFn(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisFromClient(rdb)
	defer st.Close()

	ctx := context.Background()
	_ = st.CreateGame(ctx, testGame("g1", "alice", "bob", time.Now()))

	// Sabotage the first attempt by touching the watched key mid-closure.
	// The retry must observe the interfering write.
	calls := 0
	got, err := st.Update(ctx, "g1", func(cur *game.Game) (*game.Move, error) {
		calls++
		if calls == 1 {
			other := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			if _, uerr := other.Update(ctx, "g1", func(c *game.Game) (*game.Move, error) {
				c.Turn = game.Black
				return nil, nil
			}); uerr != nil {
				t.Fatalf("interfering update: %v", uerr)
			}
			_ = other.Close()
		}
		cur.FEN = cur.FEN + " "
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if calls < 2 {
		t.Fatalf("fn ran %d times, want a retry after the conflict", calls)
	}
	if got.Turn != game.Black {
		t.Fatalf("retry did not see fresh state: turn = %s", got.Turn)
	}
}
