package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/postal-chess/internal/store"
)

// storecheck is an ops probe: it connects to the configured backend,
// lists active games, and flags the ones already past their deadline.
func main() {
	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	var (
		st  store.Store
		err error
	)
	switch backend {
	case "postgres":
		st, err = store.NewPostgres(os.Getenv("DATABASE_URL"))
	case "redis":
		st, err = store.NewRedis(os.Getenv("REDIS_URL"))
	case "memory":
		st = store.NewMemory()
	default:
		log.Fatalf("unknown STORE_BACKEND %q", backend)
	}
	if err != nil {
		log.Fatalf("store connect error: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	games, err := st.ListActiveGames(ctx)
	if err != nil {
		log.Fatalf("list active games error: %v", err)
	}

	now := time.Now()
	overdue := 0
	fmt.Printf("backend=%s active_games=%d\n", backend, len(games))
	for _, g := range games {
		state := "ok"
		var remaining time.Duration
		if g.MoveDeadline != nil {
			remaining = g.MoveDeadline.Sub(now).Truncate(time.Second)
			if remaining <= 0 {
				state = "OVERDUE"
				overdue++
			}
		} else {
			state = "no-deadline"
		}
		fmt.Printf("  %s turn=%s remaining=%s %s\n", g.ID, g.Turn, remaining, state)
	}
	if overdue > 0 {
		fmt.Printf("%d game(s) past deadline; the scheduler should forfeit them shortly\n", overdue)
		os.Exit(1)
	}
}
