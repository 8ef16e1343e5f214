package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/park285/postal-chess/internal/game"
)

type fakeForfeiter struct {
	mu    sync.Mutex
	fired []string
}

func (f *fakeForfeiter) ForfeitOnDeadline(_ context.Context, gameID string) (*game.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, gameID)
	return &game.Game{ID: gameID, Status: game.StatusBlackWon}, nil
}

func (f *fakeForfeiter) firedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fired...)
}

type fakeLister struct {
	mu    sync.Mutex
	games []*game.Game
}

func (f *fakeLister) ListActiveGames(context.Context) ([]*game.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*game.Game(nil), f.games...), nil
}

type eventSink struct {
	mu     sync.Mutex
	events []game.Event
}

func (s *eventSink) Publish(ev game.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) warnings() []game.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []game.Event
	for _, ev := range s.events {
		if ev.Type == game.EventDeadlineWarning {
			out = append(out, ev)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func activeGame(id string, deadline time.Time) *game.Game {
	return &game.Game{
		ID: id, WhiteID: "w", BlackID: "b",
		Status: game.StatusActive, Turn: game.White,
		MoveDeadline: &deadline,
	}
}

func TestScheduler_FiresForfeitAtDeadline(t *testing.T) {
	ff := &fakeForfeiter{}
	s := New(ff, &fakeLister{}, nil, Config{Reconcile: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(30 * time.Millisecond)
	s.Publish(game.Event{
		Type: game.EventGameStarted, GameID: "g1",
		WhiteID: "w", BlackID: "b", Deadline: &deadline,
	})

	waitFor(t, 2*time.Second, func() bool { return len(ff.firedIDs()) == 1 })
	if ff.firedIDs()[0] != "g1" {
		t.Fatalf("fired = %v", ff.firedIDs())
	}
}

func TestScheduler_MoveRearmsTimer(t *testing.T) {
	ff := &fakeForfeiter{}
	s := New(ff, &fakeLister{}, nil, Config{Reconcile: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	first := time.Now().Add(40 * time.Millisecond)
	s.Publish(game.Event{Type: game.EventGameStarted, GameID: "g1", WhiteID: "w", BlackID: "b", Deadline: &first})

	// A committed move pushes the deadline out; the first timer must not fire.
	later := time.Now().Add(time.Hour)
	s.Publish(game.Event{Type: game.EventMoveMade, GameID: "g1", WhiteID: "w", BlackID: "b", Deadline: &later})

	time.Sleep(150 * time.Millisecond)
	if got := ff.firedIDs(); len(got) != 0 {
		t.Fatalf("stale timer fired: %v", got)
	}
}

func TestScheduler_StatusChangeCancels(t *testing.T) {
	ff := &fakeForfeiter{}
	s := New(ff, &fakeLister{}, nil, Config{Reconcile: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(40 * time.Millisecond)
	s.Publish(game.Event{Type: game.EventGameStarted, GameID: "g1", WhiteID: "w", BlackID: "b", Deadline: &deadline})
	s.Publish(game.Event{Type: game.EventGameStatusChanged, GameID: "g1", Status: game.StatusWhiteWon})

	time.Sleep(150 * time.Millisecond)
	if got := ff.firedIDs(); len(got) != 0 {
		t.Fatalf("cancelled timer fired: %v", got)
	}
}

func TestScheduler_WarningsBeforeDeadline(t *testing.T) {
	ff := &fakeForfeiter{}
	sink := &eventSink{}
	s := New(ff, &fakeLister{}, sink, Config{
		Warnings:  []time.Duration{60 * time.Millisecond, 30 * time.Millisecond},
		Reconcile: time.Hour,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(100 * time.Millisecond)
	s.Publish(game.Event{Type: game.EventGameStarted, GameID: "g1", WhiteID: "w", BlackID: "b", Deadline: &deadline})

	waitFor(t, 2*time.Second, func() bool { return len(sink.warnings()) == 2 })
	warns := sink.warnings()
	if warns[0].Remaining != 60*time.Millisecond || warns[1].Remaining != 30*time.Millisecond {
		t.Fatalf("warning buckets = %v, %v", warns[0].Remaining, warns[1].Remaining)
	}
	for _, w := range warns {
		if w.GameID != "g1" || w.WhiteID != "w" || w.BlackID != "b" {
			t.Fatalf("warning payload = %+v", w)
		}
	}
}

func TestScheduler_SkipsElapsedWarningBuckets(t *testing.T) {
	ff := &fakeForfeiter{}
	sink := &eventSink{}
	s := New(ff, &fakeLister{}, sink, Config{
		Warnings:  []time.Duration{time.Hour, 20 * time.Millisecond},
		Reconcile: time.Hour,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// One hour of remaining time never existed for this deadline.
	deadline := time.Now().Add(60 * time.Millisecond)
	s.Publish(game.Event{Type: game.EventGameStarted, GameID: "g1", WhiteID: "w", BlackID: "b", Deadline: &deadline})

	waitFor(t, 2*time.Second, func() bool { return len(ff.firedIDs()) == 1 })
	if warns := sink.warnings(); len(warns) != 1 || warns[0].Remaining != 20*time.Millisecond {
		t.Fatalf("warnings = %+v", warns)
	}
}

func TestScheduler_StartupRecoveryArmsExistingGames(t *testing.T) {
	ff := &fakeForfeiter{}
	lister := &fakeLister{games: []*game.Game{
		activeGame("overdue", time.Now().Add(-time.Minute)),
		activeGame("future", time.Now().Add(time.Hour)),
	}}
	s := New(ff, lister, nil, Config{Reconcile: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// The overdue game fires immediately; the future one stays armed.
	waitFor(t, 2*time.Second, func() bool { return len(ff.firedIDs()) == 1 })
	if ff.firedIDs()[0] != "overdue" {
		t.Fatalf("fired = %v", ff.firedIDs())
	}
}

func TestScheduler_ReconcileReplacesLostTimer(t *testing.T) {
	ff := &fakeForfeiter{}
	lister := &fakeLister{}
	s := New(ff, lister, nil, Config{Reconcile: 30 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// The game appears in the store without any event reaching this
	// process, as after a competing instance handled the move.
	lister.mu.Lock()
	lister.games = []*game.Game{activeGame("g1", time.Now().Add(50*time.Millisecond))}
	lister.mu.Unlock()

	// The fake lister keeps reporting the game active, so the evaluation
	// may repeat; at least one fire proves the reconciler re-armed it.
	waitFor(t, 2*time.Second, func() bool { return len(ff.firedIDs()) >= 1 })
}
