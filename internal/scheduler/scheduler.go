package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/postal-chess/internal/game"
	"github.com/park285/postal-chess/internal/obslog"
)

// DefaultWarnings are the remaining-time buckets at which a DeadlineWarning
// is emitted before forfeit. Policy constants, overridable through Config.
var DefaultWarnings = []time.Duration{24 * time.Hour, 6 * time.Hour, time.Hour}

const defaultReconcileInterval = 5 * time.Minute

// Forfeiter evaluates a possibly-expired deadline. The implementation must
// be idempotent: a timer that fires late, twice, or after a concurrent
// move is harmless because the forfeit re-checks state under the store
// transaction.
type Forfeiter interface {
	ForfeitOnDeadline(ctx context.Context, gameID string) (*game.Game, error)
}

// ActiveLister feeds startup recovery and periodic reconciliation.
type ActiveLister interface {
	ListActiveGames(ctx context.Context) ([]*game.Game, error)
}

// Config tunes the scheduler; zero values fall back to defaults.
type Config struct {
	Warnings  []time.Duration
	Reconcile time.Duration
}

type gameTimers struct {
	deadline time.Time
	whiteID  string
	blackID  string
	forfeit  *time.Timer
	warns    []*time.Timer
}

// Scheduler guarantees that every active game's deadline is eventually
// evaluated. The timer table is in-memory and advisory: it is rebuilt
// from the store on startup and self-heals on every reconciliation pass,
// so losing it (process restart, dropped timer) never loses a forfeit.
type Scheduler struct {
	core   Forfeiter
	lister ActiveLister
	sink   game.Sink

	warnings  []time.Duration
	reconcile time.Duration

	mu     sync.Mutex
	timers map[string]*gameTimers

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires a scheduler. sink receives DeadlineWarning events and may be
// nil.
func New(core Forfeiter, lister ActiveLister, sink game.Sink, cfg Config) *Scheduler {
	warnings := cfg.Warnings
	if warnings == nil {
		warnings = DefaultWarnings
	}
	reconcile := cfg.Reconcile
	if reconcile <= 0 {
		reconcile = defaultReconcileInterval
	}
	if sink == nil {
		sink = game.Sinks(nil)
	}
	return &Scheduler{
		core:      core,
		lister:    lister,
		sink:      sink,
		warnings:  warnings,
		reconcile: reconcile,
		timers:    make(map[string]*gameTimers),
		stopCh:    make(chan struct{}),
	}
}

// Start arms timers for every active game and begins the reconciliation
// loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.reconcileOnce(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.reconcileLoop()
	return nil
}

// Stop cancels all timers and waits for the reconcile loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.mu.Lock()
	for id, gt := range s.timers {
		gt.stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

// Publish implements game.Sink: the scheduler consumes session events to
// keep its timer table aligned with committed state.
func (s *Scheduler) Publish(ev game.Event) {
	switch ev.Type {
	case game.EventGameStarted, game.EventMoveMade:
		if ev.Deadline != nil {
			s.arm(ev.GameID, ev.WhiteID, ev.BlackID, *ev.Deadline)
		} else {
			s.cancel(ev.GameID)
		}
	case game.EventGameStatusChanged:
		s.cancel(ev.GameID)
	}
}

// arm replaces any existing timers for the game with a forfeit timer at
// deadline plus the configured warning timers.
func (s *Scheduler) arm(gameID, whiteID, blackID string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[gameID]; ok {
		if old.deadline.Equal(deadline) {
			return
		}
		old.stop()
	}

	gt := &gameTimers{deadline: deadline, whiteID: whiteID, blackID: blackID}
	gt.forfeit = time.AfterFunc(time.Until(deadline), func() { s.fireForfeit(gameID) })
	for _, bucket := range s.warnings {
		at := deadline.Add(-bucket)
		if !at.After(time.Now()) {
			continue
		}
		b := bucket
		gt.warns = append(gt.warns, time.AfterFunc(time.Until(at), func() {
			s.fireWarning(gameID, whiteID, blackID, b)
		}))
	}
	s.timers[gameID] = gt
}

func (s *Scheduler) cancel(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gt, ok := s.timers[gameID]; ok {
		gt.stop()
		delete(s.timers, gameID)
	}
}

// fireForfeit asks the session core to evaluate the deadline. Errors are
// logged and swallowed; the next reconciliation pass retries any game that
// is still active past its deadline.
func (s *Scheduler) fireForfeit(gameID string) {
	s.mu.Lock()
	delete(s.timers, gameID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g, err := s.core.ForfeitOnDeadline(ctx, gameID)
	if err != nil {
		obslog.L().Error("deadline_fire_error", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	if g == nil {
		// game progressed or already terminated; timer was stale
		obslog.L().Debug("deadline_fire_noop", zap.String("game_id", gameID))
	}
}

// fireWarning emits a best-effort DeadlineWarning; missed warnings are not
// retried.
func (s *Scheduler) fireWarning(gameID, whiteID, blackID string, remaining time.Duration) {
	s.sink.Publish(game.Event{
		Type:      game.EventDeadlineWarning,
		GameID:    gameID,
		WhiteID:   whiteID,
		BlackID:   blackID,
		Remaining: remaining,
	})
}

func (s *Scheduler) reconcileLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.reconcile)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := s.reconcileOnce(ctx); err != nil {
				obslog.L().Warn("deadline_reconcile_error", zap.Error(err))
			}
			cancel()
		}
	}
}

// reconcileOnce reloads active games and arms any missing or drifted
// timer. A deadline already in the past arms a timer with a non-positive
// delay, which fires immediately.
func (s *Scheduler) reconcileOnce(ctx context.Context) error {
	games, err := s.lister.ListActiveGames(ctx)
	if err != nil {
		return err
	}
	armed := 0
	for _, g := range games {
		if g.MoveDeadline == nil {
			continue
		}
		s.arm(g.ID, g.WhiteID, g.BlackID, *g.MoveDeadline)
		armed++
	}
	obslog.L().Debug("deadline_reconcile", zap.Int("active_games", armed))
	return nil
}

func (gt *gameTimers) stop() {
	if gt.forfeit != nil {
		gt.forfeit.Stop()
	}
	for _, w := range gt.warns {
		w.Stop()
	}
}
