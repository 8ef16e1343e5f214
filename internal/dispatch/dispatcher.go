package dispatch

import (
	"sync"

	"go.uber.org/zap"

	"github.com/park285/postal-chess/internal/game"
	"github.com/park285/postal-chess/internal/obslog"
)

const defaultQueueSize = 32

// Subscriber is one live connection owned by an authenticated user. Each
// subscriber has its own bounded queue so a slow or dead consumer never
// blocks delivery to others: on overflow the oldest pending event is
// dropped and the connection is marked degraded, forcing it to
// resynchronize through the query API.
type Subscriber struct {
	userID string

	mu       sync.Mutex
	ch       chan game.Event
	closed   bool
	degraded bool
}

// Events is the connection's delivery queue; closed on Unregister.
func (s *Subscriber) Events() <-chan game.Event { return s.ch }

// UserID returns the owning user.
func (s *Subscriber) UserID() string { return s.userID }

// Degraded reports whether delivery overflowed since the last reset; a
// degraded client must resync via the API before trusting the stream.
func (s *Subscriber) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// ResetDegraded clears the degraded flag after a resync.
func (s *Subscriber) ResetDegraded() {
	s.mu.Lock()
	s.degraded = false
	s.mu.Unlock()
}

// enqueue never blocks: full queue drops the oldest pending event.
func (s *Subscriber) enqueue(ev game.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.degraded = true
	select {
	case s.ch <- ev:
	default:
	}
	obslog.L().Warn("dispatch_overflow",
		zap.String("user_id", s.userID),
		zap.String("game_id", ev.GameID),
		zap.String("event", string(ev.Type)),
	)
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Dispatcher fans domain events out to live connections. Subscriptions are
// keyed by authenticated user identity, so one user watching a game from
// several connections receives the event on each. The tables are owned
// state, never persisted; a restart simply drops them and clients
// re-subscribe.
type Dispatcher struct {
	mu        sync.RWMutex
	byUser    map[string]map[*Subscriber]struct{}
	byGame    map[string]map[string]struct{} // gameID -> userIDs
	queueSize int
}

// NewDispatcher builds a dispatcher with the given per-connection queue
// size (0 for the default).
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		byUser:    make(map[string]map[*Subscriber]struct{}),
		byGame:    make(map[string]map[string]struct{}),
		queueSize: queueSize,
	}
}

// Register creates a subscriber for one live connection of the user.
func (d *Dispatcher) Register(userID string) *Subscriber {
	sub := &Subscriber{userID: userID, ch: make(chan game.Event, d.queueSize)}
	d.mu.Lock()
	conns, ok := d.byUser[userID]
	if !ok {
		conns = make(map[*Subscriber]struct{})
		d.byUser[userID] = conns
	}
	conns[sub] = struct{}{}
	d.mu.Unlock()
	return sub
}

// Unregister drops the connection and closes its queue. Game interests of
// the same user's other connections are unaffected.
func (d *Dispatcher) Unregister(sub *Subscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	if conns, ok := d.byUser[sub.userID]; ok {
		delete(conns, sub)
		if len(conns) == 0 {
			delete(d.byUser, sub.userID)
			for gid, users := range d.byGame {
				delete(users, sub.userID)
				if len(users) == 0 {
					delete(d.byGame, gid)
				}
			}
		}
	}
	d.mu.Unlock()
	sub.close()
}

// Subscribe registers the user's interest in a game.
func (d *Dispatcher) Subscribe(userID, gameID string) {
	d.mu.Lock()
	users, ok := d.byGame[gameID]
	if !ok {
		users = make(map[string]struct{})
		d.byGame[gameID] = users
	}
	users[userID] = struct{}{}
	d.mu.Unlock()
}

// Unsubscribe removes the user's interest in a game.
func (d *Dispatcher) Unsubscribe(userID, gameID string) {
	d.mu.Lock()
	if users, ok := d.byGame[gameID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(d.byGame, gameID)
		}
	}
	d.mu.Unlock()
}

// Publish implements game.Sink with at-least-once, best-effort delivery:
// subscribers of the event's game receive it, and GameStarted additionally
// reaches both players directly since they cannot have subscribed yet.
func (d *Dispatcher) Publish(ev game.Event) {
	targets := make(map[string]struct{})
	d.mu.RLock()
	for uid := range d.byGame[ev.GameID] {
		targets[uid] = struct{}{}
	}
	if ev.Type == game.EventGameStarted {
		if ev.WhiteID != "" {
			targets[ev.WhiteID] = struct{}{}
		}
		if ev.BlackID != "" {
			targets[ev.BlackID] = struct{}{}
		}
	}
	var subs []*Subscriber
	for uid := range targets {
		for sub := range d.byUser[uid] {
			subs = append(subs, sub)
		}
	}
	d.mu.RUnlock()

	for _, sub := range subs {
		sub.enqueue(ev)
	}
}
