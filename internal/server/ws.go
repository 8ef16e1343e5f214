package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/postal-chess/internal/game"
	"github.com/park285/postal-chess/internal/obslog"
	"github.com/park285/postal-chess/pkg/gamedto"
)

const wsWriteTimeout = 10 * time.Second

// wsConn serializes writes to one websocket. The event pump and the
// control loop both write, so every send goes through write().
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(ctx context.Context, msg gamedto.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.conn, msg)
}

// handleWS upgrades to a websocket and pumps dispatcher events to the
// client. Game subscriptions are per connection user, managed by
// subscribe/unsubscribe control messages.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}
	c := &wsConn{conn: conn}
	defer conn.Close(websocket.StatusInternalError, "closing")

	sub := s.disp.Register(userID)
	defer s.disp.Unregister(sub)

	obslog.L().Info("ws_open", zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for ev := range sub.Events() {
			if sub.Degraded() {
				sub.ResetDegraded()
				_ = c.write(ctx, gamedto.ServerMessage{
					Type:    "error",
					Message: "event queue overflowed, resynchronize via the game API",
				})
			}
			if err := c.write(ctx, toServerMessage(ev)); err != nil {
				return
			}
		}
	}()

	for {
		var msg gamedto.ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			obslog.L().Info("ws_close", zap.String("user_id", userID))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.GameID != "" {
				s.disp.Subscribe(userID, msg.GameID)
			}
		case "unsubscribe":
			if msg.GameID != "" {
				s.disp.Unsubscribe(userID, msg.GameID)
			}
		case "ping":
			_ = c.write(ctx, gamedto.ServerMessage{Type: "pong"})
		default:
			_ = c.write(ctx, gamedto.ServerMessage{
				Type:    "error",
				Message: "unknown message type: " + msg.Type,
			})
		}
	}
}

func toServerMessage(ev game.Event) gamedto.ServerMessage {
	msg := gamedto.ServerMessage{Type: string(ev.Type), GameID: ev.GameID}
	switch ev.Type {
	case game.EventGameStarted:
		msg.WhiteID = ev.WhiteID
		msg.BlackID = ev.BlackID
	case game.EventMoveMade:
		if ev.Move != nil {
			msg.MoveSAN = ev.Move.SAN
			msg.MoveUCI = ev.Move.UCI
		}
		msg.FEN = ev.FEN
		msg.Deadline = ev.Deadline
	case game.EventGameStatusChanged:
		msg.Status = string(ev.Status)
		msg.Winner = string(ev.Winner)
		msg.Reason = ev.Reason
	case game.EventDeadlineWarning:
		msg.TimeRemaining = int64(ev.Remaining / time.Second)
	}
	return msg
}
