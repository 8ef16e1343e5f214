package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/postal-chess/pkg/gamedto"
)

func dialWS(t *testing.T, e *testEnv, userID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := strings.Replace(e.srv.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-User-Id": []string{userID}},
	})
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) gamedto.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg gamedto.ServerMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	return msg
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg gamedto.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		t.Fatalf("ws write: %v", err)
	}
}

func TestWS_OriginAllowList(t *testing.T) {
	e := newTestEnv(t, WithAllowedOrigins([]string{"app.example.com"}))

	dial := func(origin string) (*websocket.Conn, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		url := strings.Replace(e.srv.URL, "http://", "ws://", 1) + "/ws"
		conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{
				"X-User-Id": []string{"alice"},
				"Origin":    []string{origin},
			},
		})
		return conn, err
	}

	if _, err := dial("https://evil.example.com"); err == nil {
		t.Fatal("handshake accepted from unlisted origin")
	}

	conn, err := dial("https://app.example.com")
	if err != nil {
		t.Fatalf("handshake from allowed origin: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	writeMessage(t, conn, gamedto.ClientMessage{Type: "ping"})
	if msg := readMessage(t, conn); msg.Type != "pong" {
		t.Fatalf("reply = %+v, want pong", msg)
	}
}

func TestWS_PingPong(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e, "alice")
	writeMessage(t, conn, gamedto.ClientMessage{Type: "ping"})
	if msg := readMessage(t, conn); msg.Type != "pong" {
		t.Fatalf("reply = %+v, want pong", msg)
	}
}

func TestWS_UnknownTypeReportsError(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e, "alice")
	writeMessage(t, conn, gamedto.ClientMessage{Type: "teleport"})
	msg := readMessage(t, conn)
	if msg.Type != "error" || msg.Message == "" {
		t.Fatalf("reply = %+v, want error", msg)
	}
}

func TestWS_GameStartedPushedToPlayers(t *testing.T) {
	e := newTestEnv(t)
	conn := dialWS(t, e, "bob")

	g := e.createGame(t, "alice", "bob", "white")

	msg := readMessage(t, conn)
	if msg.Type != "game_started" || msg.GameID != g.ID {
		t.Fatalf("push = %+v", msg)
	}
	if msg.WhiteID != "alice" || msg.BlackID != "bob" {
		t.Fatalf("players = %s/%s", msg.WhiteID, msg.BlackID)
	}
}

func TestWS_SubscribeReceivesMovesAndStatus(t *testing.T) {
	e := newTestEnv(t)
	g := e.createGame(t, "alice", "bob", "white")

	conn := dialWS(t, e, "bob")
	writeMessage(t, conn, gamedto.ClientMessage{Type: "subscribe", GameID: g.ID})
	// Round-trip a ping so the subscribe is processed before the move lands.
	writeMessage(t, conn, gamedto.ClientMessage{Type: "ping"})
	if msg := readMessage(t, conn); msg.Type != "pong" {
		t.Fatalf("reply = %+v, want pong", msg)
	}

	resp, _ := e.do(t, http.MethodPost, "/api/games/"+g.ID+"/moves", "alice",
		gamedto.SubmitMoveRequest{Move: "e2e4"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move status = %d", resp.StatusCode)
	}

	msg := readMessage(t, conn)
	if msg.Type != "move_made" || msg.MoveUCI != "e2e4" || msg.MoveSAN != "e4" {
		t.Fatalf("push = %+v", msg)
	}
	if msg.FEN == "" || msg.Deadline == nil {
		t.Fatalf("push missing position or deadline: %+v", msg)
	}

	resp, _ = e.do(t, http.MethodPost, "/api/games/"+g.ID+"/resign", "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resign status = %d", resp.StatusCode)
	}
	msg = readMessage(t, conn)
	if msg.Type != "game_status_changed" || msg.Status != "white_won" || msg.Reason != "resignation" {
		t.Fatalf("push = %+v", msg)
	}
}

func TestWS_UnsubscribeStopsPush(t *testing.T) {
	e := newTestEnv(t)
	g := e.createGame(t, "alice", "bob", "white")

	conn := dialWS(t, e, "bob")
	writeMessage(t, conn, gamedto.ClientMessage{Type: "subscribe", GameID: g.ID})
	writeMessage(t, conn, gamedto.ClientMessage{Type: "unsubscribe", GameID: g.ID})
	writeMessage(t, conn, gamedto.ClientMessage{Type: "ping"})
	if msg := readMessage(t, conn); msg.Type != "pong" {
		t.Fatalf("reply = %+v, want pong", msg)
	}

	resp, _ := e.do(t, http.MethodPost, "/api/games/"+g.ID+"/moves", "alice",
		gamedto.SubmitMoveRequest{Move: "e2e4"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var msg gamedto.ServerMessage
	if err := wsjson.Read(ctx, conn, &msg); err == nil {
		t.Fatalf("unexpected push after unsubscribe: %+v", msg)
	}
}
