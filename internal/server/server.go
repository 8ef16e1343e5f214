package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/park285/postal-chess/internal/dispatch"
	"github.com/park285/postal-chess/internal/game"
	"github.com/park285/postal-chess/internal/obslog"
	"github.com/park285/postal-chess/internal/session"
	"github.com/park285/postal-chess/internal/store"
	"github.com/park285/postal-chess/pkg/gamedto"
)

// storeRetries bounds the backoff retry for transient store failures.
// Validation errors are never retried; only ErrUnavailable qualifies.
const storeRetries = 3

// Server is the HTTP/websocket transport over the session core. Identity
// comes from the X-User-Id header set by the upstream auth gateway; token
// verification is not this service's concern.
type Server struct {
	core    *session.Core
	disp    *dispatch.Dispatcher
	origins []string
	http    *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithAllowedOrigins permits browser websocket handshakes from the given
// origin host patterns. Without it only same-host handshakes pass.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// New builds the server for the given listen address.
func New(addr string, core *session.Core, disp *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{core: core, disp: disp}
	for _, opt := range opts {
		opt(s)
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table; exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/games", s.handleCreateGame)
	mux.HandleFunc("GET /api/games", s.handleListGames)
	mux.HandleFunc("GET /api/games/{id}", s.handleGetGame)
	mux.HandleFunc("POST /api/games/{id}/moves", s.handleSubmitMove)
	mux.HandleFunc("POST /api/games/{id}/resign", s.handleResign)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Start begins serving; returns on listener failure or Shutdown.
func (s *Server) Start() error {
	obslog.L().Info("http_listen", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req gamedto.CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var g *game.Game
	err := withStoreRetry(r.Context(), func() error {
		var err error
		g, err = s.core.StartGame(r.Context(), userID, req.OpponentID, req.Color)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, gamedto.GameResponse{Game: toDTOGame(g)})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	list := s.core.GamesByUser
	if r.URL.Query().Get("active") == "true" {
		list = s.core.ActiveGamesByUser
	}
	games, err := list(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := gamedto.GameListResponse{Games: make([]gamedto.Game, 0, len(games))}
	for _, g := range games {
		out.Games = append(out.Games, toDTOGame(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	g, err := s.core.Game(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if g.Player(userID) == "" {
		writeJSONError(w, http.StatusForbidden, game.ErrNotParticipant.Error())
		return
	}
	moves, err := s.core.Moves(r.Context(), g.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := gamedto.GameResponse{Game: toDTOGame(g), Moves: make([]gamedto.Move, 0, len(moves))}
	for _, mv := range moves {
		resp.Moves = append(resp.Moves, toDTOMove(mv))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitMove(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req gamedto.SubmitMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var res *game.MoveResult
	err := withStoreRetry(r.Context(), func() error {
		var err error
		res, err = s.core.SubmitMove(r.Context(), r.PathValue("id"), userID, req.Move)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gamedto.MoveResponse{
		Move: toDTOMove(res.Move),
		Game: toDTOGame(res.Game),
	})
}

func (s *Server) handleResign(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var g *game.Game
	err := withStoreRetry(r.Context(), func() error {
		var err error
		g, err = s.core.Resign(r.Context(), r.PathValue("id"), userID)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gamedto.GameResponse{Game: toDTOGame(g)})
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing X-User-Id")
		return "", false
	}
	return userID, true
}

// withStoreRetry retries transient store failures with bounded backoff.
func withStoreRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < storeRetries; attempt++ {
		if err = fn(); !errors.Is(err, store.ErrUnavailable) {
			return err
		}
		delay := time.Duration(1<<attempt) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
	return err
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrInvalidPlayers),
		errors.Is(err, game.ErrIllegalMove),
		errors.Is(err, game.ErrNotYourTurn):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrGameNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrGameNotActive):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrNotParticipant):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, store.ErrConflict):
		writeJSONError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		obslog.L().Error("http_internal_error", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, gamedto.ErrorResponse{Error: msg})
}

func toDTOGame(g *game.Game) gamedto.Game {
	return gamedto.Game{
		ID:           g.ID,
		WhiteID:      g.WhiteID,
		BlackID:      g.BlackID,
		FEN:          g.FEN,
		Status:       string(g.Status),
		Turn:         string(g.Turn),
		MoveDeadline: g.MoveDeadline,
		CreatedAt:    g.CreatedAt,
		CompletedAt:  g.CompletedAt,
	}
}

func toDTOMove(mv *game.Move) gamedto.Move {
	return gamedto.Move{
		ID:        mv.ID,
		GameID:    mv.GameID,
		Number:    mv.Number,
		Color:     string(mv.Color),
		UCI:       mv.UCI,
		SAN:       mv.SAN,
		FENBefore: mv.FENBefore,
		FENAfter:  mv.FENAfter,
		PlayedAt:  mv.PlayedAt,
	}
}
