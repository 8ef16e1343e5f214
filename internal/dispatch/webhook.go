package dispatch

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/postal-chess/internal/game"
	"github.com/park285/postal-chess/internal/obslog"
)

// Webhook posts every domain event as JSON to a configured endpoint, for
// operators that bridge notifications into external systems (mail relays,
// chat bots). Delivery is fire-and-forget: failures are logged and never
// retried, and a slow endpoint cannot stall the event path.
type Webhook struct {
	url    string
	http   *fasthttp.Client
	sem    chan struct{}
	fields func() map[string]string
}

// WebhookOption configures the sink.
type WebhookOption func(*Webhook)

// WithStaticHeaders injects headers into every delivery.
func WithStaticHeaders(h func() map[string]string) WebhookOption {
	return func(w *Webhook) { w.fields = h }
}

// NewWebhook builds the sink; url must be non-empty.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url: strings.TrimSpace(url),
		http: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 16,
		},
		sem: make(chan struct{}, 8),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookPayload struct {
	Type      string     `json:"type"`
	GameID    string     `json:"game_id"`
	WhiteID   string     `json:"white_id,omitempty"`
	BlackID   string     `json:"black_id,omitempty"`
	FEN       string     `json:"fen,omitempty"`
	Move      *game.Move `json:"move,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	Status    string     `json:"status,omitempty"`
	Winner    string     `json:"winner,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Remaining int64      `json:"remaining_seconds,omitempty"`
}

// Publish implements game.Sink.
func (w *Webhook) Publish(ev game.Event) {
	if w == nil || w.url == "" {
		return
	}
	select {
	case w.sem <- struct{}{}:
	default:
		obslog.L().Warn("webhook_drop", zap.String("game_id", ev.GameID), zap.String("event", string(ev.Type)))
		return
	}
	go func() {
		defer func() { <-w.sem }()
		w.deliver(ev)
	}()
}

func (w *Webhook) deliver(ev game.Event) {
	payload, err := json.Marshal(webhookPayload{
		Type:      string(ev.Type),
		GameID:    ev.GameID,
		WhiteID:   ev.WhiteID,
		BlackID:   ev.BlackID,
		FEN:       ev.FEN,
		Move:      ev.Move,
		Deadline:  ev.Deadline,
		Status:    string(ev.Status),
		Winner:    string(ev.Winner),
		Reason:    ev.Reason,
		Remaining: int64(ev.Remaining / time.Second),
	})
	if err != nil {
		obslog.L().Error("webhook_marshal_error", zap.Error(err))
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.url)
	req.Header.SetContentType("application/json")
	if w.fields != nil {
		for k, v := range w.fields() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	req.SetBody(payload)

	if err := w.http.DoTimeout(req, resp, 10*time.Second); err != nil {
		obslog.L().Warn("webhook_error",
			zap.String("game_id", ev.GameID),
			zap.String("event", string(ev.Type)),
			zap.Error(err),
		)
		return
	}
	if code := resp.StatusCode(); code >= 300 {
		obslog.L().Warn("webhook_status",
			zap.String("game_id", ev.GameID),
			zap.String("event", string(ev.Type)),
			zap.Int("status", code),
		)
	}
}
