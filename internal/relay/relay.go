package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hieudt/vnrelay/internal/auth"
	"github.com/hieudt/vnrelay/internal/hours"
	"github.com/hieudt/vnrelay/internal/upstream"
)

// Authenticator exchanges provider credentials for an upstream token.
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (auth.Token, error)
}

// FeedController starts and stops background ingestion feeds. Implemented
// by the persist supervisor.
type FeedController interface {
	StartFeed(ctx context.Context, asset string) error
	StopFeed(ctx context.Context, asset string) error
}

// Config holds the stream handler settings.
type Config struct {
	// Credentials are the provider account credentials used to obtain a
	// fresh upstream token per connection attempt.
	Credentials auth.Credentials

	BrokerURL   string
	TopicPrefix string

	// AccessToken, when set, is the expected value of the ?token= query
	// parameter. Empty accepts any non-empty token. The token rides in the
	// URL because EventSource cannot set request headers.
	AccessToken string

	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration
}

// Handler serves the SSE stream and control-plane routes.
type Handler struct {
	cfg    Config
	gate   hours.Gate
	authn  Authenticator
	opener upstream.Opener
	ctrl   FeedController
	logger *slog.Logger

	// now is a seam for trading-hours tests.
	now func() time.Time
}

// NewHandler creates the HTTP handler.
func NewHandler(cfg Config, gate hours.Gate, authn Authenticator, opener upstream.Opener, ctrl FeedController, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:    cfg,
		gate:   gate,
		authn:  authn,
		opener: opener,
		ctrl:   ctrl,
		logger: logger,
		now:    time.Now,
	}
}

// Register installs the relay routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream", h.handleStream)
	mux.HandleFunc("POST /feed/{asset}/start", h.handleFeedStart)
	mux.HandleFunc("POST /feed/{asset}/stop", h.handleFeedStop)
}

// handleStream serves GET /stream?symbols=<csv>&token=<bearer>.
//
// Order matters: parameter validation and the trading-hours gate run before
// any network side effect, so a closed market costs no upstream calls.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	symbols := splitSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		http.Error(w, "Missing symbols parameter", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token parameter", http.StatusBadRequest)
		return
	}
	if h.cfg.AccessToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AccessToken)) != 1 {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	if !h.gate.IsOpen(h.now()) {
		http.Error(w, "Market closed", http.StatusForbidden)
		return
	}

	if h.cfg.Credentials.Username == "" || h.cfg.Credentials.Password == "" ||
		h.cfg.Credentials.InvestorID == "" || h.cfg.BrokerURL == "" {
		http.Error(w, "Server misconfigured", http.StatusInternalServerError)
		return
	}

	upToken, err := h.authn.Authenticate(r.Context(), h.cfg.Credentials)
	if err != nil {
		h.logger.Warn("upstream authentication failed", "error", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	src, err := h.opener.Open(r.Context(), upstream.SessionConfig{
		URL:              h.cfg.BrokerURL,
		InvestorID:       upToken.IssuedTo,
		Token:            upToken.Value,
		Symbols:          symbols,
		TopicPrefix:      h.cfg.TopicPrefix,
		HandshakeTimeout: h.cfg.HandshakeTimeout,
		ReconnectDelay:   h.cfg.ReconnectDelay,
	})
	if err != nil {
		h.logger.Warn("upstream connection failed", "error", err, "symbols", symbols)
		http.Error(w, "Upstream connection failed", http.StatusBadGateway)
		return
	}

	// One teardown path regardless of who ends the stream; leaking the
	// session leaks a broker connection and its client id.
	closeSession := sync.OnceFunc(func() {
		if err := src.Close(); err != nil {
			h.logger.Warn("session close failed", "error", err)
		}
	})
	defer closeSession()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("stream opened", "symbols", symbols)

	for {
		select {
		case <-r.Context().Done():
			// Client disconnected; tear down the upstream before returning.
			closeSession()
			h.logger.Info("stream cancelled by client", "symbols", symbols)
			return

		case ev, open := <-src.Events():
			if !open {
				return
			}
			switch ev.Type {
			case upstream.EventTick:
				data, err := json.Marshal(ev.Tick)
				if err != nil {
					h.logger.Warn("tick marshal failed", "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					closeSession()
					return
				}
				flusher.Flush()

			case upstream.EventError:
				h.logger.Warn("stream ended by upstream error", "error", ev.Err)
				closeSession()
				return

			case upstream.EventClosed:
				return
			}
		}
	}
}

func (h *Handler) handleFeedStart(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if err := h.ctrl.StartFeed(r.Context(), asset); err != nil {
		h.logger.Error("feed start failed", "asset", asset, "error", err)
		http.Error(w, "Feed start failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"asset": asset, "running": true})
}

func (h *Handler) handleFeedStop(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if err := h.ctrl.StopFeed(r.Context(), asset); err != nil {
		h.logger.Error("feed stop failed", "asset", asset, "error", err)
		http.Error(w, "Feed stop failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"asset": asset, "running": false})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// splitSymbols parses the comma-separated symbols parameter, dropping
// empty entries.
func splitSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			symbols = append(symbols, strings.ToUpper(p))
		}
	}
	return symbols
}
