// Package stream implements the StreamGateway (C11): token-gated,
// single-use SSE delivery of one generation's event stream, grounded on the
// teacher's pkg/monitor.HTTPMonitor.handleEvents SSE loop — generalized from
// monitor's shared-history/fan-out-to-many-subscribers model to the
// EventBus's per-generation, single-subscriber, token-bound model (§4.5).
package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/genforge-dev/genforge/internal/logger"
	"github.com/genforge-dev/genforge/pkg/events"
)

// Config tunes the gateway's keep-alive behavior (§4.5, §6).
type Config struct {
	// HeartbeatInterval is how often an idle connection gets a comment-only
	// keep-alive line. Zero selects the default (15s).
	HeartbeatInterval time.Duration
	// IdleTimeout closes the connection after this long with no event and no
	// heartbeat acknowledgement path issue; it does not fail the generation
	// itself (§4.5: "does not mark the generation failed"). Zero selects the
	// default (5m).
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	return c
}

// Gateway issues SSE tokens and serves the token-gated event stream for a
// generation (C11).
type Gateway struct {
	bus    *events.Bus
	tokens *tokenStore
	cfg    Config
}

// NewGateway builds a Gateway delivering events from bus.
func NewGateway(bus *events.Bus, cfg Config) *Gateway {
	return &Gateway{bus: bus, tokens: newTokenStore(), cfg: cfg.withDefaults()}
}

// IssueToken mints a single-use SSE token for userID to stream generationID,
// for embedding in a Submit/Iterate response's sse_token field (§6).
func (g *Gateway) IssueToken(userID, generationID string) (string, error) {
	return g.tokens.issue(userID, generationID)
}

// ServeHTTP streams one generation's events as Server-Sent Events. The
// caller is expected to mount this behind a route exposing the token as a
// query parameter or path segment and extracting it before calling Serve;
// ServeHTTP itself expects it at ?token=.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.Serve(w, r, r.URL.Query().Get("token"))
}

// Serve streams the generation bound to token as SSE, enforcing single-use
// claim, heartbeats, and the idle timeout. Call this directly when the
// transport layer extracts the token by a means other than a query
// parameter (e.g. a path segment).
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, token string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	generationID, ok := g.tokens.claim(token)
	if !ok {
		http.Error(w, "invalid or expired stream token", http.StatusUnauthorized)
		return
	}
	defer g.tokens.release(token)

	ch, ok := g.bus.Subscribe(generationID)
	if !ok {
		http.Error(w, "generation already has an active subscriber", http.StatusConflict)
		return
	}
	defer g.bus.Unsubscribe(generationID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(g.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	idle := time.NewTimer(g.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, open := <-ch:
			if !open {
				// Terminal event already delivered and the stream closed;
				// nothing further to send.
				return
			}
			if !writeEvent(w, flusher, event) {
				return
			}
			if event.Status.IsTerminal() {
				g.bus.Remove(generationID)
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(g.cfg.IdleTimeout)

		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-idle.C:
			// Idle disconnect is not a generation failure (§4.5): the
			// generation keeps processing, a later reconnect with a fresh
			// token picks the stream back up from the bus's buffer.
			logger.GetLogger().Info().Str("generation_id", generationID).
				Msg("sse stream idle timeout, closing connection")
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event events.Event) bool {
	data, err := json.Marshal(event.Wire())
	if err != nil {
		return false
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
