package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"polymarket-mm/internal/catalog"
	"polymarket-mm/internal/circuit"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/position"
)

// Handlers holds every HTTP handler's dependencies: read-only accessors
// into the live catalog, position manager, and circuit breaker, plus the
// WebSocket hub for the event stream. No handler ever mutates state —
// every write still goes through the sequencer (internal/sequencer), not
// this package.
type Handlers struct {
	cat    *catalog.Catalog
	pos    *position.Manager
	brk    *circuit.Manager
	cfg    config.AdminAPIConfig
	hub    *Hub
	logger *slog.Logger
}

// NewHandlers builds a Handlers.
func NewHandlers(cat *catalog.Catalog, pos *position.Manager, brk *circuit.Manager, cfg config.AdminAPIConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		cat:    cat,
		pos:    pos,
		brk:    brk,
		cfg:    cfg,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// HandleProducts lists every active instrument in the catalog with its
// current mark/last/funding fields and circuit breaker state; inactive
// products are not listed.
func (h *Handlers) HandleProducts(w http.ResponseWriter, r *http.Request) {
	type productView struct {
		catalog.Snapshot
		CircuitState string `json:"circuit_state"`
	}

	var out []productView
	for _, snap := range h.cat.Active() {
		out = append(out, productView{Snapshot: snap, CircuitState: h.brk.State(snap.Symbol).String()})
	}
	h.writeJSON(w, out)
}

// HandleAccount returns one user's balance and open positions. The user
// is named by the "user" query parameter since net/http's ServeMux in the
// module's Go version has no path-parameter syntax.
func (h *Handlers) HandleAccount(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}
	h.writeJSON(w, h.pos.Account(user))
}

// HandleWebSocket upgrades the connection to a read-only event stream.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}

func isOriginAllowed(origin string, cfg config.AdminAPIConfig, reqHost string) bool {
	if origin == "" {
		// Non-browser clients often omit Origin; keep this path functional.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
