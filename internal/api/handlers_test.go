package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polymarket-mm/internal/catalog"
	"polymarket-mm/internal/circuit"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/position"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog() *catalog.Catalog {
	return catalog.New(config.CatalogConfig{Products: []config.ProductConfig{
		{Symbol: "BTC-PERP", Category: "perpetual", Active: true},
	}})
}

func newTestHandlers() *Handlers {
	cat := testCatalog()
	pos := position.NewManager(cat, nil)
	brk := circuit.NewManager(circuit.DefaultConfig())
	return NewHandlers(cat, pos, brk, config.AdminAPIConfig{}, NewHub(testLogger()), testLogger())
}

func TestHandleHealthReturnsOK(t *testing.T) {
	h := newTestHandlers()
	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleProductsListsActiveCatalogEntries(t *testing.T) {
	h := newTestHandlers()
	rr := httptest.NewRecorder()
	h.HandleProducts(rr, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	var body []map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 || body[0]["Symbol"] != "BTC-PERP" {
		t.Fatalf("products = %+v", body)
	}
	if body[0]["circuit_state"] != "NORMAL" {
		t.Errorf("circuit_state = %v, want NORMAL", body[0]["circuit_state"])
	}
}

func TestHandleAccountRequiresUserParam(t *testing.T) {
	h := newTestHandlers()
	rr := httptest.NewRecorder()
	h.HandleAccount(rr, httptest.NewRequest(http.MethodGet, "/api/account", nil))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHandleAccountReturnsDeposit(t *testing.T) {
	cat := testCatalog()
	pos := position.NewManager(cat, nil)
	if err := pos.Deposit("alice", 5_000_000, time.Unix(0, 0)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	h := NewHandlers(cat, pos, circuit.NewManager(circuit.DefaultConfig()), config.AdminAPIConfig{}, NewHub(testLogger()), testLogger())

	rr := httptest.NewRecorder()
	h.HandleAccount(rr, httptest.NewRequest(http.MethodGet, "/api/account?user=alice", nil))

	var body position.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Available != 5_000_000 {
		t.Errorf("Available = %d, want 5_000_000", body.Available)
	}
}

func TestIsOriginAllowedDefaultsToLocalhost(t *testing.T) {
	cfg := config.AdminAPIConfig{}
	if !isOriginAllowed("http://localhost:3000", cfg, "localhost:8081") {
		t.Error("expected localhost origin to be allowed by default")
	}
	if isOriginAllowed("http://evil.example", cfg, "localhost:8081") {
		t.Error("expected unrelated origin to be rejected by default")
	}
}

func TestIsOriginAllowedHonorsAllowList(t *testing.T) {
	cfg := config.AdminAPIConfig{AllowedOrigins: []string{"https://admin.example.com"}}
	if !isOriginAllowed("https://admin.example.com", cfg, "exchange:8081") {
		t.Error("expected allow-listed origin to pass")
	}
	if isOriginAllowed("https://other.example.com", cfg, "exchange:8081") {
		t.Error("expected non-allow-listed origin to be rejected")
	}
}
