package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"polymarket-mm/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPRateFeedPollsAndSinksTicks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pair := r.URL.Query().Get("pair")
		_ = json.NewEncoder(w).Encode(ratePayload{Pair: pair, Rate: "3450.50"})
	}))
	defer srv.Close()

	f := NewHTTPRateFeed(srv.URL, []string{"USD/MNT"}, 50*time.Millisecond, discardLogger())

	var mu sync.Mutex
	var got []Tick
	sink := func(pair string, rate types.Price, observedAt int64) {
		mu.Lock()
		got = append(got, Tick{Pair: pair, Rate: rate, ObservedAt: observedAt})
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	f.Run(ctx, sink)

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("expected at least one tick from HTTPRateFeed")
	}
	if got[0].Pair != "USD/MNT" {
		t.Fatalf("Pair = %q, want USD/MNT", got[0].Pair)
	}
	if got[0].Rate != 3450_500000 {
		t.Fatalf("Rate = %d, want 3450500000", got[0].Rate)
	}
}

func TestHTTPRateFeedSkipsUnparseableRate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ratePayload{Pair: "USD/MNT", Rate: "not-a-number"})
	}))
	defer srv.Close()

	f := NewHTTPRateFeed(srv.URL, []string{"USD/MNT"}, time.Hour, discardLogger())

	var calls int
	sink := func(pair string, rate types.Price, observedAt int64) { calls++ }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f.pollOnce(ctx, sink)

	if calls != 0 {
		t.Fatalf("expected sink not to be called for unparseable rate, got %d calls", calls)
	}
}
