package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"polymarket-mm/pkg/types"
)

const (
	wsPingInterval    = 30 * time.Second
	wsReadTimeout     = 60 * time.Second
	wsMaxReconnect    = 30 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// wsTickMessage is the expected envelope for a streamed rate update.
type wsTickMessage struct {
	Pair string `json:"pair"`
	Rate string `json:"rate"`
}

// WSRateFeed streams rate ticks over a WebSocket connection, reconnecting
// with exponential backoff. Adapted from the teacher's exchange.WSFeed
// Run/connectAndRead/pingLoop structure, generalized from Polymarket's
// book/price-change envelope to a plain {pair, rate} tick.
type WSRateFeed struct {
	url    string
	pairs  []string
	logger *slog.Logger
}

// NewWSRateFeed builds a WSRateFeed subscribing to the given pairs on connect.
func NewWSRateFeed(url string, pairs []string, logger *slog.Logger) *WSRateFeed {
	return &WSRateFeed{url: url, pairs: pairs, logger: logger.With("component", "rate-feed-ws")}
}

// Run implements RateFeed: reconnects forever until ctx is cancelled.
func (f *WSRateFeed) Run(ctx context.Context, sink Sink) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connectAndRead(ctx, sink); err != nil {
			f.logger.Warn("rate feed websocket disconnected", "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > wsMaxReconnect {
			backoff = wsMaxReconnect
		}
	}
}

func (f *WSRateFeed) connectAndRead(ctx context.Context, sink Sink) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "pairs": f.pairs}); err != nil {
		return err
	}

	stop := make(chan struct{})
	go f.pingLoop(conn, stop)
	defer close(stop)

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wsTickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("rate feed sent unparseable message", "error", err)
			continue
		}

		d, err := decimal.NewFromString(msg.Rate)
		if err != nil {
			f.logger.Warn("rate feed sent unparseable rate", "raw", msg.Rate, "error", err)
			continue
		}

		sink(msg.Pair, types.FromDecimal(d), time.Now().UnixMicro())
	}
}

func (f *WSRateFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
