package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const streamBaseURL = "wss://stream.binance.com:9443/stream"

// Stream maintains a live price cache from the combined miniTicker
// websocket stream. It reconnects with a fixed delay on read errors and
// keeps running until its context is cancelled. Consumers check the
// timestamp of each cached price and fall back to REST when stale.
type Stream struct {
	symbols []string
	logger  zerolog.Logger

	mu     sync.RWMutex
	prices map[string]streamPrice
}

type streamPrice struct {
	price float64
	at    time.Time
}

type miniTicker struct {
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	EventTime int64  `json:"E"`
}

// NewStream creates a stream for the given symbols.
func NewStream(symbols []string, logger zerolog.Logger) *Stream {
	return &Stream{
		symbols: symbols,
		logger:  logger.With().Str("component", "price_stream").Logger(),
		prices:  make(map[string]streamPrice),
	}
}

// Price returns the cached price for a symbol and when it was observed.
func (s *Stream) Price(symbol string) (float64, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p.price, p.at, ok
}

// Run connects and consumes ticker events until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) {
	streams := make([]string, len(s.symbols))
	for i, symbol := range s.symbols {
		streams[i] = strings.ToLower(symbol) + "@miniTicker"
	}
	wsURL := fmt.Sprintf("%s?streams=%s", streamBaseURL, strings.Join(streams, "/"))

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("stream connection failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		s.logger.Info().Int("symbols", len(s.symbols)).Msg("price stream connected")

		s.consume(ctx, conn)
		conn.Close()
	}
}

func (s *Stream) consume(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadJSON when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var message struct {
			Stream string     `json:"stream"`
			Data   miniTicker `json:"data"`
		}
		if err := conn.ReadJSON(&message); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("stream read error, reconnecting")
			}
			return
		}

		price, err := strconv.ParseFloat(message.Data.Close, 64)
		if err != nil || price <= 0 {
			continue
		}

		s.mu.Lock()
		s.prices[message.Data.Symbol] = streamPrice{
			price: price,
			at:    time.UnixMilli(message.Data.EventTime),
		}
		s.mu.Unlock()
	}
}
