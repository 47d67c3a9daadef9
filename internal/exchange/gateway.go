package exchange

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/ksred/coin-rotator/internal/types"
)

// Gateway is the surface the trading engine needs from an exchange. The
// exchange is the authority on prices, constraints and order state; every
// call may fail transiently (network, rate limit) or permanently (rejection).
type Gateway interface {
	GetPrice(symbol string) (float64, error)
	GetAllPrices() (map[string]float64, error)
	GetSymbolConstraints(symbol string) (types.SymbolConstraints, error)
	GetTradeFees(symbol string) (types.TradeFees, error)
	PlaceMarketOrder(symbol string, side types.Side, quantity float64) (*types.Order, error)
	PlaceLimitOrder(symbol string, side types.Side, quantity, price float64) (*types.Order, error)
	GetOrder(symbol, orderID string) (*types.Order, error)
	GetBalance(asset string) (float64, error)
}

// APIError captures structured error info returned by the exchange.
// Transient errors (rate limits, 5xx, network failures) may be retried;
// permanent errors are rejections and must not be.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Transient  bool
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("exchange API error %d (code=%d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange API error %d", e.StatusCode)
}

// IsTransient reports whether err is worth retrying: an APIError flagged
// transient, or any network-level failure.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// WithRetry runs fn up to attempts times, backing off between transient
// failures. Permanent errors abort immediately.
func WithRetry(logger zerolog.Logger, attempts int, fn func() error) error {
	backoff := 500 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		logger.Warn().
			Err(err).
			Int("attempt", i+1).
			Int("max_attempts", attempts).
			Dur("backoff", backoff).
			Msg("transient gateway error, retrying")
		time.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("gateway call failed after %d attempts: %w", attempts, err)
}
