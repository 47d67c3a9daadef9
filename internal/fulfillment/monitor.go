// Package fulfillment polls an order's lifecycle until a terminal status is
// observed or a timeout elapses. A timeout deliberately does not assert the
// order's true final state; the caller reconciles by re-querying later.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ksred/coin-rotator/internal/exchange"
	"github.com/ksred/coin-rotator/internal/types"
)

// ErrMonitorTimeout means the order's outcome is unknown: neither success
// nor failure may be assumed until the order is re-queried.
var ErrMonitorTimeout = errors.New("order monitor timed out before a terminal status")

// OrderFailedError reports an order that reached a terminal non-filled
// status on the exchange.
type OrderFailedError struct {
	Order *types.Order
}

func (e *OrderFailedError) Error() string {
	return fmt.Sprintf("order %s terminated with status %s", e.Order.OrderID, e.Order.Status)
}

// OrderGetter is the single gateway call the monitor needs.
type OrderGetter interface {
	GetOrder(symbol, orderID string) (*types.Order, error)
}

// Monitor watches orders to completion.
type Monitor struct {
	gateway       OrderGetter
	interval      time.Duration
	timeout       time.Duration
	maxRetries    int
	acceptPartial bool
	logger        zerolog.Logger
}

// NewMonitor creates a monitor. acceptPartial treats PARTIALLY_FILLED as
// sufficient progress and returns early instead of waiting for a full fill.
func NewMonitor(gateway OrderGetter, interval, timeout time.Duration, maxRetries int, acceptPartial bool, logger zerolog.Logger) *Monitor {
	return &Monitor{
		gateway:       gateway,
		interval:      interval,
		timeout:       timeout,
		maxRetries:    maxRetries,
		acceptPartial: acceptPartial,
		logger:        logger.With().Str("component", "fulfillment").Logger(),
	}
}

// Wait polls the order until it fills, fails terminally, or the timeout
// elapses. Transient query errors are tolerated up to the retry budget
// before the wait is treated as a timeout.
func (m *Monitor) Wait(ctx context.Context, symbol, orderID string) (*types.Order, error) {
	logger := m.logger.With().Str("symbol", symbol).Str("order_id", orderID).Logger()

	deadline := time.NewTimer(m.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		order, err := m.gateway.GetOrder(symbol, orderID)
		switch {
		case err != nil && exchange.IsTransient(err):
			consecutiveFailures++
			logger.Warn().Err(err).Int("consecutive_failures", consecutiveFailures).Msg("transient error polling order")
			if consecutiveFailures > m.maxRetries {
				return nil, fmt.Errorf("order polling failed %d times (%v): %w", consecutiveFailures, err, ErrMonitorTimeout)
			}
		case err != nil:
			return nil, fmt.Errorf("query order %s: %w", orderID, err)
		default:
			consecutiveFailures = 0
			if order.Status == types.OrderStatusFilled {
				logger.Info().Float64("executed_qty", order.ExecutedQty).Msg("order filled")
				return order, nil
			}
			if order.Status == types.OrderStatusPartiallyFilled && m.acceptPartial {
				logger.Info().
					Float64("executed_qty", order.ExecutedQty).
					Float64("quantity", order.Quantity).
					Msg("accepting partial fill")
				return order, nil
			}
			if order.Status.Failed() {
				logger.Warn().Str("status", string(order.Status)).Msg("order terminated without filling")
				return nil, &OrderFailedError{Order: order}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			logger.Warn().Dur("timeout", m.timeout).Msg("gave up waiting for terminal order status")
			return nil, ErrMonitorTimeout
		case <-ticker.C:
		}
	}
}
