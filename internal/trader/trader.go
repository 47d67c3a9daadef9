// Package trader holds the position state machine: the single writer of the
// current-holding record. Capital is either idle in the bridge asset or held
// in exactly one coin; every transition is persisted before it is trusted,
// and any order whose outcome is unknown blocks further trading until it has
// been reconciled against the exchange.
package trader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ksred/coin-rotator/internal/config"
	"github.com/ksred/coin-rotator/internal/exchange"
	"github.com/ksred/coin-rotator/internal/fulfillment"
	"github.com/ksred/coin-rotator/internal/metrics"
	"github.com/ksred/coin-rotator/internal/sizing"
	"github.com/ksred/coin-rotator/internal/storage"
	"github.com/ksred/coin-rotator/internal/types"
)

// Store is the slice of the state store the trader writes through.
type Store interface {
	GetPosition() (*storage.Position, error)
	SetPosition(*storage.Position) error
	AppendLedgerEntry(*storage.TradeLedgerEntry) error
	AppendPricePoint(symbol string, price float64, at time.Time) error
	PriceWindow(symbol string, since time.Time) ([]storage.PricePoint, error)
	PrunePriceHistory(before time.Time) error
	PruneValueSnapshots(before time.Time) error
	AppendValueSnapshot(*storage.ValueSnapshot) error
}

// Waiter blocks until an order reaches a terminal status or times out.
type Waiter interface {
	Wait(ctx context.Context, symbol, orderID string) (*types.Order, error)
}

// Trader is the position state machine. It is driven from a single
// scheduler goroutine; nothing else writes the position.
type Trader struct {
	gateway exchange.Gateway
	store   Store
	monitor Waiter
	cfg     *config.Config
	logger  zerolog.Logger

	position *storage.Position
}

// NewTrader wires the state machine to its collaborators.
func NewTrader(gateway exchange.Gateway, store Store, monitor Waiter, cfg *config.Config, logger zerolog.Logger) *Trader {
	return &Trader{
		gateway: gateway,
		store:   store,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.With().Str("component", "trader").Logger(),
	}
}

// Position returns the current in-memory position.
func (t *Trader) Position() *storage.Position {
	return t.position
}

// Restore loads persisted state. On a first run it records an idle position
// and enters an initial coin; an entry failure is contained, leaving the
// bot idle and scouting. A pending order from a previous run is reconciled
// before trading resumes.
func (t *Trader) Restore() error {
	pos, err := t.store.GetPosition()
	if err != nil {
		return fmt.Errorf("restore position: %w", err)
	}

	if pos == nil {
		pos = &storage.Position{}
		if err := t.store.SetPosition(pos); err != nil {
			return fmt.Errorf("persist initial position: %w", err)
		}
		t.position = pos

		coin := t.cfg.InitialCoin
		if coin == "" {
			coin = t.cfg.SupportedCoins[rand.Intn(len(t.cfg.SupportedCoins))]
		}
		t.logger.Info().Str("coin", coin).Msg("no prior state, entering initial coin")
		if err := t.BuyCoin(coin); err != nil {
			t.logger.Warn().Err(err).Str("coin", coin).Msg("initial entry failed, staying idle")
		}
		return nil
	}

	t.position = pos
	t.logger.Info().
		Str("coin", pos.Coin).
		Float64("entry_price", pos.EntryPrice).
		Str("pending_order_id", pos.PendingOrderID).
		Msg("restored position")

	if pos.PendingOrderID != "" {
		if err := t.Reconcile(); err != nil {
			// Not fatal: the pending order stays recorded and blocks
			// trading until a later reconcile succeeds.
			t.logger.Warn().Err(err).Msg("startup reconciliation incomplete")
		}
	}
	return nil
}

// Reconcile re-queries a pending order and applies its true outcome. It is
// the only path back to trading after a monitor timeout or a crash
// mid-order.
func (t *Trader) Reconcile() error {
	pos := t.position
	if pos.PendingOrderID == "" {
		return nil
	}
	logger := t.logger.With().
		Str("order_id", pos.PendingOrderID).
		Str("symbol", pos.PendingSymbol).
		Logger()
	logger.Info().Msg("reconciling pending order")

	var order *types.Order
	err := exchange.WithRetry(logger, t.cfg.MaxRetries, func() error {
		var qErr error
		order, qErr = t.gateway.GetOrder(pos.PendingSymbol, pos.PendingOrderID)
		return qErr
	})
	if err != nil {
		metrics.IncGatewayError(exchange.IsTransient(err))
		return fmt.Errorf("reconcile order %s: %w", pos.PendingOrderID, err)
	}

	if !order.Status.Terminal() && !(order.Status == types.OrderStatusPartiallyFilled && t.cfg.AcceptPartialFills) {
		order, err = t.monitor.Wait(context.Background(), pos.PendingSymbol, pos.PendingOrderID)
		if err != nil {
			var failed *fulfillment.OrderFailedError
			if errors.As(err, &failed) {
				return t.applyOutcome(failed.Order)
			}
			return err
		}
	}
	return t.applyOutcome(order)
}

// BuyCoin enters a position with a market buy sized from the configured
// notional. The position only transitions once a fill is confirmed; any
// rejection or timeout leaves the previous state authoritative.
func (t *Trader) BuyCoin(coin string) error {
	if t.position.Holding() {
		return nil
	}
	if t.position.PendingOrderID != "" {
		return fmt.Errorf("order %s is unresolved, refusing to trade", t.position.PendingOrderID)
	}

	symbol := t.cfg.Symbol(coin)
	logger := t.logger.With().Str("symbol", symbol).Str("side", "BUY").Logger()

	constraints, price, err := t.symbolContext(symbol)
	if err != nil {
		return err
	}

	quantity, err := sizing.BuyQuantity(constraints, t.cfg.BuyNotional, price)
	if err != nil {
		return fmt.Errorf("size buy for %s: %w", symbol, err)
	}

	logger.Info().Float64("quantity", quantity).Float64("price", price).Msg("placing market buy")
	order, err := t.gateway.PlaceMarketOrder(symbol, types.SideBuy, quantity)
	if err != nil {
		metrics.IncOrder("BUY", "failed")
		metrics.IncGatewayError(exchange.IsTransient(err))
		return fmt.Errorf("place buy for %s: %w", symbol, err)
	}

	return t.trackOrder(order)
}

// SellCoin liquidates the held coin with a market sell.
func (t *Trader) SellCoin(coin string) error {
	return t.liquidate(coin, func(symbol string, quantity float64, _ types.SymbolConstraints) (*types.Order, error) {
		return t.gateway.PlaceMarketOrder(symbol, types.SideSell, quantity)
	})
}

// SellCoinAtTarget liquidates with a limit sell at the fee-adjusted profit
// target. Both fee legs are assumed to pay the taker rate, the worst case.
func (t *Trader) SellCoinAtTarget(coin string) error {
	return t.liquidate(coin, func(symbol string, quantity float64, constraints types.SymbolConstraints) (*types.Order, error) {
		var fees types.TradeFees
		err := exchange.WithRetry(t.logger, t.cfg.MaxRetries, func() error {
			var fErr error
			fees, fErr = t.gateway.GetTradeFees(symbol)
			return fErr
		})
		if err != nil {
			metrics.IncGatewayError(exchange.IsTransient(err))
			return nil, fmt.Errorf("fetch fees for %s: %w", symbol, err)
		}

		target := sizing.ProfitTarget(t.position.EntryPrice, fees.TakerRate, fees.TakerRate, t.cfg.NetProfitTarget)
		limitPrice, err := sizing.LimitPrice(constraints, target)
		if err != nil {
			return nil, fmt.Errorf("price sell for %s: %w", symbol, err)
		}
		return t.gateway.PlaceLimitOrder(symbol, types.SideSell, quantity, limitPrice)
	})
}

type placeFunc func(symbol string, quantity float64, constraints types.SymbolConstraints) (*types.Order, error)

func (t *Trader) liquidate(coin string, place placeFunc) error {
	if !t.position.Holding() || t.position.Coin != coin {
		return nil
	}
	if t.position.PendingOrderID != "" {
		return fmt.Errorf("order %s is unresolved, refusing to trade", t.position.PendingOrderID)
	}

	symbol := t.cfg.Symbol(coin)
	logger := t.logger.With().Str("symbol", symbol).Str("side", "SELL").Logger()

	constraints, price, err := t.symbolContext(symbol)
	if err != nil {
		return err
	}

	var balance float64
	err = exchange.WithRetry(logger, t.cfg.MaxRetries, func() error {
		var bErr error
		balance, bErr = t.gateway.GetBalance(coin)
		return bErr
	})
	if err != nil {
		metrics.IncGatewayError(exchange.IsTransient(err))
		return fmt.Errorf("fetch %s balance: %w", coin, err)
	}

	quantity, err := sizing.SellQuantity(constraints, balance, price)
	if err != nil {
		return fmt.Errorf("size sell for %s: %w", symbol, err)
	}

	logger.Info().Float64("quantity", quantity).Float64("price", price).Msg("placing sell")
	order, err := place(symbol, quantity, constraints)
	if err != nil {
		var constraintErr *sizing.ConstraintError
		if !errors.As(err, &constraintErr) {
			metrics.IncOrder("SELL", "failed")
			metrics.IncGatewayError(exchange.IsTransient(err))
		}
		return fmt.Errorf("place sell for %s: %w", symbol, err)
	}

	return t.trackOrder(order)
}

// trackOrder persists the order as pending, waits for its outcome and
// applies it. A timeout leaves the pending record in place so the next
// scout tick (or restart) reconciles before any further trading.
func (t *Trader) trackOrder(order *types.Order) error {
	next := *t.position
	next.PendingOrderID = order.OrderID
	next.PendingSymbol = order.Symbol
	next.PendingSide = string(order.Side)
	if err := t.store.SetPosition(&next); err != nil {
		return fmt.Errorf("persist pending order: %w", err)
	}
	t.position = &next

	if !order.Status.Terminal() {
		var err error
		order, err = t.monitor.Wait(context.Background(), next.PendingSymbol, next.PendingOrderID)
		if err != nil {
			var failed *fulfillment.OrderFailedError
			switch {
			case errors.As(err, &failed):
				if applyErr := t.applyOutcome(failed.Order); applyErr != nil {
					return applyErr
				}
				return err
			case errors.Is(err, fulfillment.ErrMonitorTimeout):
				metrics.IncOrder(next.PendingSide, "unknown")
				return err
			default:
				return err
			}
		}
	}
	return t.applyOutcome(order)
}

// applyOutcome moves the state machine according to a terminal (or
// config-accepted partial) order observation. Replayed confirmations are
// idempotent: a buy fill for the coin already held, or a sell fill while
// idle, only clears the pending record.
func (t *Trader) applyOutcome(order *types.Order) error {
	accepted := order.Status == types.OrderStatusFilled ||
		(order.Status == types.OrderStatusPartiallyFilled && t.cfg.AcceptPartialFills && order.ExecutedQty > 0)

	switch {
	case accepted:
		if order.Side == types.SideBuy {
			return t.applyBuyFill(order)
		}
		return t.applySellFill(order)

	case order.Status.Failed():
		t.logger.Warn().
			Str("order_id", order.OrderID).
			Str("symbol", order.Symbol).
			Str("status", string(order.Status)).
			Msg("order did not fill, keeping previous state")
		metrics.IncOrder(string(order.Side), "failed")
		t.appendLedger(order, 0, 0, string(order.Status))
		return t.clearPending()

	default:
		// Still live; pending record stays and keeps trading blocked.
		return nil
	}
}

func (t *Trader) applyBuyFill(order *types.Order) error {
	coin := strings.TrimSuffix(order.Symbol, t.cfg.BridgeAsset)

	if t.position.Holding() {
		if t.position.Coin == coin {
			return t.clearPending()
		}
		return fmt.Errorf("buy fill for %s while holding %s", coin, t.position.Coin)
	}

	quantity := order.ExecutedQty
	if quantity == 0 {
		quantity = order.Quantity
	}

	next := *t.position
	next.Coin = coin
	next.Quantity = quantity
	next.EntryPrice = order.Price
	next.EnteredAt = time.Now()
	next.PendingOrderID, next.PendingSymbol, next.PendingSide = "", "", ""
	if err := t.store.SetPosition(&next); err != nil {
		return fmt.Errorf("persist buy transition: %w", err)
	}
	t.position = &next

	fee := t.estimateFee(order)
	t.appendLedger(order, fee, 0, string(types.OrderStatusFilled))
	metrics.IncOrder("BUY", "filled")

	t.logger.Info().
		Str("coin", coin).
		Float64("quantity", quantity).
		Float64("entry_price", order.Price).
		Msg("entered position")
	return nil
}

func (t *Trader) applySellFill(order *types.Order) error {
	if !t.position.Holding() {
		return t.clearPending()
	}

	entryPrice := t.position.EntryPrice
	quantity := order.ExecutedQty
	if quantity == 0 {
		quantity = order.Quantity
	}

	fee := t.estimateFee(order)
	profit := (order.Price-entryPrice)*quantity - fee

	next := *t.position
	next.Coin = ""
	next.Quantity = 0
	next.EntryPrice = 0
	next.EnteredAt = time.Time{}
	next.PendingOrderID, next.PendingSymbol, next.PendingSide = "", "", ""
	if err := t.store.SetPosition(&next); err != nil {
		return fmt.Errorf("persist sell transition: %w", err)
	}
	t.position = &next

	t.appendLedger(order, fee, profit, string(types.OrderStatusFilled))
	metrics.IncOrder("SELL", "filled")

	t.logger.Info().
		Str("symbol", order.Symbol).
		Float64("exit_price", order.Price).
		Float64("profit", profit).
		Msg("liquidated position")
	return nil
}

func (t *Trader) clearPending() error {
	next := *t.position
	next.PendingOrderID, next.PendingSymbol, next.PendingSide = "", "", ""
	if err := t.store.SetPosition(&next); err != nil {
		return fmt.Errorf("clear pending order: %w", err)
	}
	t.position = &next
	return nil
}

func (t *Trader) appendLedger(order *types.Order, fee, profit float64, status string) {
	entry := &storage.TradeLedgerEntry{
		EntryID:    uuid.New().String(),
		Symbol:     order.Symbol,
		Side:       string(order.Side),
		Status:     status,
		Quantity:   order.ExecutedQty,
		Price:      order.Price,
		Fee:        fee,
		Profit:     profit,
		ExecutedAt: time.Now(),
	}
	if err := t.store.AppendLedgerEntry(entry); err != nil {
		t.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to append ledger entry")
	}
}

// estimateFee approximates the commission of a fill from the cached taker
// rate. Fee lookup failures degrade to zero rather than blocking the
// transition.
func (t *Trader) estimateFee(order *types.Order) float64 {
	fees, err := t.gateway.GetTradeFees(order.Symbol)
	if err != nil {
		t.logger.Debug().Err(err).Str("symbol", order.Symbol).Msg("fee lookup failed, recording zero fee")
		return 0
	}
	return order.ExecutedQty * order.Price * fees.TakerRate
}

// symbolContext fetches the constraint set and current price with retries.
func (t *Trader) symbolContext(symbol string) (types.SymbolConstraints, float64, error) {
	var constraints types.SymbolConstraints
	err := exchange.WithRetry(t.logger, t.cfg.MaxRetries, func() error {
		var cErr error
		constraints, cErr = t.gateway.GetSymbolConstraints(symbol)
		return cErr
	})
	if err != nil {
		metrics.IncGatewayError(exchange.IsTransient(err))
		return constraints, 0, fmt.Errorf("fetch constraints for %s: %w", symbol, err)
	}

	var price float64
	err = exchange.WithRetry(t.logger, t.cfg.MaxRetries, func() error {
		var pErr error
		price, pErr = t.gateway.GetPrice(symbol)
		return pErr
	})
	if err != nil {
		metrics.IncGatewayError(exchange.IsTransient(err))
		return constraints, 0, fmt.Errorf("fetch price for %s: %w", symbol, err)
	}
	return constraints, price, nil
}

// RecordPrice observes the current price for a symbol, appends it to the
// stored history and prunes entries older than the lookback window.
func (t *Trader) RecordPrice(symbol string) (float64, error) {
	price, err := t.gateway.GetPrice(symbol)
	if err != nil {
		metrics.IncGatewayError(exchange.IsTransient(err))
		return 0, err
	}
	now := time.Now()
	if err := t.store.AppendPricePoint(symbol, price, now); err != nil {
		return 0, fmt.Errorf("append price history: %w", err)
	}
	if err := t.store.PrunePriceHistory(now.Add(-t.cfg.LookbackWindow)); err != nil {
		t.logger.Warn().Err(err).Msg("price history pruning failed")
	}
	return price, nil
}

// Window returns the stored lookback window for a symbol, oldest first.
func (t *Trader) Window(symbol string) ([]storage.PricePoint, error) {
	return t.store.PriceWindow(symbol, time.Now().Add(-t.cfg.LookbackWindow))
}
