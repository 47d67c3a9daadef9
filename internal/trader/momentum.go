package trader

import (
	"errors"

	"github.com/ksred/coin-rotator/internal/config"
	"github.com/ksred/coin-rotator/internal/metrics"
	"github.com/ksred/coin-rotator/internal/sizing"
	"github.com/ksred/coin-rotator/internal/storage"
	"github.com/ksred/coin-rotator/internal/types"
)

func init() {
	Register("momentum", NewMomentum)
}

// Momentum rotates into whichever supported coin has risen at least the
// configured threshold over the lookback window, and exits once the held
// coin gives back half that threshold from its window high.
type Momentum struct {
	*Trader
	threshold float64 // percent
}

// NewMomentum builds the momentum strategy.
func NewMomentum(t *Trader) Strategy {
	return &Momentum{Trader: t, threshold: t.cfg.MomentumThreshold}
}

func (m *Momentum) Initialize() error {
	return m.Restore()
}

// Scout runs one evaluation tick across all supported coins. Per-symbol
// failures are contained: a coin whose price cannot be fetched is skipped
// this tick and the rest are still evaluated.
func (m *Momentum) Scout() error {
	// An unresolved order blocks all trading until its outcome is known.
	if m.position.PendingOrderID != "" {
		return m.Reconcile()
	}

	type candidate struct {
		coin   string
		change float64
	}
	var candidates []candidate
	var heldPrice float64
	heldPriceKnown := false

	// SupportedCoins is sorted at config load, which makes the first-wins
	// tie-break deterministic. One observation per symbol per tick; the
	// held coin's price is reused for the exit check below.
	for _, coin := range m.cfg.SupportedCoins {
		symbol := m.cfg.Symbol(coin)

		price, err := m.RecordPrice(symbol)
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("skipping symbol this tick")
			continue
		}
		if coin == m.position.Coin {
			heldPrice = price
			heldPriceKnown = true
		}

		if m.position.Holding() || coin == m.position.Coin {
			continue
		}

		window, err := m.Window(symbol)
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("price window unavailable")
			continue
		}
		change := riseFromWindowLow(window, price)
		if change >= m.threshold {
			candidates = append(candidates, candidate{coin: coin, change: change})
		}
	}

	if !m.position.Holding() && len(candidates) > 0 {
		pick := candidates[0]
		if m.cfg.TieBreak == config.TieBreakBest {
			for _, c := range candidates[1:] {
				if c.change > pick.change {
					pick = c
				}
			}
		}
		m.logger.Info().
			Str("coin", pick.coin).
			Float64("change_pct", pick.change).
			Int("candidates", len(candidates)).
			Msg("momentum detected")
		metrics.IncDecision(types.SignalBuy)

		if err := m.BuyCoin(pick.coin); err != nil {
			var constraintErr *sizing.ConstraintError
			if errors.As(err, &constraintErr) {
				// This signal cannot be traded at the current size rules;
				// abandon it and keep scouting.
				m.logger.Warn().Err(err).Str("coin", pick.coin).Msg("abandoning untradeable signal")
				return nil
			}
			return err
		}
		return nil
	}

	if m.position.Holding() {
		if !heldPriceKnown {
			// Already logged in the loop; try again next tick.
			return nil
		}
		return m.checkExit(heldPrice)
	}

	metrics.IncDecision(types.SignalHold)
	return nil
}

// checkExit sells the held coin once it has dropped half the entry
// threshold from its window high. price is the observation recorded for
// the held coin this tick.
func (m *Momentum) checkExit(price float64) error {
	coin := m.position.Coin
	symbol := m.cfg.Symbol(coin)

	window, err := m.Window(symbol)
	if err != nil {
		return err
	}

	drop := dropFromWindowHigh(window, price)
	if drop >= m.threshold/2 {
		m.logger.Info().
			Str("coin", coin).
			Float64("drop_pct", drop).
			Msg("momentum reversal, selling")
		metrics.IncDecision(types.SignalSell)
		return m.SellCoin(coin)
	}

	metrics.IncDecision(types.SignalHold)
	return nil
}

// riseFromWindowLow returns the percent rise of price over the lowest
// observation in the window.
func riseFromWindowLow(window []storage.PricePoint, price float64) float64 {
	if len(window) == 0 {
		return 0
	}
	low := window[0].Price
	for _, p := range window[1:] {
		if p.Price < low {
			low = p.Price
		}
	}
	if low <= 0 {
		return 0
	}
	return (price - low) / low * 100
}

// dropFromWindowHigh returns the percent drop of price from the highest
// observation in the window.
func dropFromWindowHigh(window []storage.PricePoint, price float64) float64 {
	if len(window) == 0 {
		return 0
	}
	high := window[0].Price
	for _, p := range window[1:] {
		if p.Price > high {
			high = p.Price
		}
	}
	if high <= 0 {
		return 0
	}
	return (high - price) / high * 100
}
