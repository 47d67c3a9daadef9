package trader

import (
	"errors"

	"github.com/ksred/coin-rotator/internal/metrics"
	"github.com/ksred/coin-rotator/internal/sizing"
	"github.com/ksred/coin-rotator/internal/types"
)

func init() {
	Register("scalping", NewScalping)
}

// scalpThresholdPct is the tick-to-tick move that triggers a scalp trade.
const scalpThresholdPct = 0.5

// Scalping trades a single coin on short-interval swings: buy the dip,
// then exit through a limit sell at the fee-adjusted profit target so a
// fill can never realize less than the configured net profit.
type Scalping struct {
	*Trader
	previous map[string]float64
}

// NewScalping builds the scalping strategy.
func NewScalping(t *Trader) Strategy {
	return &Scalping{Trader: t, previous: make(map[string]float64)}
}

func (s *Scalping) Initialize() error {
	return s.Restore()
}

// Scout evaluates one tick of the scalp cycle.
func (s *Scalping) Scout() error {
	if s.position.PendingOrderID != "" {
		return s.Reconcile()
	}

	coin := s.watchedCoin()
	symbol := s.cfg.Symbol(coin)

	price, err := s.RecordPrice(symbol)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("price unavailable, skipping tick")
		return nil
	}

	previous, seen := s.previous[symbol]
	s.previous[symbol] = price
	if !seen || previous <= 0 {
		return nil
	}

	changePct := (price - previous) / previous * 100

	if !s.position.Holding() && changePct <= -scalpThresholdPct {
		s.logger.Info().
			Str("coin", coin).
			Float64("change_pct", changePct).
			Msg("dip detected, buying")
		metrics.IncDecision(types.SignalBuy)

		if err := s.BuyCoin(coin); err != nil {
			var constraintErr *sizing.ConstraintError
			if errors.As(err, &constraintErr) {
				s.logger.Warn().Err(err).Str("coin", coin).Msg("abandoning untradeable signal")
				return nil
			}
			return err
		}
		return nil
	}

	if s.position.Holding() && changePct >= scalpThresholdPct {
		s.logger.Info().
			Str("coin", coin).
			Float64("change_pct", changePct).
			Msg("rebound detected, selling at profit target")
		metrics.IncDecision(types.SignalSell)
		return s.SellCoinAtTarget(coin)
	}

	metrics.IncDecision(types.SignalHold)
	return nil
}

// watchedCoin is the held coin, or the coin the strategy waits to re-enter
// while idle.
func (s *Scalping) watchedCoin() string {
	if s.position.Holding() {
		return s.position.Coin
	}
	if s.cfg.InitialCoin != "" {
		return s.cfg.InitialCoin
	}
	return s.cfg.SupportedCoins[0]
}
