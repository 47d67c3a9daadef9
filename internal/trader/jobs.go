package trader

import (
	"fmt"
	"time"

	"github.com/ksred/coin-rotator/internal/exchange"
	"github.com/ksred/coin-rotator/internal/metrics"
	"github.com/ksred/coin-rotator/internal/storage"
)

// valueSnapshotRetention bounds how long portfolio value history is kept.
const valueSnapshotRetention = 30 * 24 * time.Hour

// SnapshotValue records the current portfolio value in the bridge asset:
// bridge balance plus the held coin priced at the current ticker.
func (t *Trader) SnapshotValue() error {
	var total float64
	err := exchange.WithRetry(t.logger, t.cfg.MaxRetries, func() error {
		var bErr error
		total, bErr = t.gateway.GetBalance(t.cfg.BridgeAsset)
		return bErr
	})
	if err != nil {
		metrics.IncGatewayError(exchange.IsTransient(err))
		return fmt.Errorf("fetch bridge balance: %w", err)
	}

	if t.position.Holding() {
		symbol := t.cfg.Symbol(t.position.Coin)
		price, err := t.gateway.GetPrice(symbol)
		if err != nil {
			metrics.IncGatewayError(exchange.IsTransient(err))
			return fmt.Errorf("price held coin %s: %w", symbol, err)
		}
		balance, err := t.gateway.GetBalance(t.position.Coin)
		if err != nil {
			metrics.IncGatewayError(exchange.IsTransient(err))
			return fmt.Errorf("fetch %s balance: %w", t.position.Coin, err)
		}
		total += balance * price
	}

	metrics.SetPortfolioValue(total)
	return t.store.AppendValueSnapshot(&storage.ValueSnapshot{
		BridgeAsset: t.cfg.BridgeAsset,
		TotalValue:  total,
		TakenAt:     time.Now(),
	})
}

// PruneHistory drops price points that fell out of the lookback window and
// value snapshots past retention. The trade ledger is deliberately not
// pruned here; it is the audit record.
func (t *Trader) PruneHistory() error {
	now := time.Now()
	if err := t.store.PrunePriceHistory(now.Add(-2 * t.cfg.LookbackWindow)); err != nil {
		return fmt.Errorf("prune price history: %w", err)
	}
	if err := t.store.PruneValueSnapshots(now.Add(-valueSnapshotRetention)); err != nil {
		return fmt.Errorf("prune value snapshots: %w", err)
	}
	return nil
}
