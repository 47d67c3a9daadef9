package storage

import (
	"time"

	"gorm.io/gorm"
)

// Position is the single current-holding record. Coin is empty while idle
// (capital parked in the bridge asset). PendingOrderID records an in-flight
// order so a restart can reconcile its outcome before trading resumes.
type Position struct {
	gorm.Model     `json:"-"`
	Coin           string    `json:"coin"`
	Quantity       float64   `json:"quantity"`
	EntryPrice     float64   `json:"entry_price"`
	EnteredAt      time.Time `json:"entered_at"`
	PendingOrderID string    `json:"pending_order_id,omitempty"`
	PendingSymbol  string    `json:"pending_symbol,omitempty"`
	PendingSide    string    `json:"pending_side,omitempty"`
}

// Holding reports whether a non-bridge asset is currently held.
func (p *Position) Holding() bool {
	return p != nil && p.Coin != ""
}

// TradeLedgerEntry is an append-only record of a buy or sell attempt.
// Entries are write-once; profit is realized on filled SELL rows only and
// rejected attempts are kept with their terminal status for audit.
type TradeLedgerEntry struct {
	gorm.Model `json:"-"`
	EntryID    string    `gorm:"uniqueIndex" json:"entry_id"`
	Symbol     string    `gorm:"index" json:"symbol"`
	Side       string    `json:"side"`
	Status     string    `json:"status"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee"`
	Profit     float64   `json:"profit"`
	ExecutedAt time.Time `json:"executed_at"`
}

// PricePoint is one observed ticker price, kept only for the lookback
// window and pruned on a schedule.
type PricePoint struct {
	gorm.Model `json:"-"`
	Symbol     string    `gorm:"index:idx_price_symbol_time" json:"symbol"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `gorm:"index:idx_price_symbol_time" json:"timestamp"`
}

// ValueSnapshot is a periodic record of total portfolio value expressed in
// the bridge asset.
type ValueSnapshot struct {
	gorm.Model  `json:"-"`
	BridgeAsset string    `json:"bridge_asset"`
	TotalValue  float64   `json:"total_value"`
	TakenAt     time.Time `gorm:"index" json:"taken_at"`
}
