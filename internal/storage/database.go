package storage

import (
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open initializes the sqlite database and runs migrations.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&Position{},
		&TradeLedgerEntry{},
		&PricePoint{},
		&ValueSnapshot{},
	); err != nil {
		return nil, err
	}

	return db, nil
}

// Database wraps the gorm connection with the state-store operations the
// bot needs. The position row is written only by the trader; the status API
// reads snapshots through the same wrapper.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// positionRowID pins the position to a single row.
const positionRowID = 1

// GetPosition returns the persisted position, or nil when no state exists
// yet (first run).
func (d *Database) GetPosition() (*Position, error) {
	var pos Position
	if err := d.db.First(&pos, positionRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pos, nil
}

// SetPosition atomically replaces the position row. Using a transaction
// keeps concurrent readers from observing a half-written transition.
func (d *Database) SetPosition(p *Position) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var existing Position
		err := tx.First(&existing, positionRowID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.ID = positionRowID
			return tx.Create(p).Error
		}
		if err != nil {
			return err
		}
		// A map update writes zero values too, which matters when a SELL
		// clears the coin back to idle.
		return tx.Model(&existing).Updates(map[string]interface{}{
			"coin":             p.Coin,
			"quantity":         p.Quantity,
			"entry_price":      p.EntryPrice,
			"entered_at":       p.EnteredAt,
			"pending_order_id": p.PendingOrderID,
			"pending_symbol":   p.PendingSymbol,
			"pending_side":     p.PendingSide,
		}).Error
	})
}

// AppendLedgerEntry writes one completed trade. The ledger is append-only;
// there are no update or delete paths besides time-based pruning.
func (d *Database) AppendLedgerEntry(entry *TradeLedgerEntry) error {
	return d.db.Create(entry).Error
}

// RecentLedger returns the newest ledger entries, most recent first.
func (d *Database) RecentLedger(limit int) ([]TradeLedgerEntry, error) {
	var entries []TradeLedgerEntry
	err := d.db.Order("executed_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// RealizedProfit sums profit over all filled SELL entries.
func (d *Database) RealizedProfit() (float64, error) {
	var total float64
	err := d.db.Model(&TradeLedgerEntry{}).
		Where("side = ? AND status = ?", "SELL", "FILLED").
		Select("COALESCE(SUM(profit), 0)").
		Scan(&total).Error
	return total, err
}

// AppendPricePoint records one observed price.
func (d *Database) AppendPricePoint(symbol string, price float64, at time.Time) error {
	return d.db.Create(&PricePoint{Symbol: symbol, Price: price, Timestamp: at}).Error
}

// PriceWindow returns prices for a symbol observed at or after since,
// oldest first.
func (d *Database) PriceWindow(symbol string, since time.Time) ([]PricePoint, error) {
	var points []PricePoint
	err := d.db.Where("symbol = ? AND timestamp >= ?", symbol, since).
		Order("timestamp ASC").Find(&points).Error
	return points, err
}

// PrunePriceHistory deletes price points older than before.
func (d *Database) PrunePriceHistory(before time.Time) error {
	return d.db.Unscoped().Where("timestamp < ?", before).Delete(&PricePoint{}).Error
}

// PruneLedger deletes ledger entries older than before.
func (d *Database) PruneLedger(before time.Time) error {
	return d.db.Unscoped().Where("executed_at < ?", before).Delete(&TradeLedgerEntry{}).Error
}

// AppendValueSnapshot records a portfolio value observation.
func (d *Database) AppendValueSnapshot(snapshot *ValueSnapshot) error {
	return d.db.Create(snapshot).Error
}

// RecentValueSnapshots returns the newest snapshots, most recent first.
func (d *Database) RecentValueSnapshots(limit int) ([]ValueSnapshot, error) {
	var snapshots []ValueSnapshot
	err := d.db.Order("taken_at DESC").Limit(limit).Find(&snapshots).Error
	return snapshots, err
}

// PruneValueSnapshots deletes snapshots older than before.
func (d *Database) PruneValueSnapshots(before time.Time) error {
	return d.db.Unscoped().Where("taken_at < ?", before).Delete(&ValueSnapshot{}).Error
}
