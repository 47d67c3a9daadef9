package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func testDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	return NewDatabase(db)
}

func TestGetPositionFirstRun(t *testing.T) {
	d := testDatabase(t)

	pos, err := d.GetPosition()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos != nil {
		t.Errorf("expected no position on first run, got %+v", pos)
	}
}

func TestSetPositionClearsToIdle(t *testing.T) {
	d := testDatabase(t)

	held := &Position{
		Coin:           "ETH",
		Quantity:       0.5,
		EntryPrice:     2400,
		EnteredAt:      time.Now(),
		PendingOrderID: "ord-1",
		PendingSymbol:  "ETHUSDT",
		PendingSide:    "BUY",
	}
	if err := d.SetPosition(held); err != nil {
		t.Fatalf("set position: %v", err)
	}

	// A sell transition writes zero values; they must actually persist.
	if err := d.SetPosition(&Position{}); err != nil {
		t.Fatalf("clear position: %v", err)
	}

	pos, err := d.GetPosition()
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos == nil {
		t.Fatal("expected a persisted idle row")
	}
	if pos.Holding() {
		t.Errorf("expected idle position, got %+v", pos)
	}
	if pos.Coin != "" || pos.Quantity != 0 || pos.PendingOrderID != "" {
		t.Errorf("zero values must overwrite, got %+v", pos)
	}
}

func TestRealizedProfitIgnoresFailedAttempts(t *testing.T) {
	d := testDatabase(t)

	entries := []*TradeLedgerEntry{
		{EntryID: "a", Symbol: "ETHUSDT", Side: "BUY", Status: "FILLED", Profit: 0, ExecutedAt: time.Now()},
		{EntryID: "b", Symbol: "ETHUSDT", Side: "SELL", Status: "FILLED", Profit: 3.5, ExecutedAt: time.Now()},
		{EntryID: "c", Symbol: "ADAUSDT", Side: "SELL", Status: "FILLED", Profit: -1.25, ExecutedAt: time.Now()},
		{EntryID: "d", Symbol: "ADAUSDT", Side: "SELL", Status: "REJECTED", Profit: 0, ExecutedAt: time.Now()},
	}
	for _, e := range entries {
		if err := d.AppendLedgerEntry(e); err != nil {
			t.Fatalf("append %s: %v", e.EntryID, err)
		}
	}

	total, err := d.RealizedProfit()
	if err != nil {
		t.Fatalf("realized profit: %v", err)
	}
	if diff := total - 2.25; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected 2.25, got %v", total)
	}
}

func TestPriceWindowOrderingAndPruning(t *testing.T) {
	d := testDatabase(t)
	now := time.Now()

	for i, price := range []float64{100, 103, 101} {
		at := now.Add(time.Duration(i-3) * time.Minute)
		if err := d.AppendPricePoint("ETHUSDT", price, at); err != nil {
			t.Fatalf("append point %d: %v", i, err)
		}
	}
	if err := d.AppendPricePoint("ADAUSDT", 0.35, now); err != nil {
		t.Fatalf("append other symbol: %v", err)
	}

	window, err := d.PriceWindow("ETHUSDT", now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("price window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("expected 3 points, got %d", len(window))
	}
	if window[0].Price != 100 || window[2].Price != 101 {
		t.Errorf("expected oldest-first ordering, got %+v", window)
	}

	// Prune everything older than the last two observations.
	if err := d.PrunePriceHistory(now.Add(-150 * time.Second)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	window, err = d.PriceWindow("ETHUSDT", now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("price window: %v", err)
	}
	if len(window) != 2 {
		t.Errorf("expected 2 points after pruning, got %d", len(window))
	}
}

func TestRecentValueSnapshots(t *testing.T) {
	d := testDatabase(t)
	now := time.Now()

	for i, v := range []float64{1000, 1010, 1005} {
		snap := &ValueSnapshot{BridgeAsset: "USDT", TotalValue: v, TakenAt: now.Add(time.Duration(i) * time.Minute)}
		if err := d.AppendValueSnapshot(snap); err != nil {
			t.Fatalf("append snapshot %d: %v", i, err)
		}
	}

	snapshots, err := d.RecentValueSnapshots(2)
	if err != nil {
		t.Fatalf("recent snapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
	if snapshots[0].TotalValue != 1005 {
		t.Errorf("expected newest first, got %+v", snapshots)
	}
}
