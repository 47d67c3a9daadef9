package trader

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ksred/coin-rotator/internal/config"
	"github.com/ksred/coin-rotator/internal/fulfillment"
	"github.com/ksred/coin-rotator/internal/storage"
	"github.com/ksred/coin-rotator/internal/types"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	position *storage.Position
	ledger   []*storage.TradeLedgerEntry
	prices   map[string][]storage.PricePoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{prices: make(map[string][]storage.PricePoint)}
}

func (s *fakeStore) GetPosition() (*storage.Position, error) {
	if s.position == nil {
		return nil, nil
	}
	copied := *s.position
	return &copied, nil
}

func (s *fakeStore) SetPosition(pos *storage.Position) error {
	copied := *pos
	s.position = &copied
	return nil
}

func (s *fakeStore) AppendLedgerEntry(entry *storage.TradeLedgerEntry) error {
	s.ledger = append(s.ledger, entry)
	return nil
}

func (s *fakeStore) AppendPricePoint(symbol string, price float64, at time.Time) error {
	s.prices[symbol] = append(s.prices[symbol], storage.PricePoint{Symbol: symbol, Price: price, Timestamp: at})
	return nil
}

func (s *fakeStore) PriceWindow(symbol string, since time.Time) ([]storage.PricePoint, error) {
	var window []storage.PricePoint
	for _, p := range s.prices[symbol] {
		if !p.Timestamp.Before(since) {
			window = append(window, p)
		}
	}
	return window, nil
}

func (s *fakeStore) PrunePriceHistory(before time.Time) error {
	for symbol, points := range s.prices {
		var kept []storage.PricePoint
		for _, p := range points {
			if !p.Timestamp.Before(before) {
				kept = append(kept, p)
			}
		}
		s.prices[symbol] = kept
	}
	return nil
}

func (s *fakeStore) PruneValueSnapshots(before time.Time) error { return nil }

func (s *fakeStore) AppendValueSnapshot(snap *storage.ValueSnapshot) error { return nil }

// fakeGateway is a scriptable in-memory Gateway.
type fakeGateway struct {
	prices      map[string]float64
	constraints types.SymbolConstraints
	fees        types.TradeFees
	balances    map[string]float64

	placeStatus types.OrderStatus // status assigned to placed orders
	orders      map[string]*types.Order
	placed      []*types.Order
	nextID      int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		prices: make(map[string]float64),
		constraints: types.SymbolConstraints{
			MinQty:      0.001,
			MaxQty:      100000,
			StepSize:    0.001,
			MinPrice:    0.0001,
			MaxPrice:    1000000,
			TickSize:    0.0001,
			MinNotional: 5,
		},
		fees:        types.TradeFees{MakerRate: 0.001, TakerRate: 0.001},
		balances:    map[string]float64{"USDT": 1000},
		placeStatus: types.OrderStatusFilled,
		orders:      make(map[string]*types.Order),
	}
}

func (g *fakeGateway) GetPrice(symbol string) (float64, error) {
	price, ok := g.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (g *fakeGateway) GetAllPrices() (map[string]float64, error) {
	return g.prices, nil
}

func (g *fakeGateway) GetSymbolConstraints(symbol string) (types.SymbolConstraints, error) {
	c := g.constraints
	c.Symbol = symbol
	return c, nil
}

func (g *fakeGateway) GetTradeFees(symbol string) (types.TradeFees, error) {
	return g.fees, nil
}

func (g *fakeGateway) place(symbol string, side types.Side, orderType types.OrderType, quantity, price float64) (*types.Order, error) {
	g.nextID++
	executed := quantity
	if g.placeStatus != types.OrderStatusFilled {
		executed = 0
	}
	order := &types.Order{
		OrderID:     fmt.Sprintf("ord-%d", g.nextID),
		Symbol:      symbol,
		Side:        side,
		Type:        orderType,
		Quantity:    quantity,
		ExecutedQty: executed,
		Price:       price,
		Status:      g.placeStatus,
		CreatedAt:   time.Now(),
	}
	stored := *order
	g.orders[order.OrderID] = &stored
	g.placed = append(g.placed, order)
	return order, nil
}

func (g *fakeGateway) PlaceMarketOrder(symbol string, side types.Side, quantity float64) (*types.Order, error) {
	return g.place(symbol, side, types.OrderTypeMarket, quantity, g.prices[symbol])
}

func (g *fakeGateway) PlaceLimitOrder(symbol string, side types.Side, quantity, price float64) (*types.Order, error) {
	return g.place(symbol, side, types.OrderTypeLimit, quantity, price)
}

func (g *fakeGateway) GetOrder(symbol, orderID string) (*types.Order, error) {
	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	copied := *order
	return &copied, nil
}

func (g *fakeGateway) GetBalance(asset string) (float64, error) {
	return g.balances[asset], nil
}

func testConfig(coins ...string) *config.Config {
	return &config.Config{
		BridgeAsset:       "USDT",
		SupportedCoins:    coins,
		Strategy:          "momentum",
		LookbackWindow:    time.Hour,
		MomentumThreshold: 2.0,
		BuyNotional:       100,
		NetProfitTarget:   0.01,
		TieBreak:          config.TieBreakFirst,
		MaxRetries:        1,
	}
}

func newTestTrader(g *fakeGateway, s *fakeStore, cfg *config.Config) *Trader {
	monitor := fulfillment.NewMonitor(g, time.Millisecond, 50*time.Millisecond, 1, false, zerolog.Nop())
	return NewTrader(g, s, monitor, cfg, zerolog.Nop())
}

func newIdleMomentum(t *testing.T, g *fakeGateway, s *fakeStore, cfg *config.Config) Strategy {
	t.Helper()
	s.position = &storage.Position{} // prior idle state, skips initial entry
	bot := newTestTrader(g, s, cfg)
	strategy := NewMomentum(bot)
	if err := strategy.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return strategy
}

func TestMomentumBuysOnThresholdRise(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	strategy := newIdleMomentum(t, g, s, cfg)

	// Two flat ticks, then a 3% rise over the window low.
	g.prices["ETHUSDT"] = 100
	for i := 0; i < 2; i++ {
		if err := strategy.Scout(); err != nil {
			t.Fatalf("scout %d: %v", i, err)
		}
	}
	if s.position.Holding() {
		t.Fatal("no position expected on flat prices")
	}

	g.prices["ETHUSDT"] = 103
	if err := strategy.Scout(); err != nil {
		t.Fatalf("scout: %v", err)
	}

	if !s.position.Holding() || s.position.Coin != "ETH" {
		t.Fatalf("expected ETH position, got %+v", s.position)
	}
	if s.position.EntryPrice != 103 {
		t.Errorf("expected entry price 103, got %v", s.position.EntryPrice)
	}
	if s.position.PendingOrderID != "" {
		t.Errorf("pending order should be cleared, got %q", s.position.PendingOrderID)
	}
	if len(s.ledger) != 1 || s.ledger[0].Side != "BUY" || s.ledger[0].Status != "FILLED" {
		t.Errorf("expected one filled BUY ledger entry, got %+v", s.ledger)
	}
}

func TestMomentumSellsOnReversal(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	s.position = &storage.Position{
		Coin:       "ETH",
		Quantity:   1,
		EntryPrice: 100,
		EnteredAt:  time.Now().Add(-time.Hour),
	}
	g.balances["ETH"] = 1

	bot := newTestTrader(g, s, cfg)
	strategy := NewMomentum(bot)
	if err := strategy.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Window high 100, then a 2% drop: past the half-threshold exit.
	g.prices["ETHUSDT"] = 100
	if err := strategy.Scout(); err != nil {
		t.Fatalf("scout: %v", err)
	}
	if !s.position.Holding() {
		t.Fatal("position should survive a flat tick")
	}

	g.prices["ETHUSDT"] = 98
	if err := strategy.Scout(); err != nil {
		t.Fatalf("scout: %v", err)
	}

	if s.position.Holding() {
		t.Fatalf("expected idle position, got %+v", s.position)
	}
	if len(s.ledger) != 1 || s.ledger[0].Side != "SELL" {
		t.Fatalf("expected one SELL ledger entry, got %+v", s.ledger)
	}
	// Loss of 2 on quantity 1, minus the taker fee on the exit leg.
	wantProfit := (98.0-100.0)*1 - 98*0.001
	if diff := s.ledger[0].Profit - wantProfit; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected profit %v, got %v", wantProfit, s.ledger[0].Profit)
	}
}

func TestMomentumRecordsOneObservationPerTickWhileHolding(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	s.position = &storage.Position{
		Coin:       "ETH",
		Quantity:   1,
		EntryPrice: 100,
		EnteredAt:  time.Now().Add(-time.Hour),
	}
	g.balances["ETH"] = 1

	bot := newTestTrader(g, s, cfg)
	strategy := NewMomentum(bot)
	if err := strategy.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Flat ticks keep the position, and each tick must append exactly one
	// observation for the held symbol.
	g.prices["ETHUSDT"] = 100
	for i := 1; i <= 3; i++ {
		if err := strategy.Scout(); err != nil {
			t.Fatalf("scout %d: %v", i, err)
		}
		if got := len(s.prices["ETHUSDT"]); got != i {
			t.Fatalf("after tick %d: expected %d observations, got %d", i, i, got)
		}
	}
	if !s.position.Holding() {
		t.Fatalf("position should survive flat ticks, got %+v", s.position)
	}
}

func TestRejectedOrderLeavesStateUnchanged(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	strategy := newIdleMomentum(t, g, s, cfg)
	g.placeStatus = types.OrderStatusRejected

	g.prices["ETHUSDT"] = 100
	if err := strategy.Scout(); err != nil {
		t.Fatalf("scout: %v", err)
	}
	g.prices["ETHUSDT"] = 103
	if err := strategy.Scout(); err != nil {
		t.Fatalf("scout: %v", err)
	}

	if s.position.Holding() {
		t.Fatalf("rejected order must not create a position, got %+v", s.position)
	}
	if s.position.PendingOrderID != "" {
		t.Errorf("pending order should be cleared after a terminal rejection")
	}
	if len(s.ledger) != 1 || s.ledger[0].Status != string(types.OrderStatusRejected) {
		t.Errorf("expected a REJECTED ledger entry, got %+v", s.ledger)
	}
}

func TestUntradeableSignalIsAbandoned(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	strategy := newIdleMomentum(t, g, s, cfg)

	// Configured spend can never clear the minimum notional.
	g.constraints.MaxQty = 0.01
	g.constraints.MinNotional = 500

	g.prices["ETHUSDT"] = 100
	if err := strategy.Scout(); err != nil {
		t.Fatalf("scout: %v", err)
	}
	g.prices["ETHUSDT"] = 103
	if err := strategy.Scout(); err != nil {
		t.Fatalf("scout must absorb the constraint violation, got %v", err)
	}

	if s.position.Holding() {
		t.Fatal("no position expected for an untradeable signal")
	}
	if len(g.placed) != 0 {
		t.Errorf("no order should be placed, got %d", len(g.placed))
	}
}

func TestTieBreakPolicies(t *testing.T) {
	run := func(policy config.TieBreakPolicy) string {
		g := newFakeGateway()
		s := newFakeStore()
		cfg := testConfig("ADA", "ETH") // sorted, as config.Load guarantees
		cfg.TieBreak = policy
		strategy := newIdleMomentum(t, g, s, cfg)

		g.prices["ADAUSDT"] = 100
		g.prices["ETHUSDT"] = 100
		if err := strategy.Scout(); err != nil {
			t.Fatalf("scout: %v", err)
		}

		// Both clear the threshold; ETH rises more.
		g.prices["ADAUSDT"] = 103
		g.prices["ETHUSDT"] = 105
		if err := strategy.Scout(); err != nil {
			t.Fatalf("scout: %v", err)
		}
		return s.position.Coin
	}

	if coin := run(config.TieBreakFirst); coin != "ADA" {
		t.Errorf("first policy: expected ADA, got %q", coin)
	}
	if coin := run(config.TieBreakBest); coin != "ETH" {
		t.Errorf("best policy: expected ETH, got %q", coin)
	}
}

func TestMonitorTimeoutBlocksThenReconciles(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	strategy := newIdleMomentum(t, g, s, cfg)
	g.placeStatus = types.OrderStatusNew // order never fills while watched

	g.prices["ETHUSDT"] = 100
	if err := strategy.Scout(); err != nil {
		t.Fatalf("scout: %v", err)
	}
	g.prices["ETHUSDT"] = 103
	if err := strategy.Scout(); err == nil {
		t.Fatal("expected the monitor timeout to surface")
	}

	// The unknown-outcome order stays recorded and blocks new trades.
	if s.position.PendingOrderID == "" {
		t.Fatal("expected a pending order after the timeout")
	}
	if s.position.Holding() {
		t.Fatal("no transition may happen on an unknown outcome")
	}

	// The order turns out to have filled; the next tick reconciles.
	pendingID := s.position.PendingOrderID
	g.orders[pendingID].Status = types.OrderStatusFilled
	g.orders[pendingID].ExecutedQty = g.orders[pendingID].Quantity
	if err := strategy.Scout(); err != nil {
		t.Fatalf("reconciling scout: %v", err)
	}

	if !s.position.Holding() || s.position.Coin != "ETH" {
		t.Fatalf("expected reconciled ETH position, got %+v", s.position)
	}
	if s.position.PendingOrderID != "" {
		t.Errorf("pending order should be cleared after reconciliation")
	}
}

func TestReplayedBuyFillIsIdempotent(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	s.position = &storage.Position{
		Coin:           "ETH",
		Quantity:       0.971,
		EntryPrice:     103,
		EnteredAt:      time.Now().Add(-time.Minute),
		PendingOrderID: "ord-9",
		PendingSymbol:  "ETHUSDT",
		PendingSide:    "BUY",
	}
	g.orders["ord-9"] = &types.Order{
		OrderID:     "ord-9",
		Symbol:      "ETHUSDT",
		Side:        types.SideBuy,
		Quantity:    0.971,
		ExecutedQty: 0.971,
		Price:       103,
		Status:      types.OrderStatusFilled,
	}

	bot := newTestTrader(g, s, cfg)
	if err := bot.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// The fill was already applied before the crash; replaying it only
	// clears the pending record.
	if s.position.PendingOrderID != "" {
		t.Errorf("pending order should be cleared, got %q", s.position.PendingOrderID)
	}
	if s.position.Coin != "ETH" || s.position.Quantity != 0.971 {
		t.Errorf("position must be unchanged, got %+v", s.position)
	}
	if len(s.ledger) != 0 {
		t.Errorf("no new ledger entry expected on replay, got %+v", s.ledger)
	}
}

func TestBuyCoinRefusedWhilePending(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	s.position = &storage.Position{
		PendingOrderID: "ord-1",
		PendingSymbol:  "ETHUSDT",
		PendingSide:    "BUY",
	}
	bot := newTestTrader(g, s, cfg)
	bot.position = s.position

	if err := bot.BuyCoin("ETH"); err == nil {
		t.Fatal("expected buy to be refused while an order is unresolved")
	}
	if len(g.placed) != 0 {
		t.Errorf("no order should reach the gateway, got %d", len(g.placed))
	}
}

func TestSellCoinAtTargetPlacesLimitAtFeeAdjustedPrice(t *testing.T) {
	g := newFakeGateway()
	s := newFakeStore()
	cfg := testConfig("ETH")
	s.position = &storage.Position{
		Coin:       "ETH",
		Quantity:   1,
		EntryPrice: 100,
		EnteredAt:  time.Now(),
	}
	g.balances["ETH"] = 1
	g.prices["ETHUSDT"] = 100

	bot := newTestTrader(g, s, cfg)
	if err := bot.Restore(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if err := bot.SellCoinAtTarget("ETH"); err != nil {
		t.Fatalf("sell at target: %v", err)
	}

	if len(g.placed) != 1 {
		t.Fatalf("expected one order, got %d", len(g.placed))
	}
	order := g.placed[0]
	if order.Type != types.OrderTypeLimit || order.Side != types.SideSell {
		t.Errorf("expected a limit sell, got %+v", order)
	}
	// Entry 100, 1% net target plus both taker legs at 0.1%: 101.2.
	if order.Price != 101.2 {
		t.Errorf("expected limit price 101.2, got %v", order.Price)
	}
}

func TestWindowHelpers(t *testing.T) {
	window := []storage.PricePoint{
		{Price: 100}, {Price: 98}, {Price: 104},
	}
	if got := riseFromWindowLow(window, 101.92); got < 3.99 || got > 4.01 {
		t.Errorf("expected ~4%% rise from low, got %v", got)
	}
	if got := dropFromWindowHigh(window, 101.92); got < 1.99 || got > 2.01 {
		t.Errorf("expected ~2%% drop from high, got %v", got)
	}
	if got := riseFromWindowLow(nil, 100); got != 0 {
		t.Errorf("empty window must report no rise, got %v", got)
	}
}
