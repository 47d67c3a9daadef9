package exchange

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ksred/coin-rotator/internal/types"
)

// MockGateway simulates an exchange for paper trading and tests: random-walk
// prices, configurable latency and success rate, immediate market fills and
// limit orders that fill after a configurable number of status polls.
type MockGateway struct {
	MinLatency  int     // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability a placed order is accepted
	FillAfter   int     // status polls before a resting limit order fills

	logger zerolog.Logger

	mu       sync.Mutex
	prices   map[string]float64
	balances map[string]float64
	orders   map[string]*types.Order
	polls    map[string]int
	nextID   int64
}

// NewMockGateway seeds a mock exchange with starting prices and a bridge
// balance.
func NewMockGateway(prices map[string]float64, bridgeAsset string, bridgeBalance float64, logger zerolog.Logger) *MockGateway {
	seeded := make(map[string]float64, len(prices))
	for s, p := range prices {
		seeded[s] = p
	}
	return &MockGateway{
		MinLatency:  5,
		MaxLatency:  30,
		SuccessRate: 0.98,
		FillAfter:   2,
		logger:      logger.With().Str("component", "mock_gateway").Logger(),
		prices:      seeded,
		balances:    map[string]float64{bridgeAsset: bridgeBalance},
		orders:      make(map[string]*types.Order),
		polls:       make(map[string]int),
		nextID:      1,
	}
}

func (m *MockGateway) simulateLatency() {
	if m.MaxLatency > m.MinLatency {
		latency := rand.Intn(m.MaxLatency-m.MinLatency+1) + m.MinLatency
		time.Sleep(time.Duration(latency) * time.Millisecond)
	}
}

// GetPrice returns the current simulated price, applying a small random walk.
func (m *MockGateway) GetPrice(symbol string) (float64, error) {
	m.simulateLatency()
	m.mu.Lock()
	defer m.mu.Unlock()

	price, ok := m.prices[symbol]
	if !ok {
		return 0, &APIError{StatusCode: 404, Message: fmt.Sprintf("unknown symbol %s", symbol)}
	}
	// Walk up to ±1% per observation.
	price *= 1 + (rand.Float64()*0.02 - 0.01)
	m.prices[symbol] = price
	return price, nil
}

func (m *MockGateway) GetAllPrices() (map[string]float64, error) {
	m.simulateLatency()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.prices))
	for s, p := range m.prices {
		out[s] = p
	}
	return out, nil
}

func (m *MockGateway) GetSymbolConstraints(symbol string) (types.SymbolConstraints, error) {
	m.simulateLatency()
	return types.SymbolConstraints{
		Symbol:      symbol,
		MinQty:      0.001,
		MaxQty:      100000,
		StepSize:    0.001,
		MinPrice:    0.0001,
		MaxPrice:    1000000,
		TickSize:    0.0001,
		MinNotional: 5,
	}, nil
}

func (m *MockGateway) GetTradeFees(symbol string) (types.TradeFees, error) {
	m.simulateLatency()
	return types.TradeFees{Symbol: symbol, MakerRate: 0.001, TakerRate: 0.001}, nil
}

// PlaceMarketOrder fills immediately at the current price and moves the
// simulated balances.
func (m *MockGateway) PlaceMarketOrder(symbol string, side types.Side, quantity float64) (*types.Order, error) {
	m.simulateLatency()
	m.mu.Lock()
	defer m.mu.Unlock()

	if rand.Float64() > m.SuccessRate {
		m.logger.Warn().Str("symbol", symbol).Str("side", string(side)).Msg("simulated order rejection")
		return nil, &APIError{StatusCode: 400, Code: -2010, Message: "simulated rejection"}
	}

	price, ok := m.prices[symbol]
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: fmt.Sprintf("unknown symbol %s", symbol)}
	}

	order := &types.Order{
		OrderID:     m.newOrderID(),
		Symbol:      symbol,
		Side:        side,
		Type:        types.OrderTypeMarket,
		Quantity:    quantity,
		ExecutedQty: quantity,
		Price:       price,
		Status:      types.OrderStatusFilled,
		CreatedAt:   time.Now(),
	}
	m.orders[order.OrderID] = order
	m.settle(order)

	m.logger.Info().
		Str("order_id", order.OrderID).
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("quantity", quantity).
		Float64("price", price).
		Msg("mock market order filled")

	return order, nil
}

// PlaceLimitOrder rests until FillAfter status polls have been observed.
func (m *MockGateway) PlaceLimitOrder(symbol string, side types.Side, quantity, price float64) (*types.Order, error) {
	m.simulateLatency()
	m.mu.Lock()
	defer m.mu.Unlock()

	if rand.Float64() > m.SuccessRate {
		return nil, &APIError{StatusCode: 400, Code: -2010, Message: "simulated rejection"}
	}

	order := &types.Order{
		OrderID:   m.newOrderID(),
		Symbol:    symbol,
		Side:      side,
		Type:      types.OrderTypeLimit,
		Quantity:  quantity,
		Price:     price,
		Status:    types.OrderStatusNew,
		CreatedAt: time.Now(),
	}
	m.orders[order.OrderID] = order
	return order, nil
}

func (m *MockGateway) GetOrder(symbol, orderID string) (*types.Order, error) {
	m.simulateLatency()
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, &APIError{StatusCode: 404, Message: fmt.Sprintf("unknown order %s", orderID)}
	}

	if !order.Status.Terminal() {
		m.polls[orderID]++
		if m.polls[orderID] >= m.FillAfter {
			order.Status = types.OrderStatusFilled
			order.ExecutedQty = order.Quantity
			m.settle(order)
		}
	}

	copied := *order
	return &copied, nil
}

func (m *MockGateway) GetBalance(asset string) (float64, error) {
	m.simulateLatency()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[asset], nil
}

// settle moves balances for a filled order. Caller holds the lock. The
// symbol is assumed to be <asset>USDT-style with the quote asset being
// whatever was seeded as the bridge; for simulation purposes the quote is
// the only non-base balance.
func (m *MockGateway) settle(order *types.Order) {
	base, quote := splitSymbol(order.Symbol)
	notional := order.Price * order.ExecutedQty
	if order.Side == types.SideBuy {
		m.balances[quote] -= notional
		m.balances[base] += order.ExecutedQty
	} else {
		m.balances[base] -= order.ExecutedQty
		m.balances[quote] += notional
	}
}

func (m *MockGateway) newOrderID() string {
	id := m.nextID
	m.nextID++
	return strconv.FormatInt(id, 10)
}

// splitSymbol separates base and quote assets for the common stablecoin
// quotes used in simulation.
func splitSymbol(symbol string) (base, quote string) {
	for _, q := range []string{"USDT", "BUSD", "USDC", "BTC"} {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return symbol[:len(symbol)-len(q)], q
		}
	}
	return symbol, ""
}
