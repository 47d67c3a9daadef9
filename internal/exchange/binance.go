package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ksred/coin-rotator/internal/types"
)

const (
	apiBaseURL     = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"

	// Prices from the websocket stream older than this fall back to REST.
	streamStaleness = 10 * time.Second
)

// Client is an authenticated Binance spot gateway. Symbol constraints and
// trade fees change rarely, so both are cached with a bounded TTL rather
// than fetched on every order.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	cacheTTL time.Duration
	mu       sync.Mutex
	filters  map[string]cachedConstraints
	fees     map[string]cachedFees

	stream *Stream
}

type cachedConstraints struct {
	constraints types.SymbolConstraints
	fetchedAt   time.Time
}

type cachedFees struct {
	fees      types.TradeFees
	fetchedAt time.Time
}

// NewClient creates a Binance gateway client.
func NewClient(apiKey, secretKey string, testnet bool, cacheTTL time.Duration, logger zerolog.Logger) *Client {
	baseURL := apiBaseURL
	if testnet {
		baseURL = testnetBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "binance_gateway").Logger(),
		cacheTTL:   cacheTTL,
		filters:    make(map[string]cachedConstraints),
		fees:       make(map[string]cachedFees),
	}
}

// UseStream attaches a live ticker stream; GetPrice serves fresh stream
// prices without a REST round trip.
func (c *Client) UseStream(s *Stream) {
	c.stream = s
}

// TestConnection verifies the API credentials by fetching the account.
func (c *Client) TestConnection() error {
	_, err := c.GetBalance("")
	return err
}

// GetPrice returns the latest price for a symbol.
func (c *Client) GetPrice(symbol string) (float64, error) {
	if c.stream != nil {
		if price, at, ok := c.stream.Price(symbol); ok && time.Since(at) < streamStaleness {
			return price, nil
		}
	}

	body, err := c.publicRequest("/api/v3/ticker/price", url.Values{"symbol": {symbol}})
	if err != nil {
		return 0, err
	}
	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, fmt.Errorf("decode ticker for %s: %w", symbol, err)
	}
	return strconv.ParseFloat(ticker.Price, 64)
}

// GetAllPrices returns the latest price for every listed symbol.
func (c *Client) GetAllPrices() (map[string]float64, error) {
	body, err := c.publicRequest("/api/v3/ticker/price", nil)
	if err != nil {
		return nil, err
	}
	var tickers []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	prices := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		price, err := strconv.ParseFloat(t.Price, 64)
		if err != nil {
			continue
		}
		prices[t.Symbol] = price
	}
	return prices, nil
}

// GetSymbolConstraints returns the LOT_SIZE / PRICE_FILTER / NOTIONAL rules
// for a symbol, cached up to the configured TTL.
func (c *Client) GetSymbolConstraints(symbol string) (types.SymbolConstraints, error) {
	c.mu.Lock()
	cached, ok := c.filters[symbol]
	c.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < c.cacheTTL {
		return cached.constraints, nil
	}

	body, err := c.publicRequest("/api/v3/exchangeInfo", url.Values{"symbol": {symbol}})
	if err != nil {
		return types.SymbolConstraints{}, err
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				MinQty      string `json:"minQty"`
				MaxQty      string `json:"maxQty"`
				StepSize    string `json:"stepSize"`
				MinPrice    string `json:"minPrice"`
				MaxPrice    string `json:"maxPrice"`
				TickSize    string `json:"tickSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return types.SymbolConstraints{}, fmt.Errorf("decode exchange info for %s: %w", symbol, err)
	}
	if len(info.Symbols) == 0 {
		return types.SymbolConstraints{}, &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("symbol %s not found", symbol)}
	}

	constraints := types.SymbolConstraints{Symbol: symbol}
	for _, f := range info.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			constraints.MinQty = parseFloat(f.MinQty)
			constraints.MaxQty = parseFloat(f.MaxQty)
			constraints.StepSize = parseFloat(f.StepSize)
		case "PRICE_FILTER":
			constraints.MinPrice = parseFloat(f.MinPrice)
			constraints.MaxPrice = parseFloat(f.MaxPrice)
			constraints.TickSize = parseFloat(f.TickSize)
		case "NOTIONAL", "MIN_NOTIONAL":
			constraints.MinNotional = parseFloat(f.MinNotional)
		}
	}

	c.mu.Lock()
	c.filters[symbol] = cachedConstraints{constraints: constraints, fetchedAt: time.Now()}
	c.mu.Unlock()

	return constraints, nil
}

// GetTradeFees returns the maker/taker commission rates for a symbol,
// cached with the same TTL as symbol constraints.
func (c *Client) GetTradeFees(symbol string) (types.TradeFees, error) {
	c.mu.Lock()
	cached, ok := c.fees[symbol]
	c.mu.Unlock()
	if ok && time.Since(cached.fetchedAt) < c.cacheTTL {
		return cached.fees, nil
	}

	body, err := c.signedRequest(http.MethodGet, "/sapi/v1/asset/tradeFee", url.Values{"symbol": {symbol}})
	if err != nil {
		return types.TradeFees{}, err
	}
	var entries []struct {
		Symbol          string `json:"symbol"`
		MakerCommission string `json:"makerCommission"`
		TakerCommission string `json:"takerCommission"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return types.TradeFees{}, fmt.Errorf("decode trade fees for %s: %w", symbol, err)
	}
	if len(entries) == 0 {
		return types.TradeFees{}, &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("no fee data for %s", symbol)}
	}

	fees := types.TradeFees{
		Symbol:    symbol,
		MakerRate: parseFloat(entries[0].MakerCommission),
		TakerRate: parseFloat(entries[0].TakerCommission),
	}

	c.mu.Lock()
	c.fees[symbol] = cachedFees{fees: fees, fetchedAt: time.Now()}
	c.mu.Unlock()

	return fees, nil
}

// PlaceMarketOrder submits a market order. Quantity must already satisfy
// the symbol's lot-size rules.
func (c *Client) PlaceMarketOrder(symbol string, side types.Side, quantity float64) (*types.Order, error) {
	params := url.Values{
		"symbol":           {symbol},
		"side":             {string(side)},
		"type":             {string(types.OrderTypeMarket)},
		"quantity":         {formatFloat(quantity)},
		"newClientOrderId": {"rot-" + uuid.New().String()[:18]},
	}
	return c.placeOrder(params)
}

// PlaceLimitOrder submits a GTC limit order. Quantity and price must
// already satisfy the symbol's lot-size and tick-size rules.
func (c *Client) PlaceLimitOrder(symbol string, side types.Side, quantity, price float64) (*types.Order, error) {
	params := url.Values{
		"symbol":           {symbol},
		"side":             {string(side)},
		"type":             {string(types.OrderTypeLimit)},
		"timeInForce":      {"GTC"},
		"quantity":         {formatFloat(quantity)},
		"price":            {formatFloat(price)},
		"newClientOrderId": {"rot-" + uuid.New().String()[:18]},
	}
	return c.placeOrder(params)
}

func (c *Client) placeOrder(params url.Values) (*types.Order, error) {
	body, err := c.signedRequest(http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}
	var resp binanceOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	order := resp.toOrder()

	c.logger.Info().
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("order_id", order.OrderID).
		Float64("quantity", order.Quantity).
		Float64("price", order.Price).
		Str("status", string(order.Status)).
		Msg("order placed")

	return order, nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(symbol, orderID string) (*types.Order, error) {
	body, err := c.signedRequest(http.MethodGet, "/api/v3/order", url.Values{
		"symbol":  {symbol},
		"orderId": {orderID},
	})
	if err != nil {
		return nil, err
	}
	var resp binanceOrder
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return resp.toOrder(), nil
}

// GetBalance returns the free balance of an asset. An empty asset returns 0
// after a successful account fetch, which makes it usable as a credentials
// probe.
func (c *Client) GetBalance(asset string) (float64, error) {
	body, err := c.signedRequest(http.MethodGet, "/api/v3/account", nil)
	if err != nil {
		return 0, err
	}
	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

// binanceOrder is the wire shape Binance returns for order endpoints.
type binanceOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	Status        string `json:"status"`
	TransactTime  int64  `json:"transactTime"`
	CummulativeQQ string `json:"cummulativeQuoteQty"`
	Fills         []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

func (o *binanceOrder) toOrder() *types.Order {
	order := &types.Order{
		OrderID:     strconv.FormatInt(o.OrderID, 10),
		Symbol:      o.Symbol,
		Side:        types.Side(o.Side),
		Type:        types.OrderType(o.Type),
		Quantity:    parseFloat(o.OrigQty),
		ExecutedQty: parseFloat(o.ExecutedQty),
		Price:       parseFloat(o.Price),
		Status:      types.OrderStatus(o.Status),
		CreatedAt:   time.UnixMilli(o.TransactTime),
	}
	// Market orders report price 0; derive the average fill price instead.
	if order.Price == 0 && len(o.Fills) > 0 {
		var qty, notional float64
		for _, f := range o.Fills {
			p, q := parseFloat(f.Price), parseFloat(f.Qty)
			qty += q
			notional += p * q
		}
		if qty > 0 {
			order.Price = notional / qty
		}
	}
	return order
}

func (c *Client) publicRequest(endpoint string, params url.Values) ([]byte, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) signedRequest(method, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		req, err = http.NewRequest(method, c.baseURL+endpoint+"?"+query, nil)
	} else {
		req, err = http.NewRequest(method, c.baseURL+endpoint, strings.NewReader(query))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{
		StatusCode: statusCode,
		// 429 is a rate limit, 418 an IP ban cooldown, 5xx exchange trouble.
		Transient: statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot || statusCode >= 500,
	}
	_ = json.Unmarshal(body, apiErr)
	return apiErr
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
