// Package status exposes the read-only reporting API: current position,
// recent prices, ledger and portfolio value. It only ever reads the state
// store; every write path belongs to the trader.
package status

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksred/coin-rotator/internal/storage"
	"github.com/ksred/coin-rotator/pkg/response"
)

const (
	defaultLedgerLimit   = 50
	defaultSnapshotLimit = 60
	defaultPriceWindow   = 15 * time.Minute
)

// Service reads reporting snapshots from the state store.
type Service struct {
	db *storage.Database
}

func NewService(db *storage.Database) *Service {
	return &Service{db: db}
}

// PositionView is the externally visible shape of the current holding.
type PositionView struct {
	Holding    bool      `json:"holding"`
	Coin       string    `json:"coin,omitempty"`
	Quantity   float64   `json:"quantity,omitempty"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	EnteredAt  time.Time `json:"entered_at,omitempty"`
	Pending    bool      `json:"pending_order"`
}

// GetPosition returns the current position snapshot.
func (s *Service) GetPosition() (*PositionView, error) {
	pos, err := s.db.GetPosition()
	if err != nil {
		return nil, err
	}
	view := &PositionView{}
	if pos != nil {
		view.Holding = pos.Holding()
		view.Coin = pos.Coin
		view.Quantity = pos.Quantity
		view.EntryPrice = pos.EntryPrice
		view.EnteredAt = pos.EnteredAt
		view.Pending = pos.PendingOrderID != ""
	}
	return view, nil
}

// ProfitView summarizes realized performance.
type ProfitView struct {
	RealizedProfit float64                    `json:"realized_profit"`
	RecentTrades   []storage.TradeLedgerEntry `json:"recent_trades"`
}

// GetProfit returns total realized profit and the most recent trades.
func (s *Service) GetProfit(limit int) (*ProfitView, error) {
	total, err := s.db.RealizedProfit()
	if err != nil {
		return nil, err
	}
	trades, err := s.db.RecentLedger(limit)
	if err != nil {
		return nil, err
	}
	return &ProfitView{RealizedProfit: total, RecentTrades: trades}, nil
}

// GinHandlers contains HTTP handlers for the status endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetPositionHandler handles GET requests for the current position.
func (h *GinHandlers) GetPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := h.service.GetPosition()
		response.Handle(c, view, err)
	}
}

// GetPricesHandler handles GET requests for a symbol's recent price window.
// URL parameter: symbol. Optional query parameter: minutes.
func (h *GinHandlers) GetPricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			response.BadRequest(c, "Symbol is required")
			return
		}

		window := defaultPriceWindow
		if raw := c.Query("minutes"); raw != "" {
			minutes, err := strconv.Atoi(raw)
			if err != nil || minutes <= 0 {
				response.BadRequest(c, "minutes must be a positive integer")
				return
			}
			window = time.Duration(minutes) * time.Minute
		}

		points, err := h.service.db.PriceWindow(symbol, time.Now().Add(-window))
		response.Handle(c, points, err)
	}
}

// GetLedgerHandler handles GET requests for recent trades and realized
// profit. Optional query parameter: limit.
func (h *GinHandlers) GetLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultLedgerLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		view, err := h.service.GetProfit(limit)
		response.Handle(c, view, err)
	}
}

// GetValueHandler handles GET requests for recent portfolio value
// snapshots.
func (h *GinHandlers) GetValueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshots, err := h.service.db.RecentValueSnapshots(defaultSnapshotLimit)
		response.Handle(c, snapshots, err)
	}
}
