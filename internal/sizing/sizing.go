// Package sizing converts desired trade amounts into orders the exchange
// will accept. All rounding is floor-based: a buy quantity is never rounded
// above the funds backing it and a limit price is never rounded above what
// the price filter allows, at the cost of a little unused capital.
package sizing

import (
	"fmt"
	"math"

	"github.com/ksred/coin-rotator/internal/types"
)

// Reason classifies why a desired amount cannot be made compliant.
type Reason string

const (
	ReasonBelowMinNotional   Reason = "BELOW_MIN_NOTIONAL"
	ReasonQuantityOutOfRange Reason = "QUANTITY_OUT_OF_RANGE"
	ReasonPriceOutOfRange    Reason = "PRICE_OUT_OF_RANGE"
)

// ConstraintError reports an order that cannot satisfy the symbol's rules.
// The caller abandons the trade signal and keeps scouting.
type ConstraintError struct {
	Symbol string
	Reason Reason
	Detail string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation for %s (%s): %s", e.Symbol, e.Reason, e.Detail)
}

// BuyQuantity converts a desired notional spend into a compliant quantity
// at the given price: floored to the step size, clamped to the quantity
// range, then bumped up whole steps if needed to clear the minimum notional.
func BuyQuantity(c types.SymbolConstraints, notional, price float64) (float64, error) {
	if price <= 0 {
		return 0, &ConstraintError{Symbol: c.Symbol, Reason: ReasonPriceOutOfRange, Detail: fmt.Sprintf("non-positive price %v", price)}
	}
	ceiling := c.MaxQty
	if ceiling <= 0 {
		ceiling = math.MaxFloat64
	}
	return normalizeQuantity(c, notional/price, price, ceiling)
}

// SellQuantity converts an available balance into a compliant liquidation
// quantity. Unlike a buy, the quantity can never be bumped above the
// balance to clear the minimum notional.
func SellQuantity(c types.SymbolConstraints, balance, price float64) (float64, error) {
	ceiling := floorStep(balance, c.StepSize)
	if c.MaxQty > 0 && ceiling > c.MaxQty {
		ceiling = c.MaxQty
	}
	return normalizeQuantity(c, balance, price, ceiling)
}

func normalizeQuantity(c types.SymbolConstraints, raw, price, ceiling float64) (float64, error) {
	qty := floorStep(raw, c.StepSize)

	if qty < c.MinQty {
		qty = c.MinQty
	}
	if c.MaxQty > 0 && qty > c.MaxQty {
		qty = c.MaxQty
	}
	if qty > ceiling {
		return 0, &ConstraintError{
			Symbol: c.Symbol,
			Reason: ReasonQuantityOutOfRange,
			Detail: fmt.Sprintf("quantity %v outside [%v, %v]", qty, c.MinQty, math.Min(c.MaxQty, ceiling)),
		}
	}

	// Walk up whole steps until the order value clears the minimum.
	for qty*price < c.MinNotional {
		next := roundStep(qty + c.StepSize)
		if next > ceiling || (c.MaxQty > 0 && next > c.MaxQty) {
			return 0, &ConstraintError{
				Symbol: c.Symbol,
				Reason: ReasonBelowMinNotional,
				Detail: fmt.Sprintf("notional %v below minimum %v", qty*price, c.MinNotional),
			}
		}
		qty = next
	}

	if qty <= 0 {
		return 0, &ConstraintError{
			Symbol: c.Symbol,
			Reason: ReasonQuantityOutOfRange,
			Detail: "quantity rounds to zero",
		}
	}
	return qty, nil
}

// LimitPrice floors a target price to the symbol's tick size and verifies
// it lies within the price filter bounds.
func LimitPrice(c types.SymbolConstraints, target float64) (float64, error) {
	price := floorStep(target, c.TickSize)
	if price < c.MinPrice || (c.MaxPrice > 0 && price > c.MaxPrice) {
		return 0, &ConstraintError{
			Symbol: c.Symbol,
			Reason: ReasonPriceOutOfRange,
			Detail: fmt.Sprintf("price %v outside [%v, %v]", price, c.MinPrice, c.MaxPrice),
		}
	}
	return price, nil
}

// ProfitTarget computes the exit price needed to realize the net profit
// fraction after paying both fee legs. When maker and taker rates are not
// separately known, callers pass the taker rate for both legs as the worst
// case.
func ProfitTarget(entryPrice, makerRate, takerRate, netProfit float64) float64 {
	return entryPrice * (1 + netProfit + makerRate + takerRate)
}

// floorStep returns the largest multiple of step that does not exceed
// value. A small epsilon absorbs float division noise so exact multiples
// are not knocked down a step.
func floorStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Floor(value/step + 1e-9)
	return roundStep(steps * step)
}

// roundStep snaps accumulated float error back onto the step grid.
func roundStep(value float64) float64 {
	return math.Round(value*1e8) / 1e8
}
