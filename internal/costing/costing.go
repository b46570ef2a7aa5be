// Package costing holds the pure valuation and replenishment math. Nothing in
// here touches the store; callers supply layered stock or transaction data and
// get deterministic results back, which keeps every formula unit-testable in
// isolation.
package costing

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Layer is a discrete lot of stock with its own quantity and unit cost.
type Layer struct {
	Quantity    decimal.Decimal
	CostPerUnit decimal.Decimal
	ReceivedAt  time.Time
}

// LayerConsumption records how much of one layer a costing run consumed.
type LayerConsumption struct {
	Layer     Layer
	Consumed  decimal.Decimal
	Cost      decimal.Decimal
	Exhausted bool
}

// ConsumptionResult is the outcome of a FIFO/LIFO consumption run. A positive
// RemainingQuantity means supply ran out before the requested quantity was
// covered; that is reported, not treated as an error.
type ConsumptionResult struct {
	TotalCost         decimal.Decimal
	ConsumedQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	Breakdown         []LayerConsumption
}

// CostedQuantity is a quantity/cost pair, typically taken from a positive
// inbound transaction.
type CostedQuantity struct {
	Quantity    decimal.Decimal
	CostPerUnit decimal.Decimal
}

// WeightedAverageCost returns sum(qty*cost)/sum(qty) over entries with qty > 0,
// or zero when there is no positive quantity. Order of the input is irrelevant.
func WeightedAverageCost(entries []CostedQuantity) decimal.Decimal {
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	for _, e := range entries {
		if e.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		totalQty = totalQty.Add(e.Quantity)
		totalValue = totalValue.Add(e.Quantity.Mul(e.CostPerUnit))
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalValue.Div(totalQty).Round(4)
}

// FIFOCost consumes qtyToConsume from the oldest layers first.
func FIFOCost(layers []Layer, qtyToConsume decimal.Decimal) ConsumptionResult {
	return consumeLayers(layers, qtyToConsume, false)
}

// LIFOCost consumes qtyToConsume from the newest layers first.
func LIFOCost(layers []Layer, qtyToConsume decimal.Decimal) ConsumptionResult {
	return consumeLayers(layers, qtyToConsume, true)
}

func consumeLayers(layers []Layer, qtyToConsume decimal.Decimal, newestFirst bool) ConsumptionResult {
	ordered := make([]Layer, len(layers))
	copy(ordered, layers)
	// Stable sort keeps the input order for equal dates.
	sort.SliceStable(ordered, func(i, j int) bool {
		if newestFirst {
			return ordered[i].ReceivedAt.After(ordered[j].ReceivedAt)
		}
		return ordered[i].ReceivedAt.Before(ordered[j].ReceivedAt)
	})

	result := ConsumptionResult{
		TotalCost:         decimal.Zero,
		ConsumedQuantity:  decimal.Zero,
		RemainingQuantity: qtyToConsume,
	}
	if qtyToConsume.LessThanOrEqual(decimal.Zero) {
		result.RemainingQuantity = decimal.Zero
		return result
	}

	for _, layer := range ordered {
		if result.RemainingQuantity.LessThanOrEqual(decimal.Zero) {
			break
		}
		if layer.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		take := decimal.Min(result.RemainingQuantity, layer.Quantity)
		cost := take.Mul(layer.CostPerUnit)
		result.Breakdown = append(result.Breakdown, LayerConsumption{
			Layer:     layer,
			Consumed:  take,
			Cost:      cost,
			Exhausted: take.Equal(layer.Quantity),
		})
		result.TotalCost = result.TotalCost.Add(cost)
		result.ConsumedQuantity = result.ConsumedQuantity.Add(take)
		result.RemainingQuantity = result.RemainingQuantity.Sub(take)
	}
	return result
}

// VarianceResult compares standard and actual cost over a quantity.
type VarianceResult struct {
	StandardTotal decimal.Decimal
	ActualTotal   decimal.Decimal
	Variance      decimal.Decimal
	VariancePct   decimal.Decimal
	Favorable     bool
}

// CostVariance returns actual minus standard totals; a negative variance is
// favorable. Variance percentage is zero when the standard total is zero.
func CostVariance(standardCost, actualCost, qty decimal.Decimal) VarianceResult {
	standardTotal := standardCost.Mul(qty)
	actualTotal := actualCost.Mul(qty)
	variance := actualTotal.Sub(standardTotal)

	pct := decimal.Zero
	if !standardTotal.IsZero() {
		pct = variance.Div(standardTotal).Mul(decimal.NewFromInt(100)).Round(4)
	}

	return VarianceResult{
		StandardTotal: standardTotal,
		ActualTotal:   actualTotal,
		Variance:      variance,
		VariancePct:   pct,
		Favorable:     variance.IsNegative(),
	}
}

// EconomicOrderQuantity returns ceil(sqrt(2*demand*orderingCost/holdingCost)),
// or zero when holdingCost is not positive.
func EconomicOrderQuantity(annualDemand, orderingCost, holdingCost float64) int64 {
	if holdingCost <= 0 {
		return 0
	}
	return int64(math.Ceil(math.Sqrt(2 * annualDemand * orderingCost / holdingCost)))
}

// ZScoreFunc maps a service level to a z-score.
type ZScoreFunc func(serviceLevel float64) float64

// DefaultZScore is a 3-bucket approximation, not an inverse-normal CDF. Known
// precision limitation; swap in a real CDF via the ZScoreFunc parameter when
// more accuracy is needed.
func DefaultZScore(serviceLevel float64) float64 {
	switch serviceLevel {
	case 0.95:
		return 1.65
	case 0.90:
		return 1.28
	default:
		return 1.0
	}
}

// SafetyStock returns ceil(z(serviceLevel) * demandStdDev * sqrt(leadTimeDays)).
// A nil z falls back to DefaultZScore.
func SafetyStock(demandStdDev, serviceLevel float64, leadTimeDays int, z ZScoreFunc) int64 {
	if z == nil {
		z = DefaultZScore
	}
	if leadTimeDays < 0 {
		leadTimeDays = 0
	}
	return int64(math.Ceil(z(serviceLevel) * demandStdDev * math.Sqrt(float64(leadTimeDays))))
}

// DefaultSafetyStockPct is the reorder-point safety margin applied when the
// caller has no better policy input.
const DefaultSafetyStockPct = 0.2

// ReorderPoint returns ceil(avgConsumption * leadTimeDays * (1 + safetyStockPct)).
func ReorderPoint(avgConsumption float64, leadTimeDays int, safetyStockPct float64) int64 {
	return int64(math.Ceil(avgConsumption * float64(leadTimeDays) * (1 + safetyStockPct)))
}

// DaysOfInventory returns currentStock / avgDailyConsumption. The second return
// value is true when consumption is zero, meaning the stock lasts indefinitely;
// the decimal value is meaningless in that case.
func DaysOfInventory(currentStock, avgDailyConsumption decimal.Decimal) (decimal.Decimal, bool) {
	if avgDailyConsumption.IsZero() {
		return decimal.Zero, true
	}
	return currentStock.Div(avgDailyConsumption).Round(4), false
}
