package engine

import (
	"math"

	"customs-sequence-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// firstWithinTolerance returns the first candidate (in feed order) whose
// quantity and value both fall within the absolute tolerances of the target.
// First-match rather than best-match is intentional: it is deterministic and
// favors declaration order, matching the convention that earlier-declared
// lots are consumed first.
func firstWithinTolerance(candidates []*models.DeclarationLine, targetQty, targetVal, tolQty, tolVal decimal.Decimal) *models.DeclarationLine {
	for _, c := range candidates {
		if models.WithinAbsTolerance(c.Quantity, targetQty, tolQty) &&
			models.WithinAbsTolerance(c.Value, targetVal, tolVal) {
			return c
		}
	}
	return nil
}

// unitPriceDelta computes the relative difference between the target's
// value-per-unit and the candidate's. Candidates with non-positive quantity
// are undefined (skipped by callers) rather than producing Inf/NaN output.
func unitPriceDelta(candidate *models.DeclarationLine, targetQty, targetVal decimal.Decimal) (float64, bool) {
	if !targetQty.IsPositive() {
		return 0, false
	}
	candUP, ok := candidate.UnitPrice()
	if !ok {
		return 0, false
	}
	targetUP := targetVal.Div(targetQty)
	if candUP.IsZero() {
		if targetUP.IsZero() {
			return 0, true
		}
		return 0, false
	}
	delta, _ := targetUP.Sub(candUP).Abs().Div(candUP).Float64()
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, false
	}
	return delta, true
}

// matchByUnitPrice resolves ambiguous candidates by value-per-unit: it
// returns the candidate with the smallest relative unit-price difference,
// provided that difference is within tolPct percent. Used when totals
// disagree (carry-over balances from prior periods) but the per-unit price
// still fingerprints the underlying material.
func matchByUnitPrice(candidates []*models.DeclarationLine, targetQty, targetVal decimal.Decimal, tolPct float64) *models.DeclarationLine {
	best, bestDelta := closestByUnitPrice(candidates, targetQty, targetVal)
	if best == nil || bestDelta > tolPct/100.0 {
		return nil
	}
	return best
}

// closestByUnitPrice returns the candidate with the smallest relative
// unit-price difference and that difference, with no tolerance gate. The
// forced-greedy and final reverse-sweep tiers use it directly.
func closestByUnitPrice(candidates []*models.DeclarationLine, targetQty, targetVal decimal.Decimal) (*models.DeclarationLine, float64) {
	var best *models.DeclarationLine
	bestDelta := math.Inf(1)
	for _, c := range candidates {
		delta, ok := unitPriceDelta(c, targetQty, targetVal)
		if !ok {
			continue
		}
		if delta < bestDelta {
			bestDelta = delta
			best = c
		}
	}
	return best, bestDelta
}

// closestByTotals returns the candidate minimizing |qtyΔ| + |valΔ|, used by
// the diagnostics generator to report the nearest near-miss.
func closestByTotals(candidates []*models.DeclarationLine, targetQty, targetVal decimal.Decimal) *models.DeclarationLine {
	var best *models.DeclarationLine
	var bestDiff decimal.Decimal
	for _, c := range candidates {
		diff := c.Quantity.Sub(targetQty).Abs().Add(c.Value.Sub(targetVal).Abs())
		if best == nil || diff.LessThan(bestDiff) {
			best = c
			bestDiff = diff
		}
	}
	return best
}
