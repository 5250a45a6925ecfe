package engine

import (
	"sort"

	"customs-sequence-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// subsetOptions parameterizes findSubset. requireValue toggles the value
// check: some phases only need quantity parity because value carries
// acceptable rounding noise.
type subsetOptions struct {
	requireValue  bool
	nodeBudget    int
	smallPoolMax  int
	greedyOffsets int
	maxComboSize  int
}

func (c *Config) subsetOptions(requireValue bool) subsetOptions {
	return subsetOptions{
		requireValue:  requireValue,
		nodeBudget:    c.SubsetNodeBudget,
		smallPoolMax:  c.SubsetSmallPoolMax,
		greedyOffsets: c.SubsetGreedyOffsets,
		maxComboSize:  c.MaxCombinationSize,
	}
}

// findSubset searches the candidate pool for a subset whose aggregate
// quantity (and value, when required) falls within tolerance of the target.
// Four staged heuristics, tried in order, first success wins:
//
//  1. whole-pool check
//  2. exhaustive 2- and 3-item enumeration for small pools
//  3. greedy ascending/descending contiguous slices
//  4. bounded backtracking with suffix-sum pruning and a node budget
//
// Returns nil when no stage succeeds. Exhausting the node budget is a "no
// subset" answer, not an error; the budget is the cancellation mechanism.
func findSubset(pool []*models.DeclarationLine, targetQty, targetVal, tolQty, tolVal decimal.Decimal, opts subsetOptions) []*models.DeclarationLine {
	if len(pool) == 0 {
		return nil
	}

	accept := func(sumQty, sumVal decimal.Decimal) bool {
		if !models.WithinAbsTolerance(sumQty, targetQty, tolQty) {
			return false
		}
		return !opts.requireValue || models.WithinAbsTolerance(sumVal, targetVal, tolVal)
	}

	// Stage 1: the full pool may already be the answer.
	var poolQty, poolVal decimal.Decimal
	for _, c := range pool {
		poolQty = poolQty.Add(c.Quantity)
		poolVal = poolVal.Add(c.Value)
	}
	if accept(poolQty, poolVal) {
		return pool
	}

	// Stage 2: exhaustive pairs and triples for small pools. C(12,2)+C(12,3)
	// is under 300 checks, so this stays cheap.
	if len(pool) <= opts.smallPoolMax {
		if s := enumerateSmallCombos(pool, accept, opts.maxComboSize); s != nil {
			return s
		}
	}

	// Stage 3: greedy contiguous runs over quantity-sorted copies, both
	// directions. Resolves the common consecutive-lot case without
	// exponential cost.
	if s := greedySlices(pool, targetQty, tolQty, accept, opts.greedyOffsets); s != nil {
		return s
	}

	// Stage 4: bounded depth-first search with suffix-sum pruning.
	return backtrackSubset(pool, targetQty, tolQty, accept, opts.nodeBudget)
}

// enumerateSmallCombos tests every 2-item (and, when maxSize permits, 3-item)
// combination in pool order, so earlier-declared candidates win ties.
func enumerateSmallCombos(pool []*models.DeclarationLine, accept func(q, v decimal.Decimal) bool, maxSize int) []*models.DeclarationLine {
	n := len(pool)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			q := pool[i].Quantity.Add(pool[j].Quantity)
			v := pool[i].Value.Add(pool[j].Value)
			if accept(q, v) {
				return []*models.DeclarationLine{pool[i], pool[j]}
			}
		}
	}
	if maxSize < 3 {
		return nil
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			qij := pool[i].Quantity.Add(pool[j].Quantity)
			vij := pool[i].Value.Add(pool[j].Value)
			for k := j + 1; k < n; k++ {
				q := qij.Add(pool[k].Quantity)
				v := vij.Add(pool[k].Value)
				if accept(q, v) {
					return []*models.DeclarationLine{pool[i], pool[j], pool[k]}
				}
			}
		}
	}
	return nil
}

// greedySlices sorts the pool by quantity (ascending, then descending) and,
// from each of the first maxOffsets starting offsets, accumulates a
// contiguous run until it reaches the target band or overshoots it.
func greedySlices(pool []*models.DeclarationLine, targetQty, tolQty decimal.Decimal, accept func(q, v decimal.Decimal) bool, maxOffsets int) []*models.DeclarationLine {
	asc := append([]*models.DeclarationLine(nil), pool...)
	sort.SliceStable(asc, func(i, j int) bool { return asc[i].Quantity.LessThan(asc[j].Quantity) })

	desc := append([]*models.DeclarationLine(nil), pool...)
	sort.SliceStable(desc, func(i, j int) bool { return desc[i].Quantity.GreaterThan(desc[j].Quantity) })

	upper := targetQty.Add(tolQty)
	for _, sorted := range [][]*models.DeclarationLine{asc, desc} {
		offsets := maxOffsets
		if offsets > len(sorted) {
			offsets = len(sorted)
		}
		for start := 0; start < offsets; start++ {
			var q, v decimal.Decimal
			for end := start; end < len(sorted); end++ {
				q = q.Add(sorted[end].Quantity)
				v = v.Add(sorted[end].Value)
				if accept(q, v) {
					return append([]*models.DeclarationLine(nil), sorted[start:end+1]...)
				}
				if q.GreaterThan(upper) {
					break
				}
			}
		}
	}
	return nil
}

// backtrackSubset runs a depth-first search over the pool sorted descending
// by quantity. Pruning: (a) running sum already above target+tol, (b) running
// sum plus the maximum possible remaining sum (suffix) still below
// target-tol. The search stops after nodeBudget visited nodes and reports
// "none" rather than exhausting all cases.
func backtrackSubset(pool []*models.DeclarationLine, targetQty, tolQty decimal.Decimal, accept func(q, v decimal.Decimal) bool, nodeBudget int) []*models.DeclarationLine {
	sorted := append([]*models.DeclarationLine(nil), pool...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Quantity.GreaterThan(sorted[j].Quantity) })

	// suffix[i] = sum of quantities from i to end.
	suffix := make([]decimal.Decimal, len(sorted)+1)
	suffix[len(sorted)] = decimal.Zero
	for i := len(sorted) - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1].Add(sorted[i].Quantity)
	}

	upper := targetQty.Add(tolQty)
	lower := targetQty.Sub(tolQty)

	var chosen []*models.DeclarationLine
	nodes := 0

	var dfs func(i int, sumQty, sumVal decimal.Decimal) []*models.DeclarationLine
	dfs = func(i int, sumQty, sumVal decimal.Decimal) []*models.DeclarationLine {
		nodes++
		if nodes > nodeBudget {
			return nil
		}
		if sumQty.GreaterThan(upper) {
			return nil
		}
		if accept(sumQty, sumVal) && len(chosen) > 0 {
			return append([]*models.DeclarationLine(nil), chosen...)
		}
		if i >= len(sorted) {
			return nil
		}
		if sumQty.Add(suffix[i]).LessThan(lower) {
			return nil
		}

		chosen = append(chosen, sorted[i])
		if s := dfs(i+1, sumQty.Add(sorted[i].Quantity), sumVal.Add(sorted[i].Value)); s != nil {
			return s
		}
		chosen = chosen[:len(chosen)-1]

		if nodes > nodeBudget {
			return nil
		}
		return dfs(i+1, sumQty, sumVal)
	}

	return dfs(0, decimal.Zero, decimal.Zero)
}
