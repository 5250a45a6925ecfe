// Package engine implements the multi-strategy reconciliation core: the
// candidate index over the declaration feed, the tolerance matcher, the
// combinatorial subset-sum solver, the unit-price discriminator, the ordered
// strategy cascade, the diagnostic generator for unresolved groups and the
// global balance validator.
//
// The engine is a synchronous, single-threaded batch computation. It consumes
// two in-memory datasets plus a Config and produces an immutable Result;
// every assignment records the tier and tolerance basis that produced it.
//
// Example usage:
//
//	eng := engine.New(engine.DefaultConfig())
//	eng.LoadLedger(ledgerLines)
//	eng.LoadDeclarations(declarationLines)
//
//	result, err := eng.Reconcile()
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config holds every tunable parameter of the cascade. The tier ORDER is
// structural and fixed (reordering changes which declaration line wins
// ambiguous cases); the tolerance constants and search budgets here are
// configuration, not invariants.
//
// Use the factory functions for common scenarios:
//   - DefaultConfig(): the tolerances the filing workflow was tuned with
//   - StrictConfig(): exact tiers only, no forced or reverse assignment
//   - RelaxedConfig(): wider bands for exploratory runs on noisy feeds
type Config struct {
	// ExactQtyTol / ExactValTol are the absolute tolerances of the exact
	// group tiers E1-E4 (units / currency units).
	ExactQtyTol decimal.Decimal `json:"exact_qty_tol"`
	ExactValTol decimal.Decimal `json:"exact_val_tol"`

	// RelaxedPct is the percentage tolerance of tier E5, with absolute
	// floors so small groups keep a workable band.
	RelaxedPct      float64         `json:"relaxed_pct"`
	RelaxedQtyFloor decimal.Decimal `json:"relaxed_qty_floor"`
	RelaxedValFloor decimal.Decimal `json:"relaxed_val_floor"`

	// UnitPricePct is the relative unit-price band of tier E7.
	UnitPricePct float64 `json:"unit_price_pct"`

	// ChapterPct / DocumentPct are the unit-price bands of the broadened-key
	// tiers E9 (chapter-level code) and E10 (document only).
	ChapterPct  float64 `json:"chapter_pct"`
	DocumentPct float64 `json:"document_pct"`

	// ReverseSweepPcts are the progressively looser quantity/value bands of
	// the reverse-sweep tiers R1, R2. R3 is always unconditional.
	ReverseSweepPcts []float64 `json:"reverse_sweep_pcts"`

	// EnableForcedGreedy controls tier E11 (assign the unit-price-closest
	// unclaimed candidate with no tolerance gate).
	EnableForcedGreedy bool `json:"enable_forced_greedy"`

	// EnableReverseSweep controls the R-series tiers.
	EnableReverseSweep bool `json:"enable_reverse_sweep"`

	// SubsetNodeBudget bounds the backtracking stage of the subset-sum
	// solver; exhausting it means "no subset", never an error. This budget
	// is the solver's sole cancellation mechanism.
	SubsetNodeBudget int `json:"subset_node_budget"`

	// SubsetSmallPoolMax is the pool size up to which the solver
	// exhaustively enumerates 2- and 3-item combinations.
	SubsetSmallPoolMax int `json:"subset_small_pool_max"`

	// SubsetGreedyOffsets is how many starting offsets the greedy
	// contiguous-slice stage tries per direction.
	SubsetGreedyOffsets int `json:"subset_greedy_offsets"`

	// MaxCombinationSize caps how many declaration lines a combination
	// found by tier E6 may span.
	MaxCombinationSize int `json:"max_combination_size"`

	// BalanceQtyTol / BalanceValTol gate the global balance report's
	// "balanced" flag; by convention the same values as the exact tiers.
	BalanceQtyTol decimal.Decimal `json:"balance_qty_tol"`
	BalanceValTol decimal.Decimal `json:"balance_val_tol"`
}

// DefaultConfig returns the tolerances the reconciliation workflow was tuned
// with: ±1 unit / ±2 currency units on the exact tiers, 5% relaxed band,
// both last-resort tier families enabled.
func DefaultConfig() *Config {
	return &Config{
		ExactQtyTol:         decimal.NewFromInt(1),
		ExactValTol:         decimal.NewFromInt(2),
		RelaxedPct:          5.0,
		RelaxedQtyFloor:     decimal.NewFromInt(2),
		RelaxedValFloor:     decimal.NewFromInt(5),
		UnitPricePct:        10.0,
		ChapterPct:          15.0,
		DocumentPct:         20.0,
		ReverseSweepPcts:    []float64{30.0, 40.0},
		EnableForcedGreedy:  true,
		EnableReverseSweep:  true,
		SubsetNodeBudget:    400000,
		SubsetSmallPoolMax:  12,
		SubsetGreedyOffsets: 60,
		MaxCombinationSize:  3,
		BalanceQtyTol:       decimal.NewFromInt(1),
		BalanceValTol:       decimal.NewFromInt(2),
	}
}

// StrictConfig returns a configuration that only accepts exact-tier matches:
// no forced greedy, no reverse sweep, no relaxed percentage band.
func StrictConfig() *Config {
	c := DefaultConfig()
	c.RelaxedPct = 0.0
	c.UnitPricePct = 0.0
	c.ChapterPct = 0.0
	c.DocumentPct = 0.0
	c.EnableForcedGreedy = false
	c.EnableReverseSweep = false
	c.ReverseSweepPcts = nil
	return c
}

// RelaxedConfig returns wider bands for exploratory runs on noisy feeds.
func RelaxedConfig() *Config {
	c := DefaultConfig()
	c.ExactQtyTol = decimal.NewFromInt(2)
	c.ExactValTol = decimal.NewFromInt(4)
	c.RelaxedPct = 10.0
	c.UnitPricePct = 15.0
	c.ChapterPct = 20.0
	c.DocumentPct = 25.0
	c.ReverseSweepPcts = []float64{35.0, 50.0}
	return c
}

// Validate checks the configuration for values the cascade cannot run with.
func (c *Config) Validate() error {
	if c.ExactQtyTol.IsNegative() || c.ExactValTol.IsNegative() {
		return fmt.Errorf("exact tolerances cannot be negative: qty=%s val=%s", c.ExactQtyTol, c.ExactValTol)
	}
	if c.RelaxedPct < 0 || c.RelaxedPct > 100 {
		return fmt.Errorf("relaxed percentage must be between 0 and 100: %f", c.RelaxedPct)
	}
	if c.RelaxedQtyFloor.IsNegative() || c.RelaxedValFloor.IsNegative() {
		return fmt.Errorf("relaxed floors cannot be negative")
	}
	for _, p := range []float64{c.UnitPricePct, c.ChapterPct, c.DocumentPct} {
		if p < 0 || p > 100 {
			return fmt.Errorf("unit-price percentage must be between 0 and 100: %f", p)
		}
	}
	for i, p := range c.ReverseSweepPcts {
		if p <= 0 || p > 100 {
			return fmt.Errorf("reverse sweep percentage %d must be between 0 and 100: %f", i+1, p)
		}
		if i > 0 && p < c.ReverseSweepPcts[i-1] {
			return fmt.Errorf("reverse sweep percentages must be non-decreasing: %v", c.ReverseSweepPcts)
		}
	}
	if c.SubsetNodeBudget <= 0 {
		return fmt.Errorf("subset node budget must be positive: %d", c.SubsetNodeBudget)
	}
	if c.SubsetSmallPoolMax < 0 {
		return fmt.Errorf("subset small pool max cannot be negative: %d", c.SubsetSmallPoolMax)
	}
	if c.SubsetGreedyOffsets < 0 {
		return fmt.Errorf("subset greedy offsets cannot be negative: %d", c.SubsetGreedyOffsets)
	}
	if c.MaxCombinationSize < 2 {
		return fmt.Errorf("max combination size must be at least 2: %d", c.MaxCombinationSize)
	}
	if c.BalanceQtyTol.IsNegative() || c.BalanceValTol.IsNegative() {
		return fmt.Errorf("balance tolerances cannot be negative")
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.ReverseSweepPcts = append([]float64(nil), c.ReverseSweepPcts...)
	return &out
}

// String returns a human-readable description of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Exact: ±%s/±%s, Relaxed: %.1f%%, UnitPrice: %.1f%%, Reverse: %v, NodeBudget: %d}",
		c.ExactQtyTol, c.ExactValTol, c.RelaxedPct, c.UnitPricePct, c.ReverseSweepPcts, c.SubsetNodeBudget)
}
