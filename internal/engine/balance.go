package engine

import (
	"fmt"

	"customs-sequence-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// BalanceReport compares the grand totals of the two datasets. It is
// independent of matching: a perfectly balanced pair of feeds can still
// produce unmatched rows, and a structurally unbalanced pair can still match
// everything row by row. Reporters print it as the run's headline.
type BalanceReport struct {
	LedgerQuantity      decimal.Decimal `json:"ledgerQuantity"`
	LedgerValue         decimal.Decimal `json:"ledgerValue"`
	DeclarationQuantity decimal.Decimal `json:"declarationQuantity"`
	DeclarationValue    decimal.Decimal `json:"declarationValue"`

	// Signed differences: ledger minus declaration.
	QuantityDelta decimal.Decimal `json:"quantityDelta"`
	ValueDelta    decimal.Decimal `json:"valueDelta"`

	// Balanced is true when both deltas fall within the configured
	// balance tolerances.
	Balanced bool `json:"balanced"`

	// Counts of rows that contributed (excluded ledger rows do not).
	LedgerRows      int `json:"ledgerRows"`
	ExcludedRows    int `json:"excludedRows"`
	DeclarationRows int `json:"declarationRows"`
}

// ValidateBalance sums both datasets and reports the signed differences.
// Excluded ledger rows stay out of the totals, matching their exclusion from
// the cascade.
func ValidateBalance(ledger []*models.LedgerLine, declarations []*models.DeclarationLine, tolQty, tolVal decimal.Decimal) *BalanceReport {
	r := &BalanceReport{DeclarationRows: len(declarations)}

	for _, row := range ledger {
		if row.Excluded {
			r.ExcludedRows++
			continue
		}
		r.LedgerRows++
		r.LedgerQuantity = r.LedgerQuantity.Add(row.Quantity)
		r.LedgerValue = r.LedgerValue.Add(row.Value)
	}
	for _, d := range declarations {
		r.DeclarationQuantity = r.DeclarationQuantity.Add(d.Quantity)
		r.DeclarationValue = r.DeclarationValue.Add(d.Value)
	}

	r.QuantityDelta = r.LedgerQuantity.Sub(r.DeclarationQuantity)
	r.ValueDelta = r.LedgerValue.Sub(r.DeclarationValue)
	r.Balanced = r.QuantityDelta.Abs().LessThanOrEqual(tolQty) &&
		r.ValueDelta.Abs().LessThanOrEqual(tolVal)

	return r
}

// Headline renders the one-line summary reporters print first.
func (r *BalanceReport) Headline() string {
	state := "BALANCED"
	if !r.Balanced {
		state = "OUT OF BALANCE"
	}
	return fmt.Sprintf("%s: ledger qty=%s val=%s | declared qty=%s val=%s | Δqty=%s Δval=%s",
		state, r.LedgerQuantity, r.LedgerValue,
		r.DeclarationQuantity, r.DeclarationValue,
		r.QuantityDelta, r.ValueDelta)
}
