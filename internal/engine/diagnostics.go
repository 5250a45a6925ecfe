package engine

import (
	"fmt"
	"strings"

	"customs-sequence-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

// buildLedgerDiagnostics produces one reason per ledger row the cascade left
// unassigned. Reasons are ranked by root cause: a missing tariff code is
// reported before a country mismatch, which is reported before a plain totals
// mismatch, so the operator sees the most actionable explanation first.
// Members of the same (doc, code, country) group share a reason, since the
// cascade matched them as a unit.
func buildLedgerDiagnostics(ledger []*models.LedgerLine, assignments map[int]*models.Assignment, idx *CandidateIndex) []models.UnmatchedDiagnostic {
	type grpTotals struct{ qty, val decimal.Decimal }
	totals := make(map[groupKey]*grpTotals)
	for _, row := range ledger {
		if row.Excluded {
			continue
		}
		if _, done := assignments[row.Index]; done {
			continue
		}
		k := keyDocCodeCountry(row)
		t, ok := totals[k]
		if !ok {
			t = &grpTotals{}
			totals[k] = t
		}
		t.qty = t.qty.Add(row.Quantity)
		t.val = t.val.Add(row.Value)
	}

	var out []models.UnmatchedDiagnostic
	for _, row := range ledger {
		if row.Excluded {
			continue
		}
		if _, done := assignments[row.Index]; done {
			continue
		}
		t := totals[keyDocCodeCountry(row)]
		out = append(out, models.UnmatchedDiagnostic{
			Index:  row.Index,
			Reason: ledgerReason(row, t.qty, t.val, idx),
		})
	}
	return out
}

func ledgerReason(row *models.LedgerLine, groupQty, groupVal decimal.Decimal, idx *CandidateIndex) string {
	code := row.NormalizedCode()

	if !idx.HasCode(code) {
		return fmt.Sprintf("tariff code %s does not appear anywhere in the declaration feed", code)
	}

	inDoc := idx.ByDocCode(row.DocumentID, code)
	if len(inDoc) == 0 {
		docs := idx.DocumentsWithCode(code)
		return fmt.Sprintf("tariff code %s is declared under document(s) %s but not under %s",
			code, strings.Join(docs, ", "), row.DocumentID)
	}

	if len(idx.ByDocCodeCountry(row.DocumentID, code, row.CountryCode)) == 0 {
		countries := idx.CountriesForDocCode(row.DocumentID, code)
		return fmt.Sprintf("country %s not declared for %s/%s; declared origin(s): %s",
			row.NormalizedCountry(), row.DocumentID, code, strings.Join(countries, ", "))
	}

	best := closestByTotals(inDoc, groupQty, groupVal)
	return fmt.Sprintf("no candidate within tolerance: group qty=%s val=%s, closest declaration (seq %s) qty=%s val=%s (Δqty=%s Δval=%s)",
		groupQty, groupVal, best.SequenceID, best.Quantity, best.Value,
		groupQty.Sub(best.Quantity), groupVal.Sub(best.Value))
}

// buildOrphanDiagnostics explains every declaration line the cascade never
// claimed. Degenerate lines (zero quantity or value) get their own reasons so
// they are not mistaken for real mismatches.
func buildOrphanDiagnostics(declarations []*models.DeclarationLine, claims *ClaimState, ledger []*models.LedgerLine) []models.UnmatchedDiagnostic {
	ledgerTotals := make(map[docCodeKey]*pairTotals)
	for _, row := range ledger {
		if row.Excluded {
			continue
		}
		k := docCodeKey{row.DocumentID, row.NormalizedCode()}
		t, ok := ledgerTotals[k]
		if !ok {
			t = &pairTotals{}
			ledgerTotals[k] = t
		}
		t.qty = t.qty.Add(row.Quantity)
		t.val = t.val.Add(row.Value)
	}

	var out []models.UnmatchedDiagnostic
	for _, d := range declarations {
		if claims.IsClaimed(d.Index) {
			continue
		}
		out = append(out, models.UnmatchedDiagnostic{
			Index:  d.Index,
			Reason: orphanReason(d, ledgerTotals[docCodeKey{d.DocumentID, d.NormalizedCode()}]),
		})
	}
	return out
}

// pairTotals accumulates a quantity/value pair per lookup key.
type pairTotals struct{ qty, val decimal.Decimal }

func orphanReason(d *models.DeclarationLine, ledger *pairTotals) string {
	switch {
	case d.IsZero():
		return "declared with zero quantity and zero value; nothing to reconcile"
	case d.Quantity.IsZero():
		return fmt.Sprintf("declared with zero quantity (value %s); no ledger lot can consume it", d.Value)
	case d.Value.IsZero():
		return fmt.Sprintf("declared with zero value (quantity %s); no ledger lot can consume it", d.Quantity)
	case ledger == nil:
		return fmt.Sprintf("no ledger rows under document %s with tariff code %s", d.DocumentID, d.NormalizedCode())
	default:
		return fmt.Sprintf("ledger aggregate for %s/%s (qty=%s val=%s) does not reach this line (qty=%s val=%s)",
			d.DocumentID, d.NormalizedCode(), ledger.qty, ledger.val, d.Quantity, d.Value)
	}
}
