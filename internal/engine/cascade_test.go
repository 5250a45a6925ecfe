package engine

import (
	"testing"

	"customs-sequence-reconciler/internal/models"

	"github.com/shopspring/decimal"
)

func ledgerRow(index int, doc, code, country, seq string, qty, val float64) *models.LedgerLine {
	l := models.NewLedgerLine(index, doc, code, country,
		decimal.NewFromFloat(qty), decimal.NewFromFloat(val))
	l.ExistingSequenceID = seq
	return l
}

func declRow(index int, doc, code, country, seq string, qty, val float64) *models.DeclarationLine {
	return models.NewDeclarationLine(index, doc, code, country, seq,
		decimal.NewFromFloat(qty), decimal.NewFromFloat(val))
}

func runTestCascade(t *testing.T, ledger []*models.LedgerLine, decls []*models.DeclarationLine) *cascadeOutcome {
	t.Helper()
	return runCascade(ledger, NewCandidateIndex(decls), DefaultConfig())
}

func assignmentFor(t *testing.T, out *cascadeOutcome, ledgerIndex int) *models.Assignment {
	t.Helper()
	a, ok := out.assignments[ledgerIndex]
	if !ok {
		t.Fatalf("ledger row %d not assigned", ledgerIndex)
	}
	return a
}

func TestCascadeDirectKeyVerification(t *testing.T) {
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "085011099", "US", "10", 100, 1000),
	}
	// Totals deliberately disagree: a composite-key hit is authoritative and
	// skips the totals comparison entirely.
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "85011099", "US", "10", 999, 9),
	}

	out := runTestCascade(t, ledger, decls)
	a := assignmentFor(t, out, 0)
	if a.Tier != TierDirectKey {
		t.Errorf("tier = %s, want %s", a.Tier, TierDirectKey)
	}
	if a.SequenceID != "10" {
		t.Errorf("sequence = %s, want 10", a.SequenceID)
	}
	if a.Change != models.ChangeConfirmed {
		t.Errorf("change = %s, want %s", a.Change, models.ChangeConfirmed)
	}
}

func TestCascadeExactGroupLeadingZeros(t *testing.T) {
	// Ledger codes carry leading zeros, the declaration's do not; the
	// normalized key must still line the two up at the strictest group tier.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "085011099", "US", "", 60, 600),
		ledgerRow(1, "DOC-1", "085011099", "US", "", 40, 400),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "85011099", "US", "3", 100, 1000),
	}

	out := runTestCascade(t, ledger, decls)
	for _, idx := range []int{0, 1} {
		a := assignmentFor(t, out, idx)
		if a.Tier != TierExactFull {
			t.Errorf("row %d tier = %s, want %s", idx, a.Tier, TierExactFull)
		}
		if a.SequenceID != "3" {
			t.Errorf("row %d sequence = %s, want 3", idx, a.SequenceID)
		}
		if a.Change != models.ChangeNew {
			t.Errorf("row %d change = %s, want %s", idx, a.Change, models.ChangeNew)
		}
	}
	if !out.claims.IsClaimed(0) {
		t.Error("matched declaration line not claimed")
	}
}

func TestCascadeSequenceSubgroups(t *testing.T) {
	// The whole (doc, code, country) group matches nothing, but splitting by
	// the pre-existing sequence yields two groups that each match exactly.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "US", "1", 100, 1000),
		ledgerRow(1, "DOC-1", "8501", "US", "2", 50, 500),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "7", 100, 1000),
		declRow(1, "DOC-1", "8501", "US", "8", 50, 500),
	}

	out := runTestCascade(t, ledger, decls)
	a0 := assignmentFor(t, out, 0)
	a1 := assignmentFor(t, out, 1)
	if a0.Tier != TierExactSeq || a1.Tier != TierExactSeq {
		t.Errorf("tiers = %s/%s, want both %s", a0.Tier, a1.Tier, TierExactSeq)
	}
	if a0.SequenceID != "7" || a1.SequenceID != "8" {
		t.Errorf("sequences = %s/%s, want 7/8", a0.SequenceID, a1.SequenceID)
	}
	if a0.Change != models.ChangeModified {
		t.Errorf("change = %s, want %s (had sequence 1, assigned 7)", a0.Change, models.ChangeModified)
	}
}

func TestCascadeCountryAgnosticFallback(t *testing.T) {
	// Country disagrees, totals agree: resolved once the key drops country.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "MX", "", 100, 1000),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "4", 100, 1000),
	}

	out := runTestCascade(t, ledger, decls)
	a := assignmentFor(t, out, 0)
	if a.Tier != TierExactCode {
		t.Errorf("tier = %s, want %s", a.Tier, TierExactCode)
	}
}

func TestCascadeRelaxedPercentage(t *testing.T) {
	// Off by 3 units / 30 currency units: outside the absolute band, inside
	// the 5% band.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "US", "", 100, 1000),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "5", 103, 1030),
	}

	out := runTestCascade(t, ledger, decls)
	a := assignmentFor(t, out, 0)
	if a.Tier != TierRelaxed {
		t.Errorf("tier = %s, want %s", a.Tier, TierRelaxed)
	}
}

func TestCascadeCombinationSplit(t *testing.T) {
	// One receiving, two declaration lines: the group's 150 units were
	// declared as 100 + 50. The subset stage must find the pair and the
	// quota partition must give the bigger row the bigger line.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "US", "", 90, 900),
		ledgerRow(1, "DOC-1", "8501", "US", "", 60, 600),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "1", 100, 1000),
		declRow(1, "DOC-1", "8501", "US", "2", 50, 500),
	}

	out := runTestCascade(t, ledger, decls)
	a0 := assignmentFor(t, out, 0)
	a1 := assignmentFor(t, out, 1)
	if a0.Tier != TierCombination || a1.Tier != TierCombination {
		t.Fatalf("tiers = %s/%s, want both %s", a0.Tier, a1.Tier, TierCombination)
	}
	if a0.SequenceID != "1" {
		t.Errorf("row 0 (qty 90) sequence = %s, want 1 (qty 100 line)", a0.SequenceID)
	}
	if a1.SequenceID != "2" {
		t.Errorf("row 1 (qty 60) sequence = %s, want 2 (qty 50 line)", a1.SequenceID)
	}
	if !out.claims.IsClaimed(0) || !out.claims.IsClaimed(1) {
		t.Error("combination must claim every subset line")
	}
}

func TestCascadeUnitPriceDiscriminator(t *testing.T) {
	// Totals are far apart (carry-over balance) but the price per unit is
	// within 2%, which fingerprints the material.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "US", "", 10, 100),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "6", 500, 5100),
	}

	out := runTestCascade(t, ledger, decls)
	a := assignmentFor(t, out, 0)
	if a.Tier != TierUnitPrice {
		t.Errorf("tier = %s, want %s", a.Tier, TierUnitPrice)
	}
}

func TestCascadeElimination(t *testing.T) {
	// Nothing about the totals or unit price agrees, but only one candidate
	// exists under the key, so it must be the counterpart.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "US", "", 10, 100),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "9", 999, 1),
	}

	out := runTestCascade(t, ledger, decls)
	a := assignmentFor(t, out, 0)
	if a.Tier != TierElimination {
		t.Errorf("tier = %s, want %s", a.Tier, TierElimination)
	}
}

func TestCascadeChapterBroadeningRecordsCorrections(t *testing.T) {
	// Sibling codes within the same chapter and a different origin country:
	// the chapter tier matches on unit price and must record both overrides.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "85011099", "MX", "", 100, 1000),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "85013022", "US", "2", 100, 1000),
	}

	out := runTestCascade(t, ledger, decls)
	a := assignmentFor(t, out, 0)
	if a.Tier != TierChapter {
		t.Fatalf("tier = %s, want %s", a.Tier, TierChapter)
	}
	if len(a.Corrections) != 2 {
		t.Fatalf("corrections = %d, want 2 (code and country)", len(a.Corrections))
	}
	fields := map[string]models.FieldCorrection{}
	for _, c := range a.Corrections {
		fields[c.Field] = c
	}
	if c, ok := fields["tariffCode"]; !ok || c.Authority != "85013022" {
		t.Errorf("tariffCode correction = %+v, want authority 85013022", c)
	}
	if c, ok := fields["countryCode"]; !ok || c.Authority != "US" {
		t.Errorf("countryCode correction = %+v, want authority US", c)
	}
}

func TestCascadeReverseSweepReusesClaimedLine(t *testing.T) {
	// Two ledger rows, one declaration line. The first row consumes the line
	// at the exact tier; the second can only be served by reusing it.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "US", "", 100, 1000),
		ledgerRow(1, "DOC-1", "8501", "MX", "", 100, 1000),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "1", 100, 1000),
	}

	out := runTestCascade(t, ledger, decls)
	a0 := assignmentFor(t, out, 0)
	if a0.Tier != TierExactFull || a0.Reused {
		t.Errorf("row 0: tier=%s reused=%v, want %s/false", a0.Tier, a0.Reused, TierExactFull)
	}
	a1 := assignmentFor(t, out, 1)
	if a1.Tier != TierReverse1 {
		t.Errorf("row 1: tier = %s, want %s", a1.Tier, TierReverse1)
	}
	if !a1.Reused {
		t.Error("row 1 must be flagged as reusing a claimed line")
	}
}

func TestCascadeExcludedRowsNeverEnter(t *testing.T) {
	excluded := ledgerRow(0, "DOC-1", "8501", "US", "", 100, 1000)
	excluded.Excluded = true
	ledger := []*models.LedgerLine{excluded}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "1", 100, 1000),
	}

	out := runTestCascade(t, ledger, decls)
	if len(out.assignments) != 0 {
		t.Fatalf("excluded row was assigned: %+v", out.assignments)
	}
	if out.claims.Count() != 0 {
		t.Error("no declaration line should be claimed")
	}
}

func TestCascadeStrictConfigSkipsLastResortTiers(t *testing.T) {
	// Under the strict profile a row with no exact counterpart stays
	// unassigned instead of being forced onto the closest line.
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "US", "", 10, 100),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "9", 999, 1),
		declRow(1, "DOC-1", "8501", "US", "10", 888, 2),
	}

	out := runCascade(ledger, NewCandidateIndex(decls), StrictConfig())
	if len(out.assignments) != 0 {
		t.Fatalf("strict config produced assignments: %+v", out.assignments)
	}
}

func TestCascadeCrossChecksRecordDeltas(t *testing.T) {
	ledger := []*models.LedgerLine{
		ledgerRow(0, "DOC-1", "8501", "US", "", 100, 1000),
	}
	decls := []*models.DeclarationLine{
		declRow(0, "DOC-1", "8501", "US", "5", 101, 1002),
	}

	out := runTestCascade(t, ledger, decls)
	if len(out.crossChecks) != 1 {
		t.Fatalf("crossChecks = %d, want 1", len(out.crossChecks))
	}
	cc := out.crossChecks[0]
	if cc.Tier != TierExactFull {
		t.Errorf("cross-check tier = %s, want %s", cc.Tier, TierExactFull)
	}
	if !cc.QuantityDelta.Equal(decimal.NewFromInt(-1)) {
		t.Errorf("quantity delta = %s, want -1", cc.QuantityDelta)
	}
	if !cc.ValueDelta.Equal(decimal.NewFromInt(-2)) {
		t.Errorf("value delta = %s, want -2", cc.ValueDelta)
	}
}
