// Package models defines the data model shared by the reconciliation engine,
// the input parsers and the reporters: bonded-inventory ledger lines,
// customs declaration detail lines, assignments, field corrections and the
// key normalization rules both datasets must agree on.
package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// LedgerLine is one row of the bonded-inventory ledger. Identity is the
// positional index within the ledger dataset; lines are read-only during
// matching and are only ever annotated with an Assignment.
type LedgerLine struct {
	// Index is the zero-based position of the row in the ledger feed.
	Index int `json:"index"`

	// DocumentID is the declaration/entry number the lot was imported under.
	DocumentID string `json:"documentId" csv:"documentId"`

	// TariffCode is the classification code as it appears in the ledger
	// (may carry leading zeros; compare through NormalizeTariffCode).
	TariffCode string `json:"tariffCode" csv:"tariffCode"`

	// CountryCode is the origin country code (compare through NormalizeCountry).
	CountryCode string `json:"countryCode" csv:"countryCode"`

	// Quantity is the remaining balance quantity for the lot.
	Quantity decimal.Decimal `json:"quantity" csv:"quantity"`

	// Value is the lot value in currency units.
	Value decimal.Decimal `json:"value" csv:"value"`

	// ExistingSequenceID is the sequence identifier already present on the
	// row, if any. May be a free-text placeholder; NormalizeSequence maps
	// non-numeric content to the empty string.
	ExistingSequenceID string `json:"existingSequenceId" csv:"existingSequenceId"`

	// CompositeKey is the precomputed documentID-tariffCode-sequenceID key
	// used by the direct-key tier, when the feed carries one.
	CompositeKey string `json:"compositeKey,omitempty" csv:"compositeKey"`

	// Description is free text carried through to reports.
	Description string `json:"description,omitempty" csv:"description"`

	// Excluded marks rows administratively excluded from matching.
	Excluded bool `json:"excluded"`
}

// NewLedgerLine creates a LedgerLine with normalized comparison fields.
func NewLedgerLine(index int, documentID, tariffCode, countryCode string, quantity, value decimal.Decimal) *LedgerLine {
	return &LedgerLine{
		Index:       index,
		DocumentID:  strings.TrimSpace(documentID),
		TariffCode:  tariffCode,
		CountryCode: countryCode,
		Quantity:    quantity,
		Value:       value,
	}
}

// NormalizedCode returns the canonical tariff code for key comparison.
func (l *LedgerLine) NormalizedCode() string {
	return NormalizeTariffCode(l.TariffCode)
}

// NormalizedCountry returns the canonical country code for key comparison.
func (l *LedgerLine) NormalizedCountry() string {
	return NormalizeCountry(l.CountryCode)
}

// NormalizedSequence returns the canonical existing sequence, or "" when the
// row carries a placeholder instead of a numeric sequence.
func (l *LedgerLine) NormalizedSequence() string {
	return NormalizeSequence(l.ExistingSequenceID)
}

// HasRealSequence reports whether the row already carries a numeric sequence.
func (l *LedgerLine) HasRealSequence() bool {
	return l.NormalizedSequence() != ""
}

// UnitPrice returns Value/Quantity and whether it is defined (quantity > 0).
func (l *LedgerLine) UnitPrice() (decimal.Decimal, bool) {
	if l.Quantity.IsPositive() {
		return l.Value.Div(l.Quantity), true
	}
	return decimal.Zero, false
}

// String returns a compact representation for logs and diagnostics.
func (l *LedgerLine) String() string {
	return fmt.Sprintf("LedgerLine{#%d doc=%s code=%s country=%s qty=%s val=%s}",
		l.Index, l.DocumentID, l.NormalizedCode(), l.NormalizedCountry(),
		l.Quantity.String(), l.Value.String())
}

// DeclarationLine is one row of the official customs declaration detail feed.
// Identity is the positional index within the declaration dataset. Claim
// tracking lives outside the line (engine.ClaimState); the line itself stays
// read-only throughout a run.
type DeclarationLine struct {
	// Index is the zero-based position of the row in the declaration feed.
	Index int `json:"index"`

	DocumentID  string          `json:"documentId" csv:"documentId"`
	TariffCode  string          `json:"tariffCode" csv:"tariffCode"`
	CountryCode string          `json:"countryCode" csv:"countryCode"`
	Quantity    decimal.Decimal `json:"quantity" csv:"quantity"`
	Value       decimal.Decimal `json:"value" csv:"value"`

	// SequenceID is the declared sub-item sequence identifier, the value the
	// whole reconciliation exists to propagate onto ledger rows.
	SequenceID string `json:"sequenceId" csv:"sequenceId"`

	// CompositeKey is the precomputed documentID-tariffCode-sequenceID key,
	// when the feed carries one; DefaultCompositeKey derives it otherwise.
	CompositeKey string `json:"compositeKey,omitempty" csv:"compositeKey"`

	// Description is free text carried through to reports.
	Description string `json:"description,omitempty" csv:"description"`
}

// NewDeclarationLine creates a DeclarationLine.
func NewDeclarationLine(index int, documentID, tariffCode, countryCode, sequenceID string, quantity, value decimal.Decimal) *DeclarationLine {
	return &DeclarationLine{
		Index:       index,
		DocumentID:  strings.TrimSpace(documentID),
		TariffCode:  tariffCode,
		CountryCode: countryCode,
		SequenceID:  sequenceID,
		Quantity:    quantity,
		Value:       value,
	}
}

// NormalizedCode returns the canonical tariff code for key comparison.
func (d *DeclarationLine) NormalizedCode() string {
	return NormalizeTariffCode(d.TariffCode)
}

// NormalizedCountry returns the canonical country code for key comparison.
func (d *DeclarationLine) NormalizedCountry() string {
	return NormalizeCountry(d.CountryCode)
}

// EffectiveCompositeKey returns the feed-provided composite key, or the
// derived documentID-code-sequence form when the feed omits it.
func (d *DeclarationLine) EffectiveCompositeKey() string {
	if k := strings.TrimSpace(d.CompositeKey); k != "" {
		return k
	}
	return DefaultCompositeKey(d.DocumentID, d.TariffCode, d.SequenceID)
}

// UnitPrice returns Value/Quantity and whether it is defined (quantity > 0).
func (d *DeclarationLine) UnitPrice() (decimal.Decimal, bool) {
	if d.Quantity.IsPositive() {
		return d.Value.Div(d.Quantity), true
	}
	return decimal.Zero, false
}

// IsZero reports whether both quantity and value are zero (degenerate rows
// get their own diagnostic instead of a mismatch message).
func (d *DeclarationLine) IsZero() bool {
	return d.Quantity.IsZero() && d.Value.IsZero()
}

// String returns a compact representation for logs and diagnostics.
func (d *DeclarationLine) String() string {
	return fmt.Sprintf("DeclarationLine{#%d doc=%s code=%s country=%s seq=%s qty=%s val=%s}",
		d.Index, d.DocumentID, d.NormalizedCode(), d.NormalizedCountry(),
		d.SequenceID, d.Quantity.String(), d.Value.String())
}

// ChangeKind classifies what an assignment did to the ledger row's
// pre-existing sequence value.
type ChangeKind string

const (
	// ChangeNew means the row had no numeric sequence and one was assigned.
	ChangeNew ChangeKind = "new"
	// ChangeModified means the row carried a different numeric sequence.
	ChangeModified ChangeKind = "modified"
	// ChangeConfirmed means the assigned sequence equals the existing one.
	ChangeConfirmed ChangeKind = "confirmed"
)

// Assignment records the outcome of matching one ledger line to exactly one
// declaration line: the sequence to write back, the tier that produced it and
// the tolerance basis it used, so every assignment is auditable.
type Assignment struct {
	// LedgerIndex is the ledger row this assignment belongs to.
	LedgerIndex int `json:"ledgerIndex"`

	// SequenceID is the declaration sequence written onto the ledger row.
	SequenceID string `json:"sequenceId"`

	// Tier names the cascade tier that produced the match (E0..E11, R1..R3).
	Tier string `json:"tier"`

	// ToleranceBasis describes the tolerance the tier applied, e.g.
	// "abs ±1/±2", "pct 5%", "unit-price 10%", "unconditional".
	ToleranceBasis string `json:"toleranceBasis"`

	// Declaration is the matched declaration line.
	Declaration *DeclarationLine `json:"-"`

	// DeclarationIndex duplicates Declaration.Index for serialization.
	DeclarationIndex int `json:"declarationIndex"`

	// Reused is true when a reverse-sweep tier matched a declaration line
	// already claimed by an earlier tier.
	Reused bool `json:"reused,omitempty"`

	// Change classifies the effect on the row's pre-existing sequence.
	Change ChangeKind `json:"change"`

	// Corrections lists ledger fields overwritten with the declaration's
	// authoritative value because the two disagreed.
	Corrections []FieldCorrection `json:"corrections,omitempty"`
}

// FieldCorrection records that a ledger field was overwritten with the
// declaration's value after a match was found on a broadened key. Corrections
// are never dropped silently; the reporter surfaces every one.
type FieldCorrection struct {
	LedgerIndex int    `json:"ledgerIndex"`
	Field       string `json:"field"`
	LedgerValue string `json:"ledgerValue"`
	Authority   string `json:"authorityValue"`
}

// String renders a correction the way reports display it.
func (fc FieldCorrection) String() string {
	return fmt.Sprintf("row %d: %s %q corrected to %q", fc.LedgerIndex, fc.Field, fc.LedgerValue, fc.Authority)
}

// UnmatchedDiagnostic is the reason attached to a ledger line that ends the
// run without an assignment, or to a declaration line never claimed.
type UnmatchedDiagnostic struct {
	// Index refers to the ledger or declaration row the reason belongs to.
	Index int `json:"index"`

	// Reason is the ranked, human-readable explanation.
	Reason string `json:"reason"`
}

// NormalizeTariffCode canonicalizes a classification code: trims whitespace
// and strips leading zeros. Empty input and all-zero input both collapse to
// "0". Both datasets must pass through this before any key comparison;
// asymmetric normalization silently breaks every downstream tier.
func NormalizeTariffCode(code string) string {
	s := strings.TrimLeft(strings.TrimSpace(code), "0")
	if s == "" {
		return "0"
	}
	return s
}

// ChapterOf returns the chapter-level prefix (first four characters) of a
// normalized tariff code, used by the broadened-key tiers.
func ChapterOf(normalizedCode string) string {
	if len(normalizedCode) <= 4 {
		return normalizedCode
	}
	return normalizedCode[:4]
}

// NormalizeCountry canonicalizes a country code: trim and uppercase.
func NormalizeCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}

// NormalizeSequence coerces a raw sequence value to its canonical numeric
// string. Non-numeric and empty input become "", so ledger rows carrying
// placeholder text group together instead of each forming a singleton group.
func NormalizeSequence(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || s == "." {
		return ""
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatInt(int64(f+0.5*sign(f)), 10)
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// DefaultCompositeKey derives the documentID-code-sequence composite key the
// direct-key tier compares when the feeds do not carry a precomputed one.
func DefaultCompositeKey(documentID, tariffCode, sequenceID string) string {
	return fmt.Sprintf("%s-%s-%s",
		strings.TrimSpace(documentID),
		NormalizeTariffCode(tariffCode),
		NormalizeSequence(sequenceID))
}

// ParseQuantity parses a numeric field the way the engine requires: malformed
// or empty input degrades to zero, never to an error. Currency symbols and
// thousands separators are tolerated.
func ParseQuantity(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// WithinAbsTolerance reports |a-b| <= tol.
func WithinAbsTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

// PctTolerance computes a percentage-based tolerance with an absolute floor:
// max(floor, |base| * pct/100).
func PctTolerance(base decimal.Decimal, pct float64, floor decimal.Decimal) decimal.Decimal {
	t := base.Abs().Mul(decimal.NewFromFloat(pct / 100.0))
	if t.LessThan(floor) {
		return floor
	}
	return t
}
