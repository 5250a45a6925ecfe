package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeTariffCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"08501", "8501"},
		{"8501", "8501"},
		{"  08501  ", "8501"},
		{"0", "0"},
		{"000", "0"},
		{"", "0"},
		{"84089099", "84089099"},
		{"0084089099", "84089099"},
	}

	for _, tt := range tests {
		if got := NormalizeTariffCode(tt.input); got != tt.expected {
			t.Errorf("NormalizeTariffCode(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeCountry(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"mx", "MX"},
		{" MX ", "MX"},
		{"Usa", "USA"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeCountry(tt.input); got != tt.expected {
			t.Errorf("NormalizeCountry(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestNormalizeSequence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"10", "10"},
		{"10.0", "10"},
		{" 7 ", "7"},
		{"not registered", ""},
		{"", ""},
		{".", ""},
		{"3.6", "4"},
	}

	for _, tt := range tests {
		if got := NormalizeSequence(tt.input); got != tt.expected {
			t.Errorf("NormalizeSequence(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestChapterOf(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"84089099", "8408"},
		{"8501", "8501"},
		{"85", "85"},
	}

	for _, tt := range tests {
		if got := ChapterOf(tt.input); got != tt.expected {
			t.Errorf("ChapterOf(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"100.5", "100.5"},
		{"$1,250.00", "1250"},
		{"", "0"},
		{"garbage", "0"},
		{"  42  ", "42"},
		{"-3.25", "-3.25"},
	}

	for _, tt := range tests {
		got := ParseQuantity(tt.input)
		want, _ := decimal.NewFromString(tt.expected)
		if !got.Equal(want) {
			t.Errorf("ParseQuantity(%q) = %s, want %s", tt.input, got, want)
		}
	}
}

func TestDefaultCompositeKey(t *testing.T) {
	got := DefaultCompositeKey(" A1 ", "08501", "10.0")
	if got != "A1-8501-10" {
		t.Errorf("DefaultCompositeKey = %q, want %q", got, "A1-8501-10")
	}
}

func TestLedgerLineNormalization(t *testing.T) {
	line := NewLedgerLine(0, "A1", "08501", " mx ", decimal.NewFromInt(60), decimal.NewFromInt(300))
	line.ExistingSequenceID = "no match found"

	if line.NormalizedCode() != "8501" {
		t.Errorf("NormalizedCode = %q, want 8501", line.NormalizedCode())
	}
	if line.NormalizedCountry() != "MX" {
		t.Errorf("NormalizedCountry = %q, want MX", line.NormalizedCountry())
	}
	if line.NormalizedSequence() != "" {
		t.Errorf("NormalizedSequence = %q, want empty", line.NormalizedSequence())
	}
	if line.HasRealSequence() {
		t.Error("HasRealSequence should be false for placeholder text")
	}

	up, ok := line.UnitPrice()
	if !ok {
		t.Fatal("UnitPrice should be defined for positive quantity")
	}
	if !up.Equal(decimal.NewFromInt(5)) {
		t.Errorf("UnitPrice = %s, want 5", up)
	}
}

func TestUnitPriceUndefinedForZeroQuantity(t *testing.T) {
	line := NewLedgerLine(0, "A1", "8501", "MX", decimal.Zero, decimal.NewFromInt(300))
	if _, ok := line.UnitPrice(); ok {
		t.Error("UnitPrice should be undefined for zero quantity")
	}

	decl := NewDeclarationLine(0, "A1", "8501", "MX", "10", decimal.Zero, decimal.Zero)
	if _, ok := decl.UnitPrice(); ok {
		t.Error("UnitPrice should be undefined for zero quantity declaration")
	}
	if !decl.IsZero() {
		t.Error("IsZero should be true")
	}
}

func TestEffectiveCompositeKey(t *testing.T) {
	decl := NewDeclarationLine(0, "A1", "08501", "MX", "10", decimal.NewFromInt(100), decimal.NewFromInt(500))
	if got := decl.EffectiveCompositeKey(); got != "A1-8501-10" {
		t.Errorf("EffectiveCompositeKey = %q, want derived key", got)
	}

	decl.CompositeKey = "A1-8501-10-PRESET"
	if got := decl.EffectiveCompositeKey(); got != "A1-8501-10-PRESET" {
		t.Errorf("EffectiveCompositeKey = %q, want feed-provided key", got)
	}
}

func TestPctTolerance(t *testing.T) {
	base := decimal.NewFromInt(1000)
	tol := PctTolerance(base, 5.0, decimal.NewFromInt(2))
	if !tol.Equal(decimal.NewFromInt(50)) {
		t.Errorf("PctTolerance(1000, 5%%) = %s, want 50", tol)
	}

	// Floor applies for small bases.
	tol = PctTolerance(decimal.NewFromInt(10), 5.0, decimal.NewFromInt(2))
	if !tol.Equal(decimal.NewFromInt(2)) {
		t.Errorf("PctTolerance(10, 5%%) = %s, want floor 2", tol)
	}
}

func TestWithinAbsTolerance(t *testing.T) {
	one := decimal.NewFromInt(1)
	if !WithinAbsTolerance(decimal.NewFromInt(100), decimal.NewFromInt(101), one) {
		t.Error("100 vs 101 should be within ±1")
	}
	if WithinAbsTolerance(decimal.NewFromInt(100), decimal.NewFromFloat(102.5), one) {
		t.Error("100 vs 102.5 should not be within ±1")
	}
}
