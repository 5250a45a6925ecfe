package parsers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"customs-sequence-reconciler/internal/models"
	"customs-sequence-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

func writeTempCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestParseLedgerBasic(t *testing.T) {
	path := writeTempCSV(t, "ledger.csv", `documentId,tariffCode,countryCode,quantity,value,sequenceId,notes
DOC-1,085011099,US,100,1000.50,,
DOC-1,85013022,MX,"1,250","$2,500.00",7,carry-over lot
`)

	parser, err := NewLedgerParser(nil)
	if err != nil {
		t.Fatalf("NewLedgerParser: %v", err)
	}
	lines, stats, err := parser.ParseLedger(path)
	if err != nil {
		t.Fatalf("ParseLedger: %v", err)
	}
	if len(lines) != 2 || stats.RecordsValid != 2 {
		t.Fatalf("lines=%d valid=%d, want 2/2", len(lines), stats.RecordsValid)
	}

	if lines[0].DocumentID != "DOC-1" || lines[0].NormalizedCode() != "85011099" {
		t.Errorf("line 0 = %s", lines[0])
	}
	if !lines[0].Quantity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("line 0 quantity = %s, want 100", lines[0].Quantity)
	}
	if !lines[1].Quantity.Equal(decimal.NewFromInt(1250)) {
		t.Errorf("thousands separator not stripped: %s", lines[1].Quantity)
	}
	if !lines[1].Value.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("currency symbol not stripped: %s", lines[1].Value)
	}
	if lines[1].ExistingSequenceID != "7" {
		t.Errorf("sequence = %q, want 7", lines[1].ExistingSequenceID)
	}
}

func TestParseLedgerMalformedNumericsDegradeToZero(t *testing.T) {
	path := writeTempCSV(t, "ledger.csv", `documentId,tariffCode,countryCode,quantity,value
DOC-1,8501,US,not-a-number,--
`)

	parser, _ := NewLedgerParser(nil)
	lines, stats, err := parser.ParseLedger(path)
	if err != nil {
		t.Fatalf("ParseLedger: %v", err)
	}
	if stats.ErrorCount != 0 {
		t.Errorf("malformed numerics must not count as errors, got %d", stats.ErrorCount)
	}
	if !lines[0].Quantity.IsZero() || !lines[0].Value.IsZero() {
		t.Errorf("qty=%s val=%s, want both zero", lines[0].Quantity, lines[0].Value)
	}
}

func TestParseLedgerExclusionMarker(t *testing.T) {
	path := writeTempCSV(t, "ledger.csv", `documentId,tariffCode,countryCode,quantity,value,notes
DOC-1,8501,US,10,100,
DOC-1,8501,US,20,200,no incluir - pending review
`)

	parser, _ := NewLedgerParser(nil)
	lines, stats, err := parser.ParseLedger(path)
	if err != nil {
		t.Fatalf("ParseLedger: %v", err)
	}
	if lines[0].Excluded {
		t.Error("line 0 wrongly excluded")
	}
	if !lines[1].Excluded {
		t.Error("line 1 carries the exclusion marker (case-insensitive), must be excluded")
	}
	if stats.ExcludedRows != 1 {
		t.Errorf("excluded count = %d, want 1", stats.ExcludedRows)
	}
}

func TestParseLedgerMissingColumn(t *testing.T) {
	path := writeTempCSV(t, "ledger.csv", `documentId,tariffCode,quantity,value
DOC-1,8501,10,100
`)

	parser, _ := NewLedgerParser(nil)
	_, _, err := parser.ParseLedger(path)
	if err == nil {
		t.Fatal("expected error for missing country column")
	}
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Category != errors.CategoryParse {
		t.Errorf("error = %v, want a parse-category ReconcilerError", err)
	}
}

func TestParseLedgerFileNotFound(t *testing.T) {
	parser, _ := NewLedgerParser(nil)
	_, _, err := parser.ParseLedger(filepath.Join(t.TempDir(), "missing.csv"))
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Code != errors.CodeFileNotFound {
		t.Fatalf("error = %v, want file_not_found", err)
	}
}

func TestParseLedgerBrokerHeaders(t *testing.T) {
	path := writeTempCSV(t, "ledger.csv", `Pedimento,FraccionNico,PaisOrigen,CantidadUMC,ValorAduana,SecuenciaPed,Observaciones
21-4042-1234567,085011099,US,100,1000,3,
`)

	parser, err := NewLedgerParser(BrokerLedgerParserConfig())
	if err != nil {
		t.Fatalf("NewLedgerParser: %v", err)
	}
	lines, _, err := parser.ParseLedger(path)
	if err != nil {
		t.Fatalf("ParseLedger: %v", err)
	}
	if lines[0].DocumentID != "21-4042-1234567" || lines[0].ExistingSequenceID != "3" {
		t.Errorf("broker headers not mapped: %s", lines[0])
	}
}

func TestParseDeclarationsBasic(t *testing.T) {
	path := writeTempCSV(t, "decl.csv", `documentId,tariffCode,countryCode,quantity,value,sequenceId
DOC-1,85011099,US,100,1000,1
DOC-1,85011099,US,50,500,2
`)

	parser, err := NewDeclarationParser(nil)
	if err != nil {
		t.Fatalf("NewDeclarationParser: %v", err)
	}
	lines, stats, err := parser.ParseDeclarations(path)
	if err != nil {
		t.Fatalf("ParseDeclarations: %v", err)
	}
	if len(lines) != 2 || stats.RecordsValid != 2 {
		t.Fatalf("lines=%d valid=%d, want 2/2", len(lines), stats.RecordsValid)
	}
	if lines[0].SequenceID != "1" || lines[1].SequenceID != "2" {
		t.Errorf("sequences = %s/%s", lines[0].SequenceID, lines[1].SequenceID)
	}
	if lines[0].EffectiveCompositeKey() != "DOC-1-85011099-1" {
		t.Errorf("composite key = %s", lines[0].EffectiveCompositeKey())
	}
}

func TestParseDeclarationsRequiresSequenceColumn(t *testing.T) {
	path := writeTempCSV(t, "decl.csv", `documentId,tariffCode,countryCode,quantity,value
DOC-1,8501,US,100,1000
`)

	parser, _ := NewDeclarationParser(nil)
	_, _, err := parser.ParseDeclarations(path)
	if err == nil {
		t.Fatal("expected error: declaration feed without a sequence column is unusable")
	}
}

func TestParseDeclarationsSkipsEmptyRows(t *testing.T) {
	path := writeTempCSV(t, "decl.csv", `documentId,tariffCode,countryCode,quantity,value,sequenceId
DOC-1,8501,US,100,1000,1

,,,,,
DOC-1,8501,US,50,500,2
`)

	parser, _ := NewDeclarationParser(nil)
	lines, _, err := parser.ParseDeclarations(path)
	if err != nil {
		t.Fatalf("ParseDeclarations: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2 (blank rows skipped)", len(lines))
	}
	if lines[1].Index != 1 {
		t.Errorf("index = %d, want contiguous indexes after skipping", lines[1].Index)
	}
}

func TestParseLedgerStreamBatches(t *testing.T) {
	path := writeTempCSV(t, "ledger.csv", `documentId,tariffCode,countryCode,quantity,value
DOC-1,8501,US,1,10
DOC-1,8501,US,2,20
DOC-1,8501,US,3,30
`)

	parser, _ := NewLedgerParser(nil)
	var batches, rows int
	stats, err := parser.ParseLedgerStream(context.Background(), path, 2, func(batch []*models.LedgerLine) error {
		batches++
		rows += len(batch)
		return nil
	})
	if err != nil {
		t.Fatalf("ParseLedgerStream: %v", err)
	}
	if batches != 2 || rows != 3 {
		t.Errorf("batches=%d rows=%d, want 2 batches covering 3 rows", batches, rows)
	}
	if stats.RecordsValid != 3 {
		t.Errorf("valid = %d, want 3", stats.RecordsValid)
	}
}

func TestParseLedgerStreamCancellation(t *testing.T) {
	path := writeTempCSV(t, "ledger.csv", `documentId,tariffCode,countryCode,quantity,value
DOC-1,8501,US,1,10
`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parser, _ := NewLedgerParser(nil)
	_, err := parser.ParseLedgerStream(ctx, path, 10, func([]*models.LedgerLine) error { return nil })
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
