package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"customs-sequence-reconciler/internal/models"
	"customs-sequence-reconciler/pkg/errors"

	"github.com/shopspring/decimal"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestServiceRunEndToEnd(t *testing.T) {
	ledgerFile := writeFixture(t, "ledger.csv", `documentId,tariffCode,countryCode,quantity,value,sequenceId,notes
DOC-1,085011099,US,100,1000,,
DOC-1,85013022,MX,50,500,,
DOC-2,90328900,CN,10,100,,NO INCLUIR scrap lot
`)
	declarationFile := writeFixture(t, "decl.csv", `documentId,tariffCode,countryCode,quantity,value,sequenceId
DOC-1,85011099,US,100,1000,1
DOC-1,85013022,MX,50,500,2
`)

	service, err := NewService(nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	var steps []string
	service.AddProgressCallback(func(p *Progress) {
		steps = append(steps, p.CurrentStep)
	})

	result, err := service.Run(context.Background(), &Request{
		LedgerFile:      ledgerFile,
		DeclarationFile: declarationFile,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(result.Result.Assignments); got != 2 {
		t.Errorf("assignments = %d, want 2", got)
	}
	if result.Result.Summary.ExcludedRows != 1 {
		t.Errorf("excluded = %d, want 1", result.Result.Summary.ExcludedRows)
	}
	if !result.Result.Balance.Balanced {
		t.Errorf("expected balanced totals, got %s", result.Result.Balance.Headline())
	}
	if result.LedgerStats.RecordsValid != 3 || result.DeclarationStats.RecordsValid != 2 {
		t.Errorf("stats = %d/%d, want 3/2",
			result.LedgerStats.RecordsValid, result.DeclarationStats.RecordsValid)
	}

	if len(steps) == 0 {
		t.Fatal("no progress callbacks fired")
	}
	if steps[len(steps)-1] != "Completed" {
		t.Errorf("last step = %q, want Completed", steps[len(steps)-1])
	}
}

func TestServiceRunRequestValidation(t *testing.T) {
	service, _ := NewService(nil)

	_, err := service.Run(context.Background(), &Request{DeclarationFile: "decl.csv"})
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Category != errors.CategoryValidation {
		t.Errorf("missing ledger file: err = %v, want validation error", err)
	}

	_, err = service.Run(context.Background(), &Request{LedgerFile: "ledger.csv"})
	if err == nil {
		t.Error("missing declaration file must be rejected")
	}
}

func TestServiceRunEmptyDeclarationFeed(t *testing.T) {
	ledgerFile := writeFixture(t, "ledger.csv", `documentId,tariffCode,countryCode,quantity,value
DOC-1,8501,US,100,1000
`)
	declarationFile := writeFixture(t, "decl.csv", `documentId,tariffCode,countryCode,quantity,value,sequenceId
`)

	service, _ := NewService(nil)
	_, err := service.Run(context.Background(), &Request{
		LedgerFile:      ledgerFile,
		DeclarationFile: declarationFile,
	})
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Code != errors.CodeEmptyDataset {
		t.Fatalf("err = %v, want empty_dataset", err)
	}

	relaxed := DefaultServiceConfig()
	relaxed.RequireDeclarations = false
	service, _ = NewService(relaxed)
	result, err := service.Run(context.Background(), &Request{
		LedgerFile:      ledgerFile,
		DeclarationFile: declarationFile,
	})
	if err != nil {
		t.Fatalf("run without declarations: %v", err)
	}
	if result.Result.Summary.UnassignedRows != 1 {
		t.Errorf("unassigned = %d, want 1", result.Result.Summary.UnassignedRows)
	}
}

func TestServiceRunMissingFile(t *testing.T) {
	declarationFile := writeFixture(t, "decl.csv", `documentId,tariffCode,countryCode,quantity,value,sequenceId
DOC-1,8501,US,1,10,1
`)

	service, _ := NewService(nil)
	_, err := service.Run(context.Background(), &Request{
		LedgerFile:      filepath.Join(t.TempDir(), "missing.csv"),
		DeclarationFile: declarationFile,
	})
	re, ok := errors.AsReconcilerError(err)
	if !ok || re.Code != errors.CodeFileNotFound {
		t.Fatalf("err = %v, want file_not_found", err)
	}
}

func TestPreprocessorDropsBlankDocuments(t *testing.T) {
	ledger := []*models.LedgerLine{
		models.NewLedgerLine(0, " DOC-1 ", " 8501 ", " us ", decimal.NewFromInt(1), decimal.NewFromInt(10)),
		models.NewLedgerLine(1, "", "8501", "US", decimal.NewFromInt(2), decimal.NewFromInt(20)),
		models.NewLedgerLine(2, "DOC-2", "8501", "US", decimal.NewFromInt(3), decimal.NewFromInt(30)),
	}

	pre := NewPreprocessor(nil)
	kept, _, stats := pre.Preprocess(ledger, nil)

	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2", len(kept))
	}
	if kept[0].DocumentID != "DOC-1" {
		t.Errorf("fields not trimmed: %q", kept[0].DocumentID)
	}
	if kept[1].Index != 1 {
		t.Errorf("indexes not contiguous after drop: %d", kept[1].Index)
	}
	if stats.BlankDocumentRows != 1 || len(stats.Warnings) == 0 {
		t.Errorf("stats = %+v, want one blank-document row and a warning", stats)
	}
}

func TestPreprocessorWarnsDuplicateSequences(t *testing.T) {
	decls := []*models.DeclarationLine{
		models.NewDeclarationLine(0, "DOC-1", "8501", "US", "1", decimal.NewFromInt(1), decimal.NewFromInt(10)),
		models.NewDeclarationLine(1, "DOC-1", "8501", "MX", "1", decimal.NewFromInt(2), decimal.NewFromInt(20)),
		models.NewDeclarationLine(2, "DOC-1", "8501", "US", "2", decimal.NewFromInt(3), decimal.NewFromInt(30)),
	}

	pre := NewPreprocessor(nil)
	_, kept, stats := pre.Preprocess(nil, decls)

	if len(kept) != 3 {
		t.Fatalf("duplicates must be reported, not dropped; kept = %d", len(kept))
	}
	if stats.DuplicateSequences != 1 {
		t.Errorf("duplicates = %d, want 1 (same doc+code+sequence key)", stats.DuplicateSequences)
	}
}
