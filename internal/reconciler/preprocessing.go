package reconciler

import (
	"fmt"
	"strings"

	"customs-sequence-reconciler/internal/models"
)

// Preprocessor applies feed hygiene before matching: field trimming,
// rows without a document reference, duplicate declaration detection.
type Preprocessor struct {
	config *PreprocessingConfig
}

// PreprocessingConfig controls the hygiene pass.
type PreprocessingConfig struct {
	// TrimFields strips surrounding whitespace from identifier fields.
	TrimFields bool

	// DropBlankDocuments removes rows with an empty document ID. Such rows
	// can never match anything; keeping them only inflates diagnostics.
	DropBlankDocuments bool

	// WarnDuplicateSequences reports declaration lines sharing a composite
	// key. The first one wins during direct key lookup, so duplicates are
	// usually an upstream export defect worth surfacing.
	WarnDuplicateSequences bool

	// MaxDuplicateWarnings caps how many duplicate warnings are emitted.
	MaxDuplicateWarnings int
}

// DefaultPreprocessingConfig returns the standard hygiene options.
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimFields:             true,
		DropBlankDocuments:     true,
		WarnDuplicateSequences: true,
		MaxDuplicateWarnings:   10,
	}
}

// PreprocessingStats summarizes what the hygiene pass did.
type PreprocessingStats struct {
	LedgerRowsIn        int      `json:"ledger_rows_in"`
	LedgerRowsOut       int      `json:"ledger_rows_out"`
	DeclarationRowsIn   int      `json:"declaration_rows_in"`
	DeclarationRowsOut  int      `json:"declaration_rows_out"`
	BlankDocumentRows   int      `json:"blank_document_rows"`
	DuplicateSequences  int      `json:"duplicate_sequences"`
	Warnings            []string `json:"warnings,omitempty"`
}

// NewPreprocessor creates a Preprocessor.
func NewPreprocessor(config *PreprocessingConfig) *Preprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	return &Preprocessor{config: config}
}

// Preprocess applies the hygiene pass to both feeds. Rows that survive are
// reindexed so positional identity stays contiguous.
func (p *Preprocessor) Preprocess(ledger []*models.LedgerLine, declarations []*models.DeclarationLine) ([]*models.LedgerLine, []*models.DeclarationLine, *PreprocessingStats) {
	stats := &PreprocessingStats{
		LedgerRowsIn:      len(ledger),
		DeclarationRowsIn: len(declarations),
	}

	keptLedger := make([]*models.LedgerLine, 0, len(ledger))
	for _, line := range ledger {
		if p.config.TrimFields {
			p.trimLedgerLine(line)
		}
		if p.config.DropBlankDocuments && line.DocumentID == "" {
			stats.BlankDocumentRows++
			continue
		}
		line.Index = len(keptLedger)
		keptLedger = append(keptLedger, line)
	}

	keptDecls := make([]*models.DeclarationLine, 0, len(declarations))
	for _, line := range declarations {
		if p.config.TrimFields {
			p.trimDeclarationLine(line)
		}
		if p.config.DropBlankDocuments && line.DocumentID == "" {
			stats.BlankDocumentRows++
			continue
		}
		line.Index = len(keptDecls)
		keptDecls = append(keptDecls, line)
	}

	if p.config.WarnDuplicateSequences {
		p.warnDuplicates(keptDecls, stats)
	}
	if stats.BlankDocumentRows > 0 {
		stats.Warnings = append(stats.Warnings,
			fmt.Sprintf("dropped %d rows without a document ID", stats.BlankDocumentRows))
	}

	stats.LedgerRowsOut = len(keptLedger)
	stats.DeclarationRowsOut = len(keptDecls)
	return keptLedger, keptDecls, stats
}

func (p *Preprocessor) trimLedgerLine(line *models.LedgerLine) {
	line.DocumentID = strings.TrimSpace(line.DocumentID)
	line.TariffCode = strings.TrimSpace(line.TariffCode)
	line.CountryCode = strings.TrimSpace(line.CountryCode)
	line.ExistingSequenceID = strings.TrimSpace(line.ExistingSequenceID)
	line.CompositeKey = strings.TrimSpace(line.CompositeKey)
}

func (p *Preprocessor) trimDeclarationLine(line *models.DeclarationLine) {
	line.DocumentID = strings.TrimSpace(line.DocumentID)
	line.TariffCode = strings.TrimSpace(line.TariffCode)
	line.CountryCode = strings.TrimSpace(line.CountryCode)
	line.SequenceID = strings.TrimSpace(line.SequenceID)
	line.CompositeKey = strings.TrimSpace(line.CompositeKey)
}

func (p *Preprocessor) warnDuplicates(declarations []*models.DeclarationLine, stats *PreprocessingStats) {
	seen := make(map[string]int, len(declarations))
	for _, line := range declarations {
		key := line.EffectiveCompositeKey()
		if key == "" {
			continue
		}
		if first, ok := seen[key]; ok {
			stats.DuplicateSequences++
			if len(stats.Warnings) < p.config.MaxDuplicateWarnings {
				stats.Warnings = append(stats.Warnings,
					fmt.Sprintf("duplicate declaration key %s (rows %d and %d); first occurrence wins",
						key, first, line.Index))
			}
			continue
		}
		seen[key] = line.Index
	}
}
