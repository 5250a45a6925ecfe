package engine

import (
	"sort"
	"time"

	"customs-sequence-reconciler/internal/models"
	"customs-sequence-reconciler/pkg/logger"
)

// Engine runs the reconciliation cascade over a loaded ledger/declaration
// pair. It is not safe for concurrent use; create one per run.
type Engine struct {
	config *Config
	log    logger.Logger

	ledger       []*models.LedgerLine
	declarations []*models.DeclarationLine
	index        *CandidateIndex
}

// Result is the immutable outcome of one reconciliation run.
type Result struct {
	// Assignments, sorted by ledger index; at most one per ledger row.
	Assignments []*models.Assignment `json:"assignments"`

	// TierCounts maps tier name to how many rows it resolved.
	TierCounts map[string]int `json:"tierCounts"`

	// LedgerDiagnostics explain rows the cascade left unassigned.
	LedgerDiagnostics []models.UnmatchedDiagnostic `json:"ledgerDiagnostics,omitempty"`

	// OrphanDiagnostics explain declaration lines never claimed.
	OrphanDiagnostics []models.UnmatchedDiagnostic `json:"orphanDiagnostics,omitempty"`

	// Corrections aggregates every field correction across assignments.
	Corrections []models.FieldCorrection `json:"corrections,omitempty"`

	// CrossChecks carries one audit record per group a tier resolved.
	CrossChecks []GroupCrossCheck `json:"crossChecks,omitempty"`

	// Balance is the matching-independent global totals comparison.
	Balance *BalanceReport `json:"balance"`

	Summary Summary `json:"summary"`
}

// Summary aggregates run-level counts for the reporter's overview table.
type Summary struct {
	LedgerRows       int           `json:"ledgerRows"`
	ExcludedRows     int           `json:"excludedRows"`
	DeclarationRows  int           `json:"declarationRows"`
	AssignedRows     int           `json:"assignedRows"`
	UnassignedRows   int           `json:"unassignedRows"`
	ClaimedLines     int           `json:"claimedLines"`
	OrphanLines      int           `json:"orphanLines"`
	ReusedLines      int           `json:"reusedLines"`
	NewSequences     int           `json:"newSequences"`
	ChangedSequences int           `json:"changedSequences"`
	ConfirmedRows    int           `json:"confirmedRows"`
	ProcessingTime   time.Duration `json:"processingTime"`
}

// AssignmentRate returns the fraction of non-excluded ledger rows assigned.
func (s Summary) AssignmentRate() float64 {
	eligible := s.LedgerRows - s.ExcludedRows
	if eligible == 0 {
		return 0
	}
	return float64(s.AssignedRows) / float64(eligible)
}

// New creates an Engine. A nil config gets DefaultConfig.
func New(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config: config,
		log:    logger.WithComponent("engine"),
	}
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() *Config {
	return e.config.Clone()
}

// LoadLedger sets the ledger dataset. Row identity is positional, so indexes
// are always (re)assigned here.
func (e *Engine) LoadLedger(lines []*models.LedgerLine) {
	for i, l := range lines {
		l.Index = i
	}
	e.ledger = lines
}

// LoadDeclarations sets the declaration dataset and builds the candidate
// index over it. Indexes are reassigned positionally, matching ClaimState.
func (e *Engine) LoadDeclarations(lines []*models.DeclarationLine) {
	for i, d := range lines {
		d.Index = i
	}
	e.declarations = lines
	e.index = NewCandidateIndex(lines)
}

// Reconcile executes the cascade, diagnostics and balance validation.
// Business-data problems never surface as errors here; malformed rows were
// degraded upstream and unmatched rows become diagnostics. The only error is
// an invalid configuration.
func (e *Engine) Reconcile() (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	if e.index == nil {
		e.index = NewCandidateIndex(nil)
	}

	stats := e.index.Stats()
	e.log.WithFields(logger.Fields{
		"ledger_rows":      len(e.ledger),
		"declaration_rows": stats.TotalLines,
		"exact_keys":       stats.UniqueExactKeys,
		"documents":        stats.UniqueDocuments,
	}).Debug("Starting reconciliation cascade")

	outcome := runCascade(e.ledger, e.index, e.config)

	result := &Result{
		TierCounts: outcome.tierCounts,
		Balance: ValidateBalance(e.ledger, e.declarations,
			e.config.BalanceQtyTol, e.config.BalanceValTol),
	}

	indexes := make([]int, 0, len(outcome.assignments))
	for idx := range outcome.assignments {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		a := outcome.assignments[idx]
		result.Assignments = append(result.Assignments, a)
		result.Corrections = append(result.Corrections, a.Corrections...)
	}
	result.CrossChecks = outcome.crossChecks

	result.LedgerDiagnostics = buildLedgerDiagnostics(e.ledger, outcome.assignments, e.index)
	result.OrphanDiagnostics = buildOrphanDiagnostics(e.declarations, outcome.claims, e.ledger)

	result.Summary = e.buildSummary(outcome, result, time.Since(start))

	e.log.WithFields(logger.Fields{
		"assigned":   result.Summary.AssignedRows,
		"unassigned": result.Summary.UnassignedRows,
		"orphans":    result.Summary.OrphanLines,
		"balanced":   result.Balance.Balanced,
		"duration":   result.Summary.ProcessingTime,
	}).Info("Reconciliation complete")

	return result, nil
}

func (e *Engine) buildSummary(outcome *cascadeOutcome, result *Result, elapsed time.Duration) Summary {
	s := Summary{
		LedgerRows:      len(e.ledger),
		DeclarationRows: len(e.declarations),
		AssignedRows:    len(result.Assignments),
		ClaimedLines:    outcome.claims.Count(),
		OrphanLines:     len(result.OrphanDiagnostics),
		ProcessingTime:  elapsed,
	}
	for _, l := range e.ledger {
		if l.Excluded {
			s.ExcludedRows++
		}
	}
	s.UnassignedRows = s.LedgerRows - s.ExcludedRows - s.AssignedRows
	for _, a := range result.Assignments {
		if a.Reused {
			s.ReusedLines++
		}
		switch a.Change {
		case models.ChangeNew:
			s.NewSequences++
		case models.ChangeModified:
			s.ChangedSequences++
		case models.ChangeConfirmed:
			s.ConfirmedRows++
		}
	}
	return s
}
