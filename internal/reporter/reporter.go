// Package reporter renders reconciliation run results for people and
// machines.
//
// Supported output formats:
//   - Console: human-readable report for terminal display
//   - JSON: structured output for programmatic consumption
//   - CSV: flat per-row output for spreadsheet review
//
// The console report leads with the balance headline, because an
// out-of-balance run means the feeds disagree regardless of how many rows
// matched.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(nil)
//	err = generator.GenerateReport(runResult, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"customs-sequence-reconciler/internal/engine"
	"customs-sequence-reconciler/internal/models"
	"customs-sequence-reconciler/internal/reconciler"
)

// OutputFormat selects how a report is rendered.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid reports whether the format is supported.
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds report generation options.
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Section toggles.
	IncludeAssignments bool `json:"include_assignments"`
	IncludeDiagnostics bool `json:"include_diagnostics"`
	IncludeCorrections bool `json:"include_corrections"`
	IncludeCrossChecks bool `json:"include_cross_checks"`
	IncludeFeedStats   bool `json:"include_feed_stats"`

	// MaxListItems caps how many entries a console list section prints.
	MaxListItems int `json:"max_list_items"`

	// CSV options.
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns the standard report options.
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:             FormatConsole,
		IncludeAssignments: true,
		IncludeDiagnostics: true,
		IncludeCorrections: true,
		IncludeCrossChecks: false,
		IncludeFeedStats:   true,
		MaxListItems:       25,
		CSVDelimiter:       ',',
		CSVHeaders:         true,
	}
}

// Validate checks the configuration.
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 1 {
		return fmt.Errorf("max list items must be at least 1, got %d", c.MaxListItems)
	}
	return nil
}

// ReportGenerator renders run results in the configured format.
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a generator. A nil config gets defaults.
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// Config returns the active configuration.
func (rg *ReportGenerator) Config() *ReportConfig {
	return rg.config
}

// GenerateReport writes the run result to writer in the configured format.
func (rg *ReportGenerator) GenerateReport(run *reconciler.RunResult, writer io.Writer) error {
	if run == nil || run.Result == nil {
		return fmt.Errorf("run result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(run, writer)
	case FormatJSON:
		return rg.generateJSONReport(run, writer)
	case FormatCSV:
		return rg.generateCSVReport(run, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(run *reconciler.RunResult, writer io.Writer) error {
	result := run.Result

	fmt.Fprintf(writer, "SEQUENCE RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", run.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration:  %v\n\n", run.Duration)

	// Balance first: an out-of-balance run taints every match below it.
	fmt.Fprintf(writer, "%s\n\n", result.Balance.Headline())

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(result, writer)
	fmt.Fprintf(writer, "\n")

	if len(result.TierCounts) > 0 {
		fmt.Fprintf(writer, "=== MATCHES BY TIER ===\n")
		rg.printTierCounts(result.TierCounts, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeAssignments && len(result.Assignments) > 0 {
		fmt.Fprintf(writer, "=== ASSIGNMENTS ===\n")
		rg.printAssignments(result.Assignments, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeCorrections && len(result.Corrections) > 0 {
		fmt.Fprintf(writer, "=== FIELD CORRECTIONS ===\n")
		for i, c := range result.Corrections {
			if i >= rg.config.MaxListItems {
				fmt.Fprintf(writer, "  ... and %d more\n", len(result.Corrections)-rg.config.MaxListItems)
				break
			}
			fmt.Fprintf(writer, "  %s\n", c.String())
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDiagnostics && len(result.LedgerDiagnostics) > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED LEDGER ROWS ===\n")
		rg.printDiagnostics(result.LedgerDiagnostics, "row", writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDiagnostics && len(result.OrphanDiagnostics) > 0 {
		fmt.Fprintf(writer, "=== UNCLAIMED DECLARATION LINES ===\n")
		rg.printDiagnostics(result.OrphanDiagnostics, "line", writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeCrossChecks && len(result.CrossChecks) > 0 {
		fmt.Fprintf(writer, "=== GROUP CROSS-CHECKS ===\n")
		rg.printCrossChecks(run, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeFeedStats {
		fmt.Fprintf(writer, "=== FEED STATISTICS ===\n")
		rg.printFeedStats(run, writer)
	}

	return nil
}

func (rg *ReportGenerator) printSummary(result *engine.Result, writer io.Writer) {
	s := result.Summary
	fmt.Fprintf(writer, "Ledger rows:        %d (%d excluded)\n", s.LedgerRows, s.ExcludedRows)
	fmt.Fprintf(writer, "Declaration lines:  %d\n", s.DeclarationRows)
	fmt.Fprintf(writer, "Assigned:           %d (%.1f%%)\n", s.AssignedRows, s.AssignmentRate()*100)
	fmt.Fprintf(writer, "Unassigned:         %d\n", s.UnassignedRows)
	fmt.Fprintf(writer, "Claimed lines:      %d (%d reused, %d orphaned)\n", s.ClaimedLines, s.ReusedLines, s.OrphanLines)
	fmt.Fprintf(writer, "Sequence changes:   %d new, %d modified, %d confirmed\n",
		s.NewSequences, s.ChangedSequences, s.ConfirmedRows)
}

func (rg *ReportGenerator) printTierCounts(tierCounts map[string]int, writer io.Writer) {
	tiers := make([]string, 0, len(tierCounts))
	for tier := range tierCounts {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tierRank(tiers[i]) < tierRank(tiers[j])
	})
	for _, tier := range tiers {
		fmt.Fprintf(writer, "  %-4s %d\n", tier, tierCounts[tier])
	}
}

// tierRank orders tier names for display: forward tiers by number, then the
// reverse sweeps.
func tierRank(tier string) int {
	if len(tier) < 2 {
		return 1 << 20
	}
	n, err := strconv.Atoi(tier[1:])
	if err != nil {
		return 1 << 20
	}
	if strings.HasPrefix(tier, "R") {
		return 100 + n
	}
	return n
}

func (rg *ReportGenerator) printAssignments(assignments []*models.Assignment, writer io.Writer) {
	for i, a := range assignments {
		if i >= rg.config.MaxListItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(assignments)-rg.config.MaxListItems)
			break
		}
		line := fmt.Sprintf("  row %d -> seq %s  [%s, %s, %s]",
			a.LedgerIndex, a.SequenceID, a.Tier, a.ToleranceBasis, a.Change)
		if a.Reused {
			line += " (reused)"
		}
		if len(a.Corrections) > 0 {
			line += fmt.Sprintf(" +%d corrections", len(a.Corrections))
		}
		fmt.Fprintf(writer, "%s\n", line)
	}
}

func (rg *ReportGenerator) printDiagnostics(diagnostics []models.UnmatchedDiagnostic, noun string, writer io.Writer) {
	fmt.Fprintf(writer, "Total: %d\n", len(diagnostics))
	for i, d := range diagnostics {
		if i >= rg.config.MaxListItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(diagnostics)-rg.config.MaxListItems)
			break
		}
		fmt.Fprintf(writer, "  %s %d: %s\n", noun, d.Index, d.Reason)
	}
}

func (rg *ReportGenerator) printCrossChecks(run *reconciler.RunResult, writer io.Writer) {
	for i, cc := range run.Result.CrossChecks {
		if i >= rg.config.MaxListItems {
			fmt.Fprintf(writer, "  ... and %d more\n", len(run.Result.CrossChecks)-rg.config.MaxListItems)
			break
		}
		fmt.Fprintf(writer, "  [%s] %s/%s seq %s: %d rows, Δqty=%s Δval=%s\n",
			cc.Tier, cc.DocumentID, cc.TariffCode, cc.SequenceID,
			cc.MemberCount, cc.QuantityDelta.String(), cc.ValueDelta.String())
	}
}

func (rg *ReportGenerator) printFeedStats(run *reconciler.RunResult, writer io.Writer) {
	if run.LedgerStats != nil {
		fmt.Fprintf(writer, "Ledger:       %s\n", run.LedgerStats.String())
	}
	if run.DeclarationStats != nil {
		fmt.Fprintf(writer, "Declarations: %s\n", run.DeclarationStats.String())
	}
	if run.PreprocessingNote != nil && len(run.PreprocessingNote.Warnings) > 0 {
		fmt.Fprintf(writer, "Preprocessing warnings:\n")
		for _, w := range run.PreprocessingNote.Warnings {
			fmt.Fprintf(writer, "  - %s\n", w)
		}
	}
}

func (rg *ReportGenerator) generateJSONReport(run *reconciler.RunResult, writer io.Writer) error {
	output := rg.filterForOutput(run)
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (rg *ReportGenerator) filterForOutput(run *reconciler.RunResult) map[string]interface{} {
	result := run.Result
	output := map[string]interface{}{
		"summary":      result.Summary,
		"balance":      result.Balance,
		"tier_counts":  result.TierCounts,
		"processed_at": run.ProcessedAt,
	}

	if rg.config.IncludeAssignments {
		output["assignments"] = result.Assignments
	}
	if rg.config.IncludeCorrections && len(result.Corrections) > 0 {
		output["corrections"] = result.Corrections
	}
	if rg.config.IncludeDiagnostics {
		if len(result.LedgerDiagnostics) > 0 {
			output["ledger_diagnostics"] = result.LedgerDiagnostics
		}
		if len(result.OrphanDiagnostics) > 0 {
			output["orphan_diagnostics"] = result.OrphanDiagnostics
		}
	}
	if rg.config.IncludeCrossChecks && len(result.CrossChecks) > 0 {
		output["cross_checks"] = result.CrossChecks
	}
	if rg.config.IncludeFeedStats {
		output["ledger_stats"] = run.LedgerStats
		output["declaration_stats"] = run.DeclarationStats
		if run.PreprocessingNote != nil {
			output["preprocessing"] = run.PreprocessingNote
		}
	}

	return output
}

func (rg *ReportGenerator) generateCSVReport(run *reconciler.RunResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		headers := []string{
			"Kind",
			"Ledger_Row",
			"Sequence_ID",
			"Tier",
			"Tolerance_Basis",
			"Change",
			"Reused",
			"Declaration_Line",
			"Corrections",
			"Reason",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	if rg.config.IncludeAssignments {
		for _, a := range run.Result.Assignments {
			var corrections []string
			for _, c := range a.Corrections {
				corrections = append(corrections, fmt.Sprintf("%s=%s", c.Field, c.Authority))
			}
			record := []string{
				"assignment",
				strconv.Itoa(a.LedgerIndex),
				a.SequenceID,
				a.Tier,
				a.ToleranceBasis,
				string(a.Change),
				strconv.FormatBool(a.Reused),
				strconv.Itoa(a.DeclarationIndex),
				strings.Join(corrections, "; "),
				"",
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write assignment record: %w", err)
			}
		}
	}

	if rg.config.IncludeDiagnostics {
		for _, d := range run.Result.LedgerDiagnostics {
			record := []string{
				"unmatched_ledger_row",
				strconv.Itoa(d.Index),
				"", "", "", "", "", "", "",
				d.Reason,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write diagnostic record: %w", err)
			}
		}
		for _, d := range run.Result.OrphanDiagnostics {
			record := []string{
				"unclaimed_declaration",
				"",
				"", "", "", "", "",
				strconv.Itoa(d.Index),
				"",
				d.Reason,
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write diagnostic record: %w", err)
			}
		}
	}

	return nil
}
