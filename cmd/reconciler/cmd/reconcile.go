package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"customs-sequence-reconciler/cmd/reconciler/config"
	"customs-sequence-reconciler/internal/reconciler"
	"customs-sequence-reconciler/internal/reporter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	ledgerFile      string
	declarationFile string
	outputFormat    string
	outputFile      string
	profile         string
	brokerHeaders   bool
	showProgress    bool

	// Tolerance overrides; negative means "use the profile's value".
	relaxedPct   float64
	unitPricePct float64

	disableForced     bool
	disableReverse    bool
	failOnParseErrors bool
	showCrossChecks   bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a bonded-inventory ledger with a customs declaration feed",
	Long: `Reconcile assigns declaration sequence IDs to ledger rows by running the
matching cascade: exact composite keys first, then grouped totals with
absolute and percentage tolerances, combination splits, unit-price
discrimination, and finally the last-resort sweeps.

This command requires:
- A bonded-inventory ledger file (CSV format)
- A customs declaration detail file (CSV format)

Examples:
  # Basic reconciliation
  reconciler reconcile --ledger-file ledger.csv --declaration-file decl.csv

  # Broker export with Spanish headers, JSON output
  reconciler reconcile -l ledger.csv -d decl.csv --broker-headers \
    --output-format json --output-file report.json

  # Exact tiers only
  reconciler reconcile -l ledger.csv -d decl.csv --profile strict

  # Custom percentage bands
  reconciler reconcile -l ledger.csv -d decl.csv \
    --relaxed-pct 8 --unit-price-pct 12

  # Keep the forced tier off, show group cross-checks
  reconciler reconcile -l ledger.csv -d decl.csv --no-forced --cross-checks`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringVarP(&ledgerFile, "ledger-file", "l", "", "path to the bonded-inventory ledger CSV (required)")
	reconcileCmd.Flags().StringVarP(&declarationFile, "declaration-file", "d", "", "path to the customs declaration CSV (required)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// Matching configuration flags
	reconcileCmd.Flags().StringVarP(&profile, "profile", "p", "default", "matching profile: default, strict, relaxed")
	reconcileCmd.Flags().Float64Var(&relaxedPct, "relaxed-pct", -1, "relaxed group tolerance percentage (overrides profile)")
	reconcileCmd.Flags().Float64Var(&unitPricePct, "unit-price-pct", -1, "unit-price band percentage (overrides profile)")
	reconcileCmd.Flags().BoolVar(&disableForced, "no-forced", false, "disable the forced greedy assignment tier")
	reconcileCmd.Flags().BoolVar(&disableReverse, "no-reverse", false, "disable the reverse sweep tiers")

	// Feed layout flags
	reconcileCmd.Flags().BoolVar(&brokerHeaders, "broker-headers", false, "feeds use the Spanish broker export headers")
	reconcileCmd.Flags().BoolVar(&failOnParseErrors, "fail-on-parse-errors", false, "abort when any feed row is unreadable")

	// UI flags
	reconcileCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")
	reconcileCmd.Flags().BoolVar(&showCrossChecks, "cross-checks", false, "include per-group cross-check records in the report")

	// Mark required flags
	reconcileCmd.MarkFlagRequired("ledger-file")
	reconcileCmd.MarkFlagRequired("declaration-file")

	// Bind flags to viper
	viper.BindPFlag("ledger-file", reconcileCmd.Flags().Lookup("ledger-file"))
	viper.BindPFlag("declaration-file", reconcileCmd.Flags().Lookup("declaration-file"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
	viper.BindPFlag("output-file", reconcileCmd.Flags().Lookup("output-file"))
	viper.BindPFlag("profile", reconcileCmd.Flags().Lookup("profile"))
	viper.BindPFlag("relaxed-pct", reconcileCmd.Flags().Lookup("relaxed-pct"))
	viper.BindPFlag("unit-price-pct", reconcileCmd.Flags().Lookup("unit-price-pct"))
	viper.BindPFlag("no-forced", reconcileCmd.Flags().Lookup("no-forced"))
	viper.BindPFlag("no-reverse", reconcileCmd.Flags().Lookup("no-reverse"))
	viper.BindPFlag("broker-headers", reconcileCmd.Flags().Lookup("broker-headers"))
	viper.BindPFlag("fail-on-parse-errors", reconcileCmd.Flags().Lookup("fail-on-parse-errors"))
	viper.BindPFlag("progress", reconcileCmd.Flags().Lookup("progress"))
	viper.BindPFlag("cross-checks", reconcileCmd.Flags().Lookup("cross-checks"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Get values from viper (allows override from config file)
	ledgerFile = viper.GetString("ledger-file")
	declarationFile = viper.GetString("declaration-file")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
	profile = viper.GetString("profile")
	relaxedPct = viper.GetFloat64("relaxed-pct")
	unitPricePct = viper.GetFloat64("unit-price-pct")
	disableForced = viper.GetBool("no-forced")
	disableReverse = viper.GetBool("no-reverse")
	brokerHeaders = viper.GetBool("broker-headers")
	failOnParseErrors = viper.GetBool("fail-on-parse-errors")
	showProgress = viper.GetBool("progress")
	showCrossChecks = viper.GetBool("cross-checks")

	// Validate required flags
	if ledgerFile == "" {
		return fmt.Errorf("ledger-file is required")
	}
	if declarationFile == "" {
		return fmt.Errorf("declaration-file is required")
	}

	// Validate file existence
	if err := validateFileExists(ledgerFile, "ledger file"); err != nil {
		return err
	}
	if err := validateFileExists(declarationFile, "declaration file"); err != nil {
		return err
	}

	// Validate output format
	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	// Validate profile
	validProfiles := map[string]bool{"default": true, "strict": true, "relaxed": true}
	if !validProfiles[profile] {
		return fmt.Errorf("invalid matching profile '%s'. Valid profiles: default, strict, relaxed", profile)
	}

	// Validate percentage overrides (negative means "keep profile value")
	if relaxedPct > 100 {
		return fmt.Errorf("relaxed-pct must be between 0 and 100, got %.1f", relaxedPct)
	}
	if unitPricePct > 100 {
		return fmt.Errorf("unit-price-pct must be between 0 and 100, got %.1f", unitPricePct)
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s", FormatFileError(filePath, err))
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", description, err)
	}
	file.Close()

	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation...\n")
		fmt.Fprintf(os.Stderr, "Ledger file: %s\n", ledgerFile)
		fmt.Fprintf(os.Stderr, "Declaration file: %s\n", declarationFile)
		fmt.Fprintf(os.Stderr, "Profile: %s\n", profile)
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
	}

	// Build configurations
	engineConfig, err := config.CreateEngineConfig(profile, config.EngineOverrides{
		RelaxedPct:     relaxedPct,
		UnitPricePct:   unitPricePct,
		DisableForced:  disableForced,
		DisableReverse: disableReverse,
	})
	if err != nil {
		return err
	}

	service, err := reconciler.NewService(config.CreateServiceConfig(engineConfig, failOnParseErrors))
	if err != nil {
		return fmt.Errorf("failed to create reconciliation service: %w", err)
	}

	if showProgress {
		service.AddProgressCallback(func(progress *reconciler.Progress) {
			fmt.Fprintf(os.Stderr, "\r[%d/%d] %s (%.0f%% complete)",
				progress.CompletedSteps, progress.TotalSteps,
				progress.CurrentStep, progress.PercentComplete)
		})
	}

	request := &reconciler.Request{
		LedgerFile:        ledgerFile,
		DeclarationFile:   declarationFile,
		LedgerConfig:      config.CreateLedgerParserConfig(brokerHeaders),
		DeclarationConfig: config.CreateDeclarationParserConfig(brokerHeaders),
	}

	run, err := service.Run(ctx, request)
	if err != nil {
		if showProgress {
			fmt.Fprintf(os.Stderr, "\n")
		}
		return err
	}
	if showProgress {
		fmt.Fprintf(os.Stderr, "\n")
	}

	// Generate report
	reportConfig := config.CreateReportConfig(outputFormat, showCrossChecks)
	reportGenerator, err := reporter.NewSafeReportGenerator(reportConfig, nil)
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	// Determine output destination
	var output *os.File
	if outputFile != "" {
		output, err = os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	} else {
		output = os.Stdout
	}

	if err := reportGenerator.GenerateReportSafely(run, output); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	// Show completion message
	if viper.GetBool("verbose") {
		summary := run.Result.Summary
		fmt.Fprintf(os.Stderr, "\nReconciliation completed.\n")
		fmt.Fprintf(os.Stderr, "Processed %d ledger rows and %d declaration lines.\n",
			summary.LedgerRows, summary.DeclarationRows)
		fmt.Fprintf(os.Stderr, "Assigned %d rows (%.1f%%), %d unassigned, %d declaration lines unclaimed.\n",
			summary.AssignedRows, summary.AssignmentRate()*100,
			summary.UnassignedRows, summary.OrphanLines)
		fmt.Fprintf(os.Stderr, "%s\n", run.Result.Balance.Headline())
		fmt.Fprintf(os.Stderr, "Processing time: %v\n", summary.ProcessingTime)
	}

	return nil
}
