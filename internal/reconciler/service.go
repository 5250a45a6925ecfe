// Package reconciler orchestrates the full sequence reconciliation run:
// parsing the ledger and declaration feeds, preprocessing, running the
// matching engine, and assembling the final result.
//
// Example usage:
//
//	service, err := reconciler.NewService(nil)
//	service.AddProgressCallback(func(p *reconciler.Progress) {
//		fmt.Printf("%.0f%% - %s\n", p.PercentComplete, p.CurrentStep)
//	})
//
//	result, err := service.Run(ctx, &reconciler.Request{
//		LedgerFile:      "ledger.csv",
//		DeclarationFile: "declarations.csv",
//	})
package reconciler

import (
	"context"
	"sync"
	"time"

	"customs-sequence-reconciler/internal/engine"
	"customs-sequence-reconciler/internal/models"
	"customs-sequence-reconciler/internal/parsers"
	"customs-sequence-reconciler/pkg/errors"
	"customs-sequence-reconciler/pkg/logger"
)

// Service coordinates one reconciliation run end to end.
type Service struct {
	config       *ServiceConfig
	preprocessor *Preprocessor
	logger       logger.Logger

	progressCallbacks []ProgressCallback
	currentProgress   *Progress
	progressMutex     sync.RWMutex
}

// ServiceConfig holds run-level options that are not matching semantics.
type ServiceConfig struct {
	// Engine holds the matching configuration. Nil means engine defaults.
	Engine *engine.Config

	// Preprocessing holds feed hygiene options. Nil means defaults.
	Preprocessing *PreprocessingConfig

	// FailOnParseErrors aborts the run when any feed row was unreadable.
	// Default is to proceed and surface the errors in the result.
	FailOnParseErrors bool

	// RequireDeclarations rejects an empty declaration feed. An empty feed
	// is otherwise legal: every ledger row ends up unmatched.
	RequireDeclarations bool
}

// DefaultServiceConfig returns the standard run options.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Engine:              engine.DefaultConfig(),
		Preprocessing:       DefaultPreprocessingConfig(),
		FailOnParseErrors:   false,
		RequireDeclarations: true,
	}
}

// Request names the two feeds and their parser layouts for one run.
type Request struct {
	LedgerFile        string
	DeclarationFile   string
	LedgerConfig      *parsers.LedgerParserConfig
	DeclarationConfig *parsers.DeclarationParserConfig
}

// Validate checks the request before any file is touched.
func (r *Request) Validate() error {
	if r.LedgerFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "ledger_file", nil, nil).
			WithSuggestion("Provide the path to the bonded-inventory ledger CSV")
	}
	if r.DeclarationFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "declaration_file", nil, nil).
			WithSuggestion("Provide the path to the customs declaration CSV")
	}
	return nil
}

// RunResult bundles everything one run produced.
type RunResult struct {
	// Result is the engine output: assignments, diagnostics, balance.
	Result *engine.Result `json:"result"`

	// Feed statistics from parsing and preprocessing.
	LedgerStats       *parsers.ParseStats `json:"ledger_stats"`
	DeclarationStats  *parsers.ParseStats `json:"declaration_stats"`
	PreprocessingNote *PreprocessingStats `json:"preprocessing,omitempty"`

	ProcessedAt time.Time     `json:"processed_at"`
	Duration    time.Duration `json:"duration"`
}

// Progress reports where a run currently stands.
type Progress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`

	Warnings []string `json:"warnings,omitempty"`
}

// ProgressCallback is invoked after each run step completes.
type ProgressCallback func(*Progress)

const runSteps = 5 // validate, parse ledger, parse declarations, preprocess, reconcile

// NewService creates a Service with the given configuration.
func NewService(config *ServiceConfig) (*Service, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.Engine == nil {
		config.Engine = engine.DefaultConfig()
	}
	if err := config.Engine.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "engine", config.Engine, err)
	}

	return &Service{
		config:       config,
		preprocessor: NewPreprocessor(config.Preprocessing),
		logger:       logger.WithComponent("reconciler_service"),
		currentProgress: &Progress{
			TotalSteps: runSteps,
		},
	}, nil
}

// AddProgressCallback registers a callback for step updates.
func (s *Service) AddProgressCallback(callback ProgressCallback) {
	s.progressCallbacks = append(s.progressCallbacks, callback)
}

// Config returns the active service configuration.
func (s *Service) Config() *ServiceConfig {
	return s.config
}

// Run executes a full reconciliation: parse, preprocess, match, report.
func (s *Service) Run(ctx context.Context, request *Request) (*RunResult, error) {
	startTime := time.Now()
	s.initProgress(startTime)

	s.logger.WithFields(logger.Fields{
		"ledger_file":      request.LedgerFile,
		"declaration_file": request.DeclarationFile,
	}).Info("Starting reconciliation run")

	s.updateProgress("Validating request", 0, startTime)
	if err := request.Validate(); err != nil {
		s.logger.WithError(err).Error("Request validation failed")
		return nil, err
	}

	s.updateProgress("Parsing ledger feed", 1, startTime)
	ledger, ledgerStats, err := s.parseLedger(ctx, request)
	if err != nil {
		return nil, err
	}

	s.updateProgress("Parsing declaration feed", 2, startTime)
	declarations, declStats, err := s.parseDeclarations(ctx, request)
	if err != nil {
		return nil, err
	}

	if s.config.FailOnParseErrors && (ledgerStats.HasErrors() || declStats.HasErrors()) {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "feed_rows",
			ledgerStats.ErrorCount+declStats.ErrorCount, nil).
			WithSuggestion("Fix the unreadable rows or disable fail_on_parse_errors")
	}

	if len(ledger) == 0 {
		return nil, errors.ValidationError(errors.CodeEmptyDataset, "ledger_file", request.LedgerFile, nil).
			WithSuggestion("The ledger feed has no data rows; nothing to reconcile")
	}
	if s.config.RequireDeclarations && len(declarations) == 0 {
		return nil, errors.ValidationError(errors.CodeEmptyDataset, "declaration_file", request.DeclarationFile, nil).
			WithSuggestion("The declaration feed has no data rows; every ledger row would be unmatched")
	}

	s.updateProgress("Preprocessing feeds", 3, startTime)
	ledger, declarations, prepStats := s.preprocessor.Preprocess(ledger, declarations)
	for _, w := range prepStats.Warnings {
		s.addWarning(w)
	}

	s.updateProgress("Running matching cascade", 4, startTime)
	result, err := s.reconcile(ledger, declarations)
	if err != nil {
		return nil, err
	}

	s.updateProgress("Completed", runSteps, startTime)
	duration := time.Since(startTime)
	s.logger.WithFields(logger.Fields{
		"assigned_rows": result.Summary.AssignedRows,
		"duration":      duration,
	}).Info("Reconciliation run completed")

	return &RunResult{
		Result:            result,
		LedgerStats:       ledgerStats,
		DeclarationStats:  declStats,
		PreprocessingNote: prepStats,
		ProcessedAt:       startTime,
		Duration:          duration,
	}, nil
}

func (s *Service) parseLedger(ctx context.Context, request *Request) ([]*models.LedgerLine, *parsers.ParseStats, error) {
	parser, err := parsers.NewLedgerParser(request.LedgerConfig)
	if err != nil {
		return nil, nil, err
	}
	lines, stats, err := parser.ParseLedgerWithContext(ctx, request.LedgerFile)
	if err != nil {
		return nil, stats, errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeInvalidFormat,
			"ledger feed could not be parsed")
	}
	return lines, stats, nil
}

func (s *Service) parseDeclarations(ctx context.Context, request *Request) ([]*models.DeclarationLine, *parsers.ParseStats, error) {
	parser, err := parsers.NewDeclarationParser(request.DeclarationConfig)
	if err != nil {
		return nil, nil, err
	}
	lines, stats, err := parser.ParseDeclarationsWithContext(ctx, request.DeclarationFile)
	if err != nil {
		return nil, stats, errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeInvalidFormat,
			"declaration feed could not be parsed")
	}
	return lines, stats, nil
}

func (s *Service) reconcile(ledger []*models.LedgerLine, declarations []*models.DeclarationLine) (*engine.Result, error) {
	eng := engine.New(s.config.Engine)
	eng.LoadLedger(ledger)
	eng.LoadDeclarations(declarations)

	result, err := eng.Reconcile()
	if err != nil {
		return nil, errors.ReconciliationError(errors.CodeProcessingError, "matching_cascade", err)
	}
	return result, nil
}

func (s *Service) initProgress(startTime time.Time) {
	s.progressMutex.Lock()
	s.currentProgress = &Progress{
		TotalSteps: runSteps,
		StartTime:  startTime,
	}
	s.progressMutex.Unlock()
}

func (s *Service) updateProgress(step string, completed int, startTime time.Time) {
	s.progressMutex.Lock()
	s.currentProgress.CurrentStep = step
	s.currentProgress.CompletedSteps = completed
	s.currentProgress.PercentComplete = float64(completed) / float64(runSteps) * 100
	s.currentProgress.ElapsedTime = time.Since(startTime)
	snapshot := *s.currentProgress
	s.progressMutex.Unlock()

	for _, callback := range s.progressCallbacks {
		callback(&snapshot)
	}
}

func (s *Service) addWarning(warning string) {
	s.progressMutex.Lock()
	s.currentProgress.Warnings = append(s.currentProgress.Warnings, warning)
	s.progressMutex.Unlock()
	s.logger.Warn(warning)
}

// CurrentProgress returns a copy of the latest progress snapshot.
func (s *Service) CurrentProgress() *Progress {
	s.progressMutex.RLock()
	defer s.progressMutex.RUnlock()
	snapshot := *s.currentProgress
	return &snapshot
}
