package parsers

import (
	"context"
	"io"
	"strings"

	"customs-sequence-reconciler/internal/models"
	"customs-sequence-reconciler/pkg/errors"
	"customs-sequence-reconciler/pkg/logger"
)

// LedgerParser reads the bonded-inventory ledger feed.
type LedgerParser struct {
	*BaseParser
	config *LedgerParserConfig
	logger logger.Logger
}

// NewLedgerParser creates a LedgerParser with the given configuration.
func NewLedgerParser(config *LedgerParserConfig) (*LedgerParser, error) {
	if config == nil {
		config = DefaultLedgerParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger_parser_config", config, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &LedgerParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.WithComponent("ledger_parser"),
	}, nil
}

// ParseLedger reads the whole feed into memory.
func (lp *LedgerParser) ParseLedger(filePath string) ([]*models.LedgerLine, *ParseStats, error) {
	return lp.ParseLedgerWithContext(context.Background(), filePath)
}

// ParseLedgerWithContext reads the feed with cancellation support.
func (lp *LedgerParser) ParseLedgerWithContext(ctx context.Context, filePath string) ([]*models.LedgerLine, *ParseStats, error) {
	lp.logger.WithField("file_path", filePath).Info("Parsing ledger feed")

	file, reader, err := lp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()

	if err := lp.ReadHeaders(reader, parseCtx, lp.requiredHeaders()); err != nil {
		return nil, stats, errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeMissingColumn,
			"ledger feed headers invalid")
	}

	var lines []*models.LedgerLine
	for {
		record, err := lp.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			if re, ok := errors.AsReconcilerError(err); ok && re.Category == errors.CategoryInternal {
				return lines, stats, re
			}
			stats.AddError(&ParseError{Line: parseCtx.LineNumber, Message: "unreadable record", Err: err})
			continue
		}
		stats.RecordsParsed++

		line := lp.lineFromRecord(record, parseCtx, len(lines))
		if line.Excluded {
			stats.ExcludedRows++
		}
		lines = append(lines, line)
		stats.RecordsValid++
	}
	stats.TotalLines = parseCtx.LineNumber

	lp.logger.WithFields(logger.Fields{
		"file_path":     filePath,
		"records_valid": stats.RecordsValid,
		"excluded_rows": stats.ExcludedRows,
		"error_count":   stats.ErrorCount,
	}).Info("Ledger parsing completed")
	if stats.HasErrors() {
		lp.logger.WithField("sample_errors", stats.SampleErrors(3)).Warn("Encountered errors during ledger parsing")
	}

	return lines, stats, nil
}

func (lp *LedgerParser) requiredHeaders() []string {
	return []string{
		lp.config.ColumnName("documentId"),
		lp.config.ColumnName("tariffCode"),
		lp.config.ColumnName("countryCode"),
		lp.config.ColumnName("quantity"),
		lp.config.ColumnName("value"),
	}
}

// lineFromRecord builds a LedgerLine from one row. Numeric fields degrade to
// zero when malformed; the row itself is never rejected.
func (lp *LedgerParser) lineFromRecord(record []string, parseCtx *ParseContext, index int) *models.LedgerLine {
	line := models.NewLedgerLine(index,
		FieldValue(record, parseCtx, lp.config.ColumnName("documentId")),
		FieldValue(record, parseCtx, lp.config.ColumnName("tariffCode")),
		FieldValue(record, parseCtx, lp.config.ColumnName("countryCode")),
		models.ParseQuantity(FieldValue(record, parseCtx, lp.config.ColumnName("quantity"))),
		models.ParseQuantity(FieldValue(record, parseCtx, lp.config.ColumnName("value"))),
	)
	line.ExistingSequenceID = FieldValue(record, parseCtx, lp.config.ColumnName("sequenceId"))
	line.CompositeKey = FieldValue(record, parseCtx, lp.config.ColumnName("compositeKey"))
	line.Description = FieldValue(record, parseCtx, lp.config.ColumnName("notes"))

	if marker := lp.config.ExclusionMarker; marker != "" {
		if strings.Contains(strings.ToUpper(line.Description), strings.ToUpper(marker)) {
			line.Excluded = true
		}
	}
	return line
}

// LedgerBatchCallback receives batches during streaming parsing.
type LedgerBatchCallback func([]*models.LedgerLine) error

// ParseLedgerStream reads the feed in batches, invoking the callback per
// batch, for feeds too large to hold comfortably in one slice.
func (lp *LedgerParser) ParseLedgerStream(ctx context.Context, filePath string, batchSize int, callback LedgerBatchCallback) (*ParseStats, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	file, reader, err := lp.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()
	if err := lp.ReadHeaders(reader, parseCtx, lp.requiredHeaders()); err != nil {
		return stats, err
	}

	progress := logger.NewProgressTracker("parse_ledger", 0, lp.logger)
	batch := make([]*models.LedgerLine, 0, batchSize)
	index := 0
	for {
		record, err := lp.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			if re, ok := errors.AsReconcilerError(err); ok && re.Category == errors.CategoryInternal {
				return stats, re
			}
			stats.AddError(&ParseError{Line: parseCtx.LineNumber, Message: "unreadable record", Err: err})
			continue
		}
		stats.RecordsParsed++

		line := lp.lineFromRecord(record, parseCtx, index)
		index++
		if line.Excluded {
			stats.ExcludedRows++
		}
		batch = append(batch, line)
		stats.RecordsValid++
		progress.Add(1)

		if len(batch) >= batchSize {
			if err := callback(batch); err != nil {
				return stats, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError,
					"ledger batch callback failed")
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := callback(batch); err != nil {
			return stats, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError,
				"ledger batch callback failed")
		}
	}
	stats.TotalLines = parseCtx.LineNumber
	progress.Complete()
	return stats, nil
}
