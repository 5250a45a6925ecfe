package parsers

import (
	"context"
	"io"

	"customs-sequence-reconciler/internal/models"
	"customs-sequence-reconciler/pkg/errors"
	"customs-sequence-reconciler/pkg/logger"
)

// DeclarationParser reads the customs declaration detail feed.
type DeclarationParser struct {
	*BaseParser
	config *DeclarationParserConfig
	logger logger.Logger
}

// NewDeclarationParser creates a DeclarationParser with the given
// configuration.
func NewDeclarationParser(config *DeclarationParserConfig) (*DeclarationParser, error) {
	if config == nil {
		config = DefaultDeclarationParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "declaration_parser_config", config, err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &DeclarationParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.WithComponent("declaration_parser"),
	}, nil
}

// ParseDeclarations reads the whole feed into memory.
func (dp *DeclarationParser) ParseDeclarations(filePath string) ([]*models.DeclarationLine, *ParseStats, error) {
	return dp.ParseDeclarationsWithContext(context.Background(), filePath)
}

// ParseDeclarationsWithContext reads the feed with cancellation support.
func (dp *DeclarationParser) ParseDeclarationsWithContext(ctx context.Context, filePath string) ([]*models.DeclarationLine, *ParseStats, error) {
	dp.logger.WithField("file_path", filePath).Info("Parsing declaration feed")

	file, reader, err := dp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()

	if err := dp.ReadHeaders(reader, parseCtx, dp.requiredHeaders()); err != nil {
		return nil, stats, errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeMissingColumn,
			"declaration feed headers invalid")
	}

	var lines []*models.DeclarationLine
	for {
		record, err := dp.ReadRecord(reader, parseCtx)
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

		lines = append(lines, dp.lineFromRecord(record, parseCtx, len(lines)))
		stats.RecordsValid++
	}
	stats.TotalLines = parseCtx.LineNumber

	dp.logger.WithFields(logger.Fields{
		"file_path":     filePath,
		"records_valid": stats.RecordsValid,
		"error_count":   stats.ErrorCount,
	}).Info("Declaration parsing completed")
	if stats.HasErrors() {
		dp.logger.WithField("sample_errors", stats.SampleErrors(3)).Warn("Encountered errors during declaration parsing")
	}

	return lines, stats, nil
}

func (dp *DeclarationParser) requiredHeaders() []string {
	return []string{
		dp.config.ColumnName("documentId"),
		dp.config.ColumnName("tariffCode"),
		dp.config.ColumnName("countryCode"),
		dp.config.ColumnName("quantity"),
		dp.config.ColumnName("value"),
		dp.config.ColumnName("sequenceId"),
	}
}

// lineFromRecord builds a DeclarationLine from one row, degrading malformed
// numerics to zero.
func (dp *DeclarationParser) lineFromRecord(record []string, parseCtx *ParseContext, index int) *models.DeclarationLine {
	line := models.NewDeclarationLine(index,
		FieldValue(record, parseCtx, dp.config.ColumnName("documentId")),
		FieldValue(record, parseCtx, dp.config.ColumnName("tariffCode")),
		FieldValue(record, parseCtx, dp.config.ColumnName("countryCode")),
		FieldValue(record, parseCtx, dp.config.ColumnName("sequenceId")),
		models.ParseQuantity(FieldValue(record, parseCtx, dp.config.ColumnName("quantity"))),
		models.ParseQuantity(FieldValue(record, parseCtx, dp.config.ColumnName("value"))),
	)
	line.CompositeKey = FieldValue(record, parseCtx, dp.config.ColumnName("compositeKey"))
	return line
}

// DeclarationBatchCallback receives batches during streaming parsing.
type DeclarationBatchCallback func([]*models.DeclarationLine) error

// ParseDeclarationsStream reads the feed in batches, invoking the callback
// per batch.
func (dp *DeclarationParser) ParseDeclarationsStream(ctx context.Context, filePath string, batchSize int, callback DeclarationBatchCallback) (*ParseStats, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	file, reader, err := dp.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx)
	stats := NewParseStats()
	if err := dp.ReadHeaders(reader, parseCtx, dp.requiredHeaders()); err != nil {
		return stats, err
	}

	progress := logger.NewProgressTracker("parse_declarations", 0, dp.logger)
	batch := make([]*models.DeclarationLine, 0, batchSize)
	index := 0
	for {
		record, err := dp.ReadRecord(reader, parseCtx)
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

		batch = append(batch, dp.lineFromRecord(record, parseCtx, index))
		index++
		stats.RecordsValid++
		progress.Add(1)

		if len(batch) >= batchSize {
			if err := callback(batch); err != nil {
				return stats, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError,
					"declaration batch callback failed")
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := callback(batch); err != nil {
			return stats, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError,
				"declaration batch callback failed")
		}
	}
	stats.TotalLines = parseCtx.LineNumber
	progress.Complete()
	return stats, nil
}
