package parsers

import (
	"fmt"
	"strings"
)

// LedgerParserConfig maps ledger feed columns to the model. Only the columns
// needed for matching are required; sequence, composite key and notes are
// optional and read when present.
type LedgerParserConfig struct {
	DocumentColumn     string            `json:"document_column"`
	CodeColumn         string            `json:"code_column"`
	CountryColumn      string            `json:"country_column"`
	QuantityColumn     string            `json:"quantity_column"`
	ValueColumn        string            `json:"value_column"`
	SequenceColumn     string            `json:"sequence_column"`
	CompositeKeyColumn string            `json:"composite_key_column"`
	NotesColumn        string            `json:"notes_column"`
	HasHeader          bool              `json:"has_header"`
	Delimiter          rune              `json:"delimiter"`
	ColumnAliases      map[string]string `json:"column_aliases,omitempty"`

	// ExclusionMarker flags administratively excluded rows: a row whose
	// notes column contains this marker never enters matching.
	ExclusionMarker string `json:"exclusion_marker"`
}

// DefaultLedgerParserConfig returns the standard ledger feed layout.
func DefaultLedgerParserConfig() *LedgerParserConfig {
	return &LedgerParserConfig{
		DocumentColumn:     "documentId",
		CodeColumn:         "tariffCode",
		CountryColumn:      "countryCode",
		QuantityColumn:     "quantity",
		ValueColumn:        "value",
		SequenceColumn:     "sequenceId",
		CompositeKeyColumn: "compositeKey",
		NotesColumn:        "notes",
		HasHeader:          true,
		Delimiter:          ',',
		ExclusionMarker:    "NO INCLUIR",
		ColumnAliases:      make(map[string]string),
	}
}

// BrokerLedgerParserConfig returns the layout the broker system exports,
// with the Spanish headers of the filing workflow.
func BrokerLedgerParserConfig() *LedgerParserConfig {
	c := DefaultLedgerParserConfig()
	c.ColumnAliases = map[string]string{
		"documentId":  "Pedimento",
		"tariffCode":  "FraccionNico",
		"countryCode": "PaisOrigen",
		"quantity":    "CantidadUMC",
		"value":       "ValorAduana",
		"sequenceId":  "SecuenciaPed",
		"notes":       "Observaciones",
	}
	return c
}

// Validate checks that the required column mappings are set.
func (c *LedgerParserConfig) Validate() error {
	required := map[string]string{
		"document": c.DocumentColumn,
		"code":     c.CodeColumn,
		"country":  c.CountryColumn,
		"quantity": c.QuantityColumn,
		"value":    c.ValueColumn,
	}
	for name, col := range required {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("%s column cannot be empty", name)
		}
	}
	return nil
}

// ColumnName resolves a logical column to the feed's actual header,
// honoring aliases.
func (c *LedgerParserConfig) ColumnName(standard string) string {
	if alias, ok := c.ColumnAliases[standard]; ok {
		return alias
	}
	switch standard {
	case "documentId":
		return c.DocumentColumn
	case "tariffCode":
		return c.CodeColumn
	case "countryCode":
		return c.CountryColumn
	case "quantity":
		return c.QuantityColumn
	case "value":
		return c.ValueColumn
	case "sequenceId":
		return c.SequenceColumn
	case "compositeKey":
		return c.CompositeKeyColumn
	case "notes":
		return c.NotesColumn
	default:
		return standard
	}
}

// DeclarationParserConfig maps declaration feed columns to the model. The
// sequence column is required here: it carries the value the whole run
// exists to propagate.
type DeclarationParserConfig struct {
	DocumentColumn     string            `json:"document_column"`
	CodeColumn         string            `json:"code_column"`
	CountryColumn      string            `json:"country_column"`
	QuantityColumn     string            `json:"quantity_column"`
	ValueColumn        string            `json:"value_column"`
	SequenceColumn     string            `json:"sequence_column"`
	CompositeKeyColumn string            `json:"composite_key_column"`
	HasHeader          bool              `json:"has_header"`
	Delimiter          rune              `json:"delimiter"`
	ColumnAliases      map[string]string `json:"column_aliases,omitempty"`
}

// DefaultDeclarationParserConfig returns the standard declaration layout.
func DefaultDeclarationParserConfig() *DeclarationParserConfig {
	return &DeclarationParserConfig{
		DocumentColumn:     "documentId",
		CodeColumn:         "tariffCode",
		CountryColumn:      "countryCode",
		QuantityColumn:     "quantity",
		ValueColumn:        "value",
		SequenceColumn:     "sequenceId",
		CompositeKeyColumn: "compositeKey",
		HasHeader:          true,
		Delimiter:          ',',
		ColumnAliases:      make(map[string]string),
	}
}

// BrokerDeclarationParserConfig returns the broker export layout with
// Spanish headers.
func BrokerDeclarationParserConfig() *DeclarationParserConfig {
	c := DefaultDeclarationParserConfig()
	c.ColumnAliases = map[string]string{
		"documentId":  "Pedimento",
		"tariffCode":  "FraccionNico",
		"countryCode": "PaisOrigen",
		"quantity":    "CantidadUMC",
		"value":       "ValorAduana",
		"sequenceId":  "SecuenciaPed",
	}
	return c
}

// Validate checks that the required column mappings are set.
func (c *DeclarationParserConfig) Validate() error {
	required := map[string]string{
		"document": c.DocumentColumn,
		"code":     c.CodeColumn,
		"country":  c.CountryColumn,
		"quantity": c.QuantityColumn,
		"value":    c.ValueColumn,
		"sequence": c.SequenceColumn,
	}
	for name, col := range required {
		if strings.TrimSpace(col) == "" {
			return fmt.Errorf("%s column cannot be empty", name)
		}
	}
	return nil
}

// ColumnName resolves a logical column to the feed's actual header,
// honoring aliases.
func (c *DeclarationParserConfig) ColumnName(standard string) string {
	if alias, ok := c.ColumnAliases[standard]; ok {
		return alias
	}
	switch standard {
	case "documentId":
		return c.DocumentColumn
	case "tariffCode":
		return c.CodeColumn
	case "countryCode":
		return c.CountryColumn
	case "quantity":
		return c.QuantityColumn
	case "value":
		return c.ValueColumn
	case "sequenceId":
		return c.SequenceColumn
	case "compositeKey":
		return c.CompositeKeyColumn
	default:
		return standard
	}
}
