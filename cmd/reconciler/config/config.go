// Package config builds the runtime configurations the CLI hands to the
// parsers, the matching engine and the reporter.
package config

import (
	"fmt"

	"customs-sequence-reconciler/internal/engine"
	"customs-sequence-reconciler/internal/parsers"
	"customs-sequence-reconciler/internal/reconciler"
	"customs-sequence-reconciler/internal/reporter"
)

// CreateLedgerParserConfig returns the ledger feed layout. With brokerHeaders
// the Spanish broker export headers are mapped via aliases.
func CreateLedgerParserConfig(brokerHeaders bool) *parsers.LedgerParserConfig {
	if brokerHeaders {
		return parsers.BrokerLedgerParserConfig()
	}
	return parsers.DefaultLedgerParserConfig()
}

// CreateDeclarationParserConfig returns the declaration feed layout.
func CreateDeclarationParserConfig(brokerHeaders bool) *parsers.DeclarationParserConfig {
	if brokerHeaders {
		return parsers.BrokerDeclarationParserConfig()
	}
	return parsers.DefaultDeclarationParserConfig()
}

// EngineOverrides carries the CLI tolerance flags. Negative values mean "use
// the profile's value".
type EngineOverrides struct {
	RelaxedPct     float64
	UnitPricePct   float64
	DisableForced  bool
	DisableReverse bool
}

// CreateEngineConfig builds the matching configuration from a named profile
// plus CLI overrides.
func CreateEngineConfig(profile string, overrides EngineOverrides) (*engine.Config, error) {
	var config *engine.Config
	switch profile {
	case "", "default":
		config = engine.DefaultConfig()
	case "strict":
		config = engine.StrictConfig()
	case "relaxed":
		config = engine.RelaxedConfig()
	default:
		return nil, fmt.Errorf("unknown matching profile '%s'. Valid profiles: default, strict, relaxed", profile)
	}

	if overrides.RelaxedPct >= 0 {
		config.RelaxedPct = overrides.RelaxedPct
	}
	if overrides.UnitPricePct >= 0 {
		config.UnitPricePct = overrides.UnitPricePct
	}
	if overrides.DisableForced {
		config.EnableForcedGreedy = false
	}
	if overrides.DisableReverse {
		config.EnableReverseSweep = false
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	return config, nil
}

// CreateServiceConfig builds the run options for the reconciler service.
func CreateServiceConfig(engineConfig *engine.Config, failOnParseErrors bool) *reconciler.ServiceConfig {
	config := reconciler.DefaultServiceConfig()
	config.Engine = engineConfig
	config.FailOnParseErrors = failOnParseErrors
	return config
}

// CreateReportConfig builds the report options for the requested format.
func CreateReportConfig(format string, includeCrossChecks bool) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()
	config.IncludeCrossChecks = includeCrossChecks

	switch format {
	case "console":
		config.Format = reporter.FormatConsole
	case "json":
		config.Format = reporter.FormatJSON
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		// CSV is row data; the prose sections have no place there.
		config.IncludeFeedStats = false
	}

	return config
}

// FeedProfile bundles the parser layouts of one upstream export system.
type FeedProfile struct {
	Name        string
	Ledger      *parsers.LedgerParserConfig
	Declaration *parsers.DeclarationParserConfig
	Description string
}

// GetFeedProfiles returns the layouts of the known upstream systems.
func GetFeedProfiles() []FeedProfile {
	return []FeedProfile{
		{
			Name:        "standard",
			Ledger:      parsers.DefaultLedgerParserConfig(),
			Declaration: parsers.DefaultDeclarationParserConfig(),
			Description: "English camelCase headers (documentId, tariffCode, ...)",
		},
		{
			Name:        "broker",
			Ledger:      parsers.BrokerLedgerParserConfig(),
			Declaration: parsers.BrokerDeclarationParserConfig(),
			Description: "Spanish broker export headers (Pedimento, FraccionNico, ...)",
		},
	}
}

// GetFeedProfile returns a feed profile by name.
func GetFeedProfile(name string) (*FeedProfile, error) {
	for _, profile := range GetFeedProfiles() {
		if profile.Name == name {
			return &profile, nil
		}
	}
	return nil, fmt.Errorf("unknown feed profile: %s", name)
}
