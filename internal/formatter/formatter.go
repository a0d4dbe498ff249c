// Package formatter renders cases, anomalies and policy categories for the CLI.
package formatter

import (
	"fmt"
	"strings"

	"github.com/harunnryd/tally/internal/policy"
	"github.com/harunnryd/tally/internal/timesheet"
	"github.com/harunnryd/tally/internal/tracker"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

type Formatter interface {
	FormatCases([]tracker.Case) (string, error)
	FormatCase(tracker.Case) (string, error)
	FormatAnomalies([]timesheet.Anomaly) (string, error)
	FormatCategories([]policy.Category) (string, error)
}

func New(format OutputFormat) (Formatter, error) {
	switch format {
	case OutputFormatTable:
		return NewTableFormatter(), nil
	case OutputFormatJSON:
		return NewJSONFormatter(), nil
	case OutputFormatYAML:
		return NewYAMLFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, json, yaml)", format)
	}
}

func ParseOutputFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json, yaml)", s)
	}
}
