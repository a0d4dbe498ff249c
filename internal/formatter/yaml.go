package formatter

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harunnryd/tally/internal/policy"
	"github.com/harunnryd/tally/internal/timesheet"
	"github.com/harunnryd/tally/internal/tracker"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatCases(cases []tracker.Case) (string, error) {
	return marshalYAML(cases)
}

func (f *YAMLFormatter) FormatCase(c tracker.Case) (string, error) {
	return marshalYAML(c)
}

func (f *YAMLFormatter) FormatAnomalies(anomalies []timesheet.Anomaly) (string, error) {
	return marshalYAML(anomalies)
}

func (f *YAMLFormatter) FormatCategories(cats []policy.Category) (string, error) {
	return marshalYAML(cats)
}

// marshalYAML goes through JSON first so keys follow the json tags.
func marshalYAML(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	if generic == nil {
		generic = []any{}
	}
	data, err := yaml.Marshal(generic)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
