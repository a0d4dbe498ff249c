package formatter

import (
	"encoding/json"

	"github.com/harunnryd/tally/internal/policy"
	"github.com/harunnryd/tally/internal/timesheet"
	"github.com/harunnryd/tally/internal/tracker"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatCases(cases []tracker.Case) (string, error) {
	if cases == nil {
		cases = []tracker.Case{}
	}
	return marshalJSON(cases)
}

func (f *JSONFormatter) FormatCase(c tracker.Case) (string, error) {
	return marshalJSON(c)
}

func (f *JSONFormatter) FormatAnomalies(anomalies []timesheet.Anomaly) (string, error) {
	if anomalies == nil {
		anomalies = []timesheet.Anomaly{}
	}
	return marshalJSON(anomalies)
}

func (f *JSONFormatter) FormatCategories(cats []policy.Category) (string, error) {
	if cats == nil {
		cats = []policy.Category{}
	}
	return marshalJSON(cats)
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
