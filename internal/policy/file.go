package policy

import (
	"bytes"
	"fmt"
	"os"

	"github.com/harunnryd/tally/internal/store"

	"github.com/natefinch/atomic"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type catalogDoc struct {
	Thresholds *thresholdsDoc `yaml:"thresholds,omitempty"`
	Categories []Category     `yaml:"categories"`
}

type thresholdsDoc struct {
	MinHours     float64 `yaml:"min_hours"`
	MaxHours     float64 `yaml:"max_hours"`
	MaxFollowups int     `yaml:"max_followups"`
}

func (d catalogDoc) thresholds(fallback Thresholds) Thresholds {
	if d.Thresholds == nil {
		return fallback
	}
	t := fallback
	if d.Thresholds.MinHours > 0 {
		t.MinHours = decimal.NewFromFloat(d.Thresholds.MinHours)
	}
	if d.Thresholds.MaxHours > 0 {
		t.MaxHours = decimal.NewFromFloat(d.Thresholds.MaxHours)
	}
	if d.Thresholds.MaxFollowups > 0 {
		t.MaxFollowups = d.Thresholds.MaxFollowups
	}
	return t
}

func readCatalog(path string) (catalogDoc, bool, error) {
	var doc catalogDoc
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return doc, false, nil
	}
	if err != nil {
		return doc, false, err
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, false, fmt.Errorf("parse policy catalog %s: %w", path, err)
	}
	return doc, true, nil
}

// writeCatalog writes categories back, keeping the file's own thresholds
// block when it had one.
func writeCatalog(path string, pinned *thresholdsDoc, categories []Category) error {
	doc := catalogDoc{Thresholds: pinned, Categories: categories}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := store.EnsureParentDir(path); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}
