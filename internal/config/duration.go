package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a duration string and falls back to defaultValue when empty.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", candidate)
	}
	return d, nil
}

// DateOrDefault parses a YYYY-MM-DD date string and falls back to defaultValue when empty.
func DateOrDefault(value string, defaultValue string) (time.Time, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	t, err := time.Parse(time.DateOnly, candidate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", candidate, err)
	}
	return t, nil
}
