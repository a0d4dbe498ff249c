// Package policy is the company policy store: the catalog of acceptable
// absence reasons and the thresholds that drive detection and follow-ups.
package policy

import (
	"fmt"
	"strings"
	"time"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
)

// Category is one acceptable reason for missing or extra hours.
type Category struct {
	ID                     string    `json:"id" yaml:"id"`
	Keywords               []string  `json:"keywords" yaml:"keywords"`
	Description            string    `json:"description" yaml:"description"`
	RequiresApproval       bool      `json:"requires_approval" yaml:"requires_approval"`
	MaxOccurrencesPerMonth *int      `json:"max_occurrences_per_month,omitempty" yaml:"max_occurrences_per_month,omitempty"`
	RequiresDocumentation  bool      `json:"requires_documentation" yaml:"requires_documentation"`
	Active                 bool      `json:"active" yaml:"active"`
	CreatedAt              time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt              time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return tallyErrors.InvalidInput("category id is required")
	}
	if strings.ContainsAny(c.ID, " \t\n") {
		return tallyErrors.InvalidInput(fmt.Sprintf("category id %q must not contain whitespace", c.ID))
	}
	if c.MaxOccurrencesPerMonth != nil && *c.MaxOccurrencesPerMonth < 0 {
		return tallyErrors.InvalidInput(fmt.Sprintf("category %s: negative monthly limit", c.ID))
	}
	return nil
}

// Matches reports whether any keyword occurs in text, case-insensitively.
func (c Category) Matches(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range c.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (c Category) clone() Category {
	out := c
	out.Keywords = append([]string(nil), c.Keywords...)
	if c.MaxOccurrencesPerMonth != nil {
		v := *c.MaxOccurrencesPerMonth
		out.MaxOccurrencesPerMonth = &v
	}
	return out
}

// DuplicateCategoryError is returned when appending an id already in the catalog.
type DuplicateCategoryError struct {
	ID string
}

func (e *DuplicateCategoryError) Error() string {
	return fmt.Sprintf("category %q already exists", e.ID)
}

func (e *DuplicateCategoryError) Unwrap() error {
	return tallyErrors.ErrDuplicateCategory
}

func limit(n int) *int {
	return &n
}

// DefaultCategories is the built-in catalog.
func DefaultCategories() []Category {
	return []Category{
		{
			ID:                     "sick",
			Keywords:               []string{"sick", "ill", "illness", "not feeling well", "under the weather", "fever", "cold", "flu"},
			Description:            "Employee was sick or unwell",
			RequiresApproval:       false,
			MaxOccurrencesPerMonth: limit(5),
			RequiresDocumentation:  true,
			Active:                 true,
		},
		{
			ID:                     "personal",
			Keywords:               []string{"personal", "family", "emergency", "appointment", "doctor", "dentist", "family emergency"},
			Description:            "Personal or family matters",
			RequiresApproval:       true,
			MaxOccurrencesPerMonth: limit(3),
			Active:                 true,
		},
		{
			ID:               "work_from_home",
			Keywords:         []string{"work from home", "remote", "wfh", "home office", "working remotely", "telecommute"},
			Description:      "Worked from home but forgot to log hours",
			RequiresApproval: true,
			Active:           true,
		},
		{
			ID:               "leave",
			Keywords:         []string{"leave", "vacation", "pto", "time off", "holiday", "annual leave"},
			Description:      "Approved leave or vacation",
			RequiresApproval: true,
			Active:           true,
		},
		{
			ID:                     "other",
			Keywords:               []string{"other", "miscellaneous", "unforeseen", "special circumstances"},
			Description:            "Other valid reasons not covered above",
			RequiresApproval:       true,
			MaxOccurrencesPerMonth: limit(2),
			RequiresDocumentation:  true,
			Active:                 true,
		},
	}
}
