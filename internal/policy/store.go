package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/tally/internal/config"
	tallyErrors "github.com/harunnryd/tally/internal/errors"

	"github.com/shopspring/decimal"
)

// Thresholds bound normal daily hours and the follow-up budget per case.
type Thresholds struct {
	MinHours     decimal.Decimal
	MaxHours     decimal.Decimal
	MaxFollowups int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHours:     decimal.NewFromFloat(config.DefaultPolicyMinHours),
		MaxHours:     decimal.NewFromFloat(config.DefaultPolicyMaxHours),
		MaxFollowups: config.DefaultPolicyMaxFollowups,
	}
}

// ThresholdsFrom converts the policy config section, falling back to defaults for zero values.
func ThresholdsFrom(cfg config.PolicyConfig) (Thresholds, error) {
	t := DefaultThresholds()
	if cfg.MinHours > 0 {
		t.MinHours = decimal.NewFromFloat(cfg.MinHours)
	}
	if cfg.MaxHours > 0 {
		t.MaxHours = decimal.NewFromFloat(cfg.MaxHours)
	}
	if cfg.MaxFollowups > 0 {
		t.MaxFollowups = cfg.MaxFollowups
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}

func (t Thresholds) Validate() error {
	if t.MinHours.IsNegative() {
		return tallyErrors.InvalidInput("min hours must not be negative")
	}
	if t.MaxHours.LessThan(t.MinHours) {
		return tallyErrors.InvalidInput(fmt.Sprintf("max hours %s below min hours %s", t.MaxHours, t.MinHours))
	}
	if t.MaxFollowups < 1 {
		return tallyErrors.InvalidInput("max followups must be at least 1")
	}
	return nil
}

// Store is the in-memory category catalog. It is safe for concurrent use.
// When a path is set, every mutation is written back to it.
type Store struct {
	mu         sync.RWMutex
	categories []Category
	index      map[string]int
	thresholds Thresholds
	// pinned holds the thresholds written in the catalog file, nil when the
	// file leaves them to the configuration.
	pinned *thresholdsDoc
	path   string
	now        func() time.Time
}

// New builds a store holding categories in the given order.
func New(thresholds Thresholds, categories ...Category) (*Store, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		index:      make(map[string]int),
		thresholds: thresholds,
		now:        time.Now,
	}
	for _, c := range categories {
		if err := s.insert(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewDefault returns a store with the built-in catalog and thresholds.
func NewDefault() *Store {
	s, err := New(DefaultThresholds(), DefaultCategories()...)
	if err != nil {
		panic(fmt.Sprintf("default policy catalog is invalid: %v", err))
	}
	return s
}

// Open loads the catalog file at path, seeding it with the built-in catalog
// when the file does not exist yet. The seeded file carries categories only,
// so thresholds keep following the configuration. Thresholds an operator
// writes into the file override the given ones field by field.
func Open(path string, thresholds Thresholds) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return New(thresholds, DefaultCategories()...)
	}

	doc, found, err := readCatalog(path)
	if err != nil {
		return nil, err
	}
	if !found {
		s, err := New(thresholds, DefaultCategories()...)
		if err != nil {
			return nil, err
		}
		s.path = path
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		slog.Info("Policy catalog seeded", "path", path, "categories", len(s.categories))
		return s, nil
	}

	s, err := New(doc.thresholds(thresholds), doc.Categories...)
	if err != nil {
		return nil, fmt.Errorf("load policy catalog %s: %w", path, err)
	}
	s.path = path
	s.pinned = doc.Thresholds
	if s.pinned != nil {
		slog.Info("Policy catalog overrides configured thresholds", "path", path,
			"min_hours", s.thresholds.MinHours, "max_hours", s.thresholds.MaxHours, "max_followups", s.thresholds.MaxFollowups)
	}
	return s, nil
}

func (s *Store) insert(c Category) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, exists := s.index[c.ID]; exists {
		return &DuplicateCategoryError{ID: c.ID}
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.index[c.ID] = len(s.categories)
	s.categories = append(s.categories, c.clone())
	return nil
}

func (s *Store) Thresholds() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds
}

// Get looks a category up by exact id.
func (s *Store) Get(id string) (Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Category{}, false
	}
	return s.categories[i].clone(), true
}

// All returns every category in catalog order.
func (s *Store) All() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c.clone())
	}
	return out
}

// Active returns the active categories in catalog order.
func (s *Store) Active() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Category
	for _, c := range s.categories {
		if c.Active {
			out = append(out, c.clone())
		}
	}
	return out
}

// Match returns the active categories with a keyword occurring in text.
func (s *Store) Match(text string) []Category {
	var out []Category
	for _, c := range s.Active() {
		if c.Matches(text) {
			out = append(out, c)
		}
	}
	return out
}

// Add appends a category. An existing id fails with *DuplicateCategoryError.
func (s *Store) Add(c Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insert(c); err != nil {
		return err
	}
	return s.persistLocked()
}

// Ensure returns the category with c.ID, appending c when it is absent.
// created reports whether c was appended.
func (s *Store) Ensure(c Category) (Category, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[c.ID]; ok {
		return s.categories[i].clone(), false, nil
	}
	if err := s.insert(c); err != nil {
		return Category{}, false, err
	}
	if err := s.persistLocked(); err != nil {
		return Category{}, false, err
	}
	return s.categories[s.index[c.ID]].clone(), true, nil
}

// Update applies fn to the category with id. The id itself cannot change.
func (s *Store) Update(id string, fn func(*Category)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return tallyErrors.NotFound(fmt.Sprintf("category %q", id))
	}
	c := s.categories[i].clone()
	fn(&c)
	c.ID = id
	if err := c.Validate(); err != nil {
		return err
	}
	c.UpdatedAt = s.now()
	s.categories[i] = c
	return s.persistLocked()
}

// Deactivate hides a category from classification without removing it.
func (s *Store) Deactivate(id string) error {
	return s.Update(id, func(c *Category) { c.Active = false })
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := writeCatalog(s.path, s.pinned, s.categories); err != nil {
		return fmt.Errorf("persist policy catalog: %w", err)
	}
	return nil
}
