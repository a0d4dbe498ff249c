package classifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/logger"
	"github.com/harunnryd/tally/internal/policy"
)

// CategoryAppender gets or creates a catalog category by exact id.
type CategoryAppender interface {
	Ensure(c policy.Category) (policy.Category, bool, error)
}

// Resilient runs the primary classifier under a timeout and degrades to
// Fallback on any failure. Classify never returns an error.
type Resilient struct {
	primary  Classifier
	fallback Classifier
	appender CategoryAppender
	timeout  time.Duration
}

type ResilientOption func(*Resilient)

func WithTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithAppender(a CategoryAppender) ResilientOption {
	return func(r *Resilient) {
		r.appender = a
	}
}

// NewResilient wraps primary. A nil primary always uses the fallback.
func NewResilient(primary Classifier, opts ...ResilientOption) *Resilient {
	timeout, _ := config.DurationOrDefault(config.DefaultClassifierTimeout, config.DefaultClassifierTimeout)
	r := &Resilient{
		primary:  primary,
		fallback: Fallback{},
		timeout:  timeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resilient) Classify(ctx context.Context, text string, catalog []policy.Category) (Verdict, error) {
	log := logger.From(ctx)

	if r.primary != nil {
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		v, err := r.primary.Classify(cctx, text, catalog)
		cancel()
		if err == nil {
			return r.ensureCategory(ctx, v, catalog), nil
		}
		log.Warn("Classification degraded to fallback", "error", err, "timeout", r.timeout)
	}

	v, _ := r.fallback.Classify(ctx, text, catalog)
	return v, nil
}

// ensureCategory appends a category the model named but the catalog lacks.
// Only valid verdicts add categories.
func (r *Resilient) ensureCategory(ctx context.Context, v Verdict, catalog []policy.Category) Verdict {
	if !v.Valid {
		return v
	}
	if _, ok := findCategory(catalog, v.CategoryID); ok || r.appender == nil {
		return v
	}

	keywords := v.SuggestedKeywords
	if len(keywords) == 0 {
		keywords = []string{v.CategoryID}
	}
	description := v.Explanation
	if description == "" {
		description = "Model-identified " + v.CategoryID + " reason"
	}

	c, created, err := r.appender.Ensure(policy.Category{
		ID:               v.CategoryID,
		Keywords:         keywords,
		Description:      description,
		RequiresApproval: v.RequiresApproval,
		Active:           true,
	})
	if err != nil {
		slog.Warn("Could not add model-proposed category", "category", v.CategoryID, "error", err)
		v.CategoryID = fallbackCategory
		v.RequiresApproval = true
		return v
	}
	if created {
		logger.From(ctx).Info("Policy category added from classification", "category", c.ID)
	}
	if c.RequiresApproval {
		v.RequiresApproval = true
	}
	return v
}
