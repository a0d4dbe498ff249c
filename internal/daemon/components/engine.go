package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/tally/internal/classifier"
	"github.com/harunnryd/tally/internal/config"
	"github.com/harunnryd/tally/internal/daemon"
	"github.com/harunnryd/tally/internal/delivery"
	"github.com/harunnryd/tally/internal/model"
	"github.com/harunnryd/tally/internal/notify"
	"github.com/harunnryd/tally/internal/policy"
	"github.com/harunnryd/tally/internal/records"
	"github.com/harunnryd/tally/internal/tracker"
	"github.com/harunnryd/tally/internal/workflow"
)

// EngineComponent assembles the engagement workflow: policy, cases,
// classifier, outbound mail and alerts over the records store.
type EngineComponent struct {
	cfg        *config.Config
	recordComp *RecordsComponent
	engagement *workflow.Engagement
	mu         sync.RWMutex
}

func NewEngineComponent(cfg *config.Config, recordComp *RecordsComponent) *EngineComponent {
	return &EngineComponent{cfg: cfg, recordComp: recordComp}
}

func (e *EngineComponent) Name() string {
	return "engine"
}

func (e *EngineComponent) Dependencies() []string {
	return []string{"records"}
}

func (e *EngineComponent) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recordComp == nil || e.recordComp.Store() == nil {
		return fmt.Errorf("records store not initialized")
	}
	eng, err := BuildEngagement(e.cfg, e.recordComp.Store())
	if err != nil {
		return err
	}
	e.engagement = eng
	slog.Info("Engagement engine initialized", "component", e.Name())
	return nil
}

func (e *EngineComponent) Start(ctx context.Context) error {
	return nil
}

func (e *EngineComponent) Stop(ctx context.Context) error {
	return nil
}

func (e *EngineComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	eng := e.Engagement()
	if eng == nil {
		return healthOf(e.Name(), errNotInitialized), nil
	}
	open := 0
	for state, n := range eng.Tracker().CountByState() {
		if !state.Terminal() {
			open += n
		}
	}
	return withDetail(healthOf(e.Name(), nil), "%d open cases", open), nil
}

func (e *EngineComponent) Engagement() *workflow.Engagement {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.engagement
}

// BuildEngagement wires the workflow from configuration. The CLI uses it
// directly for one-shot runs outside the daemon.
func BuildEngagement(cfg *config.Config, store records.Store) (*workflow.Engagement, error) {
	thresholds, err := policy.ThresholdsFrom(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy thresholds: %w", err)
	}
	pol, err := policy.Open(cfg.Policy.CatalogPath, thresholds)
	if err != nil {
		return nil, fmt.Errorf("open policy catalog: %w", err)
	}

	// the catalog may pin thresholds over the configured ones
	cases, err := tracker.New(tracker.Options{
		MaxFollowups: pol.Thresholds().MaxFollowups,
		SnapshotPath: cfg.Tracker.SnapshotPath,
	})
	if err != nil {
		return nil, fmt.Errorf("open case tracker: %w", err)
	}

	cls, err := BuildClassifier(cfg.Classifier, cfg.Models, pol)
	if err != nil {
		return nil, err
	}

	sender, err := BuildSender(cfg.Delivery)
	if err != nil {
		return nil, err
	}

	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("configure notifiers: %w", err)
	}

	return workflow.New(store, cases, pol, cls, sender, notifier, workflow.Options{
		AutoEscalate: cfg.Workflow.AutoEscalate,
		Signature:    cfg.Workflow.CompanyName,
		ReportTo:     cfg.Workflow.ReportTo,
	}), nil
}

// BuildClassifier returns a classifier that never fails: the model path
// when enabled and reachable, the keyword fallback otherwise.
func BuildClassifier(cfg config.ClassifierConfig, models config.ModelsConfig, pol *policy.Store) (classifier.Classifier, error) {
	timeout, err := config.DurationOrDefault(cfg.Timeout, config.DefaultClassifierTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse classifier timeout: %w", err)
	}

	var primary classifier.Classifier
	if cfg.Enabled {
		router, err := model.NewModelRouter(models)
		if err != nil {
			slog.Warn("Model router unavailable, using keyword classifier", "error", err)
		} else {
			primary = classifier.NewModel(model.NewTextService(router, cfg.Model))
		}
	}

	return classifier.NewResilient(primary,
		classifier.WithTimeout(timeout),
		classifier.WithAppender(pol),
	), nil
}

func BuildSender(cfg config.DeliveryConfig) (delivery.Sender, error) {
	if !cfg.Enabled {
		return delivery.Disabled{}, nil
	}
	smtp, err := delivery.NewSMTP(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure smtp: %w", err)
	}
	return delivery.Redirect(smtp, cfg.RedirectTo), nil
}
