// Package api is the operator HTTP surface: case inspection, manual
// follow-ups and escalations, on-demand detection and poller control.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/harunnryd/tally/internal/daemon"
	"github.com/harunnryd/tally/internal/logger"
	"github.com/harunnryd/tally/internal/poller"
	"github.com/harunnryd/tally/internal/scheduler"
	"github.com/harunnryd/tally/internal/workflow"
)

// PollerControl is the subset of the mailbox poller the API drives.
type PollerControl interface {
	Start(ctx context.Context) poller.Status
	Stop()
	Status() poller.Status
}

type TaskLister interface {
	Tasks() ([]scheduler.Task, error)
}

type HealthReporter interface {
	Report(ctx context.Context) daemon.Report
}

type Options struct {
	Engagement *workflow.Engagement
	// Poller and Scheduler are nil when the feature is disabled.
	Poller    PollerControl
	Scheduler TaskLister
	Health    HealthReporter
	// BaseContext outlives requests; the poller loop runs under it.
	BaseContext context.Context
	CORSOrigins []string
}

type Handler struct {
	eng       *workflow.Engagement
	poller    PollerControl
	scheduler TaskLister
	health    HealthReporter
	baseCtx   context.Context
	started   time.Time
}

func NewHandler(opts Options) *Handler {
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Handler{
		eng:       opts.Engagement,
		poller:    opts.Poller,
		scheduler: opts.Scheduler,
		health:    opts.Health,
		baseCtx:   base,
		started:   time.Now(),
	}
}

// NewRouter wires the handler behind the standard middleware stack.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Get("/{contact}/{date}", h.GetCase)
			r.Post("/{contact}/{date}/escalate", h.EscalateCase)
			r.Post("/{contact}/{date}/followup", h.FollowupCase)
		})

		r.Post("/detect", h.Detect)
		r.Post("/sweep", h.Sweep)

		r.Route("/poller", func(r chi.Router) {
			r.Get("/", h.PollerStatus)
			r.Post("/start", h.StartPoller)
			r.Post("/stop", h.StopPoller)
		})

		r.Get("/scheduler", h.SchedulerTasks)

		r.Route("/policy", func(r chi.Router) {
			r.Get("/categories", h.ListCategories)
			r.Post("/categories", h.AddCategory)
		})
	})

	return r
}

func New(opts Options) http.Handler {
	return NewRouter(NewHandler(opts), opts.CORSOrigins)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logger.WithTraceID(ctx, id)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.From(ctx).Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
