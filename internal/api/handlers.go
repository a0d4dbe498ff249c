package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	tallyErrors "github.com/harunnryd/tally/internal/errors"
	"github.com/harunnryd/tally/internal/logger"
	"github.com/harunnryd/tally/internal/policy"
	"github.com/harunnryd/tally/internal/timesheet"
	"github.com/harunnryd/tally/internal/tracker"
)

type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
}

// DetectRequest bounds default to the policy when absent or null.
type DetectRequest struct {
	MinHours decimal.NullDecimal `json:"min_hours"`
	MaxHours decimal.NullDecimal `json:"max_hours"`
}

type DetectResponse struct {
	Count     int                 `json:"count"`
	Anomalies []timesheet.Anomaly `json:"anomalies"`
}

type CategoryRequest struct {
	ID                     string   `json:"id"`
	Keywords               []string `json:"keywords"`
	Description            string   `json:"description"`
	RequiresApproval       bool     `json:"requires_approval"`
	MaxOccurrencesPerMonth *int     `json:"max_occurrences_per_month,omitempty"`
	RequiresDocumentation  bool     `json:"requires_documentation"`
	Active                 *bool    `json:"active,omitempty"`
}

type componentStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Health answers "ok" or "degraded". Without a daemon behind the handler it
// only reports its own uptime.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.health != nil {
		report := h.health.Report(r.Context())
		components := make(map[string]componentStatus, len(report.Components))
		for _, c := range report.Components {
			entry := componentStatus{Healthy: c.Healthy, Detail: c.Detail}
			if c.Error != nil {
				entry.Error = c.Error.Error()
			}
			components[c.Name] = entry
		}
		if report.Degraded() {
			resp["status"] = "degraded"
		}
		resp["daemon"] = report.Status
		resp["uptime"] = report.Uptime.String()
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListCases supports ?state= and ?contact= filters.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	state := tracker.State(r.URL.Query().Get("state"))
	contact := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("contact")))

	cases := make([]tracker.Case, 0)
	for _, c := range h.eng.Tracker().List() {
		if state != "" && c.State != state {
			continue
		}
		if contact != "" && c.Key.Contact != contact {
			continue
		}
		cases = append(cases, c)
	}
	writeJSON(w, http.StatusOK, cases)
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	key, err := caseKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.eng.Tracker().Get(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) EscalateCase(w http.ResponseWriter, r *http.Request) {
	key, err := caseKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.eng.Escalate(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) FollowupCase(w http.ResponseWriter, r *http.Request) {
	key, err := caseKey(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.eng.SendFollowup(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Detect reports anomalies among pending records. It has no side effects.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	anomalies, err := h.eng.Detect(r.Context(), req.MinHours, req.MaxHours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if anomalies == nil {
		anomalies = []timesheet.Anomaly{}
	}
	writeJSON(w, http.StatusOK, DetectResponse{Count: len(anomalies), Anomalies: anomalies})
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.Sweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) PollerStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requirePoller(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.poller.Status())
}

func (h *Handler) StartPoller(w http.ResponseWriter, r *http.Request) {
	if !h.requirePoller(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, h.poller.Start(h.baseCtx))
}

func (h *Handler) StopPoller(w http.ResponseWriter, r *http.Request) {
	if !h.requirePoller(w, r) {
		return
	}
	h.poller.Stop()
	writeJSON(w, http.StatusOK, h.poller.Status())
}

func (h *Handler) requirePoller(w http.ResponseWriter, r *http.Request) bool {
	if h.poller == nil {
		writeError(w, r, tallyErrors.NotFound("mailbox poller is not configured"))
		return false
	}
	return true
}

func (h *Handler) SchedulerTasks(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, r, tallyErrors.NotFound("scheduler is disabled"))
		return
	}
	tasks, err := h.scheduler.Tasks()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ListCategories returns the full catalog, or only active entries with ?active=true.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	var cats []policy.Category
	if r.URL.Query().Get("active") == "true" {
		cats = h.eng.Policy().Active()
	} else {
		cats = h.eng.Policy().All()
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *Handler) AddCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, tallyErrors.InvalidInput("invalid JSON body: "+err.Error()))
		return
	}

	c := policy.Category{
		ID:                     strings.TrimSpace(req.ID),
		Keywords:               req.Keywords,
		Description:            req.Description,
		RequiresApproval:       req.RequiresApproval,
		MaxOccurrencesPerMonth: req.MaxOccurrencesPerMonth,
		RequiresDocumentation:  req.RequiresDocumentation,
		Active:                 req.Active == nil || *req.Active,
	}
	if err := h.eng.Policy().Add(c); err != nil {
		writeError(w, r, err)
		return
	}
	created, _ := h.eng.Policy().Get(c.ID)
	writeJSON(w, http.StatusCreated, created)
}

func caseKey(r *http.Request) (tracker.Key, error) {
	contact, err := url.PathUnescape(chi.URLParam(r, "contact"))
	if err != nil {
		return tracker.Key{}, tallyErrors.InvalidInput("malformed contact in path")
	}
	return tracker.NewKey(contact, chi.URLParam(r, "date"))
}

// decodeOptional accepts an empty body as the zero value.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return tallyErrors.InvalidInput("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := tallyErrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.From(r.Context()).Error("Request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Category: tallyErrors.Category(err)})
}
