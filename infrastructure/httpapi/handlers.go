// Package httpapi is the thin HTTP layer around the evaluator and the
// metering engine. Handlers decode, delegate, and encode; every
// business rule lives behind them.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evanmarch/metergate/infrastructure/metering"
	"github.com/evanmarch/metergate/infrastructure/taskmeter"
	"github.com/evanmarch/metergate/internal/application"
	"github.com/evanmarch/metergate/internal/domain"
)

// Handler wires the HTTP endpoints to the core components.
type Handler struct {
	evaluator *application.Evaluator
	engine    *metering.Engine
	meter     *taskmeter.Meter
	logger    *slog.Logger
}

// NewHandler constructs the HTTP handler with its dependencies.
func NewHandler(evaluator *application.Evaluator, engine *metering.Engine, meter *taskmeter.Meter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{evaluator: evaluator, engine: engine, meter: meter, logger: logger}
}

// Router mounts all endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/evaluate", h.handleEvaluate)
	r.Get("/audit", h.handleAuditList)
	r.Get("/audit/{correlationID}", h.handleAuditGet)

	r.Post("/meter/record", h.handleRecord)
	r.Post("/meter/aggregate", h.handleAggregate)
	r.Get("/meter/pending", h.handlePending)
	r.Get("/meter/anomalies", h.handleAnomalies)

	r.Post("/usage/tasks", h.handleUsageRecord)
	r.Get("/usage/tasks", h.handleUsageTasks)
	r.Get("/usage/summary", h.handleUsageSummary)

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// evaluatePayload is the wire shape of an evaluation request.
type evaluatePayload struct {
	TaskID          string          `json:"task_id"`
	AgentID         string          `json:"agent_id"`
	SubscriptionRef string          `json:"subscription_ref"`
	CorrelationID   string          `json:"correlation_id"`
	Evidence        domain.Evidence `json:"evidence"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var payload evaluatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"task_id", payload.TaskID},
		{"agent_id", payload.AgentID},
		{"subscription_ref", payload.SubscriptionRef},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "missing fields: "+strings.Join(missing, ", "))
		return
	}

	result, err := h.evaluator.Evaluate(r.Context(), domain.EvaluationRequest{
		TaskID:          payload.TaskID,
		AgentID:         payload.AgentID,
		SubscriptionRef: payload.SubscriptionRef,
		CorrelationID:   payload.CorrelationID,
		Evidence:        payload.Evidence,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateCorrelationID) {
			writeError(w, http.StatusConflict, "correlation id already used")
			return
		}
		h.logger.ErrorContext(r.Context(), "evaluation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationID")
	record, err := h.evaluator.AuditStore().Get(r.Context(), correlationID)
	if err != nil {
		if errors.Is(err, domain.ErrAuditRecordNotFound) {
			writeError(w, http.StatusNotFound, "audit record not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "audit lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "audit lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleAuditList(w http.ResponseWriter, r *http.Request) {
	records, err := h.evaluator.AuditStore().List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "audit list failed")
		return
	}

	if sub := r.URL.Query().Get("subscription_ref"); sub != "" {
		filtered := records[:0:0]
		for _, rec := range records {
			if rec.SubscriptionRef == sub {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// recordPayload is the wire shape of a task-completion recording.
type recordPayload struct {
	SubscriptionRef string `json:"subscription_ref"`
	TaskID          string `json:"task_id"`
	Timestamp       string `json:"timestamp"`
	CorrelationID   string `json:"correlation_id"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var payload recordPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if payload.SubscriptionRef == "" || payload.TaskID == "" {
		writeError(w, http.StatusBadRequest, "subscription_ref and task_id are required")
		return
	}

	var ts time.Time
	if payload.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, payload.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timestamp")
			return
		}
		ts = parsed
	}

	recorded := h.engine.RecordTaskCompleted(r.Context(), payload.SubscriptionRef, payload.TaskID, ts, payload.CorrelationID)
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": recorded})
}

// aggregatePayload is the wire shape of an aggregation trigger. An
// empty hour window aggregates every unsubmitted window.
type aggregatePayload struct {
	HourWindow    string `json:"hour_window"`
	CorrelationID string `json:"correlation_id"`
}

func (h *Handler) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var payload aggregatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var (
		events []domain.UsageEvent
		err    error
	)
	if payload.HourWindow == "" {
		events, err = h.engine.AggregateAllPending(r.Context(), payload.CorrelationID)
	} else {
		events, err = h.engine.AggregateAndSubmit(r.Context(), payload.HourWindow, payload.CorrelationID)
	}

	if err != nil {
		if errors.Is(err, domain.ErrMalformedHourWindow) {
			writeError(w, http.StatusBadRequest, "malformed hour window")
			return
		}
		var submissionErr *domain.SubmissionError
		if errors.As(err, &submissionErr) {
			// Partial emission: report what went through alongside the
			// failure so callers can retry the rest.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":  submissionErr.Error(),
				"events": events,
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "aggregation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "aggregation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	sub := r.URL.Query().Get("subscription_ref")
	window := r.URL.Query().Get("hour_window")
	if sub == "" || window == "" {
		writeError(w, http.StatusBadRequest, "subscription_ref and hour_window are required")
		return
	}

	quantity, err := h.engine.PendingQuantity(sub, window)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed hour window")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"quantity": quantity})
}

// usagePayload is the wire shape of a task usage recording.
type usagePayload struct {
	TaskID       string         `json:"task_id"`
	AgentID      string         `json:"agent_id"`
	TaskType     string         `json:"task_type"`
	StartTime    string         `json:"start_time"`
	EndTime      string         `json:"end_time"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	Metadata     map[string]any `json:"metadata"`
}

func (h *Handler) handleUsageRecord(w http.ResponseWriter, r *http.Request) {
	var payload usagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if payload.TaskID == "" || payload.AgentID == "" {
		writeError(w, http.StatusBadRequest, "task_id and agent_id are required")
		return
	}
	if payload.InputTokens < 0 || payload.OutputTokens < 0 {
		writeError(w, http.StatusBadRequest, "token counts cannot be negative")
		return
	}

	rec := taskmeter.Record{
		TaskID:       payload.TaskID,
		AgentID:      payload.AgentID,
		TaskType:     payload.TaskType,
		InputTokens:  payload.InputTokens,
		OutputTokens: payload.OutputTokens,
		Metadata:     payload.Metadata,
	}
	for _, field := range []struct {
		value string
		dst   *time.Time
	}{
		{payload.StartTime, &rec.StartTime},
		{payload.EndTime, &rec.EndTime},
	} {
		if field.value == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, field.value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid timestamp")
			return
		}
		*field.dst = parsed
	}

	writeJSON(w, http.StatusOK, h.meter.Record(rec))
}

func (h *Handler) handleUsageTasks(w http.ResponseWriter, r *http.Request) {
	records := h.meter.Records()
	if agent := r.URL.Query().Get("agent_id"); agent != "" {
		records = h.meter.RecordsForAgent(agent)
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.meter.Summary())
}

func (h *Handler) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": h.engine.Anomalies()})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
