package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coolio-hub/guild-activity-hub/internal/application/query"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/report"
	"github.com/coolio-hub/guild-activity-hub/internal/domain/shared"
	"github.com/coolio-hub/guild-activity-hub/internal/interface/http/handlers"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "Guild Activity Hub API",
		"version":     "v1",
		"description": "Worker status API for the guild activity tracker",
		"endpoints": map[string]string{
			"health":         "/health",
			"report":         "/api/v1/report",
			"active_list":    "/api/v1/report/active",
			"classification": "/api/v1/classification",
			"promotions":     "/api/v1/promotions",
			"runs":           "/api/v1/runs",
		},
	}

	writeJSON(w, http.StatusOK, info)
}

// handleHealth serves the full health report. Without a configured checker
// it degrades to a plain liveness answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checker := s.deps.HealthChecker
	if checker == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"uptime":  s.Uptime().String(),
			"version": "v1",
		})
		return
	}

	status := checker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleReady is the Kubernetes readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if checker := s.deps.HealthChecker; checker != nil {
		if status := checker.Check(r.Context()); !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive is the Kubernetes liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetReport handles GET /api/v1/report
//
// Query parameters:
//   - format: "json" (default) or "text" for the rendered officer report
//   - max_age: reject reports older than this duration ("24h", "90m")
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetActivityReportHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Report handler not configured")
		return
	}

	q := query.GetActivityReportQuery{
		MaxAge: getQueryParamDuration(r, "max_age", 0),
	}

	result, err := s.deps.GetActivityReportHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, err, "get report")
		return
	}

	if strings.EqualFold(getQueryParam(r, "format", "json"), "text") {
		writeText(w, http.StatusOK, s.reportPresenter.Render(result.Report))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetActiveList handles GET /api/v1/report/active
//
// Returns the Active section identities as plain text, one per line — the
// same shape as the active-list output file, so officers can diff the two.
func (s *Server) handleGetActiveList(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetActivityReportHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Report handler not configured")
		return
	}

	result, err := s.deps.GetActivityReportHandler.Handle(r.Context(), query.GetActivityReportQuery{})
	if err != nil {
		s.writeQueryError(w, err, "get active list")
		return
	}

	var sb strings.Builder
	for _, id := range result.Report.ActiveIdentities() {
		sb.WriteString(string(id))
		sb.WriteByte('\n')
	}

	writeText(w, http.StatusOK, sb.String())
}

// handleGetClassification handles GET /api/v1/classification
//
// Returns the verdict lists of a run (latest by default).
func (s *Server) handleGetClassification(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetRunDetailHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Run detail handler not configured")
		return
	}

	q := query.GetRunDetailQuery{
		RunID:           getQueryParam(r, "run_id", ""),
		IncludeVerdicts: true,
	}

	result, err := s.deps.GetRunDetailHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, err, "get classification")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   result.Run.RunID,
		"status":   result.Run.Status,
		"verdicts": result.Verdicts,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROMOTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetPromotions handles GET /api/v1/promotions
func (s *Server) handleGetPromotions(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetPromotionCandidatesHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Promotions handler not configured")
		return
	}

	q := query.GetPromotionCandidatesQuery{
		RunID: getQueryParam(r, "run_id", ""),
	}

	result, err := s.deps.GetPromotionCandidatesHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, err, "get promotions")
		return
	}

	meta := &ResponseMeta{
		TotalCount: result.TotalCandidates,
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, meta)
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetRuns handles GET /api/v1/runs
func (s *Server) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetRunHistoryHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Run history handler not configured")
		return
	}

	q := query.GetRunHistoryQuery{
		Limit: getQueryParamInt(r, "limit", 20),
	}

	result, err := s.deps.GetRunHistoryHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, err, "get run history")
		return
	}

	meta := &ResponseMeta{
		TotalCount: len(result.Runs),
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, meta)
}

// handleGetRun handles GET /api/v1/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Run ID is required")
		return
	}

	if s.deps.GetRunDetailHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Run detail handler not configured")
		return
	}

	q := query.GetRunDetailQuery{
		RunID:           runID,
		IncludeVerdicts: getQueryParamBool(r, "include_verdicts"),
	}

	result, err := s.deps.GetRunDetailHandler.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, err, "get run detail")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// MANUAL TRIGGER HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// TriggerRunRequest is the POST /api/v1/runs payload.
type TriggerRunRequest struct {
	// Offline replays the archive without calling the Discord API.
	Offline bool `json:"offline,omitempty"`

	// MaxMessages / MaxDays override the retrieval bounds (0 = default).
	MaxMessages int `json:"max_messages,omitempty"`
	MaxDays     int `json:"max_days,omitempty"`
}

// handleTriggerRun handles POST /api/v1/runs
//
// The route is only registered when manual triggers are enabled and an
// admin password hash is configured; AdminAuth has already verified the
// caller by the time this runs. The run executes in the background and
// the endpoint returns 202 with a correlation ID for tracing.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.TriggerRunner == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Trigger runner not configured")
		return
	}

	var req TriggerRunRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}
	defer r.Body.Close()

	// Empty body means "run with defaults"
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
			return
		}
	}

	if req.MaxMessages < 0 || req.MaxDays < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Retrieval bounds cannot be negative")
		return
	}

	receipt, err := s.deps.TriggerRunner.TriggerRun(r.Context(), handlers.TriggerRequest{
		Offline:     req.Offline,
		MaxMessages: req.MaxMessages,
		MaxDays:     req.MaxDays,
	})
	if err != nil {
		if errors.Is(err, handlers.ErrTriggerBusy) {
			writeJSONError(w, http.StatusConflict, "run_in_progress", "A tracking run is already in progress")
			return
		}
		s.logger.Error("manual trigger failed", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to start tracking run")
		return
	}

	s.logger.Info("manual tracking run accepted",
		logger.String("correlation_id", receipt.CorrelationID),
		logger.String("ip", getClientIP(r)),
		logger.Bool("offline", req.Offline),
	)

	writeJSON(w, http.StatusAccepted, receipt)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeQueryError maps application errors onto HTTP status codes.
func (s *Server) writeQueryError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, report.ErrNoReport):
		writeJSONError(w, http.StatusNotFound, "no_report", "No activity report available yet")
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", "Requested resource not found")
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		s.logger.Error("query failed", logger.String("operation", operation), logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Query failed")
	}
}
