package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/fingerprint"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type errorResponse struct {
	Error string `json:"error"`
}

// httpStatus maps the engine's error taxonomy onto status codes. Lifecycle
// violations answer 409: the request was well-formed but the case's current
// state forbids it.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRepositoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.ErrorField(err),
			logger.StringField("path", c.Path()),
			logger.StringField("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type evaluateRequest struct {
	AIProbability    float64 `json:"ai_probability" validate:"min=0,max=1"`
	FraudProbability float64 `json:"fraud_probability" validate:"min=0,max=1"`

	// Exactly one content reference is needed: raw content to be hashed
	// here, or a precomputed hex fingerprint from the detection pipeline.
	Content            string `json:"content,omitempty"`
	ContentFingerprint string `json:"content_fingerprint,omitempty"`

	SourceChannel string          `json:"source_channel" validate:"required,oneof=TEXT DOCUMENT IMAGE"`
	ClientID      *string         `json:"client_id,omitempty"`
	Detail        json.RawMessage `json:"result,omitempty"`
}

func (r *evaluateRequest) toAnalysisResult() (*domain.AnalysisResult, error) {
	var fp fingerprint.Fingerprint
	switch {
	case r.ContentFingerprint != "":
		parsed, err := fingerprint.Parse(r.ContentFingerprint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		fp = parsed
	case r.Content != "":
		fp = fingerprint.ComputeString(r.Content)
	default:
		return nil, fmt.Errorf("%w: content or content_fingerprint is required", domain.ErrInvalidInput)
	}

	return &domain.AnalysisResult{
		AIProbability:      r.AIProbability,
		FraudProbability:   r.FraudProbability,
		ContentFingerprint: fp,
		SourceChannel:      domain.SourceChannel(r.SourceChannel),
		ClientID:           r.ClientID,
		Detail:             r.Detail,
	}, nil
}

type evaluateResponse struct {
	domain.RiskAssessment
	CaseID      *uuid.UUID `json:"case_id,omitempty"`
	CaseCreated bool       `json:"case_created,omitempty"`
	AuditID     *int64     `json:"audit_id,omitempty"`
	Degraded    bool       `json:"degraded,omitempty"`
}

func (s *Server) handleEvaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	result, err := req.toAnalysisResult()
	if err != nil {
		return s.fail(c, err)
	}

	outcome, err := s.engine.Evaluate(c.Request().Context(), result)
	if err != nil {
		return s.fail(c, err)
	}

	resp := evaluateResponse{
		RiskAssessment: outcome.Assessment,
		CaseCreated:    outcome.CaseCreated,
		Degraded:       outcome.Degraded(),
	}
	if outcome.Case != nil {
		id := outcome.Case.ID
		resp.CaseID = &id
	}
	if outcome.AuditEntry != nil {
		id := outcome.AuditEntry.ID
		resp.AuditID = &id
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateCase(c echo.Context) error {
	var req domain.CreateCaseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	created, err := s.engine.CreateCase(c.Request().Context(), actorFrom(c), &req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

type caseListResponse struct {
	Cases []*domain.Case `json:"cases"`
	Count int            `json:"count"`
}

func (s *Server) handleListCases(c echo.Context) error {
	limit, offset, err := pageParams(c)
	if err != nil {
		return s.fail(c, err)
	}

	filter := domain.CaseFilter{
		ClientID: c.QueryParam("client_id"),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := domain.CaseStatus(raw)
		if !status.Valid() {
			return s.fail(c, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, raw))
		}
		filter.Status = status
	}
	if raw := c.QueryParam("risk_level"); raw != "" {
		level := domain.RiskLevel(raw)
		if !level.Valid() {
			return s.fail(c, fmt.Errorf("%w: unknown risk_level %q", domain.ErrInvalidInput, raw))
		}
		filter.RiskLevel = level
	}

	cases, err := s.engine.ListCases(c.Request().Context(), actorFrom(c), filter)
	if err != nil {
		return s.fail(c, err)
	}
	if cases == nil {
		cases = []*domain.Case{}
	}
	return c.JSON(http.StatusOK, caseListResponse{Cases: cases, Count: len(cases)})
}

type caseDetailResponse struct {
	*domain.Case
	Notes []*domain.CaseNote `json:"notes"`
}

func (s *Server) handleGetCase(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}

	actor := actorFrom(c)
	found, err := s.engine.GetCase(c.Request().Context(), actor, caseID)
	if err != nil {
		return s.fail(c, err)
	}
	notes, err := s.engine.ListNotes(c.Request().Context(), actor, caseID)
	if err != nil {
		return s.fail(c, err)
	}
	if notes == nil {
		notes = []*domain.CaseNote{}
	}
	return c.JSON(http.StatusOK, caseDetailResponse{Case: found, Notes: notes})
}

type transitionRequest struct {
	Status     string  `json:"status" validate:"required"`
	AssignedTo *string `json:"assigned_to,omitempty"`
}

func (s *Server) handleTransitionCase(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	actor := actorFrom(c)
	updated, err := s.engine.TransitionCase(c.Request().Context(), actor, caseID,
		domain.CaseStatus(req.Status), req.AssignedTo)
	if err != nil {
		return s.fail(c, err)
	}

	notes, err := s.engine.ListNotes(c.Request().Context(), actor, caseID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, caseDetailResponse{Case: updated, Notes: notes})
}

type noteRequest struct {
	Note string `json:"note" validate:"required,min=1,max=5000"`
}

func (s *Server) handleAddNote(c echo.Context) error {
	caseID, err := caseIDParam(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	note, err := s.engine.AddNote(c.Request().Context(), actorFrom(c), caseID, req.Note)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, note)
}

type auditLogResponse struct {
	Logs  []*domain.AuditLogEntry `json:"logs"`
	Count int                     `json:"count"`
}

func (s *Server) handleAuditLogs(c echo.Context) error {
	limit, offset, err := pageParams(c)
	if err != nil {
		return s.fail(c, err)
	}

	filter := domain.AuditFilter{Limit: limit, Offset: offset}
	if raw := c.QueryParam("flagged_only"); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			return s.fail(c, fmt.Errorf("%w: flagged_only must be a boolean", domain.ErrInvalidInput))
		}
		filter.FlaggedOnly = flagged
	}
	if raw := c.QueryParam("source_channel"); raw != "" {
		channel := domain.SourceChannel(raw)
		if !channel.Valid() {
			return s.fail(c, fmt.Errorf("%w: unknown source_channel %q", domain.ErrInvalidInput, raw))
		}
		filter.SourceChannel = channel
	}
	if filter.FromID, err = int64Param(c, "from_id"); err != nil {
		return s.fail(c, err)
	}
	if filter.ToID, err = int64Param(c, "to_id"); err != nil {
		return s.fail(c, err)
	}

	entries, err := s.engine.QueryAudit(c.Request().Context(), actorFrom(c), filter)
	if err != nil {
		return s.fail(c, err)
	}
	if entries == nil {
		entries = []*domain.AuditLogEntry{}
	}
	return c.JSON(http.StatusOK, auditLogResponse{Logs: entries, Count: len(entries)})
}

func (s *Server) handleAnalyticsOverview(c echo.Context) error {
	days := 0
	if raw := c.QueryParam("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return s.fail(c, fmt.Errorf("%w: days must be an integer", domain.ErrInvalidInput))
		}
		days = parsed
	}

	overview, err := s.overview.Overview(c.Request().Context(), days)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, overview)
}

type statsResponse struct {
	Evaluations  int64   `json:"evaluations"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse{
		Evaluations:  s.engine.EvaluationCount(),
		AvgLatencyMs: s.engine.AverageLatencyMs(),
	})
}

func caseIDParam(c echo.Context) (uuid.UUID, error) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed case id %q", domain.ErrInvalidInput, raw)
	}
	return id, nil
}

func pageParams(c echo.Context) (limit, offset int, err error) {
	limit = defaultPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return 0, 0, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidInput)
		}
	}
	if limit < 1 || limit > maxPageSize {
		return 0, 0, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidInput, maxPageSize)
	}

	if raw := c.QueryParam("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			return 0, 0, fmt.Errorf("%w: offset must be an integer", domain.ErrInvalidInput)
		}
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidInput)
	}
	return limit, offset, nil
}

func int64Param(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, name)
	}
	return v, nil
}
