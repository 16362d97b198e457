package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/forecast"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	forecasts *forecast.Service
	rules     *rules.Service
	version   string

	// defaultHorizon is used when a request omits horizonDays.
	defaultHorizon int
}

// NewHandler creates the handler set over deps.
func NewHandler(deps Deps) *Handler {
	horizon := deps.DefaultHorizon
	if horizon == 0 {
		horizon = 30
	}
	return &Handler{
		repo:           deps.Repo,
		cache:          deps.Cache,
		bus:            deps.Bus,
		forecasts:      deps.Forecasts,
		rules:          deps.Rules,
		version:        deps.Version,
		defaultHorizon: horizon,
	}
}

// Metadata is attached to forecast responses.
type Metadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// TrainRequest is the request body for POST /forecast/train.
type TrainRequest struct {
	BranchID string `json:"branchId,omitempty"`
	Force    bool   `json:"force"`
}

// Train handles POST /forecast/train requests.
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TrainRequest
	if !decodeBody(w, r, &req) {
		return
	}

	metrics, err := h.forecasts.Train(ctx, GetTenantID(ctx), req.BranchID, req.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// PredictRequest is the request body for POST /forecast/predict.
type PredictRequest struct {
	BranchID    string `json:"branchId,omitempty"`
	HorizonDays *int   `json:"horizonDays,omitempty"`
	Scenario    string `json:"scenario,omitempty"`
}

// PredictResponse is the response for POST /forecast/predict.
type PredictResponse struct {
	Scenario    string                    `json:"scenario"`
	HorizonDays int                       `json:"horizonDays"`
	Predictions []domain.PredictionResult `json:"predictions"`
	Metadata    Metadata                  `json:"metadata"`
}

// Predict handles POST /forecast/predict requests.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req PredictRequest
	if !decodeBody(w, r, &req) {
		return
	}
	horizon := h.horizon(req.HorizonDays)
	if req.Scenario == "" {
		req.Scenario = domain.Realistic.Name
	}

	days, err := h.forecasts.Predict(ctx, GetTenantID(ctx), req.BranchID, horizon, req.Scenario)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		Scenario:    req.Scenario,
		HorizonDays: horizon,
		Predictions: days,
		Metadata:    h.metadata(r, start),
	})
}

// CompareRequest is the request body for POST /forecast/scenarios.
type CompareRequest struct {
	BranchID    string `json:"branchId,omitempty"`
	HorizonDays *int   `json:"horizonDays,omitempty"`
}

// CompareResponse is the response for POST /forecast/scenarios.
type CompareResponse struct {
	HorizonDays int                               `json:"horizonDays"`
	Scenarios   map[string]domain.ScenarioSummary `json:"scenarios"`
	Metadata    Metadata                          `json:"metadata"`
}

// CompareScenarios handles POST /forecast/scenarios requests.
func (h *Handler) CompareScenarios(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req CompareRequest
	if !decodeBody(w, r, &req) {
		return
	}
	horizon := h.horizon(req.HorizonDays)

	summaries, err := h.forecasts.Compare(ctx, GetTenantID(ctx), req.BranchID, horizon)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CompareResponse{
		HorizonDays: horizon,
		Scenarios:   summaries,
		Metadata:    h.metadata(r, start),
	})
}

// Accuracy handles GET /forecast/accuracy requests.
func (h *Handler) Accuracy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.forecasts.Accuracy(ctx, GetTenantID(ctx), r.URL.Query().Get("branchId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ActualRequest is the request body for POST /forecast/actuals.
type ActualRequest struct {
	BranchID      string   `json:"branchId,omitempty"`
	Date          string   `json:"date"`
	ActualBalance *float64 `json:"actualBalance"`
}

// RecordActual handles POST /forecast/actuals requests.
func (h *Handler) RecordActual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ActualRequest
	if !decodeBody(w, r, &req) {
		return
	}
	day, err := domain.ParseDay(req.Date)
	if err != nil {
		writeError(w, &domain.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD", Value: req.Date})
		return
	}
	if req.ActualBalance == nil {
		writeError(w, &domain.ValidationError{Field: "actualBalance", Reason: "is required"})
		return
	}

	if err := h.forecasts.RecordActual(ctx, GetTenantID(ctx), req.BranchID, day, *req.ActualBalance); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":          day.Format(domain.DateLayout),
		"actualBalance": *req.ActualBalance,
	})
}

// Job types accepted by POST /forecast/jobs.
const (
	JobTrain    = "train"
	JobForecast = "forecast"
)

// JobRequest is the request body for POST /forecast/jobs.
type JobRequest struct {
	Type        string `json:"type"`
	BranchID    string `json:"branchId,omitempty"`
	Force       bool   `json:"force,omitempty"`
	HorizonDays int    `json:"horizonDays,omitempty"`
	Scenario    string `json:"scenario,omitempty"`
}

// EnqueueJob handles POST /forecast/jobs. The job is published to the bus
// and answered with 202; the worker runs it.
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var req JobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var topic string
	var job any
	switch req.Type {
	case JobTrain:
		topic = domain.TopicTrainRequested
		job = domain.TrainJob{TenantID: tenantID, BranchID: req.BranchID, Force: req.Force}
	case JobForecast:
		if req.HorizonDays != 0 {
			if err := forecast.ValidateHorizon(req.HorizonDays); err != nil {
				writeError(w, err)
				return
			}
		}
		if req.Scenario != "" {
			if _, err := domain.ScenarioByName(req.Scenario); err != nil {
				writeError(w, err)
				return
			}
		}
		topic = domain.TopicForecastRequested
		job = domain.ForecastJob{
			TenantID:    tenantID,
			BranchID:    req.BranchID,
			Scenario:    req.Scenario,
			HorizonDays: req.HorizonDays,
		}
	default:
		writeError(w, &domain.ValidationError{Field: "type", Reason: "must be train or forecast", Value: req.Type})
		return
	}

	if err := bus.PublishJSON(ctx, h.bus, domain.GlobalTenantID, topic, job); err != nil {
		slog.Error("failed to enqueue job",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to enqueue job",
		})
		return
	}

	slog.Info("job enqueued",
		"tenant_id", tenantID,
		"topic", topic,
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"type":   req.Type,
		"topic":  topic,
	})
}

// CreateTransaction handles POST /transactions. The ledger feeding the
// forecaster posts its items here; an omitted id is generated.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var tx domain.Transaction
	if !decodeBody(w, r, &tx) {
		return
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Status == "" {
		tx.Status = domain.StatusPending
	}
	if tx.SourceModule == "" {
		tx.SourceModule = domain.SourceManual
	}

	if err := h.repo.SaveTransaction(ctx, tenantID, &tx); err != nil {
		writeError(w, err)
		return
	}
	tx.TenantID = tenantID
	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tx, err := h.repo.GetTransaction(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns the tenant's active rules in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := h.rules.ListActive(ctx, GetTenantID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	if active == nil {
		active = []*domain.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": active,
		"count": len(active),
	})
}

// CreateRule handles POST /rules with a full rule body.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	created, err := h.rules.Create(ctx, GetTenantID(ctx), &rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// MarketplaceDelayRequest is the request body for POST /rules/marketplace-delay.
type MarketplaceDelayRequest struct {
	Marketplace      string   `json:"marketplace"`
	DelayDays        int      `json:"delayDays"`
	AdjustmentFactor *float64 `json:"adjustmentFactor,omitempty"`
}

// CreateMarketplaceDelayRule handles POST /rules/marketplace-delay.
func (h *Handler) CreateMarketplaceDelayRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req MarketplaceDelayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.rules.CreateMarketplaceDelayRule(ctx, GetTenantID(ctx), req.Marketplace, req.DelayDays, req.AdjustmentFactor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// SeasonalRequest is the request body for POST /rules/seasonal.
type SeasonalRequest struct {
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	StartDate        string  `json:"startDate"`
	EndDate          string  `json:"endDate"`
	AdjustmentFactor float64 `json:"adjustmentFactor"`
}

// CreateSeasonalRule handles POST /rules/seasonal.
func (h *Handler) CreateSeasonalRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SeasonalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	start, err := domain.ParseDay(req.StartDate)
	if err != nil {
		writeError(w, &domain.ValidationError{Field: "startDate", Reason: "must be YYYY-MM-DD", Value: req.StartDate})
		return
	}
	end, err := domain.ParseDay(req.EndDate)
	if err != nil {
		writeError(w, &domain.ValidationError{Field: "endDate", Reason: "must be YYYY-MM-DD", Value: req.EndDate})
		return
	}

	created, err := h.rules.CreateSeasonalRule(ctx, GetTenantID(ctx), req.Name, start, end, req.AdjustmentFactor, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// PaymentTermRequest is the request body for POST /rules/payment-term.
type PaymentTermRequest struct {
	TermDays         int     `json:"termDays"`
	AdjustmentFactor float64 `json:"adjustmentFactor"`
}

// CreatePaymentTermRule handles POST /rules/payment-term.
func (h *Handler) CreatePaymentTermRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PaymentTermRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := h.rules.CreatePaymentTermRule(ctx, GetTenantID(ctx), req.TermDays, req.AdjustmentFactor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateRule handles PATCH /rules/{id}. Omitted fields are left unchanged.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var patch domain.RulePatch
	if !decodeBody(w, r, &patch) {
		return
	}
	updated, err := h.rules.Update(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeactivateRule handles DELETE /rules/{id}. The row is kept.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if err := h.rules.Deactivate(ctx, GetTenantID(ctx), ruleID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       ruleID,
		"isActive": false,
	})
}

// EstimateImpact handles POST /rules/impact with a candidate rule body.
// Nothing is stored.
func (h *Handler) EstimateImpact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	impact, err := h.rules.EstimateImpact(ctx, GetTenantID(ctx), &rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, impact)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) horizon(requested *int) int {
	if requested == nil {
		return h.defaultHorizon
	}
	return *requested
}

func (h *Handler) metadata(r *http.Request, start time.Time) Metadata {
	return Metadata{
		TraceID: GetTraceID(r.Context()),
		TotalMs: time.Since(start).Milliseconds(),
		Version: h.version,
	}
}

// decodeBody decodes the JSON request body into v. On failure it writes a
// 400 and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) || errors.Is(err, domain.ErrMalformedCondition) {
			writeError(w, err)
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeError maps service errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, domain.ErrMalformedCondition):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
