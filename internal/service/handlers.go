package service

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/autofill"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// Response is the envelope of every non value endpoint.
type Response struct {
	Status string      `json:"status"` // "success", "error", "accepted"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// RunRequest triggers a flow.
type RunRequest struct {
	URL string `json:"url"`
}

// Handlers serves the value source and run endpoints.
type Handlers struct {
	log     *zap.Logger
	source  autofill.ValueSource
	runs    *RunService
	store   RunStore
	metrics *observability.Metrics
}

// NewHandlers creates the handlers. runs, runStore and metrics may be nil;
// their endpoints then answer 503 or 404.
func NewHandlers(logger *zap.Logger, source autofill.ValueSource, runs *RunService, runStore RunStore, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		log:     logger.Named("handlers"),
		source:  source,
		runs:    runs,
		store:   runStore,
		metrics: metrics,
	}
}

// RegisterRoutes mounts every endpoint on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Handle("/metrics", h.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/fill-data", h.HandleFillData)
		r.Post("/correction-data", h.HandleCorrectionData)

		r.Post("/runs", h.HandleStartRun)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{runID}", h.HandleGetRun)
		r.Get("/history", h.HandleHistory)
	})
}

func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleFillData answers a value request. The answer is always a success;
// generator failures are absorbed by the value source.
func (h *Handlers) HandleFillData(w http.ResponseWriter, r *http.Request) {
	var req schemas.FillRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.log.Debug("Value request.", zap.Int("fields", len(req.Fields)))
	h.writeJSON(w, http.StatusOK, schemas.FillResponse{
		Status:   schemas.StatusSuccess,
		FillData: h.source.Values(r.Context(), req.Fields),
	})
}

// HandleCorrectionData answers a correction request with the same shape.
func (h *Handlers) HandleCorrectionData(w http.ResponseWriter, r *http.Request) {
	var req schemas.CorrectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.log.Debug("Correction request.", zap.Int("fields", len(req.Fields)), zap.Int("errors", len(req.Errors)))
	h.writeJSON(w, http.StatusOK, schemas.FillResponse{
		Status:   schemas.StatusSuccess,
		FillData: h.source.Corrections(r.Context(), req.Fields, req.Errors),
	})
}

func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Runs are not available on this host.")
		return
	}
	var req RunRequest
	if !h.decode(w, r, &req) {
		return
	}
	report, err := h.runs.StartRun(req.URL)
	switch {
	case errors.Is(err, ErrInvalidURL):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrShuttingDown):
		h.respondWithError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		h.respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start run: %v", err))
	default:
		h.respondWithStatus(w, http.StatusAccepted, "accepted", report)
	}
}

func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondWithSuccess(w, http.StatusOK, []schemas.FlowReport{})
		return
	}
	h.respondWithSuccess(w, http.StatusOK, h.runs.Registry().List())
}

// HandleGetRun looks in the in-memory registry first, then in the store.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if h.runs != nil {
		if report, ok := h.runs.Registry().Get(runID); ok {
			h.respondWithSuccess(w, http.StatusOK, report)
			return
		}
	}
	if h.store != nil {
		report, err := h.store.GetReport(r.Context(), runID)
		if err == nil {
			h.respondWithSuccess(w, http.StatusOK, report)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error("Failed to load run.", zap.String("run_id", runID), zap.Error(err))
			h.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving run.")
			return
		}
	}
	h.respondWithError(w, http.StatusNotFound, "Run ID not found.")
}

// HandleHistory lists persisted runs. ?limit= caps the result, default 50.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Run history is unavailable (database not configured).")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.respondWithError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}
	reports, err := h.store.ListReports(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to list runs.", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving run history.")
		return
	}
	if reports == nil {
		reports = []schemas.FlowReport{}
	}
	h.respondWithSuccess(w, http.StatusOK, reports)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, Response{Status: "error", Error: message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, "success", data)
}

func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, status string, data interface{}) {
	h.writeJSON(w, statusCode, Response{Status: status, Data: data})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
