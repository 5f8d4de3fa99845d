package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/HerbHall/personagen/internal/health"
	"github.com/HerbHall/personagen/internal/ledger"
	"github.com/HerbHall/personagen/internal/orchestrator"
	"github.com/HerbHall/personagen/internal/version"
	"github.com/HerbHall/personagen/pkg/llm"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   map[string]string `json:"version"`
	Providers health.Summary    `json:"providers"`
}

// ProviderHealthResponse is the response for GET /api/v1/providers/health.
type ProviderHealthResponse struct {
	Summary   health.Summary                `json:"summary"`
	Providers []health.ProviderHealthReport `json:"providers"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleHealth reports "ok" while any provider (the fallback included) can
// serve, and the provider summary status alongside.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "personagen",
		Version:   version.Map(),
		Providers: s.gen.HealthSummary(),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req llm.GenerationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error(), r.URL.Path)
		return
	}

	resp, err := s.gen.GenerateResponse(r.Context(), &req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case llm.IsInvalidRequest(err):
		BadRequest(w, err.Error(), r.URL.Path)
	case errors.Is(err, orchestrator.ErrNoHealthyProviders), errors.Is(err, orchestrator.ErrAllProvidersFailed):
		s.logger.Warn("generation unavailable",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		Unavailable(w, err.Error(), r.URL.Path)
	default:
		s.logger.Error("generation failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		InternalError(w, "generation failed", r.URL.Path)
	}
}

// handleProviderHealth returns the cached reports, or probes every provider
// first when refresh=true.
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	var reports []health.ProviderHealthReport
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		reports = s.gen.CheckHealth(r.Context())
	} else {
		reports = s.gen.ProviderHealthReports()
	}
	writeJSON(w, http.StatusOK, ProviderHealthResponse{
		Summary:   s.gen.HealthSummary(),
		Providers: reports,
	})
}

func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.gen.ResetCircuit(name); err != nil {
		if errors.Is(err, health.ErrUnknownProvider) {
			NotFound(w, "unknown provider "+strconv.Quote(name), r.URL.Path)
			return
		}
		InternalError(w, err.Error(), r.URL.Path)
		return
	}
	s.logger.Info("circuit reset", zap.String("provider", name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gen.Metrics())
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	s.gen.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidateProvider(w http.ResponseWriter, r *http.Request) {
	n := s.gen.InvalidateProvider(r.PathValue("name"))
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// handleAttempts lists recent attempts, or the attempts of one request when
// request_id is given.
func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.attempts == nil {
		NotFound(w, "attempt ledger is disabled", r.URL.Path)
		return
	}
	q := r.URL.Query()

	var (
		out []ledger.Attempt
		err error
	)
	if id := q.Get("request_id"); id != "" {
		out, err = s.attempts.ForRequest(r.Context(), id)
	} else {
		limit := 50
		if v := q.Get("limit"); v != "" {
			n, perr := strconv.Atoi(v)
			if perr != nil || n < 1 || n > 1000 {
				BadRequest(w, "limit must be between 1 and 1000", r.URL.Path)
				return
			}
			limit = n
		}
		out, err = s.attempts.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("query attempts", zap.Error(err))
		InternalError(w, "failed to query attempts", r.URL.Path)
		return
	}
	if out == nil {
		out = []ledger.Attempt{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAttemptSummary(w http.ResponseWriter, r *http.Request) {
	if s.attempts == nil {
		NotFound(w, "attempt ledger is disabled", r.URL.Path)
		return
	}
	out, err := s.attempts.ProviderSummary(r.Context())
	if err != nil {
		s.logger.Error("query attempt summary", zap.Error(err))
		InternalError(w, "failed to query attempt summary", r.URL.Path)
		return
	}
	if out == nil {
		out = []ledger.ProviderStats{}
	}
	writeJSON(w, http.StatusOK, out)
}
