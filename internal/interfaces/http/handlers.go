package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/factorrun/internal/attribution"
	"github.com/sawpanic/factorrun/internal/persistence"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AttributionResponse is the body of POST /v1/attribution
type AttributionResponse struct {
	RunID         string                         `json:"run_id"`
	Fingerprint   string                         `json:"fingerprint"`
	Coefficients  map[string]float64             `json:"coefficients"`
	Diagnostics   attribution.Diagnostics        `json:"diagnostics"`
	Summary       attribution.Summary            `json:"summary"`
	Contributions *attribution.ContributionTable `json:"contributions"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: requestID(r),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// attribute handles POST /v1/attribution with an aligned CSV body
func (s *Server) attribute(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return
		}
		writeError(w, r, http.StatusBadRequest, "unreadable_body", err.Error())
		return
	}

	ds, err := s.deps.Reader.ReadAligned(bytes.NewReader(body))
	if err != nil {
		var shapeErr *attribution.ShapeMismatchError
		if errors.As(err, &shapeErr) {
			writeError(w, r, http.StatusUnprocessableEntity, "shape_mismatch", err.Error())
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid_csv", err.Error())
		return
	}

	// Results depend on the engine settings as well as the data
	cacheKey := ds.Fingerprint() + ":" + s.deps.Engine.ConfigKey()
	if cached, ok := s.deps.Cache.Get(r.Context(), cacheKey); ok {
		s.deps.Metrics.RecordCacheLookup(true)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(http.StatusOK)
		w.Write(cached)
		return
	}
	s.deps.Metrics.RecordCacheLookup(false)

	res, err := s.deps.Engine.Run(r.Context(), ds)
	if err != nil {
		var shapeErr *attribution.ShapeMismatchError
		var singular *attribution.SingularMatrixError
		switch {
		case errors.As(err, &shapeErr):
			writeError(w, r, http.StatusUnprocessableEntity, "shape_mismatch", err.Error())
		case errors.As(err, &singular):
			writeError(w, r, http.StatusUnprocessableEntity, "singular_matrix", err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, r, http.StatusGatewayTimeout, "timeout", err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "attribution_failed", err.Error())
		}
		return
	}

	payload, err := json.Marshal(AttributionResponse{
		RunID:         res.RunID,
		Fingerprint:   res.Fingerprint,
		Coefficients:  res.Model.Coefficients(),
		Diagnostics:   res.Model.Diagnostics(),
		Summary:       res.Summary,
		Contributions: res.Contributions,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "encoding_failed", err.Error())
		return
	}

	s.deps.Cache.Set(r.Context(), cacheKey, payload)
	if s.deps.Runs != nil {
		if err := s.deps.Runs.Save(r.Context(), persistence.NewRecord(res)); err != nil {
			log.Warn().Err(err).Str("run_id", res.RunID).Msg("Failed to persist attribution run")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// getRun handles GET /v1/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "persistence_disabled", "Run persistence is not enabled")
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := s.deps.Runs.Get(r.Context(), id)
	switch {
	case errors.Is(err, persistence.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "persistence_unavailable", err.Error())
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "lookup_failed", err.Error())
	case rec == nil:
		writeError(w, r, http.StatusNotFound, "run_not_found", "No run with id "+id)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// recentRuns handles GET /v1/runs?limit=N
func (s *Server) recentRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "persistence_disabled", "Run persistence is not enabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	recs, err := s.deps.Runs.Recent(r.Context(), limit)
	switch {
	case errors.Is(err, persistence.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "persistence_unavailable", err.Error())
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "lookup_failed", err.Error())
	default:
		if recs == nil {
			recs = []persistence.RunRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": recs})
	}
}
