package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/post-score/internal/domain"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sweepResponse struct {
	Dispatched int `json:"dispatched"`
}

type scoreResponse struct {
	PostID            string  `json:"postId"`
	Score             float64 `json:"score"`
	ResolvedScore     float64 `json:"resolvedScore"`
	HistoricalAverage float64 `json:"historicalAverage"`
	TodayAverage      float64 `json:"todayAverage"`
	Slope             float64 `json:"slope"`
	Merged            bool    `json:"merged"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	if err := s.health.HealthCheck(ctx); err != nil {
		s.logger.WarnContext(ctx, "health check failed", "error", err)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid bearer token")
		return
	}
	if s.sweeper == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Aggregation is not running")
		return
	}

	n, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "manual sweep failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Sweep failed")
		return
	}
	s.logger.InfoContext(r.Context(), "manual sweep", "dispatched", n)
	s.respondJSON(w, http.StatusAccepted, sweepResponse{Dispatched: n})
}

// handleInspectScore reports the served score next to a fresh resolution,
// which differ while a cache entry is stale or buckets are dirty.
func (s *Server) handleInspectScore(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid bearer token")
		return
	}
	if s.scores == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Scores are not available")
		return
	}

	postID := chi.URLParam(r, "postID")
	served, err := s.scores.GetScore(r.Context(), postID)
	if err != nil {
		s.respondScoreError(w, r, err)
		return
	}
	d, err := s.scores.ResolveScore(r.Context(), postID)
	if err != nil {
		s.respondScoreError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, scoreResponse{
		PostID:            postID,
		Score:             served,
		ResolvedScore:     d.Score,
		HistoricalAverage: d.HistoricalAverage,
		TodayAverage:      d.TodayAverage,
		Slope:             d.Slope,
		Merged:            d.Merged,
	})
}

func (s *Server) respondScoreError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", verr.Error())
		return
	}
	s.logger.ErrorContext(r.Context(), "score lookup failed", "error", err)
	s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Score lookup failed")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) verifyBearer(header string) bool {
	if header == "" || s.cfg.AuthToken == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token == s.cfg.AuthToken
}
