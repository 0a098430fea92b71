package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Clark-Hu/post-score/internal/config"
	"github.com/Clark-Hu/post-score/internal/domain"
	"github.com/Clark-Hu/post-score/internal/logging"
	"github.com/Clark-Hu/post-score/internal/metrics"
	"github.com/Clark-Hu/post-score/internal/scoring"
)

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type fakeSweeper struct {
	n     int
	err   error
	calls int
}

func (f *fakeSweeper) Sweep(context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

type fakeScores struct {
	served   float64
	decision scoring.Decision
	err      error
}

func (f fakeScores) GetScore(context.Context, string) (float64, error) {
	return f.served, f.err
}

func (f fakeScores) ResolveScore(context.Context, string) (scoring.Decision, error) {
	return f.decision, f.err
}

func buildTestServer(tb testing.TB, health HealthChecker, sweeper Sweeper) *Server {
	return buildScoreServer(tb, health, sweeper, nil)
}

func buildScoreServer(tb testing.TB, health HealthChecker, sweeper Sweeper, scores ScoreReader) *Server {
	tb.Helper()
	cfg := config.Config{
		Port:             "0",
		AuthToken:        "secret",
		ReadTimeoutSecs:  15,
		WriteTimeoutSecs: 15,
		IdleTimeoutSecs:  60,
	}
	reg := metrics.NewRegistry()
	metrics.New(reg)
	return New(cfg, health, sweeper, scores, metrics.Handler(reg), logging.Discard())
}

func serve(srv *Server, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := buildTestServer(t, fakeHealth{}, &fakeSweeper{})
	rec := serve(srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"ok"}` {
		t.Fatalf("body = %q", got)
	}
}

func TestHealthz_StoreDown(t *testing.T) {
	srv := buildTestServer(t, fakeHealth{err: errors.New("connection refused")}, &fakeSweeper{})
	rec := serve(srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := buildTestServer(t, fakeHealth{}, &fakeSweeper{})
	rec := serve(srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "postscore_aggregation_dirty_buckets") {
		t.Fatalf("metrics output missing service gauges")
	}
}

func TestSweep_AuthRequired(t *testing.T) {
	sweeper := &fakeSweeper{n: 3}
	srv := buildTestServer(t, fakeHealth{}, sweeper)

	for _, auth := range []string{"", "secret", "Bearer wrong", "Basic secret"} {
		rec := serve(srv, http.MethodPost, "/admin/sweep", auth)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("auth %q: status = %d, want 401", auth, rec.Code)
		}
	}
	if sweeper.calls != 0 {
		t.Fatalf("sweeper called %d times without valid token", sweeper.calls)
	}
}

func TestSweep_ReturnsDispatchedCount(t *testing.T) {
	sweeper := &fakeSweeper{n: 3}
	srv := buildTestServer(t, fakeHealth{}, sweeper)

	rec := serve(srv, http.MethodPost, "/admin/sweep", "Bearer secret")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp sweepResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Dispatched != 3 {
		t.Fatalf("dispatched = %d, want 3", resp.Dispatched)
	}
}

func TestSweep_Failure(t *testing.T) {
	srv := buildTestServer(t, fakeHealth{}, &fakeSweeper{err: errors.New("db down")})
	rec := serve(srv, http.MethodPost, "/admin/sweep", "Bearer secret")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "INTERNAL_ERROR" {
		t.Fatalf("code = %q", resp.Code)
	}
}

func TestSweep_MethodNotAllowed(t *testing.T) {
	srv := buildTestServer(t, fakeHealth{}, &fakeSweeper{})
	rec := serve(srv, http.MethodGet, "/admin/sweep", "Bearer secret")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestInspectScore(t *testing.T) {
	scores := fakeScores{
		served:   4.0,
		decision: scoring.Decision{HistoricalAverage: 4.0, TodayAverage: 1.0, Slope: -3.0, Merged: false, Score: 4.0},
	}
	srv := buildScoreServer(t, fakeHealth{}, &fakeSweeper{}, scores)

	rec := serve(srv, http.MethodGet, "/admin/posts/6f1c0d4e-2b8a-4c3e-9d5f-1a2b3c4d5e6f/score", "Bearer secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp scoreResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PostID != "6f1c0d4e-2b8a-4c3e-9d5f-1a2b3c4d5e6f" || resp.Score != 4.0 || resp.Merged || resp.Slope != -3.0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestInspectScore_InvalidPostID(t *testing.T) {
	scores := fakeScores{err: domain.NewValidationError("post_id", "must be a UUID")}
	srv := buildScoreServer(t, fakeHealth{}, &fakeSweeper{}, scores)

	rec := serve(srv, http.MethodGet, "/admin/posts/42/score", "Bearer secret")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestInspectScore_AuthRequired(t *testing.T) {
	srv := buildScoreServer(t, fakeHealth{}, &fakeSweeper{}, fakeScores{})
	rec := serve(srv, http.MethodGet, "/admin/posts/42/score", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
