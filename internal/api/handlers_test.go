package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftwatch/metric-sentinel/internal/config"
	"github.com/driftwatch/metric-sentinel/internal/models"
	"github.com/driftwatch/metric-sentinel/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	mu      sync.Mutex
	started chan services.RunOptions
	kinds   []string
	report  models.AnomalyReport
	err     error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan services.RunOptions, 4)}
}

func (f *fakeRunner) RunAnomalyCheck(_ context.Context, opts services.RunOptions) (models.AnomalyReport, error) {
	f.mu.Lock()
	f.kinds = append(f.kinds, "anomaly")
	f.mu.Unlock()
	f.started <- opts
	return f.report, nil
}

func (f *fakeRunner) RunCurrentCheck(_ context.Context, opts services.RunOptions) (models.AnomalyReport, error) {
	f.mu.Lock()
	f.kinds = append(f.kinds, "current")
	f.mu.Unlock()
	f.started <- opts
	return f.report, nil
}

func (f *fakeRunner) LatestReport(_ context.Context) (models.AnomalyReport, error) {
	return f.report, f.err
}

func (f *fakeRunner) LatencyP95() time.Duration { return 1200 * time.Millisecond }

func newTestRouter(runner ReportRunner, apiKey string) *gin.Engine {
	return NewRouter(config.ServerConfig{APIKey: apiKey}, NewHandlers(nil, runner))
}

func awaitRun(t *testing.T, runner *fakeRunner) services.RunOptions {
	t.Helper()
	select {
	case opts := <-runner.started:
		return opts
	case <-time.After(2 * time.Second):
		t.Fatal("run was not launched")
		return services.RunOptions{}
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(newFakeRunner(), "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body["status"] != "ok" || body["run_p95"] == "" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestRunAnomalyAcceptedAndLaunched(t *testing.T) {
	runner := newFakeRunner()
	router := newTestRouter(runner, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/anomaly", strings.NewReader(`{"days_before": 1, "width_minutes": 30}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}

	opts := awaitRun(t, runner)
	if opts.DaysBefore == nil || *opts.DaysBefore != 1 {
		t.Fatalf("days override not forwarded: %+v", opts)
	}
	if opts.Width == nil || *opts.Width != 30*time.Minute {
		t.Fatalf("width override not forwarded: %+v", opts)
	}
}

func TestRunAnomalyWithoutBody(t *testing.T) {
	runner := newFakeRunner()
	router := newTestRouter(runner, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/runs/anomaly", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	opts := awaitRun(t, runner)
	if opts.DaysBefore != nil || opts.Width != nil {
		t.Fatalf("empty body must mean no overrides, got %+v", opts)
	}
}

func TestRunCurrentUsesCurrentCheck(t *testing.T) {
	runner := newFakeRunner()
	router := newTestRouter(runner, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/runs/current", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	awaitRun(t, runner)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.kinds) != 1 || runner.kinds[0] != "current" {
		t.Fatalf("kinds = %v, want [current]", runner.kinds)
	}
}

func TestRunValidation(t *testing.T) {
	router := newTestRouter(newFakeRunner(), "")

	cases := []string{
		`{"days_before": -1}`,
		`{"width_minutes": 0}`,
		`{"days_before": "seven"}`,
	}
	for _, body := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/anomaly", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestAPIKeyAuth(t *testing.T) {
	runner := newFakeRunner()
	router := newTestRouter(runner, "sekret")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/runs/anomaly", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/anomaly", nil)
	req.Header.Set("X-API-Key", "sekret")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("valid key: status = %d, want 202", w.Code)
	}
	awaitRun(t, runner)

	// Health stays open for probes.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz with auth enabled: status = %d, want 200", w.Code)
	}
}

func TestLatestReport(t *testing.T) {
	runner := newFakeRunner()
	end := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)
	runner.report = models.AnomalyReport{
		ByDomain: map[string][]models.AnomalyRecord{
			"database": {{Domain: "database", Entity: "orders-db", Metric: "CPUUtilization", PercentChange: 40.83}},
		},
		Window: models.WindowPair{Current: models.TimeWindow{Start: end.Add(-time.Hour), End: end}},
	}
	router := newTestRouter(runner, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/latest", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got models.AnomalyReport
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if got.Total() != 1 {
		t.Fatalf("report total = %d, want 1", got.Total())
	}
}

func TestLatestReportNotFound(t *testing.T) {
	runner := newFakeRunner()
	runner.err = services.ErrNoReport
	router := newTestRouter(runner, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/latest", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
