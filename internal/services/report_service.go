// Package services exposes the engine's run operations to the API and the
// scheduler: resolve the window pair, run all domains, persist the report,
// and publish the alert.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/driftwatch/metric-sentinel/internal/cache"
	"github.com/driftwatch/metric-sentinel/internal/engine"
	"github.com/driftwatch/metric-sentinel/internal/metrics"
	"github.com/driftwatch/metric-sentinel/internal/models"
	"github.com/driftwatch/metric-sentinel/internal/timewindow"
	"github.com/driftwatch/metric-sentinel/internal/utils"
)

// reportTTL keeps archived reports around long enough for a week-over-week
// comparison by a human.
const reportTTL = 8 * 24 * time.Hour

// ErrNoReport signals that no run has produced a report yet.
var ErrNoReport = errors.New("no report available")

// Notifier publishes a finished report to the alerting sink.
type Notifier interface {
	Publish(ctx context.Context, report models.AnomalyReport) error
}

// RunOptions override parts of the configured window policy for one run.
type RunOptions struct {
	DaysBefore *int
	Width      *time.Duration
}

// ReportService ties window resolution, orchestration, persistence, and
// notification into the two run operations the outer surfaces trigger.
type ReportService struct {
	logger       *slog.Logger
	orchestrator *engine.Orchestrator
	provider     cache.Provider
	notifier     Notifier
	windows      timewindow.Policy
	latencies    *utils.LatencyTracker
	now          func() time.Time
}

// NewReportService constructs the service facade.
func NewReportService(logger *slog.Logger, orchestrator *engine.Orchestrator, provider cache.Provider, notifier Notifier, windows timewindow.Policy) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &ReportService{
		logger:       logger,
		orchestrator: orchestrator,
		provider:     provider,
		notifier:     notifier,
		windows:      windows,
		latencies:    utils.NewLatencyTracker(1024),
		now:          time.Now,
	}
}

// RunAnomalyCheck executes the full baseline run: current window against the
// configured days-earlier window.
func (s *ReportService) RunAnomalyCheck(ctx context.Context, opts RunOptions) (models.AnomalyReport, error) {
	policy := s.windows
	if opts.DaysBefore != nil && *opts.DaysBefore >= 0 {
		policy.DaysBefore = *opts.DaysBefore
	}
	if opts.Width != nil && *opts.Width > 0 {
		policy.Width = *opts.Width
	}
	return s.run(ctx, policy)
}

// RunCurrentCheck inspects only the current window: the baseline offset is
// zeroed so both windows coincide and percent growth degenerates to zero,
// leaving breach detection as the only signal.
func (s *ReportService) RunCurrentCheck(ctx context.Context, opts RunOptions) (models.AnomalyReport, error) {
	zero := 0
	opts.DaysBefore = &zero
	return s.RunAnomalyCheck(ctx, opts)
}

func (s *ReportService) run(ctx context.Context, policy timewindow.Policy) (models.AnomalyReport, error) {
	pair := timewindow.Resolve(s.now(), policy)
	s.logger.Info("starting detection run",
		slog.Time("current_start", pair.Current.Start),
		slog.Time("current_end", pair.Current.End),
		slog.Int("days_before", policy.DaysBefore))

	start := time.Now()
	report := s.orchestrator.Run(ctx, pair)
	duration := time.Since(start)

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("detection run latency",
			slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	s.persist(ctx, report)

	outcome := metrics.OutcomeSuccess
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, report); err != nil {
			outcome = metrics.OutcomeError
			s.logger.Error("report notification failed", slog.Any("error", err))
		}
	}
	metrics.ObserveRun(duration, outcome)

	s.logger.Info("detection run finished",
		slog.Int("anomalies", report.Total()),
		slog.Int("deployments", len(report.Deployments)),
		slog.Duration("took", duration))
	return report, nil
}

// persist stores the report for the read API. Persistence is best effort; a
// cache outage costs the latest-report endpoint, not the alert.
func (s *ReportService) persist(ctx context.Context, report models.AnomalyReport) {
	payload, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("marshal report", slog.Any("error", err))
		return
	}
	if err := s.provider.Set(ctx, cache.LatestReportKey, payload, reportTTL); err != nil {
		s.logger.Warn("persist latest report", slog.Any("error", err))
		return
	}
	if err := s.provider.Set(ctx, cache.ReportKey(report.Window.Current.End), payload, reportTTL); err != nil {
		s.logger.Warn("archive report", slog.Any("error", err))
	}
}

// LatestReport returns the most recently persisted report, or ErrNoReport
// when no run has completed since the cache was last flushed.
func (s *ReportService) LatestReport(ctx context.Context) (models.AnomalyReport, error) {
	payload, err := s.provider.Get(ctx, cache.LatestReportKey)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.AnomalyReport{}, ErrNoReport
		}
		return models.AnomalyReport{}, utils.NewAppError("LatestReport", "read report cache", err)
	}

	var report models.AnomalyReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return models.AnomalyReport{}, utils.NewAppError("LatestReport", "decode cached report", err)
	}
	return report, nil
}

// LatencyP95 returns the current p95 run latency for health reporting.
func (s *ReportService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
