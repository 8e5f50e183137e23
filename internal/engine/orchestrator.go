// Package engine fans detection out across the metric domains and merges the
// results into one report. Escalation side effects, the cluster deployment
// lookup in particular, only happen when the merged result is non-empty.
package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftwatch/metric-sentinel/internal/metrics"
	"github.com/driftwatch/metric-sentinel/internal/models"
)

// DomainFetcher is one domain's detection pipeline.
type DomainFetcher interface {
	Name() string
	Fetch(ctx context.Context, pair models.WindowPair) ([]models.AnomalyRecord, error)
}

// Inventory answers the deployment-activity lookup used to annotate reports.
type Inventory interface {
	RecentActiveDeployments(ctx context.Context, since, until time.Time) ([]models.DeploymentRecord, error)
}

// Orchestrator runs every registered domain concurrently for one window pair.
type Orchestrator struct {
	logger    *slog.Logger
	fetchers  []DomainFetcher
	inventory Inventory
}

// NewOrchestrator constructs an orchestrator. A nil inventory disables the
// deployment annotation but not detection itself.
func NewOrchestrator(logger *slog.Logger, inventory Inventory, fetchers ...DomainFetcher) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger, fetchers: fetchers, inventory: inventory}
}

// Run executes all domains and merges their anomalies. A failing domain
// contributes an empty list and is logged; the run itself never fails, so a
// total outage degenerates to a well-formed empty report. The deployment
// lookup spans from the past window's end through the current window's end,
// covering everything that shipped between the two observations.
func (o *Orchestrator) Run(ctx context.Context, pair models.WindowPair) models.AnomalyReport {
	results := make([][]models.AnomalyRecord, len(o.fetchers))

	g, gctx := errgroup.WithContext(ctx)
	for i, fetcher := range o.fetchers {
		g.Go(func() error {
			records, err := fetcher.Fetch(gctx, pair)
			if err != nil {
				o.logger.Warn("domain fetch failed, contributing empty data",
					slog.String("domain", fetcher.Name()), slog.Any("error", err))
				records = nil
			}
			results[i] = records
			return nil
		})
	}
	// Goroutines only ever return nil; Wait is for joining.
	_ = g.Wait()

	report := models.AnomalyReport{
		ByDomain:    make(map[string][]models.AnomalyRecord, len(o.fetchers)),
		Window:      pair,
		GeneratedAt: time.Now().UTC(),
	}
	for i, fetcher := range o.fetchers {
		records := results[i]
		if records == nil {
			records = []models.AnomalyRecord{}
		}
		report.ByDomain[fetcher.Name()] = records
		metrics.CountAnomalies(fetcher.Name(), len(records))
	}

	if report.Empty() {
		return report
	}

	if o.inventory != nil {
		deployments, err := o.inventory.RecentActiveDeployments(ctx, pair.Past.End, pair.Current.End)
		if err != nil {
			o.logger.Warn("deployment lookup failed", slog.Any("error", err))
		} else {
			report.Deployments = deployments
		}
	}

	return report
}
