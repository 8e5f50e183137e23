// Package domains implements the per-domain anomaly detectors. Each detector
// fetches its own signals for a window pair, normalizes them, and runs breach
// and baseline checks; the engine package merges their outputs.
package domains

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/driftwatch/metric-sentinel/internal/models"
)

// MetricSource is the query surface consumed by the application detector.
type MetricSource interface {
	QueryRange(ctx context.Context, query string, start, end time.Time, step string) ([]models.LabeledSeries, error)
}

// rangeFor renders a window's width as a PromQL duration for increase() totals.
func rangeFor(w models.TimeWindow) string {
	minutes := int(w.Duration().Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%dm", minutes)
}

// sortByEntity orders breach-derived records, which come out of map iteration,
// so a domain's output is stable across runs.
func sortByEntity(records []models.AnomalyRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Entity != records[j].Entity {
			return records[i].Entity < records[j].Entity
		}
		return records[i].Metric < records[j].Metric
	})
}
