package detect

import (
	"fmt"
	"math"
	"sort"

	"github.com/driftwatch/metric-sentinel/internal/models"
)

// CompareHistograms evaluates current-window category counts against the
// equivalent past-window counts and reports every entity/category pair
// whose growth clears the policy threshold.
//
// Guard order per entity/category:
//  1. entities absent from the past window are skipped (no baseline),
//  2. a zero past count is skipped (percent change undefined),
//  3. a current count at or below the activity floor is skipped (too
//     little traffic to matter).
//
// Results are sorted by entity then category so repeated runs over the
// same input produce identical output.
func CompareHistograms(domain string, current, past map[models.EntityKey]models.CategoryHistogram, policy models.BaselinePolicy) []models.AnomalyRecord {
	var records []models.AnomalyRecord

	for entity, hist := range current {
		pastHist, ok := past[entity]
		if !ok {
			continue
		}
		for category, currentCount := range hist {
			pastCount := pastHist[string(category)]
			if pastCount == 0 {
				continue
			}
			floor := policy.MinActivity[string(category)]
			if float64(currentCount) <= floor {
				continue
			}
			threshold, ok := policy.PercentThreshold[string(category)]
			if !ok {
				continue
			}
			change := percentChange(float64(currentCount), float64(pastCount))
			if change <= threshold {
				continue
			}
			records = append(records, models.AnomalyRecord{
				Domain:        domain,
				Entity:        entity,
				Metric:        string(category),
				CurrentValue:  float64(currentCount),
				PastValue:     float64(pastCount),
				PercentChange: change,
				Threshold:     threshold,
				SeverityNote:  severityNote(change, threshold),
			})
		}
	}

	sortRecords(records)
	return records
}

// CompareScalars is the gauge-valued variant of CompareHistograms. The
// inner map keys are metric names (CPUUtilization, DatabaseConnections
// and the like) instead of response categories; the same guard order
// applies.
func CompareScalars(domain string, current, past map[models.EntityKey]map[string]float64, policy models.BaselinePolicy) []models.AnomalyRecord {
	var records []models.AnomalyRecord

	for entity, metrics := range current {
		pastMetrics, ok := past[entity]
		if !ok {
			continue
		}
		for metric, currentValue := range metrics {
			pastValue := pastMetrics[metric]
			if pastValue == 0 {
				continue
			}
			if currentValue <= policy.MinActivity[metric] {
				continue
			}
			threshold, ok := policy.PercentThreshold[metric]
			if !ok {
				continue
			}
			change := percentChange(currentValue, pastValue)
			if change <= threshold {
				continue
			}
			records = append(records, models.AnomalyRecord{
				Domain:        domain,
				Entity:        entity,
				Metric:        metric,
				CurrentValue:  currentValue,
				PastValue:     pastValue,
				PercentChange: change,
				Threshold:     threshold,
				SeverityNote:  severityNote(change, threshold),
			})
		}
	}

	sortRecords(records)
	return records
}

func percentChange(current, past float64) float64 {
	return math.Round((current-past)/past*100*100) / 100
}

func severityNote(change, threshold float64) string {
	if change > threshold*2 {
		return fmt.Sprintf("grew %.2f%%, more than double the %.2f%% alerting bar", change, threshold)
	}
	return fmt.Sprintf("grew %.2f%% against a %.2f%% alerting bar", change, threshold)
}

func sortRecords(records []models.AnomalyRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Entity != records[j].Entity {
			return records[i].Entity < records[j].Entity
		}
		return records[i].Metric < records[j].Metric
	})
}
