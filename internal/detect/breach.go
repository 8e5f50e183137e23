package detect

import (
	"github.com/driftwatch/metric-sentinel/internal/models"
)

// FindBreaches scans a gauge sequence for sustained threshold breaches.
// An index is reported once at least minConsecutive successive samples
// have exceeded the threshold, and for every further sample while the
// run holds. The scan walks neighbouring pairs, so the final sample is
// only ever the right-hand neighbour of the one before it and is never
// evaluated itself. Callers depend on that boundary; do not widen it.
func FindBreaches(values []float64, threshold float64, minConsecutive int) models.BreachResult {
	if minConsecutive <= 0 {
		minConsecutive = 1
	}

	result := models.BreachResult{}

	count := 0
	runSum := 0.0
	maxSum := 0.0
	for i := 0; i+1 < len(values); i++ {
		if values[i] > threshold {
			count++
			runSum += values[i]
			if count >= minConsecutive {
				result.Indices = append(result.Indices, i)
			}
		} else {
			if count >= minConsecutive && runSum > maxSum {
				maxSum = runSum
			}
			count = 0
			runSum = 0
		}
	}
	if count >= minConsecutive && runSum > maxSum {
		maxSum = runSum
	}
	result.RunMagnitudeSum = maxSum

	return result
}

// FindSequenceBreaches applies FindBreaches across a set of entity
// sequences and keeps only the entities that breached.
func FindSequenceBreaches(sequences map[models.EntityKey]models.Sequence, threshold float64, minConsecutive int) map[models.EntityKey]models.BreachResult {
	out := make(map[models.EntityKey]models.BreachResult)
	for key, seq := range sequences {
		if res := FindBreaches(seq.Values, threshold, minConsecutive); res.Breached() {
			out[key] = res
		}
	}
	return out
}
