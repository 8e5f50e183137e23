// Package normalize converts raw labeled time-series responses into per-entity
// aggregates: response-class histograms for counter metrics and ordered value
// sequences for gauge metrics.
package normalize

import (
	"strings"
	"time"

	"github.com/driftwatch/metric-sentinel/internal/models"
)

// CodeMode selects the classification table for status/response codes.
type CodeMode int

const (
	// CodeModeHTTP classifies application status codes (2xx..5xx, unknown).
	CodeModeHTTP CodeMode = iota
	// CodeModeMesh additionally recognises the "0DC" bucket for mesh response
	// codes starting with "0" (destination never reached).
	CodeModeMesh
)

func (m CodeMode) categories() []models.Category {
	if m == CodeModeMesh {
		return models.MeshCategories
	}
	return models.HTTPCategories
}

// Classify maps a status/response code to its category by first character.
func Classify(code string, mode CodeMode) models.Category {
	switch {
	case strings.HasPrefix(code, "2"):
		return models.Category2xx
	case strings.HasPrefix(code, "3"):
		return models.Category3xx
	case strings.HasPrefix(code, "4"):
		return models.Category4xx
	case strings.HasPrefix(code, "5"):
		return models.Category5xx
	case mode == CodeModeMesh && strings.HasPrefix(code, "0"):
		return models.Category0DC
	default:
		return models.CategoryUnknown
	}
}

// Histograms groups series by the values of keyFields and accumulates the sum
// of each series' points into the category named by the codeField label.
//
// Classification is series-level: the code is a label on the series, so one
// series only ever contributes to a single category. Sums are truncated to
// integer counts, matching the counter semantics of the source queries.
// Missing labels default to "unknown"; an empty input yields an empty map.
func Histograms(series []models.LabeledSeries, keyFields []string, codeField string, mode CodeMode) map[models.EntityKey]models.CategoryHistogram {
	out := make(map[models.EntityKey]models.CategoryHistogram)
	for _, s := range series {
		key := entityKey(s, keyFields)
		category := Classify(s.Label(codeField), mode)

		hist, ok := out[key]
		if !ok {
			hist = models.NewCategoryHistogram(mode.categories())
			out[key] = hist
		}

		total := 0.0
		for _, p := range s.Points {
			total += p.Value
		}
		hist[category] += int(total)
	}
	return out
}

// Sequences groups series by the values of keyFields and keeps each series'
// ordered value track (with parallel timestamps) for breach detection. When
// two series map to the same entity the later one wins, preserving the
// source's own ordering.
func Sequences(series []models.LabeledSeries, keyFields []string) map[models.EntityKey]models.Sequence {
	out := make(map[models.EntityKey]models.Sequence)
	for _, s := range series {
		key := entityKey(s, keyFields)
		seq := models.Sequence{
			Timestamps: make([]time.Time, 0, len(s.Points)),
			Values:     make([]float64, 0, len(s.Points)),
		}
		for _, p := range s.Points {
			seq.Timestamps = append(seq.Timestamps, p.Timestamp)
			seq.Values = append(seq.Values, p.Value)
		}
		out[key] = seq
	}
	return out
}

func entityKey(s models.LabeledSeries, keyFields []string) models.EntityKey {
	parts := make([]string, 0, len(keyFields))
	for _, f := range keyFields {
		parts = append(parts, s.Label(f))
	}
	return models.NewEntityKey(parts...)
}
