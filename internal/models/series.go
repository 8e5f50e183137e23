package models

import "time"

// TimeWindow bounds one observation range. Instants are always UTC; Start < End.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Duration returns the window width.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// WindowPair couples the current observation window with its historical baseline.
type WindowPair struct {
	Current TimeWindow
	Past    TimeWindow
}

// RawSeriesPoint is a single sample from the metric source, ordered ascending
// by timestamp within its series. An empty series is valid data, not an error.
type RawSeriesPoint struct {
	Timestamp time.Time
	Value     float64
}

// LabeledSeries is the unit returned by the metric source for one label combination.
type LabeledSeries struct {
	Labels map[string]string
	Points []RawSeriesPoint
}

// Label returns the value for a label name, defaulting to "unknown" when the
// source omitted it. The metric source's label set is never assumed fixed.
func (s LabeledSeries) Label(name string) string {
	if v, ok := s.Labels[name]; ok && v != "" {
		return v
	}
	return "unknown"
}

// Sequence is an ordered gauge track (values with parallel timestamps) for one entity.
type Sequence struct {
	Timestamps []time.Time
	Values     []float64
}
