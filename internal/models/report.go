package models

import "time"

// BreachResult is the outcome of sustained-breach detection over one sequence.
// Indices hold the 0-based positions where a breach run of at least the minimum
// length was confirmed. RunMagnitudeSum is the value-sum of the largest disjoint
// over-threshold run, a severity signal independent of run duration.
type BreachResult struct {
	Indices         []int
	RunMagnitudeSum float64
}

// Breached reports whether any sustained breach was confirmed.
func (r BreachResult) Breached() bool { return len(r.Indices) > 0 }

// AnomalyRecord is one confirmed divergence for an entity and metric/category.
type AnomalyRecord struct {
	Domain        string
	Entity        EntityKey
	Metric        string
	CurrentValue  float64
	PastValue     float64
	PercentChange float64
	Threshold     float64
	SeverityNote  string
}

// DeploymentRecord describes an active deployment found in the lookback horizon.
type DeploymentRecord struct {
	Name              string
	CreatedAt         time.Time
	AvailableReplicas int32
}

// AnomalyReport is the engine's terminal output handed to the notification sink.
// ByDomain carries an entry for every domain that ran, empty when the domain was
// healthy or its fetch failed.
type AnomalyReport struct {
	ByDomain    map[string][]AnomalyRecord
	Window      WindowPair
	Deployments []DeploymentRecord
	GeneratedAt time.Time
}

// Total counts anomalies across all domains.
func (r AnomalyReport) Total() int {
	n := 0
	for _, records := range r.ByDomain {
		n += len(records)
	}
	return n
}

// Empty reports whether the run found nothing anomalous.
func (r AnomalyReport) Empty() bool { return r.Total() == 0 }

// BaselinePolicy gates baseline comparison per category or metric name.
// MinActivity suppresses low-traffic noise; PercentThreshold is the growth
// bound above which an anomaly is emitted. Both conditions must hold.
type BaselinePolicy struct {
	MinActivity      map[string]float64
	PercentThreshold map[string]float64
}
