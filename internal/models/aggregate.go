package models

import "strings"

// Category is a response-class bucket for aggregated request counts.
type Category = string

const (
	Category2xx     Category = "2xx"
	Category3xx     Category = "3xx"
	Category4xx     Category = "4xx"
	Category5xx     Category = "5xx"
	Category0DC     Category = "0DC"
	CategoryUnknown Category = "unknown"
)

// HTTPCategories are the buckets recognised for application status codes.
var HTTPCategories = []Category{Category2xx, Category3xx, Category4xx, Category5xx, CategoryUnknown}

// MeshCategories add the 0DC bucket for service-mesh response codes, where a code
// starting with "0" means the destination was never reached.
var MeshCategories = []Category{Category2xx, Category3xx, Category4xx, Category5xx, Category0DC, CategoryUnknown}

// EntityKey identifies one aggregation group: the space-joined tuple of label
// values chosen by the caller (e.g. "GET payments /v1/charge" or "payments pod-7").
// Components are trimmed before joining so equality is value equality.
type EntityKey string

// NewEntityKey builds a key from ordered label values.
func NewEntityKey(parts ...string) EntityKey {
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed = append(trimmed, strings.TrimSpace(p))
	}
	return EntityKey(strings.TrimSpace(strings.Join(trimmed, " ")))
}

// HasPrefix reports whether the key's first component starts with the prefix.
// Used for entity skip lists configured by name prefix.
func (k EntityKey) HasPrefix(prefix string) bool {
	return prefix != "" && strings.HasPrefix(string(k), prefix)
}

// CategoryHistogram maps every recognised category to an accumulated count.
// All categories of the owning mode are always present (default 0) so consumers
// never need existence checks.
type CategoryHistogram map[Category]int

// NewCategoryHistogram returns a histogram with every listed category zeroed.
func NewCategoryHistogram(categories []Category) CategoryHistogram {
	h := make(CategoryHistogram, len(categories))
	for _, c := range categories {
		h[c] = 0
	}
	return h
}

// AggregateKind tags which arm of an Aggregate is populated.
type AggregateKind int

const (
	// AggregateHistograms marks category-bucketed request counts.
	AggregateHistograms AggregateKind = iota
	// AggregateSequences marks ordered gauge tracks for breach detection.
	AggregateSequences
)

// Aggregate is the normalizer's output: either entity histograms or entity
// sequences, never both.
type Aggregate struct {
	Kind       AggregateKind
	Histograms map[EntityKey]CategoryHistogram
	Sequences  map[EntityKey]Sequence
}

// HistogramAggregate wraps histogram output.
func HistogramAggregate(h map[EntityKey]CategoryHistogram) Aggregate {
	return Aggregate{Kind: AggregateHistograms, Histograms: h}
}

// SequenceAggregate wraps sequence output.
func SequenceAggregate(s map[EntityKey]Sequence) Aggregate {
	return Aggregate{Kind: AggregateSequences, Sequences: s}
}
