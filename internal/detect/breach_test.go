package detect

import (
	"reflect"
	"testing"

	"github.com/driftwatch/metric-sentinel/internal/models"
)

func TestFindBreachesDocumentedTrace(t *testing.T) {
	values := []float64{70, 85, 90, 60, 95, 96}

	got := FindBreaches(values, 80, 2)

	// The second run (95 at index 4) never confirms: index 5 is only ever
	// the right-hand neighbour and the run dies with count 1.
	if !reflect.DeepEqual(got.Indices, []int{2}) {
		t.Fatalf("indices = %v, want [2]", got.Indices)
	}
	if got.RunMagnitudeSum != 175 {
		t.Fatalf("run magnitude = %v, want 175 (85+90)", got.RunMagnitudeSum)
	}
}

func TestFindBreachesLastSampleNeverEvaluated(t *testing.T) {
	got := FindBreaches([]float64{10, 99}, 80, 1)
	if got.Breached() {
		t.Fatalf("final sample must not be evaluated, got %v", got.Indices)
	}
}

func TestFindBreachesRunReportsEveryConfirmedIndex(t *testing.T) {
	got := FindBreaches([]float64{90, 91, 92, 93, 10}, 80, 2)
	if !reflect.DeepEqual(got.Indices, []int{1, 2, 3}) {
		t.Fatalf("indices = %v, want [1 2 3]", got.Indices)
	}
	if got.RunMagnitudeSum != 90+91+92+93 {
		t.Fatalf("run magnitude = %v, want 366", got.RunMagnitudeSum)
	}
}

func TestFindBreachesKeepsLargestRun(t *testing.T) {
	// Two confirmed runs; the magnitude reflects the larger one only.
	got := FindBreaches([]float64{85, 86, 10, 95, 96, 97, 10}, 80, 2)
	if !reflect.DeepEqual(got.Indices, []int{1, 4, 5}) {
		t.Fatalf("indices = %v, want [1 4 5]", got.Indices)
	}
	if got.RunMagnitudeSum != 95+96+97 {
		t.Fatalf("run magnitude = %v, want 288", got.RunMagnitudeSum)
	}
}

func TestFindBreachesUnconfirmedRunHasNoMagnitude(t *testing.T) {
	got := FindBreaches([]float64{85, 10, 86, 10}, 80, 2)
	if got.Breached() || got.RunMagnitudeSum != 0 {
		t.Fatalf("lone spikes must not confirm, got %+v", got)
	}
}

func TestFindBreachesZeroMinConsecutive(t *testing.T) {
	got := FindBreaches([]float64{85, 10, 90}, 80, 0)
	if !reflect.DeepEqual(got.Indices, []int{0}) {
		t.Fatalf("min consecutive 0 must behave as 1, got %v", got.Indices)
	}
}

func TestFindBreachesShortAndEmptyInput(t *testing.T) {
	for _, values := range [][]float64{nil, {}, {999}} {
		got := FindBreaches(values, 80, 1)
		if got.Breached() || got.RunMagnitudeSum != 0 {
			t.Fatalf("input %v: want empty result, got %+v", values, got)
		}
	}
}

func TestFindSequenceBreachesFiltersHealthyEntities(t *testing.T) {
	seqs := map[models.EntityKey]models.Sequence{
		"rider-7":  {Values: []float64{90, 91, 10}},
		"driver-3": {Values: []float64{10, 11, 12}},
	}

	got := FindSequenceBreaches(seqs, 80, 2)

	if len(got) != 1 {
		t.Fatalf("want one breached entity, got %v", got)
	}
	if _, ok := got["rider-7"]; !ok {
		t.Fatalf("rider-7 missing from %v", got)
	}
}
