package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/driftwatch/metric-sentinel/internal/cache"
	"github.com/driftwatch/metric-sentinel/internal/engine"
	"github.com/driftwatch/metric-sentinel/internal/models"
	"github.com/driftwatch/metric-sentinel/internal/timewindow"
)

type memoryProvider struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{data: make(map[string][]byte)}
}

func (m *memoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, cache.ErrCacheMiss
}

func (m *memoryProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryProvider) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryProvider) Close() error { return nil }

type recordingNotifier struct {
	reports []models.AnomalyReport
	err     error
}

func (n *recordingNotifier) Publish(_ context.Context, report models.AnomalyReport) error {
	n.reports = append(n.reports, report)
	return n.err
}

type stubFetcher struct {
	name    string
	records []models.AnomalyRecord
	pairs   []models.WindowPair
}

func (f *stubFetcher) Name() string { return f.name }

func (f *stubFetcher) Fetch(_ context.Context, pair models.WindowPair) ([]models.AnomalyRecord, error) {
	f.pairs = append(f.pairs, pair)
	return f.records, nil
}

func testPolicy() timewindow.Policy {
	return timewindow.Policy{
		TargetHour:   12,
		TargetMinute: 30,
		DaysBefore:   7,
		Width:        time.Hour,
		Location:     time.UTC,
	}
}

func newTestService(fetcher engine.DomainFetcher, provider cache.Provider, notifier Notifier) *ReportService {
	svc := NewReportService(nil, engine.NewOrchestrator(nil, nil, fetcher), provider, notifier, testPolicy())
	svc.now = func() time.Time {
		return time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	}
	return svc
}

func TestRunAnomalyCheckPersistsAndNotifies(t *testing.T) {
	fetcher := &stubFetcher{
		name:    "database",
		records: []models.AnomalyRecord{{Domain: "database", Entity: "orders-db", Metric: "CPUUtilization", CurrentValue: 84.5, PastValue: 60, PercentChange: 40.83}},
	}
	provider := newMemoryProvider()
	notifier := &recordingNotifier{}
	svc := newTestService(fetcher, provider, notifier)

	report, err := svc.RunAnomalyCheck(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total() != 1 {
		t.Fatalf("total = %d, want 1", report.Total())
	}

	wantEnd := time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC)
	if !report.Window.Current.End.Equal(wantEnd) {
		t.Fatalf("current end = %v, want %v", report.Window.Current.End, wantEnd)
	}
	if !report.Window.Past.End.Equal(wantEnd.AddDate(0, 0, -7)) {
		t.Fatalf("past end = %v, want a week earlier", report.Window.Past.End)
	}

	if len(notifier.reports) != 1 {
		t.Fatalf("notifier calls = %d, want 1", len(notifier.reports))
	}

	latest, err := svc.LatestReport(context.Background())
	if err != nil {
		t.Fatalf("latest report: %v", err)
	}
	if latest.Total() != 1 || len(latest.ByDomain["database"]) != 1 {
		t.Fatalf("persisted report mismatch: %+v", latest)
	}
}

func TestRunAnomalyCheckOverrides(t *testing.T) {
	fetcher := &stubFetcher{name: "database"}
	svc := newTestService(fetcher, newMemoryProvider(), &recordingNotifier{})

	days := 1
	width := 30 * time.Minute
	if _, err := svc.RunAnomalyCheck(context.Background(), RunOptions{DaysBefore: &days, Width: &width}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pair := fetcher.pairs[0]
	if got := pair.Current.Duration(); got != width {
		t.Fatalf("width = %v, want %v", got, width)
	}
	if !pair.Past.End.Equal(pair.Current.End.AddDate(0, 0, -1)) {
		t.Fatalf("days override not applied: %v vs %v", pair.Past.End, pair.Current.End)
	}
}

func TestRunCurrentCheckSelfCompares(t *testing.T) {
	fetcher := &stubFetcher{name: "database"}
	svc := newTestService(fetcher, newMemoryProvider(), &recordingNotifier{})

	if _, err := svc.RunCurrentCheck(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pair := fetcher.pairs[0]
	if !pair.Past.End.Equal(pair.Current.End) || !pair.Past.Start.Equal(pair.Current.Start) {
		t.Fatalf("current-only run must self-compare, got %+v", pair)
	}
}

func TestNotifierFailureDoesNotFailRun(t *testing.T) {
	fetcher := &stubFetcher{
		name:    "database",
		records: []models.AnomalyRecord{{Domain: "database", Entity: "orders-db", Metric: "CPUUtilization"}},
	}
	svc := newTestService(fetcher, newMemoryProvider(), &recordingNotifier{err: errors.New("slack down")})

	report, err := svc.RunAnomalyCheck(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("notification failure must not fail the run: %v", err)
	}
	if report.Total() != 1 {
		t.Fatalf("report lost: %+v", report)
	}
}

func TestLatestReportWithoutRuns(t *testing.T) {
	svc := newTestService(&stubFetcher{name: "database"}, cache.NoopProvider{}, nil)

	if _, err := svc.LatestReport(context.Background()); !errors.Is(err, ErrNoReport) {
		t.Fatalf("want ErrNoReport, got %v", err)
	}
}
