package domains

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/driftwatch/metric-sentinel/internal/detect"
	"github.com/driftwatch/metric-sentinel/internal/models"
	"github.com/driftwatch/metric-sentinel/internal/normalize"
	"github.com/driftwatch/metric-sentinel/internal/promsource"
)

// ApplicationConfig tunes the application/service-mesh detector.
type ApplicationConfig struct {
	APIList            []string
	SkipPrefixes       []string
	Namespace          string
	PodSelector        string
	RequestPolicy      models.BaselinePolicy
	MeshPolicy         models.BaselinePolicy
	ErrorRateThreshold float64
	ResourceThreshold  float64
	MinConsecutive     int
}

// ApplicationDetector compares per-handler request histograms and mesh
// response histograms against the baseline window, confirms sustained mesh
// error-rate breaches, and drills into pod resource usage once anything
// anomalous is found.
type ApplicationDetector struct {
	logger *slog.Logger
	source MetricSource
	cfg    ApplicationConfig
}

// NewApplicationDetector constructs the application-domain detector.
func NewApplicationDetector(logger *slog.Logger, source MetricSource, cfg ApplicationConfig) *ApplicationDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplicationDetector{logger: logger, source: source, cfg: cfg}
}

// Name identifies the domain in merged reports.
func (d *ApplicationDetector) Name() string { return "application" }

// Fetch runs the full application pipeline for one window pair.
func (d *ApplicationDetector) Fetch(ctx context.Context, pair models.WindowPair) ([]models.AnomalyRecord, error) {
	if d.source == nil {
		return nil, fmt.Errorf("metric source not configured")
	}

	records, err := d.requestBaseline(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("request baseline: %w", err)
	}

	meshRecords, meshSeries := d.meshSignals(ctx, pair)
	records = append(records, meshRecords...)

	meshBreaches := d.meshErrorBreaches(meshSeries)
	records = append(records, meshBreaches...)
	if len(meshBreaches) > 0 {
		records = append(records, d.apiErrorBreaches(ctx, pair.Current, implicatedServices(meshBreaches))...)
	}

	if len(records) > 0 {
		records = append(records, d.podResourceBreaches(ctx, pair.Current)...)
	}

	return records, nil
}

func (d *ApplicationDetector) requestBaseline(ctx context.Context, pair models.WindowPair) ([]models.AnomalyRecord, error) {
	filter := promsource.BuildAPIFilter(d.cfg.APIList)
	keyFields := []string{"method", "service", "handler"}

	currentSeries, err := d.source.QueryRange(ctx,
		promsource.RequestCountQuery(filter, rangeFor(pair.Current)),
		pair.Current.Start, pair.Current.End, rangeFor(pair.Current))
	if err != nil {
		return nil, err
	}
	pastSeries, err := d.source.QueryRange(ctx,
		promsource.RequestCountQuery(filter, rangeFor(pair.Past)),
		pair.Past.Start, pair.Past.End, rangeFor(pair.Past))
	if err != nil {
		return nil, err
	}

	current := normalize.Histograms(currentSeries, keyFields, "status_code", normalize.CodeModeHTTP)
	past := normalize.Histograms(pastSeries, keyFields, "status_code", normalize.CodeModeHTTP)
	d.dropSkipped(current)

	return detect.CompareHistograms(d.Name(), current, past, d.cfg.RequestPolicy), nil
}

// meshSignals returns the baseline anomalies for mesh response histograms and
// hands back the raw current-window series for breach detection. Mesh fetch
// failure degrades to no mesh signal rather than failing the domain.
func (d *ApplicationDetector) meshSignals(ctx context.Context, pair models.WindowPair) ([]models.AnomalyRecord, []models.LabeledSeries) {
	keyFields := []string{"destination_service_name"}

	currentSeries, err := d.source.QueryRange(ctx,
		promsource.MeshRequestQuery(rangeFor(pair.Current)),
		pair.Current.Start, pair.Current.End, "1m")
	if err != nil {
		d.logger.Warn("mesh metrics fetch failed", slog.Any("error", err))
		return nil, nil
	}
	pastSeries, err := d.source.QueryRange(ctx,
		promsource.MeshRequestQuery(rangeFor(pair.Past)),
		pair.Past.Start, pair.Past.End, rangeFor(pair.Past))
	if err != nil {
		d.logger.Warn("mesh baseline fetch failed", slog.Any("error", err))
		return nil, currentSeries
	}

	current := normalize.Histograms(currentSeries, keyFields, "response_code", normalize.CodeModeMesh)
	past := normalize.Histograms(pastSeries, keyFields, "response_code", normalize.CodeModeMesh)
	d.dropSkipped(current)

	return detect.CompareHistograms(d.Name(), current, past, d.cfg.MeshPolicy), currentSeries
}

// meshErrorBreaches looks for sustained runs of 5xx or destination-unreachable
// responses inside the current window, independent of the baseline.
func (d *ApplicationDetector) meshErrorBreaches(series []models.LabeledSeries) []models.AnomalyRecord {
	errorSeries := make([]models.LabeledSeries, 0, len(series))
	for _, s := range series {
		switch normalize.Classify(s.Label("response_code"), normalize.CodeModeMesh) {
		case models.Category5xx, models.Category0DC:
			errorSeries = append(errorSeries, s)
		}
	}
	if len(errorSeries) == 0 {
		return nil
	}

	sequences := normalize.Sequences(errorSeries, []string{"destination_service_name", "response_code"})
	for key := range sequences {
		if d.skipped(key) {
			delete(sequences, key)
		}
	}

	breaches := detect.FindSequenceBreaches(sequences, d.cfg.ErrorRateThreshold, d.cfg.MinConsecutive)
	records := make([]models.AnomalyRecord, 0, len(breaches))
	for entity, breach := range breaches {
		records = append(records, models.AnomalyRecord{
			Domain:       d.Name(),
			Entity:       entity,
			Metric:       "mesh_error_rate",
			CurrentValue: breach.RunMagnitudeSum,
			Threshold:    d.cfg.ErrorRateThreshold,
			SeverityNote: fmt.Sprintf("%d sustained error samples above %.0f/min", len(breach.Indices), d.cfg.ErrorRateThreshold),
		})
	}
	sortByEntity(records)
	return records
}

// apiErrorBreaches narrows in on the handler-level 5xx rates of the services
// already implicated by a mesh error breach.
func (d *ApplicationDetector) apiErrorBreaches(ctx context.Context, window models.TimeWindow, services []string) []models.AnomalyRecord {
	if len(services) == 0 {
		return nil
	}

	series, err := d.source.QueryRange(ctx,
		promsource.APIErrorQuery(services), window.Start, window.End, "1m")
	if err != nil {
		d.logger.Warn("api error-rate fetch failed", slog.Any("error", err))
		return nil
	}

	sequences := normalize.Sequences(series, []string{"service", "method", "handler", "status_code"})
	records := make([]models.AnomalyRecord, 0, len(sequences))
	for entity, breach := range detect.FindSequenceBreaches(sequences, d.cfg.ErrorRateThreshold, d.cfg.MinConsecutive) {
		records = append(records, models.AnomalyRecord{
			Domain:       d.Name(),
			Entity:       entity,
			Metric:       "api_error_rate",
			CurrentValue: breach.RunMagnitudeSum,
			Threshold:    d.cfg.ErrorRateThreshold,
			SeverityNote: fmt.Sprintf("%d sustained 5xx samples above %.0f/min", len(breach.Indices), d.cfg.ErrorRateThreshold),
		})
	}
	sortByEntity(records)
	return records
}

// implicatedServices extracts the deduplicated service names (first key
// component) from a breach record set, preserving first-seen order.
func implicatedServices(records []models.AnomalyRecord) []string {
	seen := make(map[string]struct{}, len(records))
	var services []string
	for _, r := range records {
		fields := strings.Fields(string(r.Entity))
		if len(fields) == 0 {
			continue
		}
		if _, ok := seen[fields[0]]; ok {
			continue
		}
		seen[fields[0]] = struct{}{}
		services = append(services, fields[0])
	}
	return services
}

// podResourceBreaches is the escalation drill-down: only queried when the
// window already produced anomalies, mirroring the inventory-lookup gate.
func (d *ApplicationDetector) podResourceBreaches(ctx context.Context, window models.TimeWindow) []models.AnomalyRecord {
	var records []models.AnomalyRecord
	for metric, query := range map[string]string{
		"pod_cpu_percent":    promsource.PodCPUQuery(d.cfg.Namespace, d.cfg.PodSelector),
		"pod_memory_percent": promsource.PodMemoryQuery(d.cfg.Namespace, d.cfg.PodSelector),
	} {
		series, err := d.source.QueryRange(ctx, query, window.Start, window.End, "1m")
		if err != nil {
			d.logger.Warn("pod resource fetch failed", slog.String("metric", metric), slog.Any("error", err))
			continue
		}
		sequences := normalize.Sequences(series, []string{"pod", "node"})
		for entity, breach := range detect.FindSequenceBreaches(sequences, d.cfg.ResourceThreshold, d.cfg.MinConsecutive) {
			records = append(records, models.AnomalyRecord{
				Domain:       d.Name(),
				Entity:       entity,
				Metric:       metric,
				CurrentValue: breach.RunMagnitudeSum,
				Threshold:    d.cfg.ResourceThreshold,
				SeverityNote: fmt.Sprintf("%d sustained samples above %.0f%% of request", len(breach.Indices), d.cfg.ResourceThreshold),
			})
		}
	}
	sortByEntity(records)
	return records
}

func (d *ApplicationDetector) dropSkipped(histograms map[models.EntityKey]models.CategoryHistogram) {
	for key := range histograms {
		if d.skipped(key) {
			delete(histograms, key)
		}
	}
}

func (d *ApplicationDetector) skipped(key models.EntityKey) bool {
	for _, prefix := range d.cfg.SkipPrefixes {
		if key.HasPrefix(prefix) {
			return true
		}
	}
	return false
}
