package domains

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/driftwatch/metric-sentinel/internal/detect"
	"github.com/driftwatch/metric-sentinel/internal/models"
)

// CloudWatchAPI is the slice of the CloudWatch client used by the AWS-backed
// detectors.
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// RDSAPI is the slice of the RDS client used by the database detector.
type RDSAPI interface {
	DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
}

// databaseMetrics are the CloudWatch metrics sampled per cluster instance.
var databaseMetrics = []string{"CPUUtilization", "DatabaseConnections"}

// DatabaseConfig tunes the RDS detector.
type DatabaseConfig struct {
	ClusterIdentifiers []string
	PeriodSeconds      int32
	Policy             models.BaselinePolicy
}

// DatabaseDetector samples per-instance RDS metrics for both windows and
// baselines them against each other. Instances are keyed cluster+instance so
// reader and writer drift are reported separately.
type DatabaseDetector struct {
	logger *slog.Logger
	cw     CloudWatchAPI
	rds    RDSAPI
	cfg    DatabaseConfig
}

// NewDatabaseDetector constructs the database-domain detector.
func NewDatabaseDetector(logger *slog.Logger, cw CloudWatchAPI, rdsClient RDSAPI, cfg DatabaseConfig) *DatabaseDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PeriodSeconds <= 0 {
		cfg.PeriodSeconds = 60
	}
	return &DatabaseDetector{logger: logger, cw: cw, rds: rdsClient, cfg: cfg}
}

// Name identifies the domain in merged reports.
func (d *DatabaseDetector) Name() string { return "database" }

// Fetch samples every configured cluster for both windows and compares them.
func (d *DatabaseDetector) Fetch(ctx context.Context, pair models.WindowPair) ([]models.AnomalyRecord, error) {
	if d.cw == nil || d.rds == nil {
		return nil, fmt.Errorf("aws clients not configured")
	}

	current := make(map[models.EntityKey]map[string]float64)
	past := make(map[models.EntityKey]map[string]float64)

	for _, clusterID := range d.cfg.ClusterIdentifiers {
		out, err := d.rds.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
			DBClusterIdentifier: aws.String(clusterID),
		})
		if err != nil {
			return nil, fmt.Errorf("describe cluster %s: %w", clusterID, err)
		}
		if len(out.DBClusters) == 0 {
			d.logger.Warn("cluster not found", slog.String("cluster", clusterID))
			continue
		}

		for _, member := range out.DBClusters[0].DBClusterMembers {
			instanceID := aws.ToString(member.DBInstanceIdentifier)
			if instanceID == "" {
				continue
			}
			entity := models.NewEntityKey(clusterID, instanceID)
			current[entity] = d.sampleInstance(ctx, instanceID, pair.Current)
			past[entity] = d.sampleInstance(ctx, instanceID, pair.Past)
		}
	}

	return detect.CompareScalars(d.Name(), current, past, d.cfg.Policy), nil
}

func (d *DatabaseDetector) sampleInstance(ctx context.Context, instanceID string, window models.TimeWindow) map[string]float64 {
	values := make(map[string]float64, len(databaseMetrics))
	for _, metric := range databaseMetrics {
		value, ok := latestAverage(ctx, d.logger, d.cw, d.cfg.PeriodSeconds, "AWS/RDS", metric, "DBInstanceIdentifier", instanceID, window)
		if ok {
			values[metric] = value
		}
	}
	return values
}

// latestAverage returns the most recent averaged datapoint inside the window.
// No datapoints is an expected outcome for idle metrics, not an error.
func latestAverage(ctx context.Context, logger *slog.Logger, cw CloudWatchAPI, period int32, namespace, metric, dimension, value string, window models.TimeWindow) (float64, bool) {
	out, err := cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(namespace),
		MetricName: aws.String(metric),
		Dimensions: []cwtypes.Dimension{{Name: aws.String(dimension), Value: aws.String(value)}},
		StartTime:  aws.Time(window.Start),
		EndTime:    aws.Time(window.End),
		Period:     aws.Int32(period),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
	})
	if err != nil {
		logger.Warn("cloudwatch fetch failed",
			slog.String("metric", metric), slog.String("dimension", value), slog.Any("error", err))
		return 0, false
	}
	return latestDatapoint(out.Datapoints)
}

func latestDatapoint(points []cwtypes.Datapoint) (float64, bool) {
	if len(points) == 0 {
		return 0, false
	}
	sort.Slice(points, func(i, j int) bool {
		return aws.ToTime(points[i].Timestamp).Before(aws.ToTime(points[j].Timestamp))
	})
	last := points[len(points)-1]
	if last.Average == nil {
		return 0, false
	}
	return *last.Average, true
}
