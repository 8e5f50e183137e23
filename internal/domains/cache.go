package domains

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"

	"github.com/driftwatch/metric-sentinel/internal/detect"
	"github.com/driftwatch/metric-sentinel/internal/models"
)

// ElastiCacheAPI is the slice of the ElastiCache client used by the cache
// detector.
type ElastiCacheAPI interface {
	DescribeReplicationGroups(ctx context.Context, params *elasticache.DescribeReplicationGroupsInput, optFns ...func(*elasticache.Options)) (*elasticache.DescribeReplicationGroupsOutput, error)
}

// cacheMetrics are the CloudWatch metrics sampled per cache node. EngineCPU
// matters on larger node types where the redis engine thread saturates before
// the host CPU does.
var cacheMetrics = []string{
	"CPUUtilization",
	"EngineCPUUtilization",
	"DatabaseMemoryUsagePercentage",
	"DatabaseCapacityUsagePercentage",
}

// CacheConfig tunes the ElastiCache detector.
type CacheConfig struct {
	ReplicationGroupIDs []string
	PeriodSeconds       int32
	Policy              models.BaselinePolicy
}

// CacheDetector samples per-node ElastiCache metrics for both windows and
// baselines them against each other. Nodes are keyed group+node so primary
// and replica drift are reported separately.
type CacheDetector struct {
	logger *slog.Logger
	cw     CloudWatchAPI
	ec     ElastiCacheAPI
	cfg    CacheConfig
}

// NewCacheDetector constructs the cache-domain detector.
func NewCacheDetector(logger *slog.Logger, cw CloudWatchAPI, ec ElastiCacheAPI, cfg CacheConfig) *CacheDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PeriodSeconds <= 0 {
		cfg.PeriodSeconds = 60
	}
	return &CacheDetector{logger: logger, cw: cw, ec: ec, cfg: cfg}
}

// Name identifies the domain in merged reports.
func (d *CacheDetector) Name() string { return "cache" }

// Fetch samples every node of every configured replication group for both
// windows and compares them.
func (d *CacheDetector) Fetch(ctx context.Context, pair models.WindowPair) ([]models.AnomalyRecord, error) {
	if d.cw == nil || d.ec == nil {
		return nil, fmt.Errorf("aws clients not configured")
	}

	current := make(map[models.EntityKey]map[string]float64)
	past := make(map[models.EntityKey]map[string]float64)

	for _, groupID := range d.cfg.ReplicationGroupIDs {
		out, err := d.ec.DescribeReplicationGroups(ctx, &elasticache.DescribeReplicationGroupsInput{
			ReplicationGroupId: aws.String(groupID),
		})
		if err != nil {
			return nil, fmt.Errorf("describe replication group %s: %w", groupID, err)
		}
		if len(out.ReplicationGroups) == 0 {
			d.logger.Warn("replication group not found", slog.String("group", groupID))
			continue
		}

		for _, nodeGroup := range out.ReplicationGroups[0].NodeGroups {
			for _, member := range nodeGroup.NodeGroupMembers {
				nodeID := aws.ToString(member.CacheClusterId)
				if nodeID == "" {
					continue
				}
				entity := models.NewEntityKey(groupID, nodeID)
				current[entity] = d.sampleNode(ctx, nodeID, pair.Current)
				past[entity] = d.sampleNode(ctx, nodeID, pair.Past)
			}
		}
	}

	return detect.CompareScalars(d.Name(), current, past, d.cfg.Policy), nil
}

func (d *CacheDetector) sampleNode(ctx context.Context, nodeID string, window models.TimeWindow) map[string]float64 {
	values := make(map[string]float64, len(cacheMetrics))
	for _, metric := range cacheMetrics {
		value, ok := latestAverage(ctx, d.logger, d.cw, d.cfg.PeriodSeconds, "AWS/ElastiCache", metric, "CacheClusterId", nodeID, window)
		if ok {
			values[metric] = value
		}
	}
	return values
}
