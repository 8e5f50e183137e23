package domains

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	ectypes "github.com/aws/aws-sdk-go-v2/service/elasticache/types"

	"github.com/driftwatch/metric-sentinel/internal/models"
)

type elasticacheFunc func(ctx context.Context, params *elasticache.DescribeReplicationGroupsInput, optFns ...func(*elasticache.Options)) (*elasticache.DescribeReplicationGroupsOutput, error)

func (f elasticacheFunc) DescribeReplicationGroups(ctx context.Context, params *elasticache.DescribeReplicationGroupsInput, optFns ...func(*elasticache.Options)) (*elasticache.DescribeReplicationGroupsOutput, error) {
	return f(ctx, params, optFns...)
}

func twoNodeGroup(groupID string, nodeIDs ...string) elasticacheFunc {
	return func(_ context.Context, params *elasticache.DescribeReplicationGroupsInput, _ ...func(*elasticache.Options)) (*elasticache.DescribeReplicationGroupsOutput, error) {
		if aws.ToString(params.ReplicationGroupId) != groupID {
			return &elasticache.DescribeReplicationGroupsOutput{}, nil
		}
		members := make([]ectypes.NodeGroupMember, 0, len(nodeIDs))
		for _, id := range nodeIDs {
			members = append(members, ectypes.NodeGroupMember{CacheClusterId: aws.String(id)})
		}
		return &elasticache.DescribeReplicationGroupsOutput{
			ReplicationGroups: []ectypes.ReplicationGroup{{
				ReplicationGroupId: aws.String(groupID),
				NodeGroups:         []ectypes.NodeGroup{{NodeGroupMembers: members}},
			}},
		}, nil
	}
}

func cachePolicy() models.BaselinePolicy {
	return models.BaselinePolicy{
		MinActivity:      map[string]float64{"EngineCPUUtilization": 5},
		PercentThreshold: map[string]float64{"EngineCPUUtilization": 30},
	}
}

func TestCacheDetectorBaselinesEveryNode(t *testing.T) {
	pair := testPair()
	cw := cloudwatchFunc(func(_ context.Context, params *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
		if aws.ToString(params.Namespace) != "AWS/ElastiCache" {
			return &cloudwatch.GetMetricStatisticsOutput{}, nil
		}
		if aws.ToString(params.MetricName) != "EngineCPUUtilization" {
			return &cloudwatch.GetMetricStatisticsOutput{}, nil
		}
		node := ""
		if len(params.Dimensions) > 0 {
			node = aws.ToString(params.Dimensions[0].Value)
		}
		value := 40.0
		if node == "sessions-001" && params.StartTime.Equal(pair.Current.Start) {
			value = 70.0
		}
		return &cloudwatch.GetMetricStatisticsOutput{Datapoints: datapoints(*params.StartTime, value)}, nil
	})

	detector := NewCacheDetector(nil, cw, twoNodeGroup("sessions", "sessions-001", "sessions-002"), CacheConfig{
		ReplicationGroupIDs: []string{"sessions"},
		Policy:              cachePolicy(),
	})

	records, err := detector.Fetch(context.Background(), pair)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the primary spiked: 40 -> 70 is +75%; the replica stayed flat.
	if len(records) != 1 {
		t.Fatalf("want one anomaly, got %v", records)
	}
	rec := records[0]
	if rec.Domain != "cache" || rec.Metric != "EngineCPUUtilization" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Entity != models.NewEntityKey("sessions", "sessions-001") {
		t.Fatalf("unexpected entity %q", rec.Entity)
	}
	if rec.PercentChange != 75.00 {
		t.Fatalf("percent change = %v, want 75.00", rec.PercentChange)
	}
}

func TestCacheDetectorDescribeFailure(t *testing.T) {
	failing := elasticacheFunc(func(_ context.Context, _ *elasticache.DescribeReplicationGroupsInput, _ ...func(*elasticache.Options)) (*elasticache.DescribeReplicationGroupsOutput, error) {
		return nil, errors.New("throttled")
	})
	cw := cloudwatchFunc(func(_ context.Context, _ *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
		return &cloudwatch.GetMetricStatisticsOutput{}, nil
	})

	detector := NewCacheDetector(nil, cw, failing, CacheConfig{
		ReplicationGroupIDs: []string{"sessions"},
		Policy:              cachePolicy(),
	})

	if _, err := detector.Fetch(context.Background(), testPair()); err == nil {
		t.Fatal("want error when replication group discovery fails")
	}
}

func TestCacheDetectorUnknownGroupYieldsNothing(t *testing.T) {
	cw := cloudwatchFunc(func(_ context.Context, _ *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
		return &cloudwatch.GetMetricStatisticsOutput{}, nil
	})

	detector := NewCacheDetector(nil, cw, twoNodeGroup("sessions", "sessions-001"), CacheConfig{
		ReplicationGroupIDs: []string{"misnamed"},
		Policy:              cachePolicy(),
	})

	records, err := detector.Fetch(context.Background(), testPair())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("unknown group must degrade to empty, got %v", records)
	}
}
