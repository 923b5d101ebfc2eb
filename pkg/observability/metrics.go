package observability

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// MetricsAPI is the slice of the CloudWatch client the recorder uses
type MetricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metrics sends sync outcome measurements to CloudWatch.
// A nil client turns every method into a no-op.
type Metrics struct {
	namespace string
	client    MetricsAPI
	logger    *zap.Logger
	now       func() time.Time
}

// NewMetrics creates a new metrics instance
func NewMetrics(namespace string, client MetricsAPI, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Metrics{
		namespace: namespace,
		client:    client,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordMutation records the outcome and latency of an optimistic write.
// Outcomes are "confirmed", "rejected" or "rolled_back".
func (m *Metrics) RecordMutation(ctx context.Context, kind string, outcome string, duration time.Duration) {
	if m.client == nil {
		return
	}

	dims := []types.Dimension{
		dimension("Kind", kind),
		dimension("Outcome", outcome),
	}
	m.put(ctx, []types.MetricDatum{
		m.datum("MutationLatency", dims, float64(duration.Milliseconds()), types.StandardUnitMilliseconds),
		m.datum("MutationCount", dims, 1, types.StandardUnitCount),
	})
}

// RecordFeedLoad records one page load. Coalesced loads joined a request
// already in flight and did not reach the network themselves.
func (m *Metrics) RecordFeedLoad(ctx context.Context, feed string, coalesced bool, duration time.Duration) {
	if m.client == nil {
		return
	}

	shared := "false"
	if coalesced {
		shared = "true"
	}
	dims := []types.Dimension{
		dimension("Feed", feed),
		dimension("Coalesced", shared),
	}
	m.put(ctx, []types.MetricDatum{
		m.datum("FeedLoadLatency", dims, float64(duration.Milliseconds()), types.StandardUnitMilliseconds),
		m.datum("FeedLoadCount", dims, 1, types.StandardUnitCount),
	})
}

// RecordConsistencyWarning counts a detected local inconsistency
func (m *Metrics) RecordConsistencyWarning(ctx context.Context, kind string) {
	if m.client == nil {
		return
	}

	m.put(ctx, []types.MetricDatum{
		m.datum("ConsistencyWarnings", []types.Dimension{dimension("Kind", kind)}, 1, types.StandardUnitCount),
	})
}

func (m *Metrics) datum(name string, dims []types.Dimension, value float64, unit types.StandardUnit) types.MetricDatum {
	return types.MetricDatum{
		MetricName: aws.String(name),
		Dimensions: dims,
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
	}
}

// put never fails the caller; emission errors are only logged.
func (m *Metrics) put(ctx context.Context, data []types.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(context.WithoutCancel(ctx), input); err != nil {
		m.logger.Warn("Failed to send metrics",
			zap.String("namespace", m.namespace),
			zap.Error(err),
		)
	}
}

func dimension(name, value string) types.Dimension {
	return types.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
