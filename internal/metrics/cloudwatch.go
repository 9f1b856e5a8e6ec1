package metrics

import (
	"context"
	"errors"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/dropship-labs/fulfillment/internal/aws"
)

// Emitter pushes fulfillment metrics to CloudWatch. Emission is best-effort:
// a failed PutMetricData is logged and never fails the caller.
type Emitter struct {
	client    aws.CloudWatchAPI
	namespace string
	logger    *zap.Logger
}

// NewEmitter returns an Emitter. A nil client yields a no-op emitter, which
// keeps local development and tests free of CloudWatch traffic.
func NewEmitter(client aws.CloudWatchAPI, namespace string, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{client: client, namespace: namespace, logger: logger}
}

// JobOutcome records one finished job attempt: outcome is one of
// "success", "retry", "escalated", "discarded".
func (e *Emitter) JobOutcome(ctx context.Context, jobType, outcome string) {
	e.put(ctx, cwtypes.MetricDatum{
		MetricName: sdkaws.String("JobOutcome"),
		Value:      sdkaws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: sdkaws.String("Type"), Value: sdkaws.String(jobType)},
			{Name: sdkaws.String("Outcome"), Value: sdkaws.String(outcome)},
		},
	})
}

// ExternalCallDuration records the latency of one supplier/forwarder call.
func (e *Emitter) ExternalCallDuration(ctx context.Context, target string, d time.Duration, success bool) {
	result := "error"
	if success {
		result = "ok"
	}
	e.put(ctx, cwtypes.MetricDatum{
		MetricName: sdkaws.String("ExternalCallDuration"),
		Value:      sdkaws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: sdkaws.String("Target"), Value: sdkaws.String(target)},
			{Name: sdkaws.String("Result"), Value: sdkaws.String(result)},
		},
	})
}

func (e *Emitter) put(ctx context.Context, datum cwtypes.MetricDatum) {
	if e.client == nil {
		return
	}
	now := time.Now().UTC()
	datum.Timestamp = &now
	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(e.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		code := "unknown"
		var ae smithy.APIError
		if errors.As(err, &ae) {
			code = ae.ErrorCode()
		}
		e.logger.Warn("put metric data failed",
			zap.String("metric", sdkaws.ToString(datum.MetricName)),
			zap.String("code", code),
			zap.Error(err))
	}
}
