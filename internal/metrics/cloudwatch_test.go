package metrics

import (
	"context"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropship-labs/fulfillment/internal/awstest"
)

func TestJobOutcome(t *testing.T) {
	fake := awstest.NewCloudWatchFake()
	e := NewEmitter(fake, "Fulfillment", nil)

	e.JobOutcome(context.Background(), "purchase", "retry")

	require.Len(t, fake.Inputs, 1)
	in := fake.Inputs[0]
	assert.Equal(t, "Fulfillment", sdkaws.ToString(in.Namespace))
	require.Len(t, in.MetricData, 1)
	assert.Equal(t, "JobOutcome", sdkaws.ToString(in.MetricData[0].MetricName))
	assert.Len(t, in.MetricData[0].Dimensions, 2)
}

func TestExternalCallDuration(t *testing.T) {
	fake := awstest.NewCloudWatchFake()
	e := NewEmitter(fake, "Fulfillment", nil)

	e.ExternalCallDuration(context.Background(), "supplier", 120*time.Millisecond, false)

	require.Len(t, fake.Inputs, 1)
	datum := fake.Inputs[0].MetricData[0]
	assert.Equal(t, "ExternalCallDuration", sdkaws.ToString(datum.MetricName))
	assert.Equal(t, float64(120), sdkaws.ToFloat64(datum.Value))
}

func TestNilClientIsNoop(t *testing.T) {
	e := NewEmitter(nil, "Fulfillment", nil)
	// must not panic
	e.JobOutcome(context.Background(), "forward", "success")
	e.ExternalCallDuration(context.Background(), "forwarder", time.Second, true)
}
