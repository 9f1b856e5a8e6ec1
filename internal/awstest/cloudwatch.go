package awstest

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
)

// CloudWatchFake records every PutMetricData call.
type CloudWatchFake struct {
	mu     sync.Mutex
	Inputs []*cloudwatch.PutMetricDataInput
}

func NewCloudWatchFake() *CloudWatchFake {
	return &CloudWatchFake{}
}

func (f *CloudWatchFake) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Inputs = append(f.Inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}
