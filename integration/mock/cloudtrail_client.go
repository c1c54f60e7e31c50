package mock

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
)

// CloudTrailClient answers GetTrailStatus for a set of trails.
type CloudTrailClient struct {
	Trails map[string]*cloudtrail.GetTrailStatusOutput
	Err    error
	Calls  int
}

// NewCloudTrailClient returns a client knowing a single logging trail.
func NewCloudTrailClient(name string, logging bool) *CloudTrailClient {
	return &CloudTrailClient{Trails: map[string]*cloudtrail.GetTrailStatusOutput{
		name: {
			IsLogging:          aws.Bool(logging),
			LatestDeliveryTime: aws.Time(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)),
		},
	}}
}

// GetTrailStatus implements aws.CloudTrailClient.
func (m *CloudTrailClient) GetTrailStatus(ctx context.Context, params *cloudtrail.GetTrailStatusInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.GetTrailStatusOutput, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	out, ok := m.Trails[aws.ToString(params.Name)]
	if !ok {
		return nil, &types.TrailNotFoundException{Message: aws.String("Unknown trail: " + aws.ToString(params.Name))}
	}
	return out, nil
}
