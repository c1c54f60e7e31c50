// Package activity produces auditable API calls so that the trail has fresh
// events to deliver.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/gurre/trailcheck/aws"
	"github.com/gurre/trailcheck/failure"
	"github.com/gurre/trailcheck/logging"
)

const scratchPrefix = "cloudtrail-test-"

// Summary describes the activity that was generated.
type Summary struct {
	BucketsListed int
	ScratchBucket string
	Created       bool
	Deleted       bool
	Warnings      []*failure.Error
}

// Generator issues benign S3 calls. Only the listing is essential; the
// scratch bucket create/delete pair is best effort.
type Generator struct {
	client aws.BucketClient
	region string
	pause  time.Duration
	logger *slog.Logger

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGenerator creates a Generator that creates scratch buckets in region and
// waits pause between creating and deleting them.
func NewGenerator(client aws.BucketClient, region string, pause time.Duration, logger *slog.Logger) (*Generator, error) {
	if client == nil {
		return nil, errors.New("activity: client must not be nil")
	}
	if region == "" {
		return nil, errors.New("activity: region is required")
	}
	return &Generator{
		client: client,
		region: region,
		pause:  pause,
		logger: logging.OrDefault(logger),
		now:    time.Now,
		newID:  uuid.NewString,
		sleep:  sleepContext,
	}, nil
}

// Generate lists buckets and then creates and deletes a scratch bucket.
// A listing error fails with RequestFailed; scratch errors become warnings.
func (g *Generator) Generate(ctx context.Context) (Summary, error) {
	g.logger.Info("generating AWS API activity")

	out, err := g.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return Summary{}, failure.Request("s3:ListBuckets", err)
	}
	sum := Summary{BucketsListed: len(out.Buckets)}
	g.logger.Info("listed S3 buckets", "count", sum.BucketsListed)

	sum.ScratchBucket = ScratchBucketName(g.now(), g.newID())
	g.logger.Info("creating test bucket", "bucket", sum.ScratchBucket)
	if _, err := g.client.CreateBucket(ctx, g.createInput(sum.ScratchBucket)); err != nil {
		sum.Warnings = append(sum.Warnings, g.warn("s3:CreateBucket", sum.ScratchBucket, err))
		return sum, nil
	}
	sum.Created = true

	deleteCtx := ctx
	if err := g.sleep(ctx, g.pause); err != nil {
		sum.Warnings = append(sum.Warnings, g.warn("scratch-pause", sum.ScratchBucket, err))
		// Still remove the bucket after an interrupt.
		deleteCtx = context.WithoutCancel(ctx)
	}

	g.logger.Info("deleting test bucket", "bucket", sum.ScratchBucket)
	bucket := sum.ScratchBucket
	if _, err := g.client.DeleteBucket(deleteCtx, &s3.DeleteBucketInput{Bucket: &bucket}); err != nil {
		sum.Warnings = append(sum.Warnings, g.warn("s3:DeleteBucket", sum.ScratchBucket, err))
		return sum, nil
	}
	sum.Deleted = true
	return sum, nil
}

func (g *Generator) createInput(bucket string) *s3.CreateBucketInput {
	in := &s3.CreateBucketInput{Bucket: &bucket}
	// us-east-1 rejects an explicit location constraint.
	if g.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(g.region),
		}
	}
	return in
}

func (g *Generator) warn(op, bucket string, err error) *failure.Error {
	w := failure.Warning(op, err)
	g.logger.Warn("error during test bucket operations", "op", op, "bucket", bucket, "err", err)
	return w
}

// ScratchBucketName returns a unique, valid S3 bucket name.
func ScratchBucketName(now time.Time, id string) string {
	suffix := strings.ToLower(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s%d-%s", scratchPrefix, now.Unix(), suffix)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
