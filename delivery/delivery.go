// Package delivery verifies that CloudTrail log objects reach the S3 bucket.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gurre/trailcheck/aws"
	"github.com/gurre/trailcheck/failure"
	"github.com/gurre/trailcheck/logging"
	"github.com/gurre/trailcheck/poll"
)

const opListObjects = "s3:ListObjectsV2"

// Settings configures a Verifier.
type Settings struct {
	Bucket   string
	Prefix   string
	MaxKeys  int
	Wait     time.Duration
	Interval time.Duration
	Clock    poll.Clock // nil means the wall clock
}

// Result is the outcome of a successful verification.
type Result struct {
	Keys       []string // keys from the listing that satisfied the check
	Attempts   int
	Elapsed    time.Duration
	Inspection *Inspection // set when an inspector is attached and succeeded
	Warnings   []*failure.Error
}

// Verifier polls the bucket listing until log objects appear.
type Verifier struct {
	client    aws.ObjectLister
	settings  Settings
	inspector *Inspector
	logger    *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(client aws.ObjectLister, s Settings, logger *slog.Logger) (*Verifier, error) {
	if client == nil {
		return nil, errors.New("delivery: client must not be nil")
	}
	if s.Bucket == "" {
		return nil, errors.New("delivery: bucket is required")
	}
	if s.MaxKeys <= 0 {
		s.MaxKeys = 10
	}
	return &Verifier{client: client, settings: s, logger: logging.OrDefault(logger)}, nil
}

// WithInspector attaches an Inspector that decodes one delivered object
// after the listing succeeds.
func (v *Verifier) WithInspector(in *Inspector) *Verifier {
	v.inspector = in
	return v
}

// Verify waits for at least one object under the prefix.
func (v *Verifier) Verify(ctx context.Context) (Result, error) {
	s := v.settings
	v.logger.Info("waiting for CloudTrail logs to appear in S3 bucket", "bucket", s.Bucket, "prefix", s.Prefix)

	res, err := poll.Until(ctx, poll.Options{
		Op:       opListObjects,
		Deadline: s.Wait,
		Interval: s.Interval,
		Clock:    s.Clock,
		Logger:   v.logger,
	}, v.list, nil)

	out := Result{Attempts: res.Attempts, Elapsed: res.Elapsed}
	if err != nil {
		if failure.IsKind(err, failure.TimeoutExceeded) {
			v.logger.Error("no CloudTrail logs found in S3 bucket", "bucket", s.Bucket, "wait", s.Wait)
		} else {
			v.logger.Error("error checking S3 bucket", "bucket", s.Bucket, "err", err)
		}
		return out, err
	}

	for _, obj := range res.Items {
		if obj.Key != nil {
			out.Keys = append(out.Keys, *obj.Key)
		}
	}
	v.logger.Info("found objects in the CloudTrail log bucket", "count", len(res.Items), "attempts", res.Attempts)

	if v.inspector != nil {
		ins, err := v.inspector.Inspect(ctx, s.Bucket, out.Keys)
		if err != nil {
			w := failure.Warning("inspect", err)
			out.Warnings = append(out.Warnings, w)
			v.logger.Warn("could not inspect delivered log object", "err", err)
		} else {
			out.Inspection = &ins
		}
	}
	return out, nil
}

// list is one check: a single listing page, never paginated further.
func (v *Verifier) list(ctx context.Context) ([]types.Object, error) {
	s := v.settings
	out, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &s.Bucket,
		Prefix:  &s.Prefix,
		MaxKeys: awssdk.Int32(int32(s.MaxKeys)),
	})
	if err != nil {
		return nil, err
	}
	return out.Contents, nil
}
