package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Session is the authenticated client context shared by every stage.
// It is created once and never modified.
type Session struct {
	cfg     awssdk.Config
	profile string
}

// NewSession loads credentials from the default chain, optionally pinned to
// a shared-config profile, for the given region.
func NewSession(ctx context.Context, region, profile string) (*Session, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSessionFromConfig(cfg, profile), nil
}

// NewSessionFromConfig wraps an already loaded SDK configuration.
func NewSessionFromConfig(cfg awssdk.Config, profile string) *Session {
	return &Session{cfg: cfg, profile: profile}
}

// Region returns the session region.
func (s *Session) Region() string { return s.cfg.Region }

// Profile returns the shared-config profile, or "" for the default chain.
func (s *Session) Profile() string { return s.profile }

// CloudTrail returns a client for trail status queries.
func (s *Session) CloudTrail() *cloudtrail.Client { return cloudtrail.NewFromConfig(s.cfg) }

// S3 returns a client for bucket and object calls.
func (s *Session) S3() *s3.Client { return s3.NewFromConfig(s.cfg) }

// SQS returns a client for the notification queue.
func (s *Session) SQS() *sqs.Client { return sqs.NewFromConfig(s.cfg) }

// IAM returns a client for permission simulation.
func (s *Session) IAM() *iam.Client { return iam.NewFromConfig(s.cfg) }

// STS returns a client for caller identity lookups.
func (s *Session) STS() *sts.Client { return sts.NewFromConfig(s.cfg) }
