// Package config holds the parameters of a verification run and validates
// them before any AWS call is made.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied by the CLI.
const (
	DefaultRegion       = "ap-northeast-1"
	DefaultPrefix       = "AWSLogs/"
	DefaultWaitTime     = 300 * time.Second
	DefaultPollInterval = 30 * time.Second
	DefaultLongPoll     = 20 // seconds, the SQS maximum
	DefaultMaxKeys      = 10
	DefaultScratchPause = 5 * time.Second
)

// s3URIPattern accepts s3://bucket and s3://bucket/prefix.
var s3URIPattern = regexp.MustCompile(`^s3://([^/]+)(?:/(.*))?$`)

// validate is shared; building a validator is expensive.
var validate = validator.New()

// Config holds all configuration for one run.
type Config struct {
	Bucket       string        `validate:"required"`              // CloudTrail log bucket
	Prefix       string        `validate:"required"`              // key prefix listed for delivered logs
	QueueURL     string        `validate:"required,url"`          // SQS queue receiving bucket notifications
	TrailName    string        `validate:"required"`              // trail name or ARN
	Region       string        `validate:"required"`              // AWS region
	Profile      string        // shared-config profile, optional
	WaitTime     time.Duration `validate:"gte=1s"`                // deadline per delivery verifier
	PollInterval time.Duration `validate:"gte=1ms"`               // delay between checks
	LongPoll     int           `validate:"gte=0,lte=20"`          // SQS WaitTimeSeconds per receive
	MaxKeys      int           `validate:"gte=1,lte=1000"`        // listing page size
	ScratchPause time.Duration `validate:"gte=0s"`                // pause between scratch create and delete
	Preflight    bool          // simulate IAM permissions first
	Inspect      bool          // decode one delivered log object
	LogLevel     string        `validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat    string        `validate:"omitempty,oneof=text json"`
}

// Default returns a Config with every optional field at its default.
func Default() *Config {
	return &Config{
		Prefix:       DefaultPrefix,
		Region:       DefaultRegion,
		WaitTime:     DefaultWaitTime,
		PollInterval: DefaultPollInterval,
		LongPoll:     DefaultLongPoll,
		MaxKeys:      DefaultMaxKeys,
		ScratchPause: DefaultScratchPause,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Validate normalises the bucket flag and checks every field.
// A bucket given as s3://bucket/prefix sets Prefix from the URI.
func (c *Config) Validate() error {
	c.Bucket = strings.TrimSpace(c.Bucket)
	if strings.HasPrefix(c.Bucket, "s3://") {
		bucket, prefix, err := parseS3URI(c.Bucket)
		if err != nil {
			return err
		}
		c.Bucket = bucket
		if prefix != "" {
			c.Prefix = prefix
		}
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if strings.Contains(c.Bucket, "/") {
		return fmt.Errorf("bucket name must not contain '/': %s", c.Bucket)
	}
	if !strings.HasPrefix(c.QueueURL, "https://") && !strings.HasPrefix(c.QueueURL, "http://") {
		return fmt.Errorf("queue URL must be an http(s) URL: %s", c.QueueURL)
	}
	return nil
}

// parseS3URI splits s3://bucket/prefix.
func parseS3URI(uri string) (bucket, prefix string, err error) {
	m := s3URIPattern.FindStringSubmatch(uri)
	if len(m) != 3 {
		return "", "", fmt.Errorf("invalid S3 URI format: %s (must be s3://bucket[/prefix])", uri)
	}
	return m[1], m[2], nil
}
