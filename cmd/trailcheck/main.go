// Package main implements the trailcheck command. It verifies that a
// CloudTrail trail is logging, that its log files reach S3 and that the
// bucket's notifications reach SQS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gurre/s3streamer"

	"github.com/gurre/trailcheck/activity"
	"github.com/gurre/trailcheck/aws"
	"github.com/gurre/trailcheck/config"
	"github.com/gurre/trailcheck/coordinator"
	"github.com/gurre/trailcheck/delivery"
	"github.com/gurre/trailcheck/logging"
	"github.com/gurre/trailcheck/notification"
	"github.com/gurre/trailcheck/preflight"
	"github.com/gurre/trailcheck/trail"
)

// exitUsage is returned for command-line parse errors, matching flag.ExitOnError.
const exitUsage = 2

// errUsage marks errors caused by malformed command-line arguments.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// run parses args, wires the stages and returns the process exit code.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return coordinator.ExitSuccess
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	case err != nil:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return coordinator.ExitFailure
	}

	logger, err := logging.New(stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return coordinator.ExitFailure
	}

	sess, err := aws.NewSession(ctx, cfg.Region, cfg.Profile)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		return coordinator.ExitFailure
	}

	coord, err := build(cfg, sess, logger)
	if err != nil {
		logger.Error("failed to initialise", "err", err)
		return coordinator.ExitFailure
	}

	logger.Info("starting CloudTrail pipeline test",
		"trail", cfg.TrailName, "bucket", cfg.Bucket, "prefix", cfg.Prefix,
		"queue_url", cfg.QueueURL, "region", sess.Region(), "profile", sess.Profile(), "wait", cfg.WaitTime)
	return coord.Run(ctx).ExitCode()
}

// parseFlags builds a validated configuration from the command line.
func parseFlags(args []string, output io.Writer) (*config.Config, error) {
	cfg := config.Default()

	fs := flag.NewFlagSet("trailcheck", flag.ContinueOnError)
	fs.SetOutput(output)

	// Required flags
	fs.StringVar(&cfg.Bucket, "bucket", "", "S3 bucket receiving CloudTrail logs (name or s3://bucket/prefix)")
	fs.StringVar(&cfg.QueueURL, "queue-url", "", "SQS queue URL receiving bucket notifications")
	fs.StringVar(&cfg.TrailName, "trail-name", "", "CloudTrail trail name")

	// Optional flags
	fs.StringVar(&cfg.Region, "region", config.DefaultRegion, "AWS region")
	fs.StringVar(&cfg.Profile, "profile", "", "AWS shared config profile")
	waitSeconds := fs.Int("wait-time", int(config.DefaultWaitTime/time.Second), "Maximum time in seconds to wait for each delivery")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", config.DefaultPollInterval, "Delay between delivery checks")
	fs.IntVar(&cfg.LongPoll, "long-poll", config.DefaultLongPoll, "SQS receive wait time in seconds (0-20)")
	fs.StringVar(&cfg.Prefix, "prefix", config.DefaultPrefix, "Key prefix listed for delivered logs")
	fs.DurationVar(&cfg.ScratchPause, "scratch-pause", config.DefaultScratchPause, "Pause between creating and deleting the test bucket")
	fs.BoolVar(&cfg.Preflight, "preflight", false, "Simulate the required IAM permissions before testing")
	fs.BoolVar(&cfg.Inspect, "inspect", false, "Decode one delivered log object")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text|json)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to parse flags: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments: %v", errUsage, fs.Args())
	}
	cfg.WaitTime = time.Duration(*waitSeconds) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// build wires the stages onto real AWS clients.
func build(cfg *config.Config, sess *aws.Session, logger *slog.Logger) (*coordinator.Coordinator, error) {
	s3Client := sess.S3()

	checker, err := trail.NewChecker(sess.CloudTrail(), logger)
	if err != nil {
		return nil, err
	}

	generator, err := activity.NewGenerator(s3Client, sess.Region(), cfg.ScratchPause, logger)
	if err != nil {
		return nil, err
	}

	deliveryVerifier, err := delivery.NewVerifier(s3Client, delivery.Settings{
		Bucket:   cfg.Bucket,
		Prefix:   cfg.Prefix,
		MaxKeys:  cfg.MaxKeys,
		Wait:     cfg.WaitTime,
		Interval: cfg.PollInterval,
	}, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Inspect {
		inspector, err := delivery.NewInspector(s3streamer.NewS3Streamer(s3Client), logger)
		if err != nil {
			return nil, err
		}
		deliveryVerifier.WithInspector(inspector)
	}

	notificationVerifier, err := notification.NewVerifier(sess.SQS(), notification.Settings{
		QueueURL: cfg.QueueURL,
		LongPoll: cfg.LongPoll,
		Wait:     cfg.WaitTime,
		Interval: cfg.PollInterval,
	}, logger)
	if err != nil {
		return nil, err
	}

	coord, err := coordinator.NewCoordinator(cfg.TrailName, checker, generator, deliveryVerifier, notificationVerifier, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Preflight {
		pf, err := preflight.NewChecker(sess.IAM(), sess.STS(), logger)
		if err != nil {
			return nil, err
		}
		coord.WithPreflight(pf)
	}
	return coord, nil
}
