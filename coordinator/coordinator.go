// Package coordinator sequences the verification stages of a run. Stages run
// strictly in order and the first failing stage ends the run.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gurre/trailcheck/activity"
	"github.com/gurre/trailcheck/delivery"
	"github.com/gurre/trailcheck/failure"
	"github.com/gurre/trailcheck/logging"
	"github.com/gurre/trailcheck/metrics"
	"github.com/gurre/trailcheck/notification"
	"github.com/gurre/trailcheck/preflight"
	"github.com/gurre/trailcheck/trail"
)

// State is a node of the run state machine.
type State string

const (
	Preflight             State = "Preflight"
	CheckingTrail         State = "CheckingTrail"
	GeneratingActivity    State = "GeneratingActivity"
	VerifyingDelivery     State = "VerifyingDelivery"
	VerifyingNotification State = "VerifyingNotification"
	Done                  State = "Done"
	Failed                State = "Failed"
)

// Exit codes for the terminal states.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// TrailChecker confirms the trail is logging.
type TrailChecker interface {
	Check(ctx context.Context, name string) (trail.Status, error)
}

// ActivityGenerator produces auditable API calls.
type ActivityGenerator interface {
	Generate(ctx context.Context) (activity.Summary, error)
}

// DeliveryVerifier waits for log objects in S3.
type DeliveryVerifier interface {
	Verify(ctx context.Context) (delivery.Result, error)
}

// NotificationVerifier waits for bucket notifications in SQS.
type NotificationVerifier interface {
	Verify(ctx context.Context) (notification.Result, error)
}

// PermissionChecker runs the optional advisory preflight.
type PermissionChecker interface {
	Run(ctx context.Context) preflight.Report
}

// Outcome is the result of Run.
type Outcome struct {
	State    State   // Done or Failed
	FailedAt State   // stage that failed, empty on success
	Visited  []State // stages entered, in order
	Err      error
	Report   metrics.Report
}

// ExitCode maps the terminal state to a process exit code.
func (o Outcome) ExitCode() int {
	if o.State == Done {
		return ExitSuccess
	}
	return ExitFailure
}

// Coordinator runs the stages.
type Coordinator struct {
	trailName    string
	trail        TrailChecker
	activity     ActivityGenerator
	delivery     DeliveryVerifier
	notification NotificationVerifier
	preflight    PermissionChecker
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewCoordinator creates a Coordinator with all required dependencies.
func NewCoordinator(
	trailName string,
	trailChecker TrailChecker,
	generator ActivityGenerator,
	deliveryVerifier DeliveryVerifier,
	notificationVerifier NotificationVerifier,
	logger *slog.Logger,
) (*Coordinator, error) {
	if trailName == "" {
		return nil, errors.New("coordinator: trail name is required")
	}
	if trailChecker == nil || generator == nil || deliveryVerifier == nil || notificationVerifier == nil {
		return nil, errors.New("coordinator: all stages are required")
	}
	return &Coordinator{
		trailName:    trailName,
		trail:        trailChecker,
		activity:     generator,
		delivery:     deliveryVerifier,
		notification: notificationVerifier,
		metrics:      metrics.NewMetrics(),
		logger:       logging.OrDefault(logger),
		now:          time.Now,
	}, nil
}

// WithPreflight enables the advisory permission preflight.
func (c *Coordinator) WithPreflight(p PermissionChecker) *Coordinator {
	c.preflight = p
	return c
}

// Run executes the stages in order and returns the terminal outcome.
func (c *Coordinator) Run(ctx context.Context) Outcome {
	var out Outcome

	if c.preflight != nil {
		out.Visited = append(out.Visited, Preflight)
		c.stage(Preflight, func() error {
			rep := c.preflight.Run(ctx)
			c.metrics.RecordWarnings(len(rep.Warnings))
			return nil
		})
	}

	stages := []struct {
		state State
		run   func() error
	}{
		{CheckingTrail, func() error {
			_, err := c.trail.Check(ctx, c.trailName)
			return err
		}},
		{GeneratingActivity, func() error {
			sum, err := c.activity.Generate(ctx)
			c.metrics.RecordWarnings(len(sum.Warnings))
			return err
		}},
		{VerifyingDelivery, func() error {
			res, err := c.delivery.Verify(ctx)
			c.metrics.RecordPollAttempts(res.Attempts)
			c.metrics.RecordObjectsFound(len(res.Keys))
			c.metrics.RecordWarnings(len(res.Warnings))
			return err
		}},
		{VerifyingNotification, func() error {
			res, err := c.notification.Verify(ctx)
			c.metrics.RecordPollAttempts(res.Attempts)
			c.metrics.RecordMessagesReceived(res.Received)
			c.metrics.RecordWarnings(len(res.Warnings))
			return err
		}},
	}

	for _, s := range stages {
		out.Visited = append(out.Visited, s.state)
		err := c.stage(s.state, s.run)
		if err != nil && !fatal(err) {
			c.metrics.RecordWarnings(1)
			c.logger.Warn("stage reported a non-fatal problem", "stage", string(s.state), "err", err)
			continue
		}
		if err != nil {
			out.State = Failed
			out.FailedAt = s.state
			out.Err = fmt.Errorf("%s failed: %w", s.state, err)
			c.logger.Error("verification failed", "stage", string(s.state), "kind", string(failure.KindOf(err)), "err", err)
			return c.finish(out)
		}
	}

	out.State = Done
	c.logger.Info("all tests passed successfully")
	return c.finish(out)
}

// fatal reports whether err ends the run. Unclassified errors always do.
func fatal(err error) bool {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe.Fatal()
	}
	return true
}

// stage runs fn and records its timing.
func (c *Coordinator) stage(s State, fn func() error) error {
	start := c.now()
	c.logger.Debug("entering stage", "stage", string(s))
	err := fn()
	c.metrics.RecordStage(string(s), c.now().Sub(start), err == nil)
	return err
}

func (c *Coordinator) finish(out Outcome) Outcome {
	outcome := "succeeded"
	if out.State == Failed {
		outcome = "failed"
	}
	out.Report = c.metrics.GenerateReport(outcome, string(out.FailedAt))
	c.logger.Info("run summary", "report", out.Report)
	return out
}
