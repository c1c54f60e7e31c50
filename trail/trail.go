// Package trail checks that a CloudTrail trail is logging and delivering.
package trail

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/gurre/trailcheck/aws"
	"github.com/gurre/trailcheck/failure"
	"github.com/gurre/trailcheck/logging"
)

const opGetTrailStatus = "cloudtrail:GetTrailStatus"

// Status is the subset of the trail status the verdict is based on.
type Status struct {
	Name                    string
	IsLogging               bool
	LatestDeliveryError     string
	LatestNotificationError string
	LatestDeliveryTime      time.Time
}

// Healthy reports whether the trail is logging without delivery errors.
func (s Status) Healthy() bool {
	return s.IsLogging && strings.TrimSpace(s.LatestDeliveryError) == ""
}

// Checker queries trail status once; there are no retries.
type Checker struct {
	client aws.CloudTrailClient
	logger *slog.Logger
}

// NewChecker creates a Checker.
func NewChecker(client aws.CloudTrailClient, logger *slog.Logger) (*Checker, error) {
	if client == nil {
		return nil, errors.New("trail: client must not be nil")
	}
	return &Checker{client: client, logger: logging.OrDefault(logger)}, nil
}

// Check returns the trail status. It fails with RequestFailed if the call
// errors and with VerificationFailed if the trail is not logging or reports
// a delivery error.
func (c *Checker) Check(ctx context.Context, name string) (Status, error) {
	c.logger.Info("verifying CloudTrail status", "trail", name)

	out, err := c.client.GetTrailStatus(ctx, &cloudtrail.GetTrailStatusInput{Name: &name})
	if err != nil {
		c.logger.Error("error checking CloudTrail status", "trail", name, "err", err)
		return Status{}, failure.Request(opGetTrailStatus, err)
	}

	st := statusFrom(name, out)
	if st.LatestNotificationError != "" {
		c.logger.Warn("CloudTrail notification error", "trail", name, "error", st.LatestNotificationError)
	}

	if !st.IsLogging {
		c.logger.Error("CloudTrail is NOT logging", "trail", name)
		return st, failure.Verification(opGetTrailStatus, "trail is not logging")
	}
	c.logger.Info("CloudTrail is actively logging", "trail", name, "latest_delivery", st.LatestDeliveryTime)

	if !st.Healthy() {
		c.logger.Error("CloudTrail delivery error", "trail", name, "error", st.LatestDeliveryError)
		return st, failure.Verification(opGetTrailStatus, "delivery error: "+st.LatestDeliveryError)
	}
	return st, nil
}

func statusFrom(name string, out *cloudtrail.GetTrailStatusOutput) Status {
	st := Status{Name: name}
	if out == nil {
		return st
	}
	if out.IsLogging != nil {
		st.IsLogging = *out.IsLogging
	}
	if out.LatestDeliveryError != nil {
		st.LatestDeliveryError = *out.LatestDeliveryError
	}
	if out.LatestNotificationError != nil {
		st.LatestNotificationError = *out.LatestNotificationError
	}
	if out.LatestDeliveryTime != nil {
		st.LatestDeliveryTime = *out.LatestDeliveryTime
	}
	return st
}
