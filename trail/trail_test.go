package trail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/stretchr/testify/require"

	"github.com/gurre/trailcheck/failure"
)

type fakeCloudTrail struct {
	out       *cloudtrail.GetTrailStatusOutput
	err       error
	calls     int
	lastInput *cloudtrail.GetTrailStatusInput
}

func (f *fakeCloudTrail) GetTrailStatus(_ context.Context, in *cloudtrail.GetTrailStatusInput, _ ...func(*cloudtrail.Options)) (*cloudtrail.GetTrailStatusOutput, error) {
	f.calls++
	f.lastInput = in
	return f.out, f.err
}

func newTestChecker(t *testing.T, api *fakeCloudTrail) (*Checker, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	c, err := NewChecker(api, slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, err)
	return c, &buf
}

func TestCheck_Logging(t *testing.T) {
	delivered := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeCloudTrail{out: &cloudtrail.GetTrailStatusOutput{
		IsLogging:          awssdk.Bool(true),
		LatestDeliveryTime: &delivered,
	}}
	c, _ := newTestChecker(t, api)

	st, err := c.Check(context.Background(), "org-trail")
	require.NoError(t, err)
	require.True(t, st.Healthy())
	require.Equal(t, delivered, st.LatestDeliveryTime)
	require.Equal(t, "org-trail", *api.lastInput.Name)
	require.Equal(t, 1, api.calls)
}

func TestCheck_NotLogging(t *testing.T) {
	api := &fakeCloudTrail{out: &cloudtrail.GetTrailStatusOutput{IsLogging: awssdk.Bool(false)}}
	c, buf := newTestChecker(t, api)

	_, err := c.Check(context.Background(), "org-trail")
	require.True(t, failure.IsKind(err, failure.VerificationFailed))
	require.Contains(t, buf.String(), "NOT logging")
}

func TestCheck_MissingIsLogging(t *testing.T) {
	c, _ := newTestChecker(t, &fakeCloudTrail{out: &cloudtrail.GetTrailStatusOutput{}})
	_, err := c.Check(context.Background(), "org-trail")
	require.True(t, failure.IsKind(err, failure.VerificationFailed))
}

func TestCheck_DeliveryError(t *testing.T) {
	api := &fakeCloudTrail{out: &cloudtrail.GetTrailStatusOutput{
		IsLogging:           awssdk.Bool(true),
		LatestDeliveryError: awssdk.String("AccessDenied"),
	}}
	c, _ := newTestChecker(t, api)

	st, err := c.Check(context.Background(), "org-trail")
	require.True(t, failure.IsKind(err, failure.VerificationFailed))
	require.ErrorContains(t, err, "AccessDenied")
	require.False(t, st.Healthy())
}

func TestCheck_EmptyDeliveryErrorIsHealthy(t *testing.T) {
	api := &fakeCloudTrail{out: &cloudtrail.GetTrailStatusOutput{
		IsLogging:           awssdk.Bool(true),
		LatestDeliveryError: awssdk.String(""),
	}}
	c, _ := newTestChecker(t, api)
	_, err := c.Check(context.Background(), "org-trail")
	require.NoError(t, err)
}

func TestCheck_NotificationErrorOnlyWarns(t *testing.T) {
	api := &fakeCloudTrail{out: &cloudtrail.GetTrailStatusOutput{
		IsLogging:               awssdk.Bool(true),
		LatestNotificationError: awssdk.String("SNS topic missing"),
	}}
	c, buf := newTestChecker(t, api)

	_, err := c.Check(context.Background(), "org-trail")
	require.NoError(t, err)
	require.Contains(t, buf.String(), "level=WARN")
}

func TestCheck_RequestFailed(t *testing.T) {
	cause := errors.New("TrailNotFoundException")
	c, _ := newTestChecker(t, &fakeCloudTrail{err: cause})

	_, err := c.Check(context.Background(), "org-trail")
	require.True(t, failure.IsKind(err, failure.RequestFailed))
	require.ErrorIs(t, err, cause)
}

func TestNewChecker_NilClient(t *testing.T) {
	_, err := NewChecker(nil, nil)
	require.Error(t, err)
}
