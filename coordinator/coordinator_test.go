package coordinator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurre/trailcheck/activity"
	"github.com/gurre/trailcheck/delivery"
	"github.com/gurre/trailcheck/failure"
	"github.com/gurre/trailcheck/notification"
	"github.com/gurre/trailcheck/preflight"
	"github.com/gurre/trailcheck/trail"
)

// calls records the order in which stages are invoked.
type calls []string

type mockTrail struct {
	log *calls
	err error
}

func (m *mockTrail) Check(ctx context.Context, name string) (trail.Status, error) {
	*m.log = append(*m.log, "trail:"+name)
	return trail.Status{Name: name, IsLogging: m.err == nil}, m.err
}

type mockActivity struct {
	log *calls
	sum activity.Summary
	err error
}

func (m *mockActivity) Generate(ctx context.Context) (activity.Summary, error) {
	*m.log = append(*m.log, "activity")
	return m.sum, m.err
}

type mockDelivery struct {
	log *calls
	res delivery.Result
	err error
}

func (m *mockDelivery) Verify(ctx context.Context) (delivery.Result, error) {
	*m.log = append(*m.log, "delivery")
	return m.res, m.err
}

type mockNotification struct {
	log *calls
	res notification.Result
	err error
}

func (m *mockNotification) Verify(ctx context.Context) (notification.Result, error) {
	*m.log = append(*m.log, "notification")
	return m.res, m.err
}

type mockPreflight struct {
	log *calls
	rep preflight.Report
}

func (m *mockPreflight) Run(ctx context.Context) preflight.Report {
	*m.log = append(*m.log, "preflight")
	return m.rep
}

type fixture struct {
	log          calls
	trail        *mockTrail
	activity     *mockActivity
	delivery     *mockDelivery
	notification *mockNotification
	buf          bytes.Buffer
}

func newFixture() *fixture {
	f := &fixture{}
	f.trail = &mockTrail{log: &f.log}
	f.activity = &mockActivity{log: &f.log}
	f.delivery = &mockDelivery{log: &f.log, res: delivery.Result{Keys: []string{"k1", "k2"}, Attempts: 3}}
	f.notification = &mockNotification{log: &f.log, res: notification.Result{Received: 1, Attempts: 1, Deleted: true}}
	return f
}

func (f *fixture) coordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := NewCoordinator("org-trail", f.trail, f.activity, f.delivery, f.notification,
		slog.New(slog.NewTextHandler(&f.buf, nil)))
	require.NoError(t, err)
	return c
}

func TestCoordinatorHappyPath(t *testing.T) {
	f := newFixture()

	out := f.coordinator(t).Run(context.Background())

	require.NoError(t, out.Err)
	assert.Equal(t, Done, out.State)
	assert.Equal(t, ExitSuccess, out.ExitCode())
	assert.Empty(t, out.FailedAt)
	assert.Equal(t, calls{"trail:org-trail", "activity", "delivery", "notification"}, f.log)
	assert.Equal(t, []State{CheckingTrail, GeneratingActivity, VerifyingDelivery, VerifyingNotification}, out.Visited)

	assert.Equal(t, "succeeded", out.Report.Outcome)
	assert.Equal(t, int64(4), out.Report.PollAttempts)
	assert.Equal(t, int64(2), out.Report.ObjectsFound)
	assert.Equal(t, int64(1), out.Report.MessagesReceived)
	assert.Len(t, out.Report.Stages, 4)
	assert.Contains(t, f.buf.String(), "all tests passed successfully")
}

func TestCoordinator_TrailNotLoggingStopsRun(t *testing.T) {
	f := newFixture()
	f.trail.err = failure.Verification("cloudtrail:GetTrailStatus", "trail is not logging")

	out := f.coordinator(t).Run(context.Background())

	assert.Equal(t, Failed, out.State)
	assert.Equal(t, CheckingTrail, out.FailedAt)
	assert.Equal(t, ExitFailure, out.ExitCode())
	assert.Equal(t, calls{"trail:org-trail"}, f.log, "no later stage may run")
	assert.True(t, failure.IsKind(out.Err, failure.VerificationFailed))
	assert.Equal(t, "CheckingTrail", out.Report.FailedStage)
}

func TestCoordinator_EachStageFailureShortCircuits(t *testing.T) {
	tests := []struct {
		name     string
		breakIt  func(f *fixture)
		failedAt State
		ran      calls
		kind     failure.Kind
	}{
		{
			name:     "trail request",
			breakIt:  func(f *fixture) { f.trail.err = failure.Request("cloudtrail:GetTrailStatus", errors.New("boom")) },
			failedAt: CheckingTrail,
			ran:      calls{"trail:org-trail"},
			kind:     failure.RequestFailed,
		},
		{
			name:     "activity listing",
			breakIt:  func(f *fixture) { f.activity.err = failure.Request("s3:ListBuckets", errors.New("boom")) },
			failedAt: GeneratingActivity,
			ran:      calls{"trail:org-trail", "activity"},
			kind:     failure.RequestFailed,
		},
		{
			name:     "delivery timeout",
			breakIt:  func(f *fixture) { f.delivery.err = failure.Timeout("s3:ListObjectsV2", stringer("5m0s")) },
			failedAt: VerifyingDelivery,
			ran:      calls{"trail:org-trail", "activity", "delivery"},
			kind:     failure.TimeoutExceeded,
		},
		{
			name:     "notification request",
			breakIt:  func(f *fixture) { f.notification.err = failure.Request("sqs:ReceiveMessage", errors.New("boom")) },
			failedAt: VerifyingNotification,
			ran:      calls{"trail:org-trail", "activity", "delivery", "notification"},
			kind:     failure.RequestFailed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			tc.breakIt(f)

			out := f.coordinator(t).Run(context.Background())

			assert.Equal(t, Failed, out.State)
			assert.Equal(t, ExitFailure, out.ExitCode())
			assert.Equal(t, tc.failedAt, out.FailedAt)
			assert.Equal(t, tc.ran, f.log)
			assert.Equal(t, tc.kind, failure.KindOf(out.Err))
			assert.Contains(t, f.buf.String(), "verification failed")
		})
	}
}

func TestCoordinator_WarningsDoNotFailRun(t *testing.T) {
	f := newFixture()
	f.activity.sum.Warnings = []*failure.Error{failure.Warning("s3:DeleteBucket", errors.New("AccessDenied"))}
	f.notification.res.Warnings = []*failure.Error{failure.Warning("sqs:DeleteMessage", errors.New("boom"))}

	out := f.coordinator(t).Run(context.Background())

	assert.Equal(t, Done, out.State)
	assert.Equal(t, int64(2), out.Report.Warnings)
}

func TestCoordinator_WarningErrorDoesNotStopRun(t *testing.T) {
	f := newFixture()
	f.activity.err = failure.Warning("s3:CreateBucket", errors.New("TooManyBuckets"))

	out := f.coordinator(t).Run(context.Background())

	require.NoError(t, out.Err)
	assert.Equal(t, Done, out.State)
	assert.Equal(t, calls{"trail:org-trail", "activity", "delivery", "notification"}, f.log)
	assert.Equal(t, int64(1), out.Report.Warnings)
	assert.Contains(t, f.buf.String(), "non-fatal")
}

func TestCoordinator_UnclassifiedErrorIsFatal(t *testing.T) {
	f := newFixture()
	f.delivery.err = errors.New("boom")

	out := f.coordinator(t).Run(context.Background())

	assert.Equal(t, Failed, out.State)
	assert.Equal(t, VerifyingDelivery, out.FailedAt)
	assert.Equal(t, calls{"trail:org-trail", "activity", "delivery"}, f.log)
}

func TestCoordinator_PreflightIsAdvisory(t *testing.T) {
	f := newFixture()
	pf := &mockPreflight{log: &f.log, rep: preflight.Report{
		Denied:   []string{"s3:CreateBucket"},
		Warnings: []*failure.Error{failure.Warning("iam:SimulatePrincipalPolicy", errors.New("denied"))},
	}}

	out := f.coordinator(t).WithPreflight(pf).Run(context.Background())

	assert.Equal(t, Done, out.State)
	assert.Equal(t, calls{"preflight", "trail:org-trail", "activity", "delivery", "notification"}, f.log)
	assert.Equal(t, Preflight, out.Visited[0])
	assert.Equal(t, int64(1), out.Report.Warnings)
}

func TestNewCoordinator_Validation(t *testing.T) {
	f := newFixture()
	_, err := NewCoordinator("", f.trail, f.activity, f.delivery, f.notification, nil)
	require.Error(t, err)
	_, err = NewCoordinator("org-trail", nil, f.activity, f.delivery, f.notification, nil)
	require.Error(t, err)
}

type stringer string

func (s stringer) String() string { return string(s) }
