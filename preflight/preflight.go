// Package preflight simulates the caller's IAM permissions for the calls a
// verification run makes. Results are advisory: a denied simulation does not
// prove the real call fails (resource policies and SCPs are not evaluated
// the same way), so every finding is a warning.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/gurre/trailcheck/aws"
	"github.com/gurre/trailcheck/failure"
	"github.com/gurre/trailcheck/logging"
)

// Actions are the IAM actions a run needs.
var Actions = []string{
	"cloudtrail:GetTrailStatus",
	"s3:ListAllMyBuckets",
	"s3:CreateBucket",
	"s3:DeleteBucket",
	"s3:ListBucket",
	"s3:GetObject",
	"sqs:ReceiveMessage",
	"sqs:DeleteMessage",
}

// Report is the outcome of a preflight.
type Report struct {
	Principal string
	Allowed   []string
	Denied    []string
	Warnings  []*failure.Error
}

// Checker runs the simulation.
type Checker struct {
	iam    aws.IAMClient
	sts    aws.STSClient
	logger *slog.Logger
}

// NewChecker creates a Checker.
func NewChecker(iamClient aws.IAMClient, stsClient aws.STSClient, logger *slog.Logger) (*Checker, error) {
	if iamClient == nil || stsClient == nil {
		return nil, errors.New("preflight: clients must not be nil")
	}
	return &Checker{iam: iamClient, sts: stsClient, logger: logging.OrDefault(logger)}, nil
}

// Run never returns an error; every problem is recorded as a warning.
func (c *Checker) Run(ctx context.Context) Report {
	var rep Report

	id, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return c.warn(rep, "sts:GetCallerIdentity", err)
	}
	if id.Arn == nil {
		return c.warn(rep, "sts:GetCallerIdentity", errors.New("caller identity has no ARN"))
	}
	principal, err := PrincipalARN(*id.Arn)
	if err != nil {
		return c.warn(rep, "sts:GetCallerIdentity", err)
	}
	rep.Principal = principal
	c.logger.Info("simulating permissions", "principal", principal, "actions", len(Actions))

	in := &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: &principal,
		ActionNames:     Actions,
	}
	p := iam.NewSimulatePrincipalPolicyPaginator(c.iam, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return c.warn(rep, "iam:SimulatePrincipalPolicy", err)
		}
		for _, r := range out.EvaluationResults {
			c.record(&rep, r)
		}
	}
	return rep
}

func (c *Checker) record(rep *Report, r iamtypes.EvaluationResult) {
	if r.EvalActionName == nil {
		return
	}
	action := *r.EvalActionName
	if r.EvalDecision == iamtypes.PolicyEvaluationDecisionTypeAllowed {
		rep.Allowed = append(rep.Allowed, action)
		return
	}
	rep.Denied = append(rep.Denied, action)
	w := failure.Warning("iam:SimulatePrincipalPolicy", fmt.Errorf("%s: %s", action, r.EvalDecision))
	rep.Warnings = append(rep.Warnings, w)
	c.logger.Warn("permission not allowed by simulation", "action", action, "decision", string(r.EvalDecision))
}

func (c *Checker) warn(rep Report, op string, err error) Report {
	rep.Warnings = append(rep.Warnings, failure.Warning(op, err))
	c.logger.Warn("permission preflight skipped", "op", op, "err", err)
	return rep
}

// PrincipalARN converts a caller ARN into one SimulatePrincipalPolicy
// accepts. Assumed-role session ARNs map to the role ARN; the role path is
// not recoverable from the session ARN and is assumed to be "/".
func PrincipalARN(callerARN string) (string, error) {
	parts := strings.SplitN(callerARN, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return "", fmt.Errorf("invalid ARN: %s", callerARN)
	}
	partition, service, account, resource := parts[1], parts[2], parts[4], parts[5]

	if service == "sts" && strings.HasPrefix(resource, "assumed-role/") {
		segs := strings.Split(resource, "/")
		if len(segs) < 3 || segs[1] == "" {
			return "", fmt.Errorf("invalid assumed-role ARN: %s", callerARN)
		}
		return fmt.Sprintf("arn:%s:iam::%s:role/%s", partition, account, segs[1]), nil
	}
	if service == "iam" {
		return callerARN, nil
	}
	return "", fmt.Errorf("unsupported principal for simulation: %s", callerARN)
}
