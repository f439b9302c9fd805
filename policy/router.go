package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/yairfalse/valvo/telemetry"
	"github.com/yairfalse/valvo/types"
)

// ErrDispatch marks a failed downstream invocation. It propagates out of
// the pipeline so the delivery mechanism redelivers the event; re-running
// is safe because recording and remediation are idempotent.
var ErrDispatch = errors.New("downstream dispatch failed")

// LambdaAPI defines the Lambda operations used by the router
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Router dispatches a classified, recorded violation by severity tier:
// LOW goes to remediation, MEDIUM to notification, HIGH is logged only.
// Dispatch is fire-and-forget: invocations are asynchronous and the router
// never waits for remediation or notification to complete.
type Router struct {
	client               LambdaAPI
	remediationFunction  string
	notificationFunction string
	logger               *telemetry.Logger
	now                  func() time.Time
}

// NewRouter creates a router. Empty function names disable the
// corresponding dispatch with a warning, mirroring an unconfigured
// collaborator rather than failing hard.
func NewRouter(client LambdaAPI, remediationFunction, notificationFunction string, logger *telemetry.Logger) *Router {
	return &Router{
		client:               client,
		remediationFunction:  remediationFunction,
		notificationFunction: notificationFunction,
		logger:               logger,
		now:                  time.Now,
	}
}

// Route dispatches one violation according to its severity
func (r *Router) Route(ctx context.Context, record *types.ViolationRecord) error {
	switch record.Severity {
	case types.SeverityLow:
		return r.invoke(ctx, r.remediationFunction, types.RequestRemediate, record)
	case types.SeverityMedium:
		return r.Notify(ctx, record)
	case types.SeverityHigh:
		if r.logger != nil {
			r.logger.WithContext(ctx).Info().
				Str("rule", record.RuleName).
				Str("resource_id", record.ResourceID).
				Msg("HIGH severity, logging only, manual review required")
		}
		return nil
	default:
		return fmt.Errorf("cannot route unclassified violation %s", record.EventID)
	}
}

// Notify dispatches a notification regardless of severity. The remediation
// engine also uses this path to escalate safety-blocked violations.
func (r *Router) Notify(ctx context.Context, record *types.ViolationRecord) error {
	if err := r.invoke(ctx, r.notificationFunction, types.RequestNotify, record); err != nil {
		return err
	}
	if telemetry.NotificationsSent != nil {
		telemetry.NotificationsSent.Add(ctx, 1)
	}
	return nil
}

func (r *Router) invoke(ctx context.Context, function, action string, record *types.ViolationRecord) error {
	if function == "" {
		if r.logger != nil {
			r.logger.WithContext(ctx).Warn().
				Str("action", action).
				Msg("dispatch target not configured, skipping")
		}
		return nil
	}

	payload, err := json.Marshal(types.RemediationRequest{
		Action:         action,
		ComplianceData: *record,
		InvokedAt:      r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", action, err)
	}

	_, err = r.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %s to %s: %v", ErrDispatch, action, function, err)
	}

	if r.logger != nil {
		r.logger.WithContext(ctx).Info().
			Str("action", action).
			Str("function", function).
			Str("resource_id", record.ResourceID).
			Msg("dispatched")
	}

	return nil
}
