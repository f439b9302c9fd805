package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yairfalse/valvo/telemetry"
	"github.com/yairfalse/valvo/types"
	"github.com/yairfalse/valvo/wal"
)

// ErrAction marks a failed corrective API call. It is fatal for the
// invocation; the delivery mechanism redelivers and the idempotent actions
// converge on re-execution.
var ErrAction = errors.New("remediation action failed")

// ErrInvalidRequest marks a malformed remediation invocation payload
var ErrInvalidRequest = errors.New("invalid remediation request")

// Broker acquires scoped cross-account credentials
type Broker interface {
	Assume(ctx context.Context, accountID string) (Credentials, error)
}

// Engine applies one corrective action per violation under the safety
// policy. State machine per invocation:
//
//	received → environment_resolved → safety_checked → credential_acquired
//	         → action_executed → done
//
// with a blocked → notified branch when the safety policy vetoes the
// action. Credentials are acquired per invocation and never retained.
type Engine struct {
	broker       Broker
	factory      ClientFactory
	notifier     Notifier
	environments *EnvironmentResolver
	safety       *SafetyPolicy
	tagSets      map[string]map[string]string
	trail        *wal.WAL
	logger       *telemetry.Logger
}

// NewEngine creates a remediation engine. trail and logger may be nil.
func NewEngine(
	broker Broker,
	factory ClientFactory,
	notifier Notifier,
	environments *EnvironmentResolver,
	tagSets map[string]map[string]string,
	trail *wal.WAL,
	logger *telemetry.Logger,
) *Engine {
	return &Engine{
		broker:       broker,
		factory:      factory,
		notifier:     notifier,
		environments: environments,
		safety:       NewSafetyPolicy(environments),
		tagSets:      tagSets,
		trail:        trail,
		logger:       logger,
	}
}

// HandleInvocation processes a raw {action, compliance_data} payload as
// dispatched by the router
func (e *Engine) HandleInvocation(ctx context.Context, payload []byte) (*types.Result, error) {
	var req types.RemediationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.Action != types.RequestRemediate {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, req.Action)
	}

	record := req.ComplianceData
	if !record.HasIdentity() {
		return nil, fmt.Errorf("%w: missing required fields in compliance data", ErrInvalidRequest)
	}

	return e.Remediate(ctx, &record)
}

// Remediate runs the full state machine for one violation
func (e *Engine) Remediate(ctx context.Context, record *types.ViolationRecord) (*types.Result, error) {
	environment := e.environments.Resolve(record.AccountID)

	e.appendTrail(ctx, wal.EntryReceived, record.ResourceID, record)

	if vetoed, reason := e.safety.Check(record.RuleName, record.AccountID); vetoed {
		return e.escalateBlocked(ctx, record, environment, reason)
	}

	creds, err := e.broker.Assume(ctx, record.AccountID)
	if err != nil {
		e.appendTrailError(ctx, wal.EntryFailed, record.ResourceID, record, err)
		return nil, err
	}

	clients, err := e.factory(ctx, creds, record.Region)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredential, err)
	}

	e.appendTrail(ctx, wal.EntryExecuting, record.ResourceID, record)

	handled, err := e.execute(ctx, clients, record, environment)
	if err != nil {
		e.appendTrailError(ctx, wal.EntryFailed, record.ResourceID, record, err)
		if e.logger != nil {
			e.logger.WithContext(ctx).Error().
				Err(err).
				Str("rule", record.RuleName).
				Str("resource_id", record.ResourceID).
				Str("account_id", record.AccountID).
				Str("environment", string(environment)).
				Msg("remediation failed")
		}
		return nil, err
	}

	if !handled {
		e.appendTrail(ctx, wal.EntrySkipped, record.ResourceID, record)
		if e.logger != nil {
			e.logger.WithContext(ctx).Warn().
				Str("rule", record.RuleName).
				Msg("no remediation defined for rule")
		}
		return &types.Result{
			Status:      types.StatusSkipped,
			Message:     fmt.Sprintf("no remediation defined for %s", record.RuleName),
			RuleName:    record.RuleName,
			ResourceID:  record.ResourceID,
			AccountID:   record.AccountID,
			Severity:    record.Severity,
			Action:      types.ActionNone,
			Environment: string(environment),
		}, nil
	}

	e.appendTrail(ctx, wal.EntryExecuted, record.ResourceID, record)
	if telemetry.RemediationsExecuted != nil {
		telemetry.RemediationsExecuted.Add(ctx, 1)
	}
	if e.logger != nil {
		e.logger.LogRemediation(ctx, record.RuleName, record.ResourceID, record.AccountID, string(environment))
	}

	return &types.Result{
		Status:      types.StatusProcessed,
		Message:     fmt.Sprintf("successfully remediated %s on %s", record.RuleName, record.ResourceID),
		RuleName:    record.RuleName,
		ResourceID:  record.ResourceID,
		AccountID:   record.AccountID,
		Severity:    record.Severity,
		Action:      types.ActionAutoRemediate,
		Environment: string(environment),
	}, nil
}

// escalateBlocked handles the blocked → notified branch. The absence of
// remediation is the intended outcome here, so the result is a success.
func (e *Engine) escalateBlocked(ctx context.Context, record *types.ViolationRecord, environment Environment, reason string) (*types.Result, error) {
	e.appendTrail(ctx, wal.EntryBlocked, record.ResourceID, record)
	if telemetry.RemediationsBlocked != nil {
		telemetry.RemediationsBlocked.Add(ctx, 1)
	}
	if e.logger != nil {
		e.logger.LogRemediationBlocked(ctx, record.RuleName, record.ResourceID, string(environment), reason)
	}

	escalated := *record
	escalated.Severity = types.SeverityHigh
	escalated.Annotation = reason

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, &escalated); err != nil {
			return nil, err
		}
	}

	return &types.Result{
		Status:      types.StatusProcessed,
		Message:     reason,
		RuleName:    record.RuleName,
		ResourceID:  record.ResourceID,
		AccountID:   record.AccountID,
		Severity:    types.SeverityHigh,
		Action:      types.ActionNotify,
		Environment: string(environment),
	}, nil
}

// execute dispatches to the action catalog. handled=false means no
// remediation is defined for the rule, an expected non-error outcome.
func (e *Engine) execute(ctx context.Context, clients *Clients, record *types.ViolationRecord, environment Environment) (handled bool, err error) {
	switch record.RuleName {
	case "s3-bucket-public-read-prohibited",
		"s3-bucket-public-write-prohibited",
		"s3-bucket-level-public-access-prohibited":
		return true, blockPublicAccess(ctx, clients.S3, record.ResourceID)

	case "required-tags":
		return true, e.applyDefaultTags(ctx, clients, record, e.tagsFor(environment))

	case "restricted-ssh":
		return true, e.revokeIngress(ctx, clients, record, portSSH)

	case "restricted-rdp":
		return true, e.revokeIngress(ctx, clients, record, portRDP)

	default:
		return false, nil
	}
}

func (e *Engine) revokeIngress(ctx context.Context, clients *Clients, record *types.ViolationRecord, port int32) error {
	revoked, err := revokeOpenIngress(ctx, clients.EC2, record.ResourceID, port)
	if err != nil {
		return err
	}

	if e.logger != nil {
		e.logger.WithContext(ctx).Info().
			Str("group_id", record.ResourceID).
			Int32("port", port).
			Int("rules_revoked", revoked).
			Msg("open ingress revoked")
	}

	return nil
}

func (e *Engine) tagsFor(environment Environment) map[string]string {
	if tags, ok := e.tagSets[string(environment)]; ok {
		return tags
	}
	return e.tagSets["default"]
}

func (e *Engine) appendTrail(ctx context.Context, entryType wal.EntryType, resourceID string, data interface{}) {
	if e.trail == nil {
		return
	}
	if err := e.trail.Append(entryType, resourceID, data); err != nil && e.logger != nil {
		e.logger.WithContext(ctx).Warn().Err(err).Msg("audit trail append failed")
	}
}

func (e *Engine) appendTrailError(ctx context.Context, entryType wal.EntryType, resourceID string, data interface{}, cause error) {
	if e.trail == nil {
		return
	}
	if err := e.trail.AppendError(entryType, resourceID, data, cause); err != nil && e.logger != nil {
		e.logger.WithContext(ctx).Warn().Err(err).Msg("audit trail append failed")
	}
}
