package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/valvo/event"
	"github.com/yairfalse/valvo/telemetry"
	"github.com/yairfalse/valvo/types"
)

// ExceptionLookup resolves enforcement waivers
type ExceptionLookup interface {
	Lookup(ctx context.Context, accountID, resourceID, ruleName string) (*types.ExceptionRecord, error)
}

// Classifier assigns severity tiers
type Classifier interface {
	Classify(ruleName string) types.Severity
}

// Recorder persists violation records
type Recorder interface {
	Record(ctx context.Context, record *types.ViolationRecord) (alreadyRecorded bool, err error)
}

// Router dispatches classified violations
type Router interface {
	Route(ctx context.Context, record *types.ViolationRecord) error
}

// Processor runs one compliance event through the full pipeline:
// normalize → exception check → classify → record → route. Each event is
// one independent invocation; the processor holds no mutable state, so
// arbitrarily many can run in parallel.
type Processor struct {
	exceptions ExceptionLookup
	classifier Classifier
	recorder   Recorder
	router     Router
	logger     *telemetry.Logger
}

// New creates a processor from its collaborators
func New(exceptions ExceptionLookup, classifier Classifier, recorder Recorder, router Router, logger *telemetry.Logger) *Processor {
	return &Processor{
		exceptions: exceptions,
		classifier: classifier,
		recorder:   recorder,
		router:     router,
		logger:     logger,
	}
}

// Process handles one raw inbound event. Malformed events and COMPLIANT
// states resolve to a skipped result, not an error; store and dispatch
// failures propagate so the delivery mechanism redelivers.
func (p *Processor) Process(ctx context.Context, raw []byte) (*types.Result, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "process_event")
	defer span.End()

	start := time.Now()
	result, err := p.process(ctx, raw)

	if telemetry.ProcessDuration != nil {
		telemetry.ProcessDuration.Record(ctx, time.Since(start).Seconds())
	}
	if telemetry.EventsProcessed != nil {
		telemetry.EventsProcessed.Add(ctx, 1)
	}

	return result, err
}

func (p *Processor) process(ctx context.Context, raw []byte) (*types.Result, error) {
	record, err := event.Normalize(raw)
	if err != nil {
		if errors.Is(err, event.ErrInvalidEvent) {
			if p.logger != nil {
				p.logger.WithContext(ctx).Warn().Err(err).Msg("not a valid compliance change notification")
			}
			return &types.Result{
				Status:  types.StatusSkipped,
				Message: "skipped: not a compliance event",
			}, nil
		}
		return nil, err
	}

	if !record.IsNonCompliant() {
		if p.logger != nil {
			p.logger.WithContext(ctx).Info().
				Str("resource_id", record.ResourceID).
				Msg("resource is compliant, skipping")
		}
		return &types.Result{
			Status:     types.StatusSkipped,
			Message:    "skipped: resource is compliant",
			RuleName:   record.RuleName,
			ResourceID: record.ResourceID,
			AccountID:  record.AccountID,
		}, nil
	}

	exc, err := p.exceptions.Lookup(ctx, record.AccountID, record.ResourceID, record.RuleName)
	if err != nil {
		return nil, fmt.Errorf("exception lookup: %w", err)
	}
	if exc != nil {
		return p.applyException(ctx, record, exc)
	}

	record.Severity = p.classifier.Classify(record.RuleName)

	if p.logger != nil {
		p.logger.LogViolation(ctx, record.RuleName, record.ResourceID, record.AccountID, string(record.Severity))
	}

	if _, err := p.recorder.Record(ctx, record); err != nil {
		return nil, err
	}

	if err := p.router.Route(ctx, record); err != nil {
		return nil, err
	}

	return &types.Result{
		Status:     types.StatusProcessed,
		Message:    "processed successfully",
		RuleName:   record.RuleName,
		ResourceID: record.ResourceID,
		AccountID:  record.AccountID,
		Severity:   record.Severity,
		Action:     types.ActionForSeverity(record.Severity),
	}, nil
}

// applyException records the waived violation without classifying,
// remediating, or notifying
func (p *Processor) applyException(ctx context.Context, record *types.ViolationRecord, exc *types.ExceptionRecord) (*types.Result, error) {
	record.ExceptionApplied = true
	record.ExceptionReason = exc.Reason

	if p.logger != nil {
		p.logger.LogExceptionApplied(ctx, record.RuleName, record.ResourceID, exc.Reason, exc.ApprovedBy)
	}
	if telemetry.ExceptionHits != nil {
		telemetry.ExceptionHits.Add(ctx, 1)
	}

	if _, err := p.recorder.Record(ctx, record); err != nil {
		return nil, err
	}

	return &types.Result{
		Status:     types.StatusExcepted,
		Message:    fmt.Sprintf("skipped: approved exception exists (%s)", exc.Reason),
		RuleName:   record.RuleName,
		ResourceID: record.ResourceID,
		AccountID:  record.AccountID,
		Action:     types.ActionNone,
	}, nil
}
