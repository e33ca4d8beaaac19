package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloud-guardrail/cloud-guardrail/internal/protection"
	"github.com/cloud-guardrail/cloud-guardrail/internal/telemetry"
)

// TagProvider fetches the current tag set for a resource. Used for protection
// evaluation only.
type TagProvider interface {
	GetTags(ctx context.Context, resourceType ResourceType, resourceID, accountID string) (map[string]string, error)
}

// AuditSink records one entry per attempted action. Implemented by the audit
// recorder; kept as an interface here so the executor can be tested without a
// database.
type AuditSink interface {
	RecordOutcome(ctx context.Context, req *Request, caller Caller, outcome *Outcome) error
}

// Executor drives a single action request across a batch of resource ids:
// tags, policy check, adapter call, audit write, in that order per id.
type Executor struct {
	registry    *Registry
	policy      *protection.Engine
	tags        TagProvider
	sink        AuditSink
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewExecutor creates an executor. All collaborators are required.
// callTimeout bounds each tag fetch and adapter call independently; zero
// disables the per-call deadline.
func NewExecutor(registry *Registry, policy *protection.Engine, tags TagProvider, sink AuditSink, callTimeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		registry:    registry,
		policy:      policy,
		tags:        tags,
		sink:        sink,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// callContext derives a context for one upstream call. Each call gets its own
// deadline so a single hung request cannot stall the remainder of the batch.
func (e *Executor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.callTimeout)
}

// Validate checks the structural requirements of a request.
func (r *Request) Validate() error {
	if r.ResourceType == "" {
		return &ValidationError{Field: "resource_type", Message: "must not be empty"}
	}
	if r.Action == "" {
		return &ValidationError{Field: "action", Message: "must not be empty"}
	}
	if len(r.ResourceIDs) == 0 {
		return &ValidationError{Field: "resource_ids", Message: "must not be empty"}
	}
	for i, id := range r.ResourceIDs {
		if id == "" {
			return &ValidationError{Field: "resource_ids", Message: fmt.Sprintf("entry %d is empty", i)}
		}
	}
	return nil
}

// Run executes the request and returns one outcome per input id, preserving
// input order. A failure on one id never aborts the rest of the batch. The
// two exceptions that do stop processing are request cancellation (already
// completed ids keep their outcomes and audit entries) and an audit write
// failure, because continuing to mutate resources while the audit store is
// down would leave unaudited actions.
func (e *Executor) Run(ctx context.Context, req *Request, caller Caller) ([]Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	adapter, ok := e.registry.Resolve(req.ResourceType, req.Action)
	if !ok {
		return nil, &ValidationError{
			Field:   "action",
			Message: fmt.Sprintf("unsupported combination %s/%s (supported: %s)", req.ResourceType, req.Action, strings.Join(e.registry.Supported(), ", ")),
		}
	}

	outcomes := make([]Outcome, 0, len(req.ResourceIDs))
	for _, id := range req.ResourceIDs {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcome := e.processOne(ctx, adapter, req, id)

		// The audit write is detached from the caller's cancellation: an
		// attempt that reached the execute step must be recorded even if the
		// client went away.
		if err := e.sink.RecordOutcome(context.WithoutCancel(ctx), req, caller, &outcome); err != nil {
			telemetry.AuditWriteFailuresTotal.Inc()
			e.logger.Error("audit write failed",
				"resource_id", id,
				"action", req.Action,
				"resource_type", req.ResourceType,
				"error", err,
			)
			outcomes = append(outcomes, outcome)
			return outcomes, &AuditWriteError{ResourceID: id, Err: err}
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// processOne runs the policy check and adapter call for one resource id. It
// always returns a terminal outcome; an adapter panic becomes a failed
// outcome rather than tearing down the batch, so the audit write still
// happens.
func (e *Executor) processOne(ctx context.Context, adapter Adapter, req *Request, id string) (outcome Outcome) {
	outcome = Outcome{ResourceID: id, StartedAt: time.Now().UTC()}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("adapter panic",
				"resource_id", id,
				"action", req.Action,
				"resource_type", req.ResourceType,
				"panic", r,
			)
			outcome.Status = StatusFailed
			outcome.Message = "internal error during execution"
			outcome.ErrorDetail = &ErrorDetail{Code: "InternalError", Message: fmt.Sprint(r)}
		}
		outcome.CompletedAt = time.Now().UTC()
		telemetry.ResourceActionsTotal.WithLabelValues(string(req.ResourceType), string(req.Action), outcome.Status).Inc()
		telemetry.ResourceActionDuration.WithLabelValues(string(req.ResourceType), string(req.Action)).
			Observe(outcome.CompletedAt.Sub(outcome.StartedAt).Seconds())
	}()

	// Tag fetch is fail-open: a metadata outage must not freeze operations,
	// so a resource whose tags cannot be read is treated as unprotected.
	tagCtx, cancelTags := e.callContext(ctx)
	tags, err := e.tags.GetTags(tagCtx, req.ResourceType, id, req.AccountID)
	cancelTags()
	if err != nil {
		e.logger.Warn("tag fetch failed, treating resource as unprotected",
			"resource_id", id,
			"resource_type", req.ResourceType,
			"error", err,
		)
		tags = nil
	}

	decision := e.policy.Evaluate(string(req.Action), tags, req.OverrideCode)
	if !decision.Allowed {
		outcome.Status = StatusBlocked
		outcome.Message = decision.Reason
		outcome.ErrorDetail = &ErrorDetail{Code: "override_required", Message: decision.Reason}
		return outcome
	}

	execCtx, cancelExec := e.callContext(ctx)
	defer cancelExec()
	result := adapter.Execute(execCtx, id, req.Params, req.DryRun)
	outcome.Status = result.Status
	outcome.Message = result.Message
	outcome.Response = result.Response
	outcome.ErrorDetail = result.Error
	return outcome
}
