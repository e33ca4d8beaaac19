package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
	"github.com/cloud-guardrail/cloud-guardrail/internal/db/models"
	"github.com/cloud-guardrail/cloud-guardrail/internal/safego"
)

// redactedPlaceholder replaces the override code in stored request data. The
// plaintext secret must never reach the database.
const redactedPlaceholder = "[REDACTED]"

// Store is the append-only persistence interface the recorder writes to.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder turns action outcomes into immutable audit rows. The database
// write is synchronous and its failure propagates to the caller; external
// shipping is asynchronous and best-effort.
type Recorder struct {
	store        Store
	shipper      Shipper
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewRecorder creates a recorder. shipper may be nil when no external
// destinations are configured.
func NewRecorder(store Store, shipper Shipper, writeTimeout time.Duration, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:        store,
		shipper:      shipper,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// RecordOutcome writes one audit row for one per-resource outcome. A store
// error is returned to the caller so it can be escalated as an audit write
// failure; it is never swallowed.
func (r *Recorder) RecordOutcome(ctx context.Context, req *action.Request, caller action.Caller, outcome *action.Outcome) error {
	entry := buildEntry(req, caller, outcome)

	writeCtx := ctx
	if r.writeTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, r.writeTimeout)
		defer cancel()
	}

	if err := r.store.CreateAuditLog(writeCtx, entry); err != nil {
		return err
	}

	if r.shipper != nil {
		safego.Go(func() {
			shipCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.shipper.Ship(shipCtx, entry); err != nil {
				r.logger.Error("audit shipping failed",
					"audit_id", entry.ID,
					"resource_id", entry.ResourceID,
					"error", err,
				)
			}
		})
	}

	return nil
}

// buildEntry normalizes one outcome into an audit row. The override code is
// redacted before it touches the entry; only its presence is recorded.
func buildEntry(req *action.Request, caller action.Caller, outcome *action.Outcome) *models.AuditLog {
	requestData := map[string]interface{}{
		"resource_ids": req.ResourceIDs,
		"dry_run":      req.DryRun,
	}
	if len(req.Params) > 0 {
		requestData["params"] = map[string]interface{}(req.Params)
	}
	if req.OverrideCode != "" {
		requestData["override_code"] = redactedPlaceholder
	}

	responseData := make(map[string]interface{}, len(outcome.Response)+2)
	for k, v := range outcome.Response {
		responseData[k] = v
	}
	if outcome.Message != "" {
		responseData["message"] = outcome.Message
	}
	if outcome.ErrorDetail != nil {
		responseData["error"] = map[string]interface{}{
			"code":      outcome.ErrorDetail.Code,
			"message":   outcome.ErrorDetail.Message,
			"retryable": outcome.ErrorDetail.Retryable,
		}
	}

	return &models.AuditLog{
		UserEmail:    caller.Email,
		UserRole:     caller.Role,
		Action:       string(req.Action),
		ResourceType: string(req.ResourceType),
		ResourceID:   outcome.ResourceID,
		AccountID:    optional(req.AccountID),
		Region:       optional(req.Region),
		Status:       outcome.Status,
		RequestData:  requestData,
		ResponseData: responseData,
		ClientIP:     caller.ClientIP,
		UserAgent:    caller.UserAgent,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
