// Package models - audit_log.go defines the AuditLog model: one immutable record
// per attempted resource action, written regardless of how the attempt ended.
package models

import "time"

// Audit entry statuses. Blocked is deliberately distinct from failed: a policy
// denial is not an upstream error.
const (
	AuditStatusSuccess = "success"
	AuditStatusFailed  = "failed"
	AuditStatusDryRun  = "dry_run"
	AuditStatusBlocked = "blocked"
)

// AuditLog represents a single audit trail entry for one resource action attempt.
// A batch request over N resource ids produces N rows, never one aggregate row.
type AuditLog struct {
	ID           string                 `json:"id"`
	UserEmail    *string                `json:"user_email,omitempty"` // nil for system-initiated or unauthenticated callers
	UserRole     *string                `json:"user_role,omitempty"`
	Action       string                 `json:"action"`        // "stop", "terminate", "scale", ...
	ResourceType string                 `json:"resource_type"` // "ec2", "rds", "ecs", "s3", "ebs"
	ResourceID   string                 `json:"resource_id"`
	AccountID    *string                `json:"account_id,omitempty"`
	Region       *string                `json:"region,omitempty"`
	Status       string                 `json:"status"`
	RequestData  map[string]interface{} `json:"request_data,omitempty"`  // JSONB: normalized request, override code redacted
	ResponseData map[string]interface{} `json:"response_data,omitempty"` // JSONB: adapter response or error detail
	ClientIP     *string                `json:"client_ip,omitempty"`
	UserAgent    *string                `json:"user_agent,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
