// Package action implements the resource action pipeline: request validation,
// adapter dispatch, protection policy enforcement, and per-resource outcome
// tracking. Every attempt that reaches the pipeline produces exactly one audit
// entry, whatever the outcome.
package action

import (
	"fmt"
	"time"
)

// ResourceType identifies a managed cloud resource kind.
type ResourceType string

const (
	ResourceEC2 ResourceType = "ec2"
	ResourceRDS ResourceType = "rds"
	ResourceECS ResourceType = "ecs"
	ResourceS3  ResourceType = "s3"
	ResourceEBS ResourceType = "ebs"
)

// Action identifies a state-changing operation on a resource.
type Action string

const (
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionTerminate Action = "terminate"
	ActionScale     Action = "scale"
	ActionDelete    Action = "delete"
)

// Outcome statuses. Blocked is a policy denial, deliberately distinct from
// failed (an upstream error).
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusDryRun  = "dry_run"
	StatusBlocked = "blocked"
)

// Params carries action-specific parameters from the request body, e.g.
// desired_count for scale or skip_final_snapshot for RDS delete.
type Params map[string]interface{}

// Int returns the named parameter as an int, handling the float64 that JSON
// decoding produces for numbers.
func (p Params) Int(key string) (int, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Bool returns the named parameter as a bool.
func (p Params) Bool(key string) bool {
	v, ok := p[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// String returns the named parameter as a string.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Request is one logical action request against a batch of resources.
type Request struct {
	ResourceType ResourceType
	Action       Action
	ResourceIDs  []string
	DryRun       bool
	OverrideCode string
	AccountID    string
	Region       string
	Params       Params
}

// Caller describes the identity and connection of the inbound caller. Nil
// fields denote a system-initiated or unauthenticated request. Extracted once
// per request and reused for every per-resource audit entry in the batch.
type Caller struct {
	Email     *string
	Role      *string
	ClientIP  *string
	UserAgent *string
}

// ErrorDetail is a normalized upstream error attached to a failed or blocked
// outcome.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AdapterResult is what an adapter reports for a single resource.
type AdapterResult struct {
	Status   string
	Message  string
	Response map[string]interface{}
	Error    *ErrorDetail
}

// Outcome is the terminal per-resource result of one action attempt.
type Outcome struct {
	ResourceID  string                 `json:"resource_id"`
	Status      string                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	ErrorDetail *ErrorDetail           `json:"error_detail,omitempty"`
	Response    map[string]interface{} `json:"-"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
}

// AggregateStatus folds per-resource outcomes into an overall status: success
// when every outcome succeeded or was a dry run, failed otherwise. Blocked
// counts as failed at the aggregate level even though the per-item status
// stays blocked.
func AggregateStatus(outcomes []Outcome) string {
	if len(outcomes) == 0 {
		return StatusFailed
	}
	allDryRun := true
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			allDryRun = false
		case StatusDryRun:
		default:
			return StatusFailed
		}
	}
	if allDryRun {
		return StatusDryRun
	}
	return StatusSuccess
}
