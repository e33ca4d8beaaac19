package action

import "fmt"

// ValidationError reports a malformed request. It is raised before any side
// effect, so a validation failure never produces audit entries.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// AuditWriteError reports that the audit store rejected a write. It is kept
// distinct from upstream failures because it represents a compliance gap on
// our side, not a cloud-side problem, and must never be swallowed.
type AuditWriteError struct {
	ResourceID string
	Err        error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed for resource %s: %v", e.ResourceID, e.Err)
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}
