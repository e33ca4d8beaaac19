package awscloud

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
)

// retryableCodes are AWS error codes that indicate a transient condition
// worth retrying from the caller's side.
var retryableCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"ServiceUnavailable":                     true,
	"InternalError":                          true,
	"InternalFailure":                        true,
	"RequestTimeout":                         true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
}

// normalizeError converts an AWS SDK error into the structured error detail
// attached to failed outcomes. Timeouts and cancellations are reported as
// retryable; unrecognized errors fall back to a generic code.
func normalizeError(err error) *action.ErrorDetail {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &action.ErrorDetail{
			Code:      apiErr.ErrorCode(),
			Message:   apiErr.ErrorMessage(),
			Retryable: retryableCodes[apiErr.ErrorCode()],
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &action.ErrorDetail{Code: "RequestTimeout", Message: "request deadline exceeded", Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return &action.ErrorDetail{Code: "RequestCanceled", Message: "request canceled", Retryable: true}
	}

	return &action.ErrorDetail{Code: "UnknownError", Message: err.Error()}
}

// errorCode extracts the AWS error code, or "" for non-API errors.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// failedResult builds a failed AdapterResult from an upstream error.
func failedResult(err error) action.AdapterResult {
	detail := normalizeError(err)
	return action.AdapterResult{
		Status:  action.StatusFailed,
		Message: detail.Message,
		Error:   detail,
	}
}
