// Package actions exposes the resource action endpoint. One POST drives the
// full pipeline for a batch of resource ids and returns the aggregate result
// with per-resource detail.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cloud-guardrail/cloud-guardrail/internal/action"
	"github.com/cloud-guardrail/cloud-guardrail/internal/auth"
	"github.com/cloud-guardrail/cloud-guardrail/internal/cache"
	"github.com/cloud-guardrail/cloud-guardrail/internal/middleware"
	"github.com/cloud-guardrail/cloud-guardrail/internal/safego"
)

// Runner is the executor interface the handler drives.
type Runner interface {
	Run(ctx context.Context, req *action.Request, caller action.Caller) ([]action.Outcome, error)
}

// Handler serves POST /api/v1/actions/:resource_type/:action.
type Handler struct {
	runner        Runner
	cache         *cache.Cache // nil when caching is disabled
	defaultRegion string
	logger        *slog.Logger
}

// NewHandler creates the actions handler.
func NewHandler(runner Runner, c *cache.Cache, defaultRegion string, logger *slog.Logger) *Handler {
	return &Handler{
		runner:        runner,
		cache:         c,
		defaultRegion: defaultRegion,
		logger:        logger,
	}
}

// knownBodyKeys are request fields with dedicated meaning; everything else in
// the body is passed through to the adapter as an action parameter.
var knownBodyKeys = map[string]bool{
	"resource_ids":  true,
	"dry_run":       true,
	"override_code": true,
	"account_id":    true,
	"region":        true,
}

// Execute handles one action request against a batch of resources.
func (h *Handler) Execute(c *gin.Context) {
	req, err := h.parseRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      err.Error(),
			"error_code": "validation_error",
		})
		return
	}

	role := middleware.CallerRole(c)
	if !auth.CanPerform(role, req.Action) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":      "role " + role + " may not perform " + string(req.Action),
			"error_code": "insufficient_role",
		})
		return
	}

	caller := callerFromContext(c)

	outcomes, err := h.runner.Run(c.Request.Context(), req, caller)
	if err != nil {
		var verr *action.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      verr.Error(),
				"error_code": "validation_error",
			})
			return
		}

		var awErr *action.AuditWriteError
		if errors.As(err, &awErr) {
			// The action may have executed, but no durable record of it
			// exists. This is a compliance gap and is reported as a server
			// error, never a success.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":      "audit trail write failed; action processing halted",
				"error_code": "audit_write_failed",
				"details":    outcomes,
			})
			return
		}

		h.logger.Error("action request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "internal error",
			"error_code": "internal_error",
		})
		return
	}

	h.invalidateInventory(req, outcomes)

	status := action.AggregateStatus(outcomes)
	httpStatus := http.StatusOK
	if allBlocked(outcomes) {
		httpStatus = http.StatusForbidden
	}

	c.JSON(httpStatus, gin.H{
		"status":        status,
		"action":        req.Action,
		"resource_type": req.ResourceType,
		"resource_ids":  req.ResourceIDs,
		"dry_run":       req.DryRun,
		"details":       outcomes,
	})
}

// parseRequest decodes the URL and body into an action request. Unknown body
// fields become adapter parameters.
func (h *Handler) parseRequest(c *gin.Context) (*action.Request, error) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, &action.ValidationError{Field: "body", Message: "invalid JSON"}
	}

	req := &action.Request{
		ResourceType: action.ResourceType(c.Param("resource_type")),
		Action:       action.Action(c.Param("action")),
		Region:       h.defaultRegion,
		Params:       action.Params{},
	}

	rawIDs, ok := body["resource_ids"].([]interface{})
	if !ok {
		return nil, &action.ValidationError{Field: "resource_ids", Message: "must be a non-empty array of strings"}
	}
	for _, raw := range rawIDs {
		id, ok := raw.(string)
		if !ok {
			return nil, &action.ValidationError{Field: "resource_ids", Message: "must contain only strings"}
		}
		req.ResourceIDs = append(req.ResourceIDs, id)
	}

	if v, ok := body["dry_run"].(bool); ok {
		req.DryRun = v
	}
	if v, ok := body["override_code"].(string); ok {
		req.OverrideCode = v
	}
	if v, ok := body["account_id"].(string); ok {
		req.AccountID = v
	}
	if v, ok := body["region"].(string); ok && v != "" {
		req.Region = v
	}

	for key, value := range body {
		if !knownBodyKeys[key] {
			req.Params[key] = value
		}
	}

	return req, nil
}

// callerFromContext captures identity and connection info once per request;
// the recorder reuses it for every per-resource audit entry.
func callerFromContext(c *gin.Context) action.Caller {
	caller := action.Caller{}

	if email := middleware.CallerEmail(c); email != "" {
		caller.Email = &email
	}
	if role := middleware.CallerRole(c); role != "" {
		caller.Role = &role
	}

	ip := middleware.ExtractClientIP(c)
	if ip != "" {
		caller.ClientIP = &ip
	}
	if ua := c.Request.UserAgent(); ua != "" {
		caller.UserAgent = &ua
	}

	return caller
}

// invalidateInventory drops cached inventory for the resource type after any
// real state change, so consumers do not read a stale view.
func (h *Handler) invalidateInventory(req *action.Request, outcomes []action.Outcome) {
	if h.cache == nil || req.DryRun {
		return
	}
	changed := false
	for _, o := range outcomes {
		if o.Status == action.StatusSuccess {
			changed = true
			break
		}
	}
	if !changed {
		return
	}

	resourceType := string(req.ResourceType)
	logger := h.logger
	cacheRef := h.cache
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cacheRef.Invalidate(ctx, resourceType); err != nil {
			logger.Warn("inventory cache invalidation failed", "resource_type", resourceType, "error", err)
		}
	})
}

func allBlocked(outcomes []action.Outcome) bool {
	if len(outcomes) == 0 {
		return false
	}
	for _, o := range outcomes {
		if o.Status != action.StatusBlocked {
			return false
		}
	}
	return true
}
