// Package auditlogs serves the read side of the audit trail: paginated
// listing with filters, single-entry lookup, and bulk export for compliance
// review.
package auditlogs

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cloud-guardrail/cloud-guardrail/internal/db/models"
	"github.com/cloud-guardrail/cloud-guardrail/internal/db/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Repository is the audit store the handlers read from.
type Repository interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
	GetAuditLog(ctx context.Context, logID string) (*models.AuditLog, error)
	StreamAuditLogs(ctx context.Context, filters repositories.AuditFilters, fn func(*models.AuditLog) error) error
}

// Handler serves the /api/v1/audit endpoints.
type Handler struct {
	repo   Repository
	logger *slog.Logger
}

// NewHandler creates the audit log handler.
func NewHandler(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /api/v1/audit with filtering and pagination.
func (h *Handler) List(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page := parsePositiveInt(c.Query("page"), 1)
	pageSize := parsePositiveInt(c.Query("page_size"), defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := (page - 1) * pageSize

	logs, total, err := h.repo.ListAuditLogs(c.Request.Context(), filters, pageSize, offset)
	if err != nil {
		h.logger.Error("failed to list audit logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit logs"})
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"items":     logs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"has_more":  offset+len(logs) < total,
	})
}

// Get handles GET /api/v1/audit/:id.
func (h *Handler) Get(c *gin.Context) {
	log, err := h.repo.GetAuditLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("failed to fetch audit log", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch audit log"})
		return
	}
	if log == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log not found"})
		return
	}
	c.JSON(http.StatusOK, log)
}

// Export handles GET /api/v1/audit/export?format=csv|json, streaming every
// entry matching the filters without loading the full set into memory.
func (h *Handler) Export(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	format := c.DefaultQuery("format", "json")
	switch format {
	case "csv":
		h.exportCSV(c, filters)
	case "json":
		h.exportJSON(c, filters)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or json"})
	}
}

var csvHeader = []string{
	"id", "created_at", "user_email", "user_role", "action", "resource_type",
	"resource_id", "account_id", "region", "status", "client_ip", "user_agent",
}

func (h *Handler) exportCSV(c *gin.Context, filters repositories.AuditFilters) {
	filename := "audit-export-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	if err := w.Write(csvHeader); err != nil {
		return
	}

	err := h.repo.StreamAuditLogs(c.Request.Context(), filters, func(log *models.AuditLog) error {
		return w.Write([]string{
			log.ID,
			log.CreatedAt.UTC().Format(time.RFC3339),
			deref(log.UserEmail),
			deref(log.UserRole),
			log.Action,
			log.ResourceType,
			log.ResourceID,
			deref(log.AccountID),
			deref(log.Region),
			log.Status,
			deref(log.ClientIP),
			deref(log.UserAgent),
		})
	})
	if err != nil {
		// Headers are already out; all we can do is cut the stream short.
		h.logger.Error("audit export aborted", "format", "csv", "error", err)
		return
	}
	w.Flush()
}

func (h *Handler) exportJSON(c *gin.Context, filters repositories.AuditFilters) {
	filename := "audit-export-" + time.Now().UTC().Format("20060102-150405") + ".json"
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	first := true
	c.Writer.Write([]byte("["))
	err := h.repo.StreamAuditLogs(c.Request.Context(), filters, func(log *models.AuditLog) error {
		if !first {
			if _, err := c.Writer.Write([]byte(",")); err != nil {
				return err
			}
		}
		first = false
		return enc.Encode(log)
	})
	if err != nil {
		h.logger.Error("audit export aborted", "format", "json", "error", err)
		return
	}
	c.Writer.Write([]byte("]"))
}

// parseFilters reads the shared query filters used by both List and Export.
// Dates accept RFC 3339 timestamps or bare YYYY-MM-DD dates; a bare end date
// covers the whole day.
func parseFilters(c *gin.Context) (repositories.AuditFilters, error) {
	filters := repositories.AuditFilters{}

	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("resource_type"); v != "" {
		filters.ResourceType = &v
	}
	if v := c.Query("resource_id"); v != "" {
		filters.ResourceID = &v
	}
	if v := c.Query("user_email"); v != "" {
		filters.UserEmail = &v
	}
	if v := c.Query("status"); v != "" {
		filters.Status = &v
	}

	if v := c.Query("start_date"); v != "" {
		ts, err := parseDate(v, false)
		if err != nil {
			return filters, err
		}
		filters.StartDate = &ts
	}
	if v := c.Query("end_date"); v != "" {
		ts, err := parseDate(v, true)
		if err != nil {
			return filters, err
		}
		filters.EndDate = &ts
	}

	return filters, nil
}

func parseDate(value string, endOfDay bool) (time.Time, error) {
	if strings.Contains(value, "T") {
		return time.Parse(time.RFC3339, value)
	}
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		ts = ts.Add(24*time.Hour - time.Nanosecond)
	}
	return ts, nil
}

func parsePositiveInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
