// audit_repository.go implements AuditRepository, the append-only store for
// resource action audit entries. The public surface is insert plus filtered
// reads; no update or delete exists by design.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloud-guardrail/cloud-guardrail/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs. Action and UserEmail
// are substring matches; the rest are exact.
type AuditFilters struct {
	Action       *string
	ResourceType *string
	ResourceID   *string
	UserEmail    *string
	Status       *string
	StartDate    *time.Time
	EndDate      *time.Time
}

const auditColumns = `id, user_email, user_role, action, resource_type, resource_id,
	account_id, region, status, request_data, response_data, client_ip, user_agent, created_at`

// CreateAuditLog inserts a new audit log entry. The id and created_at are
// server-assigned here; callers never control them.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()
	log.CreatedAt = time.Now().UTC()

	requestJSON, err := marshalJSONB(log.RequestData)
	if err != nil {
		return fmt.Errorf("failed to marshal request data: %w", err)
	}
	responseJSON, err := marshalJSONB(log.ResponseData)
	if err != nil {
		return fmt.Errorf("failed to marshal response data: %w", err)
	}

	query := `
		INSERT INTO audit_logs (id, user_email, user_role, action, resource_type, resource_id,
			account_id, region, status, request_data, response_data, client_ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.UserEmail,
		log.UserRole,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		log.AccountID,
		log.Region,
		log.Status,
		requestJSON,
		responseJSON,
		log.ClientIP,
		log.UserAgent,
		log.CreatedAt,
	)

	return err
}

// buildFilterClause appends WHERE conditions for the supplied filters and
// returns the clause together with its positional arguments.
func buildFilterClause(filters AuditFilters) (string, []interface{}) {
	clause := ""
	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.Action != nil {
		clause += fmt.Sprintf(` AND action ILIKE $%d`, paramIndex)
		args = append(args, "%"+*filters.Action+"%")
		paramIndex++
	}
	if filters.ResourceType != nil {
		clause += fmt.Sprintf(` AND resource_type = $%d`, paramIndex)
		args = append(args, *filters.ResourceType)
		paramIndex++
	}
	if filters.ResourceID != nil {
		clause += fmt.Sprintf(` AND resource_id = $%d`, paramIndex)
		args = append(args, *filters.ResourceID)
		paramIndex++
	}
	if filters.UserEmail != nil {
		clause += fmt.Sprintf(` AND user_email ILIKE $%d`, paramIndex)
		args = append(args, "%"+*filters.UserEmail+"%")
		paramIndex++
	}
	if filters.Status != nil {
		clause += fmt.Sprintf(` AND status = $%d`, paramIndex)
		args = append(args, *filters.Status)
		paramIndex++
	}
	if filters.StartDate != nil {
		clause += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}
	if filters.EndDate != nil {
		clause += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	return clause, args
}

// ListAuditLogs retrieves audit logs with optional filters and pagination,
// newest first.
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	clause, args := buildFilterClause(filters)

	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1` + clause
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM audit_logs WHERE 1=1%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		auditColumns, clause, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}

// StreamAuditLogs walks every entry matching the filters, newest first,
// invoking fn once per row. Used by the export endpoint so the result set is
// never buffered in memory.
func (r *AuditRepository) StreamAuditLogs(ctx context.Context, filters AuditFilters, fn func(*models.AuditLog) error) error {
	clause, args := buildFilterClause(filters)

	query := fmt.Sprintf(`SELECT %s FROM audit_logs WHERE 1=1%s ORDER BY created_at DESC`, auditColumns, clause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return err
		}
		if err := fn(log); err != nil {
			return err
		}
	}

	return rows.Err()
}

// GetAuditLog retrieves a single audit log entry by ID. Returns nil, nil when
// no entry exists.
func (r *AuditRepository) GetAuditLog(ctx context.Context, logID string) (*models.AuditLog, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_logs WHERE id = $1`, auditColumns)

	row := r.db.QueryRowContext(ctx, query, logID)
	log, err := scanAuditLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row rowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var requestJSON, responseJSON []byte

	err := row.Scan(
		&log.ID,
		&log.UserEmail,
		&log.UserRole,
		&log.Action,
		&log.ResourceType,
		&log.ResourceID,
		&log.AccountID,
		&log.Region,
		&log.Status,
		&requestJSON,
		&responseJSON,
		&log.ClientIP,
		&log.UserAgent,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if requestJSON != nil {
		if err := json.Unmarshal(requestJSON, &log.RequestData); err != nil {
			return nil, err
		}
	}
	if responseJSON != nil {
		if err := json.Unmarshal(responseJSON, &log.ResponseData); err != nil {
			return nil, err
		}
	}

	return log, nil
}

func marshalJSONB(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
