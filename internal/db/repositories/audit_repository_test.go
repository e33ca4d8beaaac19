package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cloud-guardrail/cloud-guardrail/internal/db/models"
)

var errDB = errors.New("db failure")

var auditCols = []string{
	"id", "user_email", "user_role", "action", "resource_type", "resource_id",
	"account_id", "region", "status", "request_data", "response_data",
	"client_ip", "user_agent", "created_at",
}

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAuditRepository(db), mock
}

func strptr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// CreateAuditLog
// ---------------------------------------------------------------------------

func TestCreateAuditLog(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(
			sqlmock.AnyArg(), // id
			"ops@example.com",
			"operator",
			"stop",
			"ec2",
			"i-0abc123",
			"123456789012",
			"us-east-1",
			models.AuditStatusSuccess,
			[]byte(`{"dry_run":false}`),
			[]byte(`{"previous_state":"running"}`),
			"10.1.2.3",
			"curl/8.0",
			sqlmock.AnyArg(), // created_at
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	log := &models.AuditLog{
		UserEmail:    strptr("ops@example.com"),
		UserRole:     strptr("operator"),
		Action:       "stop",
		ResourceType: "ec2",
		ResourceID:   "i-0abc123",
		AccountID:    strptr("123456789012"),
		Region:       strptr("us-east-1"),
		Status:       models.AuditStatusSuccess,
		RequestData:  map[string]interface{}{"dry_run": false},
		ResponseData: map[string]interface{}{"previous_state": "running"},
		ClientIP:     strptr("10.1.2.3"),
		UserAgent:    strptr("curl/8.0"),
	}

	if err := repo.CreateAuditLog(context.Background(), log); err != nil {
		t.Fatalf("CreateAuditLog: %v", err)
	}
	if log.ID == "" {
		t.Error("expected server-assigned ID")
	}
	if log.CreatedAt.IsZero() {
		t.Error("expected server-assigned CreatedAt")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAuditLogNilPayloads(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(
			sqlmock.AnyArg(), nil, nil, "list", "ec2", "i-0abc123",
			nil, nil, models.AuditStatusFailed, nil, nil, nil, nil, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	log := &models.AuditLog{
		Action:       "list",
		ResourceType: "ec2",
		ResourceID:   "i-0abc123",
		Status:       models.AuditStatusFailed,
	}

	if err := repo.CreateAuditLog(context.Background(), log); err != nil {
		t.Fatalf("CreateAuditLog: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAuditLogDBError(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectExec(`INSERT INTO audit_logs`).WillReturnError(errDB)

	err := repo.CreateAuditLog(context.Background(), &models.AuditLog{
		Action: "stop", ResourceType: "ec2", ResourceID: "i-1", Status: models.AuditStatusSuccess,
	})
	if !errors.Is(err, errDB) {
		t.Fatalf("expected errDB, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// ListAuditLogs
// ---------------------------------------------------------------------------

func TestListAuditLogsNoFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs WHERE 1=1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	rows := sqlmock.NewRows(auditCols).
		AddRow("id-2", "a@x.com", "admin", "terminate", "ec2", "i-2",
			nil, nil, models.AuditStatusBlocked, []byte(`{}`), nil, nil, nil, now).
		AddRow("id-1", "b@x.com", "operator", "stop", "rds", "db-1",
			nil, nil, models.AuditStatusSuccess, nil, []byte(`{"ok":true}`), nil, nil, now.Add(-time.Minute))
	mock.ExpectQuery(`SELECT (.+) FROM audit_logs WHERE 1=1 ORDER BY created_at DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(50, 0).
		WillReturnRows(rows)

	logs, total, err := repo.ListAuditLogs(context.Background(), AuditFilters{}, 50, 0)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(logs))
	}
	if logs[0].ID != "id-2" || logs[0].Status != models.AuditStatusBlocked {
		t.Errorf("unexpected first row: %+v", logs[0])
	}
	if logs[1].ResponseData["ok"] != true {
		t.Errorf("response data not decoded: %+v", logs[1].ResponseData)
	}
}

func TestListAuditLogsWithFilters(t *testing.T) {
	repo, mock := newAuditRepo(t)
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	filters := AuditFilters{
		Action:       strptr("term"),
		ResourceType: strptr("ec2"),
		UserEmail:    strptr("ops"),
		Status:       strptr(models.AuditStatusBlocked),
		StartDate:    &start,
		EndDate:      &end,
	}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs WHERE 1=1 AND action ILIKE \$1 AND resource_type = \$2 AND user_email ILIKE \$3 AND status = \$4 AND created_at >= \$5 AND created_at <= \$6`).
		WithArgs("%term%", "ec2", "%ops%", models.AuditStatusBlocked, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows(auditCols).
		AddRow("id-9", "ops@x.com", "operator", "terminate", "ec2", "i-9",
			nil, nil, models.AuditStatusBlocked, nil, nil, nil, nil, start)
	mock.ExpectQuery(`SELECT (.+) FROM audit_logs WHERE 1=1 AND action ILIKE (.+) ORDER BY created_at DESC LIMIT \$7 OFFSET \$8`).
		WithArgs("%term%", "ec2", "%ops%", models.AuditStatusBlocked, start, end, 20, 20).
		WillReturnRows(rows)

	logs, total, err := repo.ListAuditLogs(context.Background(), filters, 20, 20)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("total = %d, len = %d, want 1/1", total, len(logs))
	}
}

func TestListAuditLogsCountError(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs`).WillReturnError(errDB)

	_, _, err := repo.ListAuditLogs(context.Background(), AuditFilters{}, 10, 0)
	if !errors.Is(err, errDB) {
		t.Fatalf("expected errDB, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// StreamAuditLogs
// ---------------------------------------------------------------------------

func TestStreamAuditLogs(t *testing.T) {
	repo, mock := newAuditRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(auditCols).
		AddRow("id-1", nil, nil, "stop", "ec2", "i-1",
			nil, nil, models.AuditStatusSuccess, nil, nil, nil, nil, now).
		AddRow("id-2", nil, nil, "stop", "ec2", "i-2",
			nil, nil, models.AuditStatusFailed, nil, nil, nil, nil, now)
	mock.ExpectQuery(`SELECT (.+) FROM audit_logs WHERE 1=1 ORDER BY created_at DESC`).
		WillReturnRows(rows)

	var seen []string
	err := repo.StreamAuditLogs(context.Background(), AuditFilters{}, func(l *models.AuditLog) error {
		seen = append(seen, l.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamAuditLogs: %v", err)
	}
	if len(seen) != 2 || seen[0] != "id-1" || seen[1] != "id-2" {
		t.Errorf("seen = %v", seen)
	}
}

func TestStreamAuditLogsCallbackError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(auditCols).
		AddRow("id-1", nil, nil, "stop", "ec2", "i-1",
			nil, nil, models.AuditStatusSuccess, nil, nil, nil, nil, now)
	mock.ExpectQuery(`SELECT (.+) FROM audit_logs WHERE 1=1 ORDER BY created_at DESC`).
		WillReturnRows(rows)

	wantErr := errors.New("sink closed")
	err := repo.StreamAuditLogs(context.Background(), AuditFilters{}, func(l *models.AuditLog) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// GetAuditLog
// ---------------------------------------------------------------------------

func TestGetAuditLog(t *testing.T) {
	repo, mock := newAuditRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(auditCols).
		AddRow("id-7", "a@x.com", "admin", "delete", "s3", "my-bucket",
			"123456789012", "eu-west-1", models.AuditStatusDryRun,
			[]byte(`{"dry_run":true}`), nil, "10.0.0.1", "test-agent", now)
	mock.ExpectQuery(`SELECT (.+) FROM audit_logs WHERE id = \$1`).
		WithArgs("id-7").
		WillReturnRows(rows)

	log, err := repo.GetAuditLog(context.Background(), "id-7")
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if log == nil {
		t.Fatal("expected log, got nil")
	}
	if log.Status != models.AuditStatusDryRun || log.RequestData["dry_run"] != true {
		t.Errorf("unexpected log: %+v", log)
	}
}

func TestGetAuditLogNotFound(t *testing.T) {
	repo, mock := newAuditRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM audit_logs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(auditCols))

	log, err := repo.GetAuditLog(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetAuditLog: %v", err)
	}
	if log != nil {
		t.Errorf("expected nil, got %+v", log)
	}
}
