// audit_repository.go implements AuditRepository, the store for the audit
// trail. Writes come from the audit middleware and background jobs; reads
// serve the admin audit endpoint with optional field and date-window filters.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chronobill/chronobill/internal/db/models"
)

// AuditRepository owns all queries against the audit_logs table.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters narrows an audit log listing. Nil fields match everything.
type AuditFilters struct {
	UserID       *string
	Action       *string
	ResourceType *string
	StartDate    *time.Time
	EndDate      *time.Time
}

// where renders the filters as a WHERE clause with positional parameters,
// returning an empty string when no filter is set.
func (f AuditFilters) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Action != nil {
		add("action = $%d", *f.Action)
	}
	if f.ResourceType != nil {
		add("resource_type = $%d", *f.ResourceType)
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// auditLogRow carries the raw JSONB metadata column next to the model fields
// so sqlx can scan a full row in one pass.
type auditLogRow struct {
	models.AuditLog
	MetadataJSON []byte `db:"metadata"`
}

func (row *auditLogRow) toModel() (*models.AuditLog, error) {
	log := row.AuditLog
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &log.Metadata); err != nil {
			return nil, fmt.Errorf("decoding audit metadata for %s: %w", log.ID, err)
		}
	}
	return &log, nil
}

// CreateAuditLog records one event, assigning the entry's ID and timestamp.
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()
	log.CreatedAt = time.Now()

	row := auditLogRow{AuditLog: *log}
	if log.Metadata != nil {
		data, err := json.Marshal(log.Metadata)
		if err != nil {
			return fmt.Errorf("encoding audit metadata: %w", err)
		}
		row.MetadataJSON = data
	}

	query := `
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, metadata, ip_address, created_at)
		VALUES (:id, :user_id, :action, :resource_type, :resource_id, :metadata, :ip_address, :created_at)`

	_, err := r.db.NamedExecContext(ctx, query, row)
	return err
}

// ListAuditLogs returns one page of entries matching the filters, newest
// first, along with the total match count for pagination.
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where, args := filters.where()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs`+where, args...); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT * FROM audit_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)

	var rows []auditLogRow
	if err := r.db.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
		return nil, 0, err
	}

	logs := make([]*models.AuditLog, 0, len(rows))
	for i := range rows {
		log, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	return logs, total, nil
}

// DeleteOlderThan prunes entries created before the cutoff and reports how
// many rows went away. The retention job calls this on its daily tick.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
