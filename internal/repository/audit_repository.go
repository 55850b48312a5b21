package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/univent/timetable-api/internal/models"
)

// AuditRepository persists the audit trail of privileged scheduling actions.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends one audit record.
func (r *AuditRepository) Insert(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, timetable_id, entry_id, action, actor_id, actor_role, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.TimetableID, record.EntryID, record.Action, record.ActorID, record.ActorRole, record.Detail, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListByTimetable returns the audit trail for one timetable, newest first.
func (r *AuditRepository) ListByTimetable(ctx context.Context, timetableID string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []models.AuditRecord
	err := r.db.SelectContext(ctx, &records,
		fmt.Sprintf(`SELECT id, timetable_id, entry_id, action, actor_id, actor_role, detail, created_at
		 FROM audit_records WHERE timetable_id = $1 ORDER BY created_at DESC LIMIT %d`, limit), timetableID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	return records, nil
}
