package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionEntryAdd        = "ENTRY_ADD"
	AuditActionEntryForceAdd   = "ENTRY_FORCE_ADD"
	AuditActionEntryRemove     = "ENTRY_REMOVE"
	AuditActionEntryMove       = "ENTRY_MOVE"
	AuditActionConflictResolve = "CONFLICT_RESOLVE"
	AuditActionPublish         = "TIMETABLE_PUBLISH"
	AuditActionUnpublish       = "TIMETABLE_UNPUBLISH"
	AuditActionArchive         = "TIMETABLE_ARCHIVE"
)

// AuditRecord captures who did what to which timetable. Forced adds and
// lifecycle transitions always produce one.
type AuditRecord struct {
	ID          string    `db:"id" json:"id"`
	TimetableID string    `db:"timetable_id" json:"timetable_id"`
	EntryID     *string   `db:"entry_id" json:"entry_id,omitempty"`
	Action      string    `db:"action" json:"action"`
	ActorID     string    `db:"actor_id" json:"actor_id"`
	ActorRole   string    `db:"actor_role" json:"actor_role"`
	Detail      []byte    `db:"detail" json:"detail,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
