package models

import (
	"fmt"
	"strings"
	"time"
)

// ResourceKind names the shared resource that caused a conflict.
type ResourceKind string

const (
	ResourceVenue   ResourceKind = "VENUE"
	ResourceFaculty ResourceKind = "FACULTY"
)

// Conflict reports one overlap between two active entries sharing a resource.
// A pair sharing both the venue and a faculty member yields one record per
// shared resource, never a merged one.
type Conflict struct {
	Ref        string        `json:"ref"`
	Resource   ResourceKind  `json:"resource"`
	ResourceID string        `json:"resource_id"`
	EntryA     ScheduleEntry `json:"entry_a"`
	EntryB     ScheduleEntry `json:"entry_b"`
	// Resolution carries the annotation note when the conflict has been
	// acknowledged by a human. Metadata only: an annotated conflict still
	// blocks publishing.
	Resolution *ConflictResolution `json:"resolution,omitempty"`
}

// refEscaper keeps the ref separator out of escaped components so distinct
// id tuples can never join to the same ref.
var refEscaper = strings.NewReplacer("%", "%25", "~", "%7E")

// ConflictRef builds the stable reference for an entry pair and resource.
// The pair is ordered so detection direction does not change the ref.
func ConflictRef(entryA, entryB string, kind ResourceKind, resourceID string) string {
	if entryB < entryA {
		entryA, entryB = entryB, entryA
	}
	return fmt.Sprintf("%s~%s~%s~%s",
		refEscaper.Replace(entryA), refEscaper.Replace(entryB), kind, refEscaper.Replace(resourceID))
}

// ConflictError is the soft-failure result of a refused mutation. It carries
// the full conflict list so callers can retry, force, or surface to a human.
type ConflictError struct {
	Message   string     `json:"message"`
	Conflicts []Conflict `json:"conflicts"`
}

// Error implements the error interface for conflict errors.
func (e *ConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%d conflicts)", e.Message, len(e.Conflicts))
}

// ConflictResolution is a human-authored annotation against a reported
// conflict. It does not change scheduling state.
type ConflictResolution struct {
	ID          string    `db:"id" json:"id"`
	TimetableID string    `db:"timetable_id" json:"timetable_id"`
	ConflictRef string    `db:"conflict_ref" json:"conflict_ref"`
	Note        string    `db:"note" json:"note"`
	ResolvedBy  string    `db:"resolved_by" json:"resolved_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
