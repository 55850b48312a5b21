package models

import "time"

// EntryStatus tracks the soft-delete lifecycle of a schedule entry.
type EntryStatus string

const (
	EntryActive  EntryStatus = "ACTIVE"
	EntryRemoved EntryStatus = "REMOVED"
)

// ScheduleEntry is one booking: a venue, an event and zero or more faculty
// members bound to a weekly time slot inside a timetable. Removal is a soft
// delete so conflict history stays inspectable.
type ScheduleEntry struct {
	ID          string      `json:"id"`
	TimetableID string      `json:"timetable_id"`
	Slot        TimeSlot    `json:"slot"`
	VenueID     string      `json:"venue_id"`
	EventID     string      `json:"event_id"`
	FacultyIDs  []string    `json:"faculty_ids"`
	Status      EntryStatus `json:"status"`
	// Warnings holds conflicts recorded at forced insertion time. They are
	// never silently dropped and block publishing until the clash is gone.
	Warnings  []Conflict `json:"warnings,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to callers outside the engine lock.
func (e ScheduleEntry) Clone() ScheduleEntry {
	cp := e
	if e.FacultyIDs != nil {
		cp.FacultyIDs = append([]string(nil), e.FacultyIDs...)
	}
	if e.Warnings != nil {
		cp.Warnings = append([]Conflict(nil), e.Warnings...)
	}
	return cp
}
