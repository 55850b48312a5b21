package models

import "time"

// TimetableState is the lifecycle state of a timetable.
type TimetableState string

const (
	StateDraft     TimetableState = "DRAFT"
	StatePublished TimetableState = "PUBLISHED"
	StateArchived  TimetableState = "ARCHIVED"
)

// TimetableType distinguishes recurring academic grids from event schedules.
type TimetableType string

const (
	TypeAcademic TimetableType = "ACADEMIC"
	TypeEvent    TimetableType = "EVENT"
)

// Timetable metadata. Entries live in the scheduling engine aggregate;
// this struct is what persists and what list endpoints return.
type Timetable struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      TimetableType  `json:"type"`
	StartDate time.Time      `json:"start_date"`
	EndDate   time.Time      `json:"end_date"`
	State     TimetableState `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CanTransitionTo encodes the lifecycle state machine. Archived is terminal.
func (s TimetableState) CanTransitionTo(next TimetableState) bool {
	switch s {
	case StateDraft:
		return next == StatePublished || next == StateArchived
	case StatePublished:
		return next == StateDraft || next == StateArchived
	default:
		return false
	}
}

// TimetableFilter describes query params for listing timetables.
type TimetableFilter struct {
	State     string
	Type      string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
