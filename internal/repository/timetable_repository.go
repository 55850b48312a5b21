package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/univent/timetable-api/internal/models"
)

// TimetableRepository persists timetables, their entries (removed ones
// included, for audit), and conflict resolutions. The in-memory conflict
// index is never stored; it is rebuilt from the entries list on hydration.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs a TimetableRepository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

type timetableRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Type      string    `db:"type"`
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
	State     string    `db:"state"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r timetableRow) toModel() models.Timetable {
	return models.Timetable{
		ID:        r.ID,
		Name:      r.Name,
		Type:      models.TimetableType(r.Type),
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		State:     models.TimetableState(r.State),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type entryRow struct {
	ID          string         `db:"id"`
	TimetableID string         `db:"timetable_id"`
	Day         string         `db:"day"`
	StartMinute int            `db:"start_minute"`
	EndMinute   int            `db:"end_minute"`
	VenueID     string         `db:"venue_id"`
	EventID     string         `db:"event_id"`
	FacultyIDs  pq.StringArray `db:"faculty_ids"`
	Status      string         `db:"status"`
	Warnings    []byte         `db:"warnings"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r entryRow) toModel() (models.ScheduleEntry, error) {
	entry := models.ScheduleEntry{
		ID:          r.ID,
		TimetableID: r.TimetableID,
		Slot: models.TimeSlot{
			Day:   models.Weekday(r.Day),
			Start: r.StartMinute,
			End:   r.EndMinute,
		},
		VenueID:    r.VenueID,
		EventID:    r.EventID,
		FacultyIDs: []string(r.FacultyIDs),
		Status:     models.EntryStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Warnings) > 0 {
		if err := json.Unmarshal(r.Warnings, &entry.Warnings); err != nil {
			return entry, fmt.Errorf("decode entry warnings: %w", err)
		}
	}
	return entry, nil
}

// CreateTimetable inserts a new timetable, assigning an id when absent.
func (r *TimetableRepository) CreateTimetable(ctx context.Context, timetable *models.Timetable) error {
	if timetable.ID == "" {
		timetable.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	timetable.CreatedAt = now
	timetable.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO timetables (id, name, type, start_date, end_date, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		timetable.ID, timetable.Name, string(timetable.Type), timetable.StartDate, timetable.EndDate,
		string(timetable.State), timetable.CreatedAt, timetable.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert timetable: %w", err)
	}
	return nil
}

// FindTimetable loads timetable metadata by id.
func (r *TimetableRepository) FindTimetable(ctx context.Context, id string) (*models.Timetable, error) {
	var row timetableRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, name, type, start_date, end_date, state, created_at, updated_at FROM timetables WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	timetable := row.toModel()
	return &timetable, nil
}

// ListTimetables returns timetables matching filters along with total count.
func (r *TimetableRepository) ListTimetables(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, int, error) {
	base := "FROM timetables WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, strings.ToUpper(filter.State))
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, strings.ToUpper(filter.Type))
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"name":       "name",
		"start_date": "start_date",
		"created_at": "created_at",
		"updated_at": "updated_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT id, name, type, start_date, end_date, state, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", base, column, order, size, offset)
	var rows []timetableRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list timetables: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count timetables: %w", err)
	}

	timetables := make([]models.Timetable, 0, len(rows))
	for _, row := range rows {
		timetables = append(timetables, row.toModel())
	}
	return timetables, total, nil
}

// UpdateTimetableState persists a lifecycle transition.
func (r *TimetableRepository) UpdateTimetableState(ctx context.Context, id string, state models.TimetableState) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE timetables SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update timetable state: %w", err)
	}
	return nil
}

// InsertEntry persists a newly accepted entry, warnings included.
func (r *TimetableRepository) InsertEntry(ctx context.Context, entry *models.ScheduleEntry) error {
	warnings, err := marshalWarnings(entry.Warnings)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO schedule_entries (id, timetable_id, day, start_minute, end_minute, venue_id, event_id, faculty_ids, status, warnings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.TimetableID, string(entry.Slot.Day), entry.Slot.Start, entry.Slot.End,
		entry.VenueID, entry.EventID, pq.StringArray(entry.FacultyIDs), string(entry.Status),
		warnings, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule entry: %w", err)
	}
	return nil
}

// UpdateEntrySlot persists a move.
func (r *TimetableRepository) UpdateEntrySlot(ctx context.Context, entryID string, slot models.TimeSlot) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE schedule_entries SET day = $1, start_minute = $2, end_minute = $3, updated_at = $4 WHERE id = $5`,
		string(slot.Day), slot.Start, slot.End, time.Now().UTC(), entryID)
	if err != nil {
		return fmt.Errorf("update entry slot: %w", err)
	}
	return nil
}

// UpdateEntryStatus persists a soft delete.
func (r *TimetableRepository) UpdateEntryStatus(ctx context.Context, entryID string, status models.EntryStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE schedule_entries SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), entryID)
	if err != nil {
		return fmt.Errorf("update entry status: %w", err)
	}
	return nil
}

// ListEntries returns all entries for a timetable in insertion order,
// removed ones included.
func (r *TimetableRepository) ListEntries(ctx context.Context, timetableID string) ([]models.ScheduleEntry, error) {
	var rows []entryRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, timetable_id, day, start_minute, end_minute, venue_id, event_id, faculty_ids, status, warnings, created_at, updated_at
		 FROM schedule_entries WHERE timetable_id = $1 ORDER BY created_at ASC, id ASC`, timetableID)
	if err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	entries := make([]models.ScheduleEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// InsertResolution persists a conflict annotation.
func (r *TimetableRepository) InsertResolution(ctx context.Context, resolution *models.ConflictResolution) error {
	if resolution.ID == "" {
		resolution.ID = uuid.New().String()
	}
	if resolution.CreatedAt.IsZero() {
		resolution.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conflict_resolutions (id, timetable_id, conflict_ref, note, resolved_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (timetable_id, conflict_ref) DO UPDATE SET note = EXCLUDED.note, resolved_by = EXCLUDED.resolved_by, created_at = EXCLUDED.created_at`,
		resolution.ID, resolution.TimetableID, resolution.ConflictRef, resolution.Note, resolution.ResolvedBy, resolution.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conflict resolution: %w", err)
	}
	return nil
}

// ListResolutions returns all conflict annotations for a timetable.
func (r *TimetableRepository) ListResolutions(ctx context.Context, timetableID string) ([]models.ConflictResolution, error) {
	var resolutions []models.ConflictResolution
	err := r.db.SelectContext(ctx, &resolutions,
		`SELECT id, timetable_id, conflict_ref, note, resolved_by, created_at
		 FROM conflict_resolutions WHERE timetable_id = $1 ORDER BY created_at ASC`, timetableID)
	if err != nil {
		return nil, fmt.Errorf("list conflict resolutions: %w", err)
	}
	return resolutions, nil
}

func marshalWarnings(warnings []models.Conflict) ([]byte, error) {
	if len(warnings) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("encode entry warnings: %w", err)
	}
	return payload, nil
}
