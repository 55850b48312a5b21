package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/univent/timetable-api/internal/models"
)

// Sentinel errors surfaced by the aggregate. The service layer maps them to
// typed HTTP-aware errors.
var (
	ErrEntryNotFound     = errors.New("entry not found")
	ErrArchived          = errors.New("timetable is archived")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrScheduleAuthority = errors.New("scheduling authority required")
	ErrPublishAuthority  = errors.New("publish authority required to mutate a published timetable")
	ErrForceAuthority    = errors.New("elevated authority required")
)

// Timetable is the aggregate: metadata, the insertion-ordered entries list
// (including removed ones, for audit), the derived conflict index, and
// resolution annotations. One RWMutex guards the whole aggregate so
// detection and insertion are atomic; independent timetables never contend.
type Timetable struct {
	mu          sync.RWMutex
	meta        models.Timetable
	entries     []*models.ScheduleEntry
	index       *ConflictIndex
	resolutions map[string]models.ConflictResolution
}

// New creates an empty aggregate around the given metadata.
func New(meta models.Timetable) *Timetable {
	return &Timetable{
		meta:        meta,
		index:       NewConflictIndex(),
		resolutions: make(map[string]models.ConflictResolution),
	}
}

// Hydrate rebuilds an aggregate from persisted rows. The entries list is the
// source of truth; the index is reconstructed from its active entries.
func Hydrate(meta models.Timetable, entries []models.ScheduleEntry, resolutions []models.ConflictResolution) *Timetable {
	t := New(meta)
	t.entries = make([]*models.ScheduleEntry, 0, len(entries))
	for i := range entries {
		entry := entries[i].Clone()
		t.entries = append(t.entries, &entry)
	}
	t.index.Rebuild(t.entries)
	for _, res := range resolutions {
		t.resolutions[res.ConflictRef] = res
	}
	return t
}

// Meta returns a copy of the timetable metadata.
func (t *Timetable) Meta() models.Timetable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta
}

// Entries returns copies of all entries in insertion order, removed ones
// included.
func (t *Timetable) Entries() []models.ScheduleEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.ScheduleEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, entry.Clone())
	}
	return out
}

// guardMutation enforces state and authority preconditions shared by every
// mutating operation. Caller holds the write lock.
func (t *Timetable) guardMutation(authority models.Authority) error {
	if t.meta.State == models.StateArchived {
		return ErrArchived
	}
	if !authority.CanSchedule() {
		return ErrScheduleAuthority
	}
	if t.meta.State == models.StatePublished && !authority.CanPublish() {
		return ErrPublishAuthority
	}
	return nil
}

// AddEntry inserts the candidate if and only if it conflicts with nothing.
// On conflicts it returns a *models.ConflictError and mutates nothing.
func (t *Timetable) AddEntry(entry *models.ScheduleEntry, authority models.Authority) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.guardMutation(authority); err != nil {
		return err
	}
	if conflicts := Detect(t.index, entry); len(conflicts) > 0 {
		return &models.ConflictError{Message: "schedule conflicts detected", Conflicts: conflicts}
	}
	t.insertLocked(entry)
	return nil
}

// AddEntryForced bypasses the conflict gate. It requires elevated authority
// and records the computed conflicts on the entry as warnings.
func (t *Timetable) AddEntryForced(entry *models.ScheduleEntry, authority models.Authority) ([]models.Conflict, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.guardMutation(authority); err != nil {
		return nil, err
	}
	if !authority.CanForce() {
		return nil, ErrForceAuthority
	}
	conflicts := Detect(t.index, entry)
	entry.Warnings = conflicts
	t.insertLocked(entry)
	return conflicts, nil
}

func (t *Timetable) insertLocked(entry *models.ScheduleEntry) {
	entry.TimetableID = t.meta.ID
	entry.Status = models.EntryActive
	t.entries = append(t.entries, entry)
	t.index.Insert(entry)
}

// RemoveEntry soft-deletes an active entry. Removing an unknown or already
// removed entry is ErrEntryNotFound.
func (t *Timetable) RemoveEntry(entryID string, authority models.Authority) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.guardMutation(authority); err != nil {
		return err
	}
	entry := t.findActiveLocked(entryID)
	if entry == nil {
		return ErrEntryNotFound
	}
	if err := t.index.Remove(entryID); err != nil {
		// Entries list is the source of truth: rebuild the derived index
		// and fail this operation.
		t.index.Rebuild(t.entries)
		return err
	}
	entry.Status = models.EntryRemoved
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// MoveEntry re-checks the new slot (excluding the entry's own reservation)
// and atomically relocates the entry. A failed move leaves the entry at its
// original slot, still indexed.
func (t *Timetable) MoveEntry(entryID string, newSlot models.TimeSlot, authority models.Authority) (*models.ScheduleEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.guardMutation(authority); err != nil {
		return nil, err
	}
	entry := t.findActiveLocked(entryID)
	if entry == nil {
		return nil, ErrEntryNotFound
	}

	candidate := entry.Clone()
	candidate.Slot = newSlot
	if conflicts := Detect(t.index, &candidate); len(conflicts) > 0 {
		return nil, &models.ConflictError{Message: "move would introduce conflicts", Conflicts: conflicts}
	}

	if err := t.index.Remove(entryID); err != nil {
		t.index.Rebuild(t.entries)
		return nil, err
	}
	entry.Slot = newSlot
	entry.UpdatedAt = time.Now().UTC()
	t.index.Insert(entry)

	moved := entry.Clone()
	return &moved, nil
}

// ResolveConflict records a human annotation against a reported conflict.
// Metadata only: it never changes scheduling state and does not unblock
// publishing.
func (t *Timetable) ResolveConflict(resolution models.ConflictResolution, authority models.Authority) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.guardMutation(authority); err != nil {
		return err
	}
	t.resolutions[resolution.ConflictRef] = resolution
	return nil
}

// DetectAll sweeps every active entry against the index and returns each
// conflict once per (pair, resource), annotated with any recorded resolution.
func (t *Timetable) DetectAll() []models.Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.detectAllLocked()
}

func (t *Timetable) detectAllLocked() []models.Conflict {
	seen := make(map[string]struct{})
	var conflicts []models.Conflict
	for _, entry := range t.entries {
		if entry.Status != models.EntryActive {
			continue
		}
		for _, conflict := range Detect(t.index, entry) {
			if _, dup := seen[conflict.Ref]; dup {
				continue
			}
			seen[conflict.Ref] = struct{}{}
			if res, ok := t.resolutions[conflict.Ref]; ok {
				resCopy := res
				conflict.Resolution = &resCopy
			}
			conflicts = append(conflicts, conflict)
		}
	}
	return conflicts
}

// Publish transitions Draft to Published. The full sweep runs regardless of
// earlier per-entry checks so force-added clashes are caught; resolution
// annotations alone never satisfy the gate.
func (t *Timetable) Publish(authority models.Authority) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.meta.State == models.StateArchived {
		return ErrArchived
	}
	if !authority.CanPublish() {
		return ErrPublishAuthority
	}
	if !t.meta.State.CanTransitionTo(models.StatePublished) {
		return ErrInvalidTransition
	}
	if conflicts := t.detectAllLocked(); len(conflicts) > 0 {
		return &models.ConflictError{Message: "cannot publish with unresolved conflicts", Conflicts: conflicts}
	}
	t.setStateLocked(models.StatePublished)
	return nil
}

// Unpublish transitions Published back to Draft. Always permitted for a
// published timetable.
func (t *Timetable) Unpublish(authority models.Authority) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.meta.State == models.StateArchived {
		return ErrArchived
	}
	if !authority.CanPublish() {
		return ErrPublishAuthority
	}
	if t.meta.State != models.StatePublished {
		return ErrInvalidTransition
	}
	t.setStateLocked(models.StateDraft)
	return nil
}

// Archive moves the timetable to its terminal state. Elevated authority
// required; every later mutation fails with ErrArchived.
func (t *Timetable) Archive(authority models.Authority) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.meta.State == models.StateArchived {
		return ErrArchived
	}
	if !authority.CanForce() {
		return ErrForceAuthority
	}
	t.setStateLocked(models.StateArchived)
	return nil
}

func (t *Timetable) setStateLocked(next models.TimetableState) {
	t.meta.State = next
	t.meta.UpdatedAt = time.Now().UTC()
}

// CheckVenue answers whether the venue is free for the slot. Read-only and
// ephemeral; rejected for archived timetables.
func (t *Timetable) CheckVenue(venueID string, slot models.TimeSlot) (bool, []models.ScheduleEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.meta.State == models.StateArchived {
		return false, nil, ErrArchived
	}
	return cloneOverlaps(t.index.VenueOverlaps(venueID, slot, ""))
}

// CheckFaculty answers whether the faculty member is free for the slot.
func (t *Timetable) CheckFaculty(facultyID string, slot models.TimeSlot) (bool, []models.ScheduleEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.meta.State == models.StateArchived {
		return false, nil, ErrArchived
	}
	return cloneOverlaps(t.index.FacultyOverlaps(facultyID, slot, ""))
}

func cloneOverlaps(overlapping []*models.ScheduleEntry) (bool, []models.ScheduleEntry, error) {
	if len(overlapping) == 0 {
		return true, nil, nil
	}
	busy := make([]models.ScheduleEntry, 0, len(overlapping))
	for _, entry := range overlapping {
		busy = append(busy, entry.Clone())
	}
	return false, busy, nil
}

func (t *Timetable) findActiveLocked(entryID string) *models.ScheduleEntry {
	for _, entry := range t.entries {
		if entry.ID == entryID && entry.Status == models.EntryActive {
			return entry
		}
	}
	return nil
}
