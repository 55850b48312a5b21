package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univent/timetable-api/internal/engine"
	"github.com/univent/timetable-api/internal/models"
	appErrors "github.com/univent/timetable-api/pkg/errors"
)

type timetableRepository interface {
	CreateTimetable(ctx context.Context, timetable *models.Timetable) error
	FindTimetable(ctx context.Context, id string) (*models.Timetable, error)
	ListTimetables(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, int, error)
	UpdateTimetableState(ctx context.Context, id string, state models.TimetableState) error
	InsertEntry(ctx context.Context, entry *models.ScheduleEntry) error
	UpdateEntrySlot(ctx context.Context, entryID string, slot models.TimeSlot) error
	UpdateEntryStatus(ctx context.Context, entryID string, status models.EntryStatus) error
	ListEntries(ctx context.Context, timetableID string) ([]models.ScheduleEntry, error)
	InsertResolution(ctx context.Context, resolution *models.ConflictResolution) error
	ListResolutions(ctx context.Context, timetableID string) ([]models.ConflictResolution, error)
}

type cacheInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// SlotRequest carries a weekday plus "HH:MM" clock times.
type SlotRequest struct {
	Day   string `json:"day" validate:"required"`
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

// ToSlot parses and validates the requested interval.
func (r SlotRequest) ToSlot() (models.TimeSlot, error) {
	day, err := models.ParseWeekday(r.Day)
	if err != nil {
		return models.TimeSlot{}, err
	}
	start, err := models.ParseClock(r.Start)
	if err != nil {
		return models.TimeSlot{}, err
	}
	end, err := models.ParseClock(r.End)
	if err != nil {
		return models.TimeSlot{}, err
	}
	slot := models.TimeSlot{Day: day, Start: start, End: end}
	if err := slot.Validate(); err != nil {
		return models.TimeSlot{}, err
	}
	return slot, nil
}

// CreateTimetableRequest describes payload for creating a timetable.
type CreateTimetableRequest struct {
	Name      string `json:"name" validate:"required"`
	Type      string `json:"type" validate:"required,oneof=ACADEMIC EVENT academic event"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

// AddEntryRequest describes payload for booking a slot.
type AddEntryRequest struct {
	Slot       SlotRequest `json:"slot" validate:"required"`
	VenueID    string      `json:"venue_id" validate:"required"`
	EventID    string      `json:"event_id" validate:"required"`
	FacultyIDs []string    `json:"faculty_ids"`
}

// MoveEntryRequest relocates an existing entry to a new slot.
type MoveEntryRequest struct {
	Slot SlotRequest `json:"slot" validate:"required"`
}

// ResolveConflictRequest annotates a reported conflict.
type ResolveConflictRequest struct {
	Note string `json:"note" validate:"required"`
}

// TimetableDetail is a timetable plus its full entries list.
type TimetableDetail struct {
	Timetable models.Timetable       `json:"timetable"`
	Entries   []models.ScheduleEntry `json:"entries"`
}

// ForcedAddResult is the outcome of a privileged insertion: the entry plus
// the conflicts it knowingly introduced.
type ForcedAddResult struct {
	Entry    models.ScheduleEntry `json:"entry"`
	Warnings []models.Conflict    `json:"warnings"`
}

// TimetableService coordinates the scheduling engine with persistence,
// audit, caching, and metrics. Aggregates are hydrated lazily from the
// repository and kept in memory; the repository rows stay the source of
// truth and any divergence is healed by re-hydration.
type TimetableService struct {
	repo      timetableRepository
	audit     *AuditService
	cache     cacheInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger

	mu         sync.RWMutex
	aggregates map[string]*engine.Timetable
}

// NewTimetableService instantiates TimetableService. Audit, cache, and
// metrics may be nil.
func NewTimetableService(repo timetableRepository, audit *AuditService, cache cacheInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimetableService{
		repo:       repo,
		audit:      audit,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		aggregates: make(map[string]*engine.Timetable),
	}
}

// Create makes a new Draft timetable.
func (s *TimetableService) Create(ctx context.Context, req CreateTimetableRequest, authority models.Authority) (*models.Timetable, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable payload")
	}
	if !authority.CanSchedule() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "scheduling authority required")
	}

	startDate, _ := time.Parse("2006-01-02", req.StartDate)
	endDate, _ := time.Parse("2006-01-02", req.EndDate)
	if !endDate.After(startDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}

	timetable := models.Timetable{
		Name:  req.Name,
		Type:  models.TimetableType(strings.ToUpper(req.Type)),
		State: models.StateDraft,

		StartDate: startDate,
		EndDate:   endDate,
	}
	if err := s.repo.CreateTimetable(ctx, &timetable); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create timetable")
	}

	s.mu.Lock()
	s.aggregates[timetable.ID] = engine.New(timetable)
	s.mu.Unlock()

	return &timetable, nil
}

// List returns timetables with pagination metadata.
func (s *TimetableService) List(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, *models.Pagination, error) {
	timetables, total, err := s.repo.ListTimetables(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list timetables")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return timetables, pagination, nil
}

// Get returns a timetable with its entries, removed ones included.
func (s *TimetableService) Get(ctx context.Context, timetableID string) (*TimetableDetail, error) {
	aggregate, err := s.aggregate(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	return &TimetableDetail{Timetable: aggregate.Meta(), Entries: aggregate.Entries()}, nil
}

// AddEntry books a slot. On conflicts the timetable is untouched and the
// caller receives the full conflict list.
func (s *TimetableService) AddEntry(ctx context.Context, timetableID string, req AddEntryRequest, authority models.Authority) (*models.ScheduleEntry, error) {
	entry, aggregate, err := s.buildEntry(ctx, timetableID, req)
	if err != nil {
		return nil, err
	}

	if err := aggregate.AddEntry(entry, authority); err != nil {
		return nil, s.mapEngineError(err, timetableID)
	}
	// The aggregate keeps the inserted pointer and mutates it under its own
	// lock. Persist a snapshot so a concurrent move cannot tear the row.
	persisted := entry.Clone()
	if err := s.repo.InsertEntry(ctx, &persisted); err != nil {
		return nil, s.persistenceFailure(timetableID, "failed to persist entry", err)
	}

	s.invalidate(ctx, timetableID)
	s.recordAudit(timetableID, &persisted.ID, models.AuditActionEntryAdd, authority, persisted.Slot.Label())
	return &persisted, nil
}

// AddEntryForced bypasses the conflict gate with elevated authority. The
// computed conflicts are recorded on the entry, never dropped.
func (s *TimetableService) AddEntryForced(ctx context.Context, timetableID string, req AddEntryRequest, authority models.Authority) (*ForcedAddResult, error) {
	entry, aggregate, err := s.buildEntry(ctx, timetableID, req)
	if err != nil {
		return nil, err
	}

	warnings, err := aggregate.AddEntryForced(entry, authority)
	if err != nil {
		return nil, s.mapEngineError(err, timetableID)
	}
	persisted := entry.Clone()
	if err := s.repo.InsertEntry(ctx, &persisted); err != nil {
		return nil, s.persistenceFailure(timetableID, "failed to persist forced entry", err)
	}
	if s.metrics != nil {
		s.metrics.RecordForcedAdd(len(warnings))
	}

	s.invalidate(ctx, timetableID)
	s.recordAudit(timetableID, &persisted.ID, models.AuditActionEntryForceAdd, authority, fmt.Sprintf("%s (%d conflicts recorded)", persisted.Slot.Label(), len(warnings)))
	return &ForcedAddResult{Entry: persisted, Warnings: warnings}, nil
}

// RemoveEntry soft-deletes an entry.
func (s *TimetableService) RemoveEntry(ctx context.Context, timetableID, entryID string, authority models.Authority) error {
	aggregate, err := s.aggregate(ctx, timetableID)
	if err != nil {
		return err
	}
	if err := aggregate.RemoveEntry(entryID, authority); err != nil {
		return s.mapEngineError(err, timetableID)
	}
	if err := s.repo.UpdateEntryStatus(ctx, entryID, models.EntryRemoved); err != nil {
		return s.persistenceFailure(timetableID, "failed to persist entry removal", err)
	}

	s.invalidate(ctx, timetableID)
	s.recordAudit(timetableID, &entryID, models.AuditActionEntryRemove, authority, "")
	return nil
}

// MoveEntry relocates an entry after re-running conflict detection against
// the new slot. A refused move leaves the entry exactly where it was.
func (s *TimetableService) MoveEntry(ctx context.Context, timetableID, entryID string, req MoveEntryRequest, authority models.Authority) (*models.ScheduleEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid move payload")
	}
	newSlot, err := req.Slot.ToSlot()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot")
	}

	aggregate, err := s.aggregate(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	moved, err := aggregate.MoveEntry(entryID, newSlot, authority)
	if err != nil {
		return nil, s.mapEngineError(err, timetableID)
	}
	if err := s.repo.UpdateEntrySlot(ctx, entryID, newSlot); err != nil {
		return nil, s.persistenceFailure(timetableID, "failed to persist entry move", err)
	}

	s.invalidate(ctx, timetableID)
	s.recordAudit(timetableID, &entryID, models.AuditActionEntryMove, authority, newSlot.Label())
	return moved, nil
}

// DetectConflicts runs the full sweep across all active entries.
func (s *TimetableService) DetectConflicts(ctx context.Context, timetableID string) ([]models.Conflict, error) {
	aggregate, err := s.aggregate(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	conflicts := aggregate.DetectAll()
	if s.metrics != nil {
		s.metrics.RecordConflictSweep(len(conflicts))
	}
	return conflicts, nil
}

// ResolveConflict records a human annotation against a reported conflict.
// The annotation does not change scheduling state or unblock publishing.
func (s *TimetableService) ResolveConflict(ctx context.Context, timetableID, conflictRef string, req ResolveConflictRequest, authority models.Authority) (*models.ConflictResolution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolution payload")
	}

	aggregate, err := s.aggregate(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	resolution := models.ConflictResolution{
		ID:          uuid.New().String(),
		TimetableID: timetableID,
		ConflictRef: conflictRef,
		Note:        req.Note,
		ResolvedBy:  authority.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := aggregate.ResolveConflict(resolution, authority); err != nil {
		return nil, s.mapEngineError(err, timetableID)
	}
	if err := s.repo.InsertResolution(ctx, &resolution); err != nil {
		return nil, s.persistenceFailure(timetableID, "failed to persist resolution", err)
	}

	s.recordAudit(timetableID, nil, models.AuditActionConflictResolve, authority, conflictRef)
	return &resolution, nil
}

// Publish transitions Draft to Published, gated on a clean full sweep.
func (s *TimetableService) Publish(ctx context.Context, timetableID string, authority models.Authority) (*models.Timetable, error) {
	return s.transition(ctx, timetableID, authority, models.AuditActionPublish, func(aggregate *engine.Timetable) error {
		return aggregate.Publish(authority)
	})
}

// Unpublish transitions Published back to Draft.
func (s *TimetableService) Unpublish(ctx context.Context, timetableID string, authority models.Authority) (*models.Timetable, error) {
	return s.transition(ctx, timetableID, authority, models.AuditActionUnpublish, func(aggregate *engine.Timetable) error {
		return aggregate.Unpublish(authority)
	})
}

// Archive moves the timetable into its terminal state.
func (s *TimetableService) Archive(ctx context.Context, timetableID string, authority models.Authority) (*models.Timetable, error) {
	return s.transition(ctx, timetableID, authority, models.AuditActionArchive, func(aggregate *engine.Timetable) error {
		return aggregate.Archive(authority)
	})
}

func (s *TimetableService) transition(ctx context.Context, timetableID string, authority models.Authority, action string, op func(*engine.Timetable) error) (*models.Timetable, error) {
	aggregate, err := s.aggregate(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	if err := op(aggregate); err != nil {
		return nil, s.mapEngineError(err, timetableID)
	}
	meta := aggregate.Meta()
	if err := s.repo.UpdateTimetableState(ctx, timetableID, meta.State); err != nil {
		return nil, s.persistenceFailure(timetableID, "failed to persist state transition", err)
	}

	s.invalidate(ctx, timetableID)
	s.recordAudit(timetableID, nil, action, authority, string(meta.State))
	return &meta, nil
}

// Aggregate exposes the in-memory aggregate for sibling services (the
// availability service queries it under its read lock).
func (s *TimetableService) Aggregate(ctx context.Context, timetableID string) (*engine.Timetable, error) {
	return s.aggregate(ctx, timetableID)
}

func (s *TimetableService) aggregate(ctx context.Context, timetableID string) (*engine.Timetable, error) {
	s.mu.RLock()
	aggregate, ok := s.aggregates[timetableID]
	s.mu.RUnlock()
	if ok {
		return aggregate, nil
	}

	meta, err := s.repo.FindTimetable(ctx, timetableID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	entries, err := s.repo.ListEntries(ctx, timetableID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entries")
	}
	resolutions, err := s.repo.ListResolutions(ctx, timetableID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resolutions")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.aggregates[timetableID]; ok {
		return existing, nil
	}
	aggregate = engine.Hydrate(*meta, entries, resolutions)
	s.aggregates[timetableID] = aggregate
	return aggregate, nil
}

func (s *TimetableService) buildEntry(ctx context.Context, timetableID string, req AddEntryRequest) (*models.ScheduleEntry, *engine.Timetable, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid entry payload")
	}
	slot, err := req.Slot.ToSlot()
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot")
	}

	aggregate, err := s.aggregate(ctx, timetableID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	entry := &models.ScheduleEntry{
		ID:         uuid.New().String(),
		Slot:       slot,
		VenueID:    req.VenueID,
		EventID:    req.EventID,
		FacultyIDs: dedupe(req.FacultyIDs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return entry, aggregate, nil
}

// mapEngineError converts aggregate errors into HTTP-aware typed errors.
func (s *TimetableService) mapEngineError(err error, timetableID string) error {
	var conflictErr *models.ConflictError
	if errors.As(err, &conflictErr) {
		if s.metrics != nil {
			s.metrics.RecordConflictsRefused(len(conflictErr.Conflicts))
		}
		return appErrors.Wrap(conflictErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, conflictErr.Message)
	}
	var consistencyErr *engine.ConsistencyError
	if errors.As(err, &consistencyErr) {
		s.logger.Error("conflict index inconsistency, index rebuilt",
			zap.String("timetable_id", timetableID),
			zap.String("entry_id", consistencyErr.EntryID),
			zap.String("detail", consistencyErr.Detail))
		return appErrors.Wrap(err, appErrors.ErrConsistency.Code, appErrors.ErrConsistency.Status, "index inconsistency detected, retry the operation")
	}
	switch {
	case errors.Is(err, engine.ErrEntryNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, "entry not found")
	case errors.Is(err, engine.ErrArchived):
		return appErrors.Clone(appErrors.ErrState, "timetable is archived")
	case errors.Is(err, engine.ErrInvalidTransition):
		return appErrors.Clone(appErrors.ErrState, "invalid lifecycle transition")
	case errors.Is(err, engine.ErrScheduleAuthority), errors.Is(err, engine.ErrPublishAuthority), errors.Is(err, engine.ErrForceAuthority):
		return appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, err.Error())
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "scheduling operation failed")
	}
}

// persistenceFailure drops the in-memory aggregate so the next access
// re-hydrates from the repository, erasing the divergence the failed write
// left behind.
func (s *TimetableService) persistenceFailure(timetableID, message string, err error) error {
	s.mu.Lock()
	delete(s.aggregates, timetableID)
	s.mu.Unlock()
	s.logger.Error(message, zap.String("timetable_id", timetableID), zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *TimetableService) invalidate(ctx context.Context, timetableID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("timetable:%s:*", timetableID)); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("timetable_id", timetableID), zap.Error(err))
	}
}

func (s *TimetableService) recordAudit(timetableID string, entryID *string, action string, authority models.Authority, detail string) {
	if s.audit == nil {
		return
	}
	var payload []byte
	if detail != "" {
		payload, _ = json.Marshal(map[string]string{"detail": detail})
	}
	s.audit.Record(models.AuditRecord{
		TimetableID: timetableID,
		EntryID:     entryID,
		Action:      action,
		ActorID:     authority.UserID,
		ActorRole:   string(authority.Role),
		Detail:      payload,
	})
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
