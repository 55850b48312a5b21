package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/univent/timetable-api/internal/engine"
	"github.com/univent/timetable-api/internal/models"
	appErrors "github.com/univent/timetable-api/pkg/errors"
)

type availabilityCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// AvailabilityResult answers one "is this resource free" point query.
type AvailabilityResult struct {
	TimetableID string                 `json:"timetable_id"`
	Resource    models.ResourceKind    `json:"resource"`
	ResourceID  string                 `json:"resource_id"`
	Slot        models.TimeSlot        `json:"slot"`
	Free        bool                   `json:"free"`
	Conflicts   []models.ScheduleEntry `json:"conflicts,omitempty"`
}

// AvailabilityService answers ad-hoc venue/faculty availability queries
// against a timetable's conflict index without constructing a candidate
// entry. Read-only: queries take the aggregate's read lock and are safe to
// run concurrently with mutations.
type AvailabilityService struct {
	timetables *TimetableService
	cache      availabilityCache
	metrics    *MetricsService
	logger     *zap.Logger
	cacheTTL   time.Duration
}

// NewAvailabilityService instantiates AvailabilityService. Cache and metrics
// may be nil.
func NewAvailabilityService(timetables *TimetableService, cache availabilityCache, metrics *MetricsService, cacheTTL time.Duration, logger *zap.Logger) *AvailabilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &AvailabilityService{
		timetables: timetables,
		cache:      cache,
		metrics:    metrics,
		logger:     logger,
		cacheTTL:   cacheTTL,
	}
}

// CheckVenue reports whether the venue is free for the slot, with the
// overlapping entries when it is not.
func (s *AvailabilityService) CheckVenue(ctx context.Context, timetableID, venueID string, slotReq SlotRequest) (*AvailabilityResult, error) {
	return s.check(ctx, timetableID, models.ResourceVenue, venueID, slotReq, func(aggregate *engine.Timetable, slot models.TimeSlot) (bool, []models.ScheduleEntry, error) {
		return aggregate.CheckVenue(venueID, slot)
	})
}

// CheckFaculty reports whether the faculty member is free for the slot.
func (s *AvailabilityService) CheckFaculty(ctx context.Context, timetableID, facultyID string, slotReq SlotRequest) (*AvailabilityResult, error) {
	return s.check(ctx, timetableID, models.ResourceFaculty, facultyID, slotReq, func(aggregate *engine.Timetable, slot models.TimeSlot) (bool, []models.ScheduleEntry, error) {
		return aggregate.CheckFaculty(facultyID, slot)
	})
}

func (s *AvailabilityService) check(ctx context.Context, timetableID string, kind models.ResourceKind, resourceID string, slotReq SlotRequest, query func(*engine.Timetable, models.TimeSlot) (bool, []models.ScheduleEntry, error)) (*AvailabilityResult, error) {
	if resourceID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "resource id required")
	}
	slot, err := slotReq.ToSlot()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot")
	}

	key := fmt.Sprintf("timetable:%s:availability:%s:%s:%s:%d:%d", timetableID, kind, resourceID, slot.Day, slot.Start, slot.End)
	if s.cache != nil {
		var cached AvailabilityResult
		start := time.Now()
		cacheErr := s.cache.Get(ctx, key, &cached)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(cacheErr == nil, time.Since(start))
		}
		if cacheErr == nil {
			return &cached, nil
		}
		if !errors.Is(cacheErr, appErrors.ErrCacheMiss) {
			s.logger.Warn("availability cache lookup failed", zap.String("key", key), zap.Error(cacheErr))
		}
	}

	aggregate, err := s.timetables.Aggregate(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	free, busy, err := query(aggregate, slot)
	if err != nil {
		if errors.Is(err, engine.ErrArchived) {
			return nil, appErrors.Clone(appErrors.ErrState, "timetable is archived")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "availability check failed")
	}

	result := &AvailabilityResult{
		TimetableID: timetableID,
		Resource:    kind,
		ResourceID:  resourceID,
		Slot:        slot,
		Free:        free,
		Conflicts:   busy,
	}
	if s.cache != nil {
		start := time.Now()
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
			s.logger.Warn("availability cache store failed", zap.String("key", key), zap.Error(err))
		} else if s.metrics != nil {
			s.metrics.ObserveCacheWrite(time.Since(start))
		}
	}
	return result, nil
}
