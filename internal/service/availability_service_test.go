package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/univent/timetable-api/internal/models"
	appErrors "github.com/univent/timetable-api/pkg/errors"
)

type mockAvailabilityCache struct {
	values map[string][]byte
	gets   int
	sets   int
}

func newMockAvailabilityCache() *mockAvailabilityCache {
	return &mockAvailabilityCache{values: make(map[string][]byte)}
}

func (m *mockAvailabilityCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.gets++
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockAvailabilityCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.sets++
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func newTestAvailabilityService(t *testing.T) (*AvailabilityService, *TimetableService, *mockAvailabilityCache, string) {
	t.Helper()
	repo := newMockTimetableRepo()
	ttID := seedTimetable(repo)
	timetables, _ := newTestTimetableService(repo)
	cache := newMockAvailabilityCache()
	svc := NewAvailabilityService(timetables, cache, nil, time.Minute, zap.NewNop())
	return svc, timetables, cache, ttID
}

func TestCheckVenueAvailability(t *testing.T) {
	svc, timetables, cache, ttID := newTestAvailabilityService(t)

	_, err := timetables.AddEntry(context.Background(), ttID, AddEntryRequest{
		Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1", FacultyIDs: []string{"f1"},
	}, testScheduler)
	require.NoError(t, err)

	t.Run("busy venue reports the blocking entries", func(t *testing.T) {
		result, err := svc.CheckVenue(context.Background(), ttID, "v1", slotReq("MONDAY", "10:00", "12:00"))
		require.NoError(t, err)
		assert.False(t, result.Free)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, models.ResourceVenue, result.Resource)
	})

	t.Run("free venue", func(t *testing.T) {
		result, err := svc.CheckVenue(context.Background(), ttID, "v1", slotReq("MONDAY", "11:00", "12:00"))
		require.NoError(t, err)
		assert.True(t, result.Free)
		assert.Empty(t, result.Conflicts)
	})

	t.Run("repeat query is served from cache", func(t *testing.T) {
		setsBefore := cache.sets
		first, err := svc.CheckVenue(context.Background(), ttID, "v2", slotReq("TUESDAY", "09:00", "10:00"))
		require.NoError(t, err)
		assert.Equal(t, setsBefore+1, cache.sets)

		second, err := svc.CheckVenue(context.Background(), ttID, "v2", slotReq("TUESDAY", "09:00", "10:00"))
		require.NoError(t, err)
		assert.Equal(t, setsBefore+1, cache.sets)
		assert.Equal(t, first.Free, second.Free)
	})

	t.Run("invalid slot", func(t *testing.T) {
		_, err := svc.CheckVenue(context.Background(), ttID, "v1", slotReq("MONDAY", "11:00", "09:00"))
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("missing resource id", func(t *testing.T) {
		_, err := svc.CheckVenue(context.Background(), ttID, "", slotReq("MONDAY", "09:00", "10:00"))
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})
}

func TestCheckFacultyAvailability(t *testing.T) {
	svc, timetables, _, ttID := newTestAvailabilityService(t)

	_, err := timetables.AddEntry(context.Background(), ttID, AddEntryRequest{
		Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1", FacultyIDs: []string{"f1"},
	}, testScheduler)
	require.NoError(t, err)

	result, err := svc.CheckFaculty(context.Background(), ttID, "f1", slotReq("MONDAY", "10:00", "12:00"))
	require.NoError(t, err)
	assert.False(t, result.Free)
	assert.Equal(t, models.ResourceFaculty, result.Resource)

	result, err = svc.CheckFaculty(context.Background(), ttID, "f2", slotReq("MONDAY", "10:00", "12:00"))
	require.NoError(t, err)
	assert.True(t, result.Free)
}

func TestCheckArchivedTimetable(t *testing.T) {
	svc, timetables, _, ttID := newTestAvailabilityService(t)

	_, err := timetables.Archive(context.Background(), ttID, testAdmin)
	require.NoError(t, err)

	_, err = svc.CheckVenue(context.Background(), ttID, "v1", slotReq("MONDAY", "09:00", "10:00"))
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrState.Code, appErr.Code)
}
