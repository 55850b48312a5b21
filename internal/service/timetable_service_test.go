package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/univent/timetable-api/internal/models"
	appErrors "github.com/univent/timetable-api/pkg/errors"
)

type mockTimetableRepo struct {
	timetables  map[string]models.Timetable
	entries     map[string][]models.ScheduleEntry
	resolutions map[string][]models.ConflictResolution

	findCalls        int
	insertEntryErr   error
	updateStatusErr  error
	updateSlotErr    error
	updateStateErr   error
	insertResolveErr error
}

func newMockTimetableRepo() *mockTimetableRepo {
	return &mockTimetableRepo{
		timetables:  make(map[string]models.Timetable),
		entries:     make(map[string][]models.ScheduleEntry),
		resolutions: make(map[string][]models.ConflictResolution),
	}
}

func (m *mockTimetableRepo) CreateTimetable(ctx context.Context, timetable *models.Timetable) error {
	if timetable.ID == "" {
		timetable.ID = "tt-new"
	}
	m.timetables[timetable.ID] = *timetable
	return nil
}

func (m *mockTimetableRepo) FindTimetable(ctx context.Context, id string) (*models.Timetable, error) {
	m.findCalls++
	if tt, ok := m.timetables[id]; ok {
		return &tt, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTimetableRepo) ListTimetables(ctx context.Context, filter models.TimetableFilter) ([]models.Timetable, int, error) {
	var out []models.Timetable
	for _, tt := range m.timetables {
		out = append(out, tt)
	}
	return out, len(out), nil
}

func (m *mockTimetableRepo) UpdateTimetableState(ctx context.Context, id string, state models.TimetableState) error {
	if m.updateStateErr != nil {
		return m.updateStateErr
	}
	if tt, ok := m.timetables[id]; ok {
		tt.State = state
		m.timetables[id] = tt
	}
	return nil
}

func (m *mockTimetableRepo) InsertEntry(ctx context.Context, entry *models.ScheduleEntry) error {
	if m.insertEntryErr != nil {
		return m.insertEntryErr
	}
	m.entries[entry.TimetableID] = append(m.entries[entry.TimetableID], entry.Clone())
	return nil
}

func (m *mockTimetableRepo) UpdateEntrySlot(ctx context.Context, entryID string, slot models.TimeSlot) error {
	if m.updateSlotErr != nil {
		return m.updateSlotErr
	}
	for ttID, entries := range m.entries {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].Slot = slot
				m.entries[ttID] = entries
			}
		}
	}
	return nil
}

func (m *mockTimetableRepo) UpdateEntryStatus(ctx context.Context, entryID string, status models.EntryStatus) error {
	if m.updateStatusErr != nil {
		return m.updateStatusErr
	}
	for ttID, entries := range m.entries {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].Status = status
				m.entries[ttID] = entries
			}
		}
	}
	return nil
}

func (m *mockTimetableRepo) ListEntries(ctx context.Context, timetableID string) ([]models.ScheduleEntry, error) {
	return m.entries[timetableID], nil
}

func (m *mockTimetableRepo) InsertResolution(ctx context.Context, resolution *models.ConflictResolution) error {
	if m.insertResolveErr != nil {
		return m.insertResolveErr
	}
	m.resolutions[resolution.TimetableID] = append(m.resolutions[resolution.TimetableID], *resolution)
	return nil
}

func (m *mockTimetableRepo) ListResolutions(ctx context.Context, timetableID string) ([]models.ConflictResolution, error) {
	return m.resolutions[timetableID], nil
}

type mockInvalidator struct {
	patterns []string
}

func (m *mockInvalidator) DeleteByPattern(ctx context.Context, pattern string) error {
	m.patterns = append(m.patterns, pattern)
	return nil
}

var (
	testAdmin     = models.Authority{UserID: "u-admin", Role: models.RoleAdmin}
	testScheduler = models.Authority{UserID: "u-sched", Role: models.RoleScheduler}
	testViewer    = models.Authority{UserID: "u-view", Role: models.RoleViewer}
)

func newTestTimetableService(repo *mockTimetableRepo) (*TimetableService, *mockInvalidator) {
	invalidator := &mockInvalidator{}
	svc := NewTimetableService(repo, nil, invalidator, nil, validator.New(), zap.NewNop())
	return svc, invalidator
}

func seedTimetable(repo *mockTimetableRepo) string {
	repo.timetables["tt-1"] = models.Timetable{ID: "tt-1", Name: "Fall", Type: models.TypeAcademic, State: models.StateDraft}
	return "tt-1"
}

func slotReq(day, start, end string) SlotRequest {
	return SlotRequest{Day: day, Start: start, End: end}
}

func TestCreateTimetable(t *testing.T) {
	repo := newMockTimetableRepo()
	svc, _ := newTestTimetableService(repo)

	t.Run("success", func(t *testing.T) {
		tt, err := svc.Create(context.Background(), CreateTimetableRequest{
			Name:      "Fall 2026",
			Type:      "academic",
			StartDate: "2026-09-01",
			EndDate:   "2026-12-18",
		}, testScheduler)
		require.NoError(t, err)
		assert.Equal(t, models.StateDraft, tt.State)
		assert.Equal(t, models.TypeAcademic, tt.Type)
		assert.NotEmpty(t, tt.ID)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.Create(context.Background(), CreateTimetableRequest{Name: "x"}, testScheduler)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("inverted dates", func(t *testing.T) {
		_, err := svc.Create(context.Background(), CreateTimetableRequest{
			Name:      "Backwards",
			Type:      "EVENT",
			StartDate: "2026-12-18",
			EndDate:   "2026-09-01",
		}, testScheduler)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("viewer forbidden", func(t *testing.T) {
		_, err := svc.Create(context.Background(), CreateTimetableRequest{
			Name:      "Nope",
			Type:      "EVENT",
			StartDate: "2026-09-01",
			EndDate:   "2026-12-18",
		}, testViewer)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	})
}

func TestAddEntryService(t *testing.T) {
	t.Run("accepted entry is persisted and cache invalidated", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, invalidator := newTestTimetableService(repo)
		ttID := seedTimetable(repo)

		entry, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot:       slotReq("MONDAY", "09:00", "11:00"),
			VenueID:    "v1",
			EventID:    "ev1",
			FacultyIDs: []string{"f1", "f1", " "},
		}, testScheduler)
		require.NoError(t, err)
		assert.Equal(t, ttID, entry.TimetableID)
		assert.Equal(t, []string{"f1"}, entry.FacultyIDs)
		require.Len(t, repo.entries[ttID], 1)
		assert.Contains(t, invalidator.patterns, "timetable:tt-1:*")
	})

	t.Run("conflicting entry is refused with the conflict list", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, _ := newTestTimetableService(repo)
		ttID := seedTimetable(repo)

		_, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
		}, testScheduler)
		require.NoError(t, err)

		_, err = svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "10:00", "12:00"), VenueID: "v1", EventID: "ev2",
		}, testScheduler)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)

		var conflictErr *models.ConflictError
		require.ErrorAs(t, err, &conflictErr)
		assert.Len(t, conflictErr.Conflicts, 1)

		// Nothing persisted for the refused entry.
		assert.Len(t, repo.entries[ttID], 1)
	})

	t.Run("unknown timetable", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, _ := newTestTimetableService(repo)

		_, err := svc.AddEntry(context.Background(), "ghost", AddEntryRequest{
			Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
		}, testScheduler)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	})

	t.Run("invalid slot", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, _ := newTestTimetableService(repo)
		ttID := seedTimetable(repo)

		_, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "11:00", "09:00"), VenueID: "v1", EventID: "ev1",
		}, testScheduler)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	})

	t.Run("persistence failure evicts the aggregate", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, _ := newTestTimetableService(repo)
		ttID := seedTimetable(repo)

		repo.insertEntryErr = errors.New("connection reset")
		_, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
		}, testScheduler)
		appErr := appErrors.FromError(err)
		require.Equal(t, appErrors.ErrInternal.Code, appErr.Code)

		// The in-memory insert must not survive: next access re-hydrates
		// from the repository, where the entry was never written.
		repo.insertEntryErr = nil
		findCallsBefore := repo.findCalls
		entry, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
		}, testScheduler)
		require.NoError(t, err)
		assert.NotNil(t, entry)
		assert.Greater(t, repo.findCalls, findCallsBefore)
	})
}

func TestForcedAddService(t *testing.T) {
	repo := newMockTimetableRepo()
	svc, _ := newTestTimetableService(repo)
	ttID := seedTimetable(repo)

	_, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
		Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
	}, testAdmin)
	require.NoError(t, err)

	t.Run("admin forces through a clash", func(t *testing.T) {
		result, err := svc.AddEntryForced(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "10:00", "12:00"), VenueID: "v1", EventID: "ev2",
		}, testAdmin)
		require.NoError(t, err)
		require.Len(t, result.Warnings, 1)
		assert.Equal(t, models.ResourceVenue, result.Warnings[0].Resource)
		assert.Len(t, repo.entries[ttID], 2)
	})

	t.Run("scheduler cannot force", func(t *testing.T) {
		_, err := svc.AddEntryForced(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "10:00", "12:00"), VenueID: "v1", EventID: "ev3",
		}, testScheduler)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	})
}

func TestRemoveAndMoveService(t *testing.T) {
	repo := newMockTimetableRepo()
	svc, _ := newTestTimetableService(repo)
	ttID := seedTimetable(repo)

	entry, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
		Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
	}, testScheduler)
	require.NoError(t, err)

	t.Run("move persists the new slot", func(t *testing.T) {
		moved, err := svc.MoveEntry(context.Background(), ttID, entry.ID, MoveEntryRequest{
			Slot: slotReq("TUESDAY", "09:00", "11:00"),
		}, testScheduler)
		require.NoError(t, err)
		assert.Equal(t, models.Tuesday, moved.Slot.Day)
		assert.Equal(t, models.Tuesday, repo.entries[ttID][0].Slot.Day)
	})

	t.Run("remove soft-deletes", func(t *testing.T) {
		require.NoError(t, svc.RemoveEntry(context.Background(), ttID, entry.ID, testScheduler))
		assert.Equal(t, models.EntryRemoved, repo.entries[ttID][0].Status)
	})

	t.Run("removing again is not found", func(t *testing.T) {
		err := svc.RemoveEntry(context.Background(), ttID, entry.ID, testScheduler)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	})
}

func TestPublishService(t *testing.T) {
	t.Run("publish persists the state", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, _ := newTestTimetableService(repo)
		ttID := seedTimetable(repo)

		tt, err := svc.Publish(context.Background(), ttID, testScheduler)
		require.NoError(t, err)
		assert.Equal(t, models.StatePublished, tt.State)
		assert.Equal(t, models.StatePublished, repo.timetables[ttID].State)
	})

	t.Run("forced clash blocks publish", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, _ := newTestTimetableService(repo)
		ttID := seedTimetable(repo)

		_, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
		}, testAdmin)
		require.NoError(t, err)
		_, err = svc.AddEntryForced(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "10:00", "12:00"), VenueID: "v1", EventID: "ev2",
		}, testAdmin)
		require.NoError(t, err)

		_, err = svc.Publish(context.Background(), ttID, testAdmin)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
		assert.Equal(t, models.StateDraft, repo.timetables[ttID].State)
	})

	t.Run("resolution does not unblock publish", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, _ := newTestTimetableService(repo)
		ttID := seedTimetable(repo)

		_, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
		}, testAdmin)
		require.NoError(t, err)
		result, err := svc.AddEntryForced(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "10:00", "12:00"), VenueID: "v1", EventID: "ev2",
		}, testAdmin)
		require.NoError(t, err)

		resolution, err := svc.ResolveConflict(context.Background(), ttID, result.Warnings[0].Ref, ResolveConflictRequest{
			Note: "approved overlap for opening ceremony",
		}, testAdmin)
		require.NoError(t, err)
		assert.Equal(t, testAdmin.UserID, resolution.ResolvedBy)
		require.Len(t, repo.resolutions[ttID], 1)

		_, err = svc.Publish(context.Background(), ttID, testAdmin)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	})

	t.Run("archive then mutate", func(t *testing.T) {
		repo := newMockTimetableRepo()
		svc, _ := newTestTimetableService(repo)
		ttID := seedTimetable(repo)

		tt, err := svc.Archive(context.Background(), ttID, testAdmin)
		require.NoError(t, err)
		assert.Equal(t, models.StateArchived, tt.State)

		_, err = svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
		}, testAdmin)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrState.Code, appErr.Code)
	})
}

func TestGetAndDetectService(t *testing.T) {
	repo := newMockTimetableRepo()
	svc, _ := newTestTimetableService(repo)
	ttID := seedTimetable(repo)

	_, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
		Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev1",
	}, testAdmin)
	require.NoError(t, err)
	_, err = svc.AddEntryForced(context.Background(), ttID, AddEntryRequest{
		Slot: slotReq("MONDAY", "10:00", "12:00"), VenueID: "v1", EventID: "ev2",
	}, testAdmin)
	require.NoError(t, err)

	detail, err := svc.Get(context.Background(), ttID)
	require.NoError(t, err)
	assert.Len(t, detail.Entries, 2)

	conflicts, err := svc.DetectConflicts(context.Background(), ttID)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestHydrationFromRepository(t *testing.T) {
	repo := newMockTimetableRepo()
	ttID := seedTimetable(repo)
	repo.entries[ttID] = []models.ScheduleEntry{
		{
			ID:      "e1",
			Slot:    models.TimeSlot{Day: models.Monday, Start: 540, End: 660},
			VenueID: "v1", EventID: "ev1", Status: models.EntryActive,
		},
		{
			ID:      "e2",
			Slot:    models.TimeSlot{Day: models.Monday, Start: 540, End: 660},
			VenueID: "v1", EventID: "ev2", Status: models.EntryRemoved,
		},
	}

	svc, _ := newTestTimetableService(repo)

	// The active entry is indexed after hydration and still blocks the slot.
	_, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
		Slot: slotReq("MONDAY", "09:00", "11:00"), VenueID: "v1", EventID: "ev3",
	}, testScheduler)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)

	// Only the active entry conflicts; the removed one was not indexed.
	var conflictErr *models.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, "e1", conflictErr.Conflicts[0].EntryB.ID)

	_, err = svc.AddEntry(context.Background(), ttID, AddEntryRequest{
		Slot: slotReq("MONDAY", "11:00", "12:00"), VenueID: "v1", EventID: "ev3",
	}, testScheduler)
	assert.NoError(t, err)
}

// stallingInsertRepo parks InsertEntry between bind and write so the test can
// run a move while the insert is in flight.
type stallingInsertRepo struct {
	*mockTimetableRepo
	inserting chan string
	proceed   chan struct{}
	observed  models.TimeSlot
}

func (r *stallingInsertRepo) InsertEntry(ctx context.Context, entry *models.ScheduleEntry) error {
	r.inserting <- entry.ID
	<-r.proceed
	r.observed = entry.Slot
	return r.mockTimetableRepo.InsertEntry(ctx, entry)
}

func TestAddEntryPersistsSnapshotDuringConcurrentMove(t *testing.T) {
	repo := &stallingInsertRepo{
		mockTimetableRepo: newMockTimetableRepo(),
		inserting:         make(chan string),
		proceed:           make(chan struct{}),
	}
	invalidator := &mockInvalidator{}
	svc := NewTimetableService(repo, nil, invalidator, nil, validator.New(), zap.NewNop())
	ttID := seedTimetable(repo.mockTimetableRepo)

	type addResult struct {
		entry *models.ScheduleEntry
		err   error
	}
	added := make(chan addResult, 1)
	go func() {
		entry, err := svc.AddEntry(context.Background(), ttID, AddEntryRequest{
			Slot: slotReq("MONDAY", "09:00", "10:00"), VenueID: "v1", EventID: "ev1",
		}, testScheduler)
		added <- addResult{entry, err}
	}()

	// The aggregate already holds the entry; the insert is parked mid-flight.
	entryID := <-repo.inserting
	_, err := svc.MoveEntry(context.Background(), ttID, entryID, MoveEntryRequest{
		Slot: slotReq("MONDAY", "11:00", "12:00"),
	}, testScheduler)
	require.NoError(t, err)

	close(repo.proceed)
	result := <-added
	require.NoError(t, result.err)

	// The insert bound the slot the entry was accepted with, not the moved
	// one: the persisted row is a snapshot the aggregate cannot mutate.
	assert.Equal(t, 540, repo.observed.Start)
	assert.Equal(t, 600, repo.observed.End)
	assert.Equal(t, 540, result.entry.Slot.Start)

	// The live aggregate did move.
	detail, err := svc.Get(context.Background(), ttID)
	require.NoError(t, err)
	require.Len(t, detail.Entries, 1)
	assert.Equal(t, 660, detail.Entries[0].Slot.Start)
}
