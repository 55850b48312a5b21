package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/univent/timetable-api/internal/models"
)

func newEntry(id, venueID string, day models.Weekday, start, end int, faculty ...string) *models.ScheduleEntry {
	return &models.ScheduleEntry{
		ID:         id,
		Slot:       models.TimeSlot{Day: day, Start: start, End: end},
		VenueID:    venueID,
		EventID:    "ev-" + id,
		FacultyIDs: faculty,
		Status:     models.EntryActive,
	}
}

func TestIndexVenueOverlaps(t *testing.T) {
	ix := NewConflictIndex()
	ix.Insert(newEntry("e1", "v1", models.Monday, 540, 660))
	ix.Insert(newEntry("e2", "v1", models.Monday, 720, 780))
	ix.Insert(newEntry("e3", "v2", models.Monday, 540, 660))
	ix.Insert(newEntry("e4", "v1", models.Tuesday, 540, 660))

	t.Run("overlap found", func(t *testing.T) {
		hits := ix.VenueOverlaps("v1", models.TimeSlot{Day: models.Monday, Start: 600, End: 700}, "")
		require.Len(t, hits, 1)
		assert.Equal(t, "e1", hits[0].ID)
	})

	t.Run("boundary touch is free", func(t *testing.T) {
		hits := ix.VenueOverlaps("v1", models.TimeSlot{Day: models.Monday, Start: 660, End: 720}, "")
		assert.Empty(t, hits)
	})

	t.Run("other venue ignored", func(t *testing.T) {
		hits := ix.VenueOverlaps("v2", models.TimeSlot{Day: models.Monday, Start: 600, End: 700}, "")
		require.Len(t, hits, 1)
		assert.Equal(t, "e3", hits[0].ID)
	})

	t.Run("other day ignored", func(t *testing.T) {
		hits := ix.VenueOverlaps("v1", models.TimeSlot{Day: models.Wednesday, Start: 540, End: 660}, "")
		assert.Empty(t, hits)
	})

	t.Run("wide query spans multiple entries", func(t *testing.T) {
		hits := ix.VenueOverlaps("v1", models.TimeSlot{Day: models.Monday, Start: 0, End: 1440}, "")
		assert.Len(t, hits, 2)
	})

	t.Run("exclude own id", func(t *testing.T) {
		hits := ix.VenueOverlaps("v1", models.TimeSlot{Day: models.Monday, Start: 540, End: 660}, "e1")
		assert.Empty(t, hits)
	})
}

func TestIndexFacultyOverlaps(t *testing.T) {
	ix := NewConflictIndex()
	ix.Insert(newEntry("e1", "v1", models.Monday, 540, 660, "f1", "f2"))
	ix.Insert(newEntry("e2", "v2", models.Monday, 600, 720, "f2"))

	hits := ix.FacultyOverlaps("f2", models.TimeSlot{Day: models.Monday, Start: 630, End: 700}, "")
	assert.Len(t, hits, 2)

	hits = ix.FacultyOverlaps("f1", models.TimeSlot{Day: models.Monday, Start: 630, End: 700}, "")
	require.Len(t, hits, 1)
	assert.Equal(t, "e1", hits[0].ID)

	hits = ix.FacultyOverlaps("f3", models.TimeSlot{Day: models.Monday, Start: 630, End: 700}, "")
	assert.Empty(t, hits)
}

func TestIndexRemove(t *testing.T) {
	ix := NewConflictIndex()
	entry := newEntry("e1", "v1", models.Monday, 540, 660, "f1")
	ix.Insert(entry)
	require.True(t, ix.Contains("e1"))

	require.NoError(t, ix.Remove("e1"))
	assert.False(t, ix.Contains("e1"))
	assert.Empty(t, ix.VenueOverlaps("v1", entry.Slot, ""))
	assert.Empty(t, ix.FacultyOverlaps("f1", entry.Slot, ""))

	// Removing an unknown id is a no-op.
	assert.NoError(t, ix.Remove("e1"))
	assert.NoError(t, ix.Remove("ghost"))
}

func TestIndexRemoveDetectsCorruption(t *testing.T) {
	ix := NewConflictIndex()
	entry := newEntry("e1", "v1", models.Monday, 540, 660)
	ix.Insert(entry)

	// Corrupt the bucket behind the reverse lookup's back.
	ix.buckets[venueKey("v1")][models.Monday] = nil

	err := ix.Remove("e1")
	var consistency *ConsistencyError
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, "e1", consistency.EntryID)
}

func TestIndexRebuildSkipsRemoved(t *testing.T) {
	active := newEntry("e1", "v1", models.Monday, 540, 660)
	removed := newEntry("e2", "v1", models.Monday, 540, 660)
	removed.Status = models.EntryRemoved

	ix := NewConflictIndex()
	ix.Rebuild([]*models.ScheduleEntry{active, removed})

	assert.True(t, ix.Contains("e1"))
	assert.False(t, ix.Contains("e2"))
	hits := ix.VenueOverlaps("v1", models.TimeSlot{Day: models.Monday, Start: 540, End: 660}, "")
	assert.Len(t, hits, 1)
}

func TestIndexInsertKeepsBucketsSorted(t *testing.T) {
	ix := NewConflictIndex()
	for _, start := range []int{900, 300, 600, 60, 1200} {
		ix.Insert(newEntry(fmt.Sprintf("e%d", start), "v1", models.Monday, start, start+30))
	}

	bucket := ix.buckets[venueKey("v1")][models.Monday]
	require.Len(t, bucket, 5)
	for i := 1; i < len(bucket); i++ {
		assert.LessOrEqual(t, bucket[i-1].Slot.Start, bucket[i].Slot.Start)
	}
}

func TestDetect(t *testing.T) {
	ix := NewConflictIndex()
	ix.Insert(newEntry("e1", "v1", models.Monday, 540, 660, "f1"))

	t.Run("venue and faculty clash yields two records", func(t *testing.T) {
		candidate := newEntry("e2", "v1", models.Monday, 600, 720, "f1")
		conflicts := Detect(ix, candidate)
		require.Len(t, conflicts, 2)

		kinds := map[models.ResourceKind]bool{}
		for _, c := range conflicts {
			kinds[c.Resource] = true
			assert.Equal(t, "e2", c.EntryA.ID)
			assert.Equal(t, "e1", c.EntryB.ID)
		}
		assert.True(t, kinds[models.ResourceVenue])
		assert.True(t, kinds[models.ResourceFaculty])
	})

	t.Run("free slot has no conflicts", func(t *testing.T) {
		candidate := newEntry("e3", "v1", models.Monday, 660, 780, "f1")
		assert.Empty(t, Detect(ix, candidate))
	})

	t.Run("symmetric refs", func(t *testing.T) {
		candidate := newEntry("e2", "v1", models.Monday, 600, 720)
		forward := Detect(ix, candidate)
		require.Len(t, forward, 1)

		reversed := NewConflictIndex()
		reversed.Insert(candidate)
		backward := Detect(reversed, newEntry("e1", "v1", models.Monday, 540, 660))
		require.Len(t, backward, 1)

		assert.Equal(t, forward[0].Ref, backward[0].Ref)
	})

	t.Run("self excluded", func(t *testing.T) {
		existing := newEntry("e1", "v1", models.Monday, 540, 660, "f1")
		assert.Empty(t, Detect(ix, existing))
	})
}
