package engine

import "github.com/univent/timetable-api/internal/models"

// Detect returns every conflict between the candidate entry and the entries
// currently indexed. One Conflict per overlapping entry per shared resource:
// a pair clashing on both venue and a faculty member yields two records,
// tagged distinctly. The candidate's own id is excluded so a move never
// reports the entry against itself.
//
// Detection is symmetric: the overlap predicate does not depend on which
// side of the pair was inserted first.
func Detect(ix *ConflictIndex, candidate *models.ScheduleEntry) []models.Conflict {
	var conflicts []models.Conflict

	for _, existing := range ix.VenueOverlaps(candidate.VenueID, candidate.Slot, candidate.ID) {
		conflicts = append(conflicts, models.Conflict{
			Ref:        models.ConflictRef(candidate.ID, existing.ID, models.ResourceVenue, candidate.VenueID),
			Resource:   models.ResourceVenue,
			ResourceID: candidate.VenueID,
			EntryA:     candidate.Clone(),
			EntryB:     existing.Clone(),
		})
	}

	for _, facultyID := range candidate.FacultyIDs {
		for _, existing := range ix.FacultyOverlaps(facultyID, candidate.Slot, candidate.ID) {
			conflicts = append(conflicts, models.Conflict{
				Ref:        models.ConflictRef(candidate.ID, existing.ID, models.ResourceFaculty, facultyID),
				Resource:   models.ResourceFaculty,
				ResourceID: facultyID,
				EntryA:     candidate.Clone(),
				EntryB:     existing.Clone(),
			})
		}
	}

	return conflicts
}
