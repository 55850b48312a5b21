// Package engine implements the in-memory timetable scheduling core:
// per-resource overlap indexing, conflict detection, and the timetable
// aggregate with its lifecycle state machine. The engine holds no I/O;
// persistence happens in the service layer after a successful mutation.
package engine

import (
	"fmt"
	"sort"

	"github.com/univent/timetable-api/internal/models"
)

// resourceKey addresses one bookable resource in the index.
type resourceKey string

func venueKey(id string) resourceKey   { return resourceKey("venue:" + id) }
func facultyKey(id string) resourceKey { return resourceKey("faculty:" + id) }

// bucketRef records where an entry was inserted, for reverse lookup on remove.
type bucketRef struct {
	key resourceKey
	day models.Weekday
}

// ConsistencyError signals a mismatch between the entries list and the index
// reverse lookup. The caller must rebuild the index from the entries list.
type ConsistencyError struct {
	EntryID string
	Detail  string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("conflict index inconsistency for entry %s: %s", e.EntryID, e.Detail)
}

// ConflictIndex keeps active entries bucketed per resource and weekday,
// sorted by slot start, for fast overlap queries. It is derived state:
// always reconstructible from the owning timetable's entries list.
type ConflictIndex struct {
	buckets map[resourceKey]map[models.Weekday][]*models.ScheduleEntry
	refs    map[string][]bucketRef
}

// NewConflictIndex returns an empty index.
func NewConflictIndex() *ConflictIndex {
	return &ConflictIndex{
		buckets: make(map[resourceKey]map[models.Weekday][]*models.ScheduleEntry),
		refs:    make(map[string][]bucketRef),
	}
}

// Insert adds the entry under its venue key and every faculty key.
func (ix *ConflictIndex) Insert(entry *models.ScheduleEntry) {
	keys := make([]resourceKey, 0, 1+len(entry.FacultyIDs))
	keys = append(keys, venueKey(entry.VenueID))
	for _, facultyID := range entry.FacultyIDs {
		keys = append(keys, facultyKey(facultyID))
	}
	for _, key := range keys {
		ix.insertAt(key, entry)
		ix.refs[entry.ID] = append(ix.refs[entry.ID], bucketRef{key: key, day: entry.Slot.Day})
	}
}

func (ix *ConflictIndex) insertAt(key resourceKey, entry *models.ScheduleEntry) {
	days, ok := ix.buckets[key]
	if !ok {
		days = make(map[models.Weekday][]*models.ScheduleEntry)
		ix.buckets[key] = days
	}
	bucket := days[entry.Slot.Day]
	// Sorted by start, ties broken by id so the order is deterministic.
	pos := sort.Search(len(bucket), func(i int) bool {
		if bucket[i].Slot.Start != entry.Slot.Start {
			return bucket[i].Slot.Start > entry.Slot.Start
		}
		return bucket[i].ID >= entry.ID
	})
	bucket = append(bucket, nil)
	copy(bucket[pos+1:], bucket[pos:])
	bucket[pos] = entry
	days[entry.Slot.Day] = bucket
}

// Remove drops the entry from every bucket it was inserted into. A reverse
// lookup that points at a bucket no longer holding the entry is a
// ConsistencyError; the index is unusable until rebuilt.
func (ix *ConflictIndex) Remove(entryID string) error {
	bucketRefs, ok := ix.refs[entryID]
	if !ok {
		return nil
	}
	for _, ref := range bucketRefs {
		if !ix.removeAt(ref.key, ref.day, entryID) {
			return &ConsistencyError{EntryID: entryID, Detail: fmt.Sprintf("missing from bucket %s/%s", ref.key, ref.day)}
		}
	}
	delete(ix.refs, entryID)
	return nil
}

func (ix *ConflictIndex) removeAt(key resourceKey, day models.Weekday, entryID string) bool {
	days, ok := ix.buckets[key]
	if !ok {
		return false
	}
	bucket := days[day]
	for i, entry := range bucket {
		if entry.ID == entryID {
			days[day] = append(bucket[:i], bucket[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether the entry is currently indexed.
func (ix *ConflictIndex) Contains(entryID string) bool {
	_, ok := ix.refs[entryID]
	return ok
}

// overlaps returns every indexed entry under the key whose slot intersects
// the query slot, excluding excludeID (so a move never conflicts with the
// entry's own prior reservation). Binary search bounds the candidates to
// entries starting before the query end; each is then checked against the
// half-open overlap predicate.
func (ix *ConflictIndex) overlaps(key resourceKey, slot models.TimeSlot, excludeID string) []*models.ScheduleEntry {
	days, ok := ix.buckets[key]
	if !ok {
		return nil
	}
	bucket := days[slot.Day]
	bound := sort.Search(len(bucket), func(i int) bool {
		return bucket[i].Slot.Start >= slot.End
	})
	var matches []*models.ScheduleEntry
	for i := 0; i < bound; i++ {
		entry := bucket[i]
		if entry.ID == excludeID {
			continue
		}
		if entry.Slot.End > slot.Start {
			matches = append(matches, entry)
		}
	}
	return matches
}

// VenueOverlaps queries the venue bucket for the given slot.
func (ix *ConflictIndex) VenueOverlaps(venueID string, slot models.TimeSlot, excludeID string) []*models.ScheduleEntry {
	return ix.overlaps(venueKey(venueID), slot, excludeID)
}

// FacultyOverlaps queries one faculty bucket for the given slot.
func (ix *ConflictIndex) FacultyOverlaps(facultyID string, slot models.TimeSlot, excludeID string) []*models.ScheduleEntry {
	return ix.overlaps(facultyKey(facultyID), slot, excludeID)
}

// Rebuild reconstructs the index from scratch using the active entries.
// Used at hydration time and after a consistency fault.
func (ix *ConflictIndex) Rebuild(entries []*models.ScheduleEntry) {
	ix.buckets = make(map[resourceKey]map[models.Weekday][]*models.ScheduleEntry)
	ix.refs = make(map[string][]bucketRef)
	for _, entry := range entries {
		if entry.Status == models.EntryActive {
			ix.Insert(entry)
		}
	}
}
