package aggregates

import (
	"net/url"
	"sort"

	"communitysync/domain/core/valueobjects"
)

// Filters are the query parameters that select a feed's content.
// Changing them invalidates every loaded page.
type Filters map[string]string

// Equal compares two filter sets, treating nil and empty as equal
func (f Filters) Equal(other Filters) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone copies the filters
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Values renders the filters as query parameters with stable key order.
func (f Filters) Values() url.Values {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	v := url.Values{}
	for _, k := range keys {
		if f[k] != "" {
			v.Set(k, f[k])
		}
	}
	return v
}

// Cursor tracks how far a feed has been paged.
type Cursor struct {
	Offset    int  `json:"offset"`
	Limit     int  `json:"limit"`
	Exhausted bool `json:"exhausted"`
}

// AppendResult reports what a page application changed.
type AppendResult struct {
	// Duplicate is true when the offset had already been applied.
	Duplicate bool
	Added     []valueobjects.EntityID
}

// Feed is an ordered, paginated view over one entity type. It holds ids
// only; entities are resolved through the store.
type Feed struct {
	name           string
	entityType     valueobjects.EntityType
	ids            []valueobjects.EntityID
	present        map[valueobjects.EntityID]struct{}
	cursor         Cursor
	generation     uint64
	appliedOffsets map[int]struct{}
	filters        Filters
	total          int
}

// NewFeed creates an empty feed paging by pageSize
func NewFeed(name string, entityType valueobjects.EntityType, pageSize int) *Feed {
	return &Feed{
		name:           name,
		entityType:     entityType,
		present:        make(map[valueobjects.EntityID]struct{}),
		cursor:         Cursor{Limit: pageSize},
		appliedOffsets: make(map[int]struct{}),
		filters:        Filters{},
		total:          -1,
	}
}

func (f *Feed) Name() string                        { return f.name }
func (f *Feed) EntityType() valueobjects.EntityType { return f.entityType }
func (f *Feed) Cursor() Cursor                      { return f.cursor }
func (f *Feed) Generation() uint64                  { return f.generation }
func (f *Feed) Filters() Filters                    { return f.filters.Clone() }

// Total is the server-reported item count, -1 when unknown.
func (f *Feed) Total() int { return f.total }

// SetTotal records the server-reported item count
func (f *Feed) SetTotal(total int) { f.total = total }

// IDs returns the ordered ids
func (f *Feed) IDs() []valueobjects.EntityID {
	return append([]valueobjects.EntityID(nil), f.ids...)
}

// Len returns the number of ids in the feed
func (f *Feed) Len() int { return len(f.ids) }

// Contains reports whether id is in the feed
func (f *Feed) Contains(id valueobjects.EntityID) bool {
	_, ok := f.present[id]
	return ok
}

// AppendPage applies a page fetched at offset. The first response for an
// offset wins: later duplicates change nothing. Ids already present are
// skipped, and a short page marks the feed exhausted.
func (f *Feed) AppendPage(offset int, ids []valueobjects.EntityID, pageSize int) AppendResult {
	if _, done := f.appliedOffsets[offset]; done {
		return AppendResult{Duplicate: true}
	}
	f.appliedOffsets[offset] = struct{}{}

	var added []valueobjects.EntityID
	for _, id := range ids {
		if _, ok := f.present[id]; ok {
			continue
		}
		f.present[id] = struct{}{}
		f.ids = append(f.ids, id)
		added = append(added, id)
	}
	f.cursor.Offset += pageSize
	f.cursor.Limit = pageSize
	if len(ids) < pageSize {
		f.cursor.Exhausted = true
	}
	return AppendResult{Added: added}
}

// Reset clears ids and cursor, installs filters and bumps the generation
// so in-flight loads can detect they are stale.
func (f *Feed) Reset(filters Filters) {
	f.ids = nil
	f.present = make(map[valueobjects.EntityID]struct{})
	f.cursor = Cursor{Limit: f.cursor.Limit}
	f.appliedOffsets = make(map[int]struct{})
	f.total = -1
	f.filters = filters.Clone()
	f.generation++
}

// Remove drops id and returns its former position
func (f *Feed) Remove(id valueobjects.EntityID) (index int, ok bool) {
	if _, exists := f.present[id]; !exists {
		return -1, false
	}
	delete(f.present, id)
	f.ids, index = removeID(f.ids, id)
	return index, true
}

// InsertAt places id at index (clamped); ids already present are left alone.
func (f *Feed) InsertAt(id valueobjects.EntityID, index int) {
	if _, exists := f.present[id]; exists {
		return
	}
	f.present[id] = struct{}{}
	f.ids = insertID(f.ids, id, index)
}

// ReplaceReference follows a confirmed temporary id.
func (f *Feed) ReplaceReference(entityType valueobjects.EntityType, tempID, permanentID valueobjects.EntityID) {
	if entityType != f.entityType {
		return
	}
	if _, ok := f.present[tempID]; !ok {
		return
	}
	delete(f.present, tempID)
	if _, dup := f.present[permanentID]; dup {
		f.ids, _ = removeID(f.ids, tempID)
		return
	}
	f.present[permanentID] = struct{}{}
	replaceID(f.ids, tempID, permanentID)
}
