package aggregates

import (
	"sort"

	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
)

// ReferenceHolder keeps entity ids outside the store and must follow a
// temporary id when it is confirmed.
type ReferenceHolder interface {
	ReplaceReference(entityType valueobjects.EntityType, tempID, permanentID valueobjects.EntityID)
}

// EntityStore is the normalized cache of remote entities, keyed by type
// and id. It owns entity lifetime; feeds and the tree hold ids only.
// It is not safe for concurrent use; the sync coordinator serializes access.
type EntityStore struct {
	entities map[valueobjects.EntityType]map[valueobjects.EntityID]*entities.Entity
	holders  []ReferenceHolder
	nextTemp valueobjects.EntityID
}

// NewEntityStore creates an empty store
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities: make(map[valueobjects.EntityType]map[valueobjects.EntityID]*entities.Entity),
		nextTemp: -1,
	}
}

// RegisterReferenceHolder subscribes h to temporary id replacement.
func (s *EntityStore) RegisterReferenceHolder(h ReferenceHolder) {
	s.holders = append(s.holders, h)
}

func (s *EntityStore) bucket(t valueobjects.EntityType) map[valueobjects.EntityID]*entities.Entity {
	b, ok := s.entities[t]
	if !ok {
		b = make(map[valueobjects.EntityID]*entities.Entity)
		s.entities[t] = b
	}
	return b
}

// UpsertMany inserts unseen entities and shallow-merges known ones.
// Returns the ids in input order.
func (s *EntityStore) UpsertMany(incoming []*entities.Entity) []valueobjects.EntityID {
	ids := make([]valueobjects.EntityID, 0, len(incoming))
	for _, e := range incoming {
		if e == nil {
			continue
		}
		s.Upsert(e)
		ids = append(ids, e.ID)
	}
	return ids
}

// Upsert inserts or merges a single entity
func (s *EntityStore) Upsert(e *entities.Entity) {
	b := s.bucket(e.Type)
	if existing, ok := b[e.ID]; ok {
		existing.Merge(e.Fields)
		return
	}
	b[e.ID] = e.Clone()
}

// Get returns a copy of the entity
func (s *EntityStore) Get(t valueobjects.EntityType, id valueobjects.EntityID) (*entities.Entity, bool) {
	e, ok := s.entities[t][id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Has reports whether the entity is cached
func (s *EntityStore) Has(t valueobjects.EntityType, id valueobjects.EntityID) bool {
	_, ok := s.entities[t][id]
	return ok
}

// Remove drops the entity and returns what was removed. Callers must also
// drop the id from feeds and the tree index.
func (s *EntityStore) Remove(t valueobjects.EntityType, id valueobjects.EntityID) (*entities.Entity, bool) {
	b := s.entities[t]
	e, ok := b[id]
	if !ok {
		return nil, false
	}
	delete(b, id)
	return e, true
}

// Restore replaces the entity wholesale with a snapshot. Used by rollback,
// where merging would keep optimistic fields alive.
func (s *EntityStore) Restore(snapshot *entities.Entity) {
	s.bucket(snapshot.Type)[snapshot.ID] = snapshot.Clone()
}

// AllocateTemporaryID returns a fresh negative id
func (s *EntityStore) AllocateTemporaryID() valueobjects.EntityID {
	id := s.nextTemp
	s.nextTemp--
	return id
}

// ReplaceTemporary swaps the entity stored under tempID for the confirmed
// one and rewrites every registered reference holder. Fields of the
// temporary entity absent from confirmed are kept.
func (s *EntityStore) ReplaceTemporary(t valueobjects.EntityType, tempID valueobjects.EntityID, confirmed *entities.Entity) {
	b := s.bucket(t)
	merged := confirmed.Clone()
	if temp, ok := b[tempID]; ok {
		merged = temp.Clone()
		merged.ID = confirmed.ID
		merged.Merge(confirmed.Fields)
		delete(b, tempID)
	}
	if existing, ok := b[confirmed.ID]; ok {
		existing.Merge(merged.Fields)
	} else {
		b[confirmed.ID] = merged
	}
	for _, h := range s.holders {
		h.ReplaceReference(t, tempID, confirmed.ID)
	}
}

// IDs returns the cached ids of a type in ascending order
func (s *EntityStore) IDs(t valueobjects.EntityType) []valueobjects.EntityID {
	b := s.entities[t]
	ids := make([]valueobjects.EntityID, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of cached entities of a type
func (s *EntityStore) Len(t valueobjects.EntityType) int {
	return len(s.entities[t])
}
