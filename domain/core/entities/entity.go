package entities

import (
	"communitysync/domain/core/valueobjects"
)

// Entity is a cached remote record. Fields hold the schema-checked payload;
// values are treated as immutable once stored.
type Entity struct {
	ID     valueobjects.EntityID
	Type   valueobjects.EntityType
	Fields map[string]interface{}
}

// NewEntity creates an entity owning a copy of fields
func NewEntity(entityType valueobjects.EntityType, id valueobjects.EntityID, fields map[string]interface{}) *Entity {
	copied := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &Entity{ID: id, Type: entityType, Fields: copied}
}

// Key returns the cross-type address of the entity
func (e *Entity) Key() valueobjects.EntityKey {
	return valueobjects.NewEntityKey(e.Type, e.ID)
}

// Clone returns a copy whose field map can be modified independently.
func (e *Entity) Clone() *Entity {
	return NewEntity(e.Type, e.ID, e.Fields)
}

// Merge applies incoming fields over the current ones. Fields missing from
// incoming are left untouched, so partial payloads never erase data.
func (e *Entity) Merge(incoming map[string]interface{}) {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{}, len(incoming))
	}
	for k, v := range incoming {
		e.Fields[k] = v
	}
}

// Field returns a raw field value
func (e *Entity) Field(name string) (interface{}, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// StringField returns a string field or "" when absent or of another type.
func (e *Entity) StringField(name string) string {
	if s, ok := e.Fields[name].(string); ok {
		return s
	}
	return ""
}

// ToMap flattens the entity into its wire shape with the id included.
func (e *Entity) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["id"] = e.ID.Int64()
	return out
}

// Record is a decoded API item: the entity plus the hierarchy the payload
// declared. Only library items carry a parent or embedded children.
type Record struct {
	Entity *Entity
	// ParentKnown is false when the payload said nothing about the parent,
	// which must not be read as "moved to root".
	ParentKnown bool
	ParentID    *valueobjects.EntityID
	Children    []*Entity
}
