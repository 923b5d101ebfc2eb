package valueobjects

import (
	"errors"
	"fmt"
	"strconv"
)

// EntityID identifies an entity within its EntityType.
// Server-assigned ids are non-negative and never change; ids allocated
// locally for unconfirmed creates are negative.
type EntityID int64

// ParseEntityID parses a decimal id as found in URLs and payloads.
func ParseEntityID(s string) (EntityID, error) {
	if s == "" {
		return 0, errors.New("entity ID cannot be empty")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("entity ID must be an integer: %w", err)
	}
	return EntityID(v), nil
}

// IsTemporary reports whether the id was allocated locally.
func (id EntityID) IsTemporary() bool {
	return id < 0
}

// Int64 returns the raw value.
func (id EntityID) Int64() int64 {
	return int64(id)
}

// String returns the decimal representation of the id
func (id EntityID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// EntityType names a remote resource collection. The value doubles as the
// resource path segment of the REST API.
type EntityType string

const (
	EntityPublication EntityType = "publications"
	EntityLibrary     EntityType = "library"
	EntityUser        EntityType = "users"
)

// IsValid checks the type against the known resources
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPublication, EntityLibrary, EntityUser:
		return true
	}
	return false
}

func (t EntityType) String() string { return string(t) }

// EntityKey addresses one entity across types.
type EntityKey struct {
	Type EntityType
	ID   EntityID
}

// NewEntityKey builds a key
func NewEntityKey(t EntityType, id EntityID) EntityKey {
	return EntityKey{Type: t, ID: id}
}

// String renders the key as "type:id", the form used for mutation lanes and logs.
func (k EntityKey) String() string {
	return string(k.Type) + ":" + k.ID.String()
}
