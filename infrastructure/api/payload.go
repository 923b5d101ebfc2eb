package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"communitysync/application/ports"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
)

// Keys that describe identity or hierarchy and never land in Entity.Fields.
var structuralKeys = map[string]bool{
	"id":                       true,
	entities.FieldParentNoteID: true,
	entities.FieldParent:       true,
	entities.FieldChildren:     true,
}

// itemHeader is the schema-checked part of every item.
type itemHeader struct {
	ID int64 `validate:"gte=0"`
}

// libraryHeader adds the hierarchy and the enumerated fields of notes.
type libraryHeader struct {
	ID         int64  `validate:"gte=0"`
	Title      string `validate:"omitempty,max=1000"`
	Visibility string `validate:"omitempty,oneof=GENERAL USERS ADMIN"`
	ParentID   *int64 `validate:"omitempty,gte=0"`
}

type wireReaction struct {
	ID     *int64 `json:"id" validate:"required,gte=0"`
	IsLike *bool  `json:"isLike" validate:"required"`
}

type listEnvelope struct {
	Items *[]json.RawMessage `json:"items"`
	Data  *[]json.RawMessage `json:"data"`
	Total *int               `json:"total"`
}

// decoder turns response bodies into records. A single malformed item
// fails the whole response.
type decoder struct {
	validate *validator.Validate
}

func newDecoder() *decoder {
	return &decoder{validate: validator.New()}
}

// decodeList accepts {items,total}, the legacy {data,total,currentPage}
// and a bare array. Total is -1 when the body carries none.
func (d *decoder) decodeList(resource valueobjects.EntityType, body []byte) (*ports.ListResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty list body")
	}

	var raw []json.RawMessage
	total := -1
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("list body: %w", err)
		}
	case '{':
		var env listEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("list envelope: %w", err)
		}
		switch {
		case env.Items != nil:
			raw = *env.Items
		case env.Data != nil:
			raw = *env.Data
		default:
			return nil, fmt.Errorf("list envelope has neither items nor data")
		}
		if env.Total != nil {
			if *env.Total < 0 {
				return nil, fmt.Errorf("negative total %d", *env.Total)
			}
			total = *env.Total
		}
	default:
		return nil, fmt.Errorf("list body is neither an array nor an object")
	}

	result := &ports.ListResult{Items: make([]entities.Record, 0, len(raw)), Total: total}
	for i, item := range raw {
		rec, err := d.decodeRecord(resource, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		result.Items = append(result.Items, *rec)
	}
	return result, nil
}

// decodeRecord validates one item. Library items also yield their parent
// and embedded children; ParentKnown stays false when the item says
// nothing about its parent.
func (d *decoder) decodeRecord(resource valueobjects.EntityType, body []byte) (*entities.Record, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("item is not an object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("item is null")
	}

	id, err := decodeID(obj["id"])
	if err != nil {
		return nil, err
	}
	fields, err := decodeFields(obj)
	if err != nil {
		return nil, err
	}

	rec := &entities.Record{Entity: entities.NewEntity(resource, valueobjects.EntityID(id), fields)}
	if resource != valueobjects.EntityLibrary {
		if err := d.validate.Struct(itemHeader{ID: id}); err != nil {
			return nil, fmt.Errorf("item %d: %w", id, err)
		}
		return rec, nil
	}

	parent, known, err := decodeParent(obj)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	header := libraryHeader{ID: id, ParentID: parent}
	header.Title, _ = fields[entities.FieldTitle].(string)
	header.Visibility, _ = fields[entities.FieldVisibility].(string)
	if err := d.validate.Struct(header); err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	rec.ParentKnown = known
	if parent != nil {
		pid := valueobjects.EntityID(*parent)
		rec.ParentID = &pid
	}

	if rawChildren, ok := obj[entities.FieldChildren]; ok && !isNull(rawChildren) {
		var children []json.RawMessage
		if err := json.Unmarshal(rawChildren, &children); err != nil {
			return nil, fmt.Errorf("item %d: children: %w", id, err)
		}
		for _, raw := range children {
			child, err := d.decodeRecord(resource, raw)
			if err != nil {
				return nil, fmt.Errorf("item %d: child: %w", id, err)
			}
			rec.Children = append(rec.Children, child.Entity)
		}
	}
	return rec, nil
}

// decodeReactionCount validates the count endpoint's body
func (d *decoder) decodeReactionCount(body []byte) (ports.ReactionCount, error) {
	var count ports.ReactionCount
	if err := json.Unmarshal(body, &count); err != nil {
		return ports.ReactionCount{}, fmt.Errorf("reaction count: %w", err)
	}
	if err := d.validate.Struct(count); err != nil {
		return ports.ReactionCount{}, fmt.Errorf("reaction count: %w", err)
	}
	return count, nil
}

// decodeViewerReaction returns nil for an empty or null body.
func (d *decoder) decodeViewerReaction(body []byte) (*entities.ViewerReaction, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || isNull(trimmed) {
		return nil, nil
	}
	var wire wireReaction
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("viewer reaction: %w", err)
	}
	if err := d.validate.Struct(wire); err != nil {
		return nil, fmt.Errorf("viewer reaction: %w", err)
	}
	return &entities.ViewerReaction{ID: valueobjects.EntityID(*wire.ID), IsLike: *wire.IsLike}, nil
}

func decodeID(raw json.RawMessage) (int64, error) {
	if raw == nil || isNull(raw) {
		return 0, fmt.Errorf("item has no id")
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("id must be an integer: %w", err)
	}
	return id, nil
}

// decodeParent reads parentNoteId, falling back to parent.id. Either key
// present with null means root.
func decodeParent(obj map[string]json.RawMessage) (*int64, bool, error) {
	if raw, ok := obj[entities.FieldParentNoteID]; ok {
		if isNull(raw) {
			return nil, true, nil
		}
		var id int64
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, false, fmt.Errorf("parentNoteId must be an integer or null: %w", err)
		}
		return &id, true, nil
	}
	if raw, ok := obj[entities.FieldParent]; ok {
		if isNull(raw) {
			return nil, true, nil
		}
		var parent struct {
			ID *int64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &parent); err != nil {
			return nil, false, fmt.Errorf("parent must be an object or null: %w", err)
		}
		if parent.ID == nil {
			return nil, false, fmt.Errorf("parent has no id")
		}
		return parent.ID, true, nil
	}
	return nil, false, nil
}

// decodeFields keeps every non-structural key as an opaque value.
func decodeFields(obj map[string]json.RawMessage) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(obj))
	for k, raw := range obj {
		if structuralKeys[k] {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		fields[k] = v
	}
	return fields, nil
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
