package entities

import (
	"strings"

	"communitysync/domain/core/valueobjects"
)

// Wire names of the library hierarchy fields.
const (
	FieldParentNoteID = "parentNoteId"
	FieldParent       = "parent"
	FieldChildren     = "children"
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldVisibility   = "visibility"
)

// LibraryVisibility controls who can read a note
type LibraryVisibility string

const (
	VisibilityGeneral LibraryVisibility = "GENERAL"
	VisibilityUsers   LibraryVisibility = "USERS"
	VisibilityAdmin   LibraryVisibility = "ADMIN"
)

// LibraryNode is the read view of a library entity with its hierarchy
// resolved from the tree index. ChildIDs is in display order.
type LibraryNode struct {
	Entity
	ParentID *valueobjects.EntityID
	ChildIDs []valueobjects.EntityID
}

// IsRoot reports whether the node has no parent
func (n LibraryNode) IsRoot() bool {
	return n.ParentID == nil
}

// HasChildren reports whether deleting the node must be refused.
func (n LibraryNode) HasChildren() bool {
	return len(n.ChildIDs) > 0
}

// Title returns the note title
func (n LibraryNode) Title() string {
	return n.StringField(FieldTitle)
}

// ToMap renders the node with its hierarchy in the API's field names.
func (n LibraryNode) ToMap() map[string]interface{} {
	out := n.Entity.ToMap()
	if n.ParentID != nil {
		out[FieldParentNoteID] = n.ParentID.Int64()
	} else {
		out[FieldParentNoteID] = nil
	}
	children := make([]int64, len(n.ChildIDs))
	for i, id := range n.ChildIDs {
		children[i] = id.Int64()
	}
	out["childIds"] = children
	return out
}

// LibraryReference is an entry of the parent picker.
type LibraryReference struct {
	ID    valueobjects.EntityID `json:"id"`
	Title string                `json:"title"`
}

// LibraryDraft is the user's create or edit intent for a note.
// ParentSet distinguishes "leave the parent alone" from "move to root"
// (ParentSet with a nil ParentID).
type LibraryDraft struct {
	Title       string
	Description string
	Visibility  LibraryVisibility
	Extra       map[string]interface{}
	ParentID    *valueobjects.EntityID
	ParentSet   bool
}

// Fields returns the payload fields the draft carries, hierarchy excluded.
// Empty optional values are omitted so edits stay partial.
func (d LibraryDraft) Fields() map[string]interface{} {
	fields := make(map[string]interface{}, len(d.Extra)+3)
	for k, v := range d.Extra {
		fields[k] = v
	}
	if t := strings.TrimSpace(d.Title); t != "" {
		fields[FieldTitle] = t
	}
	if d.Description != "" {
		fields[FieldDescription] = d.Description
	}
	if d.Visibility != "" {
		fields[FieldVisibility] = string(d.Visibility)
	}
	return fields
}

// Payload returns the request body for the draft, including parentNoteId
// when the draft sets the parent.
func (d LibraryDraft) Payload() map[string]interface{} {
	body := d.Fields()
	if d.ParentSet {
		if d.ParentID != nil {
			body[FieldParentNoteID] = d.ParentID.Int64()
		} else {
			body[FieldParentNoteID] = nil
		}
	}
	return body
}
