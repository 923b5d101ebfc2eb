package aggregates

import (
	"slices"

	"go.uber.org/zap"

	"communitysync/domain/core/valueobjects"
)

// Membership tells the tree which nodes the entity store still knows.
type Membership interface {
	Has(t valueobjects.EntityType, id valueobjects.EntityID) bool
}

type treeEntry struct {
	parent   *valueobjects.EntityID
	children []valueobjects.EntityID
	// attached is false for parents referenced by a child but never ingested.
	attached bool
}

// TreeIndex derives the library parent/child forest from ingested nodes.
// Child order is insertion order. Operations on ids the store no longer
// knows are no-ops that log a consistency warning.
type TreeIndex struct {
	entries  map[valueobjects.EntityID]*treeEntry
	roots    []valueobjects.EntityID
	members  Membership
	maxDepth int
	logger   *zap.Logger
}

// NewTreeIndex creates an empty index. maxDepth bounds ancestry walks so a
// corrupted parent chain cannot loop forever.
func NewTreeIndex(members Membership, maxDepth int, logger *zap.Logger) *TreeIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TreeIndex{
		entries:  make(map[valueobjects.EntityID]*treeEntry),
		members:  members,
		maxDepth: maxDepth,
		logger:   logger,
	}
}

func (t *TreeIndex) entry(id valueobjects.EntityID) *treeEntry {
	e, ok := t.entries[id]
	if !ok {
		e = &treeEntry{}
		t.entries[id] = e
	}
	return e
}

func (t *TreeIndex) stale(op string, ids ...valueobjects.EntityID) bool {
	for _, id := range ids {
		if !t.members.Has(valueobjects.EntityLibrary, id) {
			t.logger.Warn("Tree operation on unknown node ignored",
				zap.String("operation", op),
				zap.Int64("nodeID", id.Int64()),
			)
			return true
		}
	}
	return false
}

// Attach records id under parent (nil for a root). A node already attached
// under a different parent is moved; under the same parent it keeps its position.
func (t *TreeIndex) Attach(id valueobjects.EntityID, parent *valueobjects.EntityID) {
	e := t.entry(id)
	if e.attached {
		if sameParent(e.parent, parent) {
			return
		}
		t.unlink(id, e)
	}
	t.link(id, e, parent, -1)
}

// Detach removes id from its parent's children (or the roots) and returns
// where it was, so a rollback can put it back.
func (t *TreeIndex) Detach(id valueobjects.EntityID) (parent *valueobjects.EntityID, index int, ok bool) {
	e, exists := t.entries[id]
	if !exists || !e.attached {
		return nil, -1, false
	}
	parent = copyID(e.parent)
	index = t.unlink(id, e)
	e.attached = false
	if len(e.children) == 0 {
		delete(t.entries, id)
	}
	return parent, index, true
}

// ReattachAt attaches id under parent at index, clamped to the sibling count.
func (t *TreeIndex) ReattachAt(id valueobjects.EntityID, parent *valueobjects.EntityID, index int) {
	e := t.entry(id)
	if e.attached {
		t.unlink(id, e)
	}
	t.link(id, e, parent, index)
}

// Reparent moves a node under newParent, or to the roots when nil.
// Returns false when nothing changed.
func (t *TreeIndex) Reparent(id valueobjects.EntityID, newParent *valueobjects.EntityID) bool {
	if t.stale("reparent", id) {
		return false
	}
	if newParent != nil {
		if t.stale("reparent", *newParent) {
			return false
		}
		if t.WouldCreateCycle(id, *newParent) {
			t.logger.Warn("Reparent would create a cycle, ignored",
				zap.Int64("nodeID", id.Int64()),
				zap.Int64("parentID", newParent.Int64()),
			)
			return false
		}
	}
	e := t.entry(id)
	if e.attached && sameParent(e.parent, newParent) {
		return false
	}
	if e.attached {
		t.unlink(id, e)
	}
	t.link(id, e, newParent, -1)
	return true
}

// WouldCreateCycle reports whether placing node under candidate would close
// a loop: candidate is node itself or one of its descendants.
func (t *TreeIndex) WouldCreateCycle(node, candidate valueobjects.EntityID) bool {
	if t.stale("would_create_cycle", node, candidate) {
		return false
	}
	cur := candidate
	for depth := 0; depth <= t.maxDepth; depth++ {
		if cur == node {
			return true
		}
		e, ok := t.entries[cur]
		if !ok || e.parent == nil {
			return false
		}
		cur = *e.parent
	}
	t.logger.Warn("Ancestry walk exceeded max depth, treating as cycle",
		zap.Int64("nodeID", node.Int64()),
		zap.Int64("candidateID", candidate.Int64()),
		zap.Int("maxDepth", t.maxDepth),
	)
	return true
}

// DescendantsOf returns every node below id, id excluded.
func (t *TreeIndex) DescendantsOf(id valueobjects.EntityID) map[valueobjects.EntityID]struct{} {
	out := make(map[valueobjects.EntityID]struct{})
	if t.stale("descendants_of", id) {
		return out
	}
	queue := append([]valueobjects.EntityID(nil), t.childrenOf(id)...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := out[cur]; seen {
			continue
		}
		out[cur] = struct{}{}
		queue = append(queue, t.childrenOf(cur)...)
	}
	return out
}

// ChildrenOf returns the direct children of id in display order
func (t *TreeIndex) ChildrenOf(id valueobjects.EntityID) []valueobjects.EntityID {
	return append([]valueobjects.EntityID(nil), t.childrenOf(id)...)
}

func (t *TreeIndex) childrenOf(id valueobjects.EntityID) []valueobjects.EntityID {
	if e, ok := t.entries[id]; ok {
		return e.children
	}
	return nil
}

// HasChildren reports whether id has at least one child
func (t *TreeIndex) HasChildren(id valueobjects.EntityID) bool {
	return len(t.childrenOf(id)) > 0
}

// ParentOf returns the parent of id; ok is false when id is not attached.
func (t *TreeIndex) ParentOf(id valueobjects.EntityID) (parent *valueobjects.EntityID, ok bool) {
	e, exists := t.entries[id]
	if !exists || !e.attached {
		return nil, false
	}
	return copyID(e.parent), true
}

// Roots returns the attached nodes without a parent
func (t *TreeIndex) Roots() []valueobjects.EntityID {
	return append([]valueobjects.EntityID(nil), t.roots...)
}

// ReplaceReference renames a confirmed temporary node everywhere it is
// referenced. When a page or drill-down already attached permanentID, that
// placement is kept and the temporary entry is dropped from its siblings.
func (t *TreeIndex) ReplaceReference(entityType valueobjects.EntityType, tempID, permanentID valueobjects.EntityID) {
	if entityType != valueobjects.EntityLibrary {
		return
	}
	e, ok := t.entries[tempID]
	if !ok {
		return
	}

	existing, known := t.entries[permanentID]
	if known && existing.attached {
		if e.attached {
			t.unlink(tempID, e)
		}
		delete(t.entries, tempID)
		existing.children = mergeIDs(existing.children, e.children)
		e = existing
	} else {
		delete(t.entries, tempID)
		if known {
			e.children = mergeIDs(existing.children, e.children)
		}
		t.entries[permanentID] = e
		if e.attached {
			siblings := &t.roots
			if e.parent != nil {
				siblings = &t.entry(*e.parent).children
			}
			replaceID(*siblings, tempID, permanentID)
		}
	}

	for _, child := range e.children {
		if c, ok := t.entries[child]; ok && c.parent != nil && *c.parent == tempID {
			p := permanentID
			c.parent = &p
		}
	}
}

func (t *TreeIndex) link(id valueobjects.EntityID, e *treeEntry, parent *valueobjects.EntityID, index int) {
	e.parent = copyID(parent)
	e.attached = true
	if parent == nil {
		t.roots = insertID(t.roots, id, index)
		return
	}
	p := t.entry(*parent)
	p.children = insertID(p.children, id, index)
}

func (t *TreeIndex) unlink(id valueobjects.EntityID, e *treeEntry) int {
	var index int
	if e.parent == nil {
		t.roots, index = removeID(t.roots, id)
		return index
	}
	p, ok := t.entries[*e.parent]
	if !ok {
		return -1
	}
	p.children, index = removeID(p.children, id)
	if !p.attached && len(p.children) == 0 {
		delete(t.entries, *e.parent)
	}
	return index
}

func sameParent(a, b *valueobjects.EntityID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(id *valueobjects.EntityID) *valueobjects.EntityID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func insertID(ids []valueobjects.EntityID, id valueobjects.EntityID, index int) []valueobjects.EntityID {
	if index < 0 || index >= len(ids) {
		return append(ids, id)
	}
	ids = append(ids, 0)
	copy(ids[index+1:], ids[index:])
	ids[index] = id
	return ids
}

func removeID(ids []valueobjects.EntityID, id valueobjects.EntityID) ([]valueobjects.EntityID, int) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...), i
		}
	}
	return ids, -1
}

func replaceID(ids []valueobjects.EntityID, from, to valueobjects.EntityID) {
	for i, v := range ids {
		if v == from {
			ids[i] = to
		}
	}
}

// mergeIDs appends the ids of extra missing from base, keeping order.
func mergeIDs(base, extra []valueobjects.EntityID) []valueobjects.EntityID {
	for _, id := range extra {
		if !slices.Contains(base, id) {
			base = append(base, id)
		}
	}
	return base
}
