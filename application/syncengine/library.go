package syncengine

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"communitysync/application/sagas"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/domain/events"
	"communitysync/pkg/errors"
)

const (
	stepApplyLocal  = "apply-local"
	stepRemoteWrite = "remote-write"
	stepReconcile   = "reconcile"
	stepRefetch     = "refetch"
)

// treeSnapshot remembers where a node sat so a rollback can put it back.
type treeSnapshot struct {
	attached bool
	parent   *valueobjects.EntityID
	index    int
	feeds    map[string]int
}

// CreateOrUpdateLibraryNode creates a note (editingID nil) or edits one.
// Every check runs before any state change; the optimistic write is then
// visible immediately and rolled back in full if the server rejects it.
// A create without an explicit parent goes under the note being viewed.
func (c *Coordinator) CreateOrUpdateLibraryNode(ctx context.Context, draft entities.LibraryDraft, editingID *valueobjects.EntityID) (*entities.LibraryNode, error) {
	if !c.authenticated() {
		return nil, errors.Unauthenticated("save_library_node")
	}
	if err := c.validator.Validate(draft, editingID == nil); err != nil {
		return nil, err
	}
	if editingID == nil {
		return c.createLibraryNode(ctx, draft)
	}
	if editingID.IsTemporary() {
		return nil, errors.EntityNotFound(string(valueobjects.EntityLibrary), editingID.Int64())
	}
	return c.updateLibraryNode(ctx, *editingID, draft)
}

func (c *Coordinator) createLibraryNode(ctx context.Context, draft entities.LibraryDraft) (*entities.LibraryNode, error) {
	start := c.now()
	var (
		tempID    valueobjects.EntityID
		parent    *valueobjects.EntityID
		confirmed *entities.Record
		node      *entities.LibraryNode
	)

	saga := sagas.NewSagaBuilder("create-library-node", c.logger).
		WithCompensableStep(stepApplyLocal,
			func(ctx context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()

				parent = draft.ParentID
				if !draft.ParentSet {
					parent = c.nav.currentID()
				}
				if parent != nil && (parent.IsTemporary() || !c.store.Has(valueobjects.EntityLibrary, *parent)) {
					return errors.EntityNotFound(string(valueobjects.EntityLibrary), parent.Int64())
				}
				tempID = c.store.AllocateTemporaryID()
				c.store.Upsert(entities.NewEntity(valueobjects.EntityLibrary, tempID, draft.Fields()))
				c.tree.Attach(tempID, parent)
				if parent == nil {
					c.insertIntoTreeFeedsLocked(tempID, 0)
				}
				c.states[libraryKey(tempID)] = StateOptimisticPending
				return nil
			},
			func(ctx context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.store.Remove(valueobjects.EntityLibrary, tempID)
				c.tree.Detach(tempID)
				c.removeFromFeedsLocked(valueobjects.EntityLibrary, tempID)
				delete(c.states, libraryKey(tempID))
				return nil
			},
		).
		WithStep(stepRemoteWrite, func(ctx context.Context) error {
			c.publish(ctx, events.NewMutationApplied(c.sessionID, events.MutationCreate, libraryKey(tempID), c.now()))

			payload := draft.Fields()
			if parent != nil {
				payload[entities.FieldParentNoteID] = parent.Int64()
			}
			rec, err := c.api.Create(ctx, valueobjects.EntityLibrary, payload)
			if err != nil {
				return err
			}
			if rec == nil || rec.Entity == nil {
				return stderrors.New("create returned no entity")
			}
			confirmed = rec
			return nil
		}).
		WithStep(stepReconcile, func(ctx context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()

			permID := confirmed.Entity.ID
			c.store.ReplaceTemporary(valueobjects.EntityLibrary, tempID, confirmed.Entity)
			if confirmed.ParentKnown {
				c.tree.Attach(permID, confirmed.ParentID)
			}
			delete(c.states, libraryKey(tempID))
			c.states[libraryKey(permID)] = StateClean
			node, _ = c.nodeViewLocked(permID)
			return nil
		}).
		Build()

	if err := saga.Execute(ctx); err != nil {
		return nil, c.mutationError(ctx, "create_library_node", events.MutationCreate, libraryKey(tempID), err, start)
	}

	c.metrics.RecordMutation(ctx, string(events.MutationCreate), "confirmed", c.now().Sub(start))
	c.publish(ctx, events.NewMutationConfirmed(c.sessionID, events.MutationCreate, libraryKey(tempID), confirmed.Entity.ID, c.now()))
	c.logger.Info("Library node created",
		zap.Int64("tempID", tempID.Int64()),
		zap.Int64("nodeID", confirmed.Entity.ID.Int64()),
	)
	return node, nil
}

func (c *Coordinator) updateLibraryNode(ctx context.Context, id valueobjects.EntityID, draft entities.LibraryDraft) (*entities.LibraryNode, error) {
	key := libraryKey(id)
	release, err := c.lanes.acquire(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer release()

	start := c.now()
	var (
		snapshot  *entities.Entity
		position  treeSnapshot
		confirmed *entities.Record
		node      *entities.LibraryNode
	)

	saga := sagas.NewSagaBuilder("update-library-node", c.logger).
		WithCompensableStep(stepApplyLocal,
			func(ctx context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()

				current, ok := c.store.Get(valueobjects.EntityLibrary, id)
				if !ok {
					return errors.EntityNotFound(string(valueobjects.EntityLibrary), id.Int64())
				}
				if draft.ParentSet && draft.ParentID != nil {
					newParent := *draft.ParentID
					if newParent.IsTemporary() || (newParent != id && !c.store.Has(valueobjects.EntityLibrary, newParent)) {
						return errors.EntityNotFound(string(valueobjects.EntityLibrary), newParent.Int64())
					}
					if c.tree.WouldCreateCycle(id, newParent) {
						return errors.InvalidHierarchy(id.Int64(), newParent.Int64())
					}
				}

				snapshot = current
				position = c.snapshotPositionLocked(id)
				c.store.Upsert(entities.NewEntity(valueobjects.EntityLibrary, id, draft.Fields()))
				if draft.ParentSet {
					c.moveLocked(id, draft.ParentID)
				}
				c.states[key] = StateOptimisticPending
				return nil
			},
			func(ctx context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.store.Restore(snapshot)
				c.restorePositionLocked(id, position)
				c.states[key] = StateRolledBack
				return nil
			},
		).
		WithStep(stepRemoteWrite, func(ctx context.Context) error {
			c.publish(ctx, events.NewMutationApplied(c.sessionID, events.MutationUpdate, key, c.now()))
			rec, err := c.api.Update(ctx, valueobjects.EntityLibrary, id, draft.Payload())
			if err != nil {
				return err
			}
			confirmed = rec
			return nil
		}).
		WithStep(stepReconcile, func(ctx context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()

			if confirmed != nil && confirmed.Entity != nil {
				c.store.Upsert(entities.NewEntity(valueobjects.EntityLibrary, id, confirmed.Entity.Fields))
				if confirmed.ParentKnown {
					c.moveLocked(id, confirmed.ParentID)
				}
			}
			c.states[key] = StateClean
			node, _ = c.nodeViewLocked(id)
			return nil
		}).
		Build()

	if err := saga.Execute(ctx); err != nil {
		return nil, c.mutationError(ctx, "update_library_node", events.MutationUpdate, key, err, start)
	}

	c.metrics.RecordMutation(ctx, string(events.MutationUpdate), "confirmed", c.now().Sub(start))
	c.publish(ctx, events.NewMutationConfirmed(c.sessionID, events.MutationUpdate, key, id, c.now()))
	return node, nil
}

// DeleteOutcome reports a confirmed delete and where navigation went.
type DeleteOutcome struct {
	DeletedID valueobjects.EntityID `json:"deletedId"`
	// NavigatedAway is true when the deleted note was the one being viewed.
	NavigatedAway bool `json:"navigatedAway"`
	// Current is the note now being viewed, nil for the root listing.
	Current *valueobjects.EntityID `json:"current"`
}

// DeleteLibraryNode removes a note that has no children. The note vanishes
// from the store, tree and feeds at once and is restored exactly if the
// server refuses. Deleting the note being viewed moves the view to its
// parent, or to the root listing.
func (c *Coordinator) DeleteLibraryNode(ctx context.Context, id valueobjects.EntityID) (*DeleteOutcome, error) {
	if !c.authenticated() {
		return nil, errors.Unauthenticated("delete_library_node")
	}
	if id.IsTemporary() {
		return nil, errors.EntityNotFound(string(valueobjects.EntityLibrary), id.Int64())
	}
	key := libraryKey(id)
	release, err := c.lanes.acquire(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer release()

	start := c.now()
	var (
		snapshot *entities.Entity
		position treeSnapshot
		outcome  = &DeleteOutcome{DeletedID: id}
	)

	saga := sagas.NewSagaBuilder("delete-library-node", c.logger).
		WithCompensableStep(stepApplyLocal,
			func(ctx context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()

				current, ok := c.store.Get(valueobjects.EntityLibrary, id)
				if !ok {
					return errors.EntityNotFound(string(valueobjects.EntityLibrary), id.Int64())
				}
				if children := c.tree.ChildrenOf(id); len(children) > 0 {
					return errors.HasChildren(id.Int64(), len(children))
				}
				snapshot = current
				position = c.snapshotPositionLocked(id)
				c.store.Remove(valueobjects.EntityLibrary, id)
				c.tree.Detach(id)
				c.removeFromFeedsLocked(valueobjects.EntityLibrary, id)
				c.states[key] = StateOptimisticPending
				return nil
			},
			func(ctx context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.store.Restore(snapshot)
				c.restorePositionLocked(id, position)
				c.states[key] = StateRolledBack
				return nil
			},
		).
		WithStep(stepRemoteWrite, func(ctx context.Context) error {
			c.publish(ctx, events.NewMutationApplied(c.sessionID, events.MutationDelete, key, c.now()))
			return c.api.Delete(ctx, valueobjects.EntityLibrary, id)
		}).
		WithStep(stepReconcile, func(ctx context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()

			c.ledger.Forget(valueobjects.NewReactionTarget(valueobjects.TargetLibrary, id))
			delete(c.states, key)
			outcome.NavigatedAway = c.nav.leave(id, position.parent)
			outcome.Current = c.nav.currentID()
			return nil
		}).
		Build()

	if err := saga.Execute(ctx); err != nil {
		return nil, c.mutationError(ctx, "delete_library_node", events.MutationDelete, key, err, start)
	}

	if c.snapshots != nil && c.authenticated() {
		target := valueobjects.NewReactionTarget(valueobjects.TargetLibrary, id)
		if err := c.snapshots.DeleteBaseline(ctx, c.viewerID, target); err != nil {
			c.logger.Warn("Failed to drop reaction baseline of deleted node", zap.Error(err))
		}
	}
	c.metrics.RecordMutation(ctx, string(events.MutationDelete), "confirmed", c.now().Sub(start))
	c.publish(ctx, events.NewMutationConfirmed(c.sessionID, events.MutationDelete, key, id, c.now()))
	return outcome, nil
}

// OpenNode fetches a note with its children and makes it the current view.
// The previously viewed note is pushed on the navigation stack.
func (c *Coordinator) OpenNode(ctx context.Context, id valueobjects.EntityID) (*entities.LibraryNode, error) {
	node, err := c.fetchNode(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.nav.open(id)
	c.mu.Unlock()
	return node, nil
}

// GoBack returns to the previously viewed note, refreshing it. With an
// empty stack the view returns to the root listing and nil is returned.
func (c *Coordinator) GoBack(ctx context.Context) (*entities.LibraryNode, error) {
	c.mu.Lock()
	prev, ok := c.nav.back()
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	node, err := c.fetchNode(ctx, prev)
	if err == nil {
		return node, nil
	}
	c.logger.Warn("Refreshing previous note failed, using cached copy",
		zap.Int64("nodeID", prev.Int64()),
		zap.Error(err),
	)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, found := c.nodeViewLocked(prev); found {
		return cached, nil
	}
	return nil, err
}

// CurrentNode returns the note being viewed; ok is false at the root listing.
func (c *Coordinator) CurrentNode() (*entities.LibraryNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.nav.currentID()
	if cur == nil {
		return nil, false
	}
	return c.nodeViewLocked(*cur)
}

// NavigationStack returns the notes GoBack will visit, most recent last
func (c *Coordinator) NavigationStack() []valueobjects.EntityID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]valueobjects.EntityID(nil), c.nav.stack...)
}

func (c *Coordinator) fetchNode(ctx context.Context, id valueobjects.EntityID) (*entities.LibraryNode, error) {
	rec, err := c.api.Get(ctx, valueobjects.EntityLibrary, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Entity == nil {
		return nil, errors.EntityNotFound(string(valueobjects.EntityLibrary), id.Int64())
	}

	c.mu.Lock()
	c.ingestLocked(valueobjects.EntityLibrary, []entities.Record{*rec})
	node, ok := c.nodeViewLocked(id)
	c.mu.Unlock()
	if !ok {
		return nil, errors.EntityNotFound(string(valueobjects.EntityLibrary), id.Int64())
	}

	if c.cfg.RefreshReactionsOnLoad {
		targets := []valueobjects.ReactionTarget{valueobjects.NewReactionTarget(valueobjects.TargetLibrary, id)}
		for _, child := range node.ChildIDs {
			targets = append(targets, valueobjects.NewReactionTarget(valueobjects.TargetLibrary, child))
		}
		if err := c.RefreshReactions(ctx, targets); err != nil {
			c.logger.Warn("Reaction refresh after opening note failed",
				zap.Int64("nodeID", id.Int64()),
				zap.Error(err),
			)
		}
	}
	return node, nil
}

// AvailableParents lists the notes a note may be moved under: every known
// confirmed note except editingID and its descendants. A nil editingID
// (create) allows every note.
func (c *Coordinator) AvailableParents(editingID *valueobjects.EntityID) []entities.LibraryReference {
	c.mu.Lock()
	defer c.mu.Unlock()

	excluded := map[valueobjects.EntityID]struct{}{}
	if editingID != nil {
		excluded = c.tree.DescendantsOf(*editingID)
		excluded[*editingID] = struct{}{}
	}
	refs := make([]entities.LibraryReference, 0, c.store.Len(valueobjects.EntityLibrary))
	for _, id := range c.store.IDs(valueobjects.EntityLibrary) {
		if _, skip := excluded[id]; skip || id.IsTemporary() {
			continue
		}
		e, _ := c.store.Get(valueobjects.EntityLibrary, id)
		refs = append(refs, entities.LibraryReference{ID: id, Title: e.StringField(entities.FieldTitle)})
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Title < refs[j].Title })
	return refs
}

// mutationError maps a failed saga onto the error taxonomy. Failures before
// the remote write are returned as-is; remote failures were rolled back
// and surface as MutationFailed.
func (c *Coordinator) mutationError(ctx context.Context, op string, kind events.MutationKind, key valueobjects.EntityKey, err error, start time.Time) error {
	var stepErr *sagas.StepError
	if !stderrors.As(err, &stepErr) {
		return err
	}
	if stepErr.Step == stepApplyLocal {
		c.metrics.RecordMutation(ctx, string(kind), "rejected", c.now().Sub(start))
		return stepErr.Err
	}

	c.metrics.RecordMutation(ctx, string(kind), "rolled_back", c.now().Sub(start))
	c.publish(ctx, events.NewMutationRolledBack(c.sessionID, kind, key, stepErr.Err.Error(), c.now()))
	c.logger.Warn("Optimistic mutation rolled back",
		zap.String("operation", op),
		zap.String("key", key.String()),
		zap.Error(stepErr.Err),
	)
	if stepErr.CompensationErr != nil {
		c.metrics.RecordConsistencyWarning(ctx, "rollback_failed")
	}
	return errors.MutationFailed(op, stepErr.Err)
}

func (c *Coordinator) snapshotPositionLocked(id valueobjects.EntityID) treeSnapshot {
	snap := treeSnapshot{index: -1, feeds: map[string]int{}}
	if parent, ok := c.tree.ParentOf(id); ok {
		snap.attached = true
		snap.parent = parent
		siblings := c.tree.Roots()
		if parent != nil {
			siblings = c.tree.ChildrenOf(*parent)
		}
		for i, s := range siblings {
			if s == id {
				snap.index = i
				break
			}
		}
	}
	for name, feed := range c.feeds {
		if feed.EntityType() != valueobjects.EntityLibrary {
			continue
		}
		for i, fid := range feed.IDs() {
			if fid == id {
				snap.feeds[name] = i
				break
			}
		}
	}
	return snap
}

func (c *Coordinator) restorePositionLocked(id valueobjects.EntityID, snap treeSnapshot) {
	if snap.attached {
		c.tree.ReattachAt(id, snap.parent, snap.index)
	} else {
		c.tree.Detach(id)
	}
	for name, feed := range c.feeds {
		if feed.EntityType() != valueobjects.EntityLibrary {
			continue
		}
		if index, ok := snap.feeds[name]; ok {
			feed.Remove(id)
			feed.InsertAt(id, index)
		} else {
			feed.Remove(id)
		}
	}
}

// moveLocked reparents a node and keeps tree-backed feeds, which list
// roots, in step.
func (c *Coordinator) moveLocked(id valueobjects.EntityID, parent *valueobjects.EntityID) {
	if !c.tree.Reparent(id, parent) {
		return
	}
	if parent == nil {
		c.insertIntoTreeFeedsLocked(id, -1)
		return
	}
	for name, feed := range c.feeds {
		if c.specs[name].TreeBacked {
			feed.Remove(id)
		}
	}
}

func (c *Coordinator) insertIntoTreeFeedsLocked(id valueobjects.EntityID, index int) {
	for name, feed := range c.feeds {
		if c.specs[name].TreeBacked {
			feed.InsertAt(id, index)
		}
	}
}

func (c *Coordinator) removeFromFeedsLocked(t valueobjects.EntityType, id valueobjects.EntityID) {
	for _, feed := range c.feeds {
		if feed.EntityType() == t {
			feed.Remove(id)
		}
	}
}

func libraryKey(id valueobjects.EntityID) valueobjects.EntityKey {
	return valueobjects.NewEntityKey(valueobjects.EntityLibrary, id)
}
