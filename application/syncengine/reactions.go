package syncengine

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"communitysync/application/ports"
	"communitysync/application/sagas"
	"communitysync/domain/core/aggregates"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/domain/events"
	"communitysync/pkg/errors"
)

// ToggleReaction applies the viewer pressing like (isLike) or dislike on a
// target. Pressing the reaction already held removes it; pressing the
// other one switches. Counters move at once and are overwritten by the
// server's aggregate once the write settles. A rejected write restores
// the last confirmed aggregate.
func (c *Coordinator) ToggleReaction(ctx context.Context, targetType valueobjects.TargetType, id valueobjects.EntityID, isLike bool) (entities.ReactionState, error) {
	if !c.authenticated() {
		return entities.ReactionState{}, errors.Unauthenticated("toggle_reaction")
	}
	resource := targetType.EntityType()
	if id.IsTemporary() {
		return entities.ReactionState{}, errors.EntityNotFound(string(resource), id.Int64())
	}
	target := valueobjects.NewReactionTarget(targetType, id)
	key := valueobjects.NewEntityKey(resource, id)

	release, err := c.lanes.acquire(ctx, target.String())
	if err != nil {
		return entities.ReactionState{}, err
	}
	defer release()

	start := c.now()
	var toggled aggregates.ToggleResult

	saga := sagas.NewSagaBuilder("toggle-reaction", c.logger).
		WithCompensableStep(stepApplyLocal,
			func(ctx context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()

				if !c.store.Has(resource, id) {
					return errors.EntityNotFound(string(resource), id.Int64())
				}
				c.reactionEpochs[target]++
				toggled = c.ledger.Toggle(target, valueobjects.ReactionFromBool(isLike))
				if toggled.Clamped {
					c.logger.Warn("Reaction counter clamped at zero",
						zap.String("target", target.String()),
					)
				}
				return nil
			},
			func(ctx context.Context) error {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.reactionEpochs[target]++
				c.ledger.RevertToBaseline(target, toggled.Previous)
				return nil
			},
		).
		WithStep(stepRemoteWrite, func(ctx context.Context) error {
			c.publish(ctx, events.NewMutationApplied(c.sessionID, events.MutationReaction, key, c.now()))
			if toggled.Removal {
				return c.removeViewerReaction(ctx, target, toggled.Previous.ViewerReactionID)
			}
			_, err := c.api.React(ctx, target, isLike)
			return err
		}).
		WithStep(stepReconcile, func(ctx context.Context) error {
			c.reconcileAfterWrite(ctx, target, toggled.Clamped)
			return nil
		}).
		Build()

	if err := saga.Execute(ctx); err != nil {
		return c.GetReaction(target), c.mutationError(ctx, "toggle_reaction", events.MutationReaction, key, err, start)
	}

	c.metrics.RecordMutation(ctx, string(events.MutationReaction), "confirmed", c.now().Sub(start))
	c.publish(ctx, events.NewMutationConfirmed(c.sessionID, events.MutationReaction, key, id, c.now()))
	return c.GetReaction(target), nil
}

// removeViewerReaction deletes the viewer's record. When its id is unknown
// it is looked up first; no record means there is nothing to remove.
func (c *Coordinator) removeViewerReaction(ctx context.Context, target valueobjects.ReactionTarget, reactionID *valueobjects.EntityID) error {
	if reactionID == nil {
		own, err := c.api.ViewerReaction(ctx, target)
		if err != nil {
			return err
		}
		if own == nil {
			c.logger.Debug("No reaction record to remove", zap.String("target", target.String()))
			return nil
		}
		reactionID = &own.ID
	}
	return c.api.RemoveReaction(ctx, *reactionID)
}

// reconcileAfterWrite replaces the optimistic aggregate with the server's.
// The refetch is retried; when every attempt fails the optimistic value
// stays and the target is flagged, since the write itself succeeded.
func (c *Coordinator) reconcileAfterWrite(ctx context.Context, target valueobjects.ReactionTarget, clamped bool) {
	var state entities.ReactionState
	refetch := sagas.NewSagaBuilder("refetch-reaction", c.logger).
		WithRetryableStep(stepRefetch, func(ctx context.Context) error {
			var err error
			state, err = c.fetchReaction(ctx, target)
			return err
		}, c.cfg.ReactionRefetchAttempts, c.cfg.ReactionRefetchDelay).
		Build()

	if err := refetch.Execute(ctx); err != nil {
		c.mu.Lock()
		c.ledger.MarkNeedsReconcile(target)
		c.mu.Unlock()
		c.metrics.RecordConsistencyWarning(ctx, "reaction_refetch_failed")
		c.logger.Warn("Reaction saved but refetch failed, keeping optimistic counters",
			zap.String("target", target.String()),
			zap.String("saga_id", refetch.GetID()),
			zap.String("saga_state", string(refetch.GetState())),
			zap.Int("attempts", c.cfg.ReactionRefetchAttempts),
			zap.Bool("clamped", clamped),
			zap.Error(err),
		)
		return
	}

	c.mu.Lock()
	c.ledger.Reconcile(target, state)
	c.mu.Unlock()
	c.afterReconcile(ctx, target, state)
}

func (c *Coordinator) afterReconcile(ctx context.Context, target valueobjects.ReactionTarget, state entities.ReactionState) {
	c.publish(ctx, events.NewReactionReconciled(c.sessionID, target, state.Likes, state.Dislikes, state.Viewer, c.now()))
	if c.snapshots == nil || !c.authenticated() {
		return
	}
	if err := c.snapshots.SaveBaseline(ctx, c.viewerID, target, state); err != nil {
		c.logger.Warn("Failed to persist reaction baseline",
			zap.String("target", target.String()),
			zap.Error(err),
		)
	}
}

// fetchReaction reads the counters and, for a signed-in viewer, their own
// record in parallel.
func (c *Coordinator) fetchReaction(ctx context.Context, target valueobjects.ReactionTarget) (entities.ReactionState, error) {
	var (
		count ports.ReactionCount
		own   *entities.ViewerReaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		count, err = c.api.Count(gctx, target)
		return err
	})
	if c.authenticated() {
		g.Go(func() error {
			var err error
			own, err = c.api.ViewerReaction(gctx, target)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return entities.ReactionState{}, err
	}
	return entities.ReactionFromServer(count.Likes, count.Dislikes, own), nil
}

// RefreshReactions refetches the aggregates of targets with bounded
// parallelism. Targets with a toggle in flight are skipped, as is any
// result that a toggle overtook while it was being fetched. Every target
// is attempted; failures are joined.
func (c *Coordinator) RefreshReactions(ctx context.Context, targets []valueobjects.ReactionTarget) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(c.cfg.ReactionRefreshParallelism)

	for _, target := range targets {
		if target.ID.IsTemporary() || c.lanes.busy(target.String()) {
			continue
		}
		target := target
		g.Go(func() error {
			c.mu.Lock()
			epoch := c.reactionEpochs[target]
			c.mu.Unlock()

			state, err := c.fetchReaction(ctx, target)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}

			c.mu.Lock()
			if c.reactionEpochs[target] != epoch || c.lanes.busy(target.String()) {
				c.mu.Unlock()
				return nil
			}
			c.ledger.Reconcile(target, state)
			c.mu.Unlock()
			c.afterReconcile(ctx, target, state)
			return nil
		})
	}
	_ = g.Wait()
	return stderrors.Join(errs...)
}

// ReconcilePending refetches every target flagged by a clamp or a failed
// refetch.
func (c *Coordinator) ReconcilePending(ctx context.Context) error {
	c.mu.Lock()
	targets := c.ledger.PendingReconcile()
	c.mu.Unlock()
	return c.RefreshReactions(ctx, targets)
}

// SeedBaselines loads the viewer's persisted reaction baselines so counters
// render before the first refresh and rollbacks have a known-good value.
func (c *Coordinator) SeedBaselines(ctx context.Context) error {
	if c.snapshots == nil || !c.authenticated() {
		return nil
	}
	baselines, err := c.snapshots.LoadBaselines(ctx, c.viewerID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for target, state := range baselines {
		c.ledger.SeedBaseline(target, state)
	}
	c.logger.Debug("Reaction baselines seeded", zap.Int("count", len(baselines)))
	return nil
}
