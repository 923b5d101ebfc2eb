package local

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/domain/events"
)

// Bus delivers events synchronously to in-process handlers. It is the
// default publisher when no EventBridge bus is configured.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]ports.EventHandler
	logger   *zap.Logger
}

var _ ports.EventBus = (*Bus)(nil)

// NewBus creates an empty bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		handlers: make(map[string][]ports.EventHandler),
		logger:   logger,
	}
}

// Subscribe registers handler for eventType; "*" receives every event.
func (b *Bus) Subscribe(eventType string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// Unsubscribe removes a handler
func (b *Bus) Unsubscribe(eventType string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.handlers[eventType]
	for i, h := range handlers {
		if h == handler {
			b.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return nil
		}
	}
	return nil
}

// Publish hands the event to every matching handler. Handler errors are
// logged and joined; one failing handler does not stop the others.
func (b *Bus) Publish(ctx context.Context, event events.DomainEvent) error {
	b.mu.RLock()
	targets := make([]ports.EventHandler, 0, len(b.handlers[event.GetEventType()])+len(b.handlers["*"]))
	targets = append(targets, b.handlers[event.GetEventType()]...)
	targets = append(targets, b.handlers["*"]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range targets {
		if !h.CanHandle(event.GetEventType()) {
			continue
		}
		if err := h.Handle(ctx, event); err != nil {
			b.logger.Warn("Event handler failed",
				zap.String("eventType", event.GetEventType()),
				zap.String("aggregateID", event.GetAggregateID()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// PublishBatch publishes events in order
func (b *Bus) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	var errs []error
	for _, e := range domainEvents {
		if err := b.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// AuditLogger logs rollbacks and reconciliations, the events an operator
// needs when a user reports a lost change.
type AuditLogger struct {
	logger *zap.Logger
}

// NewAuditLogger creates the handler
func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With(zap.String("component", "sync_audit"))}
}

// CanHandle accepts rollbacks and reaction reconciliations
func (a *AuditLogger) CanHandle(eventType string) bool {
	return eventType == events.TypeMutationRolledBack || eventType == events.TypeReactionReconciled
}

// Handle logs the event
func (a *AuditLogger) Handle(ctx context.Context, event events.DomainEvent) error {
	fields := []zap.Field{
		zap.String("eventType", event.GetEventType()),
		zap.String("aggregateID", event.GetAggregateID()),
		zap.Time("at", event.GetTimestamp()),
	}
	switch e := event.(type) {
	case events.MutationEvent:
		fields = append(fields, zap.String("sessionID", e.SessionID), zap.String("kind", string(e.Kind)), zap.String("reason", e.Reason))
		a.logger.Warn("Mutation rolled back", fields...)
	case events.ReactionReconciled:
		fields = append(fields, zap.String("sessionID", e.SessionID), zap.Int("likes", e.Likes), zap.Int("dislikes", e.Dislikes))
		a.logger.Debug("Reaction reconciled", fields...)
	default:
		a.logger.Info("Sync event", fields...)
	}
	return nil
}
