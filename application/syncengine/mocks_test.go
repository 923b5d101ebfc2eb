package syncengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/domain/config"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/domain/events"
)

// MockRemoteAPI is a testify mock of the remote collaborator
type MockRemoteAPI struct {
	mock.Mock
}

func (m *MockRemoteAPI) List(ctx context.Context, resource valueobjects.EntityType, query ports.ListQuery) (*ports.ListResult, error) {
	args := m.Called(ctx, resource, query)
	if r := args.Get(0); r != nil {
		return r.(*ports.ListResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemoteAPI) Get(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID) (*entities.Record, error) {
	args := m.Called(ctx, resource, id)
	if r := args.Get(0); r != nil {
		return r.(*entities.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemoteAPI) Create(ctx context.Context, resource valueobjects.EntityType, payload map[string]interface{}) (*entities.Record, error) {
	args := m.Called(ctx, resource, payload)
	if r := args.Get(0); r != nil {
		return r.(*entities.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemoteAPI) Update(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID, payload map[string]interface{}) (*entities.Record, error) {
	args := m.Called(ctx, resource, id, payload)
	if r := args.Get(0); r != nil {
		return r.(*entities.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemoteAPI) Delete(ctx context.Context, resource valueobjects.EntityType, id valueobjects.EntityID) error {
	args := m.Called(ctx, resource, id)
	return args.Error(0)
}

func (m *MockRemoteAPI) Count(ctx context.Context, target valueobjects.ReactionTarget) (ports.ReactionCount, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(ports.ReactionCount), args.Error(1)
}

func (m *MockRemoteAPI) ViewerReaction(ctx context.Context, target valueobjects.ReactionTarget) (*entities.ViewerReaction, error) {
	args := m.Called(ctx, target)
	if r := args.Get(0); r != nil {
		return r.(*entities.ViewerReaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemoteAPI) React(ctx context.Context, target valueobjects.ReactionTarget, isLike bool) (*entities.ViewerReaction, error) {
	args := m.Called(ctx, target, isLike)
	if r := args.Get(0); r != nil {
		return r.(*entities.ViewerReaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRemoteAPI) RemoveReaction(ctx context.Context, reactionID valueobjects.EntityID) error {
	args := m.Called(ctx, reactionID)
	return args.Error(0)
}

// recordingPublisher keeps every published event in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.GetEventType()
	}
	return out
}

// fakeSnapshots is an in-memory SnapshotStore
type fakeSnapshots struct {
	mu    sync.Mutex
	saved map[valueobjects.ReactionTarget]entities.ReactionState
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{saved: make(map[valueobjects.ReactionTarget]entities.ReactionState)}
}

func (f *fakeSnapshots) LoadBaselines(ctx context.Context, viewerID string) (map[valueobjects.ReactionTarget]entities.ReactionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[valueobjects.ReactionTarget]entities.ReactionState, len(f.saved))
	for k, v := range f.saved {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSnapshots) SaveBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget, state entities.ReactionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[target] = state
	return nil
}

func (f *fakeSnapshots) DeleteBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, target)
	return nil
}

// Helper functions

func testConfig() *config.DomainConfig {
	cfg := config.DefaultDomainConfig()
	cfg.RefreshReactionsOnLoad = false
	cfg.ReactionRefetchDelay = time.Millisecond
	return cfg
}

func newTestCoordinator(t *testing.T, api *MockRemoteAPI, cfg *config.DomainConfig, opts ...Option) *Coordinator {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	opts = append([]Option{WithSession("session-1", "viewer-1")}, opts...)
	return NewCoordinator(cfg, api, zap.NewNop(), opts...)
}

func eid(id int64) valueobjects.EntityID { return valueobjects.EntityID(id) }

func eidp(id int64) *valueobjects.EntityID {
	v := valueobjects.EntityID(id)
	return &v
}

func libRecord(id int64, title string, parent *int64) entities.Record {
	rec := entities.Record{
		Entity:      entities.NewEntity(valueobjects.EntityLibrary, eid(id), map[string]interface{}{"title": title}),
		ParentKnown: true,
	}
	if parent != nil {
		rec.ParentID = eidp(*parent)
	}
	return rec
}

func pubRecord(id int64, title string) entities.Record {
	return entities.Record{
		Entity: entities.NewEntity(valueobjects.EntityPublication, eid(id), map[string]interface{}{"title": title}),
	}
}

func i64(v int64) *int64 { return &v }

// seedLibrary ingests records as if a page had been loaded
func seedLibrary(c *Coordinator, records ...entities.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.ingestLocked(valueobjects.EntityLibrary, records)
	roots := ids[:0:0]
	for i, rec := range records {
		if rec.ParentID == nil {
			roots = append(roots, ids[i])
		}
	}
	c.feeds[config.FeedLibraryRoot].AppendPage(0, roots, 50)
}

func seedPublications(c *Coordinator, records ...entities.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.ingestLocked(valueobjects.EntityPublication, records)
	c.feeds[config.FeedPublications].AppendPage(0, ids, 4)
}
