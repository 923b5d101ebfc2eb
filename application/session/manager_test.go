package session

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/domain/config"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/pkg/errors"
)

type mapCache struct {
	items map[string]interface{}
	ttls  map[string]int
}

func newMapCache() *mapCache {
	return &mapCache{items: map[string]interface{}{}, ttls: map[string]int{}}
}

func (c *mapCache) Get(ctx context.Context, key string) (interface{}, bool) {
	v, ok := c.items[key]
	return v, ok
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, ttl int) error {
	c.items[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	delete(c.items, key)
	return nil
}

func (c *mapCache) Clear(ctx context.Context) error {
	c.items = map[string]interface{}{}
	return nil
}

// offlineAPI satisfies the port; sessions under test never reach it.
type offlineAPI struct {
	ports.RemoteAPI
}

type countingSnapshots struct {
	loads   []string
	loadErr error
}

func (s *countingSnapshots) LoadBaselines(ctx context.Context, viewerID string) (map[valueobjects.ReactionTarget]entities.ReactionState, error) {
	s.loads = append(s.loads, viewerID)
	return map[valueobjects.ReactionTarget]entities.ReactionState{}, s.loadErr
}

func (s *countingSnapshots) SaveBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget, state entities.ReactionState) error {
	return nil
}

func (s *countingSnapshots) DeleteBaseline(ctx context.Context, viewerID string, target valueobjects.ReactionTarget) error {
	return nil
}

func newTestManager(t *testing.T, snapshots ports.SnapshotStore) (*Manager, *mapCache, *[]ports.TokenSource) {
	t.Helper()
	cfg := config.DefaultDomainConfig()
	cfg.SessionTimeout = 10 * time.Minute
	cache := newMapCache()
	var sources []ports.TokenSource
	factory := func(tokens ports.TokenSource) ports.RemoteAPI {
		sources = append(sources, tokens)
		return offlineAPI{}
	}
	var opts []ManagerOption
	if snapshots != nil {
		opts = append(opts, WithSnapshots(snapshots))
	}
	m := NewManager(cfg, cache, factory, zap.NewNop(), opts...)
	ids := []string{"s-1", "s-2", "s-3"}
	m.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	return m, cache, &sources
}

func TestManager_OpenAndGet(t *testing.T) {
	// Arrange
	m, cache, _ := newTestManager(t, nil)
	ctx := context.Background()

	// Act
	sess, err := m.Open(ctx, "viewer-1", "tok")
	require.NoError(t, err)
	got, err := m.Get(ctx, "s-1")

	// Assert
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, "s-1", got.Coordinator.SessionID())
	assert.Equal(t, "viewer-1", got.Coordinator.ViewerID())
	assert.False(t, got.Anonymous())
	assert.Equal(t, 600, cache.ttls["s-1"])
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	a, err := m.Open(ctx, "viewer-1", "tok-a")
	require.NoError(t, err)
	b, err := m.Open(ctx, "", "")
	require.NoError(t, err)

	assert.NotSame(t, a.Coordinator, b.Coordinator)
	assert.True(t, b.Anonymous())
	assert.Equal(t, "", b.Coordinator.ViewerID())
}

func TestManager_Get_UnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	for _, id := range []string{"", "missing"} {
		_, err := m.Get(context.Background(), id)
		de := errors.GetDomainError(err)
		require.NotNil(t, de)
		assert.Equal(t, errors.CodeSessionNotFound, de.Code)
	}
}

func TestManager_Close(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()
	_, err := m.Open(ctx, "viewer-1", "tok")
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, "s-1"))

	_, err = m.Get(ctx, "s-1")
	assert.Error(t, err)
	assert.Error(t, m.Close(ctx, "s-1"))
}

func TestManager_SeedsBaselinesForViewers(t *testing.T) {
	snapshots := &countingSnapshots{}
	m, _, _ := newTestManager(t, snapshots)
	ctx := context.Background()

	_, err := m.Open(ctx, "viewer-1", "tok")
	require.NoError(t, err)
	_, err = m.Open(ctx, "", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"viewer-1"}, snapshots.loads)
}

func TestManager_SeedFailureDoesNotFailOpen(t *testing.T) {
	snapshots := &countingSnapshots{loadErr: stderrors.New("table missing")}
	m, _, _ := newTestManager(t, snapshots)

	sess, err := m.Open(context.Background(), "viewer-1", "tok")

	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestSession_ForwardsLatestToken(t *testing.T) {
	m, _, sources := newTestManager(t, nil)
	ctx := context.Background()
	sess, err := m.Open(ctx, "viewer-1", "first")
	require.NoError(t, err)
	require.Len(t, *sources, 1)
	tokens := (*sources)[0]

	token, err := tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", token)

	sess.SetToken("second")
	token, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", token)

	_, err = tokens.Refresh(ctx)
	assert.ErrorIs(t, err, ErrTokenNotRefreshable)
}
