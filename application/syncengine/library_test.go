package syncengine

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"communitysync/domain/config"
	"communitysync/domain/core/entities"
	"communitysync/domain/core/valueobjects"
	"communitysync/domain/events"
	"communitysync/pkg/errors"
)

func rootFeedIDs(t *testing.T, c *Coordinator) []valueobjects.EntityID {
	t.Helper()
	view, err := c.GetFeed(config.FeedLibraryRoot)
	require.NoError(t, err)
	ids := make([]valueobjects.EntityID, len(view.Items))
	for i, e := range view.Items {
		ids[i] = e.ID
	}
	return ids
}

func withTitle(title string) interface{} {
	return mock.MatchedBy(func(p map[string]interface{}) bool { return p["title"] == title })
}

func TestCreateLibraryNode_RootIsVisibleBeforeConfirmation(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	pub := &recordingPublisher{}
	c := newTestCoordinator(t, api, nil, WithEventPublisher(pub))
	seedLibrary(c, libRecord(1, "existing", nil))

	var optimistic []valueobjects.EntityID
	api.On("Create", mock.Anything, valueobjects.EntityLibrary, withTitle("new note")).
		Run(func(mock.Arguments) { optimistic = rootFeedIDs(t, c) }).
		Return(&entities.Record{
			Entity:      entities.NewEntity(valueobjects.EntityLibrary, 10, map[string]interface{}{"title": "new note"}),
			ParentKnown: true,
		}, nil).Once()

	// Act
	node, err := c.CreateOrUpdateLibraryNode(context.Background(), entities.LibraryDraft{Title: "new note"}, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, valueobjects.EntityID(10), node.ID)
	assert.True(t, node.IsRoot())
	require.Len(t, optimistic, 2)
	assert.True(t, optimistic[0].IsTemporary(), "new root is shown first while pending")
	assert.Equal(t, []valueobjects.EntityID{10, 1}, rootFeedIDs(t, c))
	assert.Equal(t, StateClean, c.MutationStateOf(valueobjects.NewEntityKey(valueobjects.EntityLibrary, 10)))
	assert.Equal(t, []string{events.TypeMutationApplied, events.TypeMutationConfirmed}, pub.types())
}

func TestCreateLibraryNode_DefaultsToCurrentNode(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c, libRecord(1, "parent", nil))

	api.On("Get", mock.Anything, valueobjects.EntityLibrary, eid(1)).Return(&entities.Record{
		Entity:      entities.NewEntity(valueobjects.EntityLibrary, 1, map[string]interface{}{"title": "parent"}),
		ParentKnown: true,
		Children:    []*entities.Entity{},
	}, nil).Once()
	api.On("Create", mock.Anything, valueobjects.EntityLibrary, mock.MatchedBy(func(p map[string]interface{}) bool {
		return p[entities.FieldParentNoteID] == int64(1)
	})).Return(&entities.Record{
		Entity:      entities.NewEntity(valueobjects.EntityLibrary, 11, map[string]interface{}{"title": "child"}),
		ParentKnown: true,
		ParentID:    eidp(1),
	}, nil).Once()

	_, err := c.OpenNode(context.Background(), 1)
	require.NoError(t, err)

	// Act
	node, err := c.CreateOrUpdateLibraryNode(context.Background(), entities.LibraryDraft{Title: "child"}, nil)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, node.ParentID)
	assert.Equal(t, valueobjects.EntityID(1), *node.ParentID)

	parent, ok := c.GetNode(1)
	require.True(t, ok)
	assert.Equal(t, []valueobjects.EntityID{11}, parent.ChildIDs)
	assert.Equal(t, []valueobjects.EntityID{1}, rootFeedIDs(t, c), "children never enter the root feed")
	api.AssertExpectations(t)
}

func TestCreateLibraryNode_RollsBackOnServerError(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	pub := &recordingPublisher{}
	c := newTestCoordinator(t, api, nil, WithEventPublisher(pub))
	seedLibrary(c, libRecord(1, "existing", nil))
	api.On("Create", mock.Anything, valueobjects.EntityLibrary, mock.Anything).
		Return(nil, stderrors.New("500 internal")).Once()

	// Act
	node, err := c.CreateOrUpdateLibraryNode(context.Background(), entities.LibraryDraft{Title: "doomed"}, nil)

	// Assert
	assert.Nil(t, node)
	assert.ErrorIs(t, err, errors.ErrMutationFailed)
	assert.Equal(t, []valueobjects.EntityID{1}, rootFeedIDs(t, c))
	for _, id := range c.store.IDs(valueobjects.EntityLibrary) {
		assert.False(t, id.IsTemporary(), "temporary entity must be removed")
	}
	assert.Equal(t, []valueobjects.EntityID{1}, c.tree.Roots())
	assert.Contains(t, pub.types(), events.TypeMutationRolledBack)
}

func TestCreateOrUpdateLibraryNode_RejectedBeforeAnyChange(t *testing.T) {
	tests := []struct {
		name      string
		viewer    string
		draft     entities.LibraryDraft
		editingID *valueobjects.EntityID
		wantErr   error
	}{
		{
			name:    "anonymous viewer",
			viewer:  "",
			draft:   entities.LibraryDraft{Title: "x"},
			wantErr: errors.ErrUnauthenticated,
		},
		{
			name:    "missing title",
			viewer:  "viewer-1",
			draft:   entities.LibraryDraft{Description: "no title"},
			wantErr: errors.ErrInvalidDraft,
		},
		{
			name:      "temporary id",
			viewer:    "viewer-1",
			draft:     entities.LibraryDraft{Title: "x"},
			editingID: eidp(-1),
			wantErr:   errors.ErrEntityNotFound,
		},
		{
			name:      "unknown node",
			viewer:    "viewer-1",
			draft:     entities.LibraryDraft{Title: "x"},
			editingID: eidp(99),
			wantErr:   errors.ErrEntityNotFound,
		},
		{
			name:    "unknown parent",
			viewer:  "viewer-1",
			draft:   entities.LibraryDraft{Title: "x", ParentID: eidp(42), ParentSet: true},
			wantErr: errors.ErrEntityNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			api := new(MockRemoteAPI)
			c := NewCoordinator(testConfig(), api, nil, WithSession("s", tt.viewer))
			seedLibrary(c, libRecord(1, "root", nil))

			// Act
			_, err := c.CreateOrUpdateLibraryNode(context.Background(), tt.draft, tt.editingID)

			// Assert
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, []valueobjects.EntityID{1}, rootFeedIDs(t, c))
			api.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
			api.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreateOrUpdateLibraryNode_RejectsTemporaryParent(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c, libRecord(1, "root", nil))
	c.mu.Lock()
	c.store.Upsert(entities.NewEntity(valueobjects.EntityLibrary, -1, map[string]interface{}{"title": "pending"}))
	c.tree.Attach(-1, nil)
	c.mu.Unlock()

	// Act
	_, createErr := c.CreateOrUpdateLibraryNode(context.Background(),
		entities.LibraryDraft{Title: "child", ParentID: eidp(-1), ParentSet: true}, nil)
	_, updateErr := c.CreateOrUpdateLibraryNode(context.Background(),
		entities.LibraryDraft{ParentID: eidp(-1), ParentSet: true}, eidp(1))

	// Assert
	assert.ErrorIs(t, createErr, errors.ErrEntityNotFound)
	assert.ErrorIs(t, updateErr, errors.ErrEntityNotFound)
	assert.Empty(t, c.tree.ChildrenOf(-1))
	api.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	api.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateLibraryNode_ConfirmedChildAlreadyListedAppearsOnce(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c, libRecord(1, "parent", nil))

	api.On("Get", mock.Anything, valueobjects.EntityLibrary, eid(1)).Return(&entities.Record{
		Entity:      entities.NewEntity(valueobjects.EntityLibrary, 1, map[string]interface{}{"title": "parent"}),
		ParentKnown: true,
		Children: []*entities.Entity{
			entities.NewEntity(valueobjects.EntityLibrary, 11, map[string]interface{}{"title": "child"}),
		},
	}, nil).Once()
	api.On("Create", mock.Anything, valueobjects.EntityLibrary, withTitle("child")).
		Run(func(args mock.Arguments) {
			// The server lists the new note before the create answers.
			_, err := c.OpenNode(args.Get(0).(context.Context), 1)
			require.NoError(t, err)
		}).
		Return(&entities.Record{
			Entity:      entities.NewEntity(valueobjects.EntityLibrary, 11, map[string]interface{}{"title": "child"}),
			ParentKnown: true,
			ParentID:    eidp(1),
		}, nil).Once()
	api.On("Delete", mock.Anything, valueobjects.EntityLibrary, eid(11)).Return(nil).Once()
	api.On("Delete", mock.Anything, valueobjects.EntityLibrary, eid(1)).Return(nil).Once()

	// Act
	_, err := c.CreateOrUpdateLibraryNode(context.Background(),
		entities.LibraryDraft{Title: "child", ParentID: eidp(1), ParentSet: true}, nil)
	require.NoError(t, err)

	// Assert
	parent, ok := c.GetNode(1)
	require.True(t, ok)
	assert.Equal(t, []valueobjects.EntityID{11}, parent.ChildIDs)

	_, err = c.DeleteLibraryNode(context.Background(), 11)
	require.NoError(t, err)
	_, err = c.DeleteLibraryNode(context.Background(), 1)
	require.NoError(t, err, "parent is deletable once its only child is gone")
	api.AssertExpectations(t)
}

func TestUpdateLibraryNode_RejectsCycle(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c,
		libRecord(1, "a", nil),
		libRecord(2, "b", i64(1)),
		libRecord(3, "c", i64(2)),
	)

	// Act
	_, underDescendant := c.CreateOrUpdateLibraryNode(context.Background(),
		entities.LibraryDraft{ParentID: eidp(3), ParentSet: true}, eidp(1))
	_, underSelf := c.CreateOrUpdateLibraryNode(context.Background(),
		entities.LibraryDraft{ParentID: eidp(2), ParentSet: true}, eidp(2))

	// Assert
	assert.ErrorIs(t, underDescendant, errors.ErrInvalidHierarchy)
	assert.ErrorIs(t, underSelf, errors.ErrInvalidHierarchy)
	node, _ := c.GetNode(1)
	assert.True(t, node.IsRoot())
	api.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateLibraryNode_RollbackRestoresFieldsAndPosition(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c,
		libRecord(1, "a", nil),
		libRecord(2, "b", i64(1)),
		libRecord(3, "c", i64(1)),
	)

	var optimisticRoots []valueobjects.EntityID
	api.On("Update", mock.Anything, valueobjects.EntityLibrary, eid(2), mock.Anything).
		Run(func(mock.Arguments) { optimisticRoots = rootFeedIDs(t, c) }).
		Return(nil, stderrors.New("timeout")).Once()

	// Act
	_, err := c.CreateOrUpdateLibraryNode(context.Background(),
		entities.LibraryDraft{Title: "renamed", ParentSet: true}, eidp(2))

	// Assert
	assert.ErrorIs(t, err, errors.ErrMutationFailed)
	assert.Equal(t, []valueobjects.EntityID{1, 2}, optimisticRoots, "moved to root while pending")

	node, ok := c.GetNode(2)
	require.True(t, ok)
	assert.Equal(t, "b", node.Title())
	require.NotNil(t, node.ParentID)
	assert.Equal(t, valueobjects.EntityID(1), *node.ParentID)

	parent, _ := c.GetNode(1)
	assert.Equal(t, []valueobjects.EntityID{2, 3}, parent.ChildIDs, "sibling order restored")
	assert.Equal(t, []valueobjects.EntityID{1}, rootFeedIDs(t, c))
	assert.Equal(t, StateRolledBack, c.MutationStateOf(valueobjects.NewEntityKey(valueobjects.EntityLibrary, 2)))
}

func TestUpdateLibraryNode_FollowsServerParent(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c,
		libRecord(1, "a", nil),
		libRecord(2, "b", nil),
		libRecord(3, "c", nil),
	)
	api.On("Update", mock.Anything, valueobjects.EntityLibrary, eid(3), mock.MatchedBy(func(p map[string]interface{}) bool {
		return p[entities.FieldParentNoteID] == int64(1)
	})).Return(&entities.Record{
		Entity:      entities.NewEntity(valueobjects.EntityLibrary, 3, map[string]interface{}{"title": "c"}),
		ParentKnown: true,
		ParentID:    eidp(2),
	}, nil).Once()

	// Act
	node, err := c.CreateOrUpdateLibraryNode(context.Background(),
		entities.LibraryDraft{ParentID: eidp(1), ParentSet: true}, eidp(3))

	// Assert
	require.NoError(t, err)
	require.NotNil(t, node.ParentID)
	assert.Equal(t, valueobjects.EntityID(2), *node.ParentID)
	first, _ := c.GetNode(1)
	assert.Empty(t, first.ChildIDs)
	assert.Equal(t, []valueobjects.EntityID{1, 2}, rootFeedIDs(t, c))
	assert.Equal(t, StateClean, c.MutationStateOf(valueobjects.NewEntityKey(valueobjects.EntityLibrary, 3)))
}

func TestUpdateLibraryNode_SameEntitySerialized(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c, libRecord(1, "a", nil))

	release := make(chan struct{})
	entered := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(title string) {
		mu.Lock()
		order = append(order, title)
		mu.Unlock()
	}
	api.On("Update", mock.Anything, valueobjects.EntityLibrary, eid(1), withTitle("first")).
		Run(func(mock.Arguments) {
			record("first")
			close(entered)
			<-release
		}).
		Return(nil, nil).Once()
	api.On("Update", mock.Anything, valueobjects.EntityLibrary, eid(1), withTitle("second")).
		Run(func(mock.Arguments) { record("second") }).
		Return(nil, nil).Once()

	// Act
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = c.CreateOrUpdateLibraryNode(context.Background(), entities.LibraryDraft{Title: "first"}, eidp(1))
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, _ = c.CreateOrUpdateLibraryNode(context.Background(), entities.LibraryDraft{Title: "second"}, eidp(1))
	}()
	time.Sleep(50 * time.Millisecond)
	api.AssertNumberOfCalls(t, "Update", 1)
	close(release)
	wg.Wait()

	// Assert
	assert.Equal(t, []string{"first", "second"}, order)
	node, _ := c.GetNode(1)
	assert.Equal(t, "second", node.Title())
}

func TestDeleteLibraryNode_RefusesNodeWithChildren(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c, libRecord(1, "a", nil), libRecord(2, "b", i64(1)))

	// Act
	outcome, err := c.DeleteLibraryNode(context.Background(), 1)

	// Assert
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, errors.ErrHasChildren)
	assert.True(t, c.store.Has(valueobjects.EntityLibrary, 1))
	api.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteLibraryNode_RollbackRestoresPosition(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	seedLibrary(c, libRecord(1, "a", nil), libRecord(2, "b", nil), libRecord(3, "c", nil))

	var during []valueobjects.EntityID
	api.On("Delete", mock.Anything, valueobjects.EntityLibrary, eid(2)).
		Run(func(mock.Arguments) { during = rootFeedIDs(t, c) }).
		Return(stderrors.New("403 forbidden")).Once()

	// Act
	_, err := c.DeleteLibraryNode(context.Background(), 2)

	// Assert
	assert.ErrorIs(t, err, errors.ErrMutationFailed)
	assert.Equal(t, []valueobjects.EntityID{1, 3}, during)
	assert.Equal(t, []valueobjects.EntityID{1, 2, 3}, rootFeedIDs(t, c))
	assert.Equal(t, []valueobjects.EntityID{1, 2, 3}, c.tree.Roots())
	node, ok := c.GetNode(2)
	require.True(t, ok)
	assert.Equal(t, "b", node.Title())
}

func TestDeleteLibraryNode_CurrentNodeNavigatesToParent(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	snapshots := newFakeSnapshots()
	c := newTestCoordinator(t, api, nil, WithSnapshotStore(snapshots))
	seedLibrary(c, libRecord(1, "a", nil), libRecord(2, "b", i64(1)))
	target := valueobjects.NewReactionTarget(valueobjects.TargetLibrary, 2)
	snapshots.saved[target] = entities.ReactionState{Likes: 1, Viewer: valueobjects.ReactionNone}

	parentRec := libRecord(1, "a", nil)
	parentRec.Children = []*entities.Entity{entities.NewEntity(valueobjects.EntityLibrary, 2, map[string]interface{}{"title": "b"})}
	childRec := libRecord(2, "b", i64(1))
	childRec.Children = []*entities.Entity{}
	api.On("Get", mock.Anything, valueobjects.EntityLibrary, eid(1)).Return(&parentRec, nil)
	api.On("Get", mock.Anything, valueobjects.EntityLibrary, eid(2)).Return(&childRec, nil)
	api.On("Delete", mock.Anything, valueobjects.EntityLibrary, eid(2)).Return(nil).Once()

	_, err := c.OpenNode(context.Background(), 1)
	require.NoError(t, err)
	_, err = c.OpenNode(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []valueobjects.EntityID{1}, c.NavigationStack())

	// Act
	outcome, err := c.DeleteLibraryNode(context.Background(), 2)

	// Assert
	require.NoError(t, err)
	assert.True(t, outcome.NavigatedAway)
	require.NotNil(t, outcome.Current)
	assert.Equal(t, valueobjects.EntityID(1), *outcome.Current)
	assert.Empty(t, c.NavigationStack())

	current, ok := c.CurrentNode()
	require.True(t, ok)
	assert.Empty(t, current.ChildIDs)
	assert.NotContains(t, snapshots.saved, target)
}

func TestGoBack_UsesCachedNodeWhenRefreshFails(t *testing.T) {
	// Arrange
	api := new(MockRemoteAPI)
	c := newTestCoordinator(t, api, nil)
	first := libRecord(1, "a", nil)
	second := libRecord(2, "b", nil)
	api.On("Get", mock.Anything, valueobjects.EntityLibrary, eid(1)).Return(&first, nil).Once()
	api.On("Get", mock.Anything, valueobjects.EntityLibrary, eid(2)).Return(&second, nil).Once()
	api.On("Get", mock.Anything, valueobjects.EntityLibrary, eid(1)).Return(nil, stderrors.New("offline")).Once()

	_, err := c.OpenNode(context.Background(), 1)
	require.NoError(t, err)
	_, err = c.OpenNode(context.Background(), 2)
	require.NoError(t, err)

	// Act
	back, err := c.GoBack(context.Background())
	require.NoError(t, err)
	root, err := c.GoBack(context.Background())
	require.NoError(t, err)

	// Assert
	require.NotNil(t, back)
	assert.Equal(t, valueobjects.EntityID(1), back.ID)
	assert.Equal(t, "a", back.Title())
	assert.Nil(t, root)
	_, ok := c.CurrentNode()
	assert.False(t, ok)
}

func TestAvailableParents_ExcludesSelfAndDescendants(t *testing.T) {
	// Arrange
	c := newTestCoordinator(t, new(MockRemoteAPI), nil)
	seedLibrary(c,
		libRecord(1, "alpha", nil),
		libRecord(2, "beta", i64(1)),
		libRecord(3, "gamma", i64(2)),
		libRecord(4, "delta", nil),
	)

	// Act
	forEdit := c.AvailableParents(eidp(2))
	forCreate := c.AvailableParents(nil)

	// Assert
	assert.Equal(t, []entities.LibraryReference{
		{ID: 1, Title: "alpha"},
		{ID: 4, Title: "delta"},
	}, forEdit)
	assert.Len(t, forCreate, 4)
	assert.Equal(t, "alpha", forCreate[0].Title)
}
