package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"communitysync/application/ports"
	"communitysync/domain/core/valueobjects"
	"communitysync/infrastructure/api/apitest"
	"communitysync/pkg/errors"
)

type testTokens struct {
	current    string
	next       string
	refreshErr error
	refreshes  int
}

func (t *testTokens) Token(ctx context.Context) (string, error) { return t.current, nil }

func (t *testTokens) Refresh(ctx context.Context) (string, error) {
	t.refreshes++
	if t.refreshErr != nil {
		return "", t.refreshErr
	}
	t.current = t.next
	return t.current, nil
}

func newTestClient(t *testing.T, srv *apitest.Server, tokens ports.TokenSource) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  2,
		OpenTimeout:  time.Minute,
	}, tokens, nil, zap.NewNop())
	require.NoError(t, err)
	return client
}

func int64p(v int64) *int64 { return &v }

func TestNewClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(DefaultClientConfig("/api"), nil, nil, nil)
	assert.Error(t, err)
}

func TestClient_List_AcceptsEveryEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		shape     apitest.ListShape
		wantTotal int
	}{
		{name: "items envelope", shape: apitest.ShapeItems, wantTotal: 3},
		{name: "legacy data envelope", shape: apitest.ShapeData, wantTotal: 3},
		{name: "bare array", shape: apitest.ShapeArray, wantTotal: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			srv := apitest.NewServer(t)
			srv.SetListShape("publications", tt.shape)
			for _, id := range []int64{1, 2, 3} {
				srv.Put("publications", map[string]interface{}{"id": id, "title": "pub", "author": "ana"})
			}
			client := newTestClient(t, srv, nil)

			// Act
			result, err := client.List(context.Background(), valueobjects.EntityPublication, ports.ListQuery{Limit: 2, Offset: 0})

			// Assert
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, result.Total)
			require.Len(t, result.Items, 2)
			assert.Equal(t, valueobjects.EntityID(1), result.Items[0].Entity.ID)
			assert.Equal(t, "ana", result.Items[0].Entity.StringField("author"))
			assert.False(t, result.Items[0].ParentKnown)
		})
	}
}

func TestClient_List_SendsPagingAndFilters(t *testing.T) {
	srv := apitest.NewServer(t)
	client := newTestClient(t, srv, nil)

	_, err := client.List(context.Background(), valueobjects.EntityLibrary, ports.ListQuery{
		Limit:   50,
		Offset:  100,
		Filters: map[string]string{"search": "go"},
	})

	require.NoError(t, err)
	requests := srv.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "/library", requests[0].Path)
	assert.Equal(t, "limit=50&offset=100&search=go", requests[0].Query)
}

func TestClient_List_MalformedItemRejectsWholePage(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.Put("publications", map[string]interface{}{"id": 1, "title": "fine"})
	srv.Put("publications", map[string]interface{}{"id": -3, "title": "negative id"})
	client := newTestClient(t, srv, nil)

	result, err := client.List(context.Background(), valueobjects.EntityPublication, ports.ListQuery{Limit: 4})

	require.Error(t, err)
	assert.Nil(t, result)
	appErr := errors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "MALFORMED_PAYLOAD", appErr.Code)
}

func TestClient_Get_LibraryHierarchy(t *testing.T) {
	// Arrange
	srv := apitest.NewServer(t)
	srv.PutNote(1, "root", nil)
	srv.PutNote(2, "child a", int64p(1))
	srv.PutNote(3, "child b", int64p(1))
	srv.PutNote(4, "grandchild", int64p(2))
	client := newTestClient(t, srv, nil)

	// Act
	root, err := client.Get(context.Background(), valueobjects.EntityLibrary, 1)
	require.NoError(t, err)
	child, err := client.Get(context.Background(), valueobjects.EntityLibrary, 2)
	require.NoError(t, err)

	// Assert
	assert.True(t, root.ParentKnown)
	assert.Nil(t, root.ParentID)
	require.Len(t, root.Children, 2)
	assert.Equal(t, valueobjects.EntityID(2), root.Children[0].ID)
	assert.Equal(t, "child b", root.Children[1].StringField("title"))
	_, hasHierarchy := root.Entity.Field("children")
	assert.False(t, hasHierarchy)

	require.NotNil(t, child.ParentID)
	assert.Equal(t, valueobjects.EntityID(1), *child.ParentID)
	assert.Len(t, child.Children, 1)
}

func TestClient_Get_ParentObjectForm(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.Put("library", map[string]interface{}{
		"id":     7,
		"title":  "nested",
		"parent": map[string]interface{}{"id": 3, "title": "owner"},
	})
	client := newTestClient(t, srv, nil)

	rec, err := client.Get(context.Background(), valueobjects.EntityLibrary, 7)

	require.NoError(t, err)
	assert.True(t, rec.ParentKnown)
	require.NotNil(t, rec.ParentID)
	assert.Equal(t, valueobjects.EntityID(3), *rec.ParentID)
}

func TestClient_Get_RejectsNonIntegerParent(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.Put("library", map[string]interface{}{"id": 5, "title": "bad", "parentNoteId": "x"})
	client := newTestClient(t, srv, nil)

	_, err := client.Get(context.Background(), valueobjects.EntityLibrary, 5)

	require.Error(t, err)
	assert.Equal(t, "MALFORMED_PAYLOAD", errors.GetAppError(err).Code)
}

func TestClient_Get_NotFound(t *testing.T) {
	srv := apitest.NewServer(t)
	client := newTestClient(t, srv, nil)

	_, err := client.Get(context.Background(), valueobjects.EntityLibrary, 99)

	assert.True(t, stderrors.Is(err, errors.ErrEntityNotFound))
}

func TestClient_Create_SendsBearerAndIdempotencyKey(t *testing.T) {
	// Arrange
	srv := apitest.NewServer(t)
	srv.AddToken("tok-1", "viewer-1")
	client := newTestClient(t, srv, &testTokens{current: "tok-1"})
	client.newKey = func() string { return "key-1" }

	// Act
	rec, err := client.Create(context.Background(), valueobjects.EntityLibrary, map[string]interface{}{
		"title":        "new note",
		"parentNoteId": nil,
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, valueobjects.EntityID(1001), rec.Entity.ID)
	assert.Equal(t, "new note", rec.Entity.StringField("title"))
	assert.True(t, rec.ParentKnown)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "Bearer tok-1", requests[0].Authorization)
	assert.Equal(t, "key-1", requests[0].IdempotencyKey)
}

func TestClient_RefreshesTokenOnceOn401(t *testing.T) {
	// Arrange
	srv := apitest.NewServer(t)
	srv.AddToken("fresh", "viewer-1")
	srv.PutNote(1, "note", nil)
	tokens := &testTokens{current: "expired", next: "fresh"}
	client := newTestClient(t, srv, tokens)

	// Act
	rec, err := client.Update(context.Background(), valueobjects.EntityLibrary, 1, map[string]interface{}{"title": "renamed"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "renamed", rec.Entity.StringField("title"))
	assert.Equal(t, 1, tokens.refreshes)

	requests := srv.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "Bearer expired", requests[0].Authorization)
	assert.Equal(t, "Bearer fresh", requests[1].Authorization)
}

func TestClient_FailedRefreshIsGenericFailure(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.PutNote(1, "note", nil)
	tokens := &testTokens{current: "expired", refreshErr: stderrors.New("session gone")}
	client := newTestClient(t, srv, tokens)

	err := client.Delete(context.Background(), valueobjects.EntityLibrary, 1)

	require.Error(t, err)
	assert.True(t, errors.IsUnauthorized(err))
	assert.Equal(t, 1, srv.RequestsTo(http.MethodDelete, "/library/1"))
	_, stillThere := srv.Item("library", 1)
	assert.True(t, stillThere)
}

func TestClient_SecondRejectionIsNotRetriedAgain(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.PutNote(1, "note", nil)
	tokens := &testTokens{current: "expired", next: "also-expired"}
	client := newTestClient(t, srv, tokens)

	err := client.Delete(context.Background(), valueobjects.EntityLibrary, 1)

	require.Error(t, err)
	assert.Equal(t, 2, srv.RequestsTo(http.MethodDelete, "/library/1"))
	assert.Equal(t, "HTTP_401", errors.GetAppError(err).Code)
}

func TestClient_BreakerOpensAfterServerErrors(t *testing.T) {
	// Arrange
	srv := apitest.NewServer(t)
	srv.FailNext(http.MethodGet, "/publications", http.StatusInternalServerError, 10)
	client := newTestClient(t, srv, nil)
	query := ports.ListQuery{Limit: 4}

	// Act
	_, err1 := client.List(context.Background(), valueobjects.EntityPublication, query)
	_, err2 := client.List(context.Background(), valueobjects.EntityPublication, query)
	_, err3 := client.List(context.Background(), valueobjects.EntityPublication, query)

	// Assert
	assert.Equal(t, "HTTP_500", errors.GetAppError(err1).Code)
	assert.Equal(t, "HTTP_500", errors.GetAppError(err2).Code)
	assert.True(t, errors.IsType(err3, errors.ErrorTypeUnavailable))
	assert.Equal(t, 2, srv.RequestsTo(http.MethodGet, "/publications"))
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := apitest.NewServer(t)
	client := newTestClient(t, srv, nil)

	for i := 0; i < 4; i++ {
		_, err := client.Get(context.Background(), valueobjects.EntityLibrary, 42)
		require.True(t, stderrors.Is(err, errors.ErrEntityNotFound))
	}
	assert.Equal(t, 4, srv.RequestsTo(http.MethodGet, "/library/42"))
}

func TestClient_Reactions(t *testing.T) {
	// Arrange
	srv := apitest.NewServer(t)
	srv.AddToken("tok", "viewer-1")
	srv.Put("publications", map[string]interface{}{"id": 10, "title": "pub"})
	srv.PutLike("PUBLICATION", 10, "someone-else", true)
	previous := srv.PutLike("PUBLICATION", 10, "viewer-1", false)
	client := newTestClient(t, srv, &testTokens{current: "tok"})
	anonymous := newTestClient(t, srv, nil)
	target := valueobjects.NewReactionTarget(valueobjects.TargetPublication, 10)
	ctx := context.Background()

	// Act & Assert: viewer's existing dislike
	mine, err := client.ViewerReaction(ctx, target)
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, valueobjects.EntityID(previous), mine.ID)
	assert.False(t, mine.IsLike)

	// A new reaction replaces the old one server-side
	created, err := client.React(ctx, target, true)
	require.NoError(t, err)
	assert.True(t, created.IsLike)

	count, err := client.Count(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, ports.ReactionCount{Likes: 2, Dislikes: 0}, count)

	// Anonymous viewers have no record
	none, err := anonymous.ViewerReaction(ctx, target)
	require.NoError(t, err)
	assert.Nil(t, none)

	// Removing twice is not an error
	require.NoError(t, client.RemoveReaction(ctx, created.ID))
	require.NoError(t, client.RemoveReaction(ctx, created.ID))

	count, err = client.Count(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 1, count.Likes)

	requests := srv.Requests()
	var reactBody map[string]interface{}
	for _, r := range requests {
		if r.Method == http.MethodPost && r.Path == "/likes" {
			reactBody = r.Body
		}
	}
	require.NotNil(t, reactBody)
	assert.Equal(t, "PUBLICATION", reactBody["targetType"])
	assert.Equal(t, true, reactBody["isLike"])
}

func TestClient_React_UnknownTarget(t *testing.T) {
	srv := apitest.NewServer(t)
	srv.AddToken("tok", "viewer-1")
	client := newTestClient(t, srv, &testTokens{current: "tok"})

	_, err := client.React(context.Background(), valueobjects.NewReactionTarget(valueobjects.TargetLibrary, 5), true)

	assert.True(t, stderrors.Is(err, errors.ErrEntityNotFound))
}
