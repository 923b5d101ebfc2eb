package aggregates

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"communitysync/domain/core/valueobjects"
)

func ids(v ...int64) []valueobjects.EntityID {
	out := make([]valueobjects.EntityID, len(v))
	for i, x := range v {
		out[i] = valueobjects.EntityID(x)
	}
	return out
}

func TestFeed_AppendPageIsIdempotentPerOffset(t *testing.T) {
	// Arrange
	feed := NewFeed("publications", valueobjects.EntityPublication, 4)

	// Act
	first := feed.AppendPage(0, ids(1, 2, 3, 4), 4)
	second := feed.AppendPage(0, ids(1, 2, 3, 4), 4)

	// Assert
	assert.False(t, first.Duplicate)
	assert.Equal(t, ids(1, 2, 3, 4), first.Added)
	assert.True(t, second.Duplicate)
	assert.Equal(t, ids(1, 2, 3, 4), feed.IDs())
	assert.Equal(t, Cursor{Offset: 4, Limit: 4, Exhausted: false}, feed.Cursor())
}

func TestFeed_ShortPageExhausts(t *testing.T) {
	feed := NewFeed("publications", valueobjects.EntityPublication, 4)
	feed.AppendPage(0, ids(1, 2, 3, 4), 4)

	feed.AppendPage(4, ids(5, 6), 4)

	assert.Equal(t, ids(1, 2, 3, 4, 5, 6), feed.IDs())
	assert.Equal(t, 8, feed.Cursor().Offset)
	assert.True(t, feed.Cursor().Exhausted)
}

func TestFeed_EmptyPageExhausts(t *testing.T) {
	feed := NewFeed("users", valueobjects.EntityUser, 20)

	feed.AppendPage(0, nil, 20)

	assert.True(t, feed.Cursor().Exhausted)
	assert.Equal(t, 0, feed.Len())
}

func TestFeed_OverlappingPageSkipsDuplicates(t *testing.T) {
	feed := NewFeed("publications", valueobjects.EntityPublication, 4)
	feed.AppendPage(0, ids(1, 2, 3, 4), 4)

	// an item shifted into the next page by a concurrent insert server-side
	res := feed.AppendPage(4, ids(4, 5, 6, 7), 4)

	assert.Equal(t, ids(5, 6, 7), res.Added)
	assert.Equal(t, ids(1, 2, 3, 4, 5, 6, 7), feed.IDs())
	assert.False(t, feed.Cursor().Exhausted)
}

func TestFeed_ResetBumpsGenerationAndClears(t *testing.T) {
	feed := NewFeed("library-root", valueobjects.EntityLibrary, 50)
	feed.AppendPage(0, ids(1, 2), 50)
	gen := feed.Generation()

	feed.Reset(Filters{"search": "go"})

	assert.Equal(t, gen+1, feed.Generation())
	assert.Empty(t, feed.IDs())
	assert.Equal(t, Cursor{Limit: 50}, feed.Cursor())
	assert.Equal(t, Filters{"search": "go"}, feed.Filters())
	assert.Equal(t, -1, feed.Total())

	// offset 0 can be applied again after a reset
	res := feed.AppendPage(0, ids(9), 50)
	assert.False(t, res.Duplicate)
}

func TestFeed_RemoveAndInsertAtRestoreOrder(t *testing.T) {
	feed := NewFeed("publications", valueobjects.EntityPublication, 4)
	feed.AppendPage(0, ids(1, 2, 3), 4)

	index, ok := feed.Remove(2)
	assert.True(t, ok)
	assert.Equal(t, 1, index)
	assert.False(t, feed.Contains(2))

	feed.InsertAt(2, index)
	assert.Equal(t, ids(1, 2, 3), feed.IDs())

	_, ok = feed.Remove(42)
	assert.False(t, ok)
}

func TestFeed_ReplaceReferenceIgnoresOtherTypes(t *testing.T) {
	feed := NewFeed("publications", valueobjects.EntityPublication, 4)
	feed.InsertAt(-1, 0)

	feed.ReplaceReference(valueobjects.EntityLibrary, -1, 10)
	assert.Equal(t, ids(-1), feed.IDs())

	feed.ReplaceReference(valueobjects.EntityPublication, -1, 10)
	assert.Equal(t, ids(10), feed.IDs())
	assert.True(t, feed.Contains(10))
	assert.False(t, feed.Contains(-1))
}

func TestFilters_EqualAndValues(t *testing.T) {
	assert.True(t, Filters(nil).Equal(Filters{}))
	assert.False(t, Filters{"search": "a"}.Equal(Filters{"search": "b"}))
	assert.Equal(t, "search=go", Filters{"search": "go", "empty": ""}.Values().Encode())
}
