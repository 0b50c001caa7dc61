package feed_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maru/board"
	"maru/comment"
	"maru/feed"
)

var base = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

func c(id string, parentID *string, offset time.Duration, content string) *comment.Comment {
	return &comment.Comment{
		ID:        id,
		BoardID:   board.Free,
		ParentID:  parentID,
		AuthorUID: uuid.NewString(),
		Content:   content,
		CreatedAt: base.Add(offset),
	}
}

func ptr(s string) *string { return &s }

func ids(rows []feed.Row) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Comment.ID)
	}

	return out
}

func TestBuildRows_Ordering(t *testing.T) {
	t.Run("roots newest first", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("a", nil, 0, "first"),
			c("b", nil, time.Minute, "second"),
			c("c", nil, 2*time.Minute, "third"),
		})

		assert.Equal(t, []string{"c", "b", "a"}, ids(rows))
	})

	t.Run("replies oldest first under their parent", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("root", nil, 0, "root"),
			c("r2", ptr("root"), 2*time.Minute, "later reply"),
			c("r1", ptr("root"), time.Minute, "earlier reply"),
		})

		assert.Equal(t, []string{"root", "r1", "r2"}, ids(rows))
	})

	t.Run("ties break by id", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("b", nil, 0, "x"),
			c("a", nil, 0, "y"),
		})

		// ascending a,b then reversed for display
		assert.Equal(t, []string{"b", "a"}, ids(rows))
	})

	t.Run("reply chains stay pre-order", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("old", nil, 0, "old thread"),
			c("new", nil, time.Hour, "new thread"),
			c("old-r1", ptr("old"), time.Minute, "x"),
			c("old-r1-r1", ptr("old-r1"), 2*time.Minute, "y"),
			c("new-r1", ptr("new"), 2*time.Hour, "z"),
		})

		assert.Equal(t, []string{"new", "new-r1", "old", "old-r1", "old-r1-r1"}, ids(rows))
	})
}

func TestBuildRows_DepthAndIndent(t *testing.T) {
	rows := feed.BuildRows([]*comment.Comment{
		c("d0", nil, 0, "root"),
		c("d1", ptr("d0"), time.Minute, "reply"),
		c("d2", ptr("d1"), 2*time.Minute, "deeper"),
		c("d3", ptr("d2"), 3*time.Minute, "deeper still"),
		c("d4", ptr("d3"), 4*time.Minute, "deepest"),
	})

	require.Len(t, rows, 5)

	for i, row := range rows {
		assert.Equal(t, i, row.Depth, "depth of %s", row.Comment.ID)
	}

	// indent clamps while depth keeps counting
	assert.Equal(t, []int{0, 1, 2, 2, 2}, []int{
		rows[0].Indent, rows[1].Indent, rows[2].Indent, rows[3].Indent, rows[4].Indent,
	})
}

func TestBuildRows_Orphans(t *testing.T) {
	rows := feed.BuildRows([]*comment.Comment{
		c("root", nil, 0, "alive"),
		c("orphan", ptr("gone"), time.Minute, "parent deleted"),
		c("orphan-child", ptr("orphan"), 2*time.Minute, "still attached"),
	})

	require.Len(t, rows, 3)

	byID := make(map[string]feed.Row, len(rows))
	for _, row := range rows {
		byID[row.Comment.ID] = row
	}

	orphan := byID["orphan"]
	assert.True(t, orphan.Orphaned)
	assert.Equal(t, 0, orphan.Depth)
	require.NotNil(t, orphan.Comment.ParentID, "dangling parent id is kept")

	// children of a promoted orphan still nest under it
	child := byID["orphan-child"]
	assert.False(t, child.Orphaned)
	assert.Equal(t, 1, child.Depth)

	assert.False(t, byID["root"].Orphaned)

	t.Run("every record renders", func(t *testing.T) {
		assert.Len(t, rows, 3)
	})
}

func TestBuildRows_Mentions(t *testing.T) {
	t.Run("reply with leading mention", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("root", nil, 0, "root"),
			c("reply", ptr("root"), time.Minute, "@alice nice point"),
		})

		require.Len(t, rows, 2)
		assert.Equal(t, "@alice", rows[1].Mention)
		assert.Equal(t, "nice point", rows[1].Body)
	})

	t.Run("root content never yields a mention", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("root", nil, 0, "@alice looks like a mention"),
		})

		require.Len(t, rows, 1)
		assert.Empty(t, rows[0].Mention)
		assert.Equal(t, "@alice looks like a mention", rows[0].Body)
	})

	t.Run("mid-content mention is ignored", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("root", nil, 0, "root"),
			c("reply", ptr("root"), time.Minute, "thanks @alice for this"),
		})

		assert.Empty(t, rows[1].Mention)
		assert.Equal(t, "thanks @alice for this", rows[1].Body)
	})

	t.Run("bare at sign is not a mention", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("root", nil, 0, "root"),
			c("reply", ptr("root"), time.Minute, "@ what"),
		})

		assert.Empty(t, rows[1].Mention)
		assert.Equal(t, "@ what", rows[1].Body)
	})

	t.Run("mention only content", func(t *testing.T) {
		rows := feed.BuildRows([]*comment.Comment{
			c("root", nil, 0, "root"),
			c("reply", ptr("root"), time.Minute, "@alice"),
		})

		assert.Equal(t, "@alice", rows[1].Mention)
		assert.Empty(t, rows[1].Body)
	})
}

func TestBuildRows_Empty(t *testing.T) {
	rows := feed.BuildRows(nil)
	assert.Empty(t, rows)
}
