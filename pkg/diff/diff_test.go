package diff_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-sync/pkg/db"
	"doc-sync/pkg/diff"
)

func text(id, s string) db.Block { return db.TextBlock(id, s) }

func content(blocks ...db.Block) *db.Content {
	c := db.NewContent(blocks...)
	return &c
}

func TestDiffWithoutHistory(t *testing.T) {
	next := db.NewContent(text("a", "Hello"))

	res, ok := diff.Diff(nil, next)

	require.True(t, ok)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, db.OpInsert, res.Kind)
	assert.True(t, res.Content.Equal(next))
	assert.Equal(t, "a", res.BlockID)
	assert.Equal(t, "paragraph", res.ContentType)
}

func TestDiffFromEmpty(t *testing.T) {
	next := db.NewContent(text("a", "Hello"))

	res, ok := diff.Diff(content(), next)

	require.True(t, ok)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, db.OpInsert, res.Kind)
	assert.Equal(t, "Hello", res.Content.Blocks[0].Text())
}

func TestDiffToEmptyKeepsPreviousContent(t *testing.T) {
	prev := content(text("a", "Hello"))

	res, ok := diff.Diff(prev, db.Content{})

	require.True(t, ok)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, db.OpDelete, res.Kind)
	assert.True(t, res.Content.Equal(*prev))
	assert.Equal(t, "a", res.BlockID)
}

func TestDiffAppendedBlock(t *testing.T) {
	a, b := text("a", "first"), text("b", "second")

	res, ok := diff.Diff(content(a), db.NewContent(a, b))

	require.True(t, ok)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, db.OpInsert, res.Kind)
	assert.Equal(t, "b", res.BlockID)
	assert.Equal(t, 2, res.Content.Len())
}

func TestDiffInsertedImage(t *testing.T) {
	a, img := text("a", "caption"), db.ImageBlock("i", "https://example.com/x.png")

	res, ok := diff.Diff(content(a), db.NewContent(img, a))

	require.True(t, ok)
	assert.Equal(t, 0, res.Position)
	assert.Equal(t, db.OpImageInsert, res.Kind)
	assert.Equal(t, db.ImageBlockType, res.ContentType)
}

func TestDiffRemovedBlock(t *testing.T) {
	a, b, c := text("a", "1"), text("b", "2"), text("c", "3")

	res, ok := diff.Diff(content(a, b, c), db.NewContent(a, c))

	require.True(t, ok)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, db.OpDelete, res.Kind)
	assert.Equal(t, "b", res.BlockID)
	assert.Equal(t, 2, res.Content.Len(), "content is the full new snapshot")
}

func TestDiffTrailingBlockRemoved(t *testing.T) {
	a, b := text("a", "1"), text("b", "2")

	res, ok := diff.Diff(content(a, b), db.NewContent(a))

	require.True(t, ok)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, db.OpDelete, res.Kind)
	assert.Equal(t, "b", res.BlockID)
}

func TestDiffSameBlockCount(t *testing.T) {
	cases := []struct {
		name string
		prev db.Block
		next db.Block
		want db.OperationKind
	}{
		{"text grew", text("a", "Hell"), text("a", "Hello"), db.OpInsert},
		{"text replaced same length", text("a", "Hello"), text("a", "Jello"), db.OpInsert},
		{"text shrank", text("a", "Hello"), text("a", "Hel"), db.OpDelete},
		{"image replaced text", text("a", "a long paragraph"), db.ImageBlock("a", "x.png"), db.OpImageInsert},
		{"text replaced image", db.ImageBlock("a", "x.png"), text("a", "a long paragraph"), db.OpImageDelete},
		{"image swapped", db.ImageBlock("a", "x.png"), db.ImageBlock("a", "y.png"), db.OpImageInsert},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keep := text("k", "unchanged")

			res, ok := diff.Diff(content(keep, tc.prev), db.NewContent(keep, tc.next))

			require.True(t, ok)
			assert.Equal(t, 1, res.Position)
			assert.Equal(t, tc.want, res.Kind)
		})
	}
}

func TestDiffNoChange(t *testing.T) {
	a := text("a", "same")

	_, ok := diff.Diff(content(a), db.NewContent(a))
	assert.False(t, ok)

	_, ok = diff.Diff(content(), db.Content{})
	assert.False(t, ok)
}

func TestDiffIgnoresStoredKeyOrder(t *testing.T) {
	submitted := db.Block{ID: "i", Type: db.ImageBlockType, Data: json.RawMessage(`{"file":{"url":"x.png"},"caption":"cat","stretched":false}`)}
	stored := db.Block{ID: "i", Type: db.ImageBlockType, Data: json.RawMessage(`{"caption": "cat", "stretched": false, "file": {"url": "x.png"}}`)}
	prev := content(stored, text("p", "a"))

	res, ok := diff.Diff(prev, db.NewContent(submitted, text("p", "ab")))
	require.True(t, ok)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, db.OpInsert, res.Kind)

	_, ok = diff.Diff(prev, db.NewContent(submitted, text("p", "a")))
	assert.False(t, ok, "resubmitting the stored snapshot is not a change")
}

func TestDiffFirstEntryMayBeEmpty(t *testing.T) {
	res, ok := diff.Diff(nil, db.Content{})

	require.True(t, ok)
	assert.Equal(t, db.OpInsert, res.Kind)
	assert.True(t, res.Content.IsEmpty())
}
