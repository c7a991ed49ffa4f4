package history_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"doc-sync/pkg/db"
	"doc-sync/pkg/errdefs"
	"doc-sync/pkg/history"
)

func seed(t *testing.T, texts ...string) (*db.MemoryDocumentStore, string) {
	ctx := context.Background()
	store := db.NewMemoryDocumentStore()
	doc, err := store.CreateDocument(ctx, "alice", "Doc", db.Content{})
	require.NoError(t, err)

	for _, text := range texts {
		_, err := store.AppendLogEntry(ctx, &db.LogEntry{
			DocumentID: doc.ID,
			Kind:       db.OpInsert,
			Content:    db.NewContent(db.TextBlock("a", text)),
		}, db.AppendOptions{})
		require.NoError(t, err)
	}
	return store, doc.ID
}

func TestUndoThenRedo(t *testing.T) {
	ctx := context.Background()
	store, docID := seed(t, "v1", "v2", "v3")
	c := history.NewController(store, zaptest.NewLogger(t).Sugar())

	undone, err := c.Undo(ctx, docID, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, undone.Version)
	assert.Equal(t, "v2", undone.Content.Blocks[0].Text())

	_, err = store.GetLogEntry(ctx, docID, 4)
	assert.ErrorIs(t, err, db.ErrLogEntryNotFound, "undo must not append")

	redone, err := c.Redo(ctx, docID, undone.Version)
	require.NoError(t, err)
	assert.Equal(t, 3, redone.Version)
	assert.Equal(t, "v3", redone.Content.Blocks[0].Text())
}

func TestNothingToUndoOrRedo(t *testing.T) {
	ctx := context.Background()
	store, docID := seed(t, "v1", "v2")
	c := history.NewController(store, zaptest.NewLogger(t).Sugar())

	_, err := c.Undo(ctx, docID, 1)
	assert.ErrorIs(t, err, history.ErrNothingToUndo)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = c.Undo(ctx, docID, 0)
	assert.ErrorIs(t, err, history.ErrNothingToUndo)

	_, err = c.Redo(ctx, docID, 2)
	assert.ErrorIs(t, err, history.ErrNothingToRedo)

	_, err = c.Redo(ctx, "unknown", 1)
	assert.ErrorIs(t, err, history.ErrNothingToRedo)
}
