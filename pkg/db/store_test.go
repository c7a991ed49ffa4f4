package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-sync/pkg/errdefs"
)

func TestMemoryStoreContract(t *testing.T) {
	testStoreContract(t, NewMemoryDocumentStore())
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewPostgresDocumentStore(ctx, dsn, 5*time.Second)
	require.NoError(t, err)
	defer store.Close()

	testStoreContract(t, store)
}

func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("documents", func(t *testing.T) {
		doc, err := store.CreateDocument(ctx, "alice", "Notes", NewContent(TextBlock("1", "seed")))
		require.NoError(t, err)
		assert.Equal(t, 1, doc.Version)

		got, err := store.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Owner)
		assert.Equal(t, "seed", got.Content.Blocks[0].Text())

		title := "Renamed"
		updated, err := store.UpdateDocument(ctx, doc.ID, &DocumentUpdate{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Title)

		unchanged, err := store.UpdateDocument(ctx, doc.ID, &DocumentUpdate{})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", unchanged.Title)
		_, err = store.UpdateDocument(ctx, "00000000-0000-0000-0000-000000000000", &DocumentUpdate{Title: &title})
		assert.ErrorIs(t, err, ErrDocumentNotFound)

		docs, err := store.ListDocuments(ctx, "alice")
		require.NoError(t, err)
		assert.NotEmpty(t, docs)

		require.NoError(t, store.DeleteDocument(ctx, doc.ID))
		_, err = store.GetDocument(ctx, doc.ID)
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
		assert.ErrorIs(t, store.DeleteDocument(ctx, doc.ID), ErrDocumentNotFound)
	})

	t.Run("log versions are gap free", func(t *testing.T) {
		doc, err := store.CreateDocument(ctx, "alice", "Log", Content{})
		require.NoError(t, err)

		_, err = store.LatestLogEntry(ctx, doc.ID)
		require.ErrorIs(t, err, ErrLogEntryNotFound)

		for i := 1; i <= 3; i++ {
			pos := i - 1
			entry, err := store.AppendLogEntry(ctx, &LogEntry{
				DocumentID: doc.ID,
				Kind:       OpInsert,
				Position:   &pos,
				Content:    NewContent(TextBlock("1", string(rune('a'+i)))),
			}, AppendOptions{})
			require.NoError(t, err)
			assert.Equal(t, i, entry.Version)
		}

		latest, err := store.LatestLogEntry(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, latest.Version)

		second, err := store.GetLogEntry(ctx, doc.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, "c", second.Content.Blocks[0].Text())
		require.NotNil(t, second.Position)
		assert.Equal(t, 1, *second.Position)

		_, err = store.GetLogEntry(ctx, doc.ID, 4)
		assert.ErrorIs(t, err, ErrLogEntryNotFound)

		refreshed, err := store.GetDocument(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, refreshed.Version)

		entries, err := store.ListLogEntries(ctx, doc.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("concurrent appends get distinct versions", func(t *testing.T) {
		doc, err := store.CreateDocument(ctx, "alice", "Race", Content{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		versions := make(chan int, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				entry, err := store.AppendLogEntry(ctx, &LogEntry{DocumentID: doc.ID, Kind: OpInsert}, AppendOptions{})
				if err == nil {
					versions <- entry.Version
					return
				}
				assert.ErrorIs(t, err, errdefs.ErrConcurrency)
			}()
		}
		wg.Wait()
		close(versions)

		seen := map[int]bool{}
		for v := range versions {
			assert.False(t, seen[v], "duplicate version %d", v)
			seen[v] = true
		}
	})

	t.Run("append to unknown document", func(t *testing.T) {
		_, err := store.AppendLogEntry(ctx, &LogEntry{DocumentID: "00000000-0000-0000-0000-000000000000", Kind: OpInsert}, AppendOptions{})
		assert.ErrorIs(t, err, ErrDocumentNotFound)
	})

	t.Run("grants are replaced", func(t *testing.T) {
		doc, err := store.CreateDocument(ctx, "alice", "Shared", Content{})
		require.NoError(t, err)

		require.NoError(t, store.ReplaceGrant(ctx, &AccessGrant{DocumentID: doc.ID, Token: "first" + doc.ID[:8], CanRead: true, CreatedAt: time.Now()}))
		require.NoError(t, store.ReplaceGrant(ctx, &AccessGrant{DocumentID: doc.ID, Token: "second" + doc.ID[:8], CanWrite: true, CreatedAt: time.Now()}))

		_, err = store.GetGrantByToken(ctx, "first"+doc.ID[:8])
		assert.ErrorIs(t, err, ErrGrantNotFound)

		grant, err := store.GetGrantByToken(ctx, "second"+doc.ID[:8])
		require.NoError(t, err)
		assert.True(t, grant.CanWrite)
		assert.Equal(t, []Permission{PermissionWrite}, grant.Permissions())
	})
}

func TestRefreshDue(t *testing.T) {
	assert.True(t, refreshDue(7, 0))
	assert.True(t, refreshDue(7, 1))
	assert.False(t, refreshDue(7, 5))
	assert.True(t, refreshDue(10, 5))
}
