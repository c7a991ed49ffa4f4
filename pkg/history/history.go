// Package history serves read-only views of earlier and later log versions.
// It never appends to the log and never changes version numbering.
package history

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"doc-sync/pkg/db"
	"doc-sync/pkg/errdefs"
)

var (
	ErrNothingToUndo = fmt.Errorf("nothing to undo: %w", errdefs.ErrNotFound)
	ErrNothingToRedo = fmt.Errorf("nothing to redo: %w", errdefs.ErrNotFound)
)

// View is a historical version addressed to a single requester.
type View struct {
	DocumentID string
	Content    db.Content
	Version    int
}

type entryReader interface {
	GetLogEntry(ctx context.Context, documentID string, version int) (*db.LogEntry, error)
}

// Controller walks adjacent log versions.
type Controller struct {
	store  entryReader
	logger *zap.SugaredLogger
}

// NewController creates an undo/redo controller
func NewController(store entryReader, logger *zap.SugaredLogger) *Controller {
	return &Controller{store: store, logger: logger}
}

// Undo returns the version before fromVersion.
func (c *Controller) Undo(ctx context.Context, documentID string, fromVersion int) (View, error) {
	return c.view(ctx, documentID, fromVersion-1, ErrNothingToUndo)
}

// Redo returns the version after fromVersion.
func (c *Controller) Redo(ctx context.Context, documentID string, fromVersion int) (View, error) {
	return c.view(ctx, documentID, fromVersion+1, ErrNothingToRedo)
}

func (c *Controller) view(ctx context.Context, documentID string, version int, absent error) (View, error) {
	if version < 1 {
		return View{}, absent
	}

	entry, err := c.store.GetLogEntry(ctx, documentID, version)
	if err != nil {
		if errors.Is(err, db.ErrLogEntryNotFound) {
			return View{}, absent
		}
		return View{}, fmt.Errorf("failed to read version %d of %s: %w", version, documentID, err)
	}

	c.logger.Debugw("Serving history view", "document_id", documentID, "version", version)
	return View{DocumentID: documentID, Content: entry.Content, Version: entry.Version}, nil
}
