package db

import (
	"context"
	"fmt"
	"time"

	"doc-sync/pkg/errdefs"
)

var (
	ErrDocumentNotFound = fmt.Errorf("document %w", errdefs.ErrNotFound)
	ErrLogEntryNotFound = fmt.Errorf("log entry %w", errdefs.ErrNotFound)
	ErrGrantNotFound    = fmt.Errorf("access grant %w", errdefs.ErrNotFound)
)

// Document represents a document in the collaborative editor
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Owner     string    `json:"owner"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// OperationKind classifies a log entry.
type OperationKind string

const (
	OpInsert      OperationKind = "insert"
	OpDelete      OperationKind = "delete"
	OpUndo        OperationKind = "undo"
	OpRedo        OperationKind = "redo"
	OpImageInsert OperationKind = "image_insert"
	OpImageDelete OperationKind = "image_delete"
)

// Valid reports whether k is one of the known kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OpInsert, OpDelete, OpUndo, OpRedo, OpImageInsert, OpImageDelete:
		return true
	}
	return false
}

// LogEntry is one immutable version of a document. Content is the full
// snapshot after the operation was applied.
type LogEntry struct {
	DocumentID  string        `json:"document_id"`
	Version     int           `json:"version"`
	Kind        OperationKind `json:"operation"`
	Position    *int          `json:"position,omitempty"`
	Content     Content       `json:"content"`
	BlockID     string        `json:"block_id,omitempty"`
	ContentType string        `json:"content_type,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Permission is a shared-link capability.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// AccessGrant maps an opaque shared token to permissions on one document.
type AccessGrant struct {
	DocumentID string    `json:"document_id"`
	Token      string    `json:"token"`
	CanRead    bool      `json:"can_read"`
	CanWrite   bool      `json:"can_write"`
	CreatedAt  time.Time `json:"created_at"`
}

// Permissions lists the granted permissions.
func (g *AccessGrant) Permissions() []Permission {
	var out []Permission
	if g.CanRead {
		out = append(out, PermissionRead)
	}
	if g.CanWrite {
		out = append(out, PermissionWrite)
	}
	return out
}

// AppendOptions controls a single log append.
type AppendOptions struct {
	// RefreshSnapshot also rewrites the document row's cached content/version
	// for every RefreshEvery-th version. Zero or one refreshes on every append.
	RefreshEvery int
}

// IDocumentStore interface for document persistence
type IDocumentStore interface {
	CreateDocument(ctx context.Context, owner, title string, content Content) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	// UpdateDocument applies partial updates. Use pointer fields in DocumentUpdate
	// to indicate which fields should be modified.
	UpdateDocument(ctx context.Context, id string, updates *DocumentUpdate) (*Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, owner string) ([]*Document, error)
}

// DocumentUpdate represents partial updates to a document. Pointer fields
// allow distinguishing between "not provided" (nil) and "set to empty".
type DocumentUpdate struct {
	Title *string `json:"title,omitempty"`
}

// ILogStore persists the operational log.
type ILogStore interface {
	// AppendLogEntry assigns entry.Version = latest+1 inside one transaction
	// that locks the document, and returns the committed entry.
	AppendLogEntry(ctx context.Context, entry *LogEntry, opts AppendOptions) (*LogEntry, error)
	GetLogEntry(ctx context.Context, documentID string, version int) (*LogEntry, error)
	// LatestLogEntry returns ErrLogEntryNotFound when the document has no history.
	LatestLogEntry(ctx context.Context, documentID string) (*LogEntry, error)
	ListLogEntries(ctx context.Context, documentID string) ([]*LogEntry, error)
}

// IGrantStore persists shared-link grants.
type IGrantStore interface {
	// ReplaceGrant deletes any grant for grant.DocumentID and stores grant.
	ReplaceGrant(ctx context.Context, grant *AccessGrant) error
	GetGrantByToken(ctx context.Context, token string) (*AccessGrant, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	IDocumentStore
	ILogStore
	IGrantStore
	Ping(ctx context.Context) error
	Close() error
}
