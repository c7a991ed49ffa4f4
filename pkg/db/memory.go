package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDocumentStore is an in-process Store used for development and tests.
// The single mutex plays the role of the row lock taken by the Postgres store.
type MemoryDocumentStore struct {
	mu        sync.Mutex
	documents map[string]*Document
	logs      map[string][]*LogEntry
	grants    map[string]*AccessGrant // by document id
}

// NewMemoryDocumentStore creates an empty in-memory store
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		documents: make(map[string]*Document),
		logs:      make(map[string][]*LogEntry),
		grants:    make(map[string]*AccessGrant),
	}
}

func copyDocument(doc *Document) *Document {
	out := *doc
	out.Content = doc.Content.Clone()
	return &out
}

func copyLogEntry(entry *LogEntry) *LogEntry {
	out := *entry
	out.Content = entry.Content.Clone()
	if entry.Position != nil {
		p := *entry.Position
		out.Position = &p
	}
	return &out
}

func (s *MemoryDocumentStore) CreateDocument(_ context.Context, owner, title string, content Content) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	doc := &Document{
		ID:        uuid.New().String(),
		Title:     title,
		Owner:     owner,
		Content:   content.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	s.documents[doc.ID] = doc
	return copyDocument(doc), nil
}

func (s *MemoryDocumentStore) GetDocument(_ context.Context, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return copyDocument(doc), nil
}

func (s *MemoryDocumentStore) UpdateDocument(_ context.Context, id string, updates *DocumentUpdate) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	if updates != nil && updates.Title != nil {
		doc.Title = *updates.Title
		doc.UpdatedAt = time.Now()
	}
	return copyDocument(doc), nil
}

func (s *MemoryDocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(s.documents, id)
	delete(s.logs, id)
	delete(s.grants, id)
	return nil
}

func (s *MemoryDocumentStore) ListDocuments(_ context.Context, owner string) ([]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var documents []*Document
	for _, doc := range s.documents {
		if doc.Owner == owner {
			documents = append(documents, copyDocument(doc))
		}
	}
	sort.Slice(documents, func(i, j int) bool {
		return documents[i].UpdatedAt.After(documents[j].UpdatedAt)
	})
	return documents, nil
}

func (s *MemoryDocumentStore) AppendLogEntry(ctx context.Context, entry *LogEntry, opts AppendOptions) (*LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[entry.DocumentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}

	committed := copyLogEntry(entry)
	committed.Version = len(s.logs[entry.DocumentID]) + 1
	committed.CreatedAt = time.Now()
	s.logs[entry.DocumentID] = append(s.logs[entry.DocumentID], committed)

	if refreshDue(committed.Version, opts.RefreshEvery) {
		doc.Content = committed.Content.Clone()
		doc.Version = committed.Version
		doc.UpdatedAt = committed.CreatedAt
	}

	return copyLogEntry(committed), nil
}

func (s *MemoryDocumentStore) GetLogEntry(_ context.Context, documentID string, version int) (*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.logs[documentID]
	if version < 1 || version > len(entries) {
		return nil, ErrLogEntryNotFound
	}
	return copyLogEntry(entries[version-1]), nil
}

func (s *MemoryDocumentStore) LatestLogEntry(_ context.Context, documentID string) (*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.logs[documentID]
	if len(entries) == 0 {
		return nil, ErrLogEntryNotFound
	}
	return copyLogEntry(entries[len(entries)-1]), nil
}

func (s *MemoryDocumentStore) ListLogEntries(_ context.Context, documentID string) ([]*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*LogEntry, 0, len(s.logs[documentID]))
	for _, entry := range s.logs[documentID] {
		entries = append(entries, copyLogEntry(entry))
	}
	return entries, nil
}

func (s *MemoryDocumentStore) ReplaceGrant(_ context.Context, grant *AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[grant.DocumentID]; !ok {
		return ErrDocumentNotFound
	}
	g := *grant
	s.grants[grant.DocumentID] = &g
	return nil
}

func (s *MemoryDocumentStore) GetGrantByToken(_ context.Context, token string) (*AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, grant := range s.grants {
		if grant.Token == token {
			g := *grant
			return &g, nil
		}
	}
	return nil, ErrGrantNotFound
}

// Ping always succeeds
func (s *MemoryDocumentStore) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *MemoryDocumentStore) Close() error { return nil }

var _ Store = (*MemoryDocumentStore)(nil)
