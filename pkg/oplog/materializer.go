package oplog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"doc-sync/pkg/db"
)

// State is the materialized view of a document: its current snapshot and version.
type State struct {
	DocumentID string
	Content    db.Content
	Version    int
}

type materializerStore interface {
	GetDocument(ctx context.Context, id string) (*db.Document, error)
	LatestLogEntry(ctx context.Context, documentID string) (*db.LogEntry, error)
}

// Materializer holds the current snapshot and version per document. Entries
// expire after the configured TTL and are rebuilt from the log on next read.
type Materializer struct {
	store  materializerStore
	cache  *cache.Cache
	mu     sync.Mutex // serializes compare-and-set on cache entries
	logger *zap.SugaredLogger
}

// NewMaterializer creates a materializer backed by store
func NewMaterializer(store materializerStore, ttl time.Duration, logger *zap.SugaredLogger) *Materializer {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Materializer{
		store:  store,
		cache:  cache.New(ttl, 10*time.Minute),
		logger: logger,
	}
}

// Current returns the materialized state of documentID, rebuilding it when
// it is not cached. The latest log entry wins over the document row.
func (m *Materializer) Current(ctx context.Context, documentID string) (State, error) {
	if cached, ok := m.cache.Get(documentID); ok {
		return clone(cached.(State)), nil
	}

	state, err := m.rebuild(ctx, documentID)
	if err != nil {
		return State{}, err
	}
	m.update(state)
	return clone(state), nil
}

func (m *Materializer) rebuild(ctx context.Context, documentID string) (State, error) {
	entry, err := m.store.LatestLogEntry(ctx, documentID)
	switch {
	case err == nil:
		m.logger.Debugw("Rebuilt materialized view from log", "document_id", documentID, "version", entry.Version)
		return State{DocumentID: documentID, Content: entry.Content, Version: entry.Version}, nil
	case !errors.Is(err, db.ErrLogEntryNotFound):
		return State{}, fmt.Errorf("failed to read latest log entry: %w", err)
	}

	doc, err := m.store.GetDocument(ctx, documentID)
	if err != nil {
		return State{}, err
	}
	m.logger.Debugw("Rebuilt materialized view from document row", "document_id", documentID, "version", doc.Version)
	return State{DocumentID: documentID, Content: doc.Content, Version: doc.Version}, nil
}

// update stores state unless a newer version is already cached.
func (m *Materializer) update(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cached, ok := m.cache.Get(state.DocumentID); ok && cached.(State).Version > state.Version {
		return
	}
	m.cache.SetDefault(state.DocumentID, clone(state))
}

// Evict drops the cached view of documentID.
func (m *Materializer) Evict(documentID string) {
	m.cache.Delete(documentID)
}

func clone(s State) State {
	s.Content = s.Content.Clone()
	return s
}
