package oplog

import (
	"context"
	"errors"
	"fmt"

	"github.com/EagleChen/mapmutex"
	"go.uber.org/zap"

	"doc-sync/pkg/db"
	"doc-sync/pkg/diff"
	"doc-sync/pkg/errdefs"
	"doc-sync/pkg/metrics"
)

// Config tunes the log.
type Config struct {
	// LockMaxRetry bounds how often a writer retries the per-document lock
	// before giving up with a concurrency error.
	LockMaxRetry int
	// RefreshEvery rewrites the document row snapshot every N versions.
	RefreshEvery int
}

// Change is an operation ready to be appended.
type Change struct {
	Kind        db.OperationKind
	Position    *int
	Content     db.Content
	BlockID     string
	ContentType string
}

// SubmitOptions overrides the classification computed by the diff engine.
type SubmitOptions struct {
	Kind     db.OperationKind
	Position *int
}

// CommitHook runs under the document lock after an entry is committed.
type CommitHook func(entry *db.LogEntry)

// Log is the append-only, per-document versioned history. All appends for a
// document go through one lock so versions are totally ordered and gap free.
type Log struct {
	store        db.ILogStore
	materializer *Materializer
	locks        *mapmutex.Mutex
	refreshEvery int
	onCommit     CommitHook
	logger       *zap.SugaredLogger
}

// New creates a log. Lock retry backoff follows mapmutex defaults (10ns base,
// 100ms cap, factor 1.1, jitter 0.2).
func New(store db.ILogStore, materializer *Materializer, cfg Config, logger *zap.SugaredLogger) *Log {
	retries := cfg.LockMaxRetry
	if retries <= 0 {
		retries = 200
	}
	return &Log{
		store:        store,
		materializer: materializer,
		locks:        mapmutex.NewCustomizedMapMutex(retries, 100000000, 10, 1.1, 0.2),
		refreshEvery: cfg.RefreshEvery,
		logger:       logger,
	}
}

// OnCommit installs the hook called after every successful append. It must be
// set before the log is shared between goroutines.
func (l *Log) OnCommit(hook CommitHook) {
	l.onCommit = hook
}

// Materializer returns the view kept in sync with this log.
func (l *Log) Materializer() *Materializer {
	return l.materializer
}

// Append writes change as the next version of documentID.
func (l *Log) Append(ctx context.Context, documentID string, change Change) (*db.LogEntry, error) {
	if !change.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown operation kind %q", errdefs.ErrMalformedInput, change.Kind)
	}
	if err := l.lock(documentID); err != nil {
		return nil, err
	}
	defer l.locks.Unlock(documentID)

	return l.appendLocked(ctx, documentID, change)
}

// Submit diffs next against the latest version of documentID and appends the
// result. changed is false when next equals the latest snapshot.
func (l *Log) Submit(ctx context.Context, documentID string, next db.Content, opts SubmitOptions) (entry *db.LogEntry, changed bool, err error) {
	if err := l.lock(documentID); err != nil {
		return nil, false, err
	}
	defer l.locks.Unlock(documentID)

	var previous *db.Content
	latest, err := l.store.LatestLogEntry(ctx, documentID)
	switch {
	case err == nil:
		previous = &latest.Content
	case !errors.Is(err, db.ErrLogEntryNotFound):
		l.failed(documentID, err)
		return nil, false, fmt.Errorf("%w: read latest version of %s: %v", errdefs.ErrConcurrency, documentID, err)
	}

	res, ok := diff.Diff(previous, next)
	if !ok {
		return nil, false, nil
	}

	change := Change{
		Kind:        res.Kind,
		Position:    &res.Position,
		Content:     next,
		BlockID:     res.BlockID,
		ContentType: res.ContentType,
	}
	if opts.Kind != "" {
		change.Kind = opts.Kind
	}
	if opts.Position != nil {
		change.Position = opts.Position
	}

	entry, err = l.appendLocked(ctx, documentID, change)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (l *Log) lock(documentID string) error {
	if l.locks.TryLock(documentID) {
		return nil
	}
	err := fmt.Errorf("%w: timed out waiting for document %s", errdefs.ErrConcurrency, documentID)
	l.failed(documentID, err)
	return err
}

func (l *Log) appendLocked(ctx context.Context, documentID string, change Change) (*db.LogEntry, error) {
	entry, err := l.store.AppendLogEntry(ctx, &db.LogEntry{
		DocumentID:  documentID,
		Kind:        change.Kind,
		Position:    change.Position,
		Content:     change.Content,
		BlockID:     change.BlockID,
		ContentType: change.ContentType,
	}, db.AppendOptions{RefreshEvery: l.refreshEvery})
	if err != nil {
		l.failed(documentID, err)
		if errors.Is(err, errdefs.ErrNotFound) || errors.Is(err, errdefs.ErrConcurrency) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: append to %s: %v", errdefs.ErrConcurrency, documentID, err)
	}

	l.materializer.update(State{DocumentID: documentID, Content: entry.Content, Version: entry.Version})
	metrics.LogAppends.WithLabelValues(string(entry.Kind)).Inc()
	l.logger.Debugw("Appended log entry", "document_id", documentID, "version", entry.Version, "kind", entry.Kind)

	if l.onCommit != nil {
		l.onCommit(entry)
	}
	return entry, nil
}

func (l *Log) failed(documentID string, err error) {
	metrics.AppendFailures.WithLabelValues(errdefs.Kind(err)).Inc()
	l.logger.Errorw("Log append failed", "event", "append_failed", "document_id", documentID, "error", err)
}
