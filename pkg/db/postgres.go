package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"doc-sync/pkg/errdefs"
)

// Postgres error codes that mean "another writer got there first".
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqLockNotAvailable     = "55P03"
)

// PostgresDocumentStore implements Store using PostgreSQL
type PostgresDocumentStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresDocumentStore creates a new PostgreSQL document store
func NewPostgresDocumentStore(ctx context.Context, connStr string, lockTimeout time.Duration) (*PostgresDocumentStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresDocumentStore{db: db, lockTimeout: lockTimeout}

	if err := store.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// Ping checks the database connection
func (s *PostgresDocumentStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresDocumentStore) Close() error {
	return s.db.Close()
}

const documentColumns = `id, title, owner, content, created_at, updated_at, version`

func scanDocument(row interface{ Scan(...interface{}) error }) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Owner,
		&doc.Content,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&doc.Version,
	)
	return doc, err
}

func (s *PostgresDocumentStore) CreateDocument(ctx context.Context, owner, title string, content Content) (*Document, error) {
	id := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO documents (id, title, owner, content, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + documentColumns

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id, title, owner, content, now, now, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return doc, nil
}

func (s *PostgresDocumentStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

func (s *PostgresDocumentStore) UpdateDocument(ctx context.Context, id string, updates *DocumentUpdate) (*Document, error) {
	if updates == nil || updates.Title == nil {
		return s.GetDocument(ctx, id)
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE documents SET title = $1, updated_at = NOW() WHERE id = $2 RETURNING `+documentColumns,
		*updates.Title, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rename document %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresDocumentStore) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrDocumentNotFound
	}

	return nil
}

func (s *PostgresDocumentStore) ListDocuments(ctx context.Context, owner string) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE owner = $1 ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var documents []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		documents = append(documents, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return documents, nil
}

// AppendLogEntry locks the document row, computes the next version and inserts
// the entry in a single transaction. Nothing is committed on error.
func (s *PostgresDocumentStore) AppendLogEntry(ctx context.Context, entry *LogEntry, opts AppendOptions) (*LogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if s.lockTimeout > 0 {
		ms := s.lockTimeout.Milliseconds()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
			return nil, classify(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, entry.DocumentID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, classify(fmt.Errorf("failed to lock document: %w", err))
	}

	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM operation_logs WHERE document_id = $1`,
		entry.DocumentID,
	).Scan(&latest)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read latest version: %w", err))
	}

	committed := *entry
	committed.Version = latest + 1
	committed.CreatedAt = time.Now()

	var position sql.NullInt64
	if committed.Position != nil {
		position = sql.NullInt64{Int64: int64(*committed.Position), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO operation_logs (document_id, version, operation, position, content, block_id, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, committed.DocumentID, committed.Version, string(committed.Kind), position, committed.Content,
		committed.BlockID, committed.ContentType, committed.CreatedAt)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to insert log entry: %w", err))
	}

	if refreshDue(committed.Version, opts.RefreshEvery) {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET content = $1, version = $2, updated_at = $3 WHERE id = $4`,
			committed.Content, committed.Version, committed.CreatedAt, committed.DocumentID,
		)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to refresh document snapshot: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(fmt.Errorf("failed to commit log entry: %w", err))
	}

	return &committed, nil
}

const logEntryColumns = `document_id, version, operation, position, content, block_id, content_type, created_at`

func scanLogEntry(row interface{ Scan(...interface{}) error }) (*LogEntry, error) {
	entry := &LogEntry{}
	var kind string
	var position sql.NullInt64
	err := row.Scan(
		&entry.DocumentID,
		&entry.Version,
		&kind,
		&position,
		&entry.Content,
		&entry.BlockID,
		&entry.ContentType,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Kind = OperationKind(kind)
	if position.Valid {
		p := int(position.Int64)
		entry.Position = &p
	}
	return entry, nil
}

func (s *PostgresDocumentStore) GetLogEntry(ctx context.Context, documentID string, version int) (*LogEntry, error) {
	query := `SELECT ` + logEntryColumns + ` FROM operation_logs WHERE document_id = $1 AND version = $2`

	entry, err := scanLogEntry(s.db.QueryRowContext(ctx, query, documentID, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogEntryNotFound
		}
		return nil, fmt.Errorf("failed to get log entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresDocumentStore) LatestLogEntry(ctx context.Context, documentID string) (*LogEntry, error) {
	query := `SELECT ` + logEntryColumns + ` FROM operation_logs WHERE document_id = $1 ORDER BY version DESC LIMIT 1`

	entry, err := scanLogEntry(s.db.QueryRowContext(ctx, query, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogEntryNotFound
		}
		return nil, fmt.Errorf("failed to get latest log entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresDocumentStore) ListLogEntries(ctx context.Context, documentID string) ([]*LogEntry, error) {
	query := `SELECT ` + logEntryColumns + ` FROM operation_logs WHERE document_id = $1 ORDER BY version ASC`

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		entry, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return entries, nil
}

func (s *PostgresDocumentStore) ReplaceGrant(ctx context.Context, grant *AccessGrant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM access_grants WHERE document_id = $1`, grant.DocumentID); err != nil {
		return fmt.Errorf("failed to delete previous grant: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_grants (document_id, token, can_read, can_write, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, grant.DocumentID, grant.Token, grant.CanRead, grant.CanWrite, grant.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("failed to insert grant: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresDocumentStore) GetGrantByToken(ctx context.Context, token string) (*AccessGrant, error) {
	grant := &AccessGrant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, token, can_read, can_write, created_at
		FROM access_grants
		WHERE token = $1
	`, token).Scan(&grant.DocumentID, &grant.Token, &grant.CanRead, &grant.CanWrite, &grant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return grant, nil
}

// classify marks contention failures as concurrency errors so callers can
// report them to the writer.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation, pqSerializationFailure, pqLockNotAvailable:
			return fmt.Errorf("%w: %v", errdefs.ErrConcurrency, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errdefs.ErrConcurrency, err)
	}
	return err
}

func refreshDue(version, every int) bool {
	if every <= 1 {
		return true
	}
	return version%every == 0
}

// Compile-time check to ensure PostgresDocumentStore implements Store interface
var _ Store = (*PostgresDocumentStore)(nil)
