package db

import "context"

// createTables creates the documents, operation log and grant tables if they don't exist
func (s *PostgresDocumentStore) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR(36) PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		owner VARCHAR(255) NOT NULL,
		content JSONB NOT NULL DEFAULT '{"blocks":[]}',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner);
	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS operation_logs (
		id BIGSERIAL PRIMARY KEY,
		document_id VARCHAR(36) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		operation VARCHAR(32) NOT NULL,
		position INTEGER,
		content JSONB NOT NULL,
		block_id VARCHAR(255) NOT NULL DEFAULT '',
		content_type VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (document_id, version)
	);

	CREATE TABLE IF NOT EXISTS access_grants (
		document_id VARCHAR(36) PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
		token VARCHAR(64) NOT NULL UNIQUE,
		can_read BOOLEAN NOT NULL DEFAULT FALSE,
		can_write BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}
