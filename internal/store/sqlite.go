package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/jsoncodec"
	"github.com/ngqkhai/script-generator/internal/logging"
	"github.com/ngqkhai/script-generator/internal/script"
)

const schema = `
CREATE TABLE IF NOT EXISTS scripts (
	id         TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_scripts_created_at ON scripts (created_at);
`

type sqliteStore struct {
	db  *sql.DB
	log logging.ServiceLogger
}

// OpenSQLite opens (or creates) the document database at path. Use ":memory:"
// for tests.
func OpenSQLite(path string, log logging.ServiceLogger) (DocumentStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	log.Info("document store ready", logging.LogFields{"path": path})
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Insert(ctx context.Context, doc script.Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	body, err := jsoncodec.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scripts (id, body, created_at) VALUES (?, ?, ?)`,
		doc.ID, string(body), doc.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return doc.ID, nil
}

func (s *sqliteStore) Find(ctx context.Context, id string) (script.Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM scripts WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return script.Document{}, errs.ErrNotFound
	}
	if err != nil {
		return script.Document{}, fmt.Errorf("find document %s: %w", id, err)
	}

	var doc script.Document
	if err := jsoncodec.Unmarshal([]byte(body), &doc); err != nil {
		return script.Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	doc.ID = id
	return doc, nil
}

func (s *sqliteStore) Update(ctx context.Context, id string, patch script.Patch) (bool, error) {
	doc, err := s.Find(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if patch.Scenes != nil {
		doc.Scenes = patch.Scenes
	}
	if patch.Metadata != nil {
		doc.Metadata = *patch.Metadata
	}
	now := time.Now().UTC()
	doc.UpdatedAt = &now

	body, err := jsoncodec.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encode document: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE scripts SET body = ?, updated_at = ? WHERE id = ?`,
		string(body), now, id)
	if err != nil {
		return false, fmt.Errorf("update document %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *sqliteStore) List(ctx context.Context, search string, skip, limit int) ([]script.Document, error) {
	if limit <= 0 {
		limit = 10
	}
	if skip < 0 {
		skip = 0
	}

	query := `SELECT id, body FROM scripts ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args := []any{limit, skip}
	if search != "" {
		query = `SELECT id, body FROM scripts WHERE body LIKE ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		args = []any{"%" + search + "%", limit, skip}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []script.Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var doc script.Document
		if err := jsoncodec.Unmarshal([]byte(body), &doc); err != nil {
			s.log.Error("skipping undecodable document", err, logging.LogFields{"id": id})
			continue
		}
		doc.ID = id
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
