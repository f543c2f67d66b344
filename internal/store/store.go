// Package store persists generated script documents. The pipeline and the
// REST surface only see the DocumentStore interface; the SQLite implementation
// lives behind it so tests can substitute a fake.
package store

import (
	"context"

	"github.com/ngqkhai/script-generator/internal/script"
)

// DocumentStore is the persistence contract for script documents. All
// mutations are single-document writes keyed by id, so the client may be
// shared across concurrent jobs.
type DocumentStore interface {
	// Insert stores the document and returns its id (generated when empty).
	Insert(ctx context.Context, doc script.Document) (string, error)
	// Find returns the document or ErrNotFound.
	Find(ctx context.Context, id string) (script.Document, error)
	// Update applies the patch; false means no document matched.
	Update(ctx context.Context, id string, patch script.Patch) (bool, error)
	// Delete removes the document; false means no document matched.
	Delete(ctx context.Context, id string) (bool, error)
	// List returns documents matching the search term (empty matches all),
	// newest first, honouring skip and limit.
	List(ctx context.Context, search string, skip, limit int) ([]script.Document, error)
	Close() error
}
