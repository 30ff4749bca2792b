// Package contextstore defines the port for durable story context documents.
package contextstore

import (
	"context"

	"github.com/Strob0t/phasegate/internal/domain/story"
)

// Revision identifies one persisted version of a document. Zero means the
// document does not exist yet.
type Revision uint64

// Store loads and saves context documents with compare-and-swap semantics.
type Store interface {
	// Load returns the document and its current revision. It fails with
	// domain.ErrNotFound when the story has no document.
	Load(ctx context.Context, storyID string) (*story.Document, Revision, error)

	// Save writes doc only if the persisted revision still equals expected.
	// An expected revision of zero creates the document and fails if it
	// already exists. A mismatch fails with domain.ErrStaleWrite.
	Save(ctx context.Context, doc *story.Document, expected Revision) (Revision, error)

	// List returns all story ids in ascending order.
	List(ctx context.Context) ([]string, error)
}
