// Package memory provides in-process implementations of the context store
// and event store ports.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
)

type entry struct {
	data []byte
	rev  contextstore.Revision
}

// Store keeps documents in memory. Documents are held in encoded form so
// callers never share state with the store.
type Store struct {
	mu   sync.Mutex
	docs map[string]entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{docs: make(map[string]entry)}
}

// Load implements contextstore.Store.
func (s *Store) Load(_ context.Context, storyID string) (*story.Document, contextstore.Revision, error) {
	s.mu.Lock()
	e, ok := s.docs[storyID]
	s.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("story %s: %w", storyID, domain.ErrNotFound)
	}
	var doc story.Document
	if err := json.Unmarshal(e.data, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode story %s: %w", storyID, err)
	}
	return &doc, e.rev, nil
}

// Save implements contextstore.Store.
func (s *Store) Save(_ context.Context, doc *story.Document, expected contextstore.Revision) (contextstore.Revision, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode story %s: %w", doc.StoryID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.docs[doc.StoryID]
	if cur.rev != expected {
		return 0, fmt.Errorf("story %s at revision %d, expected %d: %w", doc.StoryID, cur.rev, expected, domain.ErrStaleWrite)
	}
	next := cur.rev + 1
	s.docs[doc.StoryID] = entry{data: data, rev: next}
	return next, nil
}

// List implements contextstore.Store.
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
