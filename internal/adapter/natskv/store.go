package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
)

// Store implements contextstore.Store on a KV bucket. The KV entry revision
// is the document revision; Create and Update provide the compare-and-swap.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore returns a store over kv. The bucket should keep entries forever.
func NewStore(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

func (s *Store) Load(ctx context.Context, storyID string) (*story.Document, contextstore.Revision, error) {
	if err := checkKey(storyID); err != nil {
		return nil, 0, err
	}
	entry, err := s.kv.Get(ctx, storyID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("story %s: %w", storyID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load story %s: %w", storyID, err)
	}
	var doc story.Document
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, 0, fmt.Errorf("decode story %s: %w", storyID, err)
	}
	return &doc, contextstore.Revision(entry.Revision()), nil
}

func (s *Store) Save(ctx context.Context, doc *story.Document, expected contextstore.Revision) (contextstore.Revision, error) {
	if err := checkKey(doc.StoryID); err != nil {
		return 0, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode story %s: %w", doc.StoryID, err)
	}

	var rev uint64
	if expected == 0 {
		rev, err = s.kv.Create(ctx, doc.StoryID, data)
	} else {
		rev, err = s.kv.Update(ctx, doc.StoryID, data, uint64(expected))
	}
	if isWrongRevision(err) {
		return 0, fmt.Errorf("save story %s at revision %d: %w", doc.StoryID, expected, domain.ErrStaleWrite)
	}
	if err != nil {
		return 0, fmt.Errorf("save story %s: %w", doc.StoryID, err)
	}
	return contextstore.Revision(rev), nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	ids := []string{}
	for key := range lister.Keys() {
		ids = append(ids, key)
	}
	slices.Sort(ids)
	return ids, nil
}

func isWrongRevision(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
