package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
)

// Store implements contextstore.Store using PostgreSQL. The version column
// is the document revision.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Load(ctx context.Context, storyID string) (*story.Document, contextstore.Revision, error) {
	var (
		data    []byte
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT document, version FROM story_contexts WHERE story_id = $1`, storyID).Scan(&data, &version)
	if err != nil {
		return nil, 0, notFoundWrap(err, "load story %s", storyID)
	}
	var doc story.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode story %s: %w", storyID, err)
	}
	return &doc, contextstore.Revision(version), nil
}

func (s *Store) Save(ctx context.Context, doc *story.Document, expected contextstore.Revision) (contextstore.Revision, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode story %s: %w", doc.StoryID, err)
	}

	if expected == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO story_contexts (story_id, document, version) VALUES ($1, $2, 1)
			 ON CONFLICT (story_id) DO NOTHING`, doc.StoryID, data)
		if err != nil {
			return 0, fmt.Errorf("create story %s: %w", doc.StoryID, err)
		}
		if tag.RowsAffected() == 0 {
			return 0, fmt.Errorf("create story %s: already exists: %w", doc.StoryID, domain.ErrStaleWrite)
		}
		return 1, nil
	}

	var version int64
	err = s.pool.QueryRow(ctx,
		`UPDATE story_contexts SET document = $2, version = version + 1, updated_at = now()
		 WHERE story_id = $1 AND version = $3
		 RETURNING version`, doc.StoryID, data, int64(expected)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("update story %s at revision %d: %w", doc.StoryID, expected, domain.ErrStaleWrite)
	}
	if err != nil {
		return 0, fmt.Errorf("update story %s: %w", doc.StoryID, err)
	}
	return contextstore.Revision(version), nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT story_id FROM story_contexts ORDER BY story_id`)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return orEmpty(ids), nil
}
