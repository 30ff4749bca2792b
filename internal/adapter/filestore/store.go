// Package filestore persists context documents as one JSON file per story,
// by default under .phase-context/<storyId>.json.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/story"
	"github.com/Strob0t/phasegate/internal/port/contextstore"
)

const ext = ".json"

// record is the on-disk form: the document fields plus a revision counter.
type record struct {
	story.Document
	Revision uint64 `json:"revision"`
}

// Store is a directory of story documents. Writes take an exclusive flock
// on a per-story lock file and replace the document with an atomic rename.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create context dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(storyID string) (string, error) {
	if storyID == "" || storyID == "." || storyID == ".." || strings.ContainsAny(storyID, `/\`) {
		return "", fmt.Errorf("%w: story id %q is not a valid file name", domain.ErrValidation, storyID)
	}
	return filepath.Join(s.dir, storyID+ext), nil
}

// Load implements contextstore.Store.
func (s *Store) Load(_ context.Context, storyID string) (*story.Document, contextstore.Revision, error) {
	path, err := s.path(storyID)
	if err != nil {
		return nil, 0, err
	}
	rec, err := readRecord(path)
	if err != nil {
		return nil, 0, err
	}
	if rec == nil {
		return nil, 0, fmt.Errorf("story %s: %w", storyID, domain.ErrNotFound)
	}
	return &rec.Document, contextstore.Revision(rec.Revision), nil
}

// Save implements contextstore.Store.
func (s *Store) Save(ctx context.Context, doc *story.Document, expected contextstore.Revision) (contextstore.Revision, error) {
	path, err := s.path(doc.StoryID)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open lock for story %s: %w", doc.StoryID, err)
	}
	defer lock.Close()
	if err := lockFile(lock); err != nil {
		return 0, fmt.Errorf("lock story %s: %w", doc.StoryID, err)
	}
	defer func() { _ = unlockFile(lock) }()

	cur, err := readRecord(path)
	if err != nil {
		return 0, err
	}
	var curRev uint64
	if cur != nil {
		curRev = cur.Revision
	}
	if curRev != uint64(expected) {
		return 0, fmt.Errorf("story %s at revision %d, expected %d: %w", doc.StoryID, curRev, expected, domain.ErrStaleWrite)
	}

	next := record{Document: *doc, Revision: curRev + 1}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode story %s: %w", doc.StoryID, err)
	}
	if err := writeAtomic(path, append(data, '\n')); err != nil {
		return 0, fmt.Errorf("write story %s: %w", doc.StoryID, err)
	}
	return contextstore.Revision(next.Revision), nil
}

// List implements contextstore.Store.
func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	slices.Sort(ids)
	return ids, nil
}

// readRecord returns nil, nil when the file does not exist.
func readRecord(path string) (*record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &rec, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
