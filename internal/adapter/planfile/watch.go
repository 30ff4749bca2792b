package planfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/Strob0t/phasegate/internal/domain/plan"
)

// Invalidator drops whatever is cached for a story's plan.
type Invalidator interface {
	Invalidate(ctx context.Context, storyID string) error
}

// Watcher invalidates cached plans when their files change under the plan
// directory. It follows the same layouts Provider reads: top-level
// <storyId>.<ext> files and <storyId>/plan.<ext>.
type Watcher struct {
	dir  string
	fsw  *fsnotify.Watcher
	inv  Invalidator
	done chan struct{}
}

// Watch starts watching dir and its story subdirectories.
func Watch(dir string, inv Invalidator) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("plan watcher: %w", err)
	}
	dir = filepath.Clean(dir)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch plan dir %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("read plan dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fsw.Add(filepath.Join(dir, e.Name())); err != nil {
				slog.Warn("plan watcher: skipping story dir", "dir", e.Name(), "error", err)
			}
		}
	}

	w := &Watcher{dir: dir, fsw: fsw, inv: inv, done: make(chan struct{})}
	go w.loop()
	slog.Info("watching plans", "dir", dir)
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("plan watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == w.dir {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				slog.Warn("plan watcher: skipping story dir", "dir", ev.Name, "error", err)
			}
			return
		}
	}

	storyID, ok := storyForPath(w.dir, ev.Name)
	if !ok {
		return
	}
	if err := w.inv.Invalidate(context.Background(), storyID); err != nil {
		slog.Warn("plan invalidation failed", "story_id", storyID, "error", err)
		return
	}
	slog.Debug("plan invalidated", "story_id", storyID, "op", ev.Op.String())
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

// storyForPath maps a changed file to the story whose plan it holds.
func storyForPath(dir, path string) (string, bool) {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch len(parts) {
	case 1:
		ext := filepath.Ext(parts[0])
		id := strings.TrimSuffix(parts[0], ext)
		if id == "" || !slices.Contains(plan.Extensions, ext) {
			return "", false
		}
		return id, true
	case 2:
		for _, ext := range plan.Extensions {
			if parts[1] == "plan"+ext && parts[0] != ".." {
				return parts[0], true
			}
		}
	}
	return "", false
}
