// Package fsprobe implements artifactprobe.Prober by stat-ing declared
// deliverables under a workspace root.
package fsprobe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain/artifact"
	"github.com/Strob0t/phasegate/internal/domain/plan"
)

// Prober resolves deliverable ids as paths relative to root.
type Prober struct {
	root string
}

// New returns a prober for the workspace at root.
func New(root string) *Prober {
	return &Prober{root: root}
}

// ListExisting implements artifactprobe.Prober. A file's size is its byte
// length; a directory's size is its entry count. Paths escaping the root are
// treated as missing.
func (p *Prober) ListExisting(ctx context.Context, _ string, pp plan.PhasePlan) ([]artifact.Artifact, error) {
	var found []artifact.Artifact
	for _, id := range pp.Deliverables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, ok := p.resolve(id)
		if !ok {
			continue
		}
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", id, err)
		}
		size := info.Size()
		if info.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("probe %s: %w", id, err)
			}
			size = int64(len(entries))
		}
		found = append(found, artifact.Artifact{ID: id, Size: size})
	}
	return found, nil
}

func (p *Prober) resolve(id string) (string, bool) {
	if filepath.IsAbs(id) {
		return "", false
	}
	clean := filepath.Clean(filepath.FromSlash(id))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(p.root, clean), true
}
