// Package planfile implements planprovider.Provider over a directory of plan
// files, one per story.
package planfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/plan"
)

// Provider looks plans up under dir as <storyId>.yaml, <storyId>.yml or
// <storyId>.md, then <storyId>/plan.<ext>, in that order.
type Provider struct {
	dir string
}

// New returns a provider rooted at dir.
func New(dir string) *Provider {
	return &Provider{dir: dir}
}

func (p *Provider) candidates(storyID string) []string {
	var paths []string
	for _, ext := range plan.Extensions {
		paths = append(paths, filepath.Join(p.dir, storyID+ext))
	}
	for _, ext := range plan.Extensions {
		paths = append(paths, filepath.Join(p.dir, storyID, "plan"+ext))
	}
	return paths
}

// GetPlan implements planprovider.Provider.
func (p *Provider) GetPlan(_ context.Context, storyID string) (*plan.Document, error) {
	if storyID == "" || strings.ContainsAny(storyID, `/\`) || storyID == ".." {
		return nil, fmt.Errorf("%w: story id %q is not a valid file name", domain.ErrValidation, storyID)
	}
	for _, path := range p.candidates(storyID) {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		doc, err := plan.LoadFromFile(path, storyID)
		if err != nil {
			return nil, err
		}
		if doc.StoryID != storyID {
			return nil, fmt.Errorf("plan file %s declares story %q, want %q: %w", path, doc.StoryID, storyID, domain.ErrValidation)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("story %s: no plan under %s: %w", storyID, p.dir, domain.ErrPlanNotFound)
}
