package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Extensions lists the plan file extensions LoadFromFile understands, in
// lookup order.
var Extensions = []string{".yaml", ".yml", ".md"}

// LoadFromFile reads and validates a plan from a YAML or markdown file.
// storyID is the fallback story id when the file does not declare one.
func LoadFromFile(path, storyID string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built by the plan provider
	if err != nil {
		return nil, fmt.Errorf("read plan file %s: %w", path, err)
	}

	doc, err := Parse(filepath.Ext(path), storyID, data)
	if err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", path, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("validate plan file %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes plan content according to its file extension.
func Parse(ext, storyID string, data []byte) (*Document, error) {
	switch strings.ToLower(ext) {
	case ".md", ".markdown":
		return ParseMarkdown(storyID, data)
	case ".yaml", ".yml":
		var doc Document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc.StoryID == "" {
			doc.StoryID = storyID
		}
		return &doc, nil
	default:
		return nil, fmt.Errorf("unsupported plan format %q", ext)
	}
}
