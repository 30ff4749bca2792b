package planfile

import (
	"path/filepath"
	"testing"
)

func TestStoryForPath(t *testing.T) {
	dir := filepath.Join("srv", "plans")
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"US-001.yaml", "US-001", true},
		{"US-001.md", "US-001", true},
		{filepath.Join("US-002", "plan.yml"), "US-002", true},
		{"US-001.yaml.swp", "", false},
		{"notes.txt", "", false},
		{".yaml", "", false},
		{filepath.Join("US-002", "README.md"), "", false},
		{filepath.Join("a", "b", "plan.yaml"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := storyForPath(dir, filepath.Join(dir, tt.path))
			if got != tt.want || ok != tt.ok {
				t.Fatalf("storyForPath(%q) = (%q, %v), want (%q, %v)", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}
