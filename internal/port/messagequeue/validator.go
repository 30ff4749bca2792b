package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain/event"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if !strings.HasPrefix(subject, SubjectEvents+".") {
		return nil
	}

	var ev event.PhaseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if ev.ID == "" || ev.StoryID == "" {
		return fmt.Errorf("schema validation failed for %s: id and story_id are required", subject)
	}
	if want := EventSubject(string(ev.Type)); want != subject {
		return fmt.Errorf("schema validation failed for %s: event type %q belongs on %s", subject, ev.Type, want)
	}
	if !ev.Type.Valid() {
		return fmt.Errorf("schema validation failed for %s: unknown event type %q", subject, ev.Type)
	}
	return nil
}
