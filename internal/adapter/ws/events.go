package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// BroadcastEvent marshals payload and broadcasts it under eventType. When
// the payload carries a story_id only clients watching that story (or all
// stories) receive it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var scope struct {
		StoryID string `json:"story_id"`
	}
	_ = json.Unmarshal(data, &scope)

	h.broadcast(ctx, scope.StoryID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
