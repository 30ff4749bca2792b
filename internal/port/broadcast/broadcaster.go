// Package broadcast defines the port for pushing phase events to live
// clients.
package broadcast

import "context"

// Broadcaster pushes events to connected clients. Implementations route by
// the story_id carried in payload and never block the caller on a slow
// client.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
