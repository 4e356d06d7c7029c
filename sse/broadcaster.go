package sse

// Broadcaster delivers frames to clients whose id matches a glob pattern.
// Sink depends on it rather than on Hub.
type Broadcaster interface {
	// BroadcastToPattern queues f for every client matching pattern. It
	// never blocks; frames are dropped when the hub is saturated.
	BroadcastToPattern(pattern string, f Frame)

	// ClosePattern disconnects every client matching pattern after the
	// frames queued before it have been delivered.
	ClosePattern(pattern string)
}
