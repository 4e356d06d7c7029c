package sse

// Stream-level event names. Run events use their event.Type as the name.
const (
	// EventTypeConnected is sent when a client successfully connects.
	EventTypeConnected = "connected"

	// EventTypeSnapshot carries the run report at connect time.
	EventTypeSnapshot = "snapshot"

	// EventTypeError is sent when the stream cannot continue.
	EventTypeError = "error"
)

// Frame is one SSE message. An empty Event omits the event: line.
type Frame struct {
	Event string
	Data  []byte
}
