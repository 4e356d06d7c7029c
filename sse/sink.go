package sse

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/logger"
)

const runPrefix = "run:"

// ClientID returns a fresh client id for a viewer of runID.
func ClientID(runID string) string {
	return runPrefix + runID + ":" + uuid.NewString()
}

// RunPattern returns the glob matching every viewer of runID. Glob
// metacharacters in the id are escaped.
func RunPattern(runID string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`)
	return runPrefix + r.Replace(runID) + ":*"
}

// Sink is an event subscriber that forwards run events to SSE clients.
// Streams of a run are closed after its run.finished frame.
type Sink struct {
	hub Broadcaster
	log *logger.Logger
}

// NewSink creates a sink broadcasting through hub.
func NewSink(hub Broadcaster, log *logger.Logger) *Sink {
	if log == nil {
		log = logger.Nop()
	}
	return &Sink{hub: hub, log: log.WithComponent("sse-sink")}
}

// Handle implements event.Subscriber.
func (s *Sink) Handle(e event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.log.Warn("event not encoded", logger.ErrorFields("encode-event", err))
		return
	}
	pattern := RunPattern(e.RunID)
	s.hub.BroadcastToPattern(pattern, Frame{Event: string(e.Type), Data: data})
	if e.Type == event.RunFinished {
		s.hub.ClosePattern(pattern)
	}
}

var _ event.Subscriber = (*Sink)(nil)
