package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// KeepAliveInterval is the period of keep-alive comments. It stays below
// typical proxy idle timeouts.
var KeepAliveInterval = 30 * time.Second

// ConnectedEvent is the payload of the connected frame.
type ConnectedEvent struct {
	ClientID string            `json:"clientId"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ServeSSE streams frames for clientID until the request ends, the client
// is closed by the hub, or the hub stops.
func ServeSSE(hub *Hub, w http.ResponseWriter, r *http.Request, clientID string, opts ...ClientOption) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		hub.log.Error("streaming not supported", map[string]interface{}{"client_id": clientID})
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Long-lived streams must outlive the server's WriteTimeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		hub.log.Debug("could not disable write deadline", map[string]interface{}{"client_id": clientID, "error": err.Error()})
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := NewClient(clientID, opts...)
	if !hub.Register(client) {
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	}
	defer hub.Unregister(client)

	connected, _ := json.Marshal(ConnectedEvent{ClientID: clientID, Metadata: client.Metadata()})
	_ = WriteFrame(w, Frame{Event: EventTypeConnected, Data: connected})
	if client.onConnect != nil {
		for _, f := range client.onConnect() {
			_ = WriteFrame(w, f)
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			hub.log.Debug("client disconnected", map[string]interface{}{"client_id": clientID, "reason": ctx.Err().Error()})
			return

		case f, ok := <-client.Events():
			if !ok {
				return
			}
			if err := WriteFrame(w, f); err != nil {
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			_, _ = fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}

// WriteFrame writes f in SSE wire format.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", f.Event); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", f.Data)
	return err
}
