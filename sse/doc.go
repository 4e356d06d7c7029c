// Package sse streams run events to HTTP clients as Server-Sent Events.
//
// A Hub routes frames to connected clients by glob pattern on the client
// id. Run streams use ids of the form run:<runID>:<uuid>, so a Sink
// attached to a run broadcasts to run:<runID>:* and every viewer of that
// run receives the frame.
//
//	hub := sse.NewHub(log)
//	go hub.Run()
//	bus.Subscribe(sse.NewSink(hub, log))
//	sse.ServeSSE(hub, w, r, sse.ClientID(runID))
package sse
