package executor

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

// StreamWriter captures everything written to it and forwards complete
// lines to a LineSink.
type StreamWriter struct {
	mu      sync.Mutex
	stream  string
	sink    LineSink
	all     bytes.Buffer
	partial []byte
}

// NewStreamWriter creates a writer for one stream. sink may be nil.
func NewStreamWriter(stream string, sink LineSink) *StreamWriter {
	return &StreamWriter{stream: stream, sink: sink}
}

// Write implements io.Writer.
func (w *StreamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.all.Write(p)
	if w.sink == nil {
		return len(p), nil
	}
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i])
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// Flush forwards a trailing line that had no newline.
func (w *StreamWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

// String returns everything written so far.
func (w *StreamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}

func (w *StreamWriter) emit(line []byte) {
	s := strings.TrimRight(string(line), "\r")
	if s == "" || w.sink == nil {
		return
	}
	w.sink(w.stream, s)
}

// ShellQuote wraps s in single quotes for use as one shell word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// EnvList renders env as sorted KEY=value entries.
func EnvList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
