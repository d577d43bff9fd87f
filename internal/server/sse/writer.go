// Package sse provides Server-Sent Events utilities for streaming responses.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Event types carried in the "type" field of every streamed payload.
const (
	EventMeta       = "meta"
	EventDelta      = "delta"
	EventReferences = "references"
	EventDone       = "done"
	EventError      = "error"
)

// Writer wraps an http.ResponseWriter for SSE streaming. Every event is a
// single JSON object on the data line, discriminated by its "type" field.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets appropriate headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// writeData writes a payload in SSE format, handling multi-line content.
// SSE requires each line of data to be prefixed with "data: ".
func (w *Writer) writeData(content string) error {
	for line := range strings.SplitSeq(content, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return fmt.Errorf("write data line: %w", err)
		}
	}

	// Empty line terminates the event
	if _, err := w.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteEvent sends one typed JSON event. The payload map must not contain a
// "type" key; it is set here.
func (w *Writer) WriteEvent(ctx context.Context, eventType string, payload map[string]any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["type"] = eventType

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.writeData(string(data))
}

// WriteDelta sends a streamed text fragment.
func (w *Writer) WriteDelta(ctx context.Context, text string) error {
	return w.WriteEvent(ctx, EventDelta, map[string]any{"content": text})
}

// WriteError sends a terminal error event. Streaming errors cannot change
// the HTTP status, so this is the only signal the consumer gets.
func (w *Writer) WriteError(ctx context.Context, message string) error {
	return w.WriteEvent(ctx, EventError, map[string]any{"message": message})
}

// WriteDone signals the end of the stream.
func (w *Writer) WriteDone(ctx context.Context) error {
	return w.WriteEvent(ctx, EventDone, nil)
}
