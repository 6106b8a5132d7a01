// Package stream implements the analysis event stream: typed JSON events
// pushed over one server-sent-events response and closed by a fixed sentinel
// frame.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Event types.
const (
	TypeStatus  = "status"
	TypeUnit    = "slide_feedback"
	TypeSummary = "deck_summary"
	TypeError   = "error"
	TypeToken   = "token"
)

// Steps carried by status events.
const (
	StepDownloading  = "downloading"
	StepExtracting   = "extracting"
	StepTranscribing = "transcribing"
	StepAnalyzing    = "analyzing"
	StepDone         = "done"
)

// Sentinel is the payload of the final frame. It is not valid JSON, so it
// cannot be mistaken for an event.
const Sentinel = "[DONE]"

var (
	ErrStreamingUnsupported = errors.New("streaming not supported")
	ErrClosed               = errors.New("stream closed")
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Status struct {
	Step           string `json:"step"`
	TotalUnits     *int   `json:"total_units,omitempty"`
	CompletedUnits *int   `json:"completed_units,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// Writer frames events onto a response. It is safe for concurrent use;
// nothing is written after Close.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	err     error
}

// Open sets the event-stream headers and commits a 200 status.
func Open(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one {type, data} frame.
func (sw *Writer) Send(eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	frame, err := json.Marshal(Event{Type: eventType, Data: raw})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return sw.write(frame)
}

// Close writes the sentinel frame. Later calls and sends are no-ops.
func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return nil
	}
	err := sw.writeLocked([]byte(Sentinel))
	sw.closed = true
	return err
}

func (sw *Writer) write(payload []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrClosed
	}
	return sw.writeLocked(payload)
}

func (sw *Writer) writeLocked(payload []byte) error {
	if sw.err != nil {
		return sw.err
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		sw.err = err
		return err
	}
	sw.flusher.Flush()
	return nil
}
