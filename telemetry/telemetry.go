// Package telemetry provides tracing and traffic event export for the bus.
//
// Tracing follows OpenTelemetry messaging conventions: one producer span per
// send, publish or reply and one consumer span per handler invocation, linked
// through W3C trace context carried in message headers.
//
// Traffic events are a lighter record of the same activity, one JSON object
// per event, written to a file, posted to an HTTP endpoint or discarded.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Exporter is the interface for traffic event exporters.
type Exporter interface {
	// Record logs one bus event.
	Record(ev Event)
	// Flush sends any buffered data.
	Flush() error
	// Close closes the exporter.
	Close() error
}

// Event names.
const (
	EventRegister   = "register"
	EventUnregister = "unregister"
	EventSend       = "send"
	EventPublish    = "publish"
	EventReply      = "reply"
	EventDeliver    = "deliver"
	EventFailure    = "failure"
)

// Event is one recorded bus action.
type Event struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	HandlerID string    `json:"handler_id,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Size      int       `json:"size,omitempty"`
	Reply     bool      `json:"reply,omitempty"`
	Error     string    `json:"error,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewExporter creates an exporter based on protocol.
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		if endpoint == "" {
			return nil, fmt.Errorf("http event exporter requires an endpoint")
		}
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown event protocol: %s", protocol)
	}
}

func stamp(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}

// --- HTTP Exporter ---

// httpBatchSize is the number of buffered events that triggers a POST.
const httpBatchSize = 100

// HTTPExporter posts batches of events as a JSON array.
type HTTPExporter struct {
	endpoint string
	client   *http.Client
	buffer   []Event
	mu       sync.Mutex
}

// NewHTTPExporter creates a new HTTP exporter.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		buffer: make([]Event, 0, httpBatchSize),
	}
}

func (e *HTTPExporter) Record(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, stamp(ev))
	if len(e.buffer) >= httpBatchSize {
		_ = e.flush()
	}
}

func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *HTTPExporter) flush() error {
	if len(e.buffer) == 0 {
		return nil
	}

	data, err := json.Marshal(e.buffer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("event endpoint returned %d", resp.StatusCode)
	}

	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends events to a JSON lines file.
type FileExporter struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileExporter creates a new file exporter.
func NewFileExporter(path string) (*FileExporter, error) {
	if path == "" {
		return nil, fmt.Errorf("file event exporter requires a path")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	return &FileExporter{file: file}, nil
}

func (e *FileExporter) Record(ev Event) {
	data, err := json.Marshal(stamp(ev))
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(append(data, '\n'))
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Noop Exporter ---

// NoopExporter discards all events.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) Record(ev Event) {}
func (e *NoopExporter) Flush() error    { return nil }
func (e *NoopExporter) Close() error    { return nil }
