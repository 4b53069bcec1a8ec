package promptloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

//go:generate go tool mockgen -source=transcript.go -destination=mock_transcript_test.go -package=promptloop

// Entry types written to a transcript.
const (
	EntryLLMRequest  = "llm_request"
	EntryLLMResponse = "llm_response"
	EntryToolCall    = "tool_call"
	EntryDecision    = "decision"
	EntryCompaction  = "compaction"
	EntryError       = "error"
)

// Entry is one record of a run transcript.
type Entry struct {
	RunID     string    `json:"run_id"`
	Round     int       `json:"round"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Recorder receives transcript entries as a run progresses. Recording errors
// are logged and never stop the run.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// JSONLRecorder writes one JSON object per line.
type JSONLRecorder struct {
	mu  sync.Mutex
	enc *json.Encoder
	c   io.Closer
}

// NewJSONLRecorder writes entries to w.
func NewJSONLRecorder(w io.Writer) *JSONLRecorder {
	r := &JSONLRecorder{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.c = c
	}
	return r
}

// OpenTranscriptFile appends entries to the file at path, creating it if needed.
func OpenTranscriptFile(path string) (*JSONLRecorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	return NewJSONLRecorder(f), nil
}

// Record implements Recorder.
func (r *JSONLRecorder) Record(_ context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(entry)
}

// Close closes the underlying writer when it is an io.Closer.
func (r *JSONLRecorder) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}
