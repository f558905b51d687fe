// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/velro/authz-core/internal/domain/audit"
)

// StructuredLogSink implements audit.Sink as the "structured log" fan-out
// destination of spec §4.6: every event written as a compact JSON line to
// an io.Writer, independent of the slog handler used for operational
// logging elsewhere in the service.
type StructuredLogSink struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
}

// NewStructuredLogSink creates a sink writing to stdout.
func NewStructuredLogSink() *StructuredLogSink {
	return NewStructuredLogSinkWithWriter(os.Stdout)
}

// NewStructuredLogSinkWithWriter creates a sink writing to the given writer.
func NewStructuredLogSinkWithWriter(w io.Writer) *StructuredLogSink {
	return &StructuredLogSink{
		encoder: json.NewEncoder(w),
		writer:  w,
	}
}

var _ audit.Sink = (*StructuredLogSink)(nil)

// Write encodes event as a JSON line to the underlying writer.
func (s *StructuredLogSink) Write(ctx context.Context, event *audit.Event) error {
	if event == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.encoder.Encode(event)
}

// Close releases resources. No-op unless the writer is a non-stdio file.
func (s *StructuredLogSink) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}
