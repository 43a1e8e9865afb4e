package sink

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
)

// Sink receives protocol messages. Implementations are safe for concurrent
// use and never interleave two messages.
type Sink interface {
	Write(ctx context.Context, msg Message) error
	// Flush makes every message written so far durable downstream
	Flush(ctx context.Context) error
	Close() error
}

// LineSink writes one JSON message per line.
type LineSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

// NewLineSink writes to w. If w is an io.Closer, Close closes it.
func NewLineSink(w io.Writer) *LineSink {
	s := &LineSink{w: bufio.NewWriterSize(w, 64*1024)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Write implements Sink.
func (s *LineSink) Write(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.MarshalLine(s.w, msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write message").
			WithDetail("type", string(msg.MessageType()))
	}
	return nil
}

// Flush implements Sink.
func (s *LineSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush output")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *LineSink) Close() error {
	if err := s.Flush(context.Background()); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
