package extract

import "context"

// RowStream carries rows from a producer goroutine. Rows is closed when the
// producer finishes; Errors then yields at most one error and is closed.
type RowStream struct {
	Rows   <-chan Row
	Errors <-chan error
}

// Err waits for the producer and returns its error, if any. Call it after
// Rows is drained or after cancelling the producer's context.
func (s *RowStream) Err() error {
	return <-s.Errors
}

// Emit sends one row, or fails when the consumer has gone away.
type Emit func(Row) error

// Produce runs fn in a goroutine and streams what it emits. The error fn
// returns is delivered before Rows closes, so a consumer that ranges over
// Rows and then calls Err sees everything fn did.
func Produce(ctx context.Context, buffer int, fn func(ctx context.Context, emit Emit) error) *RowStream {
	rows := make(chan Row, buffer)
	errs := make(chan error, 1)

	emit := func(r Row) error {
		select {
		case rows <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(errs)
		defer close(rows)
		if err := fn(ctx, emit); err != nil {
			errs <- err
		}
	}()

	return &RowStream{Rows: rows, Errors: errs}
}

// Drain discards remaining rows and returns the producer's error. The
// producer must be unblocked, usually by cancelling its context.
func (s *RowStream) Drain() error {
	for range s.Rows {
	}
	return s.Err()
}
