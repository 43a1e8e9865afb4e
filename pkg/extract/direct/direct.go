// Package direct streams stream rows straight from a warehouse query.
package direct

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract"
	"github.com/ajitpratap0/redtap/pkg/logger"
)

// Rows is a forward-only query result.
type Rows interface {
	Next() bool
	Values() ([]interface{}, error)
	Err() error
	Close()
}

// Querier runs a query and returns its rows as they arrive.
type Querier interface {
	Query(ctx context.Context, sql string) (Rows, error)
}

// Extractor runs one SELECT per request and forwards rows unbuffered
// beyond BufferSize.
type Extractor struct {
	querier    Querier
	logger     *zap.Logger
	BufferSize int
}

// New creates a direct extractor.
func New(q Querier, l *zap.Logger) *Extractor {
	return &Extractor{
		querier:    q,
		logger:     logger.OrDefault(l).With(zap.String("strategy", string(extract.Direct))),
		BufferSize: 256,
	}
}

// Extract implements extract.Extractor. The returned stream is not
// restartable; a new request starts a fresh query.
func (e *Extractor) Extract(ctx context.Context, req *extract.Request) (*extract.RowStream, error) {
	query := extract.BuildSelect(req)
	log := e.logger.With(zap.String("stream", req.Stream.ID()))
	width := len(req.Columns())

	return extract.Produce(ctx, e.BufferSize, func(ctx context.Context, emit extract.Emit) error {
		log.Debug("running direct query", zap.String("query", query))

		rows, err := e.querier.Query(ctx, query)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "direct query failed").
				WithDetail("stream", req.Stream.ID())
		}
		defer rows.Close()

		var count int64
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to decode row").
					WithDetail("stream", req.Stream.ID())
			}
			if len(values) != width {
				return errors.Newf(errors.ErrorTypeData, "row has %d values, expected %d", len(values), width).
					WithDetail("stream", req.Stream.ID())
			}
			if err := emit(extract.Row(values)); err != nil {
				return err
			}
			count++
		}
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "direct query aborted").
				WithDetail("stream", req.Stream.ID()).
				WithDetail("rows_read", count)
		}

		log.Info("direct query finished", zap.Int64("rows", count))
		return nil
	}), nil
}
