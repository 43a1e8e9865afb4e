// Package pipeline drives a sync run: every selected stream is resolved to a
// portable schema, extracted with the strategy the selector picks, coerced
// row by row into records, and bookmarked as it goes.
//
// Streams run concurrently up to a parallelism limit and fail independently.
// Connection, authentication, configuration and state corruption errors
// abort the whole run; anything else fails only the stream that raised it.
//
// Bookmarks are committed only after the sink has flushed every record they
// cover, so the last STATE message written never runs ahead of delivered
// data. A mid-stream checkpoint waits for the replication key to change so
// that rows sharing a key value are never split across a commit.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/redtap/pkg/catalog"
	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract"
	"github.com/ajitpratap0/redtap/pkg/logger"
	"github.com/ajitpratap0/redtap/pkg/metrics"
	"github.com/ajitpratap0/redtap/pkg/observability"
	"github.com/ajitpratap0/redtap/pkg/schema"
	"github.com/ajitpratap0/redtap/pkg/sink"
	"github.com/ajitpratap0/redtap/pkg/state"
)

const defaultParallelism = 4

// Config controls a sync run.
type Config struct {
	// Parallelism is the number of streams synced at once
	Parallelism int
	// CheckpointInterval is the number of records between mid-stream
	// checkpoints; zero or less disables them
	CheckpointInterval int
	// FailFast aborts the run on the first stream failure
	FailFast bool
}

// Orchestrator runs streams through extraction into a sink.
type Orchestrator struct {
	cfg        Config
	converter  *schema.Converter
	selector   extract.Selector
	extractors map[extract.Strategy]extract.Extractor
	store      *state.Store
	sink       sink.Sink
	logger     *zap.Logger

	// Persister, when set, receives every committed snapshot
	Persister state.Persister
	// Now stamps RECORD messages
	Now func() time.Time

	// stateMu serializes commits so STATE messages never go backwards
	stateMu sync.Mutex
}

// New creates an orchestrator. Every strategy the selector can return must
// have an extractor.
func New(cfg Config, converter *schema.Converter, selector extract.Selector,
	extractors map[extract.Strategy]extract.Extractor, store *state.Store, out sink.Sink, l *zap.Logger) *Orchestrator {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	return &Orchestrator{
		cfg:        cfg,
		converter:  converter,
		selector:   selector,
		extractors: extractors,
		store:      store,
		sink:       out,
		logger:     logger.OrDefault(l),
		Now:        time.Now,
	}
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID     string
	Succeeded []string
	Failed    []string
	// Skipped streams were never extracted: their schema could not be
	// converted, or the run stopped before they started
	Skipped []string
	Errors  map[string]error
	Records map[string]int64

	mu sync.Mutex
}

// AllFailed reports whether streams were attempted and none succeeded.
func (s *Summary) AllFailed() bool {
	return len(s.Succeeded) == 0 && len(s.Failed)+len(s.Skipped) > 0
}

func (s *Summary) add(stream, status string, records int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status {
	case statusSuccess:
		s.Succeeded = append(s.Succeeded, stream)
	case statusSkipped:
		s.Skipped = append(s.Skipped, stream)
	default:
		s.Failed = append(s.Failed, stream)
	}
	if err != nil {
		s.Errors[stream] = err
	}
	s.Records[stream] = records
}

const (
	statusSuccess = "success"
	statusFailure = "failure"
	statusSkipped = "skipped"
)

// Run syncs streams and writes a final STATE message with every committed
// bookmark. The returned error is non-nil only when the run was aborted:
// by a fatal error, by a stream failure under FailFast, or by ctx.
func (o *Orchestrator) Run(ctx context.Context, streams []*catalog.Stream) (*Summary, error) {
	summary := &Summary{
		RunID:   uuid.NewString(),
		Errors:  make(map[string]error),
		Records: make(map[string]int64),
	}
	ctx = context.WithValue(ctx, logger.RunIDKey, summary.RunID)
	l := logger.WithContext(ctx, o.logger)
	ctx, span := observability.StartSpan(ctx, "sync.run", attribute.Int("streams", len(streams)))

	l.Info("starting sync",
		zap.Int("streams", len(streams)),
		zap.Int("parallelism", o.cfg.Parallelism),
		zap.Bool("fail_fast", o.cfg.FailFast))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Parallelism)
	for _, stream := range streams {
		g.Go(func() error {
			id := stream.ID()
			if err := gctx.Err(); err != nil {
				summary.add(id, statusSkipped, 0, err)
				metrics.StreamsFinished.WithLabelValues(statusSkipped).Inc()
				return nil
			}

			timer := metrics.NewTimer()
			sctx := context.WithValue(gctx, logger.StreamKey, id)
			sl := logger.WithContext(sctx, o.logger)
			n, err := o.syncStream(sctx, sl, stream)
			status := outcome(err)
			summary.add(id, status, n, err)
			metrics.StreamsFinished.WithLabelValues(status).Inc()

			if err == nil {
				sl.Info("stream synced", zap.Int64("records", n), zap.Duration("duration", timer.Stop()))
				return nil
			}
			sl.Error("stream failed",
				zap.Error(err),
				zap.String("status", status),
				zap.Int64("records", n),
				zap.Duration("duration", timer.Stop()))
			if errors.IsFatal(err) || o.cfg.FailFast {
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	o.stateMu.Lock()
	if ferr := o.emitStateLocked(context.WithoutCancel(ctx)); ferr != nil {
		l.Error("failed to write final state", zap.Error(ferr))
		if err == nil {
			err = ferr
		}
	}
	o.stateMu.Unlock()

	sort.Strings(summary.Succeeded)
	sort.Strings(summary.Failed)
	sort.Strings(summary.Skipped)
	span.SetAttribute("succeeded", len(summary.Succeeded))
	span.SetAttribute("failed", len(summary.Failed))
	span.End(err)

	l.Info("sync finished",
		zap.Int("succeeded", len(summary.Succeeded)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int("skipped", len(summary.Skipped)))
	return summary, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return statusSuccess
	case errors.IsType(err, errors.ErrorTypeTypeConversion):
		return statusSkipped
	default:
		return statusFailure
	}
}

// syncStream extracts one stream and returns the number of records emitted.
func (o *Orchestrator) syncStream(ctx context.Context, l *zap.Logger, stream *catalog.Stream) (n int64, err error) {
	id := stream.ID()
	ctx, span := observability.StartSpan(ctx, "stream.sync", attribute.String("stream", id))
	defer func() {
		span.SetAttribute("records", n)
		span.End(err)
	}()

	if err := stream.Validate(); err != nil {
		return 0, err
	}
	sch, err := o.converter.Build(stream.Columns)
	if err != nil {
		return 0, err
	}

	bookmarkKey := ""
	if stream.IsIncremental() {
		bookmarkKey = stream.ReplicationKey
	}
	msg, err := sink.NewSchema(id, sch, stream.KeyProperties, bookmarkKey)
	if err != nil {
		return 0, err
	}
	if err := o.write(ctx, msg); err != nil {
		return 0, err
	}

	req := &extract.Request{Stream: stream, Schema: sch}
	keyIdx := -1
	var keyField schema.Field
	if bookmarkKey != "" {
		for i, f := range sch.Fields {
			if f.Name == bookmarkKey {
				keyIdx, keyField = i, f
			}
		}
		if v, ok := o.store.Resume(id, bookmarkKey); ok {
			lit, err := keyField.Literal(v)
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeStateCorruption, "bookmark value does not fit replication key").
					WithDetail("stream", id).
					WithDetail("replication_key", bookmarkKey)
			}
			req.Resume = &extract.Predicate{Column: bookmarkKey, Literal: lit}
		}
	}

	strategy := o.selector.Select(ctx, stream)
	ex, ok := o.extractors[strategy]
	if !ok {
		return 0, errors.Newf(errors.ErrorTypeConfig, "no extractor configured for strategy %q", strategy)
	}
	span.SetAttribute("strategy", string(strategy))
	l.Info("extracting stream",
		zap.String("strategy", string(strategy)),
		zap.String("replication_key", bookmarkKey),
		zap.Bool("resume", req.Resume != nil))

	ectx, cancel := context.WithCancel(ctx)
	defer cancel()
	rows, err := ex.Extract(ectx, req)
	if err != nil {
		return 0, o.abandon(ctx, l, id, err)
	}
	fail := func(err error) (int64, error) {
		cancel()
		_ = rows.Drain()
		return n, o.abandon(ctx, l, id, err)
	}

	cols := sch.Names()
	emitted := metrics.RecordsEmitted.WithLabelValues(id, string(strategy))
	pending := 0
	var last interface{}
	for raw := range rows.Rows {
		values, err := coerceRow(sch, raw)
		if err != nil {
			return fail(errors.Wrap(err, errors.ErrorTypeData, "failed to convert row").WithDetail("stream", id))
		}

		var key interface{}
		if keyIdx >= 0 {
			key = values[keyIdx]
			if o.cfg.CheckpointInterval > 0 && pending >= o.cfg.CheckpointInterval {
				boundary, err := keyChanged(keyField, last, key)
				if err != nil {
					return fail(err)
				}
				if boundary {
					if err := o.commit(ctx, id, false); err != nil {
						return fail(err)
					}
					pending = 0
				}
			}
		}

		rec := sink.NewRecord(id, sink.Record{Columns: cols, Values: values}, o.Now())
		if err := o.write(ctx, rec); err != nil {
			return fail(err)
		}
		n++
		pending++
		emitted.Inc()

		if keyIdx >= 0 && key != nil {
			if _, err := o.store.Advance(id, bookmarkKey, key, keyField.Compare); err != nil {
				return fail(err)
			}
			last = key
		}
	}
	if err := rows.Err(); err != nil {
		return n, o.abandon(ctx, l, id, err)
	}

	if keyIdx >= 0 {
		if err := o.commit(ctx, id, true); err != nil {
			return n, o.abandon(ctx, l, id, err)
		}
	}
	return n, nil
}

func coerceRow(sch *schema.Schema, raw extract.Row) ([]interface{}, error) {
	if len(raw) != len(sch.Fields) {
		return nil, errors.Newf(errors.ErrorTypeData, "row has %d values, expected %d", len(raw), len(sch.Fields))
	}
	out := make([]interface{}, len(raw))
	for i, f := range sch.Fields {
		v, err := f.Coerce(raw[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// keyChanged reports whether every row with the previous key value has been
// seen. Rows arrive in ascending key order with nulls last.
func keyChanged(f schema.Field, last, cur interface{}) (bool, error) {
	if last == nil || cur == nil {
		return true, nil
	}
	c, err := f.Compare(cur, last)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeData, "failed to compare replication key values")
	}
	return c > 0, nil
}

// commit flushes the sink, commits the stream's live bookmark and writes a
// STATE message.
func (o *Orchestrator) commit(ctx context.Context, stream string, complete bool) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	if err := o.sink.Flush(ctx); err != nil {
		return sinkError(err)
	}
	if complete {
		o.store.Complete(stream)
	} else {
		o.store.Checkpoint(stream)
	}
	metrics.StateCheckpoints.WithLabelValues(stream).Inc()
	return o.emitStateLocked(ctx)
}

// abandon discards uncommitted progress of a failed stream and re-emits the
// committed state.
func (o *Orchestrator) abandon(ctx context.Context, l *zap.Logger, stream string, cause error) error {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	o.store.Rollback(stream)
	if err := o.emitStateLocked(context.WithoutCancel(ctx)); err != nil {
		l.Warn("failed to write state after stream failure", zap.Error(err))
	}
	return cause
}

func (o *Orchestrator) emitStateLocked(ctx context.Context) error {
	snap := o.store.Snapshot()
	if err := o.write(ctx, sink.NewState(snap)); err != nil {
		return err
	}
	if err := o.sink.Flush(ctx); err != nil {
		return sinkError(err)
	}
	if o.Persister != nil {
		if err := o.Persister.Save(snap); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) write(ctx context.Context, msg sink.Message) error {
	if err := o.sink.Write(ctx, msg); err != nil {
		return sinkError(err)
	}
	return nil
}

// sinkError marks output failures fatal: nothing more can be delivered.
func sinkError(err error) error {
	if errors.IsFatal(err) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "output sink failed")
}
