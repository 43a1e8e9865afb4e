// Package unload extracts streams in bulk: the warehouse writes the query
// result to object storage with UNLOAD, the files are downloaded in
// parallel, and their rows are decoded back in order.
//
// Each export is a Job, a state machine that always removes what it
// staged. The Extractor runs at most one job per stream at a time and
// namespaces every job under its own prefix.
package unload

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract"
	"github.com/ajitpratap0/redtap/pkg/logger"
)

// Extractor implements extract.Extractor with UNLOAD jobs.
type Extractor struct {
	Bucket   string
	Prefix   string
	Settings Settings
	// BufferSize is the row channel capacity
	BufferSize int

	store     ObjectStore
	submitter Submitter
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]*Job
	// OnJobDone, when set, sees every job after it reaches a terminal state
	OnJobDone func(*Job)
}

// NewExtractor creates a bulk extractor staging under bucket/prefix.
func NewExtractor(bucket, prefix string, settings Settings, store ObjectStore, submitter Submitter, l *zap.Logger) *Extractor {
	return &Extractor{
		Bucket:     bucket,
		Prefix:     prefix,
		Settings:   settings,
		BufferSize: 256,
		store:      store,
		submitter:  submitter,
		logger:     logger.OrDefault(l),
		active:     make(map[string]*Job),
	}
}

// Extract implements extract.Extractor. A second request for a stream whose
// job is still running is rejected.
func (e *Extractor) Extract(ctx context.Context, req *extract.Request) (*extract.RowStream, error) {
	stream := req.Stream.ID()

	e.mu.Lock()
	if running, ok := e.active[stream]; ok {
		e.mu.Unlock()
		return nil, errors.Newf(errors.ErrorTypeInternal,
			"stream %q already has export job %s in flight", stream, running.ID)
	}
	job := e.newJob(req)
	e.active[stream] = job
	e.mu.Unlock()

	return extract.Produce(ctx, e.BufferSize, func(ctx context.Context, emit extract.Emit) error {
		defer e.release(stream, job)
		return job.Run(ctx, emit)
	}), nil
}

func (e *Extractor) newJob(req *extract.Request) *Job {
	id := uuid.NewString()
	stream := req.Stream.ID()
	return NewJob(id, stream, extract.BuildSelect(req), len(req.Columns()),
		req.Stream.ReplicationKey != "",
		JobLocation(e.Bucket, e.Prefix, stream, id),
		e.Settings, e.store, e.submitter, e.logger)
}

func (e *Extractor) release(stream string, job *Job) {
	e.mu.Lock()
	delete(e.active, stream)
	e.mu.Unlock()
	if e.OnJobDone != nil {
		e.OnJobDone(job)
	}
}

// inFlight returns the number of jobs running.
func (e *Extractor) inFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
