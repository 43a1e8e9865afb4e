package unload

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/redtap/pkg/compression"
	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/extract"
	"github.com/ajitpratap0/redtap/pkg/logger"
	"github.com/ajitpratap0/redtap/pkg/metrics"
	"github.com/ajitpratap0/redtap/pkg/observability"
	"github.com/ajitpratap0/redtap/pkg/retry"
)

// State is a bulk export job state.
type State string

const (
	StateNew           State = "NEW"
	StateIssued        State = "ISSUED"
	StateWaiting       State = "WAITING"
	StateManifestReady State = "MANIFEST_READY"
	StateDownloading   State = "DOWNLOADING"
	StateParsing       State = "PARSING"
	StateCleanup       State = "CLEANUP"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// Terminal reports whether no transition leaves the state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Settings tune a job.
type Settings struct {
	Format      Format
	Compression compression.Algorithm
	RoleARN     string

	// Timeout bounds the wait for the export command
	Timeout     time.Duration
	PollInitial time.Duration
	PollMax     time.Duration

	DownloadConcurrency int
	CleanupTimeout      time.Duration

	// TempDir is where shards are downloaded; empty uses the OS default
	TempDir string
}

func (s Settings) withDefaults() Settings {
	if s.Format == "" {
		s.Format = FormatText
	}
	if s.Timeout <= 0 {
		s.Timeout = time.Hour
	}
	if s.PollInitial <= 0 {
		s.PollInitial = time.Second
	}
	if s.PollMax < s.PollInitial {
		s.PollMax = s.PollInitial
	}
	if s.DownloadConcurrency <= 0 {
		s.DownloadConcurrency = 4
	}
	if s.CleanupTimeout <= 0 {
		s.CleanupTimeout = 2 * time.Minute
	}
	return s
}

type downloadResult struct {
	path  string
	bytes int64
	err   error
}

// Job exports one query through object storage and streams the rows back.
//
// A job walks NEW, ISSUED, WAITING, MANIFEST_READY, DOWNLOADING, PARSING
// and CLEANUP before ending in DONE or FAILED. Any failure before CLEANUP
// still passes through CLEANUP, which deletes every staged object under the
// job's prefix and the local download directory. A job runs once.
type Job struct {
	ID       string
	Stream   string
	Command  string
	Location Location

	width     int
	settings  Settings
	store     ObjectStore
	submitter Submitter
	logger    *zap.Logger

	mu      sync.Mutex
	state   State
	history []Transition
	err     error
	rows    int64

	handle   Handle
	exported bool
	manifest []Object
	tempDir  string

	downloads  []chan downloadResult
	dlCancel   context.CancelFunc
	dlDone     chan struct{}
	cleanedUp  bool
	cleanupErr error
}

// NewJob prepares a job that exports query, whose rows have width columns,
// into loc.
func NewJob(id, stream, query string, width int, ordered bool, loc Location,
	settings Settings, store ObjectStore, submitter Submitter, l *zap.Logger) *Job {
	settings = settings.withDefaults()
	return &Job{
		ID:     id,
		Stream: stream,
		Command: BuildCommand(query, loc, CommandOptions{
			RoleARN:     settings.RoleARN,
			Format:      settings.Format,
			Compression: settings.Compression,
			Ordered:     ordered,
		}),
		Location:  loc,
		width:     width,
		settings:  settings,
		store:     store,
		submitter: submitter,
		logger:    logger.OrDefault(l).With(zap.String(string(logger.JobIDKey), id), zap.String(string(logger.StreamKey), stream)),
		state:     StateNew,
	}
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// History returns every transition so far.
func (j *Job) History() []Transition {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Transition, len(j.history))
	copy(out, j.history)
	return out
}

// Err returns the error that failed the job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Rows returns the number of rows emitted.
func (j *Job) Rows() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rows
}

// Run drives the job to a terminal state, emitting rows in file order and
// line order within each file. It returns the failure, if any, after
// cleanup has finished.
func (j *Job) Run(ctx context.Context, emit extract.Emit) (err error) {
	j.mu.Lock()
	if j.state != StateNew {
		j.mu.Unlock()
		return errors.Newf(errors.ErrorTypeInternal, "export job %s already ran", j.ID)
	}
	j.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "unload.job",
		attribute.String("job_id", j.ID),
		attribute.String("stream", j.Stream))
	timer := metrics.NewTimer()
	metrics.ActiveExportJobs.Inc()

	defer func() {
		if !j.cleanedUp {
			j.cleanup(ctx)
		}
		metrics.ActiveExportJobs.Dec()
		metrics.ExportJobDuration.WithLabelValues(string(j.State())).Observe(timer.Stop().Seconds())
		span.SetAttribute("rows", j.Rows())
		span.End(err)
	}()

	state := StateNew
	for !state.Terminal() {
		next, stepErr := j.step(ctx, state, emit)
		if stepErr != nil {
			j.fail(stepErr)
			next = StateCleanup
		}
		j.transition(span, state, next)
		state = next
	}
	return j.Err()
}

func (j *Job) step(ctx context.Context, state State, emit extract.Emit) (State, error) {
	switch state {
	case StateNew:
		return j.issue(ctx)
	case StateIssued:
		return StateWaiting, nil
	case StateWaiting:
		return j.wait(ctx)
	case StateManifestReady:
		return j.list(ctx)
	case StateDownloading:
		return j.startDownloads(ctx)
	case StateParsing:
		return j.parse(ctx, emit)
	case StateCleanup:
		j.cleanup(ctx)
		if j.Err() != nil {
			return StateFailed, nil
		}
		return StateDone, nil
	default:
		return StateFailed, errors.Newf(errors.ErrorTypeInternal, "no transition from %s", state)
	}
}

func (j *Job) transition(span *observability.Span, from, to State) {
	j.mu.Lock()
	j.state = to
	j.history = append(j.history, Transition{From: from, To: to, At: time.Now()})
	j.mu.Unlock()

	span.AddEvent("transition",
		attribute.String("from", string(from)),
		attribute.String("to", string(to)))
	j.logger.Debug("export job transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err == nil {
		j.err = err
	}
}

func (j *Job) issue(ctx context.Context) (State, error) {
	h, err := j.submitter.Submit(ctx, j.Command)
	if err != nil {
		return StateFailed, errors.Wrap(err, errors.ErrorTypeQuery, "failed to submit export command").
			WithDetail("location", j.Location.URI())
	}
	j.handle = h
	j.logger.Info("export command issued", zap.String("location", j.Location.URI()))
	return StateIssued, nil
}

// wait polls the command with backoff until it completes or the timeout
// passes.
func (j *Job) wait(ctx context.Context) (State, error) {
	deadline := time.Now().Add(j.settings.Timeout)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	backoff := retry.PollPolicy(j.settings.PollInitial, j.settings.PollMax).NewBackoff()
	for {
		done, err := j.handle.Poll(waitCtx)
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return StateFailed, j.timeoutError()
			}
			if ctx.Err() != nil {
				return StateFailed, ctx.Err()
			}
			j.exported = true
			return StateFailed, errors.Wrap(err, errors.ErrorTypeQuery, "export command failed").
				WithDetail("location", j.Location.URI())
		}
		if done {
			j.exported = true
			return StateManifestReady, nil
		}

		if err := retry.Sleep(waitCtx, backoff.Next()); err != nil {
			if ctx.Err() != nil {
				return StateFailed, ctx.Err()
			}
			return StateFailed, j.timeoutError()
		}
	}
}

func (j *Job) timeoutError() error {
	return errors.Newf(errors.ErrorTypeExportTimeout,
		"export did not complete within %s", j.settings.Timeout).
		WithDetail("location", j.Location.URI())
}

// list discovers the files the command produced. An export with no rows
// may produce none.
func (j *Job) list(ctx context.Context) (State, error) {
	objects, err := j.store.List(ctx, j.Location.Bucket, j.Location.Prefix)
	if err != nil {
		return StateFailed, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list export files").
			WithDetail("location", j.Location.URI())
	}

	manifest := make([]Object, 0, len(objects))
	for _, o := range objects {
		if strings.HasSuffix(o.Key, "/") || o.Size == 0 {
			continue
		}
		manifest = append(manifest, o)
	}
	sort.Slice(manifest, func(a, b int) bool { return manifest[a].Key < manifest[b].Key })
	j.manifest = manifest

	j.logger.Info("export files ready", zap.Int("files", len(manifest)))
	if len(manifest) == 0 {
		return StateCleanup, nil
	}
	return StateDownloading, nil
}

// startDownloads fetches shards in the background, at most
// DownloadConcurrency at a time. Each shard reports on its own channel so
// parsing can follow file order.
func (j *Job) startDownloads(ctx context.Context) (State, error) {
	dir, err := os.MkdirTemp(j.settings.TempDir, "redtap-unload-")
	if err != nil {
		return StateFailed, errors.Wrap(err, errors.ErrorTypeFile, "failed to create download directory")
	}
	j.tempDir = dir

	dlCtx, cancel := context.WithCancel(ctx)
	j.dlCancel = cancel
	j.dlDone = make(chan struct{})
	j.downloads = make([]chan downloadResult, len(j.manifest))
	for i := range j.downloads {
		j.downloads[i] = make(chan downloadResult, 1)
	}

	go func() {
		defer close(j.dlDone)
		g, gctx := errgroup.WithContext(dlCtx)
		g.SetLimit(j.settings.DownloadConcurrency)
		for i, obj := range j.manifest {
			g.Go(func() error {
				res := j.download(gctx, i, obj)
				j.downloads[i] <- res
				return res.err
			})
		}
		_ = g.Wait()
	}()

	return StateParsing, nil
}

func (j *Job) download(ctx context.Context, i int, obj Object) downloadResult {
	if err := ctx.Err(); err != nil {
		return downloadResult{err: err}
	}

	local := filepath.Join(j.tempDir, fmt.Sprintf("%05d-%s", i, path.Base(obj.Key)))
	f, err := os.Create(local)
	if err != nil {
		return downloadResult{err: err}
	}
	n, err := j.store.Download(ctx, j.Location.Bucket, obj.Key, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return downloadResult{err: err}
	}

	metrics.ExportFilesDownloaded.Inc()
	metrics.ExportBytesDownloaded.Add(float64(n))
	return downloadResult{path: local, bytes: n}
}

// parse decodes shards in key order as their downloads finish.
func (j *Job) parse(ctx context.Context, emit extract.Emit) (State, error) {
	for i, obj := range j.manifest {
		var res downloadResult
		select {
		case res = <-j.downloads[i]:
		case <-ctx.Done():
			return StateFailed, ctx.Err()
		}
		if res.err != nil && ctx.Err() != nil {
			return StateFailed, ctx.Err()
		}
		if res.err != nil {
			return StateFailed, errors.Wrap(res.err, errors.ErrorTypePartialDownload, "failed to download export file").
				WithDetail("key", obj.Key)
		}

		if err := j.parseFile(ctx, obj, res.path, emit); err != nil {
			return StateFailed, err
		}
		_ = os.Remove(res.path)
	}
	return StateCleanup, nil
}

func (j *Job) parseFile(ctx context.Context, obj Object, local string, emit extract.Emit) (err error) {
	reader, err := j.open(ctx, obj, local)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reader.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, errors.ErrorTypeData, "failed to close export file")
		}
	}()

	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var typed *errors.Error
			if goerrors.As(err, &typed) {
				return typed.WithDetail("key", obj.Key)
			}
			return err
		}
		if err := emit(row); err != nil {
			return err
		}
		j.mu.Lock()
		j.rows++
		j.mu.Unlock()
	}
}

func (j *Job) open(ctx context.Context, obj Object, local string) (RowReader, error) {
	if j.settings.Format == FormatParquet {
		return OpenParquet(ctx, local, j.width)
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open export file")
	}
	tr, err := NewTextReader(f, compression.FromKey(obj.Key, j.settings.Compression), j.width)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileRowReader{RowReader: tr, file: f}, nil
}

type fileRowReader struct {
	RowReader
	file *os.File
}

func (r *fileRowReader) Close() error {
	err := r.RowReader.Close()
	if ferr := r.file.Close(); err == nil {
		err = ferr
	}
	return err
}

// cleanup releases everything the job staged. It runs even when ctx is
// cancelled, bounded by CleanupTimeout, and never fails the job.
func (j *Job) cleanup(ctx context.Context) {
	if j.cleanedUp {
		return
	}
	j.cleanedUp = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.settings.CleanupTimeout)
	defer cancel()

	var errs []error
	if j.dlCancel != nil {
		j.dlCancel()
		<-j.dlDone
	}

	if j.handle != nil && !j.exported {
		if err := j.handle.Cancel(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cancel export: %w", err))
		}
	}

	objects, err := j.store.List(ctx, j.Location.Bucket, j.Location.Prefix)
	if err != nil {
		errs = append(errs, fmt.Errorf("list staged objects: %w", err))
	} else if len(objects) > 0 {
		keys := make([]string, len(objects))
		for i, o := range objects {
			keys[i] = o.Key
		}
		if err := j.store.Delete(ctx, j.Location.Bucket, keys); err != nil {
			errs = append(errs, fmt.Errorf("delete staged objects: %w", err))
		}
	}

	if j.tempDir != "" {
		if err := os.RemoveAll(j.tempDir); err != nil {
			errs = append(errs, fmt.Errorf("remove download directory: %w", err))
		}
	}

	if err := goerrors.Join(errs...); err != nil {
		metrics.CleanupFailures.Inc()
		j.logger.Warn("export cleanup incomplete",
			zap.String("location", j.Location.URI()),
			zap.Error(err))
		j.mu.Lock()
		j.cleanupErr = err
		j.mu.Unlock()
	}
}
