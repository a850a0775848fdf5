package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/drummonds/elibrary/engine/imagecache"
	"github.com/drummonds/elibrary/library"
)

// JobState tracks a render job: started, running, succeeded or failed, then delivered
type JobState string

const (
	JobStarted   JobState = "started"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobDelivered JobState = "delivered"
)

// ErrorTitle is the title of every failure shown to the user
const ErrorTitle = "Error"

// RenderJob is one background conversion of one file
type RenderJob struct {
	ID        ulid.ULID
	Path      string
	Kind      Kind
	CreatedAt time.Time

	mu      sync.Mutex
	state   JobState
	outcome JobState
	pages   []imagecache.Page
	err     error
	done    chan struct{}
}

func newRenderJob(path string, kind Kind) *RenderJob {
	return &RenderJob{
		ID:        ulid.Make(),
		Path:      path,
		Kind:      kind,
		CreatedAt: time.Now(),
		state:     JobStarted,
		done:      make(chan struct{}),
	}
}

// State is the current position in the state machine
func (j *RenderJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Outcome is JobSucceeded or JobFailed once the job finished, empty before
func (j *RenderJob) Outcome() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

// Pages are the cached images of a successful job
func (j *RenderJob) Pages() []imagecache.Page {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]imagecache.Page(nil), j.pages...)
}

// Err is the failure of a failed job
func (j *RenderJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done is closed once the outcome was delivered to the presenter
func (j *RenderJob) Done() <-chan struct{} {
	return j.done
}

// FileName is the base name of the rendered file
func (j *RenderJob) FileName() string {
	return filepath.Base(j.Path)
}

var validTransitions = map[JobState][]JobState{
	JobStarted:   {JobRunning, JobFailed},
	JobRunning:   {JobSucceeded, JobFailed},
	JobSucceeded: {JobDelivered},
	JobFailed:    {JobDelivered},
}

func (j *RenderJob) transition(to JobState) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, allowed := range validTransitions[j.state] {
		if allowed == to {
			j.state = to
			switch to {
			case JobSucceeded, JobFailed:
				j.outcome = to
			case JobDelivered:
				close(j.done)
			}
			return nil
		}
	}
	return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.state, to)
}

func (j *RenderJob) finish(pages []imagecache.Page, err error) error {
	j.mu.Lock()
	j.pages = pages
	j.err = err
	j.mu.Unlock()
	if err != nil {
		return j.transition(JobFailed)
	}
	return j.transition(JobSucceeded)
}

// Presenter shows job outcomes. Its methods are only called through the Poster.
// job is nil for errors raised before a job exists.
type Presenter interface {
	ShowLoading(job *RenderJob)
	ShowProgress(job *RenderJob, done, total int)
	ShowImages(job *RenderJob, pages []imagecache.Page)
	ShowError(job *RenderJob, title, message string)
}

// Poster hands a function to the interaction loop
type Poster interface {
	Post(fn func())
}

// PosterFunc adapts a function to Poster
type PosterFunc func(fn func())

// Post implements Poster
func (f PosterFunc) Post(fn func()) {
	f(fn)
}

// Inline runs posted functions straight away on the caller's goroutine,
// for presenters that are safe for concurrent use.
var Inline Poster = PosterFunc(func(fn func()) { fn() })

// Loop is a single goroutine interaction loop draining an unbounded queue
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

// NewLoop creates an idle loop, call Run to start draining it
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn, it never blocks
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes queued functions in order until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		queued := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, fn := range queued {
			fn()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Dispatcher starts one goroutine per render request and delivers the result through the Poster
type Dispatcher struct {
	Library   *library.Library
	Converter *Converter
	Presenter Presenter
	Poster    Poster
	// Context bounds running jobs, defaults to context.Background()
	Context context.Context

	wg sync.WaitGroup
}

// NewDispatcher wires a dispatcher, a nil poster runs presenter calls inline
func NewDispatcher(lib *library.Library, converter *Converter, presenter Presenter, poster Poster) *Dispatcher {
	if poster == nil {
		poster = Inline
	}
	return &Dispatcher{
		Library:   lib,
		Converter: converter,
		Presenter: presenter,
		Poster:    poster,
	}
}

// Select resolves fileName in loc and submits it. A missing file is reported
// to the presenter and no job is started.
func (d *Dispatcher) Select(loc library.Location, fileName string) (*RenderJob, error) {
	path, err := d.Library.Resolve(loc, fileName)
	if err != nil {
		message := err.Error()
		if errors.Is(err, library.ErrFileNotFound) {
			message = fmt.Sprintf("File not found: %s", filepath.Join(loc.Dir(d.Library.Base), filepath.Base(fileName)))
		}
		Logger.Warn("Unable to select file", "location", loc.Title(), "file", fileName, "error", err)
		d.Poster.Post(func() { d.Presenter.ShowError(nil, ErrorTitle, message) })
		return nil, err
	}
	return d.Submit(path)
}

// Submit starts rendering path in the background and returns at once
func (d *Dispatcher) Submit(path string) (*RenderJob, error) {
	kind, err := DetectKind(path)
	if err != nil {
		d.Poster.Post(func() { d.Presenter.ShowError(nil, ErrorTitle, err.Error()) })
		return nil, err
	}

	job := newRenderJob(path, kind)
	Logger.Info("Render job started", "jobID", job.ID.String(), "path", path, "kind", kind)
	d.Poster.Post(func() { d.Presenter.ShowLoading(job) })

	d.wg.Add(1)
	go d.run(job)
	return job, nil
}

// Wait blocks until every submitted job has posted its outcome
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(job *RenderJob) {
	defer d.wg.Done()

	ctx := d.Context
	if ctx == nil {
		ctx = context.Background()
	}

	pages, err := d.convert(ctx, job)
	if ferr := job.finish(pages, err); ferr != nil {
		Logger.Error("Render job state error", "jobID", job.ID.String(), "error", ferr)
	}

	if err != nil {
		message := FailureMessage(job.Kind, err)
		Logger.Error("Render job failed", "jobID", job.ID.String(), "path", job.Path, "error", err)
		d.Poster.Post(func() {
			d.Presenter.ShowError(job, ErrorTitle, message)
			d.deliver(job)
		})
		return
	}
	Logger.Info("Render job succeeded", "jobID", job.ID.String(), "pages", len(pages))
	d.Poster.Post(func() {
		d.Presenter.ShowImages(job, pages)
		d.deliver(job)
	})
}

// convert runs the conversion, a panic becomes an ordinary failure of this job
func (d *Dispatcher) convert(ctx context.Context, job *RenderJob) (pages []imagecache.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic in render job", "jobID", job.ID.String(), "panic", r)
			pages = nil
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	if err := job.transition(JobRunning); err != nil {
		return nil, err
	}
	return d.Converter.Convert(ctx, job.ID.String(), job.Path, func(done, total int) {
		d.Poster.Post(func() { d.Presenter.ShowProgress(job, done, total) })
	})
}

func (d *Dispatcher) deliver(job *RenderJob) {
	if err := job.transition(JobDelivered); err != nil {
		Logger.Error("Render job state error", "jobID", job.ID.String(), "error", err)
	}
}

// FailureMessage is the text shown for a failed job, e.g. "Failed to convert PDF: ..."
func FailureMessage(kind Kind, err error) string {
	reason := err.Error()
	var openErr *OpenError
	if errors.As(err, &openErr) {
		reason = openErr.Err.Error()
	}
	return fmt.Sprintf("Failed to convert %s: %s", kind.Label(), reason)
}
