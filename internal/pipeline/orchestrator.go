package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"go-degen-pov/internal/assets"
	"go-degen-pov/internal/compositor"
	"go-degen-pov/internal/detector"
	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/internal/logger"
	"go-degen-pov/internal/observer"
	"go-degen-pov/internal/storage"
	"go-degen-pov/pkg/models"
)

// AssetResolver maps an asset id or group name to its orientation set
type AssetResolver interface {
	Resolve(id string) (assets.AssetSet, error)
}

// Options tunes concurrency and deadlines of the orchestrator
type Options struct {
	Workers        int           // CPU-bound stage goroutines, <= 0 means NumCPU
	MaxInFlight    int           // pipelines running at once
	QueueDepth     int           // pipelines allowed to wait for a slot
	QueueWait      time.Duration // how long a queued pipeline waits before Busy
	DefaultTimeout time.Duration // deadline applied when the request has none
	DefaultAsset   string
}

// DefaultOptions returns the orchestrator defaults
func DefaultOptions() Options {
	return Options{
		Workers:        0,
		MaxInFlight:    8,
		QueueDepth:     32,
		QueueWait:      10 * time.Second,
		DefaultTimeout: 30 * time.Second,
		DefaultAsset:   "hands",
	}
}

// Orchestrator drives one request through fetch, detect and composite
type Orchestrator struct {
	assets     AssetResolver
	fetcher    storage.ImageFetcher
	detector   detector.Detector
	compositor compositor.Compositor
	events     observer.Subject

	pool    *WorkerPool
	slots   *semaphore.Weighted
	waiting atomic.Int64
	opts    Options
}

// NewOrchestrator wires the pipeline stages and starts the worker pool
func NewOrchestrator(
	resolver AssetResolver,
	fetcher storage.ImageFetcher,
	det detector.Detector,
	comp compositor.Compositor,
	events observer.Subject,
	opts Options,
) *Orchestrator {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultOptions().DefaultTimeout
	}
	if events == nil {
		events = observer.NewEventPublisher()
	}

	pool := NewWorkerPool(opts.Workers)
	pool.Start()

	return &Orchestrator{
		assets:     resolver,
		fetcher:    fetcher,
		detector:   det,
		compositor: comp,
		events:     events,
		pool:       pool,
		slots:      semaphore.NewWeighted(int64(opts.MaxInFlight)),
		opts:       opts,
	}
}

// Close waits for running stages and stops the worker pool
func (o *Orchestrator) Close() {
	o.pool.Close()
}

// Run executes the pipeline for req. On success the result is non-nil;
// on failure the error is an *apperrors.AppError carrying the reason.
func (o *Orchestrator) Run(ctx context.Context, req models.PipelineRequest) (*models.CompositeResult, error) {
	if req.AssetID == "" {
		req.AssetID = o.opts.DefaultAsset
	}
	if req.Deadline.IsZero() {
		req.Deadline = time.Now().Add(o.opts.DefaultTimeout)
	}
	ctx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	r := o.begin(ctx, req)

	// unknown assets are rejected before any network traffic
	set, err := o.assets.Resolve(req.AssetID)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	release, err := o.admit(ctx)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	defer release()

	if err := r.advance(ctx, StateFetching); err != nil {
		return nil, err
	}
	src, err := o.fetcher.FetchImage(ctx, req.SourceURL)
	if err != nil {
		return nil, r.fail(ctx, classify(ctx, err, "fetch", apperrors.NewFetchError,
			apperrors.ReasonInvalidInput, apperrors.ReasonFetch))
	}

	if err := r.advance(ctx, StateDetecting); err != nil {
		return nil, err
	}
	anchor, err := runOnPool(ctx, o.pool, func(ctx context.Context) (*models.DetectedAnchor, error) {
		return o.detector.Detect(ctx, src)
	})
	if err != nil {
		return nil, r.fail(ctx, classify(ctx, err, "detection", apperrors.NewInvalidInputError,
			apperrors.ReasonInvalidInput, apperrors.ReasonComposite))
	}
	if anchor == nil {
		return nil, r.fail(ctx, apperrors.NewNoAnchorError("no placement anchor found in image"))
	}

	asset := set.For(src.Width, src.Height)
	r.asset = asset.ID

	if err := r.advance(ctx, StateCompositing); err != nil {
		return nil, err
	}
	result, err := runOnPool(ctx, o.pool, func(ctx context.Context) (*models.CompositeResult, error) {
		return o.compositor.Composite(ctx, src, asset, *anchor)
	})
	if err != nil {
		return nil, r.fail(ctx, classify(ctx, err, "composite", apperrors.NewCompositeError,
			apperrors.ReasonComposite))
	}

	if err := r.advance(ctx, StateDone); err != nil {
		return nil, err
	}
	return result, nil
}

// admit takes a pipeline slot, queueing up to QueueDepth requests for at most QueueWait
func (o *Orchestrator) admit(ctx context.Context) (func(), error) {
	release := func() { o.slots.Release(1) }
	if o.slots.TryAcquire(1) {
		return release, nil
	}

	if o.waiting.Add(1) > int64(o.opts.QueueDepth) {
		o.waiting.Add(-1)
		return nil, apperrors.NewBusyError("too many overlay requests in progress")
	}
	defer o.waiting.Add(-1)

	waitCtx := ctx
	if o.opts.QueueWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.opts.QueueWait)
		defer cancel()
	}
	if err := o.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewTimeoutError("request deadline exceeded while queued", ctx.Err())
		}
		return nil, apperrors.NewBusyError("timed out waiting for a free pipeline slot")
	}
	return release, nil
}

// classify maps a stage error to the pipeline reason taxonomy.
// Deadline expiry always wins; AppErrors with a kept reason pass through
// and everything else is wrapped by wrap.
func classify(ctx context.Context, err error, stage string, wrap func(string, error) *apperrors.AppError, keep ...apperrors.Reason) *apperrors.AppError {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewTimeoutError(stage+" did not finish before the deadline", err)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Reason.Public() == apperrors.ReasonTimeout {
			return appErr
		}
		for _, reason := range keep {
			if appErr.Reason.Public() == reason {
				return appErr
			}
		}
	}
	return wrap(stage+" failed", err)
}

// run tracks the state of a single invocation for event publishing
type run struct {
	o          *Orchestrator
	id         string
	req        models.PipelineRequest
	asset      string
	host       string
	state      State
	prev       State
	started    time.Time
	stateSince time.Time
}

func (o *Orchestrator) begin(ctx context.Context, req models.PipelineRequest) *run {
	now := time.Now()
	r := &run{
		o:          o,
		id:         uuid.NewString(),
		req:        req,
		asset:      req.AssetID,
		host:       logger.HostOf(req.SourceURL),
		state:      StateAccepted,
		started:    now,
		stateSince: now,
	}
	r.publish(ctx, observer.PipelineStarted, nil)
	return r
}

// advance checks the deadline and moves to next, failing with Timeout when it has passed
func (r *run) advance(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return r.fail(ctx, apperrors.NewTimeoutError("request deadline exceeded before "+next.String(), err))
	}
	r.transition(next)

	eventType := observer.StateEntered
	if next == StateDone {
		eventType = observer.PipelineCompleted
	}
	r.publish(ctx, eventType, nil)
	return nil
}

func (r *run) fail(ctx context.Context, err error) error {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewInternalError("pipeline failed", err)
	}
	r.transition(StateFailed)
	r.publish(ctx, observer.PipelineFailed, appErr)
	return appErr
}

func (r *run) transition(next State) {
	if !CanTransition(r.state, next) {
		logger.WithFields(logrus.Fields{
			"request_id": r.id,
			"from":       r.state.String(),
			"to":         next.String(),
		}).Error("Invalid pipeline state transition")
	}
	r.prev = r.state
	r.state = next
}

func (r *run) publish(ctx context.Context, eventType observer.EventType, appErr *apperrors.AppError) {
	now := time.Now()
	event := observer.PipelineEvent{
		EventType: eventType,
		Timestamp: now,
		RequestID: r.id,
		AssetID:   r.asset,
		URLHost:   r.host,
		State:     r.state.String(),
		Elapsed:   now.Sub(r.started),
	}
	if eventType != observer.PipelineStarted {
		event.PreviousState = r.prev.String()
		event.StageDuration = now.Sub(r.stateSince)
	}
	if appErr != nil {
		event.Reason = appErr.Reason.Public()
		event.ErrorMessage = appErr.Message
	}
	r.stateSince = now
	r.o.events.NotifyObservers(ctx, event)
}
