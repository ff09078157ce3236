// Package reconcile polls processors for the terminal state of pending
// donation requests. It has no scheduler of its own: every run is triggered
// from outside (Pub/Sub push, ops endpoint or the pbd-ops CLI).
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/poweredbydonation/pbd_backend/config"
	"github.com/poweredbydonation/pbd_backend/donation"
	"github.com/poweredbydonation/pbd_backend/gateway"
	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const lockKey = "lock:reconcile"

var ErrRunInProgress = errors.New("reconcile run already in progress")

// Locker is the subset of redislock.Client the poller needs.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

type Summary struct {
	RunID           uint  `json:"runId,omitempty"`
	Checked         int   `json:"checked"`
	Succeeded       int   `json:"succeeded"`
	Reviewed        int   `json:"reviewed"`
	TimedOut        int   `json:"timedOut"`
	Skipped         int   `json:"skipped"`
	Unchanged       int   `json:"unchanged"`
	Errors          int   `json:"errors"`
	TransportErrors int   `json:"transportErrors"`
	DurationMs      int64 `json:"durationMs"`
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeSucceeded
	outcomeReviewed
	outcomeTimedOut
	outcomeSkipped
	outcomeError
)

// rowError carries the reconcile_errors classification for one row.
type rowError struct {
	code      string
	retryable bool
	payload   []byte
	err       error
}

func (e *rowError) Error() string { return e.code + ": " + e.err.Error() }

func (e *rowError) Unwrap() error { return e.err }

type Options struct {
	BatchSize int
	LockTTL   time.Duration
	Now       func() time.Time
	Logger    *logrus.Logger
	// Runs and Locker are optional; without them runs are not persisted or serialised.
	Runs   *RunStore
	Locker Locker
}

type Poller struct {
	store     donation.Store
	gateways  *gateway.Registry
	runs      *RunStore
	locker    Locker
	batchSize int
	lockTTL   time.Duration
	now       func() time.Time
	logger    *logrus.Logger
	tracer    trace.Tracer
}

func NewPoller(store donation.Store, gateways *gateway.Registry, opts Options) *Poller {
	p := &Poller{
		store:     store,
		gateways:  gateways,
		runs:      opts.Runs,
		locker:    opts.Locker,
		batchSize: opts.BatchSize,
		lockTTL:   opts.LockTTL,
		now:       opts.Now,
		logger:    opts.Logger,
		tracer:    otel.Tracer("github.com/poweredbydonation/pbd_backend/reconcile"),
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	if p.lockTTL <= 0 {
		p.lockTTL = 10 * time.Minute
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = config.GetLogger()
	}
	return p
}

// RunOnce reconciles every pending request once. Row failures are counted
// and recorded, never returned; the error is reserved for failures that
// stop the whole run.
func (p *Poller) RunOnce(ctx context.Context, trigger string) (*Summary, error) {
	ctx, span := p.tracer.Start(ctx, "reconcile.run", trace.WithAttributes(attribute.String("trigger", trigger)))
	defer span.End()

	release, err := p.acquire(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	started := p.now().UTC()
	sum := &Summary{}
	var run *models.ReconcileRun
	if p.runs != nil {
		run, err = p.runs.Start(ctx, trigger, started)
		if err != nil {
			config.LogError(p.logger, "reconcile", "RunOnce", "start run", nil, err)
		} else {
			sum.RunID = run.ID
		}
	}

	afterID := ""
	for {
		batch, err := p.store.ListPending(ctx, afterID, p.batchSize)
		if err != nil {
			p.finish(ctx, run, models.ReconcileRunStatusFailed, sum, started)
			span.SetStatus(codes.Error, err.Error())
			return sum, fmt.Errorf("list pending: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, req := range batch {
			afterID = req.ID
			if ctx.Err() != nil {
				p.finish(ctx, run, models.ReconcileRunStatusFailed, sum, started)
				return sum, ctx.Err()
			}
			p.process(ctx, run, req, sum)
		}
		if len(batch) < p.batchSize {
			break
		}
	}

	status := models.ReconcileRunStatusSuccess
	if sum.Errors > 0 {
		status = models.ReconcileRunStatusPartial
	}
	p.finish(ctx, run, status, sum, started)
	span.SetAttributes(
		attribute.Int("checked", sum.Checked),
		attribute.Int("succeeded", sum.Succeeded),
		attribute.Int("reviewed", sum.Reviewed),
		attribute.Int("timed_out", sum.TimedOut),
		attribute.Int("errors", sum.Errors),
	)
	return sum, nil
}

func (p *Poller) acquire(ctx context.Context) (func(), error) {
	if p.locker == nil {
		return func() {}, nil
	}
	lock, err := p.locker.Obtain(ctx, lockKey, p.lockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		// conditional writes keep overlapping runs safe; carry on unlocked
		p.logger.WithError(err).Warn("reconcile lock unavailable, running without it")
		return func() {}, nil
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			p.logger.WithError(err).Warn("reconcile lock release failed")
		}
	}, nil
}

func (p *Poller) process(ctx context.Context, run *models.ReconcileRun, req models.DonationRequest, sum *Summary) {
	sum.Checked++
	out, err := p.reconcileOne(ctx, req)
	switch out {
	case outcomeSucceeded:
		sum.Succeeded++
	case outcomeReviewed:
		sum.Reviewed++
	case outcomeTimedOut:
		sum.TimedOut++
	case outcomeSkipped:
		sum.Skipped++
	case outcomeUnchanged:
		sum.Unchanged++
	case outcomeError:
		sum.Errors++
		if errors.Is(err, gateway.ErrTransport) {
			sum.TransportErrors++
		}
		p.recordError(ctx, run, req, err)
	}
}

// reconcileOne never panics; a panic in one row becomes that row's error.
func (p *Poller) reconcileOne(ctx context.Context, req models.DonationRequest) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = outcomeError
			err = &rowError{code: "panic", err: fmt.Errorf("%v", r)}
		}
	}()

	now := p.now().UTC()
	if req.Expired(now) {
		return p.resolve(p.store.MarkReview(ctx, req.ID, models.ReviewReasonTimeout, now), outcomeTimedOut)
	}

	gw, err := p.gateways.For(req.Platform)
	if err != nil {
		return outcomeSkipped, nil
	}
	lookup, err := gw.GetDonationByReference(ctx, req.ReferenceId)
	if errors.Is(err, gateway.ErrUnsupported) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeError, &rowError{code: "transport", retryable: true, err: err}
	}
	if !lookup.Found || lookup.Donation == nil {
		return outcomeUnchanged, nil
	}

	d := lookup.Donation
	switch d.Status {
	case gateway.DonationStatusAccepted:
		err := p.store.MarkSuccess(ctx, req.ID, d.ID, models.ConfirmedViaPoller, now)
		if errors.Is(err, donation.ErrExternalIDConflict) {
			return outcomeError, &rowError{code: "external_id_conflict", payload: d.Raw, err: err}
		}
		return p.resolve(err, outcomeSucceeded)
	case gateway.DonationStatusRejected:
		return p.resolve(p.store.MarkReview(ctx, req.ID, models.ReviewReasonRejected, now), outcomeReviewed)
	default:
		return outcomeUnchanged, nil
	}
}

// resolve maps a transition result: losing the race to another writer is
// a quiet no-op.
func (p *Poller) resolve(err error, success outcome) (outcome, error) {
	switch {
	case err == nil:
		return success, nil
	case errors.Is(err, donation.ErrAlreadyResolved):
		return outcomeUnchanged, nil
	default:
		return outcomeError, &rowError{code: "store", retryable: true, err: err}
	}
}

func (p *Poller) recordError(ctx context.Context, run *models.ReconcileRun, req models.DonationRequest, err error) {
	re := &rowError{code: "unknown", err: err}
	errors.As(err, &re)

	fields := logrus.Fields{
		"module":       "reconcile",
		"request_id":   req.ID,
		"reference_id": req.ReferenceId,
		"platform":     req.Platform,
		"error_code":   re.code,
	}
	p.logger.WithFields(fields).WithError(err).Error("reconcile row failed")

	if p.runs == nil || run == nil {
		return
	}
	payload := re.payload
	if len(payload) == 0 || !json.Valid(payload) {
		payload = nil
	}
	rec := &models.ReconcileError{
		RunId:       run.ID,
		RequestId:   req.ID,
		ReferenceId: req.ReferenceId,
		Platform:    req.Platform,
		ErrorCode:   re.code,
		Message:     err.Error(),
		PayloadJSON: payload,
		Retryable:   re.retryable,
	}
	if err := p.runs.RecordError(context.WithoutCancel(ctx), rec); err != nil {
		config.LogError(p.logger, "reconcile", "recordError", "persist row error", fields, err)
	}
}

func (p *Poller) finish(ctx context.Context, run *models.ReconcileRun, status string, sum *Summary, started time.Time) {
	finished := p.now().UTC()
	sum.DurationMs = finished.Sub(started).Milliseconds()

	p.logger.WithFields(logrus.Fields{
		"module":     "reconcile",
		"run_id":     sum.RunID,
		"status":     status,
		"checked":    sum.Checked,
		"succeeded":  sum.Succeeded,
		"reviewed":   sum.Reviewed,
		"timed_out":  sum.TimedOut,
		"skipped":    sum.Skipped,
		"unchanged":  sum.Unchanged,
		"errors":     sum.Errors,
		"durationMs": sum.DurationMs,
	}).Info("reconcile run finished")

	if p.runs == nil || run == nil {
		return
	}
	if err := p.runs.Finish(context.WithoutCancel(ctx), run, status, *sum, finished); err != nil {
		config.LogError(p.logger, "reconcile", "finish", "persist run", nil, err)
	}
}
