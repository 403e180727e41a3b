// Package syncer drains the offline queue through a caller-supplied delivery
// function, one record at a time, with a bounded retry budget per record.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"feedback-widget/internal/models"
	"feedback-widget/internal/queuestore"
	"feedback-widget/internal/telemetry"
)

// DefaultMaxRetries is the per-record delivery budget.
const DefaultMaxRetries = 3

// DefaultPacing is the pause between records during a drain pass, so a
// reconnect does not burst the whole backlog at the endpoint at once.
const DefaultPacing = 250 * time.Millisecond

// DeliveryFunc attempts network delivery of one record. A nil return means
// confirmed success; any error (including a panic, which the engine converts)
// counts as one failed attempt.
type DeliveryFunc func(ctx context.Context, rec models.QueuedSubmission) error

// Observer receives per-record outcomes during a drain pass. Callbacks are
// side-effect-only and never influence the engine's control flow.
type Observer struct {
	OnSynced func(rec models.QueuedSubmission)
	OnFailed func(rec models.QueuedSubmission, err error)
}

// Report summarizes one drain pass.
type Report struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Engine orchestrates the queue store, the delivery function, and the retry
// budget. It is safe for concurrent use; overlapping Sync calls collapse into
// one pass.
type Engine struct {
	store      *queuestore.Store
	maxRetries int
	pacing     time.Duration
	online     func() bool
	observer   Observer
	log        zerolog.Logger

	mu      sync.RWMutex
	deliver DeliveryFunc

	syncing atomic.Bool
}

// Options configures an Engine.
type Options struct {
	Store      *queuestore.Store
	MaxRetries int
	// Pacing is the fixed pause between records. Negative disables it;
	// zero means DefaultPacing.
	Pacing time.Duration
	// Online gates drain passes; nil means always online.
	Online   func() bool
	Observer Observer
	Logger   zerolog.Logger
}

// New builds a sync engine.
func New(opts Options) *Engine {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	pacing := opts.Pacing
	if pacing == 0 {
		pacing = DefaultPacing
	}
	if pacing < 0 {
		pacing = 0
	}
	return &Engine{
		store:      opts.Store,
		maxRetries: maxRetries,
		pacing:     pacing,
		online:     opts.Online,
		observer:   opts.Observer,
		log:        opts.Logger.With().Str("component", "syncer").Logger(),
	}
}

// SetDelivery registers the delivery function. Supplied once by the facade.
func (e *Engine) SetDelivery(fn DeliveryFunc) {
	e.mu.Lock()
	e.deliver = fn
	e.mu.Unlock()
}

// Enqueue stamps queue bookkeeping onto a submission and persists it.
func (e *Engine) Enqueue(ctx context.Context, sub models.Submission, screenshotRef string) (string, error) {
	rec := models.QueuedSubmission{
		ID:            models.NewQueueID(time.Now()),
		Submission:    sub,
		ScreenshotRef: screenshotRef,
		CreatedAt:     time.Now().UTC(),
		RetryCount:    0,
	}
	if err := e.store.Enqueue(ctx, rec); err != nil {
		return "", fmt.Errorf("enqueue submission: %w", err)
	}
	telemetry.EnqueuedCounter.Inc()
	telemetry.QueueDepthGauge.Set(float64(e.store.Count(ctx)))
	e.log.Info().Str("id", rec.ID).Msg("submission queued for later delivery")
	return rec.ID, nil
}

// PendingCount returns the number of records waiting for delivery.
func (e *Engine) PendingCount(ctx context.Context) int {
	return e.store.Count(ctx)
}

// Sync runs one drain pass over the queue. It is a deliberate no-op returning
// a zero report when offline, when no delivery function is registered, or when
// another pass is already in flight. It never returns an error: per-record
// failures become counters and observer callbacks.
func (e *Engine) Sync(ctx context.Context) Report {
	if e.online != nil && !e.online() {
		e.log.Debug().Msg("sync skipped: offline")
		return Report{}
	}
	e.mu.RLock()
	deliver := e.deliver
	e.mu.RUnlock()
	if deliver == nil {
		e.log.Debug().Msg("sync skipped: no delivery function")
		return Report{}
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.log.Debug().Msg("sync skipped: pass already in flight")
		return Report{}
	}
	defer e.syncing.Store(false)

	// Snapshot fixes the FIFO order for this pass; the store is re-read by
	// every mutation, so records enqueued mid-pass wait for the next one.
	pending := e.store.List(ctx)
	if len(pending) == 0 {
		return Report{}
	}
	e.log.Info().Int("pending", len(pending)).Msg("drain pass started")

	var report Report
	for i, rec := range pending {
		if i > 0 && e.pacing > 0 {
			select {
			case <-ctx.Done():
				e.log.Warn().Int("remaining", len(pending)-i).Msg("drain pass interrupted")
				return report
			case <-time.After(e.pacing):
			}
		}

		// Terminal give-up: evict without another delivery attempt.
		if rec.RetryCount >= e.maxRetries {
			if err := e.store.Remove(ctx, rec.ID); err != nil {
				e.log.Error().Err(err).Str("id", rec.ID).Msg("evict failed")
			}
			report.Failed++
			telemetry.DroppedCounter.Inc()
			e.log.Warn().Str("id", rec.ID).Int("retries", rec.RetryCount).Msg("retry budget exhausted, dropping")
			e.notifyFailed(rec, fmt.Errorf("retry budget exhausted after %d attempts", rec.RetryCount))
			continue
		}

		err := e.attempt(ctx, deliver, rec)
		if err == nil {
			if err := e.store.Remove(ctx, rec.ID); err != nil {
				e.log.Error().Err(err).Str("id", rec.ID).Msg("remove after delivery failed")
			}
			report.Succeeded++
			telemetry.SyncedCounter.Inc()
			e.log.Info().Str("id", rec.ID).Msg("queued submission delivered")
			if e.observer.OnSynced != nil {
				e.observer.OnSynced(rec)
			}
			continue
		}

		rec.RetryCount++
		if rec.RetryCount >= e.maxRetries {
			// Budget spent on this very attempt; dropping now instead of
			// leaving the record for a pass that would only evict it.
			if rerr := e.store.Remove(ctx, rec.ID); rerr != nil {
				e.log.Error().Err(rerr).Str("id", rec.ID).Msg("evict failed")
			}
			telemetry.DroppedCounter.Inc()
			e.log.Warn().Err(err).Str("id", rec.ID).Int("retries", rec.RetryCount).Msg("delivery failed, retry budget exhausted, dropping")
		} else {
			if uerr := e.store.Update(ctx, rec); uerr != nil {
				e.log.Error().Err(uerr).Str("id", rec.ID).Msg("persist retry count failed")
			}
			e.log.Warn().Err(err).Str("id", rec.ID).Int("retries", rec.RetryCount).Msg("delivery failed")
		}
		report.Failed++
		telemetry.SyncFailures.Inc()
		e.notifyFailed(rec, err)
	}

	telemetry.QueueDepthGauge.Set(float64(e.store.Count(ctx)))
	e.log.Info().Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("drain pass finished")
	return report
}

// attempt runs the delivery function, converting a panic into a failed attempt
// so one poisoned record cannot kill the pass.
func (e *Engine) attempt(ctx context.Context, deliver DeliveryFunc, rec models.QueuedSubmission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	return deliver(ctx, rec)
}

func (e *Engine) notifyFailed(rec models.QueuedSubmission, err error) {
	if e.observer.OnFailed != nil {
		e.observer.OnFailed(rec, err)
	}
}
