package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedback-widget/internal/kv"
	"feedback-widget/internal/models"
	"feedback-widget/internal/queuestore"
)

func newEngine(t *testing.T, opts Options) (*Engine, *queuestore.Store) {
	t.Helper()
	store := queuestore.New(kv.NewMemory(), zerolog.Nop())
	opts.Store = store
	opts.Pacing = -1 // no inter-record pause in tests
	opts.Logger = zerolog.Nop()
	return New(opts), store
}

func submission(title string) models.Submission {
	return models.Submission{
		Type:        models.TypeBug,
		Priority:    models.PriorityHigh,
		Title:       title,
		Description: "something broke",
	}
}

func TestEnqueue_StampsBookkeeping(t *testing.T) {
	e, store := newEngine(t, Options{})
	ctx := context.Background()

	id, err := e.Enqueue(ctx, submission("one"), "shot.png")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	items := store.List(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "shot.png", items[0].ScreenshotRef)
	assert.Equal(t, 0, items[0].RetryCount)
	assert.False(t, items[0].CreatedAt.IsZero())
	assert.Equal(t, 1, e.PendingCount(ctx))
}

func TestSync_DrainsAllOnSuccess(t *testing.T) {
	e, _ := newEngine(t, Options{})
	ctx := context.Background()

	var delivered []string
	e.SetDelivery(func(_ context.Context, rec models.QueuedSubmission) error {
		delivered = append(delivered, rec.Submission.Title)
		return nil
	})

	for _, title := range []string{"first", "second", "third"} {
		_, err := e.Enqueue(ctx, submission(title), "")
		require.NoError(t, err)
	}

	report := e.Sync(ctx)
	assert.Equal(t, Report{Succeeded: 3, Failed: 0}, report)
	assert.Equal(t, 0, e.PendingCount(ctx))
	assert.Equal(t, []string{"first", "second", "third"}, delivered, "strict FIFO order")
}

func TestSync_IncrementsRetryCountByExactlyOne(t *testing.T) {
	e, store := newEngine(t, Options{MaxRetries: 5})
	ctx := context.Background()

	e.SetDelivery(func(context.Context, models.QueuedSubmission) error {
		return errors.New("endpoint down")
	})
	_, err := e.Enqueue(ctx, submission("stuck"), "")
	require.NoError(t, err)

	for pass := 1; pass <= 3; pass++ {
		report := e.Sync(ctx)
		assert.Equal(t, Report{Succeeded: 0, Failed: 1}, report)
		items := store.List(ctx)
		require.Len(t, items, 1)
		assert.Equal(t, pass, items[0].RetryCount)
	}
}

func TestSync_EvictsWhenBudgetExhausted(t *testing.T) {
	e, store := newEngine(t, Options{MaxRetries: 3})
	ctx := context.Background()

	attempts := 0
	var failures []error
	e.observer = Observer{OnFailed: func(_ models.QueuedSubmission, err error) {
		failures = append(failures, err)
	}}
	e.SetDelivery(func(context.Context, models.QueuedSubmission) error {
		attempts++
		return errors.New("always fails")
	})
	_, err := e.Enqueue(ctx, submission("doomed"), "")
	require.NoError(t, err)

	// Three failing passes spend the whole budget; the third evicts.
	for i := 0; i < 3; i++ {
		assert.Equal(t, Report{Succeeded: 0, Failed: 1}, e.Sync(ctx))
	}
	assert.Equal(t, 3, attempts)
	assert.Empty(t, store.List(ctx))
	assert.Len(t, failures, 3)

	// The fourth pass finds nothing to do.
	assert.Equal(t, Report{}, e.Sync(ctx))
	assert.Equal(t, 3, attempts, "no delivery attempt after eviction")
}

func TestSync_EvictsAtBudgetWithoutDeliveryAttempt(t *testing.T) {
	e, store := newEngine(t, Options{MaxRetries: 2})
	ctx := context.Background()

	// A record already at the budget, e.g. persisted by a run with a larger
	// MaxRetries, is dropped without touching the delivery function.
	require.NoError(t, store.Enqueue(ctx, models.QueuedSubmission{
		ID:         "stale",
		Submission: submission("stale"),
		RetryCount: 2,
	}))

	attempts := 0
	e.SetDelivery(func(context.Context, models.QueuedSubmission) error {
		attempts++
		return nil
	})

	report := e.Sync(ctx)
	assert.Equal(t, Report{Succeeded: 0, Failed: 1}, report)
	assert.Equal(t, 0, attempts)
	assert.Empty(t, store.List(ctx))
}

func TestSync_OfflineIsNoOp(t *testing.T) {
	e, _ := newEngine(t, Options{Online: func() bool { return false }})
	ctx := context.Background()
	e.SetDelivery(func(context.Context, models.QueuedSubmission) error { return nil })
	_, err := e.Enqueue(ctx, submission("waiting"), "")
	require.NoError(t, err)

	assert.Equal(t, Report{}, e.Sync(ctx))
	assert.Equal(t, 1, e.PendingCount(ctx))
}

func TestSync_NoDeliveryFunctionIsNoOp(t *testing.T) {
	e, _ := newEngine(t, Options{})
	ctx := context.Background()
	_, err := e.Enqueue(ctx, submission("waiting"), "")
	require.NoError(t, err)
	assert.Equal(t, Report{}, e.Sync(ctx))
	assert.Equal(t, 1, e.PendingCount(ctx))
}

func TestSync_ConcurrentPassIsDropped(t *testing.T) {
	e, _ := newEngine(t, Options{})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	e.SetDelivery(func(context.Context, models.QueuedSubmission) error {
		close(started)
		<-release
		return nil
	})
	_, err := e.Enqueue(ctx, submission("slow"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var first Report
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = e.Sync(ctx)
	}()

	<-started
	second := e.Sync(ctx)
	assert.Equal(t, Report{}, second, "overlapping pass must be a no-op")

	close(release)
	wg.Wait()
	assert.Equal(t, Report{Succeeded: 1, Failed: 0}, first)
	assert.Equal(t, 0, e.PendingCount(ctx), "record processed exactly once")
}

func TestSync_MixedOutcomes(t *testing.T) {
	e, store := newEngine(t, Options{MaxRetries: 3})
	ctx := context.Background()

	e.SetDelivery(func(_ context.Context, rec models.QueuedSubmission) error {
		if rec.Submission.Title == "bad" {
			return errors.New("rejected upstream")
		}
		return nil
	})

	_, _ = e.Enqueue(ctx, submission("good"), "")
	_, _ = e.Enqueue(ctx, submission("bad"), "")
	_, _ = e.Enqueue(ctx, submission("good"), "")

	report := e.Sync(ctx)
	assert.Equal(t, Report{Succeeded: 2, Failed: 1}, report)

	items := store.List(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, "bad", items[0].Submission.Title)
	assert.Equal(t, 1, items[0].RetryCount)
}

func TestSync_DeliveryPanicCountsAsFailure(t *testing.T) {
	e, store := newEngine(t, Options{MaxRetries: 3})
	ctx := context.Background()

	e.SetDelivery(func(context.Context, models.QueuedSubmission) error {
		panic("poisoned record")
	})
	_, err := e.Enqueue(ctx, submission("poison"), "")
	require.NoError(t, err)

	report := e.Sync(ctx)
	assert.Equal(t, Report{Succeeded: 0, Failed: 1}, report)
	items := store.List(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
}
