package queuestore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedback-widget/internal/kv"
	"feedback-widget/internal/models"
)

func newStore() *Store {
	return New(kv.NewMemory(), zerolog.Nop())
}

func record(id string) models.QueuedSubmission {
	return models.QueuedSubmission{
		ID: id,
		Submission: models.Submission{
			Type:        models.TypeBug,
			Priority:    models.PriorityMedium,
			Title:       "title " + id,
			Description: "description",
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_FIFOOrder(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Enqueue(ctx, record(id)))
	}

	items := s.List(ctx)
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "c", items[2].ID)
	assert.Equal(t, 3, s.Count(ctx))
}

func TestStore_Remove(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, record("a")))
	require.NoError(t, s.Enqueue(ctx, record("b")))

	require.NoError(t, s.Remove(ctx, "a"))
	items := s.List(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)

	// Absent id is a no-op.
	require.NoError(t, s.Remove(ctx, "ghost"))
	assert.Equal(t, 1, s.Count(ctx))
}

func TestStore_UpdateReplacesByID(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, record("a")))
	require.NoError(t, s.Enqueue(ctx, record("b")))

	updated := record("a")
	updated.RetryCount = 2
	require.NoError(t, s.Update(ctx, updated))

	items := s.List(ctx)
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].RetryCount)
	assert.Equal(t, "a", items[0].ID, "update must not reorder")
	assert.Equal(t, 0, items[1].RetryCount)

	// Updating an absent id changes nothing.
	ghost := record("ghost")
	require.NoError(t, s.Update(ctx, ghost))
	assert.Equal(t, 2, s.Count(ctx))
}

func TestStore_CorruptDataIsEmptyQueue(t *testing.T) {
	backing := kv.NewMemory()
	ctx := context.Background()
	require.NoError(t, backing.Put(ctx, DefaultKey, []byte("{not json")))

	s := New(backing, zerolog.Nop())
	assert.Empty(t, s.List(ctx))
	assert.Equal(t, 0, s.Count(ctx))

	// The store recovers: a fresh enqueue works over the corrupt blob.
	require.NoError(t, s.Enqueue(ctx, record("a")))
	assert.Equal(t, 1, s.Count(ctx))
}

func TestStore_Clear(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, record("a")))
	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Count(ctx))
}
