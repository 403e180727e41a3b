// Package queuestore persists the offline submission queue as one JSON array
// under a single durable key. Durability is best-effort, not transactional: a
// read that fails or decodes badly is treated as an empty queue, and the sync
// engine's retry model tolerates a lost partial write.
package queuestore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"feedback-widget/internal/kv"
	"feedback-widget/internal/models"
)

// DefaultKey is the storage key the queue lives under.
const DefaultKey = "feedback_widget:offline_queue"

// Store owns the serialized queue. Every mutation is a full read-modify-write of
// the collection, guarded by a mutex so concurrent goroutines never interleave
// inside the cycle.
type Store struct {
	mu  sync.Mutex
	kv  kv.KV
	key string
	log zerolog.Logger
}

// New builds a queue store over the given KV.
func New(store kv.KV, log zerolog.Logger) *Store {
	return &Store{
		kv:  store,
		key: DefaultKey,
		log: log.With().Str("component", "queuestore").Logger(),
	}
}

// load reads the current queue. Missing or corrupt data comes back as an empty
// queue: the caller must never see a fatal read error.
func (s *Store) load(ctx context.Context) []models.QueuedSubmission {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if err != kv.ErrNotFound {
			s.log.Warn().Err(err).Msg("queue read failed, treating as empty")
		}
		return nil
	}
	var items []models.QueuedSubmission
	if err := json.Unmarshal(raw, &items); err != nil {
		s.log.Warn().Err(err).Msg("queue data corrupt, treating as empty")
		return nil
	}
	return items
}

func (s *Store) save(ctx context.Context, items []models.QueuedSubmission) error {
	if len(items) == 0 {
		return s.kv.Delete(ctx, s.key)
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, s.key, raw)
}

// Enqueue appends item to the back of the queue.
func (s *Store) Enqueue(ctx context.Context, item models.QueuedSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.load(ctx)
	items = append(items, item)
	return s.save(ctx, items)
}

// List returns the queued submissions in insertion (FIFO) order.
func (s *Store) List(ctx context.Context) []models.QueuedSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Remove deletes the record with the given id. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.load(ctx)
	kept := items[:0]
	for _, item := range items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	return s.save(ctx, kept)
}

// Update replaces the record matching item.ID in place. Absent id is a no-op.
func (s *Store) Update(ctx context.Context, item models.QueuedSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.load(ctx)
	changed := false
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}
	return s.save(ctx, items)
}

// Clear drops the whole queue.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(ctx, s.key)
}

// Count returns the number of pending records.
func (s *Store) Count(ctx context.Context) int {
	return len(s.List(ctx))
}
