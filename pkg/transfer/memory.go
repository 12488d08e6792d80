package transfer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps intents in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	intents map[uuid.UUID]*Intent
	now     func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		intents: make(map[uuid.UUID]*Intent),
		now:     time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, intent *Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[intent.ID] = intent.Clone()
	return nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update Update) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := intent.Clone()
	if err := Apply(next, update, r.now()); err != nil {
		return nil, err
	}
	r.intents[id] = next
	return next.Clone(), nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	intent, ok := r.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return intent.Clone(), nil
}

func (r *MemoryRepository) ListStale(ctx context.Context, olderThan time.Time, limit int, statuses ...Status) ([]*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	r.mu.RLock()
	var out []*Intent
	for _, intent := range r.intents {
		if wanted[intent.Status] && intent.UpdatedAt.Before(olderThan) {
			out = append(out, intent.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
