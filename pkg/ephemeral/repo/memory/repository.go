package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tendant/ephemeral/pkg/ephemeral"
)

type record struct {
	hub      ephemeral.Hub
	deadline time.Time
	files    map[string]ephemeral.FileEntry
}

// Repository implements ephemeral.MetadataStore using in-memory storage.
// Each record carries its own deadline, which plays the role of the store's
// native TTL: once it passes the record is treated as absent and purged.
type Repository struct {
	mu      sync.RWMutex
	hubs    map[string]*record
	cleanup map[string]time.Time
	now     func() time.Time
}

// Option configures the in-memory repository
type Option func(*Repository)

// WithClock sets the time source used to evaluate expiry
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New creates a new in-memory repository
func New(opts ...Option) *Repository {
	r := &Repository{
		hubs:    make(map[string]*record),
		cleanup: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Create(ctx context.Context, hub *ephemeral.Hub, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live(hub.ID); ok {
		return ephemeral.ErrAlreadyExists
	}

	// Create a copy to avoid external modifications
	hubCopy := *hub
	hubCopy.Files = nil
	r.hubs[hub.ID] = &record{
		hub:      hubCopy,
		deadline: r.now().Add(ttl),
		files:    make(map[string]ephemeral.FileEntry),
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*ephemeral.Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(id)
	if !ok {
		return nil, ephemeral.ErrHubNotFound
	}

	// Return a copy to prevent external modifications
	hub := rec.hub
	hub.Files = make([]ephemeral.FileEntry, 0, len(rec.files))
	for _, f := range rec.files {
		hub.Files = append(hub.Files, f)
	}
	return &hub, nil
}

func (r *Repository) UpdateText(ctx context.Context, id string, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(id)
	if !ok {
		return ephemeral.ErrHubNotFound
	}
	rec.hub.Content = content
	return nil
}

func (r *Repository) AppendFile(ctx context.Context, id string, entry ephemeral.FileEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(id)
	if !ok {
		return ephemeral.ErrHubNotFound
	}
	rec.files[entry.Filename] = entry
	return nil
}

func (r *Repository) RemoveFile(ctx context.Context, id string, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(id)
	if !ok {
		return ephemeral.ErrHubNotFound
	}
	delete(rec.files, filename)
	return nil
}

func (r *Repository) ScheduleCleanup(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cleanup[id] = at
	return nil
}

func (r *Repository) DueForCleanup(ctx context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type due struct {
		id string
		at time.Time
	}
	var all []due
	for id, at := range r.cleanup {
		if !at.After(now) {
			all = append(all, due{id, at})
		}
	}
	slices.SortFunc(all, func(a, b due) int { return a.at.Compare(b.at) })

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	ids := make([]string, len(all))
	for i, d := range all {
		ids[i] = d.id
	}
	return ids, nil
}

func (r *Repository) CompleteCleanup(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cleanup[id]; !ok {
		return false, nil
	}
	delete(r.cleanup, id)
	return true, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return nil
}

// live returns the record for id if its deadline has not passed, purging it
// otherwise. Callers must hold the write lock.
func (r *Repository) live(id string) (*record, bool) {
	rec, ok := r.hubs[id]
	if !ok {
		return nil, false
	}
	if !r.now().Before(rec.deadline) {
		delete(r.hubs, id)
		return nil, false
	}
	return rec, true
}

var _ ephemeral.MetadataStore = (*Repository)(nil)
