package item

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides item lookups with caching and thread safety.
// The cache is populated by RefreshCache and kept in sync by the mutating
// methods.
type Registry struct {
	repo    Repository
	cache   map[string]*Item
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new item registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Item),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all items from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	items, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading items: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Item, len(items))
	for i := range items {
		r.cache[items[i].ID] = items[i].DeepCopy()
	}
	r.logger.Info("item cache refreshed", "count", len(items))
	return nil
}

// GetItem retrieves an item by ID. Returns ErrItemNotFound, which matches
// driver.ErrResourceNotFound, if the item does not exist.
func (r *Registry) GetItem(ctx context.Context, id string) (*Item, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	it, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = it.DeepCopy()
	r.cacheMu.Unlock()
	return it, nil
}

// ListItems returns all cached items ordered by ID.
func (r *Registry) ListItems() []Item {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	items := make([]Item, 0, len(r.cache))
	for _, it := range r.cache {
		items = append(items, *it.DeepCopy())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// ItemsForPHI returns the IDs of cached items bound to the given PHI.
func (r *Registry) ItemsForPHI(phiID string) []string {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var ids []string
	for id, it := range r.cache {
		if it.PHIID == phiID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CreateItem validates and persists a new item.
func (r *Registry) CreateItem(ctx context.Context, it *Item) error {
	if err := ValidateItem(it); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, it); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[it.ID] = it.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("item created", "id", it.ID, "lpi", it.LPIType, "phi", it.PHIID)
	return nil
}

// UpdateItem validates and persists binding changes. The stored state is
// kept.
func (r *Registry) UpdateItem(ctx context.Context, it *Item) error {
	if err := ValidateItem(it); err != nil {
		return err
	}
	existing, err := r.GetItem(ctx, it.ID)
	if err != nil {
		return err
	}
	if err := r.repo.Update(ctx, it); err != nil {
		return err
	}

	updated := it.DeepCopy()
	updated.State = existing.State
	updated.CreatedAt = existing.CreatedAt

	r.cacheMu.Lock()
	r.cache[it.ID] = updated
	r.cacheMu.Unlock()

	r.logger.Info("item updated", "id", it.ID)
	return nil
}

// DeleteItem removes an item.
func (r *Registry) DeleteItem(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("item deleted", "id", id)
	return nil
}

// SetItemState persists the last-known state of an item.
func (r *Registry) SetItemState(ctx context.Context, id string, state State) error {
	if err := r.repo.UpdateState(ctx, id, state); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.State = state.clone()
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("item state updated", "id", id, "status", state.Status)
	return nil
}

// Seed creates every item that does not exist yet and updates the binding
// of those that do, keeping their stored state. It returns the number of
// items created. Invalid items are reported and skipped.
func (r *Registry) Seed(ctx context.Context, items []Item) (int, error) {
	var created int
	var errs []error

	for i := range items {
		it := items[i].DeepCopy()
		it.State = State{}

		_, err := r.GetItem(ctx, it.ID)
		switch {
		case errors.Is(err, ErrItemNotFound):
			if err := r.CreateItem(ctx, it); err != nil {
				errs = append(errs, fmt.Errorf("seeding item %q: %w", it.ID, err))
				continue
			}
			created++
		case err != nil:
			errs = append(errs, fmt.Errorf("seeding item %q: %w", it.ID, err))
		default:
			if err := r.UpdateItem(ctx, it); err != nil {
				errs = append(errs, fmt.Errorf("seeding item %q: %w", it.ID, err))
			}
		}
	}

	r.logger.Info("items seeded", "total", len(items), "created", created, "failed", len(errs))
	return created, errors.Join(errs...)
}

// Count returns the number of cached items.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
