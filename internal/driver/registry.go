package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-dispatch/internal/buslock"
)

// PHISpec describes one PHI instance to load.
type PHISpec struct {
	ID     string
	Type   string
	Bus    string
	Config map[string]any
}

// LPISpec describes one LPI instance to load, bound to an item.
type LPISpec struct {
	Item   string
	Type   string
	PHI    string
	Config map[string]any
}

// PHIFactory builds a PHI from its spec. Configuration problems must be
// reported as ErrInvalidConfig.
type PHIFactory func(ctx context.Context, spec PHISpec, logger Logger) (PHI, error)

// LPIFactory builds an LPI bound to phi.
type LPIFactory func(spec LPISpec, phi PHI) (LPI, error)

// Registry owns every loaded PHI and LPI instance.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	phiFactories map[string]PHIFactory
	lpiFactories map[string]LPIFactory
	phis         map[string]PHI
	lpis         map[string]LPI
	onEvent      func(Event)

	locks  *buslock.Registry
	logger Logger
}

// NewRegistry creates an empty registry. PHIs declaring a bus are guarded
// by locks.
func NewRegistry(locks *buslock.Registry) *Registry {
	return &Registry{
		phiFactories: make(map[string]PHIFactory),
		lpiFactories: make(map[string]LPIFactory),
		phis:         make(map[string]PHI),
		lpis:         make(map[string]LPI),
		locks:        locks,
		logger:       NoopLogger{},
	}
}

// SetLogger sets the logger for the registry and drivers it builds.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RegisterPHIType makes a PHI implementation available under name.
func (r *Registry) RegisterPHIType(name string, f PHIFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phiFactories[name] = f
}

// RegisterLPIType makes an LPI implementation available under name.
func (r *Registry) RegisterLPIType(name string, f LPIFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lpiFactories[name] = f
}

// LoadPHI builds and registers a PHI instance.
func (r *Registry) LoadPHI(ctx context.Context, spec PHISpec) (PHI, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: phi id is required", ErrInvalidConfig)
	}

	r.mu.RLock()
	factory, ok := r.phiFactories[spec.Type]
	_, exists := r.phis[spec.ID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: phi %s: unknown type %q", ErrInvalidConfig, spec.ID, spec.Type)
	}
	if exists {
		return nil, fmt.Errorf("%w: phi %s: duplicate id", ErrInvalidConfig, spec.ID)
	}

	phi, err := factory(ctx, spec, r.logger)
	if err != nil {
		if !errors.Is(err, ErrInvalidConfig) {
			err = fmt.Errorf("%w: %w", ErrDriverError, err)
		}
		return nil, fmt.Errorf("phi %s: %w", spec.ID, err)
	}

	if spec.Bus != "" && r.locks != nil {
		phi = GuardBus(phi, spec.Bus, r.locks)
	}

	r.mu.Lock()
	r.phis[spec.ID] = phi
	handler := r.onEvent
	r.mu.Unlock()

	if handler != nil {
		phi.SetEventHandler(handler)
	}

	r.logger.Info("phi loaded", "phi", spec.ID, "type", spec.Type, "bus", spec.Bus)
	return phi, nil
}

// LoadLPI builds and registers an LPI instance for an item.
func (r *Registry) LoadLPI(spec LPISpec) (LPI, error) {
	if spec.Item == "" {
		return nil, fmt.Errorf("%w: lpi item is required", ErrInvalidConfig)
	}

	r.mu.RLock()
	factory, ok := r.lpiFactories[spec.Type]
	phi, phiFound := r.phis[spec.PHI]
	_, exists := r.lpis[spec.Item]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: item %s: unknown lpi type %q", ErrInvalidConfig, spec.Item, spec.Type)
	}
	if exists {
		return nil, fmt.Errorf("%w: item %s: duplicate lpi", ErrInvalidConfig, spec.Item)
	}
	if !phiFound {
		return nil, fmt.Errorf("%w: item %s: phi %q", ErrResourceNotFound, spec.Item, spec.PHI)
	}

	lpi, err := factory(spec, phi)
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", spec.Item, err)
	}

	r.mu.Lock()
	r.lpis[spec.Item] = lpi
	r.mu.Unlock()

	r.logger.Debug("lpi loaded", "item", spec.Item, "type", spec.Type, "phi", spec.PHI)
	return lpi, nil
}

// LoadAll loads every PHI then every LPI. A failing instance is logged and
// skipped; the others still load. The joined failures are returned.
func (r *Registry) LoadAll(ctx context.Context, phis []PHISpec, lpis []LPISpec) error {
	var errs []error

	for _, spec := range phis {
		if _, err := r.LoadPHI(ctx, spec); err != nil {
			r.logger.Error("phi load failed", "phi", spec.ID, "error", err)
			errs = append(errs, err)
		}
	}
	for _, spec := range lpis {
		if _, err := r.LoadLPI(spec); err != nil {
			r.logger.Error("lpi load failed", "item", spec.Item, "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// PHI returns a loaded PHI by id.
func (r *Registry) PHI(id string) (PHI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	phi, ok := r.phis[id]
	if !ok {
		return nil, fmt.Errorf("%w: phi %q", ErrResourceNotFound, id)
	}
	return phi, nil
}

// LPI returns the LPI bound to an item.
func (r *Registry) LPI(itemID string) (LPI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lpi, ok := r.lpis[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: item %q has no driver", ErrResourceNotFound, itemID)
	}
	return lpi, nil
}

// ItemsForPHI returns the items whose LPI is bound to phiID, sorted.
func (r *Registry) ItemsForPHI(phiID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []string
	for id, lpi := range r.lpis {
		if lpi.PHI() == phiID {
			items = append(items, id)
		}
	}
	sort.Strings(items)
	return items
}

// PHIIDs returns the ids of all loaded PHIs, sorted.
func (r *Registry) PHIIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.phis))
	for id := range r.phis {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetEventHandler installs fn on every loaded PHI and on PHIs loaded later.
func (r *Registry) SetEventHandler(fn func(Event)) {
	r.mu.Lock()
	r.onEvent = fn
	phis := make([]PHI, 0, len(r.phis))
	for _, phi := range r.phis {
		phis = append(phis, phi)
	}
	r.mu.Unlock()

	for _, phi := range phis {
		phi.SetEventHandler(fn)
	}
}

// Close closes every PHI and forgets all instances.
func (r *Registry) Close() error {
	r.mu.Lock()
	phis := r.phis
	r.phis = make(map[string]PHI)
	r.lpis = make(map[string]LPI)
	r.mu.Unlock()

	var errs []error
	for id, phi := range phis {
		if err := phi.Close(); err != nil {
			errs = append(errs, fmt.Errorf("phi %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
