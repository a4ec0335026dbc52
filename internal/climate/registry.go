package climate

import (
	"fmt"
	"sort"
	"sync"
)

// Listener receives entity snapshots whenever an entity writes its state.
type Listener func(State)

// Registry tracks the climate entities exposed by the running plugins.
type Registry struct {
	mu        sync.RWMutex
	entities  map[string]Entity
	listeners map[int]Listener
	nextID    int
}

func NewRegistry() *Registry {
	return &Registry{
		entities:  make(map[string]Entity),
		listeners: make(map[int]Listener),
	}
}

// Add registers entities; nothing is added when any id is already taken.
func (r *Registry) Add(entities ...Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(entities))
	for _, entity := range entities {
		id := entity.UniqueID()
		if _, ok := r.entities[id]; ok || seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateEntity, id)
		}
		seen[id] = true
	}
	for _, entity := range entities {
		r.entities[entity.UniqueID()] = entity
	}
	return nil
}

func (r *Registry) Remove(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.entities, id)
	}
}

func (r *Registry) Get(id string) (Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return entity, nil
}

// List returns the registered entities sorted by unique id.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	out := make([]Entity, 0, len(r.entities))
	for _, entity := range r.entities {
		out = append(out, entity)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID() < out[j].UniqueID() })
	return out
}

// Subscribe adds a listener and returns a func removing it again.
func (r *Registry) Subscribe(listener Listener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = listener
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// WriteState snapshots entity and pushes the snapshot to all listeners.
func (r *Registry) WriteState(entity Entity) error {
	r.mu.RLock()
	_, ok := r.entities[entity.UniqueID()]
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entity.UniqueID())
	}

	state, err := entity.State()
	if err != nil {
		return err
	}
	for _, l := range listeners {
		l(state)
	}
	return nil
}

// States snapshots every entity, skipping the ones that fail to map.
func (r *Registry) States() ([]State, []error) {
	var (
		states []State
		errs   []error
	)
	for _, entity := range r.List() {
		state, err := entity.State()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entity.UniqueID(), err))
			continue
		}
		states = append(states, state)
	}
	return states, errs
}
