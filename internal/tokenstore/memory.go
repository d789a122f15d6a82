package tokenstore

import (
	"context"
	"sync"
)

// Area is in-memory storage shared by several contexts, the way browser
// local storage is shared by tabs of one origin.
type Area struct {
	mu       sync.Mutex
	values   map[string]string
	watchers map[int]memWatcher
	nextID   int
}

type memWatcher struct {
	owner *MemoryContext
	fn    func(Change)
}

// NewArea returns an empty Area.
func NewArea() *Area {
	return &Area{
		values:   make(map[string]string),
		watchers: make(map[int]memWatcher),
	}
}

// Context returns a new instance attached to the area.
func (a *Area) Context() *MemoryContext {
	return &MemoryContext{area: a}
}

// MemoryContext is one instance on an Area. It implements Backend.
type MemoryContext struct {
	area *Area
}

var _ Backend = (*MemoryContext)(nil)

func (m *MemoryContext) Get(_ context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	m.area.mu.Lock()
	defer m.area.mu.Unlock()
	v, ok := m.area.values[key]
	return v, ok, nil
}

func (m *MemoryContext) Set(_ context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	a := m.area
	a.mu.Lock()
	old, had := a.values[key]
	a.values[key] = value
	var notify []func(Change)
	if !had || old != value {
		notify = a.othersLocked(m)
	}
	a.mu.Unlock()

	for _, fn := range notify {
		fn(Change{Key: key, Value: value, Present: true})
	}
	return nil
}

func (m *MemoryContext) Delete(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	a := m.area
	a.mu.Lock()
	_, had := a.values[key]
	delete(a.values, key)
	var notify []func(Change)
	if had {
		notify = a.othersLocked(m)
	}
	a.mu.Unlock()

	for _, fn := range notify {
		fn(Change{Key: key})
	}
	return nil
}

func (m *MemoryContext) Watch(_ context.Context, fn func(Change)) (func(), error) {
	a := m.area
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.watchers[id] = memWatcher{owner: m, fn: fn}
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.watchers, id)
			a.mu.Unlock()
		})
	}, nil
}

// Close detaches every watcher this context registered.
func (m *MemoryContext) Close() error {
	a := m.area
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, w := range a.watchers {
		if w.owner == m {
			delete(a.watchers, id)
		}
	}
	return nil
}

func (a *Area) othersLocked(self *MemoryContext) []func(Change) {
	var fns []func(Change)
	for _, w := range a.watchers {
		if w.owner != self {
			fns = append(fns, w.fn)
		}
	}
	return fns
}
