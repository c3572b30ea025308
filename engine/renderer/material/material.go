// Package material fills pipeline layouts with concrete values. An Instance holds the
// values of one drawable surface keyed by (set, binding); Bind checks them against a
// layout and produces the descriptor writes a device applies.
package material

import (
	"cmp"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/layout"
	"github.com/google/uuid"
)

// Slot is the (set, binding) address of a value.
type Slot struct {
	Set     uint32
	Binding uint32
}

func (s Slot) compare(o Slot) int {
	if c := cmp.Compare(s.Set, o.Set); c != 0 {
		return c
	}
	return cmp.Compare(s.Binding, o.Binding)
}

// instance is the implementation of the Instance interface.
type instance struct {
	id   uuid.UUID
	name string

	mu     sync.RWMutex
	layout *layout.PipelineLayout
	entry  *cache.Entry
	values map[Slot]Value
}

// Instance is one material: a shared, read-only layout reference and the values bound
// to its slots. Values may be set at any time. An instance attached to a cache entry
// keeps that entry retained, so the cache cannot evict it while the material is in use;
// after a hot reload the instance is attached to the new entry and re-bound.
type Instance interface {
	// ID retrieves the unique identifier of the instance.
	//
	// Returns:
	//   - uuid.UUID: the id
	ID() uuid.UUID

	// Name retrieves the material name.
	//
	// Returns:
	//   - string: the name
	Name() string

	// Layout retrieves the layout the instance was created for.
	//
	// Returns:
	//   - *layout.PipelineLayout: the layout, shared and read-only
	Layout() *layout.PipelineLayout

	// SetLayout replaces the layout reference and releases any attached entry. Values
	// are kept.
	//
	// Parameters:
	//   - l: the new layout
	SetLayout(l *layout.PipelineLayout)

	// Attach retains e, releases the previously attached entry and switches to e's
	// layout. Attaching the current entry again is a no-op. Values are kept.
	//
	// Parameters:
	//   - e: the cache entry the material renders with
	Attach(e *cache.Entry)

	// Entry retrieves the attached entry.
	//
	// Returns:
	//   - *cache.Entry: the entry, nil for an instance built from a bare layout or released
	Entry() *cache.Entry

	// Release drops the reference on the attached entry. The layout and values stay
	// readable. Safe to call multiple times.
	Release()

	// Value retrieves the value bound to a slot.
	//
	// Parameters:
	//   - set: the descriptor set index
	//   - binding: the binding index
	//
	// Returns:
	//   - Value: the value
	//   - bool: false if nothing is bound
	Value(set, binding uint32) (Value, bool)

	// SetValue binds a value to a slot, replacing any previous value.
	//
	// Parameters:
	//   - set: the descriptor set index
	//   - binding: the binding index
	//   - v: the value
	SetValue(set, binding uint32, v Value)

	// SetNamed binds a value to the layout binding with the given name.
	//
	// Parameters:
	//   - name: the declared resource name
	//   - v: the value
	//
	// Returns:
	//   - bool: false if the layout has no binding with that name
	SetNamed(name string, v Value) bool

	// Slots lists every bound slot in (set, binding) order.
	//
	// Returns:
	//   - []Slot: the slots
	Slots() []Slot
}

var _ Instance = &instance{}

// NewInstance creates a material instance for a layout.
//
// Parameters:
//   - l: the pipeline layout the values will fill
//   - options: variadic list of InstanceBuilderOption functions
//
// Returns:
//   - Instance: the new instance
func NewInstance(l *layout.PipelineLayout, options ...InstanceBuilderOption) Instance {
	if l == nil {
		panic("material: NewInstance requires a layout")
	}
	m := &instance{
		id:     uuid.New(),
		layout: l,
		values: make(map[Slot]Value),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *instance) ID() uuid.UUID {
	return m.id
}

func (m *instance) Name() string {
	return m.name
}

func (m *instance) Layout() *layout.PipelineLayout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.layout
}

func (m *instance) SetLayout(l *layout.PipelineLayout) {
	if l == nil {
		return
	}
	m.mu.Lock()
	old := m.entry
	m.layout = l
	m.entry = nil
	m.mu.Unlock()
	if old != nil {
		old.Release()
	}
}

func (m *instance) Attach(e *cache.Entry) {
	if e == nil {
		return
	}
	m.mu.Lock()
	old := m.entry
	if old == e {
		m.mu.Unlock()
		return
	}
	m.entry = e.Retain()
	m.layout = e.Layout()
	m.mu.Unlock()
	if old != nil {
		old.Release()
	}
}

func (m *instance) Entry() *cache.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entry
}

func (m *instance) Release() {
	m.mu.Lock()
	old := m.entry
	m.entry = nil
	m.mu.Unlock()
	if old != nil {
		old.Release()
	}
}

func (m *instance) Value(set, binding uint32) (Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[Slot{set, binding}]
	return v, ok
}

func (m *instance) SetValue(set, binding uint32, v Value) {
	m.mu.Lock()
	m.values[Slot{set, binding}] = v
	m.mu.Unlock()
}

func (m *instance) SetNamed(name string, v Value) bool {
	for _, b := range m.Layout().Bindings() {
		if b.Name == name {
			m.SetValue(b.Set, b.Binding, v)
			return true
		}
	}
	return false
}

func (m *instance) Slots() []Slot {
	m.mu.RLock()
	slots := make([]Slot, 0, len(m.values))
	for s := range m.values {
		slots = append(slots, s)
	}
	m.mu.RUnlock()
	slices.SortFunc(slots, Slot.compare)
	return slots
}
