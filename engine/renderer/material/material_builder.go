package material

import (
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/cache"
	"github.com/google/uuid"
)

// InstanceBuilderOption is a function that configures a material instance during construction.
type InstanceBuilderOption func(*instance)

// WithName is an option builder that sets the name of the material.
//
// Parameters:
//   - name: the identifier for the material
//
// Returns:
//   - InstanceBuilderOption: a function that applies the name option to an instance
func WithName(name string) InstanceBuilderOption {
	return func(m *instance) {
		m.name = name
	}
}

// WithID is an option builder that replaces the generated id, e.g. when restoring a
// saved material.
//
// Parameters:
//   - id: the instance id
//
// Returns:
//   - InstanceBuilderOption: a function that applies the id option to an instance
func WithID(id uuid.UUID) InstanceBuilderOption {
	return func(m *instance) {
		m.id = id
	}
}

// WithEntry is an option builder that attaches the instance to a cache entry. The entry
// is retained until the instance is released or attached elsewhere, and its layout
// replaces the one passed to NewInstance. Place it before WithNamedValue, which resolves
// names against the layout.
//
// Parameters:
//   - e: the cache entry
//
// Returns:
//   - InstanceBuilderOption: a function that attaches the entry to an instance
func WithEntry(e *cache.Entry) InstanceBuilderOption {
	return func(m *instance) {
		if e == nil {
			return
		}
		if m.entry != nil {
			m.entry.Release()
		}
		m.entry = e.Retain()
		m.layout = e.Layout()
	}
}

// WithValue is an option builder that binds a value to a slot.
//
// Parameters:
//   - set: the descriptor set index
//   - binding: the binding index
//   - v: the value
//
// Returns:
//   - InstanceBuilderOption: a function that applies the value to an instance
func WithValue(set, binding uint32, v Value) InstanceBuilderOption {
	return func(m *instance) {
		m.values[Slot{set, binding}] = v
	}
}

// WithNamedValue is an option builder that binds a value to the layout binding with the
// given name. Names the layout does not declare are ignored.
//
// Parameters:
//   - name: the declared resource name
//   - v: the value
//
// Returns:
//   - InstanceBuilderOption: a function that applies the value to an instance
func WithNamedValue(name string, v Value) InstanceBuilderOption {
	return func(m *instance) {
		for _, b := range m.layout.Bindings() {
			if b.Name == name {
				m.values[Slot{b.Set, b.Binding}] = v
				return
			}
		}
	}
}

// WithParams is an option builder that binds marshaled material parameters as the
// uniform at a slot.
//
// Parameters:
//   - set: the descriptor set index
//   - binding: the binding index
//   - params: the parameters
//
// Returns:
//   - InstanceBuilderOption: a function that applies the uniform to an instance
func WithParams(set, binding uint32, params GPUMaterialParams) InstanceBuilderOption {
	return WithValue(set, binding, UniformValue(params.Marshal()))
}
