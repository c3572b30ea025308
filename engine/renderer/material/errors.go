package material

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
)

// BindingUnboundError reports a layout binding the material instance has no value for.
type BindingUnboundError struct {
	Set     uint32
	Binding uint32
	Name    string
	Kind    reflection.ResourceKind
}

func (e *BindingUnboundError) Error() string {
	return fmt.Sprintf("material: %s %q at set %d binding %d is unbound", e.Kind, e.Name, e.Set, e.Binding)
}

// BindingTypeMismatchError reports a value that cannot fill its binding: the wrong kind
// of value, uniform data shorter than the reflected block, or the wrong number of
// handles for an array binding.
type BindingTypeMismatchError struct {
	Set     uint32
	Binding uint32
	Name    string
	Want    reflection.ResourceKind
	Got     ValueKind
	Reason  string
}

func (e *BindingTypeMismatchError) Error() string {
	return fmt.Sprintf("material: %s %q at set %d binding %d: %s value %s", e.Want, e.Name, e.Set, e.Binding, e.Got, e.Reason)
}
