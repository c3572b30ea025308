package layout

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
)

// Declaration is one side of a BindingConflictError.
type Declaration struct {
	Stages shader.StageMask
	Kind   reflection.ResourceKind
	Count  uint32
	Name   string
}

func (d Declaration) String() string {
	s := fmt.Sprintf("%s declares %s %q", d.Stages, d.Kind, d.Name)
	if d.Count != 1 {
		s += fmt.Sprintf(" [%d]", d.Count)
	}
	return s
}

// BindingConflictError reports two stages that disagree on the shape of one slot.
// It is never resolved automatically.
type BindingConflictError struct {
	Set     uint32
	Binding uint32
	// First is the declaration already merged, Second the one that disagreed with it.
	First  Declaration
	Second Declaration
}

func (e *BindingConflictError) Error() string {
	return fmt.Sprintf("layout: binding conflict at set %d binding %d: %s but %s", e.Set, e.Binding, e.First, e.Second)
}
