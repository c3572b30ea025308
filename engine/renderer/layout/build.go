package layout

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader/reflection"
)

type slot struct {
	set, binding uint32
}

// Build merges the reflections of every stage of one document.
//
// Stages are merged in pipeline order. A slot referenced by several stages must agree
// on kind and count; its visibility is the union of those stages. Vertex attributes come
// from the vertex stage only, and a vertex stage without attributes is accepted.
// Resources declared but referenced by no stage are dropped and reported as warnings.
//
// Parameters:
//   - reflections: one reflection per stage, in any order
//
// Returns:
//   - *PipelineLayout: the merged layout
//   - error: a *BindingConflictError, or an error if two reflections share a stage
func Build(reflections []*reflection.StageReflection) (*PipelineLayout, error) {
	stages := make([]*reflection.StageReflection, 0, len(reflections))
	for _, r := range reflections {
		if r != nil {
			stages = append(stages, r)
		}
	}
	slices.SortStableFunc(stages, func(a, b *reflection.StageReflection) int {
		return cmp.Compare(a.Stage, b.Stage)
	})

	out := &PipelineLayout{}
	merged := make(map[slot]*ResourceBinding)
	byStage := make(map[shader.StageKind]*reflection.StageReflection, len(stages))

	for _, r := range stages {
		if _, dup := byStage[r.Stage]; dup {
			return nil, fmt.Errorf("layout: %s stage reflected twice", r.Stage)
		}
		byStage[r.Stage] = r
		out.Stages = out.Stages.With(r.Stage)

		for _, b := range r.Bindings {
			key := slot{b.Set, b.Binding}
			existing, ok := merged[key]
			if !ok {
				merged[key] = fromReflection(b, r.Stage)
				continue
			}
			if existing.Kind != b.Kind || existing.Count != b.Count {
				return nil, &BindingConflictError{
					Set:     b.Set,
					Binding: b.Binding,
					First:   Declaration{Stages: existing.Visibility, Kind: existing.Kind, Count: existing.Count, Name: existing.Name},
					Second:  Declaration{Stages: r.Stage.Mask(), Kind: b.Kind, Count: b.Count, Name: b.Name},
				}
			}
			existing.Visibility = existing.Visibility.With(r.Stage)
			existing.Size = max(existing.Size, b.Size)
			if existing.Access != b.Access {
				existing.Access = reflection.AccessReadWrite
			}
		}
		out.PushConstantSize = max(out.PushConstantSize, r.PushConstantSize)
	}

	out.Warnings = append(out.Warnings, unusedWarnings(stages, merged)...)

	keys := make([]slot, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b slot) int {
		if c := cmp.Compare(a.set, b.set); c != 0 {
			return c
		}
		return cmp.Compare(a.binding, b.binding)
	})
	for _, k := range keys {
		if n := len(out.Sets); n == 0 || out.Sets[n-1].Index != k.set {
			out.Sets = append(out.Sets, DescriptorSet{Index: k.set})
		}
		ds := &out.Sets[len(out.Sets)-1]
		ds.Bindings = append(ds.Bindings, *merged[k])
	}

	if vs, ok := byStage[shader.StageVertex]; ok {
		out.VertexAttributes = slices.Clone(vs.VertexAttributes)
	}
	if cs, ok := byStage[shader.StageCompute]; ok {
		out.WorkgroupSize = cs.WorkgroupSize
	}
	if fs, ok := byStage[shader.StageFragment]; ok {
		out.Warnings = append(out.Warnings, locationWarnings(fs, previousStage(byStage))...)
	}
	return out, nil
}

func fromReflection(b reflection.Binding, stage shader.StageKind) *ResourceBinding {
	rb := &ResourceBinding{
		Set:        b.Set,
		Binding:    b.Binding,
		Kind:       b.Kind,
		Count:      b.Count,
		Name:       b.Name,
		Visibility: stage.Mask(),
		Size:       b.Size,
		Access:     b.Access,
	}
	if b.Image != nil {
		img := *b.Image
		rb.Image = &img
	}
	return rb
}

// unusedWarnings reports each slot some stage declares but no stage references, once.
func unusedWarnings(stages []*reflection.StageReflection, merged map[slot]*ResourceBinding) []Warning {
	var warnings []Warning
	seen := make(map[slot]bool)
	for _, r := range stages {
		for _, b := range r.Unused {
			key := slot{b.Set, b.Binding}
			if _, used := merged[key]; used || seen[key] {
				continue
			}
			seen[key] = true
			warnings = append(warnings, Warning{
				Kind:    WarningUnusedResource,
				Message: fmt.Sprintf("%s %q at set %d binding %d is declared but never referenced", b.Kind, b.Name, b.Set, b.Binding),
			})
		}
	}
	return warnings
}

// previousStage returns the last stage before rasterization, or nil.
func previousStage(byStage map[shader.StageKind]*reflection.StageReflection) *reflection.StageReflection {
	for _, k := range []shader.StageKind{shader.StageGeometry, shader.StageTessellationEvaluation, shader.StageVertex} {
		if r, ok := byStage[k]; ok {
			return r
		}
	}
	return nil
}

// locationWarnings reports fragment inputs the previous stage does not write.
func locationWarnings(fs, prev *reflection.StageReflection) []Warning {
	if prev == nil {
		return nil
	}
	written := make(map[uint32]bool, len(prev.Outputs))
	for _, o := range prev.Outputs {
		written[o.Location] = true
	}
	var warnings []Warning
	for _, in := range fs.Inputs {
		if !written[in.Location] {
			warnings = append(warnings, Warning{
				Kind:    WarningUnmatchedLocation,
				Message: fmt.Sprintf("fragment input %q at location %d is not written by the %s stage", in.Name, in.Location, prev.Stage),
			})
		}
	}
	return warnings
}
