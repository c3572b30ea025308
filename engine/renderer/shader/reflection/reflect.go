// Package reflection recovers resource usage from compiled SPIR-V: the descriptors an
// entry point actually references, its interface locations and its workgroup size.
// Visibility is decided from what the bytecode uses, never from where the source
// declared a resource.
package reflection

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/shader"
)

var executionModels = map[shader.StageKind]uint32{
	shader.StageVertex:                 modelVertex,
	shader.StageTessellationControl:    modelTessellationControl,
	shader.StageTessellationEvaluation: modelTessellationEvaluation,
	shader.StageGeometry:               modelGeometry,
	shader.StageFragment:               modelFragment,
	shader.StageCompute:                modelGLCompute,
}

// Reflect parses a SPIR-V module and returns what the entry point for kind uses.
//
// Descriptors the module declares but the entry point never reaches through its static
// call graph are returned in Unused rather than Bindings. Unsupported resource kinds
// only fail reflection when the entry point references them.
//
// Parameters:
//   - kind: the stage whose entry point is reflected
//   - code: the SPIR-V bytes
//   - options: variadic list of ReflectOption functions
//
// Returns:
//   - *StageReflection: the reflected stage
//   - error: a *ReflectionError
func Reflect(kind shader.StageKind, code []byte, options ...ReflectOption) (*StageReflection, error) {
	var opts reflectOptions
	for _, opt := range options {
		opt(&opts)
	}
	model, ok := executionModels[kind]
	if !ok {
		return nil, &ReflectionError{Kind: ReflectionMissingEntryPoint, Stage: kind, Detail: "invalid stage kind"}
	}

	words, err := decodeWords(code)
	if err != nil {
		return nil, malformed(kind, "%v", err)
	}
	m, err := parseModule(words)
	if err != nil {
		return nil, malformed(kind, "%v", err)
	}

	var ep *entryPoint
	for i := range m.entryPoints {
		if m.entryPoints[i].model == model {
			ep = &m.entryPoints[i]
			break
		}
	}
	if ep == nil {
		return nil, &ReflectionError{Kind: ReflectionMissingEntryPoint, Stage: kind, Detail: fmt.Sprintf("no %s entry point in module", kind)}
	}

	out := &StageReflection{Stage: kind, EntryPoint: ep.name}
	used := m.reachable(ep.function)

	for _, v := range m.variables {
		_, isUsed := used[v.id]
		switch v.storage {
		case storageUniformConstant, storageUniform, storageStorageBuffer:
			b, err := m.resolveBinding(kind, v, opts.names)
			if err != nil {
				if isUsed {
					return nil, err
				}
				continue
			}
			if isUsed {
				out.Bindings = append(out.Bindings, b)
			} else {
				out.Unused = append(out.Unused, b)
			}
		case storagePushConstant:
			if isUsed {
				if ty, ok := m.pointee(v.ptrType); ok {
					out.PushConstantSize = m.sizeOf(ty, 0)
				}
			}
		}
	}

	vars := make(map[uint32]variable, len(m.variables))
	for _, v := range m.variables {
		vars[v.id] = v
	}
	for _, id := range ep.iface {
		v, ok := vars[id]
		if !ok || (v.storage != storageInput && v.storage != storageOutput) {
			continue
		}
		attrs, err := m.interfaceAttributes(kind, v)
		if err != nil {
			return nil, err
		}
		if v.storage == storageInput {
			out.Inputs = append(out.Inputs, attrs...)
		} else {
			out.Outputs = append(out.Outputs, attrs...)
		}
	}

	sortBindings(out.Bindings)
	sortBindings(out.Unused)
	sortAttributes(out.Inputs)
	sortAttributes(out.Outputs)
	if kind == shader.StageVertex {
		out.VertexAttributes = slices.Clone(out.Inputs)
	}

	if kind == shader.StageCompute {
		if size, ok := m.localSize[ep.function]; ok {
			out.WorkgroupSize = size
		} else if ids, ok := m.localSizeIDs[ep.function]; ok {
			for i, id := range ids {
				out.WorkgroupSize[i] = uint32(m.constants[id])
			}
		}
	}
	return out, nil
}

func sortBindings(bs []Binding) {
	slices.SortFunc(bs, func(a, b Binding) int {
		if c := cmp.Compare(a.Set, b.Set); c != 0 {
			return c
		}
		return cmp.Compare(a.Binding, b.Binding)
	})
}

func sortAttributes(as []Attribute) {
	slices.SortStableFunc(as, func(a, b Attribute) int {
		return cmp.Compare(a.Location, b.Location)
	})
}

// resolveBinding classifies a descriptor variable.
func (m *module) resolveBinding(stage shader.StageKind, v variable, names map[Slot]string) (Binding, error) {
	ty, ok := m.pointee(v.ptrType)
	if !ok {
		return Binding{}, malformed(stage, "variable %d has no pointer type", v.id)
	}

	deco := m.decorations[v.id]
	set, _ := deco.value(decorationDescriptorSet)
	binding, hasBinding := deco.value(decorationBinding)
	name := m.nameOf(v.id)
	if name == "" && hasBinding {
		name = names[Slot{Set: set, Binding: binding}]
	}
	count := uint32(1)
	t := m.types[ty]
	for t.op == opTypeArray || t.op == opTypeRuntimeArray {
		if t.op == opTypeRuntimeArray {
			return Binding{}, unsupported(stage, "runtime-sized descriptor array %q", name)
		}
		n, ok := m.arrayLength(t)
		if !ok {
			return Binding{}, malformed(stage, "descriptor array %q has no constant length", name)
		}
		count *= n
		ty = t.args[0]
		t = m.types[ty]
	}
	if name == "" {
		name = m.nameOf(ty)
	}
	if !hasBinding {
		return Binding{}, malformed(stage, "descriptor %q has no Binding decoration", name)
	}

	b := Binding{Set: set, Binding: binding, Count: count, Name: name}
	switch t.op {
	case opTypeStruct:
		switch {
		case v.storage == storageStorageBuffer, m.decorations[ty].has(decorationBufferBlock):
			b.Kind = ResourceStorageBuffer
			b.Access = m.bufferAccess(v.id, ty)
		case v.storage == storageUniform:
			b.Kind = ResourceUniformBuffer
		default:
			return Binding{}, unsupported(stage, "block %q in storage class %d", name, v.storage)
		}
		b.Size = m.sizeOf(ty, 0)
	case opTypeImage:
		info, sampled, err := m.imageInfo(stage, name, t)
		if err != nil {
			return Binding{}, err
		}
		b.Image = info
		switch {
		case info.Dim == DimSubpassData:
			b.Kind = ResourceInputAttachment
		case sampled == 2 && info.Dim == DimBuffer:
			b.Kind = ResourceStorageTexelBuffer
		case sampled == 2:
			b.Kind = ResourceStorageImage
		case info.Dim == DimBuffer:
			b.Kind = ResourceUniformTexelBuffer
		default:
			b.Kind = ResourceSampledImage
		}
		if sampled == 2 {
			b.Access = m.imageAccess(v.id)
		}
	case opTypeSampler:
		b.Kind = ResourceSampler
	case opTypeSampledImage:
		if len(t.args) < 1 {
			return Binding{}, malformed(stage, "sampled image %q has no image type", name)
		}
		inner, ok := m.types[t.args[0]]
		if !ok || inner.op != opTypeImage {
			return Binding{}, malformed(stage, "sampled image %q does not wrap an image", name)
		}
		info, _, err := m.imageInfo(stage, name, inner)
		if err != nil {
			return Binding{}, err
		}
		b.Image = info
		b.Kind = ResourceCombinedImageSampler
		if info.Dim == DimBuffer {
			b.Kind = ResourceUniformTexelBuffer
		}
	case opTypeAccelerationStruct:
		return Binding{}, unsupported(stage, "acceleration structure %q", name)
	default:
		return Binding{}, unsupported(stage, "descriptor %q has opaque type opcode %d", name, t.op)
	}
	return b, nil
}

// imageInfo decodes an OpTypeImage. It also returns the Sampled operand: 1 for sampled
// images, 2 for storage images, 0 when decided at runtime.
func (m *module) imageInfo(stage shader.StageKind, name string, t spvType) (*ImageInfo, uint32, error) {
	if len(t.args) < 7 {
		return nil, 0, malformed(stage, "image type of %q is truncated", name)
	}
	dim := ImageDim(t.args[1])
	if dim == dimRect || dim > DimSubpassData {
		return nil, 0, unsupported(stage, "image %q has unsupported dimension %s", name, dim)
	}
	info := &ImageInfo{
		Dim:          dim,
		Depth:        t.args[2] == 1,
		Arrayed:      t.args[3] == 1,
		Multisampled: t.args[4] == 1,
		Format:       t.args[6],
	}
	if st, ok := m.types[t.args[0]]; ok && st.op == opTypeInt {
		info.SampleType = SampleUint
		if len(st.args) > 1 && st.args[1] == 1 {
			info.SampleType = SampleSint
		}
	}
	return info, t.args[5], nil
}

func (m *module) imageAccess(id uint32) StorageAccess {
	deco := m.decorations[id]
	switch {
	case deco.has(decorationNonWritable):
		return AccessReadOnly
	case deco.has(decorationNonReadable):
		return AccessWriteOnly
	}
	return AccessReadWrite
}

// bufferAccess is read-only when the variable or every member of its block is NonWritable.
func (m *module) bufferAccess(id, block uint32) StorageAccess {
	if access := m.imageAccess(id); access != AccessReadWrite {
		return access
	}
	members := m.types[block].args
	if len(members) == 0 {
		return AccessReadWrite
	}
	for i := range members {
		if !m.memberDecorations[block][uint32(i)].has(decorationNonWritable) {
			return AccessReadWrite
		}
	}
	return AccessReadOnly
}

// sizeOf returns the byte size of a type laid out with its explicit decorations.
// matrixStride applies to matrices reached through a struct member.
func (m *module) sizeOf(id uint32, matrixStride uint32) uint64 {
	t, ok := m.types[id]
	if !ok {
		return 0
	}
	switch t.op {
	case opTypeBool:
		return 4
	case opTypeInt, opTypeFloat:
		if len(t.args) < 1 {
			return 0
		}
		return uint64(t.args[0] / 8)
	case opTypeVector:
		if len(t.args) < 2 {
			return 0
		}
		return uint64(t.args[1]) * m.sizeOf(t.args[0], 0)
	case opTypeMatrix:
		if len(t.args) < 2 {
			return 0
		}
		if matrixStride > 0 {
			return uint64(t.args[1]) * uint64(matrixStride)
		}
		return uint64(t.args[1]) * m.sizeOf(t.args[0], 0)
	case opTypeArray:
		n, ok := m.arrayLength(t)
		if !ok {
			return 0
		}
		stride, _ := m.decorations[id].value(decorationArrayStride)
		if stride == 0 {
			return uint64(n) * m.sizeOf(t.args[0], matrixStride)
		}
		return uint64(n) * uint64(stride)
	case opTypeStruct:
		var end, next uint64
		for i, member := range t.args {
			md := m.memberDecorations[id][uint32(i)]
			offset := next
			if off, ok := md.value(decorationOffset); ok {
				offset = uint64(off)
			}
			ms, _ := md.value(decorationMatrixStride)
			next = offset + m.sizeOf(member, ms)
			end = max(end, next)
		}
		return end
	}
	return 0
}

// perVertexArrayed reports whether interface variables of this stage and direction are
// wrapped in an outer per-vertex array.
func perVertexArrayed(stage shader.StageKind, storage uint32) bool {
	switch stage {
	case shader.StageTessellationControl:
		return true
	case shader.StageTessellationEvaluation, shader.StageGeometry:
		return storage == storageInput
	}
	return false
}

// interfaceAttributes expands an Input or Output variable into one Attribute per
// location. Built-ins and variables without locations produce nothing.
func (m *module) interfaceAttributes(stage shader.StageKind, v variable) ([]Attribute, error) {
	deco := m.decorations[v.id]
	if deco.has(decorationBuiltIn) {
		return nil, nil
	}
	ty, ok := m.pointee(v.ptrType)
	if !ok {
		return nil, malformed(stage, "interface variable %d has no pointer type", v.id)
	}
	if t := m.types[ty]; perVertexArrayed(stage, v.storage) && t.op == opTypeArray && len(t.args) > 0 {
		ty = t.args[0]
	}

	name := m.nameOf(v.id)
	loc, hasLoc := deco.value(decorationLocation)

	if t := m.types[ty]; t.op == opTypeStruct {
		var attrs []Attribute
		next := loc
		anyLoc := hasLoc
		for i, member := range t.args {
			md := m.memberDecorations[ty][uint32(i)]
			if md.has(decorationBuiltIn) {
				continue
			}
			if l, ok := md.value(decorationLocation); ok {
				next = l
				anyLoc = true
			}
			if !anyLoc {
				continue
			}
			memberName := m.memberNames[ty][uint32(i)]
			expanded, used := m.expand(member, next, joinName(name, memberName))
			attrs = append(attrs, expanded...)
			next += used
		}
		return attrs, nil
	}

	if !hasLoc {
		return nil, nil
	}
	attrs, _ := m.expand(ty, loc, name)
	return attrs, nil
}

func joinName(parent, member string) string {
	switch {
	case parent == "":
		return member
	case member == "":
		return parent
	}
	return parent + "." + member
}

// expand lays a type out over consecutive locations starting at loc. Matrices take one
// location per column and arrays one per element.
//
// Returns:
//   - []Attribute: the attributes
//   - uint32: the number of locations consumed
func (m *module) expand(id, loc uint32, name string) ([]Attribute, uint32) {
	t := m.types[id]
	switch t.op {
	case opTypeMatrix, opTypeArray:
		var n uint32
		if t.op == opTypeMatrix {
			if len(t.args) < 2 {
				return nil, 1
			}
			n = t.args[1]
		} else {
			count, ok := m.arrayLength(t)
			if !ok {
				return nil, 1
			}
			n = count
		}
		var attrs []Attribute
		var used uint32
		for i := range n {
			sub, u := m.expand(t.args[0], loc+used, fmt.Sprintf("%s[%d]", name, i))
			attrs = append(attrs, sub...)
			used += u
		}
		return attrs, used
	}
	f := m.formatOf(id)
	return []Attribute{{Location: loc, Format: f, Size: f.Size(), Name: name}}, f.Locations()
}

// formatOf maps a scalar or vector type to a Format.
func (m *module) formatOf(id uint32) Format {
	t := m.types[id]
	components := uint32(1)
	if t.op == opTypeVector {
		if len(t.args) < 2 {
			return FormatUnknown
		}
		components = t.args[1]
		t = m.types[t.args[0]]
	}
	switch t.op {
	case opTypeFloat:
		if len(t.args) < 1 {
			return FormatUnknown
		}
		return formatFor(scalarFloat, t.args[0], components)
	case opTypeInt:
		if len(t.args) < 2 {
			return FormatUnknown
		}
		kind := scalarUint
		if t.args[1] == 1 {
			kind = scalarSint
		}
		return formatFor(kind, t.args[0], components)
	}
	return FormatUnknown
}
