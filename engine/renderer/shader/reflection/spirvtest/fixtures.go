package spirvtest

// PBRMaps are the texture maps of the PBR material, bound at set 1 bindings 1 to 5.
var PBRMaps = []string{"albedo_map", "normal_map", "metallic_roughness_map", "occlusion_map", "emissive_map"}

// PBRMaterialSize is the byte extent of the PBR Material block, its last member ending at 44.
const PBRMaterialSize = 44

// pbrShared declares what the UNIFORMS section of the PBR document declares: the
// Material block at set 1 binding 0 and five combined image samplers at bindings 1 to 5.
// It returns the variable ids, Material first.
func pbrShared(m *Module) []uint32 {
	f32 := m.Float(32)
	vec4 := m.Vec(f32, 4)
	vec3 := m.Vec(f32, 3)

	// base_color vec4 @0, emissive vec3 @16, metallic @28, roughness @32,
	// occlusion_strength @36, normal_scale @40
	material := m.Struct("Material", vec4, vec3, f32, f32, f32, f32)
	for i, off := range []uint32{0, 16, 28, 32, 36, 40} {
		m.MemberDecorate(material, uint32(i), Offset, off)
	}
	m.Decorate(material, Block)

	vars := []uint32{m.Resource("material", Uniform, material, 1, 0)}
	tex := m.SampledImage(m.Image(f32, Dim2D, false, false, false, 1, 0))
	for i, name := range PBRMaps {
		vars = append(vars, m.Resource(name, UniformConstant, tex, 1, uint32(i+1)))
	}
	return vars
}

// varyings declares the PBR inter-stage locations in a storage class: world_position
// vec3 @0, normal vec3 @1, uv vec2 @2, tbn mat3 @3-5 and normal_matrix mat3 @6-8.
func varyings(m *Module, storage uint32) []uint32 {
	f32 := m.Float(32)
	vec3 := m.Vec(f32, 3)
	vec2 := m.Vec(f32, 2)
	mat3 := m.Mat(vec3, 3)
	return []uint32{
		m.Interface("v_world_position", storage, vec3, 0),
		m.Interface("v_normal", storage, vec3, 1),
		m.Interface("v_uv", storage, vec2, 2),
		m.Interface("v_tbn", storage, mat3, 3),
		m.Interface("v_normal_matrix", storage, mat3, 6),
	}
}

// PBRVertex is the vertex stage of the PBR document: position, normal and uv at
// locations 0 to 2 and a mat3 normal matrix at 3, so six vertex attributes. It
// declares the shared resources but references none of them.
func PBRVertex() []byte {
	m := New()
	pbrShared(m)
	f32 := m.Float(32)
	vec3 := m.Vec(f32, 3)
	vec2 := m.Vec(f32, 2)
	vec4 := m.Vec(f32, 4)

	inputs := []uint32{
		m.Interface("position", Input, vec3, 0),
		m.Interface("normal", Input, vec3, 1),
		m.Interface("uv", Input, vec2, 2),
		m.Interface("normal_matrix", Input, m.Mat(vec3, 3), 3),
	}
	outputs := varyings(m, Output)
	glPosition := m.Variable("gl_Position", Output, vec4)
	m.Decorate(glPosition, BuiltIn, BuiltInPosition)

	iface := append(append(append([]uint32{}, inputs...), outputs...), glPosition)
	m.EntryPoint(Vertex, "main", iface, func(f *Func) {
		for i, in := range inputs {
			v := f.Load(in)
			if i < 3 {
				f.Store(outputs[i], v)
			}
		}
	})
	return m.Bytes()
}

// PBRFragment is the fragment stage of the PBR document. It reads every varying and
// references the Material block and all five maps.
func PBRFragment() []byte {
	m := New()
	shared := pbrShared(m)
	vec4 := m.Vec(m.Float(32), 4)

	inputs := varyings(m, Input)
	color := m.Interface("out_color", Output, vec4, 0)

	iface := append(append([]uint32{}, inputs...), color)
	m.EntryPoint(Fragment, "main", iface, func(f *Func) {
		for _, in := range inputs {
			f.Load(in)
		}
		for _, v := range shared {
			f.Load(v)
		}
	})
	return m.Bytes()
}

// ConflictVertex references a uniform buffer at set 1 binding 3.
func ConflictVertex() []byte {
	m := New()
	f32 := m.Float(32)
	block := m.Struct("Skinning", m.Mat(m.Vec(f32, 4), 4))
	m.MemberDecorate(block, 0, Offset, 0)
	m.MemberDecorate(block, 0, MatrixStride, 16)
	m.Decorate(block, Block)
	skin := m.Resource("skinning", Uniform, block, 1, 3)
	pos := m.Interface("position", Input, m.Vec(f32, 3), 0)
	m.EntryPoint(Vertex, "main", []uint32{pos}, func(f *Func) {
		f.Load(pos)
		f.Load(skin)
	})
	return m.Bytes()
}

// ConflictFragment references a sampled image at set 1 binding 3.
func ConflictFragment() []byte {
	m := New()
	f32 := m.Float(32)
	img := m.Resource("detail_map", UniformConstant, m.Image(f32, Dim2D, false, false, false, 1, 0), 1, 3)
	color := m.Interface("out_color", Output, m.Vec(f32, 4), 0)
	m.EntryPoint(Fragment, "main", []uint32{color}, func(f *Func) {
		f.Load(img)
	})
	return m.Bytes()
}

// ComputeStage is a compute entry point with workgroup size (8, 8, 1) reading a
// read-only storage buffer at (0, 0) and writing a storage image at (0, 1).
func ComputeStage() []byte {
	m := New()
	f32 := m.Float(32)
	vec4 := m.Vec(f32, 4)
	particles := m.Struct("Particles", m.Vec(f32, 4), m.RuntimeArray(vec4))
	m.MemberDecorate(particles, 0, Offset, 0)
	m.MemberDecorate(particles, 1, Offset, 16)
	m.MemberDecorate(particles, 0, NonWritable)
	m.MemberDecorate(particles, 1, NonWritable)
	m.Decorate(particles, Block)
	buf := m.Resource("particles", StorageBuffer, particles, 0, 0)
	// Rgba8 storage image
	out := m.Resource("output", UniformConstant, m.Image(f32, Dim2D, false, false, false, 2, 4), 0, 1)
	m.Decorate(out, NonReadable)
	fn := m.EntryPoint(Compute, "main", nil, func(f *Func) {
		f.Load(buf)
		f.Load(out)
	})
	m.LocalSize(fn, 8, 8, 1)
	return m.Bytes()
}
