// Package spirvtest assembles small SPIR-V modules for tests. It emits only the
// instructions reflection reads, so modules are structurally valid but not meant for a
// driver.
package spirvtest

import (
	"encoding/binary"
	"math/bits"
)

// Execution models.
const (
	Vertex   uint32 = 0
	Geometry uint32 = 3
	Fragment uint32 = 4
	Compute  uint32 = 5
)

// Storage classes.
const (
	UniformConstant uint32 = 0
	Input           uint32 = 1
	Uniform         uint32 = 2
	Output          uint32 = 3
	PushConstant    uint32 = 9
	StorageBuffer   uint32 = 12
)

// Decorations.
const (
	Block         uint32 = 2
	ArrayStride   uint32 = 6
	MatrixStride  uint32 = 7
	BuiltIn       uint32 = 11
	NonWritable   uint32 = 24
	NonReadable   uint32 = 25
	Location      uint32 = 30
	Binding       uint32 = 33
	DescriptorSet uint32 = 34
	Offset        uint32 = 35
)

// Image dimensions.
const (
	Dim2D     uint32 = 1
	DimCube   uint32 = 3
	DimRect   uint32 = 4
	DimBuffer uint32 = 5
)

// BuiltInPosition is the Position built-in.
const BuiltInPosition uint32 = 0

// Module is a SPIR-V module under construction.
type Module struct {
	next        uint32
	entries     [][]uint32
	modes       [][]uint32
	debug       [][]uint32
	annotations [][]uint32
	globals     [][]uint32
	functions   [][]uint32

	typeCache map[string]uint32
	pointee   map[uint32]uint32
	void      uint32
	voidFn    uint32
}

// New returns an empty module.
func New() *Module {
	m := &Module{next: 1, typeCache: make(map[string]uint32), pointee: make(map[uint32]uint32)}
	m.void = m.newType("void", 19)
	m.voidFn = m.newType("fn void", 33, m.void)
	return m
}

func (m *Module) id() uint32 {
	id := m.next
	m.next++
	return id
}

func inst(op uint16, operands ...uint32) []uint32 {
	return append([]uint32{uint32(len(operands)+1)<<16 | uint32(op)}, operands...)
}

func literal(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// newType emits a type instruction once per distinct key.
func (m *Module) newType(key string, op uint16, operands ...uint32) uint32 {
	if id, ok := m.typeCache[key]; ok {
		return id
	}
	id := m.id()
	m.globals = append(m.globals, inst(op, append([]uint32{id}, operands...)...))
	m.typeCache[key] = id
	return id
}

func key(prefix string, ids ...uint32) string {
	b := []byte(prefix)
	for _, id := range ids {
		b = binary.LittleEndian.AppendUint32(b, id)
	}
	return string(b)
}

func (m *Module) Float(width uint32) uint32 { return m.newType(key("f", width), 22, width) }
func (m *Module) Int(width uint32, signed bool) uint32 {
	s := uint32(0)
	if signed {
		s = 1
	}
	return m.newType(key("i", width, s), 21, width, s)
}
func (m *Module) Vec(component, n uint32) uint32 { return m.newType(key("v", component, n), 23, component, n) }
func (m *Module) Mat(column, n uint32) uint32    { return m.newType(key("m", column, n), 24, column, n) }
func (m *Module) Sampler() uint32                { return m.newType("sampler", 26) }
func (m *Module) SampledImage(image uint32) uint32 {
	return m.newType(key("si", image), 27, image)
}

// Image declares an OpTypeImage. sampled is 1 for textures and 2 for storage images.
func (m *Module) Image(sampledType, dim uint32, depth, arrayed, ms bool, sampled, format uint32) uint32 {
	flag := func(b bool) uint32 {
		if b {
			return 1
		}
		return 0
	}
	ops := []uint32{sampledType, dim, flag(depth), flag(arrayed), flag(ms), sampled, format}
	return m.newType(key("img", ops...), 25, ops...)
}

// Array declares a fixed-size array; stride 0 leaves ArrayStride undecorated.
func (m *Module) Array(elem, length, stride uint32) uint32 {
	n := m.Constant(m.Int(32, false), length)
	id := m.newType(key("a", elem, n, stride), 28, elem, n)
	if stride > 0 {
		m.Decorate(id, ArrayStride, stride)
	}
	return id
}

func (m *Module) RuntimeArray(elem uint32) uint32 { return m.newType(key("ra", elem), 29, elem) }

// Struct declares a new struct type; structs are never deduplicated.
func (m *Module) Struct(name string, members ...uint32) uint32 {
	id := m.id()
	m.globals = append(m.globals, inst(30, append([]uint32{id}, members...)...))
	if name != "" {
		m.Name(id, name)
	}
	return id
}

func (m *Module) Pointer(storage, t uint32) uint32 {
	id := m.newType(key("p", storage, t), 32, storage, t)
	m.pointee[id] = t
	return id
}

func (m *Module) AccelerationStructure() uint32 { return m.newType("accel", 5341) }

// Constant declares a 32-bit constant of type t. Unlike types, OpConstant takes its
// result type before its result id.
func (m *Module) Constant(t, value uint32) uint32 {
	k := key("c", t, value)
	if id, ok := m.typeCache[k]; ok {
		return id
	}
	id := m.id()
	m.globals = append(m.globals, inst(43, t, id, value))
	m.typeCache[k] = id
	return id
}

func (m *Module) Name(id uint32, name string) {
	m.debug = append(m.debug, inst(5, append([]uint32{id}, literal(name)...)...))
}

func (m *Module) MemberName(id, member uint32, name string) {
	m.debug = append(m.debug, inst(6, append([]uint32{id, member}, literal(name)...)...))
}

func (m *Module) Decorate(id, decoration uint32, args ...uint32) {
	m.annotations = append(m.annotations, inst(71, append([]uint32{id, decoration}, args...)...))
}

func (m *Module) MemberDecorate(id, member, decoration uint32, args ...uint32) {
	m.annotations = append(m.annotations, inst(72, append([]uint32{id, member, decoration}, args...)...))
}

// Variable declares a named global variable of type t in a storage class.
func (m *Module) Variable(name string, storage, t uint32) uint32 {
	ptr := m.Pointer(storage, t)
	id := m.id()
	m.globals = append(m.globals, inst(59, ptr, id, storage))
	if name != "" {
		m.Name(id, name)
	}
	return id
}

// Resource declares a descriptor variable decorated with set and binding.
func (m *Module) Resource(name string, storage, t, set, binding uint32) uint32 {
	v := m.Variable(name, storage, t)
	m.Decorate(v, DescriptorSet, set)
	m.Decorate(v, Binding, binding)
	return v
}

// Interface declares an Input or Output variable at a location.
func (m *Module) Interface(name string, storage, t, location uint32) uint32 {
	v := m.Variable(name, storage, t)
	m.Decorate(v, Location, location)
	return v
}

// Func is a function body under construction.
type Func struct {
	m    *Module
	body [][]uint32
}

// Load reads a global variable.
func (f *Func) Load(variable uint32) uint32 {
	ptrType := f.m.ptrTypeOf(variable)
	id := f.m.id()
	f.body = append(f.body, inst(61, f.m.pointee[ptrType], id, variable))
	return id
}

// Store writes value to a global variable.
func (f *Func) Store(variable, value uint32) {
	f.body = append(f.body, inst(62, variable, value))
}

// Extract emits OpCompositeExtract with a literal index.
func (f *Func) Extract(resultType, composite, index uint32) uint32 {
	id := f.m.id()
	f.body = append(f.body, inst(81, resultType, id, composite, index))
	return id
}

// Call calls another function.
func (f *Func) Call(fn uint32) {
	f.body = append(f.body, inst(57, f.m.void, f.m.id(), fn))
}

func (m *Module) ptrTypeOf(variable uint32) uint32 {
	for _, g := range m.globals {
		if uint16(g[0]) == 59 && g[2] == variable {
			return g[1]
		}
	}
	return 0
}

// Function emits a void function and returns its id.
func (m *Module) Function(name string, body func(f *Func)) uint32 {
	id := m.id()
	f := &Func{m: m}
	if body != nil {
		body(f)
	}
	m.functions = append(m.functions, inst(54, m.void, id, 0, m.voidFn))
	m.functions = append(m.functions, inst(248, m.id()))
	m.functions = append(m.functions, f.body...)
	m.functions = append(m.functions, inst(253), inst(56))
	if name != "" {
		m.Name(id, name)
	}
	return id
}

// EntryPoint emits a function and declares it as an entry point.
func (m *Module) EntryPoint(model uint32, name string, iface []uint32, body func(f *Func)) uint32 {
	fn := m.Function(name, body)
	ops := append([]uint32{model, fn}, literal(name)...)
	m.entries = append(m.entries, inst(15, append(ops, iface...)...))
	if model == Fragment {
		// OriginUpperLeft
		m.modes = append(m.modes, inst(16, fn, 7))
	}
	return fn
}

// LocalSize sets the compute workgroup size of an entry point.
func (m *Module) LocalSize(fn, x, y, z uint32) {
	m.modes = append(m.modes, inst(16, fn, 17, x, y, z))
}

// Words returns the assembled module.
func (m *Module) Words() []uint32 {
	words := []uint32{0x07230203, 0x00010300, 0, m.next, 0}
	words = append(words, inst(17, 1)...)    // OpCapability Shader
	words = append(words, inst(14, 0, 1)...) // OpMemoryModel Logical GLSL450
	for _, section := range [][][]uint32{m.entries, m.modes, m.debug, m.annotations, m.globals, m.functions} {
		for _, in := range section {
			words = append(words, in...)
		}
	}
	return words
}

// Bytes returns the module as little-endian bytes.
func (m *Module) Bytes() []byte {
	words := m.Words()
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// BigEndianBytes returns the module with every word byte-swapped.
func (m *Module) BigEndianBytes() []byte {
	words := m.Words()
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], bits.ReverseBytes32(w))
	}
	return out
}
