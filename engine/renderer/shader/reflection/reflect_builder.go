package reflection

// Slot addresses a descriptor by set and binding.
type Slot struct {
	Set     uint32
	Binding uint32
}

type reflectOptions struct {
	names map[Slot]string
}

// ReflectOption configures a Reflect call.
type ReflectOption func(*reflectOptions)

// WithResourceNames supplies declared names for descriptors the bytecode leaves
// unnamed. Some compilers strip debug names from resource variables and wrap uniform
// blocks in anonymous structs; their source-level names can be passed here instead.
// A name carried in the bytecode always wins.
//
// Parameters:
//   - names: declared names keyed by set and binding
//
// Returns:
//   - ReflectOption: a function that sets the fallback names
func WithResourceNames(names map[Slot]string) ReflectOption {
	return func(o *reflectOptions) {
		o.names = names
	}
}
