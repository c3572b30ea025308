package device

import "fmt"

// UnsupportedError reports a layout feature WebGPU cannot express, such as a combined
// image sampler or a float64 vertex attribute. Documents that need them still compile and
// reflect; only the device conversion fails.
type UnsupportedError struct {
	// What names the offending binding or attribute.
	What   string
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("device: %s is not supported by WebGPU: %s", e.What, e.Reason)
}

func bindingWhat(name string, set, binding uint32) string {
	return fmt.Sprintf("binding %q (set %d, binding %d)", name, set, binding)
}
