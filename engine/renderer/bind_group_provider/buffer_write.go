package bind_group_provider

// BufferWrite describes a single GPU buffer write targeting one binding of a
// BindGroupProvider at a given byte offset, e.g. a per-frame material uniform update.
type BufferWrite struct {
	Provider BindGroupProvider
	Binding  uint32
	Offset   uint64
	Data     []byte
}
