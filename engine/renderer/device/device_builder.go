package device

import (
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// DeviceBuilderOption is a functional option used to configure a Device during construction.
type DeviceBuilderOption func(*device)

// WithWGPUDevice uses an existing wgpu device, e.g. the renderer's, instead of requesting
// one. The caller keeps ownership; Release leaves it alone.
//
// Parameters:
//   - d: the device
//
// Returns:
//   - DeviceBuilderOption: a function that sets the device
func WithWGPUDevice(d *wgpu.Device) DeviceBuilderOption {
	return func(dev *device) {
		dev.device = d
	}
}

// WithForceFallbackAdapter requests the software fallback adapter.
//
// Parameters:
//   - force: whether to force the fallback adapter
//
// Returns:
//   - DeviceBuilderOption: a function that sets the adapter preference
func WithForceFallbackAdapter(force bool) DeviceBuilderOption {
	return func(dev *device) {
		dev.forceFallbackAdapter = force
	}
}

// WithMaxBindGroups raises the bind group limit requested from the adapter.
//
// Parameters:
//   - n: the number of bind groups, 4 by default
//
// Returns:
//   - DeviceBuilderOption: a function that sets the limit
func WithMaxBindGroups(n uint32) DeviceBuilderOption {
	return func(dev *device) {
		dev.maxBindGroups = n
	}
}

// WithColorFormat sets the color target format of render pipelines.
//
// Parameters:
//   - format: the format, wgpu.TextureFormatBGRA8UnormSrgb by default
//
// Returns:
//   - DeviceBuilderOption: a function that sets the format
func WithColorFormat(format wgpu.TextureFormat) DeviceBuilderOption {
	return func(dev *device) {
		dev.colorFormat = format
	}
}

// WithDepthFormat sets the depth attachment format of render pipelines.
//
// Parameters:
//   - format: the format, wgpu.TextureFormatDepth24Plus by default
//
// Returns:
//   - DeviceBuilderOption: a function that sets the format
func WithDepthFormat(format wgpu.TextureFormat) DeviceBuilderOption {
	return func(dev *device) {
		dev.depthFormat = format
	}
}

// WithSampleCount sets the MSAA sample count of render pipelines.
//
// Parameters:
//   - count: 1 or 4
//
// Returns:
//   - DeviceBuilderOption: a function that sets the sample count
func WithSampleCount(count uint32) DeviceBuilderOption {
	return func(dev *device) {
		dev.sampleCount = count
	}
}

// WithLogger sets the logger used by the device.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - DeviceBuilderOption: a function that sets the logger
func WithLogger(logger *zap.Logger) DeviceBuilderOption {
	return func(dev *device) {
		dev.logger = logger
	}
}
